// Package query routes chat questions to the backend and keeps the
// transcript.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/docchat/internal/metrics"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/backend"
)

var (
	// ErrEmptyQuery is returned for blank input. No request is made.
	ErrEmptyQuery = errors.New("empty query")
	// ErrQueryTooLong is returned when the input exceeds the token budget.
	ErrQueryTooLong = errors.New("query exceeds token budget")
)

// Answerer asks the backend one question.
type Answerer interface {
	GenerateAnswer(ctx context.Context, token, query, documentID string) (string, error)
}

// TokenSource yields the bearer token or backend.ErrUnauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// Options tunes a Router.
type Options struct {
	// MaxTokens rejects longer questions when > 0. Requires Counter.
	MaxTokens int
	Counter   TokenCounter
}

// Router sends questions to /generate-answer/ with the selected document.
type Router struct {
	api    Answerer
	tokens TokenSource
	opts   Options
}

// NewRouter creates a Router.
func NewRouter(api Answerer, tokens TokenSource, opts Options) *Router {
	return &Router{api: api, tokens: tokens, opts: opts}
}

// DocumentID maps a picker selection to the id sent to the backend. The
// none sentinel and an empty selection mean no document context.
func DocumentID(selection string) string {
	if selection == types.NoneSelection {
		return ""
	}
	return selection
}

// Ready reports whether a question could be sent now.
func (r *Router) Ready() error {
	_, err := r.tokens.Token()
	return err
}

// Ask sends utterance scoped to selection and returns the trimmed answer.
func (r *Router) Ask(ctx context.Context, selection, utterance string) (string, error) {
	if strings.TrimSpace(utterance) == "" {
		return "", ErrEmptyQuery
	}
	token, err := r.tokens.Token()
	if err != nil {
		metrics.Queries.WithLabelValues("unauthenticated").Inc()
		return "", err
	}
	if r.opts.MaxTokens > 0 && r.opts.Counter != nil {
		if n := r.opts.Counter.Count(utterance); n > r.opts.MaxTokens {
			metrics.Queries.WithLabelValues("too_long").Inc()
			return "", fmt.Errorf("%w: %d tokens, limit %d", ErrQueryTooLong, n, r.opts.MaxTokens)
		}
	}

	docID := DocumentID(selection)
	start := time.Now()
	answer, err := r.api.GenerateAnswer(ctx, token, utterance, docID)
	if err != nil {
		metrics.ObserveQuery("failed", start)
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		metrics.ObserveQuery("no_response", start)
		return "", backend.ErrNoResponse
	}
	metrics.ObserveQuery("answered", start)
	slog.Debug("query answered", "document_id", docID, "elapsed", time.Since(start))
	return answer, nil
}

// Choice is one entry of the document picker.
type Choice struct {
	Value string
	Label string
}

const defaultDocumentLabel = "Processed Document"

// Choices lists the picker entries: none first, then every completed
// document in id order, labelled by its summary.
func Choices(completed []types.StatusUpdate) []Choice {
	out := []Choice{{Value: types.NoneSelection, Label: "None"}}
	for _, u := range completed {
		if u.Status != types.StatusCompleted {
			continue
		}
		label := strings.TrimSpace(u.Summary)
		if label == "" {
			label = defaultDocumentLabel
		}
		out = append(out, Choice{Value: string(u.DocumentID), Label: label})
	}
	return out
}
