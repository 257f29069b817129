package query

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/backend"
)

// Placeholder replies shown in place of an answer.
const (
	NoResponseText = "No response received."
	ErrorText      = "Error processing request."
)

// Asker is the part of Router the transcript needs.
type Asker interface {
	Ready() error
	Ask(ctx context.Context, selection, utterance string) (string, error)
}

// Transcript is the append-only chat history of this process. Sends are
// serialized so every user message is directly followed by its reply.
type Transcript struct {
	asker Asker
	now   func() time.Time

	sendMu   sync.Mutex
	mu       sync.RWMutex
	messages []types.ChatMessage
}

// NewTranscript creates an empty transcript.
func NewTranscript(asker Asker) *Transcript {
	return &Transcript{asker: asker, now: time.Now}
}

// Send appends text as a user message, asks the backend and appends exactly
// one AI message: the answer or a placeholder. Blank text and a missing
// credential are refused with an error and leave the transcript untouched.
func (t *Transcript) Send(ctx context.Context, selection, text string) (types.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return types.ChatMessage{}, ErrEmptyQuery
	}
	if err := t.asker.Ready(); err != nil {
		return types.ChatMessage{}, err
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.append(types.ChatMessage{Content: text, Sender: types.SenderUser, Timestamp: t.now()})

	answer, err := t.asker.Ask(ctx, selection, text)
	switch {
	case err == nil:
	case errors.Is(err, backend.ErrNoResponse):
		slog.Warn("query returned no answer", "selection", selection)
		answer = NoResponseText
	default:
		slog.Error("query failed", "selection", selection, "kind", backend.Classify(err), "error", err)
		answer = ErrorText
	}

	reply := types.ChatMessage{Content: answer, Sender: types.SenderAI, Timestamp: t.now()}
	t.append(reply)
	return reply, nil
}

func (t *Transcript) append(m types.ChatMessage) {
	t.mu.Lock()
	t.messages = append(t.messages, m)
	t.mu.Unlock()
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []types.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.messages)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
