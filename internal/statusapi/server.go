// internal/statusapi/server.go
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/docchat/internal/metrics"
	"github.com/user/docchat/internal/query"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/backend"
)

// DocumentView is the reconciled document list.
type DocumentView interface {
	View() []types.DocumentRecord
	Find(id string) (types.DocumentRecord, bool)
}

// AskHandler answers a question scoped to a selection.
type AskHandler func(ctx context.Context, selection, q string) (types.ChatMessage, error)

// Server is a small local HTTP API over the tracker state.
type Server struct {
	docs DocumentView
	ask  AskHandler
	mux  *http.ServeMux
}

// NewServer creates a Server. ask may be nil to disable POST /ask.
func NewServer(docs DocumentView, ask AskHandler) *Server {
	s := &Server{
		docs: docs,
		ask:  ask,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /documents", s.handleDocuments)
	s.mux.HandleFunc("GET /documents/{key}", s.handleDocument)
	s.mux.HandleFunc("POST /ask", s.handleAsk)
	s.mux.Handle("GET /metrics", metrics.Handler())
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.docs.View()
	if docs == nil {
		docs = []types.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.docs.Find(r.PathValue("key"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// askRequest is the JSON body for POST /ask.
type askRequest struct {
	Query      string `json:"query"`
	DocumentID string `json:"documentId"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.ask == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "chat not configured"})
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	selection := req.DocumentID
	if selection == "" {
		selection = types.NoneSelection
	}

	reply, err := s.ask(r.Context(), selection, req.Query)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"answer": reply.Content})
	case errors.Is(err, query.ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
	case errors.Is(err, backend.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not logged in"})
	default:
		slog.Error("status api ask failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
