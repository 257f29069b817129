// internal/types/models.go
package types

import (
	"io"
	"time"
)

// DocumentStatus is the processing state of one uploaded document.
type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Valid reports whether s is one of the four known states.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders states along the lifecycle. Both terminal states share a rank.
func (s DocumentStatus) Rank() int {
	switch s {
	case StatusUploading:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return 0
}

// CanTransition reports whether a record at s may move to next.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	if !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.Rank() >= s.Rank()
}

// File is the local payload of a record. It never leaves the submitter.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// DocumentRecord is one uploaded document as the UI sees it.
type DocumentRecord struct {
	ClientID   ClientID       `json:"client_id"`
	DocumentID DocumentID     `json:"document_id,omitempty"`
	Name       string         `json:"name"`
	Size       int64          `json:"size"`
	Status     DocumentStatus `json:"status"`
	Summary    string         `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	File       *File          `json:"-"`
}

// Key is the identifier push frames are matched against: the server id once
// it is known, the client id until then.
func (r DocumentRecord) Key() DocumentID {
	if r.DocumentID != "" {
		return r.DocumentID
	}
	return DocumentID(r.ClientID)
}

// StatusUpdate is the body of a status_update push frame.
type StatusUpdate struct {
	DocumentID DocumentID     `json:"documentId"`
	Status     DocumentStatus `json:"status"`
	Summary    string         `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Sender identifies the author of a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// ChatMessage is one entry of the chat transcript. Never mutated after creation.
type ChatMessage struct {
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}
