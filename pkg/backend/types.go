package backend

import (
	"io"
)

// AuthResponse is returned by POST /auth/verify.
type AuthResponse struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// FilePart is one file of a multipart upload.
type FilePart struct {
	// ID is sent alongside the file so the backend can echo it in push frames.
	ID     string
	Name   string
	Reader io.Reader
}

// Confirmation ties an uploaded file to the id the backend assigned it.
type Confirmation struct {
	DocumentID string `json:"documentId"`
	ClientID   string `json:"clientId,omitempty"`
	Status     string `json:"status,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Acceptance is the parsed body of a successful upload. Confirmations may be
// empty: the backend only has to acknowledge with a 2xx.
type Acceptance struct {
	StatusCode    int
	Confirmations []Confirmation
}

// ModelUploadResponse is returned by POST /models/upload.
type ModelUploadResponse struct {
	Success  bool   `json:"success"`
	IPFSHash string `json:"ipfs_hash,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ModelDownloadResponse is returned by POST /models/download.
type ModelDownloadResponse struct {
	Message  string `json:"message"`
	FilePath string `json:"file_path"`
}
