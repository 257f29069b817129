package statuschannel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/user/docchat/internal/metrics"
	"github.com/user/docchat/internal/types"
)

// Inbound frame types.
const (
	MsgTypeStatusUpdate = "status_update"
)

// authFrame is the only frame the client ever sends.
type authFrame struct {
	Token string `json:"token"`
}

// Frame is an inbound push message. Only status_update frames carry the
// document fields.
type Frame struct {
	Type       string               `json:"type"`
	DocumentID types.DocumentID     `json:"documentId"`
	Status     types.DocumentStatus `json:"status"`
	Summary    string               `json:"summary,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Update converts a status_update frame into a store entry.
func (f Frame) Update() types.StatusUpdate {
	return types.StatusUpdate{
		DocumentID: f.DocumentID,
		Status:     f.Status,
		Summary:    f.Summary,
		Error:      f.Error,
	}
}

// HandshakeError is returned when the server answers the upgrade request
// with a plain HTTP status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected (status %d): %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// decodeFrame parses data and reports whether it is a usable status update.
// The second return value is a metrics label.
func decodeFrame(data []byte) (Frame, string, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, metrics.FrameInvalid, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type != MsgTypeStatusUpdate {
		return f, metrics.FrameIgnored, nil
	}
	if f.DocumentID == "" {
		return f, metrics.FrameInvalid, errors.New("status_update without documentId")
	}
	if !f.Status.Valid() {
		return f, metrics.FrameInvalid, fmt.Errorf("status_update with unknown status %q", f.Status)
	}
	return f, metrics.FrameApplied, nil
}
