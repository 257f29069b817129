// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// ClientID is minted locally when a file is selected for upload.
type ClientID string

// DocumentID is the identifier the backend uses in push frames.
type DocumentID string

// NoneSelection is the picker value meaning "no document context".
const NoneSelection = "none"

func NewClientID() ClientID {
	return ClientID(uuid.New().String())
}

// ParseClientID reports whether s is a well-formed client id.
func ParseClientID(s string) (ClientID, bool) {
	if _, err := uuid.Parse(s); err != nil {
		return "", false
	}
	return ClientID(s), true
}
