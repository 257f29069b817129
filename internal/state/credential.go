// internal/state/credential.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/docchat/internal/session"
)

// CredentialStore keeps the wallet credential between CLI runs.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewCredentialStore creates a file-backed CredentialStore at the given path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Path returns the file path used by this store.
func (s *CredentialStore) Path() string {
	return s.path
}

// Load returns the stored credential. A missing file yields the zero value.
func (s *CredentialStore) Load() (session.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Credential{}, nil
		}
		return session.Credential{}, fmt.Errorf("read credential file: %w", err)
	}

	var cred session.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return session.Credential{}, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, nil
}

// Save writes the credential using an atomic write (temp file + rename).
// The file is only readable by the owner.
func (s *CredentialStore) Save(cred session.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp credential file: %w", err)
	}
	return nil
}

// Delete removes the stored credential. Deleting a missing file is not an error.
func (s *CredentialStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
