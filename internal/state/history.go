// internal/state/history.go
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/docchat/internal/types"
)

// HistoryStore is a JSONL-backed append-only log of local document records.
// Every submitter change is appended; Latest folds the log back into one
// record per client id so later runs can label push updates with file names.
type HistoryStore struct {
	path string
	mu   sync.Mutex
}

// NewHistoryStore creates a HistoryStore writing to the given file.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

// Append adds records to the end of the log.
func (h *HistoryStore) Append(records ...types.DocumentRecord) error {
	if len(records) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Latest returns the most recent entry for each client id, in the order the
// ids first appeared, keeping at most limit records (newest) when limit > 0.
func (h *HistoryStore) Latest(limit int) ([]types.DocumentRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var order []types.ClientID
	latest := make(map[types.ClientID]types.DocumentRecord)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec types.DocumentRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// skip torn lines
			continue
		}
		if rec.ClientID == "" {
			continue
		}
		if _, seen := latest[rec.ClientID]; !seen {
			order = append(order, rec.ClientID)
		}
		latest[rec.ClientID] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history file: %w", err)
	}

	if limit > 0 && len(order) > limit {
		order = order[len(order)-limit:]
	}
	out := make([]types.DocumentRecord, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}
