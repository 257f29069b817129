// Package docstore holds the last-known processing status of every document
// the status channel has heard about.
package docstore

import (
	"sort"
	"sync"

	"github.com/user/docchat/internal/types"
)

var _ types.StatusReader = (*Store)(nil)
var _ types.StatusWriter = (*Store)(nil)

// Store is an in-memory, last-write-wins map from document id to status.
// Every mutation bumps the version and signals all subscribers.
type Store struct {
	mu      sync.RWMutex
	docs    map[types.DocumentID]types.StatusUpdate
	version uint64

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs: make(map[types.DocumentID]types.StatusUpdate),
		subs: make(map[int]chan struct{}),
	}
}

// Upsert replaces whatever is stored under update.DocumentID.
func (s *Store) Upsert(update types.StatusUpdate) {
	s.mu.Lock()
	s.docs[update.DocumentID] = update
	s.version++
	s.mu.Unlock()
	s.broadcast()
}

// Reset drops every entry. Called when the status channel (re)connects.
func (s *Store) Reset() {
	s.mu.Lock()
	s.docs = make(map[types.DocumentID]types.StatusUpdate)
	s.version++
	s.mu.Unlock()
	s.broadcast()
}

// Get returns the entry for id.
func (s *Store) Get(id types.DocumentID) (types.StatusUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.docs[id]
	return u, ok
}

// Snapshot returns a copy of all entries and the version it was taken at.
func (s *Store) Snapshot() (map[types.DocumentID]types.StatusUpdate, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.DocumentID]types.StatusUpdate, len(s.docs))
	for k, v := range s.docs {
		out[k] = v
	}
	return out, s.version
}

// Len returns the number of tracked documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Completed returns the completed entries sorted by document id.
func (s *Store) Completed() []types.StatusUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.StatusUpdate
	for _, u := range s.docs {
		if u.Status == types.StatusCompleted {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce: a slow reader sees at least one signal per burst and
// should call Snapshot to read the current state. The returned func
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) broadcast() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
