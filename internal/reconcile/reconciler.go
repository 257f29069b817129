package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/user/docchat/internal/metrics"
	"github.com/user/docchat/internal/types"
)

// RecordSource is the local side of the merge, normally the upload submitter.
type RecordSource interface {
	Records() []types.DocumentRecord
	Subscribe() (<-chan struct{}, func())
}

// Transition is emitted the first time a record reaches a terminal status.
type Transition struct {
	Key      types.DocumentID     `json:"key"`
	ClientID types.ClientID       `json:"clientId,omitempty"`
	Name     string               `json:"name,omitempty"`
	From     types.DocumentStatus `json:"from,omitempty"`
	To       types.DocumentStatus `json:"to"`
	Summary  string               `json:"summary,omitempty"`
	Error    string               `json:"error,omitempty"`
	// Record is the merged record as it reached To.
	Record types.DocumentRecord `json:"-"`
}

// Options tunes a Reconciler.
type Options struct {
	// IncludeRemote appends store entries that match no local record to the
	// view, so documents uploaded elsewhere are visible too.
	IncludeRemote bool
}

// Reconciler recomputes the merged view whenever the store or the record
// source changes. Terminal outcomes are pinned, so a later reset or stale
// frame cannot move a record out of completed or failed.
type Reconciler struct {
	store  types.StatusReader
	source RecordSource
	opts   Options

	mu       sync.Mutex
	pinned   map[string]types.DocumentRecord
	view     []types.DocumentRecord
	handlers []func(Transition)

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// New creates a Reconciler. Call Refresh or Run to populate the view.
func New(store types.StatusReader, source RecordSource, opts Options) *Reconciler {
	return &Reconciler{
		store:  store,
		source: source,
		opts:   opts,
		pinned: make(map[string]types.DocumentRecord),
		subs:   make(map[int]chan struct{}),
	}
}

// OnTransition registers fn to be called for every terminal transition.
// Handlers run synchronously on the goroutine calling Refresh.
func (r *Reconciler) OnTransition(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

func pinKey(rec types.DocumentRecord) string {
	if rec.ClientID != "" {
		return "c:" + string(rec.ClientID)
	}
	return "d:" + string(rec.DocumentID)
}

// Refresh recomputes the view from the current store snapshot and records.
func (r *Reconciler) Refresh() []types.DocumentRecord {
	snapshot, _ := r.store.Snapshot()
	var records []types.DocumentRecord
	if r.source != nil {
		records = r.source.Records()
	}

	merged := Merge(records, snapshot)
	if r.opts.IncludeRemote {
		for _, u := range Unmatched(records, snapshot) {
			merged = append(merged, RemoteRecord(u))
		}
	}

	r.mu.Lock()
	prev := make(map[string]types.DocumentStatus, len(r.view))
	for _, rec := range r.view {
		prev[pinKey(rec)] = rec.Status
	}

	var fired []Transition
	live := make(map[string]bool, len(merged))
	for i, rec := range merged {
		k := pinKey(rec)
		live[k] = true
		if pin, ok := r.pinned[k]; ok {
			rec.Status = pin.Status
			rec.Summary = pin.Summary
			rec.Error = pin.Error
			merged[i] = rec
			continue
		}
		if !rec.Status.IsTerminal() {
			continue
		}
		r.pinned[k] = rec
		from, seen := prev[k]
		if !seen {
			from = ""
			if i < len(records) {
				from = records[i].Status
				if from.IsTerminal() {
					from = types.StatusUploading
				}
			}
		}
		fired = append(fired, Transition{
			Key:      rec.Key(),
			ClientID: rec.ClientID,
			Name:     rec.Name,
			From:     from,
			To:       rec.Status,
			Summary:  rec.Summary,
			Error:    rec.Error,
			Record:   rec,
		})
	}
	for k := range r.pinned {
		if !live[k] {
			delete(r.pinned, k)
		}
	}

	changed := !slices.Equal(r.view, merged)
	r.view = merged
	handlers := slices.Clone(r.handlers)
	r.mu.Unlock()

	for _, t := range fired {
		slog.Info("document finished", "document_id", t.Key, "name", t.Name, "status", t.To)
		metrics.TerminalDocuments.WithLabelValues(string(t.To)).Inc()
		for _, h := range handlers {
			h(t)
		}
	}
	if changed {
		r.broadcast()
	}
	return slices.Clone(merged)
}

// View returns the last computed view.
func (r *Reconciler) View() []types.DocumentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.view)
}

// Find returns the record whose key, client id or server id equals id.
func (r *Reconciler) Find(id string) (types.DocumentRecord, bool) {
	for _, rec := range r.View() {
		if string(rec.Key()) == id || string(rec.ClientID) == id || string(rec.DocumentID) == id {
			return rec, true
		}
	}
	return types.DocumentRecord{}, false
}

// Settled reports whether every record in the view is terminal.
func (r *Reconciler) Settled() bool {
	for _, rec := range r.View() {
		if !rec.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Run refreshes on every store or source change until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	storeCh, cancelStore := r.store.Subscribe()
	defer cancelStore()

	var sourceCh <-chan struct{}
	if r.source != nil {
		ch, cancelSource := r.source.Subscribe()
		defer cancelSource()
		sourceCh = ch
	}

	r.Refresh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-storeCh:
			if !ok {
				return nil
			}
		case _, ok := <-sourceCh:
			if !ok {
				sourceCh = nil
				continue
			}
		}
		r.Refresh()
	}
}

// Subscribe returns a coalescing signal that fires when the view changes.
func (r *Reconciler) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Reconciler) broadcast() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
