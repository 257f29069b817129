package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/docchat/internal/docstore"
	"github.com/user/docchat/internal/types"
)

type fakeSource struct {
	mu      sync.Mutex
	records []types.DocumentRecord
	signal  chan struct{}
}

func newFakeSource(records ...types.DocumentRecord) *fakeSource {
	return &fakeSource{records: records, signal: make(chan struct{}, 1)}
}

func (f *fakeSource) Records() []types.DocumentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.DocumentRecord(nil), f.records...)
}

func (f *fakeSource) Subscribe() (<-chan struct{}, func()) {
	return f.signal, func() {}
}

func (f *fakeSource) set(records ...types.DocumentRecord) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func TestReconcilerPinsTerminalAcrossReset(t *testing.T) {
	store := docstore.New()
	src := newFakeSource(types.DocumentRecord{ClientID: "doc1", Name: "q3.pdf", Status: types.StatusProcessing})
	r := New(store, src, Options{})

	var transitions []Transition
	r.OnTransition(func(tr Transition) { transitions = append(transitions, tr) })

	store.Upsert(types.StatusUpdate{DocumentID: "doc1", Status: types.StatusCompleted, Summary: "Q3 report"})
	view := r.Refresh()
	require.Len(t, view, 1)
	assert.Equal(t, types.StatusCompleted, view[0].Status)

	// Reconnect: the store is cleared and a stale frame replays.
	store.Reset()
	store.Upsert(types.StatusUpdate{DocumentID: "doc1", Status: types.StatusProcessing})
	view = r.Refresh()
	assert.Equal(t, types.StatusCompleted, view[0].Status)
	assert.Equal(t, "Q3 report", view[0].Summary)

	r.Refresh()
	require.Len(t, transitions, 1, "transition fires once")
	rec := transitions[0].Record
	assert.Equal(t, types.ClientID("doc1"), rec.ClientID)
	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.Equal(t, "Q3 report", rec.Summary)
	transitions[0].Record = types.DocumentRecord{}
	assert.Equal(t, Transition{
		Key: "doc1", ClientID: "doc1", Name: "q3.pdf",
		From: types.StatusProcessing, To: types.StatusCompleted, Summary: "Q3 report",
	}, transitions[0])
	assert.True(t, r.Settled())
}

func TestReconcilerLocalFailureIsTransition(t *testing.T) {
	store := docstore.New()
	src := newFakeSource(types.DocumentRecord{ClientID: "a", Name: "a.pdf", Status: types.StatusFailed, Error: "upload rejected"})
	r := New(store, src, Options{})

	var got []Transition
	r.OnTransition(func(tr Transition) { got = append(got, tr) })
	r.Refresh()

	require.Len(t, got, 1)
	assert.Equal(t, types.StatusFailed, got[0].To)
	assert.Equal(t, types.StatusUploading, got[0].From)
	assert.Equal(t, "upload rejected", got[0].Error)
}

func TestReconcilerDropsPinsForRemovedRecords(t *testing.T) {
	store := docstore.New()
	src := newFakeSource(types.DocumentRecord{ClientID: "a", Status: types.StatusFailed})
	r := New(store, src, Options{})
	r.Refresh()

	src.set()
	assert.Empty(t, r.Refresh())
	assert.Empty(t, r.pinned)
}

func TestReconcilerIncludeRemote(t *testing.T) {
	store := docstore.New()
	src := newFakeSource(types.DocumentRecord{ClientID: "a", Status: types.StatusProcessing})
	r := New(store, src, Options{IncludeRemote: true})

	store.Upsert(types.StatusUpdate{DocumentID: "elsewhere", Status: types.StatusCompleted, Summary: "Contract"})
	view := r.Refresh()
	require.Len(t, view, 2)
	assert.Equal(t, types.DocumentID("elsewhere"), view[1].Key())
	assert.Equal(t, "Contract", view[1].Summary)

	rec, ok := r.Find("elsewhere")
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.False(t, r.Settled())
}

func TestReconcilerRun(t *testing.T) {
	store := docstore.New()
	src := newFakeSource(types.DocumentRecord{ClientID: "a", Status: types.StatusUploading})
	r := New(store, src, Options{})

	changes, cancelSub := r.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	src.set(types.DocumentRecord{ClientID: "a", Status: types.StatusProcessing})
	store.Upsert(types.StatusUpdate{DocumentID: "a", Status: types.StatusCompleted})

	require.Eventually(t, func() bool {
		rec, ok := r.Find("a")
		return ok && rec.Status == types.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-changes:
	default:
		t.Fatal("view change was not signalled")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
