package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/backend"
)

type staticTokens struct{ token string }

func (s staticTokens) Token() (string, error) {
	if s.token == "" {
		return "", backend.ErrUnauthenticated
	}
	return s.token, nil
}

type fakeUploader struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	gate     chan struct{} // when set, each call waits for a value
	acc      func(parts []backend.FilePart) *backend.Acceptance
	err      error

	mu    sync.Mutex
	names [][]string
}

func (f *fakeUploader) ProcessFiles(ctx context.Context, token string, parts []backend.FilePart) (*backend.Acceptance, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var names []string
	for _, p := range parts {
		io.ReadAll(p.Reader)
		names = append(names, p.Name)
	}
	f.mu.Lock()
	f.names = append(f.names, names)
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.acc != nil {
		return f.acc(parts), nil
	}
	return &backend.Acceptance{StatusCode: 200}, nil
}

func memFile(name, body string) types.File {
	return types.File{
		Name: name,
		Size: int64(len(body)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func statuses(recs []types.DocumentRecord) []types.DocumentStatus {
	out := make([]types.DocumentStatus, len(recs))
	for i, r := range recs {
		out[i] = r.Status
	}
	return out
}

func TestSubmitAccepted(t *testing.T) {
	api := &fakeUploader{}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{MaxInflight: 2})
	defer s.Close()

	batch, err := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A"), memFile("b.txt", "B")})
	require.NoError(t, err)
	require.Len(t, batch.IDs, 2)

	require.NoError(t, batch.Wait(context.Background()))
	recs := s.Records()
	assert.Equal(t, []types.DocumentStatus{types.StatusProcessing, types.StatusProcessing}, statuses(recs))
	assert.Equal(t, "a.pdf", recs[0].Name)
	assert.EqualValues(t, 1, api.calls.Load(), "one request per batch")
	assert.Equal(t, [][]string{{"a.pdf", "b.txt"}}, api.names)
	assert.NoError(t, s.Err())
}

func TestSubmitUnauthenticated(t *testing.T) {
	api := &fakeUploader{}
	s := NewSubmitter(api, staticTokens{}, Options{})
	defer s.Close()

	batch, err := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A"), memFile("b.doc", "B")})
	require.NoError(t, err)
	assert.ErrorIs(t, batch.Wait(context.Background()), backend.ErrUnauthenticated)

	assert.Equal(t, []types.DocumentStatus{types.StatusUploading, types.StatusUploading}, statuses(s.Records()))
	assert.ErrorIs(t, s.Err(), backend.ErrUnauthenticated)
	assert.Zero(t, api.calls.Load())
}

func TestSubmitRejectsUnsupported(t *testing.T) {
	s := NewSubmitter(&fakeUploader{}, staticTokens{"tok"}, Options{})
	defer s.Close()

	_, err := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A"), memFile("run.exe", "MZ")})
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Empty(t, s.Records())

	_, err = s.Submit(context.Background(), nil)
	assert.Error(t, err)
}

func TestSubmitFailureMarksBatchFailed(t *testing.T) {
	api := &fakeUploader{err: &backend.TransportError{Op: "process files", StatusCode: 500, Body: "boom"}}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{})
	defer s.Close()

	batch, err := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A")})
	require.NoError(t, err)
	werr := batch.Wait(context.Background())
	var te *backend.TransportError
	require.ErrorAs(t, werr, &te)

	recs := s.Records()
	assert.Equal(t, types.StatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].Error, "boom")
	assert.Equal(t, werr, s.Err())
}

func TestSubmitFailureKeepUploading(t *testing.T) {
	api := &fakeUploader{err: errors.New("connection refused")}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{KeepUploadingOnError: true})
	defer s.Close()

	batch, _ := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A")})
	assert.Error(t, batch.Wait(context.Background()))
	assert.Equal(t, types.StatusUploading, s.Records()[0].Status)
	assert.Error(t, s.Err())
}

func TestSubmitAttachesConfirmedIDs(t *testing.T) {
	api := &fakeUploader{acc: func(parts []backend.FilePart) *backend.Acceptance {
		return &backend.Acceptance{StatusCode: 200, Confirmations: []backend.Confirmation{
			{DocumentID: "srv-b", ClientID: parts[1].ID},
			{DocumentID: "srv-a", ClientID: parts[0].ID, Status: "completed", Summary: "cached"},
		}}
	}}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{})
	defer s.Close()

	batch, _ := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A"), memFile("b.pdf", "B")})
	require.NoError(t, batch.Wait(context.Background()))

	recs := s.Records()
	assert.Equal(t, types.DocumentID("srv-a"), recs[0].Key())
	assert.Equal(t, types.StatusCompleted, recs[0].Status)
	assert.Equal(t, "cached", recs[0].Summary)
	assert.Equal(t, types.DocumentID("srv-b"), recs[1].Key())
	assert.Equal(t, types.StatusProcessing, recs[1].Status)
}

func TestMatchConfirmationsPositional(t *testing.T) {
	ids := []types.ClientID{"a", "b"}
	got := matchConfirmations(ids, []backend.Confirmation{{DocumentID: "1"}, {DocumentID: "2"}})
	assert.Equal(t, "1", got["a"].DocumentID)
	assert.Equal(t, "2", got["b"].DocumentID)

	assert.Empty(t, matchConfirmations(ids, []backend.Confirmation{{DocumentID: "1"}}), "counts differ, nothing is guessed")
}

func TestBatchesAreIndependent(t *testing.T) {
	api := &fakeUploader{gate: make(chan struct{})}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{MaxInflight: 2})
	defer s.Close()

	first, _ := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A")})
	second, _ := s.Submit(context.Background(), []types.File{memFile("b.pdf", "B")})

	require.Eventually(t, func() bool { return api.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	api.gate <- struct{}{}

	done := 0
	select {
	case <-first.Done():
		done++
	case <-second.Done():
		done++
	case <-time.After(2 * time.Second):
		t.Fatal("no batch finished")
	}
	assert.Equal(t, 1, done)

	recs := s.Records()
	processing := 0
	for _, r := range recs {
		if r.Status == types.StatusProcessing {
			processing++
		}
	}
	assert.Equal(t, 1, processing, "finishing one batch must not touch the other")

	api.gate <- struct{}{}
	require.NoError(t, first.Wait(context.Background()))
	require.NoError(t, second.Wait(context.Background()))
	assert.Equal(t, []types.DocumentStatus{types.StatusProcessing, types.StatusProcessing}, statuses(s.Records()))
}

func TestMaxInflight(t *testing.T) {
	api := &fakeUploader{gate: make(chan struct{})}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{MaxInflight: 1})
	defer s.Close()

	var batches []*Batch
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		b, err := s.Submit(context.Background(), []types.File{memFile(name, "x")})
		require.NoError(t, err)
		batches = append(batches, b)
	}
	for range batches {
		api.gate <- struct{}{}
	}
	for _, b := range batches {
		require.NoError(t, b.Wait(context.Background()))
	}
	assert.EqualValues(t, 1, api.peak.Load())
	assert.EqualValues(t, 3, api.calls.Load())
}

func TestRemoveMidUpload(t *testing.T) {
	api := &fakeUploader{gate: make(chan struct{})}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{})
	defer s.Close()

	batch, _ := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A"), memFile("b.pdf", "B")})
	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, s.Remove(batch.IDs[0]))
	assert.False(t, s.Remove(batch.IDs[0]))

	api.gate <- struct{}{}
	require.NoError(t, batch.Wait(context.Background()))

	recs := s.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, batch.IDs[1], recs[0].ClientID)
	assert.Equal(t, types.StatusProcessing, recs[0].Status)
}

func TestCloseDropsLateResults(t *testing.T) {
	api := &fakeUploader{gate: make(chan struct{})}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{})

	batch, _ := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A")})
	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Close()
	assert.Error(t, batch.Wait(context.Background()))
	assert.Equal(t, types.StatusUploading, s.Records()[0].Status)

	_, err := s.Submit(context.Background(), []types.File{memFile("b.pdf", "B")})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubmitRacingClose(t *testing.T) {
	api := &fakeUploader{}
	s := NewSubmitter(api, staticTokens{"tok"}, Options{MaxInflight: 4})

	var wg sync.WaitGroup
	batches := make(chan *Batch, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A")})
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
				return
			}
			batches <- b
		}()
	}
	s.Close()
	wg.Wait()
	close(batches)

	// Every accepted batch has an outcome once Close returns.
	for b := range batches {
		select {
		case <-b.Done():
		default:
			t.Fatal("batch still running after Close")
		}
	}
	_, err := s.Submit(context.Background(), []types.File{memFile("b.pdf", "B")})
	assert.ErrorIs(t, err, ErrClosed)
}

type memHistory struct {
	mu   sync.Mutex
	recs []types.DocumentRecord
}

func (m *memHistory) Append(recs ...types.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, recs...)
	return nil
}

func TestHistoryAndRestore(t *testing.T) {
	h := &memHistory{}
	s := NewSubmitter(&fakeUploader{}, staticTokens{"tok"}, Options{History: h})
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	batch, _ := s.Submit(context.Background(), []types.File{memFile("a.pdf", "A")})
	require.NoError(t, batch.Wait(context.Background()))
	<-ch

	h.mu.Lock()
	require.Len(t, h.recs, 2)
	assert.Equal(t, types.StatusUploading, h.recs[0].Status)
	assert.Equal(t, types.StatusProcessing, h.recs[1].Status)
	h.mu.Unlock()

	other := NewSubmitter(&fakeUploader{}, staticTokens{"tok"}, Options{})
	defer other.Close()
	other.Restore(s.Records())
	other.Restore(s.Records())
	require.Len(t, other.Records(), 1)
	assert.Nil(t, other.Records()[0].File)
}

func TestFilter(t *testing.T) {
	ok, err := Filter([]types.File{memFile("A.PDF", ""), memFile("notes.md", ""), memFile("c.docx", "")})
	require.Len(t, ok, 2)
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Contains(t, err.Error(), "notes.md")

	ok, err = Filter([]types.File{memFile("x.txt", "")})
	assert.NoError(t, err)
	assert.Len(t, ok, 1)
}
