// Package upload turns selected files into tracked records and sends them
// to the backend in batches.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/docchat/internal/metrics"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/pkg/backend"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("submitter closed")

// Uploader sends one multipart batch.
type Uploader interface {
	ProcessFiles(ctx context.Context, token string, files []backend.FilePart) (*backend.Acceptance, error)
}

// TokenSource yields the bearer token or backend.ErrUnauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// Recorder persists record changes. Optional.
type Recorder interface {
	Append(records ...types.DocumentRecord) error
}

// Options tunes a Submitter.
type Options struct {
	MaxInflight int64
	// KeepUploadingOnError leaves a failed batch's records at uploading
	// instead of marking them failed.
	KeepUploadingOnError bool
	History              Recorder
}

// Submitter owns the local document records.
type Submitter struct {
	api    Uploader
	tokens TokenSource
	opts   Options
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	records []types.DocumentRecord
	banner  error
	closed  bool

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// NewSubmitter creates a Submitter. MaxInflight <= 0 means one request at a time.
func NewSubmitter(api Uploader, tokens TokenSource, opts Options) *Submitter {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Submitter{
		api:    api,
		tokens: tokens,
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxInflight),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan struct{}),
	}
}

// Batch is one submission. Its outcome is available from Wait.
type Batch struct {
	IDs  []types.ClientID
	done chan struct{}
	err  error
}

// Done is closed when the batch has an outcome.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch has an outcome or ctx is done.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit creates one uploading record per file and sends them as a single
// request in the background. Every file must have an accepted extension.
// When no credential is held the records stay at uploading, the banner is
// set and the batch fails with backend.ErrUnauthenticated without a request.
func (s *Submitter) Submit(ctx context.Context, files []types.File) (*Batch, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to upload")
	}
	for _, f := range files {
		if !Supported(f.Name) {
			return nil, fmt.Errorf("%s: %w", f.Name, ErrUnsupportedFile)
		}
	}

	now := time.Now()
	batch := &Batch{done: make(chan struct{})}
	created := make([]types.DocumentRecord, 0, len(files))
	for _, f := range files {
		file := f
		rec := types.DocumentRecord{
			ClientID:  types.NewClientID(),
			Name:      f.Name,
			Size:      f.Size,
			Status:    types.StatusUploading,
			CreatedAt: now,
			File:      &file,
		}
		created = append(created, rec)
		batch.IDs = append(batch.IDs, rec.ClientID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.records = append(s.records, created...)
	s.banner = nil
	// Added under mu so Close cannot be waiting yet.
	s.wg.Add(1)
	s.mu.Unlock()
	s.record(created)
	s.broadcast()

	token, err := s.tokens.Token()
	if err != nil {
		slog.Warn("upload refused", "files", len(files), "error", err)
		metrics.Uploads.WithLabelValues("unauthenticated").Inc()
		s.setBanner(err)
		batch.err = err
		close(batch.done)
		s.wg.Done()
		return batch, nil
	}

	go func() {
		defer s.wg.Done()
		acc, err := s.send(ctx, token, created)
		batch.err = s.finish(batch.IDs, acc, err)
		close(batch.done)
	}()
	return batch, nil
}

func (s *Submitter) send(ctx context.Context, token string, recs []types.DocumentRecord) (*backend.Acceptance, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for upload slot: %w", err)
	}
	defer s.sem.Release(1)

	parts := make([]backend.FilePart, 0, len(recs))
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, rec := range recs {
		if rec.File == nil || rec.File.Open == nil {
			return nil, fmt.Errorf("%s: no file payload", rec.Name)
		}
		rc, err := rec.File.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", rec.Name, err)
		}
		closers = append(closers, rc)
		parts = append(parts, backend.FilePart{ID: string(rec.ClientID), Name: rec.Name, Reader: rc})
	}

	slog.Info("uploading documents", "files", len(parts))
	return s.api.ProcessFiles(ctx, token, parts)
}

// finish applies a batch outcome to the records still present. Results that
// arrive after Close are dropped.
func (s *Submitter) finish(ids []types.ClientID, acc *backend.Acceptance, err error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Debug("dropping upload result after close", "files", len(ids))
		if err != nil {
			return err
		}
		return ErrClosed
	}

	var changed []types.DocumentRecord
	if err != nil {
		s.banner = err
		for i := range s.records {
			rec := &s.records[i]
			if !slices.Contains(ids, rec.ClientID) || rec.Status != types.StatusUploading {
				continue
			}
			if s.opts.KeepUploadingOnError {
				continue
			}
			rec.Status = types.StatusFailed
			rec.Error = err.Error()
			changed = append(changed, *rec)
		}
	} else {
		confirmed := matchConfirmations(ids, acc.Confirmations)
		for i := range s.records {
			rec := &s.records[i]
			if !slices.Contains(ids, rec.ClientID) {
				continue
			}
			c, ok := confirmed[rec.ClientID]
			if ok {
				rec.DocumentID = types.DocumentID(c.DocumentID)
			}
			next := types.StatusProcessing
			if ok && types.DocumentStatus(c.Status).Valid() {
				next = types.DocumentStatus(c.Status)
			}
			if rec.Status.CanTransition(next) {
				rec.Status = next
				if ok {
					rec.Summary = c.Summary
					rec.Error = c.Error
				}
			}
			changed = append(changed, *rec)
		}
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("upload failed", "files", len(ids), "kind", backend.Classify(err), "error", err)
		metrics.Uploads.WithLabelValues("failed").Inc()
	} else {
		slog.Info("upload accepted", "files", len(ids), "confirmed", len(acc.Confirmations))
		metrics.Uploads.WithLabelValues("accepted").Inc()
		metrics.UploadedFiles.Add(float64(len(ids)))
	}
	s.record(changed)
	s.broadcast()
	return err
}

// matchConfirmations pairs server ids with client ids: by the echoed client
// id when present, otherwise by position when the counts line up.
func matchConfirmations(ids []types.ClientID, confs []backend.Confirmation) map[types.ClientID]backend.Confirmation {
	out := make(map[types.ClientID]backend.Confirmation, len(confs))
	var positional []backend.Confirmation
	for _, c := range confs {
		if c.ClientID != "" && slices.Contains(ids, types.ClientID(c.ClientID)) {
			out[types.ClientID(c.ClientID)] = c
			continue
		}
		positional = append(positional, c)
	}
	if len(out) == 0 && len(positional) == len(ids) {
		for i, c := range positional {
			out[ids[i]] = c
		}
	}
	return out
}

// Remove drops a record. A pending batch result will skip it.
func (s *Submitter) Remove(id types.ClientID) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.records, func(r types.DocumentRecord) bool { return r.ClientID == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.records = slices.Delete(s.records, idx, idx+1)
	s.mu.Unlock()
	s.broadcast()
	return true
}

// Restore adds previously known records, skipping client ids already held.
func (s *Submitter) Restore(records []types.DocumentRecord) {
	s.mu.Lock()
	for _, rec := range records {
		if rec.ClientID == "" || slices.ContainsFunc(s.records, func(r types.DocumentRecord) bool { return r.ClientID == rec.ClientID }) {
			continue
		}
		rec.File = nil
		s.records = append(s.records, rec)
	}
	s.mu.Unlock()
	s.broadcast()
}

// Records returns the local records in submission order.
func (s *Submitter) Records() []types.DocumentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Err returns the banner error from the most recent failure, if any.
func (s *Submitter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

func (s *Submitter) setBanner(err error) {
	s.mu.Lock()
	s.banner = err
	s.mu.Unlock()
	s.broadcast()
}

// Wait blocks until every in-flight batch has finished.
func (s *Submitter) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight uploads and waits for them. Results that arrive
// afterwards do not touch the records.
func (s *Submitter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Submitter) record(recs []types.DocumentRecord) {
	if s.opts.History == nil || len(recs) == 0 {
		return
	}
	if err := s.opts.History.Append(recs...); err != nil {
		slog.Warn("failed to write upload history", "error", err)
	}
}

// Subscribe returns a coalescing signal that fires on every record change.
func (s *Submitter) Subscribe() (<-chan struct{}, func()) {
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

func (s *Submitter) broadcast() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
