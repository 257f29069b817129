package digest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/docchat/internal/reconcile"
	"github.com/user/docchat/internal/types"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recorder) Broadcast(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"0 18 * * *", "*/30 * * * * *", "@hourly"} {
		if err := Validate(ok); err != nil {
			t.Errorf("Validate(%q) = %v", ok, err)
		}
	}
	if err := Validate("every tuesday"); err == nil {
		t.Error("expected an error for a bad schedule")
	}
	if _, err := New("not cron", &recorder{}); err == nil {
		t.Error("New should reject a bad schedule")
	}
}

func TestSummary(t *testing.T) {
	since := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	got := Summary([]reconcile.Transition{
		{Key: "doc1", Name: "q3.pdf", To: types.StatusCompleted, Summary: "Q3 report"},
		{Key: "doc2", To: types.StatusFailed, Error: "corrupt"},
	}, since)
	want := "2 document(s) finished since Mar 4 09:00 (1 completed, 1 failed):\n- q3.pdf: Q3 report\n- doc2: failed (corrupt)"
	if got != want {
		t.Errorf("Summary:\n got %q\nwant %q", got, want)
	}
}

func TestFlush(t *testing.T) {
	out := &recorder{}
	d, err := New("@daily", out)
	if err != nil {
		t.Fatal(err)
	}

	d.Flush()
	if out.count() != 0 {
		t.Fatal("empty flush should send nothing")
	}

	d.Add(reconcile.Transition{Key: "doc1", To: types.StatusCompleted})
	d.Flush()
	if out.count() != 1 || d.Pending() != 0 {
		t.Fatalf("expected one digest and nothing pending, got %d sent, %d pending", out.count(), d.Pending())
	}
}

func TestFlushKeepsBatchOnFailure(t *testing.T) {
	out := &recorder{err: errors.New("offline")}
	d, err := New("@daily", out)
	if err != nil {
		t.Fatal(err)
	}
	d.Add(reconcile.Transition{Key: "doc1", To: types.StatusCompleted})
	d.Flush()
	if d.Pending() != 1 {
		t.Fatalf("expected the transition to be kept, pending=%d", d.Pending())
	}

	out.mu.Lock()
	out.err = nil
	out.mu.Unlock()
	d.Flush()
	if out.count() != 1 || d.Pending() != 0 {
		t.Fatalf("expected retry to deliver, sent=%d pending=%d", out.count(), d.Pending())
	}
}

func TestDigestFiresOnSchedule(t *testing.T) {
	out := &recorder{}
	d, err := New("* * * * * *", out)
	if err != nil {
		t.Fatal(err)
	}
	d.Add(reconcile.Transition{Key: "doc1", To: types.StatusCompleted})
	d.Start()
	defer d.Stop()

	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatal("digest did not fire within 2.5s")
		case <-ticker.C:
			if out.count() > 0 {
				return
			}
		}
	}
}
