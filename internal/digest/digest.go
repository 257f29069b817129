// Package digest batches finished documents and reports them on a cron
// schedule.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/docchat/internal/reconcile"
	"github.com/user/docchat/internal/types"
)

// Broadcaster delivers the digest text.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule is a cron expression Digest accepts.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", schedule, err)
	}
	return nil
}

// Digest collects terminal transitions and sends one summary per tick.
// Ticks with nothing new send nothing.
type Digest struct {
	out  Broadcaster
	cron *cron.Cron
	now  func() time.Time

	mu      sync.Mutex
	pending []reconcile.Transition
	since   time.Time
}

// New creates a Digest firing on schedule. Call Start to begin ticking.
func New(schedule string, out Broadcaster) (*Digest, error) {
	d := &Digest{
		out:   out,
		cron:  cron.New(cron.WithParser(cronParser)),
		now:   time.Now,
		since: time.Now(),
	}
	if _, err := d.cron.AddFunc(schedule, d.Flush); err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", schedule, err)
	}
	return d, nil
}

// Add queues a transition for the next digest.
func (d *Digest) Add(t reconcile.Transition) {
	d.mu.Lock()
	d.pending = append(d.pending, t)
	d.mu.Unlock()
}

// Pending returns the number of queued transitions.
func (d *Digest) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush sends the queued transitions now. On a send failure they are kept
// for the next tick.
func (d *Digest) Flush() {
	d.mu.Lock()
	batch := d.pending
	since := d.since
	d.pending = nil
	d.since = d.now()
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.out.Broadcast(ctx, Summary(batch, since)); err != nil {
		slog.Warn("digest delivery failed", "documents", len(batch), "error", err)
		d.mu.Lock()
		d.pending = append(batch, d.pending...)
		d.since = since
		d.mu.Unlock()
		return
	}
	slog.Info("digest sent", "documents", len(batch))
}

// Start begins ticking in the background.
func (d *Digest) Start() {
	d.cron.Start()
}

// Stop stops ticking and waits for a running flush to return.
func (d *Digest) Stop() {
	<-d.cron.Stop().Done()
}

// Summary renders transitions as a short report.
func Summary(ts []reconcile.Transition, since time.Time) string {
	var completed, failed int
	for _, t := range ts {
		if t.To == types.StatusFailed {
			failed++
		} else {
			completed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d document(s) finished since %s", len(ts), since.Format("Jan 2 15:04"))
	if failed > 0 {
		fmt.Fprintf(&b, " (%d completed, %d failed)", completed, failed)
	}
	b.WriteString(":")
	for _, t := range ts {
		name := t.Name
		if name == "" {
			name = string(t.Key)
		}
		switch {
		case t.To == types.StatusFailed && t.Error != "":
			fmt.Fprintf(&b, "\n- %s: failed (%s)", name, t.Error)
		case t.To == types.StatusFailed:
			fmt.Fprintf(&b, "\n- %s: failed", name)
		case t.Summary != "":
			fmt.Fprintf(&b, "\n- %s: %s", name, t.Summary)
		default:
			fmt.Fprintf(&b, "\n- %s", name)
		}
	}
	return b.String()
}
