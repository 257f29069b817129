package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/user/docchat/internal/reconcile"
)

// WriterNotifier prints transitions, one per line.
type WriterNotifier struct {
	mu     sync.Mutex
	w      io.Writer
	render func(string) string
}

// NewWriterNotifier writes to w. render, when non-nil, post-processes the
// message (for example to turn HTML summaries into markdown).
func NewWriterNotifier(w io.Writer, render func(string) string) *WriterNotifier {
	return &WriterNotifier{w: w, render: render}
}

func (n *WriterNotifier) Notify(ctx context.Context, t reconcile.Transition) error {
	return n.SendText(ctx, Format(t))
}

func (n *WriterNotifier) SendText(_ context.Context, msg string) error {
	if n.render != nil {
		msg = n.render(msg)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintln(n.w, msg)
	return err
}
