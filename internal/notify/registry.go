// Package notify fans terminal document transitions out to the configured
// notifiers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/user/docchat/internal/reconcile"
)

// Notifier delivers one transition somewhere.
type Notifier interface {
	Notify(ctx context.Context, t reconcile.Transition) error
}

// TextSender is implemented by notifiers that can deliver free text, such as
// a scheduled digest.
type TextSender interface {
	SendText(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, t reconcile.Transition) error

func (f NotifierFunc) Notify(ctx context.Context, t reconcile.Transition) error {
	return f(ctx, t)
}

// Registry holds named notifiers.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds or replaces the notifier under name.
func (r *Registry) Register(name string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[name] = n
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notify delivers t to every notifier. One failing notifier does not stop
// the others; failures are logged and returned joined.
func (r *Registry) Notify(ctx context.Context, t reconcile.Transition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, n := range r.notifiers {
		if err := n.Notify(ctx, t); err != nil {
			slog.Warn("notification failed", "notifier", name, "document_id", t.Key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Broadcast sends text to every notifier that implements TextSender.
func (r *Registry) Broadcast(ctx context.Context, text string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, n := range r.notifiers {
		ts, ok := n.(TextSender)
		if !ok {
			continue
		}
		if err := ts.SendText(ctx, text); err != nil {
			slog.Warn("broadcast failed", "notifier", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
