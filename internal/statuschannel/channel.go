// Package statuschannel keeps a WebSocket open to the backend's push
// endpoint and feeds status_update frames into the document status store.
package statuschannel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/docchat/internal/metrics"
	"github.com/user/docchat/internal/types"
)

const closeTimeout = time.Second

// Channel opens subscriptions against one push endpoint.
type Channel struct {
	url    string
	store  types.StatusWriter
	policy *RetryPolicy
	dialer *websocket.Dialer
}

// New creates a Channel for the given base URL (ws:// or wss://). The /ws
// path is appended unless already present.
func New(baseURL string, store types.StatusWriter, policy *RetryPolicy) *Channel {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &Channel{
		url:    endpoint(baseURL),
		store:  store,
		policy: policy,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func endpoint(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/ws") {
		return base
	}
	return base + "/ws"
}

// URL returns the push endpoint.
func (c *Channel) URL() string {
	return c.url
}

// Open starts a subscription authenticated with token and returns at once.
// Dialing, reading and reconnecting run in a goroutine owned by the
// subscription until Close is called, ctx is done or retries run out.
func (c *Channel) Open(ctx context.Context, token string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ch:        c,
		cancel:    cancel,
		done:      make(chan struct{}),
		connected: make(chan struct{}),
	}
	go s.run(ctx, token)
	return s
}

// Subscription is one live status channel. Close releases it.
type Subscription struct {
	ch     *Channel
	cancel context.CancelFunc
	done   chan struct{}

	connected     chan struct{}
	connectedOnce sync.Once

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	err     error

	closeOnce sync.Once
}

// Done is closed when the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Connected is closed once the first connection has sent its token frame.
func (s *Subscription) Connected() <-chan struct{} {
	return s.connected
}

// Err returns the error that ended the subscription, if it ended on its own.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription. A close frame is sent only if a connection
// is currently open. Close returns after the reader has exited, so the store
// sees no further updates from this subscription. Safe to call repeatedly.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); err != nil {
				slog.Debug("status channel close frame not sent", "error", err)
			}
		}
		s.cancel()
	})
	<-s.done
}

func (s *Subscription) run(ctx context.Context, token string) {
	defer close(s.done)
	defer s.cancel()

	policy := s.ch.policy
	attempt := 0
	for {
		delivered, err := s.connect(ctx, token)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			attempt = 0
		}
		attempt++
		if !policy.ShouldRetry(err, attempt) {
			slog.Error("status channel stopped", "url", s.ch.url, "attempts", attempt, "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}

		delay := policy.NextDelay(attempt)
		slog.Warn("status channel disconnected, reconnecting", "error", err, "attempt", attempt, "delay", delay)
		metrics.StatusReconnects.Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect runs one connection to completion. It reports whether at least one
// frame arrived, which resets the retry budget.
func (s *Subscription) connect(ctx context.Context, token string) (bool, error) {
	conn, resp, err := s.ch.dialer.DialContext(ctx, s.ch.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return false, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return false, fmt.Errorf("dial %s: %w", s.ch.url, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return false, context.Canceled
	}
	s.conn = conn
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	metrics.StatusConnects.Inc()
	s.ch.store.Reset()

	if err := conn.WriteJSON(authFrame{Token: token}); err != nil {
		return false, fmt.Errorf("send token: %w", err)
	}
	slog.Info("status channel connected", "url", s.ch.url)
	s.connectedOnce.Do(func() { close(s.connected) })

	delivered := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return delivered, fmt.Errorf("server closed connection: %w", err)
			}
			return delivered, fmt.Errorf("read frame: %w", err)
		}
		delivered = true
		s.handle(ctx, data)
	}
}

func (s *Subscription) handle(ctx context.Context, data []byte) {
	frame, result, err := decodeFrame(data)
	metrics.StatusFrames.WithLabelValues(result).Inc()
	if err != nil {
		slog.Debug("ignoring status frame", "error", err)
		return
	}
	if result != metrics.FrameApplied {
		slog.Debug("ignoring status frame", "type", frame.Type)
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.ch.store.Upsert(frame.Update())
	slog.Debug("status update", "document_id", frame.DocumentID, "status", frame.Status)
}
