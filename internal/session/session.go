// Package session holds the process-wide wallet credential and its lifecycle.
//
// A Session moves through none → pending-challenge → authenticated → cleared.
// Components that need the bearer token take a *Session and call Token; those
// that react to login and logout call Watch.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/user/docchat/pkg/backend"
)

// ErrUnauthenticated is returned by Token when no valid credential is held.
var ErrUnauthenticated = backend.ErrUnauthenticated

// ErrExpired is returned by Authenticate for a token whose exp is in the past.
var ErrExpired = errors.New("token expired")

// State is a point in the credential lifecycle.
type State int

const (
	StateNone State = iota
	StatePendingChallenge
	StateAuthenticated
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StatePendingChallenge:
		return "pending-challenge"
	case StateAuthenticated:
		return "authenticated"
	case StateCleared:
		return "cleared"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credential is the bearer token plus the flag that says it is usable.
// Token and Authenticated are set together or not at all.
type Credential struct {
	Token         string    `json:"token"`
	Authenticated bool      `json:"authenticated"`
	Address       string    `json:"address,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
}

// Valid reports whether c can be used at time now.
func (c Credential) Valid(now time.Time) bool {
	if !c.Authenticated || c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Session is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	state     State
	cred      Credential
	challenge string
	watchers  map[int]chan Credential
	nextID    int
	now       func() time.Time
	expiry    *time.Timer
}

// New returns an empty session in StateNone.
func New() *Session {
	return &Session{
		watchers: make(map[int]chan Credential),
		now:      time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginChallenge moves to pending-challenge and returns the message the
// wallet must sign. Any previous credential is dropped.
func (s *Session) BeginChallenge(address string) string {
	msg := ChallengeMessage(s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	hadCred := s.cred.Authenticated
	s.state = StatePendingChallenge
	s.challenge = msg
	s.cred = Credential{Address: address}
	s.stopExpiryLocked()
	if hadCred {
		s.notifyLocked()
	}
	return msg
}

// Challenge returns the pending challenge message, if any.
func (s *Session) Challenge() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

// Authenticate installs a token issued by the backend. The exp claim is read
// without verifying the signature; tokens that are not JWTs never expire.
func (s *Session) Authenticate(address, token string) (Credential, error) {
	if token == "" {
		s.Fail(errors.New("empty token"))
		return Credential{}, fmt.Errorf("authenticate: %w", ErrUnauthenticated)
	}
	cred := Credential{
		Token:         token,
		Authenticated: true,
		Address:       address,
		ExpiresAt:     tokenExpiry(token),
	}
	if !cred.Valid(s.now()) {
		s.Fail(ErrExpired)
		return Credential{}, fmt.Errorf("authenticate: %w", ErrExpired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAuthenticated
	s.challenge = ""
	s.cred = cred
	s.stopExpiryLocked()
	if !cred.ExpiresAt.IsZero() {
		s.expiry = time.AfterFunc(cred.ExpiresAt.Sub(s.now()), func() { s.expire(token) })
	}
	s.notifyLocked()
	return cred, nil
}

// expire clears the session when token is still the held credential, so
// watchers see the logout at exp rather than on the next Token call.
func (s *Session) expire(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cred.Authenticated || s.cred.Token != token {
		return
	}
	slog.Info("credential expired", "address", s.cred.Address)
	s.state = StateCleared
	s.cred = Credential{}
	s.expiry = nil
	s.notifyLocked()
}

func (s *Session) stopExpiryLocked() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}

// Restore re-installs a previously stored credential. Invalid or expired
// credentials leave the session empty.
func (s *Session) Restore(cred Credential) bool {
	if !cred.Valid(s.now()) {
		return false
	}
	_, err := s.Authenticate(cred.Address, cred.Token)
	return err == nil
}

// Fail records a failed login and clears the session.
func (s *Session) Fail(err error) {
	slog.Warn("authentication failed", "error", err)
	s.Clear()
}

// Clear drops the credential.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.cred.Authenticated
	s.state = StateCleared
	s.challenge = ""
	s.cred = Credential{}
	s.stopExpiryLocked()
	if changed {
		s.notifyLocked()
	}
}

// Current returns the credential if it is still valid, else the zero value.
func (s *Session) Current() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cred.Valid(s.now()) {
		return Credential{}
	}
	return s.cred
}

// Token returns the bearer token or ErrUnauthenticated.
func (s *Session) Token() (string, error) {
	cred := s.Current()
	if !cred.Authenticated {
		return "", ErrUnauthenticated
	}
	return cred.Token, nil
}

// Watch returns a channel that yields the current credential immediately and
// then every change to it. Slow readers only see the latest value. The
// channel is closed when ctx is done.
func (s *Session) Watch(ctx context.Context) <-chan Credential {
	ch := make(chan Credential, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	cur := s.cred
	if !cur.Valid(s.now()) {
		cur = Credential{}
	}
	ch <- cur
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// notifyLocked pushes the current credential to every watcher, replacing any
// value the watcher has not read yet. Must be called with mu held.
func (s *Session) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.cred
	}
}

func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
