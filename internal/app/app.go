package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/docchat/internal/config"
	"github.com/user/docchat/internal/digest"
	"github.com/user/docchat/internal/docstore"
	"github.com/user/docchat/internal/notify"
	"github.com/user/docchat/internal/query"
	"github.com/user/docchat/internal/reconcile"
	"github.com/user/docchat/internal/render"
	"github.com/user/docchat/internal/session"
	"github.com/user/docchat/internal/state"
	"github.com/user/docchat/internal/statusapi"
	"github.com/user/docchat/internal/statuschannel"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/upload"
	"github.com/user/docchat/pkg/backend"
)

// Options tunes how an App is assembled.
type Options struct {
	// Out receives one line per terminal transition. Nil disables it.
	Out io.Writer
	// IncludeRemote shows documents this process did not upload.
	IncludeRemote bool
	// Listen is the address of the local status API. Empty disables it.
	Listen string
}

// App wires the tracker components around one process-wide session.
type App struct {
	Config      *config.Config
	Session     *session.Session
	Client      *backend.Client
	Credentials *state.CredentialStore
	History     *state.HistoryStore
	Store       *docstore.Store
	Channel     *statuschannel.Channel
	Submitter   *upload.Submitter
	Reconciler  *reconcile.Reconciler
	Router      *query.Router
	Transcript  *query.Transcript
	Notifiers   *notify.Registry
	Digest      *digest.Digest

	opts     Options
	mu       sync.Mutex
	cancel   context.CancelFunc
	group    *errgroup.Group
	listener net.Listener
	closed   bool
}

// New assembles an App from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{
		Config:      cfg,
		Session:     session.New(),
		Client:      backend.New(cfg.APIURL, cfg.HTTPTimeout()),
		Credentials: state.NewCredentialStore(cfg.CredentialPath()),
		History:     state.NewHistoryStore(cfg.HistoryPath()),
		Store:       docstore.New(),
		Notifiers:   notify.NewRegistry(),
		opts:        opts,
	}

	a.Channel = statuschannel.New(cfg.WSURL, a.Store, retryPolicy(cfg))
	a.Submitter = upload.NewSubmitter(a.Client, a.Session, upload.Options{
		MaxInflight:          int64(cfg.MaxInflightUploads),
		KeepUploadingOnError: cfg.KeepUploadingOnError,
		History:              a.History,
	})
	a.Reconciler = reconcile.New(a.Store, a.Submitter, reconcile.Options{IncludeRemote: opts.IncludeRemote})

	routerOpts := query.Options{MaxTokens: cfg.MaxQueryTokens}
	if cfg.MaxQueryTokens > 0 {
		counter, err := query.NewTiktokenCounter(cfg.TokenizerModel)
		if err != nil {
			return nil, fmt.Errorf("create token counter: %w", err)
		}
		routerOpts.Counter = counter
	}
	a.Router = query.NewRouter(a.Client, a.Session, routerOpts)
	a.Transcript = query.NewTranscript(a.Router)

	if opts.Out != nil {
		a.Notifiers.Register("console", notify.NewWriterNotifier(opts.Out, render.Text))
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("create telegram notifier: %w", err)
		}
		a.Notifiers.Register("telegram", tg)
	}
	a.Reconciler.OnTransition(a.recordOutcome)
	a.Reconciler.OnTransition(func(t reconcile.Transition) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Notifiers.Notify(ctx, t)
	})
	if cfg.DigestSchedule != "" {
		d, err := digest.New(cfg.DigestSchedule, a.Notifiers)
		if err != nil {
			return nil, err
		}
		a.Digest = d
		a.Reconciler.OnTransition(d.Add)
	}

	return a, nil
}

func retryPolicy(cfg *config.Config) *statuschannel.RetryPolicy {
	p := statuschannel.DefaultRetryPolicy()
	if cfg.Reconnect.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Reconnect.MaxAttempts
	}
	if cfg.Reconnect.InitialDelayMS > 0 {
		p.InitialDelay = time.Duration(cfg.Reconnect.InitialDelayMS) * time.Millisecond
	}
	if cfg.Reconnect.MaxDelayMS > 0 {
		p.MaxDelay = time.Duration(cfg.Reconnect.MaxDelayMS) * time.Millisecond
	}
	if cfg.Reconnect.Multiplier >= 1 {
		p.Multiplier = cfg.Reconnect.Multiplier
	}
	return p
}

// recordOutcome appends a local record's terminal status to the history so
// later runs neither resume nor report it as in flight.
func (a *App) recordOutcome(t reconcile.Transition) {
	if t.ClientID == "" {
		return
	}
	rec := t.Record
	rec.File = nil
	if err := a.History.Append(rec); err != nil {
		slog.Warn("failed to write upload history", "document_id", t.Key, "error", err)
	}
}

// RestoreCredential installs a token from the config (DOCCHAT_TOKEN) or,
// failing that, the stored credential. It reports whether the session is
// authenticated afterwards.
func (a *App) RestoreCredential() (bool, error) {
	if tok := a.Config.Auth.Token; tok != "" {
		if _, err := a.Session.Authenticate(a.Config.Wallet.Address, tok); err != nil {
			return false, fmt.Errorf("use configured token: %w", err)
		}
		return true, nil
	}

	cred, err := a.Credentials.Load()
	if err != nil {
		return false, err
	}
	if !cred.Authenticated {
		return false, nil
	}
	if !a.Session.Restore(cred) {
		slog.Info("stored credential expired", "address", cred.Address)
		return false, nil
	}
	return true, nil
}

// Login runs the wallet challenge and stores the resulting credential.
func (a *App) Login(ctx context.Context, signer session.Signer, address string) (session.Credential, error) {
	cred, err := session.Login(ctx, a.Session, a.Client, signer, address)
	if err != nil {
		return session.Credential{}, err
	}
	if err := a.Credentials.Save(cred); err != nil {
		return cred, err
	}
	return cred, nil
}

// UseToken installs a pre-issued token and stores it.
func (a *App) UseToken(address, token string) (session.Credential, error) {
	cred, err := a.Session.Authenticate(address, token)
	if err != nil {
		return session.Credential{}, err
	}
	if err := a.Credentials.Save(cred); err != nil {
		return cred, err
	}
	return cred, nil
}

// Logout clears the session and the stored credential. The status channel
// closes as a consequence.
func (a *App) Logout() error {
	a.Session.Clear()
	return a.Credentials.Delete()
}

// ResumePending re-adds up to limit recent uploads that had not reached a
// terminal status, so their push updates are tracked again.
func (a *App) ResumePending(limit int) (int, error) {
	recs, err := a.History.Latest(limit)
	if err != nil {
		return 0, err
	}
	var pending []types.DocumentRecord
	for _, r := range recs {
		if !r.Status.IsTerminal() {
			pending = append(pending, r)
		}
	}
	a.Submitter.Restore(pending)
	return len(pending), nil
}

// Ask sends one chat message through the transcript.
func (a *App) Ask(ctx context.Context, selection, text string) (types.ChatMessage, error) {
	return a.Transcript.Send(ctx, selection, text)
}

// Start launches the status channel follower, the reconciler and, when
// configured, the local status API. It returns once they are running.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("app closed")
	}
	if a.group != nil {
		return errors.New("app already started")
	}

	var ln net.Listener
	if a.opts.Listen != "" {
		var err error
		ln, err = net.Listen("tcp", a.opts.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", a.opts.Listen, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g
	a.listener = ln

	g.Go(func() error {
		statuschannel.Follow(ctx, a.Session, a.Channel)
		return nil
	})
	g.Go(func() error {
		if err := a.Reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reconciler: %w", err)
		}
		return nil
	})

	if a.Digest != nil {
		a.Digest.Start()
	}

	if ln != nil {
		srv := &http.Server{
			Handler:           statusapi.NewServer(a.Reconciler, a.Ask),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("status api started", "listen", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	return nil
}

// Addr is the bound address of the status API, or "" when it is disabled.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// WaitSettled blocks until every tracked record is terminal or ctx is done.
func (a *App) WaitSettled(ctx context.Context) error {
	ch, cancel := a.Reconciler.Subscribe()
	defer cancel()
	a.Reconciler.Refresh()
	for {
		if a.Reconciler.Settled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close stops everything Start launched, then cancels in-flight uploads.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, g := a.cancel, a.group
	a.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		err = g.Wait()
		if a.Digest != nil {
			a.Digest.Stop()
			a.Digest.Flush()
		}
	}
	a.Submitter.Close()
	return err
}
