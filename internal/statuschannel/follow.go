package statuschannel

import (
	"context"
	"log/slog"

	"github.com/user/docchat/internal/session"
)

// CredentialWatcher yields the current credential and every change to it.
type CredentialWatcher interface {
	Watch(ctx context.Context) <-chan session.Credential
}

// Follow keeps exactly one subscription open per valid credential until ctx
// is done. A new token closes the previous subscription before the next one
// opens; a cleared credential closes it.
func Follow(ctx context.Context, creds CredentialWatcher, c *Channel) {
	var (
		sub   *Subscription
		token string
	)
	release := func() {
		if sub != nil {
			sub.Close()
			sub = nil
		}
		token = ""
	}
	defer release()

	updates := creds.Watch(ctx)
	for {
		var subDone <-chan struct{}
		if sub != nil {
			subDone = sub.Done()
		}

		select {
		case <-ctx.Done():
			return
		case cred, ok := <-updates:
			if !ok {
				return
			}
			if cred.Authenticated && cred.Token == token {
				continue
			}
			release()
			if cred.Authenticated {
				slog.Debug("opening status channel", "address", cred.Address)
				sub = c.Open(ctx, cred.Token)
				token = cred.Token
			}
		case <-subDone:
			if err := sub.Err(); err != nil {
				slog.Warn("status channel gave up; waiting for a new credential", "error", err)
			}
			sub = nil
			// token stays set so the same credential is not retried in a loop
		}
	}
}
