package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/user/docchat/pkg/backend"
)

const challengePrefix = "Sign this message to authenticate with our app: "

// ChallengeMessage builds the text a wallet signs to log in.
func ChallengeMessage(t time.Time) string {
	return fmt.Sprintf("%s%d", challengePrefix, t.UnixMilli())
}

// Signer produces a wallet signature for a challenge message.
type Signer interface {
	Sign(ctx context.Context, message string) (string, error)
}

// Verifier exchanges a signature for a bearer token.
type Verifier interface {
	VerifyWallet(ctx context.Context, address, signature string) (*backend.AuthResponse, error)
}

// Login runs the challenge flow. On any failure the session is cleared.
func Login(ctx context.Context, s *Session, v Verifier, signer Signer, address string) (Credential, error) {
	if address == "" {
		err := errors.New("wallet address is required")
		s.Fail(err)
		return Credential{}, err
	}

	msg := s.BeginChallenge(address)
	sig, err := signer.Sign(ctx, msg)
	if err != nil {
		s.Fail(err)
		return Credential{}, fmt.Errorf("sign challenge: %w", err)
	}

	auth, err := v.VerifyWallet(ctx, address, sig)
	if err != nil {
		s.Fail(err)
		return Credential{}, fmt.Errorf("verify wallet: %w", err)
	}
	if auth.Address != "" {
		address = auth.Address
	}
	return s.Authenticate(address, auth.Token)
}

// StaticSigner returns a fixed, pre-computed signature.
type StaticSigner string

func (s StaticSigner) Sign(_ context.Context, _ string) (string, error) {
	if s == "" {
		return "", errors.New("no signature provided")
	}
	return string(s), nil
}

// CommandSigner runs an external program that reads the message on stdin and
// prints the signature on stdout.
type CommandSigner struct {
	Command string
	Args    []string
}

// ParseCommandSigner splits a command line on whitespace.
func ParseCommandSigner(cmdline string) (*CommandSigner, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("empty signer command")
	}
	return &CommandSigner{Command: fields[0], Args: fields[1:]}, nil
}

func (c *CommandSigner) Sign(ctx context.Context, message string) (string, error) {
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = strings.NewReader(message)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("run signer %s: %w: %s", c.Command, err, msg)
		}
		return "", fmt.Errorf("run signer %s: %w", c.Command, err)
	}
	sig := strings.TrimSpace(stdout.String())
	if sig == "" {
		return "", fmt.Errorf("signer %s printed no signature", c.Command)
	}
	return sig, nil
}
