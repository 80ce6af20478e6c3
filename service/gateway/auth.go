package gateway

import (
	"context"
	"crypto/subtle"
	"strconv"

	"PGate/logger"
	"PGate/module/user"
	"PGate/tools/security"
)

type Credentials struct {
	UserID     int64
	Password   string
	DeviceType DeviceType
	Status     OnlineStatus
	Location   *Location
}

// Outcome of one authenticator. Skip means "no opinion, ask the next one".
type Outcome int

const (
	OutcomeSkip Outcome = iota
	OutcomeAllow
	OutcomeDeny
)

type Authenticator interface {
	Authenticate(ctx context.Context, c *Credentials) Outcome
}

// Chain runs externally-registered authenticators in order; the first
// non-Skip outcome decides. When every authenticator skips, the built-in
// credential check decides.
type Chain struct {
	authenticators []Authenticator
	builtin        Authenticator
}

func NewChain(builtin Authenticator, authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators, builtin: builtin}
}

func (c *Chain) Append(a Authenticator) {
	c.authenticators = append(c.authenticators, a)
}

func (c *Chain) Authenticate(ctx context.Context, creds *Credentials) Outcome {
	for _, a := range c.authenticators {
		if outcome := a.Authenticate(ctx, creds); outcome != OutcomeSkip {
			return outcome
		}
	}
	if c.builtin == nil {
		return OutcomeDeny
	}
	return c.builtin.Authenticate(ctx, creds)
}

// ===== Built-in password check =====

// PasswordAuthenticator verifies credentials against the account store.
// Inactive or soft-deleted accounts are denied regardless of password.
type PasswordAuthenticator struct {
	store user.Store
}

func NewPasswordAuthenticator(store user.Store) *PasswordAuthenticator {
	return &PasswordAuthenticator{store: store}
}

func (a *PasswordAuthenticator) Authenticate(ctx context.Context, c *Credentials) Outcome {
	acct, err := a.store.Account(ctx, c.UserID)
	if err != nil {
		logger.Warnf("[auth] account lookup err user=%d: %v", c.UserID, err)
		return OutcomeDeny
	}
	if acct == nil || !acct.Active || acct.Deleted {
		return OutcomeDeny
	}
	want := []byte(acct.PasswordHash)
	got := []byte(user.HashPassword(c.Password))
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return OutcomeDeny
	}
	return OutcomeAllow
}

// ===== JWT token authenticator =====

// TokenAuthenticator allows a signed token in place of a password. A value
// that does not look like a JWT is skipped so the rest of the chain (and
// finally the password check) can decide.
type TokenAuthenticator struct {
	opts security.Options
}

func NewTokenAuthenticator(opts security.Options) *TokenAuthenticator {
	return &TokenAuthenticator{opts: opts}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, c *Credentials) Outcome {
	if !looksLikeJWT(c.Password) {
		return OutcomeSkip
	}
	claims, err := security.Verify(a.opts, c.Password)
	if err != nil {
		return OutcomeDeny
	}
	if claims.Subject() != strconv.FormatInt(c.UserID, 10) {
		return OutcomeDeny
	}
	return OutcomeAllow
}

func looksLikeJWT(s string) bool {
	dots := 0
	for _, r := range s {
		if r == '.' {
			dots++
		}
	}
	return dots == 2 && len(s) > 20
}
