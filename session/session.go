// Package session manages the lifecycle of sign-in sessions: opaque bearer
// tokens with a CSRF companion, validated against a store that is the single
// source of truth. Sessions are soft-deleted on revocation so the record
// remains inspectable until retention lapses.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/AfriConnectExchange/authcore/device"
	"github.com/AfriConnectExchange/authcore/internal/secrets"
	"github.com/AfriConnectExchange/authcore/logging"
)

// Session is the persisted record. ID is derived from the bearer token's
// hash, so the plaintext token never reaches the store.
type Session struct {
	ID             string
	AccountID      string
	Fingerprint    string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	Active         bool
	RevokedAt      time.Time
}

// Handle is what a successful sign-in hands back to the transport layer.
// Token and CSRFToken are shown once and never retrievable afterwards.
type Handle struct {
	Token     string
	CSRFToken string
	ExpiresAt time.Time
}

var (
	// ErrInvalid covers unknown, revoked, and expired sessions alike so the
	// caller cannot probe which of the three it was.
	ErrInvalid = errors.New("session: invalid")

	// ErrNotFound is the store-level miss; the manager folds it into
	// ErrInvalid before it reaches callers.
	ErrNotFound = errors.New("session: not found")
)

// Store persists sessions keyed by ID. Revocation flips the active flag in
// place; records are only physically removed by retention expiry.
type Store interface {
	Put(ctx context.Context, s Session, retainFor time.Duration) error
	Get(ctx context.Context, id string) (Session, error)

	// Touch updates LastActivityAt. Best-effort: the manager ignores its
	// failure.
	Touch(ctx context.Context, id string, at time.Time) error

	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAll(ctx context.Context, accountID string, at time.Time) (int, error)

	// SweepExpired marks every active session with ExpiresAt before now as
	// inactive and reports how many it flipped.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Options tune session lifetimes. Zero fields take the defaults.
type Options struct {
	// TTL is the lifetime of a standard session. Default 24h.
	TTL time.Duration
	// RememberTTL is the lifetime when the caller asked to stay signed in.
	// Default 30 days.
	RememberTTL time.Duration
	// RevokedRetention is how long a session record outlives its expiry or
	// revocation for inspection. Default 72h.
	RevokedRetention time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.TTL <= 0 {
		out.TTL = 24 * time.Hour
	}
	if out.RememberTTL <= 0 {
		out.RememberTTL = 30 * 24 * time.Hour
	}
	if out.RevokedRetention <= 0 {
		out.RevokedRetention = 72 * time.Hour
	}
	return out
}

// Manager creates, validates, and revokes sessions.
type Manager struct {
	store Store
	csrf  *CSRFSigner
	opts  Options
	log   logging.Logger
	now   func() time.Time
}

func NewManager(store Store, csrf *CSRFSigner, opts Options, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop{}
	}
	return &Manager{
		store: store,
		csrf:  csrf,
		opts:  opts.withDefaults(),
		log:   log,
		now:   time.Now,
	}
}

// WithClock replaces the manager's time source. Expiry and activity
// decisions follow the injected clock; store retention stays on real time.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// IDFromToken derives the storage ID for a bearer token.
func IDFromToken(token string) string {
	sum := secrets.HashString(token)
	return hex.EncodeToString(sum[:])
}

// Create opens a new session for the account. Every sign-in gets a fresh
// row; terminal sessions are never resurrected.
func (m *Manager) Create(ctx context.Context, accountID string, dev device.Info, rememberMe bool) (Handle, error) {
	tok, err := secrets.NewToken()
	if err != nil {
		return Handle{}, fmt.Errorf("generate session token: %w", err)
	}

	now := m.now()
	ttl := m.opts.TTL
	if rememberMe {
		ttl = m.opts.RememberTTL
	}
	s := Session{
		ID:             IDFromToken(tok),
		AccountID:      accountID,
		Fingerprint:    device.Derive(dev),
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
		Active:         true,
	}
	if err := m.store.Put(ctx, s, ttl+m.opts.RevokedRetention); err != nil {
		return Handle{}, fmt.Errorf("store session: %w", err)
	}

	csrfTok, err := m.csrf.Issue(s.ID, s.ExpiresAt)
	if err != nil {
		return Handle{}, fmt.Errorf("issue csrf token: %w", err)
	}

	m.log.Info(ctx, "session created",
		"session_id", s.ID, "account_id", accountID, "remember_me", rememberMe)
	return Handle{Token: tok, CSRFToken: csrfTok, ExpiresAt: s.ExpiresAt}, nil
}

// Validate resolves a bearer token to its live session. Unknown, revoked,
// and expired sessions all return ErrInvalid. On success the session's
// LastActivityAt is bumped best-effort; a lost touch is not an error.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	id := IDFromToken(token)
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalid
		}
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	now := m.now()
	if !s.Active || now.After(s.ExpiresAt) {
		return Session{}, ErrInvalid
	}
	if err := m.store.Touch(ctx, id, now); err != nil {
		m.log.Debug(ctx, "session touch lost", "session_id", id, "error", err)
	} else {
		s.LastActivityAt = now
	}
	return s, nil
}

// VerifyCSRF checks that csrfToken is the valid companion of the session.
func (m *Manager) VerifyCSRF(sessionID, csrfToken string) error {
	return m.csrf.Verify(csrfToken, sessionID)
}

// Revoke marks the session behind token inactive. Revoking an unknown or
// already revoked session is a no-op, so sign-out is idempotent.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	id := IDFromToken(token)
	err := m.store.Revoke(ctx, id, m.now())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	m.log.Info(ctx, "session revoked", "session_id", id)
	return nil
}

// RevokeAll marks every session of the account inactive, used on password
// change or compromise response.
func (m *Manager) RevokeAll(ctx context.Context, accountID string) (int, error) {
	n, err := m.store.RevokeAll(ctx, accountID, m.now())
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	m.log.Info(ctx, "sessions revoked", "account_id", accountID, "count", n)
	return n, nil
}

// SweepExpired flips every session past its expiry to inactive. Idempotent;
// meant to run periodically.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.store.SweepExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	if n > 0 {
		m.log.Info(ctx, "expired sessions swept", "count", n)
	}
	return n, nil
}
