package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/AfriConnectExchange/authcore/session"
)

// openSession creates a session bound to the request's device fingerprint
// and bumps the account's login bookkeeping.
func (e *Engine) openSession(ctx context.Context, account Account, rememberMe bool) (session.Handle, error) {
	handle, err := e.sessions.Create(ctx, account.ID, e.deviceInfo(ctx), rememberMe)
	if err != nil {
		return session.Handle{}, err
	}
	e.metrics.Inc(MetricSessionCreated)

	if err := e.accounts.RecordLogin(ctx, account.ID, time.Now()); err != nil {
		// Login counters are observability, not security; the session
		// stands.
		e.log.Warn(ctx, "login counter not recorded", "account_id", account.ID, "error", err)
	}
	return handle, nil
}

// GetCurrentSession resolves a bearer token to the session and its account
// projection. Invalid, revoked, and expired sessions all return
// ErrSessionInvalid.
func (e *Engine) GetCurrentSession(ctx context.Context, sessionToken string) (CurrentSession, error) {
	if err := e.ready(); err != nil {
		return CurrentSession{}, err
	}

	start := time.Now()
	s, err := e.sessions.Validate(ctx, sessionToken)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		if errors.Is(err, session.ErrInvalid) {
			e.metrics.Inc(MetricSessionValidateFailure)
			return CurrentSession{}, ErrSessionInvalid
		}
		return CurrentSession{}, err
	}

	account, err := e.accounts.GetByID(ctx, s.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CurrentSession{}, ErrSessionInvalid
		}
		return CurrentSession{}, err
	}
	// A status change after sign-in invalidates the live session view.
	switch account.Status {
	case StatusSuspended, StatusDeactivated, StatusDeleted:
		return CurrentSession{}, ErrSessionInvalid
	}

	return CurrentSession{
		SessionID:      s.ID,
		AccountID:      s.AccountID,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
		Profile:        account.Profile(),
	}, nil
}

// VerifyCSRF checks a CSRF companion token against the session identified
// by the bearer token.
func (e *Engine) VerifyCSRF(ctx context.Context, sessionToken, csrfToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	s, err := e.sessions.Validate(ctx, sessionToken)
	if err != nil {
		return ErrSessionInvalid
	}
	if err := e.sessions.VerifyCSRF(s.ID, csrfToken); err != nil {
		return ErrSessionInvalid
	}
	return nil
}

// SignOut revokes the session behind the token. Idempotent: signing out an
// already dead session succeeds.
func (e *Engine) SignOut(ctx context.Context, sessionToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Revoke(ctx, sessionToken); err != nil {
		return err
	}
	e.metrics.Inc(MetricSignOut)
	e.emit(ctx, AuditEvent{EventType: "signout", Success: true})
	return nil
}

// RevokeAllSessions kills every session of the account, the compromise
// response path. API keys are independent and survive.
func (e *Engine) RevokeAllSessions(ctx context.Context, accountID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}
	e.emit(ctx, AuditEvent{
		EventType: "sessions.revoke_all",
		AccountID: accountID,
		Success:   true,
	})
	return n, nil
}

// SweepExpiredSessions deactivates sessions past their expiry. Run it
// periodically; it is idempotent.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.sessions.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		e.metrics.Inc(MetricSessionsSwept)
	}
	return n, nil
}
