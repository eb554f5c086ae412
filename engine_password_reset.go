package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/rate"
	"github.com/AfriConnectExchange/authcore/token"
)

// RequestPasswordReset issues a reset link for the email. The response is
// identical whether or not the address has an account, and delivery runs
// detached from the request, so neither the result nor its timing leaks
// registration state.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if email == "" || !isEmail(email) {
		return newValidationError("email", "valid email required")
	}

	if err := e.limiter.Check(ctx, email, rate.ActionPasswordReset); err != nil {
		var limited *rate.RateLimitedError
		if errors.As(err, &limited) {
			return limited
		}
		return err
	}
	e.recordAttempt(ctx, email, rate.ActionPasswordReset, "request")

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	plaintext, _, err := e.tokens.Issue(ctx, token.PasswordReset, account.Email, e.cfg.TTL.PasswordReset)
	if err != nil {
		return err
	}
	link := verificationLink(e.cfg.Links.ResetBaseURL, account.Email, plaintext)
	e.dispatcher.SendAsync(ctx, notify.PasswordResetEmail(account.Email, link, humanTTL(e.cfg.TTL.PasswordReset)))

	e.metrics.Inc(MetricPasswordResetRequest)
	e.emit(ctx, AuditEvent{
		EventType: "password_reset.requested",
		AccountID: account.ID,
		Success:   true,
	})
	return nil
}

// ResetPassword consumes a reset token, installs the new password, and
// revokes every session of the account.
func (e *Engine) ResetPassword(ctx context.Context, email, resetToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	rec, err := e.tokens.Consume(ctx, token.PasswordReset, email, resetToken)
	if err != nil {
		e.metrics.Inc(MetricPasswordResetFailure)
		e.emit(ctx, AuditEvent{EventType: "password_reset.failure", Error: err.Error()})
		return mapTokenErr(err)
	}

	account, err := e.accounts.GetByEmail(ctx, rec.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		// The token is already burnt; a policy failure here needs a fresh
		// request. Safer than holding a live token for a retry loop.
		return newValidationError("password", err.Error())
	}
	if err := e.accounts.SetPassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("store new password: %w", err)
	}

	if _, err := e.sessions.RevokeAll(ctx, account.ID); err != nil {
		// The password did change; stale sessions expiring on their own is
		// the fallback.
		e.log.Error(ctx, "session revocation after reset failed",
			"account_id", account.ID, "error", err)
	}

	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emit(ctx, AuditEvent{
		EventType: "password_reset.success",
		AccountID: account.ID,
		Success:   true,
	})
	e.log.Info(ctx, "password reset", "account_id", account.ID)
	return nil
}
