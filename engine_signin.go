package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/rate"
)

// SignIn authenticates an email or phone identifier against its password.
// Unknown identifiers and wrong passwords are indistinguishable from the
// outside. Unverified accounts get a needs-verification result instead of
// a session; suspended, deactivated, and deleted accounts are refused.
func (e *Engine) SignIn(ctx context.Context, req SignInRequest) (SignInResult, error) {
	if err := e.ready(); err != nil {
		return SignInResult{}, err
	}
	if err := validateStruct(req); err != nil {
		return SignInResult{}, err
	}

	if err := e.limiter.Check(ctx, req.Identifier, rate.ActionLogin); err != nil {
		var limited *rate.RateLimitedError
		if errors.As(err, &limited) {
			e.metrics.Inc(MetricSignInRateLimited)
			e.emit(ctx, AuditEvent{EventType: "signin.rate_limited"})
			return SignInResult{}, limited
		}
		return SignInResult{}, err
	}

	account, err := e.lookupByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SignInResult{}, e.failSignIn(ctx, req.Identifier, "", "unknown_identifier")
		}
		return SignInResult{}, err
	}

	ok, err := e.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil {
		return SignInResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return SignInResult{}, e.failSignIn(ctx, req.Identifier, account.ID, "bad_password")
	}

	switch account.Status {
	case StatusSuspended, StatusDeactivated, StatusDeleted:
		e.recordAttempt(ctx, req.Identifier, rate.ActionLogin, "disabled")
		e.emit(ctx, AuditEvent{EventType: "signin.disabled", AccountID: account.ID})
		return SignInResult{}, ErrAccountDisabled
	case StatusPending:
		// Correct credentials, but the identifier is not verified yet: tell
		// the caller where the challenge goes instead of opening a session.
		channel := notify.ChannelEmail
		if account.Phone != "" && !account.PhoneVerified {
			channel = notify.ChannelSMS
		}
		e.metrics.Inc(MetricSignInUnverified)
		e.recordAttempt(ctx, req.Identifier, rate.ActionLogin, "unverified")
		e.emit(ctx, AuditEvent{EventType: "signin.unverified", AccountID: account.ID})
		return SignInResult{
			Profile:           account.Profile(),
			NeedsVerification: true,
			Channel:           channel,
		}, nil
	}

	handle, err := e.openSession(ctx, account, req.RememberMe)
	if err != nil {
		return SignInResult{}, err
	}

	e.metrics.Inc(MetricSignInSuccess)
	e.recordAttempt(ctx, req.Identifier, rate.ActionLogin, "success")
	e.emit(ctx, AuditEvent{
		EventType: "signin.success",
		AccountID: account.ID,
		Success:   true,
	})

	return SignInResult{Session: &handle, Profile: account.Profile()}, nil
}

func (e *Engine) failSignIn(ctx context.Context, identifier, accountID, reason string) error {
	e.metrics.Inc(MetricSignInFailure)
	e.recordAttempt(ctx, identifier, rate.ActionLogin, reason)
	e.emit(ctx, AuditEvent{
		EventType: "signin.failure",
		AccountID: accountID,
		Error:     reason,
	})
	return ErrUnauthorized
}
