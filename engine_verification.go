package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/rate"
	"github.com/AfriConnectExchange/authcore/token"
)

// VerifyEmail consumes an email verification token, activates the account,
// and opens a session so the user lands signed in. The welcome email is
// best-effort and never blocks the login.
func (e *Engine) VerifyEmail(ctx context.Context, email, verificationToken string) (VerifyResult, error) {
	if err := e.ready(); err != nil {
		return VerifyResult{}, err
	}

	if _, err := e.tokens.Consume(ctx, token.EmailVerification, email, verificationToken); err != nil {
		e.metrics.Inc(MetricEmailVerifyFailure)
		e.emit(ctx, AuditEvent{EventType: "verify.email_failure", Error: err.Error()})
		return VerifyResult{}, mapTokenErr(err)
	}

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return VerifyResult{}, ErrUnauthorized
		}
		return VerifyResult{}, err
	}

	if err := e.accounts.SetEmailVerified(ctx, account.ID, time.Now()); err != nil {
		return VerifyResult{}, fmt.Errorf("mark email verified: %w", err)
	}
	account.EmailVerified = true
	if account.Status == StatusPending {
		account.Status = StatusActive
	}

	handle, err := e.openSession(ctx, account, false)
	if err != nil {
		return VerifyResult{}, err
	}

	e.dispatcher.SendAsync(ctx, notify.WelcomeEmail(account.Email, account.DisplayName))

	e.metrics.Inc(MetricEmailVerifySuccess)
	e.emit(ctx, AuditEvent{
		EventType: "verify.email_success",
		AccountID: account.ID,
		Success:   true,
	})
	e.log.Info(ctx, "email verified", "account_id", account.ID)

	return VerifyResult{Session: handle, Profile: account.Profile()}, nil
}

// VerifyOtp consumes the phone's active one-time code, activates the
// account, and opens a session.
func (e *Engine) VerifyOtp(ctx context.Context, phone, code string) (VerifyResult, error) {
	if err := e.ready(); err != nil {
		return VerifyResult{}, err
	}

	if _, err := e.tokens.Consume(ctx, token.PhoneOTP, phone, code); err != nil {
		e.metrics.Inc(MetricOTPVerifyFailure)
		e.emit(ctx, AuditEvent{EventType: "verify.otp_failure", Error: err.Error()})
		return VerifyResult{}, mapTokenErr(err)
	}

	account, err := e.accounts.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return VerifyResult{}, ErrUnauthorized
		}
		return VerifyResult{}, err
	}

	if err := e.accounts.SetPhoneVerified(ctx, account.ID, time.Now()); err != nil {
		return VerifyResult{}, fmt.Errorf("mark phone verified: %w", err)
	}
	account.PhoneVerified = true
	if account.Status == StatusPending {
		account.Status = StatusActive
	}

	handle, err := e.openSession(ctx, account, false)
	if err != nil {
		return VerifyResult{}, err
	}

	e.metrics.Inc(MetricOTPVerifySuccess)
	e.emit(ctx, AuditEvent{
		EventType: "verify.otp_success",
		AccountID: account.ID,
		Success:   true,
	})
	e.log.Info(ctx, "phone verified", "account_id", account.ID)

	return VerifyResult{Session: handle, Profile: account.Profile()}, nil
}

// ResendVerification reissues the pending challenge for an identifier. For
// already verified accounts and unknown identifiers it is a silent no-op,
// so the endpoint cannot be used to probe registrations. Delivery failures
// are surfaced: the caller explicitly asked for this message.
func (e *Engine) ResendVerification(ctx context.Context, identifier string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if identifier == "" {
		return newValidationError("identifier", "required")
	}

	action := rate.ActionEmailResend
	if !isEmail(identifier) {
		action = rate.ActionOTP
	}
	if err := e.limiter.Check(ctx, identifier, action); err != nil {
		var limited *rate.RateLimitedError
		if errors.As(err, &limited) {
			return limited
		}
		return err
	}
	e.recordAttempt(ctx, identifier, action, "resend")

	account, err := e.lookupByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same outward behavior as the verified case below.
			e.metrics.Inc(MetricResendSuppressed)
			return nil
		}
		return err
	}

	if isEmail(identifier) {
		if account.EmailVerified {
			e.metrics.Inc(MetricResendSuppressed)
			return nil
		}
		plaintext, _, err := e.tokens.Issue(ctx, token.EmailVerification, account.Email, e.cfg.TTL.Verification)
		if err != nil {
			return err
		}
		link := verificationLink(e.cfg.Links.VerifyBaseURL, account.Email, plaintext)
		msg := notify.VerificationEmail(account.Email, link, humanTTL(e.cfg.TTL.Verification))
		if err := e.dispatcher.Send(ctx, msg); err != nil {
			e.metrics.Inc(MetricNotificationExhausted)
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		e.metrics.Inc(MetricNotificationSent)
	} else {
		if account.PhoneVerified {
			e.metrics.Inc(MetricResendSuppressed)
			return nil
		}
		if err := e.sendOTP(ctx, account.Phone); err != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	}

	e.metrics.Inc(MetricVerificationResent)
	e.emit(ctx, AuditEvent{
		EventType: "verify.resent",
		AccountID: account.ID,
		Success:   true,
	})
	return nil
}
