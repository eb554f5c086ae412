package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/rate"
	"github.com/AfriConnectExchange/authcore/token"
)

// SignUp registers an account in pending status and dispatches the
// verification challenge. Phone sign-ups receive an OTP synchronously and
// fail the whole sign-up when delivery exhausts its retries; email
// sign-ups dispatch the verification link best-effort, since resend is
// always available.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) (SignUpResult, error) {
	if err := e.ready(); err != nil {
		return SignUpResult{}, err
	}
	if err := validateStruct(req); err != nil {
		return SignUpResult{}, err
	}
	if req.Email == "" && req.Phone == "" {
		return SignUpResult{}, newValidationError("identifier", "email or phone required")
	}

	identifier := req.Email
	if req.Phone != "" {
		identifier = req.Phone
	}

	if err := e.limiter.Check(ctx, identifier, rate.ActionSignup); err != nil {
		var limited *rate.RateLimitedError
		if errors.As(err, &limited) {
			e.metrics.Inc(MetricSignUpRateLimited)
			e.emit(ctx, AuditEvent{EventType: "signup.rate_limited"})
			return SignUpResult{}, limited
		}
		return SignUpResult{}, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		// Policy failures read as validation problems to the caller.
		return SignUpResult{}, newValidationError("password", err.Error())
	}

	account, err := e.accounts.Create(ctx, Account{
		Email:        req.Email,
		Phone:        req.Phone,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Status:       StatusPending,
		Roles:        []string{e.cfg.DefaultRole},
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrDuplicateIdentifier) {
			outcome = "duplicate"
			e.metrics.Inc(MetricSignUpDuplicate)
			e.emit(ctx, AuditEvent{EventType: "signup.duplicate"})
		}
		e.recordAttempt(ctx, identifier, rate.ActionSignup, outcome)
		return SignUpResult{}, err
	}

	result := SignUpResult{AccountID: account.ID, Status: account.Status}

	// Phone verification is mandatory for phone accounts, so the OTP ride
	// shares the caller's deadline and its failure fails the sign-up. The
	// account stays pending either way; retrying sign-up is safe.
	if req.Phone != "" {
		result.Channel = notify.ChannelSMS
		if err := e.sendOTP(ctx, req.Phone); err != nil {
			e.metrics.Inc(MetricSignUpDeliveryFailed)
			e.recordAttempt(ctx, identifier, rate.ActionSignup, "delivery_failed")
			e.emit(ctx, AuditEvent{
				EventType: "signup.delivery_failed",
				AccountID: account.ID,
				Error:     err.Error(),
			})
			return SignUpResult{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	} else {
		result.Channel = notify.ChannelEmail
		if err := e.sendVerificationEmail(ctx, req.Email); err != nil {
			// Non-fatal: the account exists in pending and the user can ask
			// for a resend.
			e.log.Warn(ctx, "verification email not issued",
				"account_id", account.ID, "error", err)
		}
	}

	e.metrics.Inc(MetricSignUpSuccess)
	e.recordAttempt(ctx, identifier, rate.ActionSignup, "success")
	e.emit(ctx, AuditEvent{
		EventType: "signup.created",
		AccountID: account.ID,
		Success:   true,
		Metadata:  map[string]string{"channel": string(result.Channel)},
	})
	e.log.Info(ctx, "account created", "account_id", account.ID, "channel", string(result.Channel))

	return result, nil
}

// sendOTP issues a fresh code for the phone and delivers it synchronously.
// Issuing replaces any previous unused code.
func (e *Engine) sendOTP(ctx context.Context, phone string) error {
	code, _, err := e.tokens.IssueOTP(ctx, phone, e.cfg.TTL.OTP)
	if err != nil {
		return err
	}
	if err := e.dispatcher.Send(ctx, notify.OTPSMS(phone, code)); err != nil {
		e.metrics.Inc(MetricNotificationExhausted)
		return err
	}
	e.metrics.Inc(MetricNotificationSent)
	return nil
}

// sendVerificationEmail issues a link token and dispatches the email
// best-effort on the dispatcher's own schedule.
func (e *Engine) sendVerificationEmail(ctx context.Context, email string) error {
	plaintext, _, err := e.tokens.Issue(ctx, token.EmailVerification, email, e.cfg.TTL.Verification)
	if err != nil {
		return err
	}
	link := verificationLink(e.cfg.Links.VerifyBaseURL, email, plaintext)
	e.dispatcher.SendAsync(ctx, notify.VerificationEmail(email, link, humanTTL(e.cfg.TTL.Verification)))
	return nil
}

// recordAttempt journals a rate-limit attempt; a lost record only weakens
// limiting for one window and is not worth failing the flow over.
func (e *Engine) recordAttempt(ctx context.Context, identifier string, action rate.Action, outcome string) {
	if err := e.limiter.Record(ctx, identifier, action, outcome); err != nil {
		e.log.Warn(ctx, "rate attempt not recorded", "action", string(action), "error", err)
	}
}
