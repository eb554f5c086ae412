package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/AfriConnectExchange/authcore/token"
)

// IssueAPIKey mints a long-lived key for the account. The plaintext in the
// result is shown exactly once.
func (e *Engine) IssueAPIKey(ctx context.Context, accountID string) (APIKeyResult, error) {
	if err := e.ready(); err != nil {
		return APIKeyResult{}, err
	}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return APIKeyResult{}, err
	}
	if account.Status != StatusActive {
		return APIKeyResult{}, ErrAccountDisabled
	}

	plaintext, keyID, err := e.apiKeys.Issue(ctx, account.ID, e.cfg.TTL.APIKey)
	if err != nil {
		return APIKeyResult{}, err
	}

	e.metrics.Inc(MetricAPIKeyIssued)
	e.emit(ctx, AuditEvent{
		EventType: "apikey.issued",
		AccountID: account.ID,
		Success:   true,
		Metadata:  map[string]string{"key_id": keyID},
	})
	return APIKeyResult{
		Key:       plaintext,
		KeyID:     keyID,
		ExpiresAt: time.Now().Add(e.cfg.TTL.APIKey),
	}, nil
}

// VerifyAPIKey resolves a presented key to its account projection. Revoked,
// unknown, and malformed keys return ErrUnauthorized; expiry is reported
// distinctly.
func (e *Engine) VerifyAPIKey(ctx context.Context, key string) (Profile, error) {
	if err := e.ready(); err != nil {
		return Profile{}, err
	}

	accountID, err := e.apiKeys.Verify(ctx, key)
	if err != nil {
		if errors.Is(err, token.ErrKeyExpired) {
			return Profile{}, ErrTokenExpired
		}
		return Profile{}, ErrUnauthorized
	}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, ErrUnauthorized
		}
		return Profile{}, err
	}
	if account.Status != StatusActive {
		return Profile{}, ErrAccountDisabled
	}
	return account.Profile(), nil
}

// RevokeAPIKey kills one key by id. Key revocation is independent of the
// session lifecycle.
func (e *Engine) RevokeAPIKey(ctx context.Context, keyID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.apiKeys.Revoke(ctx, keyID); err != nil {
		return err
	}
	e.metrics.Inc(MetricAPIKeyRevoked)
	e.emit(ctx, AuditEvent{
		EventType: "apikey.revoked",
		Success:   true,
		Metadata:  map[string]string{"key_id": keyID},
	})
	return nil
}

// RevokeAccountAPIKeys kills every key of the account, rounding out the
// compromise response next to RevokeAllSessions.
func (e *Engine) RevokeAccountAPIKeys(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.apiKeys.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	e.metrics.Inc(MetricAPIKeyRevoked)
	e.emit(ctx, AuditEvent{
		EventType: "apikey.revoked_all",
		AccountID: accountID,
		Success:   true,
	})
	return nil
}
