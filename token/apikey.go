package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AfriConnectExchange/authcore/internal/secrets"
	"github.com/AfriConnectExchange/authcore/logging"
)

// APIKeyRecord is a persisted long-lived key. The plaintext handed to the
// caller encodes the key id alongside the secret, so verification is a
// direct lookup rather than a scan.
type APIKeyRecord struct {
	KeyID      string
	AccountID  string
	SecretHash [32]byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  time.Time
}

var (
	// ErrKeyInvalid covers unknown, malformed, and revoked keys alike.
	ErrKeyInvalid = errors.New("token: api key invalid")
	// ErrKeyExpired marks a known key past its TTL.
	ErrKeyExpired = errors.New("token: api key expired")
)

// APIKeyStore persists keys by key id. Revocation is a flag flip, never a
// delete, so revoked keys remain auditable.
type APIKeyStore interface {
	Put(ctx context.Context, rec APIKeyRecord) error
	Get(ctx context.Context, keyID string) (APIKeyRecord, error)
	Revoke(ctx context.Context, keyID string, at time.Time) error
	RevokeAll(ctx context.Context, accountID string, at time.Time) error
}

// APIKeys issues and verifies long-lived keys, independent of the session
// lifecycle. Keys outlive sign-outs and revoke-all-sessions events.
type APIKeys struct {
	store APIKeyStore
	log   logging.Logger
	now   func() time.Time
}

func NewAPIKeys(store APIKeyStore, log logging.Logger) *APIKeys {
	if log == nil {
		log = logging.Nop{}
	}
	return &APIKeys{store: store, log: log, now: time.Now}
}

// Issue mints a key for the account with the given TTL, typically a year or
// more. The returned plaintext is shown once; only its hash is stored.
func (k *APIKeys) Issue(ctx context.Context, accountID string, ttl time.Duration) (plaintext, keyID string, err error) {
	plaintext, keyID, err = secrets.NewAPIKey()
	if err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	_, secretHash, err := secrets.SplitAPIKey(plaintext)
	if err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	now := k.now()
	rec := APIKeyRecord{
		KeyID:      keyID,
		AccountID:  accountID,
		SecretHash: secretHash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := k.store.Put(ctx, rec); err != nil {
		return "", "", fmt.Errorf("store api key: %w", err)
	}
	k.log.Info(ctx, "api key issued", "key_id", keyID, "account_id", accountID)
	return plaintext, keyID, nil
}

// Verify resolves a presented plaintext key to its owning account. Unknown,
// malformed, revoked, and wrong-secret keys all return ErrKeyInvalid.
func (k *APIKeys) Verify(ctx context.Context, plaintext string) (accountID string, err error) {
	keyID, secretHash, err := secrets.SplitAPIKey(plaintext)
	if err != nil {
		return "", ErrKeyInvalid
	}
	rec, err := k.store.Get(ctx, keyID)
	if err != nil {
		return "", ErrKeyInvalid
	}
	if !secrets.Equal(secretHash, rec.SecretHash) || rec.Revoked {
		return "", ErrKeyInvalid
	}
	if k.now().After(rec.ExpiresAt) {
		return "", ErrKeyExpired
	}
	return rec.AccountID, nil
}

// Revoke flips the revoked flag on a single key.
func (k *APIKeys) Revoke(ctx context.Context, keyID string) error {
	if err := k.store.Revoke(ctx, keyID, k.now()); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	k.log.Info(ctx, "api key revoked", "key_id", keyID)
	return nil
}

// RevokeAll revokes every key belonging to the account, used alongside
// session revocation in a compromise response.
func (k *APIKeys) RevokeAll(ctx context.Context, accountID string) error {
	if err := k.store.RevokeAll(ctx, accountID, k.now()); err != nil {
		return fmt.Errorf("revoke api keys: %w", err)
	}
	k.log.Info(ctx, "api keys revoked", "account_id", accountID)
	return nil
}
