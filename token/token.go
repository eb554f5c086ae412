// Package token issues and consumes single-use secrets: email verification
// links, password reset links, and SMS one-time passcodes. Plaintext secrets
// are returned exactly once at issue time; only a SHA-256 digest is ever
// handed to the store.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AfriConnectExchange/authcore/internal/secrets"
	"github.com/AfriConnectExchange/authcore/logging"
	"github.com/google/uuid"
)

// Kind discriminates token namespaces. A subject may hold at most one active
// token per kind; issuing a new one replaces the previous.
type Kind string

const (
	EmailVerification Kind = "email_verify"
	PasswordReset     Kind = "password_reset"
	PhoneOTP          Kind = "phone_otp"
)

// Record is a persisted single-use token. The plaintext is never stored.
type Record struct {
	ID         string
	Kind       Kind
	Subject    string
	SecretHash [32]byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Store persistence errors. Hash mismatches and missing records both map to
// ErrNoRecord so the caller cannot distinguish a wrong secret from an absent
// one.
var (
	ErrNoRecord = errors.New("token: no matching record")
	ErrExpired  = errors.New("token: expired")
)

// Store is the persistence surface the service needs. Consume must be
// atomic: two concurrent calls with the same correct plaintext must not both
// return the record.
type Store interface {
	// Put stores rec, replacing any active record for (rec.Kind, rec.Subject).
	Put(ctx context.Context, rec Record) error

	// Consume compares hash against the active record for (kind, subject)
	// in constant time and, on match, deletes the record and returns it.
	// A miss or mismatch returns ErrNoRecord.
	Consume(ctx context.Context, kind Kind, subject string, hash [32]byte) (Record, error)

	// Delete purges the active record for (kind, subject) without a
	// comparison. Deleting an absent record is not an error.
	Delete(ctx context.Context, kind Kind, subject string) error
}

// Service issues and consumes single-use tokens against a Store.
type Service struct {
	store Store
	log   logging.Logger
	now   func() time.Time
}

// NewService builds a Service. A nil logger is replaced with a no-op one.
func NewService(store Store, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop{}
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock replaces the service's time source. Expiry decisions follow the
// injected clock; record TTLs at the store stay on real time.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue generates a 32-byte random link secret for the subject, persists its
// hash with the given TTL, and returns the plaintext and record id. Any
// previously active token of the same kind for the subject is replaced.
func (s *Service) Issue(ctx context.Context, kind Kind, subject string, ttl time.Duration) (plaintext, recordID string, err error) {
	plaintext, err = secrets.NewToken()
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	recordID, err = s.put(ctx, kind, subject, plaintext, ttl)
	return plaintext, recordID, err
}

// IssueOTP is Issue with a 6-digit numeric code instead of a link secret.
// Used for phone verification; the short TTL is the caller's responsibility.
func (s *Service) IssueOTP(ctx context.Context, subject string, ttl time.Duration) (code, recordID string, err error) {
	code, err = secrets.NewOTP()
	if err != nil {
		return "", "", fmt.Errorf("generate otp: %w", err)
	}
	recordID, err = s.put(ctx, PhoneOTP, subject, code, ttl)
	return code, recordID, err
}

func (s *Service) put(ctx context.Context, kind Kind, subject, plaintext string, ttl time.Duration) (string, error) {
	now := s.now()
	rec := Record{
		ID:         uuid.NewString(),
		Kind:       kind,
		Subject:    subject,
		SecretHash: secrets.HashString(plaintext),
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	s.log.Debug(ctx, "token issued", "kind", string(kind), "record_id", rec.ID)
	return rec.ID, nil
}

// Consume validates plaintext against the subject's active token of the
// given kind and destroys the record on match, so a second call with the
// same plaintext fails with ErrNoRecord. A matched but expired record is
// destroyed as well and reported as ErrExpired.
func (s *Service) Consume(ctx context.Context, kind Kind, subject, plaintext string) (Record, error) {
	rec, err := s.store.Consume(ctx, kind, subject, secrets.HashString(plaintext))
	if err != nil {
		return Record{}, err
	}
	if s.now().After(rec.ExpiresAt) {
		s.log.Debug(ctx, "token consumed past expiry", "kind", string(kind), "record_id", rec.ID)
		return Record{}, ErrExpired
	}
	return rec, nil
}

// Revoke discards the subject's active token of the given kind without
// requiring the plaintext.
func (s *Service) Revoke(ctx context.Context, kind Kind, subject string) error {
	return s.store.Delete(ctx, kind, subject)
}
