package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AfriConnectExchange/authcore/internal/secrets"
)

// memStore is an in-memory Store with the same atomicity guarantees the
// real one provides.
type memStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Record)}
}

func key(kind Kind, subject string) string { return string(kind) + "/" + subject }

func (m *memStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key(rec.Kind, rec.Subject)] = rec
	return nil
}

func (m *memStore) Consume(_ context.Context, kind Kind, subject string, hash [32]byte) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(kind, subject)
	rec, ok := m.recs[k]
	if !ok || !secrets.Equal(hash, rec.SecretHash) {
		return Record{}, ErrNoRecord
	}
	delete(m.recs, k)
	return rec, nil
}

func (m *memStore) Delete(_ context.Context, kind Kind, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, key(kind, subject))
	return nil
}

func TestConsumeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	plaintext, recordID, err := svc.Issue(ctx, EmailVerification, "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if recordID == "" {
		t.Fatal("empty record id")
	}

	rec, err := svc.Consume(ctx, EmailVerification, "user@example.com", plaintext)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if rec.Subject != "user@example.com" {
		t.Fatalf("wrong subject %q", rec.Subject)
	}

	if _, err := svc.Consume(ctx, EmailVerification, "user@example.com", plaintext); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("second consume: want ErrNoRecord, got %v", err)
	}
}

func TestConsumeWrongPlaintext(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	plaintext, _, err := svc.Issue(ctx, PasswordReset, "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := svc.Consume(ctx, PasswordReset, "user@example.com", "not-the-token"); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("want ErrNoRecord, got %v", err)
	}

	// The wrong guess must not have destroyed the real token.
	if _, err := svc.Consume(ctx, PasswordReset, "user@example.com", plaintext); err != nil {
		t.Fatalf("correct consume after wrong guess: %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store, nil)

	base := time.Now()
	svc.now = func() time.Time { return base }

	plaintext, _, err := svc.Issue(ctx, EmailVerification, "late@example.com", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := svc.Consume(ctx, EmailVerification, "late@example.com", plaintext); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}

	// Expired consume purges the record.
	if _, err := svc.Consume(ctx, EmailVerification, "late@example.com", plaintext); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("want ErrNoRecord after purge, got %v", err)
	}
}

func TestIssueOTPReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	first, _, err := svc.IssueOTP(ctx, "+2348012345678", 10*time.Minute)
	if err != nil {
		t.Fatalf("first otp: %v", err)
	}
	second, _, err := svc.IssueOTP(ctx, "+2348012345678", 10*time.Minute)
	if err != nil {
		t.Fatalf("second otp: %v", err)
	}

	if _, err := svc.Consume(ctx, PhoneOTP, "+2348012345678", first); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("stale otp should be invalid, got %v", err)
	}
	if _, err := svc.Consume(ctx, PhoneOTP, "+2348012345678", second); err != nil {
		t.Fatalf("fresh otp: %v", err)
	}
}

func TestRevokeDiscardsToken(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	plaintext, _, err := svc.Issue(ctx, PasswordReset, "gone@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.Revoke(ctx, PasswordReset, "gone@example.com"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Consume(ctx, PasswordReset, "gone@example.com", plaintext); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("want ErrNoRecord, got %v", err)
	}
}
