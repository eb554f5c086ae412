package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memKeyStore struct {
	mu   sync.Mutex
	keys map[string]APIKeyRecord
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]APIKeyRecord)}
}

func (m *memKeyStore) Put(_ context.Context, rec APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[rec.KeyID] = rec
	return nil
}

func (m *memKeyStore) Get(_ context.Context, keyID string) (APIKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.keys[keyID]
	if !ok {
		return APIKeyRecord{}, errors.New("not found")
	}
	return rec, nil
}

func (m *memKeyStore) Revoke(_ context.Context, keyID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.keys[keyID]
	if !ok {
		return errors.New("not found")
	}
	rec.Revoked = true
	rec.RevokedAt = at
	m.keys[keyID] = rec
	return nil
}

func (m *memKeyStore) RevokeAll(_ context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.keys {
		if rec.AccountID == accountID {
			rec.Revoked = true
			rec.RevokedAt = at
			m.keys[id] = rec
		}
	}
	return nil
}

func TestAPIKeyIssueVerify(t *testing.T) {
	ctx := context.Background()
	keys := NewAPIKeys(newMemKeyStore(), nil)

	plaintext, keyID, err := keys.Issue(ctx, "acc-1", 365*24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if keyID == "" {
		t.Fatal("empty key id")
	}

	acc, err := keys.Verify(ctx, plaintext)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if acc != "acc-1" {
		t.Fatalf("wrong account %q", acc)
	}

	// Keys survive repeated verification, unlike single-use tokens.
	if _, err := keys.Verify(ctx, plaintext); err != nil {
		t.Fatalf("second verify: %v", err)
	}
}

func TestAPIKeyVerifyRejects(t *testing.T) {
	ctx := context.Background()
	keys := NewAPIKeys(newMemKeyStore(), nil)

	if _, err := keys.Verify(ctx, "not-base64!!"); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("malformed: want ErrKeyInvalid, got %v", err)
	}
	if _, err := keys.Verify(ctx, "QUFBQUFBQUFBQUFBQUFBQQ"); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("unknown: want ErrKeyInvalid, got %v", err)
	}
}

func TestAPIKeyRevoke(t *testing.T) {
	ctx := context.Background()
	keys := NewAPIKeys(newMemKeyStore(), nil)

	plaintext, keyID, err := keys.Issue(ctx, "acc-2", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := keys.Revoke(ctx, keyID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := keys.Verify(ctx, plaintext); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("want ErrKeyInvalid, got %v", err)
	}
}

func TestAPIKeyRevokeAll(t *testing.T) {
	ctx := context.Background()
	keys := NewAPIKeys(newMemKeyStore(), nil)

	p1, _, err := keys.Issue(ctx, "acc-3", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p2, _, err := keys.Issue(ctx, "acc-3", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, _, err := keys.Issue(ctx, "acc-4", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := keys.RevokeAll(ctx, "acc-3"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, err := keys.Verify(ctx, p1); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("p1 still valid: %v", err)
	}
	if _, err := keys.Verify(ctx, p2); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("p2 still valid: %v", err)
	}
	if _, err := keys.Verify(ctx, other); err != nil {
		t.Fatalf("other account's key revoked: %v", err)
	}
}

func TestAPIKeyExpiry(t *testing.T) {
	ctx := context.Background()
	keys := NewAPIKeys(newMemKeyStore(), nil)

	base := time.Now()
	keys.now = func() time.Time { return base }
	plaintext, _, err := keys.Issue(ctx, "acc-5", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	keys.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := keys.Verify(ctx, plaintext); !errors.Is(err, ErrKeyExpired) {
		t.Fatalf("want ErrKeyExpired, got %v", err)
	}
}
