package authcore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return mr, rdb
}

var testCSRFSecret = []byte("0123456789abcdef0123456789abcdef")

const testPassword = "correct-password-123"

// testConfig trims every latency-relevant knob: minimum bcrypt cost and
// microsecond retry backoff.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CSRFSecret = testCSRFSecret
	cfg.Password.BcryptCost = 4
	cfg.Retry = notify.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Microsecond}
	return cfg
}

// mockAccounts is an in-memory AccountStore.
type mockAccounts struct {
	mu      sync.Mutex
	seq     int
	byID    map[string]Account
	byEmail map[string]string
	byPhone map[string]string
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (m *mockAccounts) Create(_ context.Context, a Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Email != "" {
		if _, taken := m.byEmail[a.Email]; taken {
			return Account{}, ErrDuplicateIdentifier
		}
	}
	if a.Phone != "" {
		if _, taken := m.byPhone[a.Phone]; taken {
			return Account{}, ErrDuplicateIdentifier
		}
	}

	m.seq++
	a.ID = fmt.Sprintf("acct-%d", m.seq)
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.byID[a.ID] = a
	if a.Email != "" {
		m.byEmail[a.Email] = a.ID
	}
	if a.Phone != "" {
		m.byPhone[a.Phone] = a.ID
	}
	return a, nil
}

func (m *mockAccounts) GetByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (m *mockAccounts) GetByEmail(ctx context.Context, email string) (Account, error) {
	m.mu.Lock()
	id, ok := m.byEmail[email]
	m.mu.Unlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockAccounts) GetByPhone(ctx context.Context, phone string) (Account, error) {
	m.mu.Lock()
	id, ok := m.byPhone[phone]
	m.mu.Unlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockAccounts) update(id string, fn func(*Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = time.Now()
	m.byID[id] = a
	return nil
}

func (m *mockAccounts) UpdateStatus(_ context.Context, id string, status AccountStatus) error {
	return m.update(id, func(a *Account) { a.Status = status })
}

func (m *mockAccounts) SetEmailVerified(_ context.Context, id string, _ time.Time) error {
	return m.update(id, func(a *Account) {
		a.EmailVerified = true
		if a.Status == StatusPending {
			a.Status = StatusActive
		}
	})
}

func (m *mockAccounts) SetPhoneVerified(_ context.Context, id string, _ time.Time) error {
	return m.update(id, func(a *Account) {
		a.PhoneVerified = true
		if a.Status == StatusPending {
			a.Status = StatusActive
		}
	})
}

func (m *mockAccounts) SetPassword(_ context.Context, id, passwordHash string) error {
	return m.update(id, func(a *Account) { a.PasswordHash = passwordHash })
}

func (m *mockAccounts) RecordLogin(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(a *Account) {
		a.LoginCount++
		a.LastLoginAt = at
	})
}

// memNotifyLog is an in-memory notify.LogStore.
type memNotifyLog struct {
	mu   sync.Mutex
	recs map[string]notify.LogRecord
}

func newMemNotifyLog() *memNotifyLog {
	return &memNotifyLog{recs: make(map[string]notify.LogRecord)}
}

func (m *memNotifyLog) Create(_ context.Context, rec notify.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *memNotifyLog) RecordAttempt(_ context.Context, id string, attempts int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[id]
	rec.Attempts = attempts
	m.recs[id] = rec
	return nil
}

func (m *memNotifyLog) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[id]
	rec.Status = notify.StatusSent
	rec.SentAt = at
	m.recs[id] = rec
	return nil
}

func (m *memNotifyLog) MarkFailed(_ context.Context, id, reason string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[id]
	rec.Status = notify.StatusFailed
	rec.LastError = reason
	m.recs[id] = rec
	return nil
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

// memMailer records deliveries and can simulate transport failure.
type memMailer struct {
	mu   sync.Mutex
	sent []sentEmail
	fail error
}

func (m *memMailer) Send(_ context.Context, to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentEmail{To: to, Subject: subject, Body: html})
	return nil
}

func (m *memMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *memMailer) last(t *testing.T) sentEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no email delivered")
	}
	return m.sent[len(m.sent)-1]
}

// waitFor blocks until n emails have been delivered. Detached dispatches
// land on their own schedule.
func (m *memMailer) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d emails, got %d", n, m.count())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type sentSMS struct {
	To   string
	Body string
}

type memTexter struct {
	mu   sync.Mutex
	sent []sentSMS
	fail error
}

func (m *memTexter) Send(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentSMS{To: to, Body: body})
	return nil
}

func (m *memTexter) last(t *testing.T) sentSMS {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no SMS delivered")
	}
	return m.sent[len(m.sent)-1]
}

// fakeClock offsets the real clock so expiry paths can be exercised without
// sleeping. Redis TTLs stay on miniredis's own clock and are unaffected.
type fakeClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

type testFixtures struct {
	mr       *miniredis.Miniredis
	clock    *fakeClock
	accounts *mockAccounts
	logs     *memNotifyLog
	email    *memMailer
	sms      *memTexter
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *testFixtures) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	f := &testFixtures{
		mr:       mr,
		clock:    &fakeClock{},
		accounts: newMockAccounts(),
		logs:     newMemNotifyLog(),
		email:    &memMailer{},
		sms:      &memTexter{},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(f.accounts).
		WithNotificationLog(f.logs).
		WithEmailSender(f.email).
		WithSMSSender(f.sms).
		WithClock(f.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, f
}

// seedAccount puts an account into the store directly, bypassing SignUp.
func seedAccount(t *testing.T, f *testFixtures, a Account) Account {
	t.Helper()

	if a.PasswordHash == "" {
		hash, err := password.NewHasher(4).Hash(testPassword)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		a.PasswordHash = hash
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	created, err := f.accounts.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return created
}

// linkToken pulls the token parameter out of the first link in an HTML
// email body.
func linkToken(t *testing.T, body string) string {
	t.Helper()

	start := strings.Index(body, `href="`)
	if start < 0 {
		t.Fatalf("no link in body: %q", body)
	}
	rest := body[start+len(`href="`):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		t.Fatalf("unterminated link in body: %q", body)
	}
	raw := strings.ReplaceAll(rest[:end], "&amp;", "&")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad link %q: %v", raw, err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		t.Fatalf("link carries no token: %q", raw)
	}
	return tok
}

// smsCode pulls the leading 6-digit code out of an OTP text.
func smsCode(t *testing.T, body string) string {
	t.Helper()
	if len(body) < 6 {
		t.Fatalf("SMS body too short: %q", body)
	}
	return body[:6]
}
