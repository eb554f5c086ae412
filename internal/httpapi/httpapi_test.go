package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/AfriConnectExchange/authcore"
	"github.com/AfriConnectExchange/authcore/logging"
	"github.com/AfriConnectExchange/authcore/notify"
)

type memAccounts struct {
	mu      sync.Mutex
	seq     int
	byID    map[string]authcore.Account
	byEmail map[string]string
	byPhone map[string]string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byID:    make(map[string]authcore.Account),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (m *memAccounts) Create(_ context.Context, a authcore.Account) (authcore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Email != "" {
		if _, taken := m.byEmail[a.Email]; taken {
			return authcore.Account{}, authcore.ErrDuplicateIdentifier
		}
	}
	if a.Phone != "" {
		if _, taken := m.byPhone[a.Phone]; taken {
			return authcore.Account{}, authcore.ErrDuplicateIdentifier
		}
	}
	m.seq++
	a.ID = fmt.Sprintf("acct-%d", m.seq)
	m.byID[a.ID] = a
	if a.Email != "" {
		m.byEmail[a.Email] = a.ID
	}
	if a.Phone != "" {
		m.byPhone[a.Phone] = a.ID
	}
	return a, nil
}

func (m *memAccounts) GetByID(_ context.Context, id string) (authcore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return authcore.Account{}, authcore.ErrNotFound
	}
	return a, nil
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (authcore.Account, error) {
	m.mu.Lock()
	id, ok := m.byEmail[email]
	m.mu.Unlock()
	if !ok {
		return authcore.Account{}, authcore.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *memAccounts) GetByPhone(ctx context.Context, phone string) (authcore.Account, error) {
	m.mu.Lock()
	id, ok := m.byPhone[phone]
	m.mu.Unlock()
	if !ok {
		return authcore.Account{}, authcore.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *memAccounts) update(id string, fn func(*authcore.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return authcore.ErrNotFound
	}
	fn(&a)
	m.byID[id] = a
	return nil
}

func (m *memAccounts) UpdateStatus(_ context.Context, id string, status authcore.AccountStatus) error {
	return m.update(id, func(a *authcore.Account) { a.Status = status })
}

func (m *memAccounts) SetEmailVerified(_ context.Context, id string, _ time.Time) error {
	return m.update(id, func(a *authcore.Account) {
		a.EmailVerified = true
		if a.Status == authcore.StatusPending {
			a.Status = authcore.StatusActive
		}
	})
}

func (m *memAccounts) SetPhoneVerified(_ context.Context, id string, _ time.Time) error {
	return m.update(id, func(a *authcore.Account) {
		a.PhoneVerified = true
		if a.Status == authcore.StatusPending {
			a.Status = authcore.StatusActive
		}
	})
}

func (m *memAccounts) SetPassword(_ context.Context, id, hash string) error {
	return m.update(id, func(a *authcore.Account) { a.PasswordHash = hash })
}

func (m *memAccounts) RecordLogin(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(a *authcore.Account) {
		a.LoginCount++
		a.LastLoginAt = at
	})
}

type nopLogStore struct{}

func (nopLogStore) Create(context.Context, notify.LogRecord) error              { return nil }
func (nopLogStore) RecordAttempt(context.Context, string, int, time.Time) error { return nil }
func (nopLogStore) MarkSent(context.Context, string, time.Time) error           { return nil }
func (nopLogStore) MarkFailed(context.Context, string, string, time.Time) error { return nil }

type nopEmail struct{}

func (nopEmail) Send(context.Context, string, string, string) error { return nil }

// capSMS captures texts so tests can read delivered OTP codes.
type capSMS struct {
	mu   sync.Mutex
	last string
}

func (c *capSMS) Send(_ context.Context, _ string, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = body
	return nil
}

func (c *capSMS) lastCode(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.GreaterOrEqual(t, len(c.last), 6, "no SMS captured")
	return c.last[:6]
}

func newTestServer(t *testing.T) (*httptest.Server, *capSMS) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	cfg := authcore.DefaultConfig()
	cfg.CSRFSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 4
	cfg.Retry = notify.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Microsecond}

	sms := &capSMS{}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(newMemAccounts()).
		WithNotificationLog(nopLogStore{}).
		WithEmailSender(nopEmail{}).
		WithSMSSender(sms).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(New(engine, logging.Nop{}).Router())
	t.Cleanup(srv.Close)
	return srv, sms
}

func postJSON(t *testing.T, url string, body any, mutate ...func(*http.Request)) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func jsonString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestSignUpEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/auth/signup", map[string]any{
		"email":    "amina@example.com",
		"password": "correct-password-123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "pending", jsonString(t, body["status"]))
	require.Equal(t, "email", jsonString(t, body["verification_channel"]))

	// Same identifier again conflicts.
	resp, _ = postJSON(t, srv.URL+"/auth/signup", map[string]any{
		"email":    "amina@example.com",
		"password": "correct-password-123",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSignUpValidationEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/auth/signup", map[string]any{
		"password": "correct-password-123",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignInEndpointUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/auth/signin", map[string]any{
		"identifier": "nobody@example.com",
		"password":   "whatever-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignInPendingAccountAccepted(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/auth/signup", map[string]any{
		"email":    "amina@example.com",
		"password": "correct-password-123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/auth/signin", map[string]any{
		"identifier": "amina@example.com",
		"password":   "correct-password-123",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var needs bool
	require.NoError(t, json.Unmarshal(body["needs_verification"], &needs))
	require.True(t, needs)
}

func TestFullSessionRoundTrip(t *testing.T) {
	srv, sms := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/auth/signup", map[string]any{
		"phone":    "+254712345001",
		"password": "correct-password-123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/auth/verify-otp", map[string]any{
		"phone": "+254712345001",
		"code":  sms.lastCode(t),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	token := jsonString(t, body["session_token"])
	csrf := jsonString(t, body["csrf_token"])
	require.NotEmpty(t, token)
	require.NotEmpty(t, csrf)

	// Bearer access.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	getResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	// Cookie access requires the CSRF companion on mutations.
	resp, _ = postJSON(t, srv.URL+"/auth/signout", map[string]any{}, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/auth/signout", map[string]any{}, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
		r.Header.Set("X-CSRF-Token", csrf)
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The session is dead now.
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/auth/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	deadResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer deadResp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, deadResp.StatusCode)
}

func TestAPIKeyEndpoints(t *testing.T) {
	srv, sms := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/auth/signup", map[string]any{
		"phone":    "+254712345001",
		"password": "correct-password-123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := postJSON(t, srv.URL+"/auth/verify-otp", map[string]any{
		"phone": "+254712345001",
		"code":  sms.lastCode(t),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := jsonString(t, body["session_token"])

	withBearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }

	resp, body = postJSON(t, srv.URL+"/auth/apikeys", map[string]any{}, withBearer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	key := jsonString(t, body["api_key"])
	keyID := jsonString(t, body["key_id"])
	require.NotEmpty(t, key)

	resp, _ = postJSON(t, srv.URL+"/auth/apikeys/introspect", map[string]any{"key": key})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/auth/apikeys/"+keyID, nil)
	require.NoError(t, err)
	withBearer(req)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/auth/apikeys/introspect", map[string]any{"key": key})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPasswordResetRequestAlwaysAccepted(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/auth/password-reset/request", map[string]any{
		"email": "nobody@example.com",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSessionEndpointRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/auth/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	srv, _ := newTestServer(t)

	var last *http.Response
	for i := 0; i < 6; i++ {
		last, _ = postJSON(t, srv.URL+"/auth/signin", map[string]any{
			"identifier": "amina@example.com",
			"password":   "wrong-password-1",
		})
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	require.NotEmpty(t, last.Header.Get("Retry-After"))
}
