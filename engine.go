package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AfriConnectExchange/authcore/device"
	"github.com/AfriConnectExchange/authcore/logging"
	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/password"
	"github.com/AfriConnectExchange/authcore/rate"
	"github.com/AfriConnectExchange/authcore/session"
	"github.com/AfriConnectExchange/authcore/token"
)

// Engine composes the token service, rate limiter, session manager, and
// notification dispatcher into the sign-up, sign-in, verification, and
// password reset flows. Construct with New().…Build(); an Engine is safe
// for concurrent use.
type Engine struct {
	cfg        Config
	accounts   AccountStore
	sessions   *session.Manager
	tokens     *token.Service
	apiKeys    *token.APIKeys
	limiter    *rate.Limiter
	dispatcher *notify.Dispatcher
	hasher     *password.Hasher
	audit      *auditDispatcher
	metrics    *Metrics
	log        logging.Logger

	closed atomic.Bool
}

// Close flushes the audit buffer and marks the engine unusable. Idempotent.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.audit.Close()
	}
}

// Metrics exposes the engine's counters for export.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// AuditEventsDropped reports audit events shed under buffer pressure.
func (e *Engine) AuditEventsDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) ready() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) deviceInfo(ctx context.Context) device.Info {
	return device.Info{
		UserAgent: userAgentFromContext(ctx),
		IPAddress: clientIPFromContext(ctx),
	}
}

func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	event.Timestamp = time.Now()
	event.IP = clientIPFromContext(ctx)
	e.audit.Emit(ctx, event)
}

// isEmail distinguishes the two identifier shapes accepted at sign-in.
func isEmail(identifier string) bool {
	return strings.ContainsRune(identifier, '@')
}

// lookupByIdentifier resolves an email or phone to its account. Misses map
// to ErrUnauthorized before leaving the engine.
func (e *Engine) lookupByIdentifier(ctx context.Context, identifier string) (Account, error) {
	if isEmail(identifier) {
		return e.accounts.GetByEmail(ctx, identifier)
	}
	return e.accounts.GetByPhone(ctx, identifier)
}

// verificationLink builds the URL mailed to the user, carrying both the
// token and the addressed identifier.
func verificationLink(base, identifier, plaintext string) string {
	q := url.Values{}
	q.Set("token", plaintext)
	q.Set("identifier", identifier)
	return base + "?" + q.Encode()
}

// humanTTL formats a lifetime for message templates.
func humanTTL(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		if days := int(d / (24 * time.Hour)); days > 1 {
			return fmt.Sprintf("%d days", days)
		}
		return "24 hours"
	case d >= time.Hour:
		if h := int(d / time.Hour); h > 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	default:
		if m := int(d / time.Minute); m > 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
}

// mapTokenErr translates token layer errors into the engine's taxonomy:
// expiry stays distinct, everything else is undifferentiated.
func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrNoRecord):
		return ErrUnauthorized
	default:
		return err
	}
}
