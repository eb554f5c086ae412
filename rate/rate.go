// Package rate bounds attempts for sensitive actions within a sliding time
// window. Attempts are append-only records; both successes and failures
// count against the budget, so the limiter caps total traffic rather than
// just failures.
package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/AfriConnectExchange/authcore/logging"
)

// Action names a rate-limited operation.
type Action string

const (
	ActionLogin         Action = "login"
	ActionSignup        Action = "signup"
	ActionOTP           Action = "otp"
	ActionEmailResend   Action = "email_resend"
	ActionPasswordReset Action = "password_reset"
)

// Limit is one row of the per-action budget table.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultLimits is the standard budget table. Callers may pass their own
// table to NewLimiter; unknown actions are unlimited.
var DefaultLimits = map[Action]Limit{
	ActionLogin:         {MaxAttempts: 5, Window: 15 * time.Minute},
	ActionSignup:        {MaxAttempts: 3, Window: time.Hour},
	ActionOTP:           {MaxAttempts: 3, Window: time.Hour},
	ActionEmailResend:   {MaxAttempts: 5, Window: time.Hour},
	ActionPasswordReset: {MaxAttempts: 3, Window: time.Hour},
}

// RateLimitedError reports an exhausted budget. RetryAfter is the wait
// until the oldest in-window attempt slides out.
type RateLimitedError struct {
	Action     Action
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Action, e.RetryAfter)
}

// AttemptStore persists attempt records. Counting may slightly over-count
// under concurrent writes but must never under-count.
type AttemptStore interface {
	// Record appends one attempt for (identifier, action) at the given time.
	Record(ctx context.Context, identifier string, action Action, at time.Time) error

	// CountSince returns the number of attempts for (identifier, action)
	// with timestamp >= since, and the timestamp of the oldest such attempt.
	// oldest is the zero time when count is zero.
	CountSince(ctx context.Context, identifier string, action Action, since time.Time) (count int, oldest time.Time, err error)

	// Prune drops attempts older than before across every identifier and
	// action. Counting never depends on it; pruning only bounds storage.
	Prune(ctx context.Context, before time.Time) error
}

// Limiter evaluates the budget table against an AttemptStore.
type Limiter struct {
	store  AttemptStore
	limits map[Action]Limit
	log    logging.Logger
	now    func() time.Time
}

// NewLimiter builds a Limiter. A nil limits table means DefaultLimits; a
// nil logger is replaced with a no-op one.
func NewLimiter(store AttemptStore, limits map[Action]Limit, log logging.Logger) *Limiter {
	if limits == nil {
		limits = DefaultLimits
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Limiter{store: store, limits: limits, log: log, now: time.Now}
}

// Check returns nil if the identifier still has budget for the action, or a
// *RateLimitedError once the in-window attempt count has reached the
// configured maximum. Check itself does not consume budget; pair it with
// Record.
func (l *Limiter) Check(ctx context.Context, identifier string, action Action) error {
	limit, ok := l.limits[action]
	if !ok {
		return nil
	}
	now := l.now()
	count, oldest, err := l.store.CountSince(ctx, identifier, action, now.Add(-limit.Window))
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if count < limit.MaxAttempts {
		return nil
	}
	retryAfter := oldest.Add(limit.Window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	l.log.Warn(ctx, "rate limited", "action", string(action), "attempts", count, "retry_after", retryAfter)
	return &RateLimitedError{Action: action, RetryAfter: retryAfter}
}

// Record appends one attempt regardless of outcome. The outcome is logged
// for observability only; it never affects counting.
func (l *Limiter) Record(ctx context.Context, identifier string, action Action, outcome string) error {
	if err := l.store.Record(ctx, identifier, action, l.now()); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	l.log.Debug(ctx, "attempt recorded", "action", string(action), "outcome", outcome)
	return nil
}

// Sweep prunes attempts that slid out of the largest configured window.
// Counting already ignores them, so Sweep is purely housekeeping and is safe
// to run on any schedule.
func (l *Limiter) Sweep(ctx context.Context) error {
	if err := l.store.Prune(ctx, l.now().Add(-l.MaxWindow())); err != nil {
		return fmt.Errorf("prune attempts: %w", err)
	}
	return nil
}

// MaxWindow reports the largest configured window, the horizon beyond which
// stored attempts can never influence a Check and are safe to prune.
func (l *Limiter) MaxWindow() time.Duration {
	var max time.Duration
	for _, limit := range l.limits {
		if limit.Window > max {
			max = limit.Window
		}
	}
	return max
}
