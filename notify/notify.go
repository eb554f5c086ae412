// Package notify delivers verification and reset messages over email or SMS
// with bounded retries. Every dispatch is journaled: a log record is created
// pending before the first attempt and ends sent or failed, giving resend
// decisions and delivery debugging something to look at.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AfriConnectExchange/authcore/logging"
	"github.com/google/uuid"
)

// Channel selects the transport for a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Status is the lifecycle of a log record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is one deliverable. Body is HTML for email and plain text for SMS.
type Message struct {
	Channel   Channel
	Recipient string
	Template  string
	Subject   string
	Body      string
}

// LogRecord journals one dispatch. Never deleted; status and attempt count
// are updated in place.
type LogRecord struct {
	ID        string
	Channel   Channel
	Recipient string
	Template  string
	Subject   string
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	SentAt    time.Time
}

// LogStore persists dispatch journals.
type LogStore interface {
	Create(ctx context.Context, rec LogRecord) error
	RecordAttempt(ctx context.Context, id string, attempts int, at time.Time) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
}

// EmailSender and SMSSender are the transport capabilities the dispatcher
// drives. Async transports resolve to an error internally; from here each
// attempt is a synchronous call.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// ErrExhausted reports that every delivery attempt failed. The last
// transport error is wrapped alongside it.
var ErrExhausted = errors.New("notify: delivery attempts exhausted")

// RetryPolicy bounds the attempt loop. Delays double per attempt starting
// at BaseDelay (1s, 2s, 4s with the defaults).
type RetryPolicy struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 1s
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	return p
}

// Delay returns the wait after the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay << (attempt - 1)
}

// Dispatcher runs the attempt loop against the configured senders.
type Dispatcher struct {
	email  EmailSender
	sms    SMSSender
	logs   LogStore
	policy RetryPolicy
	log    logging.Logger
	now    func() time.Time

	// asyncTimeout bounds fire-and-forget dispatches that have no caller
	// deadline to inherit.
	asyncTimeout time.Duration
}

// NewDispatcher wires a dispatcher. Senders may be nil when a channel is
// unused; dispatching to a nil channel fails immediately.
func NewDispatcher(email EmailSender, sms SMSSender, logs LogStore, policy RetryPolicy, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop{}
	}
	return &Dispatcher{
		email:        email,
		sms:          sms,
		logs:         logs,
		policy:       policy.withDefaults(),
		log:          log,
		now:          time.Now,
		asyncTimeout: time.Minute,
	}
}

// Send delivers msg, retrying with exponential backoff up to the policy's
// attempt budget. Returns nil once any attempt succeeds; otherwise an error
// wrapping ErrExhausted after the budget is spent or the context ends. The
// log record reflects the outcome either way.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	rec := LogRecord{
		ID:        uuid.NewString(),
		Channel:   msg.Channel,
		Recipient: msg.Recipient,
		Template:  msg.Template,
		Subject:   msg.Subject,
		Status:    StatusPending,
		CreatedAt: d.now(),
	}
	if err := d.logs.Create(ctx, rec); err != nil {
		return fmt.Errorf("create delivery log: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		lastErr = d.attempt(ctx, msg)
		if err := d.logs.RecordAttempt(ctx, rec.ID, attempt, d.now()); err != nil {
			d.log.Warn(ctx, "delivery log attempt update lost", "log_id", rec.ID, "error", err)
		}
		if lastErr == nil {
			if err := d.logs.MarkSent(ctx, rec.ID, d.now()); err != nil {
				d.log.Warn(ctx, "delivery log sent update lost", "log_id", rec.ID, "error", err)
			}
			d.log.Info(ctx, "notification delivered",
				"channel", string(msg.Channel), "template", msg.Template, "attempts", attempt)
			return nil
		}
		d.log.Warn(ctx, "notification attempt failed",
			"channel", string(msg.Channel), "template", msg.Template,
			"attempt", attempt, "error", lastErr)

		if attempt == d.policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(d.policy.Delay(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			d.markFailed(ctx, rec.ID, lastErr)
			return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
		}
	}

	d.markFailed(ctx, rec.ID, lastErr)
	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// SendAsync dispatches best-effort on its own goroutine, detached from the
// caller's cancellation but bounded by the async timeout. Failures are
// logged and journaled, never returned.
func (d *Dispatcher) SendAsync(ctx context.Context, msg Message) {
	detached := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(detached, d.asyncTimeout)
		defer cancel()
		if err := d.Send(sendCtx, msg); err != nil {
			d.log.Error(sendCtx, "async notification failed",
				"channel", string(msg.Channel), "template", msg.Template, "error", err)
		}
	}()
}

func (d *Dispatcher) attempt(ctx context.Context, msg Message) error {
	switch msg.Channel {
	case ChannelEmail:
		if d.email == nil {
			return errors.New("no email sender configured")
		}
		return d.email.Send(ctx, msg.Recipient, msg.Subject, msg.Body)
	case ChannelSMS:
		if d.sms == nil {
			return errors.New("no sms sender configured")
		}
		return d.sms.Send(ctx, msg.Recipient, msg.Body)
	default:
		return fmt.Errorf("unknown channel %q", msg.Channel)
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, id string, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	// The failure must be journaled even when the caller's context is gone.
	if err := d.logs.MarkFailed(context.WithoutCancel(ctx), id, reason, d.now()); err != nil {
		d.log.Warn(ctx, "delivery log failed update lost", "log_id", id, "error", err)
	}
}
