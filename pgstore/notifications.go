package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AfriConnectExchange/authcore/notify"
)

// NotificationLog implements notify.LogStore on Postgres. Rows are never
// deleted; the journal doubles as a delivery audit trail.
type NotificationLog struct {
	pool *pgxpool.Pool
}

func NewNotificationLog(pool *pgxpool.Pool) *NotificationLog {
	return &NotificationLog{pool: pool}
}

func (s *NotificationLog) Create(ctx context.Context, rec notify.LogRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_log (id, channel, recipient, template, subject, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.Channel, rec.Recipient, rec.Template, rec.Subject, rec.Status, rec.Attempts, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: journal notification: %w", err)
	}
	return nil
}

func (s *NotificationLog) RecordAttempt(ctx context.Context, id string, attempts int, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_log
		SET attempts = $2, last_attempt_at = $3
		WHERE id = $1
	`, id, attempts, at)
	if err != nil {
		return fmt.Errorf("pgstore: record attempt: %w", err)
	}
	return nil
}

func (s *NotificationLog) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = $2, sent_at = $3
		WHERE id = $1
	`, id, notify.StatusSent, at)
	if err != nil {
		return fmt.Errorf("pgstore: mark sent: %w", err)
	}
	return nil
}

func (s *NotificationLog) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = $2, last_error = $3, last_attempt_at = $4
		WHERE id = $1
	`, id, notify.StatusFailed, reason, at)
	if err != nil {
		return fmt.Errorf("pgstore: mark failed: %w", err)
	}
	return nil
}
