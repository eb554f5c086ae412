package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AfriConnectExchange/authcore"
)

// Accounts implements authcore.AccountStore on Postgres.
type Accounts struct {
	pool *pgxpool.Pool
}

func NewAccounts(pool *pgxpool.Pool) *Accounts {
	return &Accounts{pool: pool}
}

const accountColumns = `id, COALESCE(email, ''), COALESCE(phone, ''), display_name,
	password_hash, status, email_verified, phone_verified, roles,
	login_count, last_login_at, created_at, updated_at`

func scanAccount(row pgx.Row) (authcore.Account, error) {
	var a authcore.Account
	var lastLogin *time.Time
	err := row.Scan(
		&a.ID, &a.Email, &a.Phone, &a.DisplayName,
		&a.PasswordHash, &a.Status, &a.EmailVerified, &a.PhoneVerified, &a.Roles,
		&a.LoginCount, &lastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.Account{}, authcore.ErrNotFound
		}
		return authcore.Account{}, err
	}
	if lastLogin != nil {
		a.LastLoginAt = *lastLogin
	}
	return a, nil
}

// nullable maps the empty string to NULL so the partial unique indexes
// only bite on real identifiers.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Accounts) Create(ctx context.Context, a authcore.Account) (authcore.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, phone, display_name, password_hash, status,
			email_verified, phone_verified, roles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+accountColumns+`
	`, a.ID, nullable(a.Email), nullable(a.Phone), a.DisplayName, a.PasswordHash,
		a.Status, a.EmailVerified, a.PhoneVerified, a.Roles)

	created, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.Account{}, authcore.ErrDuplicateIdentifier
		}
		return authcore.Account{}, fmt.Errorf("pgstore: create account: %w", err)
	}
	return created, nil
}

func (s *Accounts) GetByID(ctx context.Context, id string) (authcore.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (s *Accounts) GetByEmail(ctx context.Context, email string) (authcore.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1 AND status <> 'deleted'
	`, email)
	return scanAccount(row)
}

func (s *Accounts) GetByPhone(ctx context.Context, phone string) (authcore.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE phone = $1 AND status <> 'deleted'
	`, phone)
	return scanAccount(row)
}

func (s *Accounts) UpdateStatus(ctx context.Context, id string, status authcore.AccountStatus) error {
	return s.exec(ctx, `
		UPDATE accounts
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, status)
}

func (s *Accounts) SetEmailVerified(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		UPDATE accounts
		SET email_verified = TRUE,
		    status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
		    updated_at = $2
		WHERE id = $1
	`, id, at)
}

func (s *Accounts) SetPhoneVerified(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		UPDATE accounts
		SET phone_verified = TRUE,
		    status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
		    updated_at = $2
		WHERE id = $1
	`, id, at)
}

func (s *Accounts) SetPassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, id, passwordHash)
}

func (s *Accounts) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `
		UPDATE accounts
		SET login_count = login_count + 1, last_login_at = $2, updated_at = now()
		WHERE id = $1
	`, id, at)
}

func (s *Accounts) exec(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pgstore: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrNotFound
	}
	return nil
}
