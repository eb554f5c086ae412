package authcore

import (
	"context"
	"time"

	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/session"
)

// AccountStatus is the account lifecycle. Accounts are never physically
// deleted; terminal states are status transitions.
type AccountStatus string

const (
	StatusPending     AccountStatus = "pending"
	StatusActive      AccountStatus = "active"
	StatusSuspended   AccountStatus = "suspended"
	StatusDeactivated AccountStatus = "deactivated"
	StatusDeleted     AccountStatus = "deleted"
)

// Account is the identity record. At least one of Email and Phone is set;
// both are unique across live accounts.
type Account struct {
	ID            string
	Email         string
	Phone         string
	DisplayName   string
	PasswordHash  string
	Status        AccountStatus
	EmailVerified bool
	PhoneVerified bool
	Roles         []string
	LoginCount    int64
	LastLoginAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Profile is the caller-facing projection of an account. It never carries
// the password hash.
type Profile struct {
	ID            string
	Email         string
	Phone         string
	DisplayName   string
	Status        AccountStatus
	EmailVerified bool
	PhoneVerified bool
	Roles         []string
}

// Profile projects the account for external consumption.
func (a Account) Profile() Profile {
	roles := make([]string, len(a.Roles))
	copy(roles, a.Roles)
	return Profile{
		ID:            a.ID,
		Email:         a.Email,
		Phone:         a.Phone,
		DisplayName:   a.DisplayName,
		Status:        a.Status,
		EmailVerified: a.EmailVerified,
		PhoneVerified: a.PhoneVerified,
		Roles:         roles,
	}
}

// AccountStore is the persistence surface for identity records. Lookups for
// absent accounts return ErrNotFound; Create returns
// ErrDuplicateIdentifier when the email or phone is already taken.
type AccountStore interface {
	Create(ctx context.Context, a Account) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByPhone(ctx context.Context, phone string) (Account, error)

	// UpdateStatus transitions the lifecycle state.
	UpdateStatus(ctx context.Context, id string, status AccountStatus) error

	// SetEmailVerified and SetPhoneVerified flip the verification flag and
	// promote a pending account to active.
	SetEmailVerified(ctx context.Context, id string, at time.Time) error
	SetPhoneVerified(ctx context.Context, id string, at time.Time) error

	// SetPassword replaces the stored hash.
	SetPassword(ctx context.Context, id, passwordHash string) error

	// RecordLogin bumps the login counter and last-login timestamp.
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// SignUpRequest registers a new account. Email or Phone must be set;
// setting both is allowed and the phone branch wins for verification.
type SignUpRequest struct {
	Email       string `validate:"omitempty,email"`
	Phone       string `validate:"omitempty,e164"`
	Password    string `validate:"required"`
	DisplayName string `validate:"omitempty,max=120"`
}

// SignUpResult reports where the verification challenge went.
type SignUpResult struct {
	AccountID string
	Status    AccountStatus
	// Channel is the notification channel carrying the challenge.
	Channel notify.Channel
}

// SignInRequest authenticates by email or phone.
type SignInRequest struct {
	Identifier string `validate:"required"`
	Password   string `validate:"required"`
	RememberMe bool
}

// SignInResult is either a session or a needs-verification outcome, never
// both.
type SignInResult struct {
	Session           *session.Handle
	Profile           Profile
	NeedsVerification bool
	// Channel indicates where the pending verification challenge would be
	// delivered, when NeedsVerification is set.
	Channel notify.Channel
}

// CurrentSession joins a validated session with its account projection.
type CurrentSession struct {
	SessionID      string
	AccountID      string
	ExpiresAt      time.Time
	LastActivityAt time.Time
	Profile        Profile
}

// VerifyResult is the outcome of a successful email or OTP verification:
// the account is active and a fresh session is opened.
type VerifyResult struct {
	Session session.Handle
	Profile Profile
}

// APIKeyResult carries the one-time plaintext of a freshly issued key.
type APIKeyResult struct {
	Key       string
	KeyID     string
	ExpiresAt time.Time
}
