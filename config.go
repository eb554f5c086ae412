package authcore

import (
	"errors"
	"time"

	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/password"
	"github.com/AfriConnectExchange/authcore/rate"
	"github.com/AfriConnectExchange/authcore/session"
)

// Config groups every tunable of the engine. Zero values take the defaults
// from DefaultConfig; the only field without a safe default is CSRFSecret.
type Config struct {
	Session session.Options

	// RateLimits overrides the per-action budget table. Nil means
	// rate.DefaultLimits.
	RateLimits map[rate.Action]rate.Limit

	Retry notify.RetryPolicy

	TTL TTLConfig

	Password PasswordConfig

	Links LinkConfig

	Audit AuditConfig

	Metrics MetricsConfig

	// CSRFSecret signs the CSRF companion tokens. Required, at least 32
	// bytes.
	CSRFSecret []byte

	// DefaultRole is assigned to every new account.
	DefaultRole string
}

// TTLConfig holds token lifetimes.
type TTLConfig struct {
	Verification  time.Duration // email verification links, default 24h
	PasswordReset time.Duration // reset links, default 1h
	OTP           time.Duration // SMS codes, default 10m
	APIKey        time.Duration // default 1 year
}

type PasswordConfig struct {
	// BcryptCost is clamped to bcrypt's supported range.
	BcryptCost int
}

// LinkConfig builds the URLs embedded in outgoing emails. The token and
// identifier are appended as query parameters.
type LinkConfig struct {
	VerifyBaseURL string
	ResetBaseURL  string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking emitters when the buffer
	// is saturated.
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms additionally tracks session validation
	// latency buckets.
	EnableLatencyHistograms bool
}

// DefaultConfig returns the standard tuning. CSRFSecret must still be set
// by the caller.
func DefaultConfig() Config {
	return Config{
		Session: session.Options{},
		Retry:   notify.RetryPolicy{},
		TTL: TTLConfig{
			Verification:  24 * time.Hour,
			PasswordReset: time.Hour,
			OTP:           10 * time.Minute,
			APIKey:        365 * 24 * time.Hour,
		},
		Password: PasswordConfig{BcryptCost: password.DefaultCost},
		Audit:    AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: true},
		Metrics:  MetricsConfig{Enabled: true},
		Links: LinkConfig{
			VerifyBaseURL: "https://www.africonnectexchange.com/auth/verify",
			ResetBaseURL:  "https://www.africonnectexchange.com/auth/reset-password",
		},
		DefaultRole: "buyer",
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	def := DefaultConfig()
	if out.TTL.Verification <= 0 {
		out.TTL.Verification = def.TTL.Verification
	}
	if out.TTL.PasswordReset <= 0 {
		out.TTL.PasswordReset = def.TTL.PasswordReset
	}
	if out.TTL.OTP <= 0 {
		out.TTL.OTP = def.TTL.OTP
	}
	if out.TTL.APIKey <= 0 {
		out.TTL.APIKey = def.TTL.APIKey
	}
	if out.Password.BcryptCost == 0 {
		out.Password.BcryptCost = def.Password.BcryptCost
	}
	if out.Links.VerifyBaseURL == "" {
		out.Links.VerifyBaseURL = def.Links.VerifyBaseURL
	}
	if out.Links.ResetBaseURL == "" {
		out.Links.ResetBaseURL = def.Links.ResetBaseURL
	}
	if out.DefaultRole == "" {
		out.DefaultRole = def.DefaultRole
	}
	if out.Audit.Enabled && out.Audit.BufferSize <= 0 {
		out.Audit.BufferSize = def.Audit.BufferSize
	}
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.CSRFSecret) < 32 {
		return errors.New("config: CSRFSecret must be at least 32 bytes")
	}
	if c.TTL.OTP > time.Hour {
		return errors.New("config: OTP TTL must be minutes, not hours")
	}
	for action, limit := range c.RateLimits {
		if limit.MaxAttempts <= 0 || limit.Window <= 0 {
			return errors.New("config: rate limit for " + string(action) + " must be positive")
		}
	}
	return nil
}
