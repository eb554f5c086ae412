package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AfriConnectExchange/authcore/logging"
	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/password"
	"github.com/AfriConnectExchange/authcore/rate"
	"github.com/AfriConnectExchange/authcore/redisstore"
	"github.com/AfriConnectExchange/authcore/session"
	"github.com/AfriConnectExchange/authcore/token"
)

// Builder assembles an Engine. Redis backs sessions, tokens, API keys, and
// rate limiting by default; any individual store can be swapped out, which
// is how tests run without Redis.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts   AccountStore
	notifyLogs notify.LogStore
	email      notify.EmailSender
	sms        notify.SMSSender

	sessionStore session.Store
	tokenStore   token.Store
	apiKeyStore  token.APIKeyStore
	attemptStore rate.AttemptStore

	auditSink AuditSink
	logger    logging.Logger
	clock     func() time.Time

	built bool
}

// New starts a builder with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the identity store. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithNotificationLog sets the delivery journal. Required.
func (b *Builder) WithNotificationLog(logs notify.LogStore) *Builder {
	b.notifyLogs = logs
	return b
}

func (b *Builder) WithEmailSender(sender notify.EmailSender) *Builder {
	b.email = sender
	return b
}

func (b *Builder) WithSMSSender(sender notify.SMSSender) *Builder {
	b.sms = sender
	return b
}

func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

func (b *Builder) WithTokenStore(store token.Store) *Builder {
	b.tokenStore = store
	return b
}

func (b *Builder) WithAPIKeyStore(store token.APIKeyStore) *Builder {
	b.apiKeyStore = store
	return b
}

func (b *Builder) WithAttemptStore(store rate.AttemptStore) *Builder {
	b.attemptStore = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log logging.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock replaces the time source used for session and token expiry
// decisions. Tests use it to reach expiry without waiting; production
// callers leave it alone.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration, wires defaults, and returns a ready
// Engine. A builder is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.notifyLogs == nil {
		return nil, errors.New("notification log store required")
	}

	log := b.logger
	if log == nil {
		log = logging.Nop{}
	}

	needsRedis := b.sessionStore == nil || b.tokenStore == nil ||
		b.apiKeyStore == nil || b.attemptStore == nil
	if needsRedis && b.redis == nil {
		return nil, errors.New("redis client required unless every store is provided")
	}

	// -------- STORES --------
	sessionStore := b.sessionStore
	if sessionStore == nil {
		sessionStore = redisstore.NewSessions(b.redis, "")
	}
	tokenStore := b.tokenStore
	if tokenStore == nil {
		tokenStore = redisstore.NewTokens(b.redis, "")
	}
	apiKeyStore := b.apiKeyStore
	if apiKeyStore == nil {
		apiKeyStore = redisstore.NewAPIKeys(b.redis, "")
	}

	limits := cfg.RateLimits
	if limits == nil {
		limits = rate.DefaultLimits
	}
	attemptStore := b.attemptStore
	if attemptStore == nil {
		var retention rate.Limit
		for _, l := range limits {
			if l.Window > retention.Window {
				retention = l
			}
		}
		attemptStore = redisstore.NewAttempts(b.redis, "", retention.Window)
	}

	// -------- COMPONENTS --------
	csrf, err := session.NewCSRFSigner(cfg.CSRFSecret)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(sessionStore, csrf, cfg.Session, log.With("component", "session"))
	tokens := token.NewService(tokenStore, log.With("component", "token"))
	if b.clock != nil {
		sessions.WithClock(b.clock)
		tokens.WithClock(b.clock)
	}

	engine := &Engine{
		cfg:        cfg,
		accounts:   b.accounts,
		sessions:   sessions,
		tokens:     tokens,
		apiKeys:    token.NewAPIKeys(apiKeyStore, log.With("component", "apikey")),
		limiter:    rate.NewLimiter(attemptStore, limits, log.With("component", "rate")),
		dispatcher: notify.NewDispatcher(b.email, b.sms, b.notifyLogs, cfg.Retry, log.With("component", "notify")),
		hasher:     password.NewHasher(cfg.Password.BcryptCost),
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
		log:        log,
	}

	b.built = true

	return engine, nil
}
