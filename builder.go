package castellan

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castellan-auth/castellan/cache"
	"github.com/castellan-auth/castellan/notify"
	"github.com/castellan-auth/castellan/password"
)

// Builder assembles an Engine from its collaborators. Zero-configuration
// fields fall back to DefaultConfig; Redis, a UserRepository, and a
// SessionRepository are mandatory.
type Builder struct {
	config      Config
	redis       redis.UniversalClient
	cachePrefix string

	users    UserRepository
	sessions SessionRepository
	tx       Transactor
	notifier notify.Notifier

	auditSink AuditSink

	built bool
}

// New starts a Builder with default configuration.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client backing the token cache.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCachePrefix overrides the Redis key prefix.
func (b *Builder) WithCachePrefix(prefix string) *Builder {
	b.cachePrefix = prefix
	return b
}

// WithUsers supplies the durable user repository.
func (b *Builder) WithUsers(users UserRepository) *Builder {
	b.users = users
	return b
}

// WithSessions supplies the durable session repository.
func (b *Builder) WithSessions(sessions SessionRepository) *Builder {
	b.sessions = sessions
	return b
}

// WithTransactor supplies the durable-store transaction wrapper used for
// multi-row OAuth updates. Optional; without it those updates run as
// separate statements.
func (b *Builder) WithTransactor(tx Transactor) *Builder {
	b.tx = tx
	return b
}

// WithNotifier supplies the mail sender. Optional; without it workflow
// mail is silently skipped.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink supplies the audit destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the Engine. A Builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user repository required")
	}
	if b.sessions == nil {
		return nil, errors.New("session repository required")
	}

	hasher, err := password.NewHasher(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(newOpaqueToken())
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:    cfg,
		cache:     cache.NewStore(b.redis, b.cachePrefix),
		users:     b.users,
		sessions:  b.sessions,
		tx:        b.tx,
		notifier:  b.notifier,
		hasher:    hasher,
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		clock:     time.Now,
		dummyHash: dummyHash,
	}, nil
}
