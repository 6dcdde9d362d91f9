package glidauth

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/glidauth/directory"
	"github.com/MrEthical07/glidauth/internal/flows"
	"github.com/MrEthical07/glidauth/internal/stores"
	"github.com/MrEthical07/glidauth/jwt"
	"github.com/MrEthical07/glidauth/notify"
	"github.com/MrEthical07/glidauth/password"
	"github.com/MrEthical07/glidauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory directory.Directory
	notifier  notify.Notifier
	locator   Locator
	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client every store runs on. Cluster and sentinel
// clients work as long as each script's keys hash to one slot.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDirectory(dir directory.Directory) *Builder {
	b.directory = dir
	return b
}

// WithNotifier sets the transport for OTPs, magic links and reminders.
// Without one, messages are discarded.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLocator(l Locator) *Builder {
	b.locator = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// withClock replaces the clock of the challenge ledger and the flows.
func (b *Builder) withClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- STORES --------
	sessions := session.NewStore(
		b.redis,
		cfg.Session.RedisPrefix,
		cfg.Session.ExpirySeconds,
		cfg.Session.RetentionTTL,
	)
	auths := stores.NewAuthenticationStore(
		b.redis,
		cfg.Session.AuthRedisPrefix,
		cfg.Session.RetentionTTL,
		cfg.JWT.RefreshTTL,
	)
	challenges := stores.NewChallengeStore(
		b.redis,
		cfg.MFA.RedisPrefix,
		cfg.MFA.Window,
		cfg.MFA.OTPDigits,
		cfg.MFA.RetentionTTL,
	)
	registrations := stores.NewRegistrationStore(
		b.redis,
		cfg.MFA.RegistrationPrefix,
		cfg.MFA.RegistrationTTL,
	)
	if b.clock != nil {
		challenges.SetClock(b.clock)
	}

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:        cloneConfig(cfg),
		sessions:      sessions,
		auths:         auths,
		challenges:    challenges,
		registrations: registrations,
		directory:     b.directory,
		jwtManager:    jm,
		passwordHash:  ph,
		locator:       b.locator,
		logger:        logger,
	}

	engine.notifier = notify.NewDispatcher(b.notifier, logger.With("component", "notify"), notify.DispatcherConfig{
		BufferSize:  cfg.Notify.BufferSize,
		Workers:     cfg.Notify.Workers,
		SendTimeout: cfg.Notify.SendTimeout,
	})
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.deps = flows.Deps{
		Sessions:      sessions,
		Auths:         auths,
		Challenges:    challenges,
		Registrations: registrations,
		Directory:     b.directory,
		Tokens:        jm,
		Hasher:        ph,
		Notify:        engine.notifier.Send,
		Warn:          logger.Warn,
		Now:           b.clock,
		LinkBase:      strings.TrimRight(cfg.Links.BaseURL, "/"),
	}

	b.built = true

	return engine, nil
}
