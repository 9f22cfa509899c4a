package authcore

import (
	"context"
	"time"

	"github.com/casework/authcore/account"
	internalaudit "github.com/casework/authcore/internal/audit"
	"github.com/casework/authcore/internal/rate"
	"github.com/casework/authcore/jwt"
	"github.com/casework/authcore/password"
	"github.com/casework/authcore/revocation"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory   account.Directory
	revocations revocation.Store
	auditSink   AuditSink
	clock       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDirectory sets the account directory. Required.
func (b *Builder) WithDirectory(d account.Directory) *Builder {
	b.directory = d
	return b
}

// WithRedis makes Redis the backend for the revocation store and the login rate limit.
// Without it both stay in process, which is only correct for a single instance.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRevocationStore overrides the revocation store chosen from WithRedis.
func (b *Builder) WithRevocationStore(s revocation.Store) *Builder {
	b.revocations = s
	return b
}

// WithAuditSink sets the destination of security events and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithClock overrides time.Now for lockout, token and revocation timing.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the verify latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. All returned errors
// wrap ErrConfiguration and are meant to stop the process before it serves traffic.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, configErr("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.directory == nil {
		return nil, configErr("account directory required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		SigningKey: cloneBytes(cfg.JWT.SigningKey),
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: cfg.JWT.VerifyKeys,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Leeway:     cfg.JWT.Leeway,
		Now:        clock,
	})
	if err != nil {
		return nil, configErr("%v", err)
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewHasher(cfg.Password.hasherConfig())
	if err != nil {
		return nil, configErr("%v", err)
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		hasher:    hasher,
		tokens:    jm,
		clock:     clock,
		metrics:   NewMetrics(cfg.Metrics),
	}

	// -------- REVOCATION --------
	switch {
	case b.revocations != nil:
		engine.revocations = b.revocations
	case b.redis != nil:
		engine.revocations = revocation.NewRedis(b.redis, cfg.Revocation.RedisPrefix).WithClock(clock)
	default:
		mem := revocation.NewMemory(revocation.MemoryOptions{
			SweepEvery: cfg.Revocation.SweepEvery,
			Now:        clock,
		})
		engine.revocations = mem
		if cfg.Revocation.SweepInterval > 0 {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				mem.Run(ctx, cfg.Revocation.SweepInterval)
			}()
			engine.stopJanitor = cancel
			engine.janitorDone = done
		}
	}

	// -------- LOGIN RATE LIMIT --------
	if cfg.Security.LoginRateLimit > 0 {
		rc := rate.Config{
			MaxPerWindow: cfg.Security.LoginRateLimit,
			Window:       cfg.Security.LoginRateWindow,
		}
		if b.redis != nil {
			engine.limiter = rate.NewRedis(b.redis, rc)
		} else {
			engine.limiter = rate.NewLocal(rc)
		}
	}

	// -------- AUDIT --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		Synchronous: cfg.Audit.Synchronous,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
