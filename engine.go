package authcore

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/casework/authcore/account"
	internalaudit "github.com/casework/authcore/internal/audit"
	"github.com/casework/authcore/internal/rate"
	"github.com/casework/authcore/jwt"
	"github.com/casework/authcore/password"
	"github.com/casework/authcore/revocation"
)

// Engine is the authentication core. It is built once by [Builder.Build] and is safe
// for concurrent use by any number of request goroutines.
type Engine struct {
	config      Config
	directory   account.Directory
	hasher      *password.Hasher
	tokens      *jwt.Manager
	revocations revocation.Store
	limiter     rate.Limiter
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	clock       func() time.Time

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
	closeOnce   sync.Once
}

// Close stops the revocation janitor and flushes pending audit events. The Engine
// must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.stopJanitor != nil {
			e.stopJanitor()
			<-e.janitorDone
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped returns the number of events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// HashPassword hashes secret with the configured primary algorithm. Hosts use it to
// provision accounts.
func (e *Engine) HashPassword(secret string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}
	if len(secret) < e.config.Password.MinLength {
		return "", ErrPasswordPolicy
	}
	return e.hasher.Hash(secret)
}

// TokenTTL returns the configured lifetime for kind.
func (e *Engine) TokenTTL(kind TokenKind) time.Duration {
	if e == nil || e.tokens == nil {
		return 0
	}
	return e.tokens.TTL(kind)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// flowMetric adapts metricInc to the int IDs carried by flow deps.
func (e *Engine) flowMetric(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) ready() bool {
	return e != nil &&
		e.directory != nil &&
		e.hasher != nil &&
		e.tokens != nil &&
		e.revocations != nil
}

func warnf(format string, args ...any) {
	log.Printf(format, args...)
}
