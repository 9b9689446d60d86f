// Package throttle bounds the number of concurrent upstream requests per
// model and optionally their rate.
package throttle

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/chatrelay/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Mode selects what happens when a model is at its concurrency limit.
type Mode string

const (
	// ModeQueue waits for a free slot until the context ends.
	ModeQueue Mode = "queue"
	// ModeReject fails immediately with types.ErrModelBusy.
	ModeReject Mode = "reject"
)

// Config configures a Throttler.
type Config struct {
	Mode Mode `json:"mode" yaml:"mode"`
	// DefaultLimit applies to models without a PerModel entry. Zero or
	// negative means unlimited.
	DefaultLimit int64            `json:"default_limit" yaml:"default_limit"`
	PerModel     map[string]int64 `json:"per_model" yaml:"per_model"`
	// RequestsPerSecond adds a token bucket per model when positive.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// DefaultConfig returns a queueing throttler with no limits.
func DefaultConfig() Config {
	return Config{Mode: ModeQueue}
}

type gate struct {
	limit    int64
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	inFlight atomic.Int64
}

// Throttler hands out per-model slots. It is safe for concurrent use.
type Throttler struct {
	cfg    Config
	mu     sync.Mutex
	gates  map[string]*gate
	logger *zap.Logger
}

// New creates a Throttler.
func New(cfg Config, logger *zap.Logger) *Throttler {
	if cfg.Mode == "" {
		cfg.Mode = ModeQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttler{
		cfg:    cfg,
		gates:  make(map[string]*gate),
		logger: logger.With(zap.String("component", "throttle")),
	}
}

// Mode returns the configured mode.
func (t *Throttler) Mode() Mode { return t.cfg.Mode }

// Limit returns the concurrency limit for modelID, 0 when unlimited.
func (t *Throttler) Limit(modelID string) int64 {
	if n, ok := t.cfg.PerModel[modelID]; ok {
		return max(n, 0)
	}
	return max(t.cfg.DefaultLimit, 0)
}

// InFlight returns the number of held slots for modelID.
func (t *Throttler) InFlight(modelID string) int64 {
	t.mu.Lock()
	g, ok := t.gates[modelID]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return g.inFlight.Load()
}

func (t *Throttler) gate(modelID string) *gate {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.gates[modelID]; ok {
		return g
	}
	g := &gate{limit: t.Limit(modelID)}
	if g.limit > 0 {
		g.sem = semaphore.NewWeighted(g.limit)
	}
	if t.cfg.RequestsPerSecond > 0 {
		burst := t.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(t.cfg.RequestsPerSecond), burst)
	}
	t.gates[modelID] = g
	return g
}

// Acquire obtains a slot for modelID. The returned release func is
// idempotent and must be called when the upstream request finishes.
//
// In queue mode a context that ends while waiting returns context.Cause,
// so a request deadline surfaces as the caller's timeout error.
func (t *Throttler) Acquire(ctx context.Context, modelID string) (func(), error) {
	g := t.gate(modelID)

	if g.limiter != nil {
		if t.cfg.Mode == ModeReject {
			if !g.limiter.Allow() {
				return nil, t.busy(modelID, "rate limit reached")
			}
		} else if err := g.limiter.Wait(ctx); err != nil {
			return nil, waitError(ctx, err)
		}
	}

	if g.sem != nil {
		if t.cfg.Mode == ModeReject {
			if !g.sem.TryAcquire(1) {
				return nil, t.busy(modelID, fmt.Sprintf("concurrency limit %d reached", g.limit))
			}
		} else if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, waitError(ctx, err)
		}
	}

	g.inFlight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			if g.sem != nil {
				g.sem.Release(1)
			}
		})
	}, nil
}

func (t *Throttler) busy(modelID, reason string) error {
	t.logger.Debug("request rejected", zap.String("model", modelID), zap.String("reason", reason))
	return types.NewError(types.ErrModelBusy, fmt.Sprintf("model %s is busy: %s", modelID, reason)).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true)
}

// waitError 优先返回 ctx 的取消原因；限流器预判等待会超过截止时间时 ctx 尚未结束，按超时处理.
func waitError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return types.NewError(types.ErrTimeout, err.Error()).WithCause(err)
}
