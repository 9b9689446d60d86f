// Package keystore resolves provider API keys for relay requests.
//
// Resolution order: Redis cache, the provider_api_keys table (model id, then
// provider), then the environment (<MODEL_ID>_API_KEY, then <PROVIDER>_API_KEY).
// Keys found in the database are written back to the cache.
package keystore

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/chatrelay/internal/cache"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/relay"
	"go.uber.org/zap"
)

const cacheType = "api_key"

// Cache is the subset of cache.Manager the resolver uses.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Lookup finds a key in persistent storage. It returns "" when none exists.
type Lookup interface {
	Lookup(ctx context.Context, modelID, provider string) (string, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables the Redis cache layer.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithStore enables the database layer.
func WithStore(s Lookup) Option {
	return func(r *Resolver) { r.store = s }
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEnv replaces os.LookupEnv, mainly for tests.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) { r.env = lookup }
}

// Resolver implements relay.KeyResolver.
type Resolver struct {
	cache   Cache
	ttl     time.Duration
	store   Lookup
	env     func(string) (string, bool)
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New creates a resolver. With no options only the environment is consulted.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		env:    os.LookupEnv,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "keystore"))
	return r
}

// ResolveAPIKey returns the key for model, or "" when nothing is configured.
// Cache failures are logged and skipped; database failures are returned.
func (r *Resolver) ResolveAPIKey(ctx context.Context, model llm.ModelDescriptor) (string, error) {
	ck := cacheKey(model)

	if r.cache != nil {
		key, err := r.cache.Get(ctx, ck)
		switch {
		case err == nil && key != "":
			r.metrics.RecordCacheHit(cacheType)
			return key, nil
		case err != nil && !cache.IsCacheMiss(err):
			r.logger.Warn("api key cache read failed", zap.String("model", model.ID), zap.Error(err))
		}
		r.metrics.RecordCacheMiss(cacheType)
	}

	if r.store != nil {
		key, err := r.store.Lookup(ctx, model.ID, string(model.Provider))
		if err != nil {
			return "", err
		}
		if key != "" {
			if r.cache != nil {
				if err := r.cache.Set(ctx, ck, key, r.ttl); err != nil {
					r.logger.Warn("api key cache write failed", zap.String("model", model.ID), zap.Error(err))
				}
			}
			return key, nil
		}
	}

	for _, name := range envNames(model) {
		if v, ok := r.env(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", nil
}

func cacheKey(model llm.ModelDescriptor) string {
	return "apikey:" + string(model.Provider) + ":" + model.ID
}

// envNames returns <MODEL_ID>_API_KEY then <PROVIDER>_API_KEY, upper-cased
// with non-alphanumerics replaced by underscores.
func envNames(model llm.ModelDescriptor) []string {
	var names []string
	if model.ID != "" {
		names = append(names, envName(model.ID)+"_API_KEY")
	}
	if model.Provider != "" {
		names = append(names, envName(string(model.Provider))+"_API_KEY")
	}
	return names
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

var _ relay.KeyResolver = (*Resolver)(nil)
