package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apexrad/periscan/internal/domain/model"
	"github.com/apexrad/periscan/pkg/logger"
	"github.com/apexrad/periscan/pkg/metrics"
)

// defaultTTL bounds the lifetime of cached results.
const defaultTTL = time.Hour

// ComputeFn produces a fused result for a cache miss. The context it
// receives is detached from any single waiter's cancellation: the shared
// computation runs to completion so every waiter benefits.
type ComputeFn func(ctx context.Context) (model.FusedResult, error)

// Option applies a configuration option to the ResultCache.
type Option func(*ResultCache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) {
		c.ttl = ttl
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(c *ResultCache) {
		if log != nil {
			c.log = log
		}
	}
}

// inflight marks a computation in progress for one key. done is closed
// exactly once, after result and err are written; waiting goroutines block
// on the channel instead of busy-polling.
type inflight struct {
	done   chan struct{}
	result model.FusedResult
	err    error
}

// ResultCache is the content-addressed result cache. A nil backing store
// yields a pure pass-through cache that still enforces the at-most-once
// in-flight contract.
type ResultCache struct {
	store Store
	ttl   time.Duration
	log   logger.Logger

	mu       sync.Mutex
	calls    map[string]*inflight
	degraded bool // latched on first store failure, for health reporting
}

// New creates a ResultCache over the given backing store (which may be nil).
func New(store Store, opts ...Option) *ResultCache {
	c := &ResultCache{
		store: store,
		ttl:   defaultTTL,
		log:   logger.Get().Named("cache"),
		calls: make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the content-addressed cache key: a stable hash over the raw
// image digest, the requested model selection, the fusion policy, and the
// model-version tag. The version tag leads so that Invalidate can drop a
// whole model generation by prefix.
func Key(imageDigest string, kinds []model.Kind, policy model.Policy, version string) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(imageDigest))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(names, ",")))
	h.Write([]byte{0})
	h.Write([]byte(policy))
	return version + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached result for key, if present and fresh.
func (c *ResultCache) Get(ctx context.Context, key string) (model.FusedResult, bool) {
	if c.store == nil {
		return model.FusedResult{}, false
	}
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.storeFailure(ctx, "get", err)
		return model.FusedResult{}, false
	}
	if !ok {
		return model.FusedResult{}, false
	}
	res := e.Result
	res.CacheStatus = model.CacheHit
	return res, true
}

// GetOrCompute returns the cached result for key or computes it, with at
// most one concurrent execution of fn per key. Concurrent callers that
// arrive while the computation is in flight block until it finishes and
// receive the same result. A caller whose context ends while waiting gets
// its context error; the computation itself keeps running.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, fn ComputeFn) (model.FusedResult, error) {
	if res, ok := c.Get(ctx, key); ok {
		metrics.RecordCacheHit()
		return res, nil
	}

	c.mu.Lock()
	if call, ok := c.calls[key]; ok {
		// Another caller is already computing this key.
		c.mu.Unlock()
		metrics.RecordCacheCoalesced()
		return c.await(ctx, call)
	}
	call := &inflight{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()

	metrics.RecordCacheMiss()

	// Detach the computation from this caller's cancellation; other waiters
	// may still need the result after this caller gives up.
	go c.run(context.WithoutCancel(ctx), key, call, fn)

	return c.await(ctx, call)
}

// run executes the computation, publishes the entry, and releases waiters.
func (c *ResultCache) run(ctx context.Context, key string, call *inflight, fn ComputeFn) {
	res, err := fn(ctx)
	if err == nil {
		res.CacheStatus = model.CacheMiss
		c.put(ctx, key, res)
	}

	call.result = res
	call.err = err

	// Publish before releasing waiters; the marker must be gone before the
	// channel closes so late arrivals hit the store instead of a dead call.
	c.mu.Lock()
	delete(c.calls, key)
	c.mu.Unlock()
	close(call.done)
}

// await blocks until the shared computation finishes or the caller's own
// context ends.
func (c *ResultCache) await(ctx context.Context, call *inflight) (model.FusedResult, error) {
	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		return model.FusedResult{}, ctx.Err()
	}
}

// put publishes a fully constructed entry to the backing store.
func (c *ResultCache) put(ctx context.Context, key string, res model.FusedResult) {
	if c.store == nil {
		return
	}
	now := time.Now()
	err := c.store.Put(ctx, Entry{
		Key:       key,
		Result:    res,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	})
	if err != nil {
		c.storeFailure(ctx, "put", err)
	}
}

// Invalidate removes the given key or, with a version-tag prefix, a whole
// model generation.
func (c *ResultCache) Invalidate(ctx context.Context, keyOrPrefix string) int {
	if c.store == nil {
		return 0
	}
	n, err := c.store.DeletePrefix(ctx, keyOrPrefix)
	if err != nil {
		c.storeFailure(ctx, "invalidate", err)
		return 0
	}
	metrics.RecordCacheInvalidations(n)
	return n
}

// Sweep evicts expired entries from the backing store.
func (c *ResultCache) Sweep(ctx context.Context) int {
	if c.store == nil {
		return 0
	}
	n, err := c.store.Sweep(ctx, time.Now())
	if err != nil {
		c.storeFailure(ctx, "sweep", err)
		return 0
	}
	metrics.RecordCacheEvictions(n)
	return n
}

// Degraded reports whether the backing store has failed at least once.
func (c *ResultCache) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded || c.store == nil
}

// Close releases the backing store.
func (c *ResultCache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// storeFailure logs a backing-store error and latches degraded mode. Store
// errors never fail the assessment itself.
func (c *ResultCache) storeFailure(ctx context.Context, op string, err error) {
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()
	metrics.RecordCacheStoreError()
	c.log.Warn(ctx, "cache store unavailable, continuing without caching",
		logger.String("op", op),
		logger.Error(err),
	)
}
