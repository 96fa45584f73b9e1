package cache

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/metrics"
	"github.com/ignite/habit-coach/internal/pkg/logger"
)

var log = logger.Component("cache")

// VersionSource answers which model version a result of type t must carry
// to be served. *models.Registry implements it.
type VersionSource interface {
	ActiveVersion(t domain.PredictionType) string
}

// Options configures a Cache.
type Options struct {
	TTL     TTLPolicy
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// generationStripes bounds the per-user invalidation counters. Users that
// share a stripe see each other's invalidations, which costs at most a
// recompute.
const generationStripes = 4096

// Cache is the two-tier prediction cache. A nil persistent tier runs the
// cache fast-tier only.
type Cache struct {
	fast     *FastTier
	tier     Tier
	versions VersionSource
	ttl      TTLPolicy
	metrics  *metrics.Metrics
	now      func() time.Time

	gens [generationStripes]atomic.Uint64
}

// New wires a Cache. versions must not be nil.
func New(fast *FastTier, tier Tier, versions VersionSource, opts Options) *Cache {
	if opts.TTL.Base == 0 {
		opts.TTL = DefaultTTLPolicy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		fast:     fast,
		tier:     tier,
		versions: versions,
		ttl:      opts.TTL,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// Get returns a servable cached result. A fast-tier miss falls through to
// the persistent tier and a hit there is promoted. Entries computed under
// a version that is no longer active are treated as misses.
func (c *Cache) Get(ctx context.Context, userID string, t domain.PredictionType) (*domain.PredictionResult, bool) {
	now := c.now()

	if r, _, ok := c.fast.Get(userID, t, now); ok {
		if c.Current(r) {
			c.metrics.CacheLookup("fast", "hit")
			return r, true
		}
		c.fast.Remove(userID, t)
		c.metrics.CacheLookup("fast", "stale")
	} else {
		c.metrics.CacheLookup("fast", "miss")
	}

	if c.tier == nil {
		return nil, false
	}
	e, err := c.tier.Get(ctx, userID, t)
	if err != nil {
		c.backendError("get", err, "user_id", userID, "type", string(t))
		return nil, false
	}
	if e == nil || e.Result == nil || e.Expired(now) {
		c.metrics.CacheLookup(c.tier.Name(), "miss")
		return nil, false
	}
	if !c.Current(e.Result) {
		c.metrics.CacheLookup(c.tier.Name(), "stale")
		return nil, false
	}
	c.metrics.CacheLookup(c.tier.Name(), "hit")
	c.fast.Set(e.Result, e.ExpiresAt)
	return cloneResult(e.Result), true
}

// GetMany looks up several types and returns what was found plus the
// types that still need computing, in the order given.
func (c *Cache) GetMany(ctx context.Context, userID string, types []domain.PredictionType) (domain.PredictionSet, []domain.PredictionType) {
	found := make(domain.PredictionSet, len(types))
	var missing []domain.PredictionType
	for _, t := range types {
		if r, ok := c.Get(ctx, userID, t); ok {
			found[t] = r
			continue
		}
		missing = append(missing, t)
	}
	return found, missing
}

// Set stores r in both tiers with a confidence-scaled TTL. A persistent
// tier failure is logged and returned; the fast tier still holds r.
func (c *Cache) Set(ctx context.Context, r *domain.PredictionResult) error {
	if r == nil {
		return nil
	}
	expiresAt := c.now().Add(c.ttl.For(r.Confidence))
	c.fast.Set(r, expiresAt)
	if c.tier == nil {
		return nil
	}
	if err := c.tier.Set(ctx, &Entry{Result: cloneResult(r), ExpiresAt: expiresAt}); err != nil {
		return c.backendError("set", err, "user_id", r.UserID, "type", string(r.Type))
	}
	return nil
}

// Generation returns userID's invalidation generation. Read it before
// fetching the data a result is computed from, and store the result with
// SetIfCurrent.
func (c *Cache) Generation(userID string) uint64 {
	return c.stripe(userID).Load()
}

// SetIfCurrent stores r unless r's user was invalidated after gen was
// read, so a computation that started before a new activity never writes
// its result back over the invalidation. It reports whether r was kept.
func (c *Cache) SetIfCurrent(ctx context.Context, r *domain.PredictionResult, gen uint64) (bool, error) {
	if r == nil {
		return false, nil
	}
	g := c.stripe(r.UserID)
	if g.Load() != gen {
		c.metrics.CacheInvalidated("stale_write")
		return false, nil
	}
	err := c.Set(ctx, r)
	if g.Load() == gen {
		return true, err
	}
	// An invalidation landed during the write and may have run before it.
	c.metrics.CacheInvalidated("stale_write")
	c.fast.Remove(r.UserID, r.Type)
	if c.tier != nil {
		if derr := c.tier.DeleteUser(ctx, r.UserID); derr != nil {
			return false, c.backendError("delete_user", derr, "user_id", r.UserID)
		}
	}
	return false, err
}

func (c *Cache) stripe(userID string) *atomic.Uint64 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &c.gens[h.Sum32()%generationStripes]
}

// InvalidateUser drops every cached result of userID, called when a new
// activity arrives for them. The generation moves first so writes of
// results computed before this call are refused.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	c.stripe(userID).Add(1)
	c.fast.RemoveUser(userID)
	c.metrics.CacheInvalidated("user")
	if c.tier == nil {
		return nil
	}
	if err := c.tier.DeleteUser(ctx, userID); err != nil {
		return c.backendError("delete_user", err, "user_id", userID)
	}
	return nil
}

// InvalidateModelVersion drops every result computed under version and
// returns how many entries were removed from the persistent tier, or from
// the fast tier when there is none.
func (c *Cache) InvalidateModelVersion(ctx context.Context, version string) (int, error) {
	n := c.fast.RemoveVersion(version)
	c.metrics.CacheInvalidated("model_version")
	if c.tier == nil {
		return n, nil
	}
	removed, err := c.tier.DeleteVersion(ctx, version)
	if err != nil {
		return n, c.backendError("delete_version", err, "version", version)
	}
	log.Info("invalidated model version", "version", version, "fast", n, "persistent", removed)
	return removed, nil
}

// PurgeExpired sweeps expired entries from both tiers.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	now := c.now()
	n := c.fast.PurgeExpired(now)
	if c.tier == nil {
		return n, nil
	}
	removed, err := c.tier.PurgeExpired(ctx, now)
	if err != nil {
		return n, c.backendError("purge", err)
	}
	return n + removed, nil
}

// Current reports whether r may still be served.
func (c *Cache) Current(r *domain.PredictionResult) bool {
	if r.ModelVersion == domain.HeuristicVersion {
		return true
	}
	return r.ModelVersion == c.versions.ActiveVersion(r.Type)
}

// TTL returns the TTL a result with the given confidence would get.
func (c *Cache) TTL(confidence float64) time.Duration { return c.ttl.For(confidence) }

// Len is the fast-tier size.
func (c *Cache) Len() int { return c.fast.Len() }

func (c *Cache) backendError(op string, err error, kv ...interface{}) error {
	be := &BackendError{Tier: c.tier.Name(), Op: op, Err: err}
	c.metrics.CacheBackendError(be.Tier, op)
	log.Warn("persistent tier failed, treating as miss", append([]interface{}{"tier", be.Tier, "op", op, "error", err}, kv...)...)
	return be
}
