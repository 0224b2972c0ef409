// Package configcache implements the Config Cache: an O(1) read,
// short-TTL cache over the engine's runtime-tunable knobs, with
// defaults built into the binary so a cold cache with no database
// reachable still yields defined values.
//
// It uses the same TTL-keyed, mutex-guarded store shape as a
// namespace-segmented cache elsewhere in this codebase, repointed to
// hold a single Settings snapshot refreshed from an injected Loader
// instead of per-namespace entries.
package configcache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Settings is the exhaustive, strongly-typed set of runtime knobs —
// never a string-to-any map.
type Settings struct {
	MeetingDurationMinutes          int
	MinDurationMinutes              int
	AutoTimeoutMinutes              int
	MaxFutureMonths                 int
	CallsPerStudentPerDay           int
	MeetingsPerVolunteerStudentPair int
	InstantResponseTimeoutSeconds   int
	Warning1Minutes                 int
	Warning2Minutes                 int
	CancellationRateThreshold       int
	MissedRateThreshold              int
	MinReputationScore               int
}

// Defaults returns the hard-coded fallback values.
func Defaults() Settings {
	return Settings{
		MeetingDurationMinutes:          40,
		MinDurationMinutes:              5,
		AutoTimeoutMinutes:              40,
		MaxFutureMonths:                 3,
		CallsPerStudentPerDay:           1,
		MeetingsPerVolunteerStudentPair: 3,
		InstantResponseTimeoutSeconds:   180,
		Warning1Minutes:                 5,
		Warning2Minutes:                 1,
		CancellationRateThreshold:       40,
		MissedRateThreshold:             30,
		MinReputationScore:              30,
	}
}

// Loader fetches the latest Settings from durable config storage
// (owned by an external collaborator). Returning an error leaves the
// cache's current snapshot in place.
type Loader func(ctx context.Context) (Settings, error)

// Cache is the Config Cache. Reads are O(1); staleness is bounded by
// TTL (default capped at 60s) and can be forced via Invalidate.
type Cache struct {
	mu        sync.RWMutex
	logger    zerolog.Logger
	ttl       time.Duration
	loader    Loader
	current   Settings
	fetchedAt time.Time
	stale     bool
}

// DefaultTTL is the cache TTL used when New is given ttl <= 0.
const DefaultTTL = 30 * time.Second

// MaxTTL is the upper bound placed on cache staleness.
const MaxTTL = 60 * time.Second

// New creates a Cache seeded with Defaults(). loader may be nil, in
// which case the cache always serves Defaults().
func New(logger zerolog.Logger, loader Loader, ttl time.Duration) *Cache {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = DefaultTTL
	}
	return &Cache{
		logger:  logger.With().Str("component", "config_cache").Logger(),
		ttl:     ttl,
		loader:  loader,
		current: Defaults(),
		stale:   true,
	}
}

// Get returns the current Settings snapshot, refreshing from the
// loader first if the TTL has elapsed or Invalidate was called. A
// loader failure is logged and the previous snapshot (or defaults, if
// none has ever loaded successfully) is served — a cold cache with an
// unreachable backing store must still yield defined values.
func (c *Cache) Get(ctx context.Context) Settings {
	c.mu.RLock()
	needsRefresh := c.stale || time.Since(c.fetchedAt) > c.ttl
	snapshot := c.current
	c.mu.RUnlock()

	if !needsRefresh || c.loader == nil {
		return snapshot
	}

	fresh, err := c.loader(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("config cache refresh failed, serving last known settings")
		c.fetchedAt = time.Now() // avoid hammering the loader every call while it's down
		return c.current
	}
	c.current = fresh
	c.fetchedAt = time.Now()
	c.stale = false
	return c.current
}

// Invalidate forces the next Get to refresh from the loader,
// regardless of TTL. Called on admin configuration changes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}
