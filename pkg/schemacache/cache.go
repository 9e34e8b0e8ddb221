package schemacache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

// ProviderFunc runs one introspection against the source database. The cache
// calls it at most once per population regardless of how many readers are
// waiting.
type ProviderFunc func(ctx context.Context) (*schema.CanonicalSchema, error)

// RefreshObserver is called after a repopulation that changed the schema,
// with the new version and the structural diff against the previous snapshot.
// Called outside the cache lock; implementations may block briefly but must
// not call back into the cache for the same key.
type RefreshObserver func(key string, version uint64, summary schema.ChangeSummary)

type entryState int

const (
	stateFresh entryState = iota
	stateInvalidated
	statePopulating
)

func (s entryState) String() string {
	switch s {
	case stateFresh:
		return "fresh"
	case stateInvalidated:
		return "invalidated"
	case statePopulating:
		return "populating"
	default:
		return "unknown"
	}
}

// populateResult carries one population's outcome to every waiter.
type populateResult struct {
	schema  *schema.CanonicalSchema
	version uint64
	err     error
}

type entry struct {
	state     entryState
	version   uint64
	schema    *schema.CanonicalSchema
	fetchedAt time.Time

	// invalidatedDuringPopulate records a change event that arrived while a
	// population was in flight. The finished snapshot may predate the change,
	// so the entry lands invalidated and the next read repopulates.
	invalidatedDuringPopulate bool

	// done/result are set while populating; waiters capture both before
	// blocking so the outcome survives entry reuse.
	done   chan struct{}
	result *populateResult
}

// Options configures cache behavior.
type Options struct {
	// IntrospectTimeout bounds a single introspection run. Zero means no
	// bound beyond the caller's context.
	IntrospectTimeout time.Duration
	// MaxAge forces repopulation of entries older than this on the next
	// read. Engines without a change feed rely on it for eventual refresh.
	// Zero disables age-based refresh.
	MaxAge time.Duration
}

// Cache holds one schema snapshot per connection key with single-flight
// population. Reads never see a partially built schema: snapshots are
// replaced by pointer swap under the lock and are immutable once published.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	store    Store
	opts     Options
	observer RefreshObserver
	logger   *zap.Logger
}

// New creates a cache backed by the given store.
func New(store Store, opts Options, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]*entry),
		store:   store,
		opts:    opts,
		logger:  logger,
	}
}

// OnRefresh registers the observer called after each repopulation that
// produced a different schema. Must be called before the cache is shared.
func (c *Cache) OnRefresh(observer RefreshObserver) {
	c.observer = observer
}

// Get returns the cached schema and its version, populating via introspect
// when the entry is missing, invalidated or older than MaxAge. Concurrent
// callers for the same key share a single introspection and its outcome.
func (c *Cache) Get(ctx context.Context, key string, introspect ProviderFunc) (*schema.CanonicalSchema, uint64, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{state: stateInvalidated}
		c.entries[key] = e
	}

	if e.state == stateFresh && c.expired(e) {
		e.state = stateInvalidated
	}

	switch e.state {
	case stateFresh:
		s, v := e.schema, e.version
		c.mu.Unlock()
		return s, v, nil

	case statePopulating:
		// Waiters share the leader's outcome, errors included; the entry
		// stays invalidated on failure so the next call retries.
		done, result := e.done, e.result
		c.mu.Unlock()
		select {
		case <-done:
			return result.schema, result.version, result.err
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}

	default: // stateInvalidated
		e.state = statePopulating
		e.invalidatedDuringPopulate = false
		e.done = make(chan struct{})
		e.result = &populateResult{}
		old := e.schema
		c.mu.Unlock()
		return c.populate(ctx, key, e, old, introspect)
	}
}

// populate runs one introspection (or adopts a warm snapshot from the store
// on a cold start) and publishes the outcome to the entry and all waiters.
func (c *Cache) populate(ctx context.Context, key string, e *entry, old *schema.CanonicalSchema, introspect ProviderFunc) (*schema.CanonicalSchema, uint64, error) {
	if old == nil {
		warm, base, ok := c.warmStart(ctx, key, e)
		if ok {
			return warm.schema, warm.version, nil
		}
		// A stale stored snapshot is still the diff base for notifications.
		old = base
	}

	pctx := ctx
	if c.opts.IntrospectTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.opts.IntrospectTimeout)
		defer cancel()
	}

	fresh, err := introspect(pctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: introspection exceeded %s", apperrors.ErrTimeout, c.opts.IntrospectTimeout)
	}

	c.mu.Lock()
	result := e.result
	if err != nil {
		e.state = stateInvalidated
		result.err = err
	} else {
		e.version++
		e.schema = fresh
		e.fetchedAt = time.Now()
		if e.invalidatedDuringPopulate {
			// A change landed mid-introspection; serve this snapshot to the
			// current burst but repopulate on the next read.
			e.state = stateInvalidated
			e.invalidatedDuringPopulate = false
		} else {
			e.state = stateFresh
		}
		result.schema = fresh
		result.version = e.version
	}
	version := e.version
	close(e.done)
	e.done = nil
	e.result = nil
	c.mu.Unlock()

	if err != nil {
		return nil, 0, err
	}

	if storeErr := c.store.Set(ctx, key, StoredSchema{
		Schema:    fresh,
		Version:   version,
		FetchedAt: time.Now(),
	}); storeErr != nil {
		c.logger.Warn("schema store write failed",
			zap.String("key", logging.SanitizeDescriptor(key)),
			zap.Error(storeErr),
		)
	}

	if c.observer != nil && old != nil {
		if summary := schema.Diff(old, fresh); !summary.Empty() {
			c.observer(key, version, summary)
		}
	}

	return fresh, version, nil
}

// warmStart adopts a stored snapshot on a cold entry. Only a snapshot still
// within MaxAge short-circuits introspection; an older one becomes the diff
// base but is not served. The base is returned rather than read back off the
// entry, which other goroutines may rewrite once the lock is released.
func (c *Cache) warmStart(ctx context.Context, key string, e *entry) (populateResult, *schema.CanonicalSchema, bool) {
	stored, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("schema store read failed",
			zap.String("key", logging.SanitizeDescriptor(key)),
			zap.Error(err),
		)
		return populateResult{}, nil, false
	}
	if !ok || stored.Schema == nil {
		return populateResult{}, nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e.schema = stored.Schema
	e.version = stored.Version
	e.fetchedAt = stored.FetchedAt

	if c.opts.MaxAge > 0 && time.Since(stored.FetchedAt) > c.opts.MaxAge {
		return populateResult{}, stored.Schema, false
	}
	if e.invalidatedDuringPopulate {
		return populateResult{}, stored.Schema, false
	}

	e.state = stateFresh
	result := e.result
	result.schema = stored.Schema
	result.version = stored.Version
	close(e.done)
	e.done = nil
	e.result = nil
	return *result, stored.Schema, true
}

// Invalidate marks the entry stale so the next read repopulates. Events for
// keys with nothing cached are ignored; invalidating an already invalidated
// entry is a no-op, which is how bursts of DDL events coalesce into one
// repopulation.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.state == statePopulating {
		e.invalidatedDuringPopulate = true
		return
	}
	e.state = stateInvalidated
}

// Refresh forces an immediate repopulation regardless of entry state.
func (c *Cache) Refresh(ctx context.Context, key string, introspect ProviderFunc) (*schema.CanonicalSchema, uint64, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.state == statePopulating {
			e.invalidatedDuringPopulate = true
		} else {
			e.state = stateInvalidated
		}
	}
	c.mu.Unlock()
	return c.Get(ctx, key, introspect)
}

// Replace installs a caller-supplied schema as the Fresh entry, bumping the
// version without paying for introspection. Meant for administrative refresh
// when the caller already holds a current schema. An introspection in flight
// for the same key supersedes the replaced snapshot when it completes.
func (c *Cache) Replace(ctx context.Context, key string, sch *schema.CanonicalSchema) uint64 {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	old := e.schema
	e.version++
	e.schema = sch
	e.fetchedAt = time.Now()
	if e.state != statePopulating {
		e.state = stateFresh
	}
	version := e.version
	c.mu.Unlock()

	if storeErr := c.store.Set(ctx, key, StoredSchema{
		Schema:    sch,
		Version:   version,
		FetchedAt: time.Now(),
	}); storeErr != nil {
		c.logger.Warn("schema store write failed",
			zap.String("key", logging.SanitizeDescriptor(key)),
			zap.Error(storeErr),
		)
	}

	if c.observer != nil && old != nil {
		if summary := schema.Diff(old, sch); !summary.Empty() {
			c.observer(key, version, summary)
		}
	}

	return version
}

// Remove drops the entry and its stored snapshot, e.g. when the connection
// it belongs to is evicted.
func (c *Cache) Remove(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("schema store delete failed",
			zap.String("key", logging.SanitizeDescriptor(key)),
			zap.Error(err),
		)
	}
}

// Version returns the current version for a key, zero when nothing is cached.
func (c *Cache) Version(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.version
	}
	return 0
}

// CacheStats summarizes entry states for diagnostics.
type CacheStats struct {
	TotalEntries int `json:"total_entries"`
	Fresh        int `json:"fresh"`
	Invalidated  int `json:"invalidated"`
	Populating   int `json:"populating"`
}

// Stats returns a snapshot of entry states.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{TotalEntries: len(c.entries)}
	for _, e := range c.entries {
		switch e.state {
		case stateFresh:
			stats.Fresh++
		case stateInvalidated:
			stats.Invalidated++
		case statePopulating:
			stats.Populating++
		}
	}
	return stats
}

func (c *Cache) expired(e *entry) bool {
	return c.opts.MaxAge > 0 && time.Since(e.fetchedAt) > c.opts.MaxAge
}
