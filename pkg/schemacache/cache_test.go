package schemacache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

func testSchema(entities ...string) *schema.CanonicalSchema {
	s := &schema.CanonicalSchema{
		Entities:   make(map[string]schema.EntitySchema, len(entities)),
		EngineKind: schema.EngineRelational,
		FetchedAt:  time.Now(),
	}
	for _, name := range entities {
		s.Entities[name] = schema.EntitySchema{
			Name:   name,
			Fields: []schema.FieldSchema{{Name: "id", DataType: schema.TypeInteger, IsPrimaryKey: true}},
		}
	}
	return s
}

// countingProvider returns the given schemas in sequence, counting calls.
// The last schema repeats once the sequence is exhausted.
func countingProvider(calls *atomic.Int64, schemas ...*schema.CanonicalSchema) ProviderFunc {
	return func(_ context.Context) (*schema.CanonicalSchema, error) {
		n := calls.Add(1)
		idx := int(n) - 1
		if idx >= len(schemas) {
			idx = len(schemas) - 1
		}
		return schemas[idx], nil
	}
}

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	return New(NewMemoryStore(), opts, zaptest.NewLogger(t))
}

func TestCache_Get_PopulatesOnce(t *testing.T) {
	cache := newTestCache(t, Options{})
	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	ctx := context.Background()
	s1, v1, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	require.NotNil(t, s1)
	assert.Equal(t, uint64(1), v1)

	s2, v2, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	assert.Same(t, s1, s2, "fresh entry must be served without re-introspection")
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_Get_SingleFlight(t *testing.T) {
	cache := newTestCache(t, Options{})

	var calls atomic.Int64
	release := make(chan struct{})
	provider := func(_ context.Context) (*schema.CanonicalSchema, error) {
		calls.Add(1)
		<-release
		return testSchema("users"), nil
	}

	const readers = 20
	var wg sync.WaitGroup
	versions := make([]uint64, readers)
	errs := make([]error, readers)

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, versions[i], errs[i] = cache.Get(context.Background(), "key", provider)
		}(i)
	}

	// Let every reader either start the population or block waiting on it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, uint64(1), versions[i], "all concurrent readers share one population")
	}
	assert.Equal(t, int64(1), calls.Load(), "concurrent misses must introspect exactly once")
}

func TestCache_Invalidate_Repopulates(t *testing.T) {
	cache := newTestCache(t, Options{})
	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"), testSchema("users", "projects"))

	ctx := context.Background()
	s1, v1, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	assert.Len(t, s1.Entities, 1)

	cache.Invalidate("key")

	s2, v2, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	assert.Len(t, s2.Entities, 2)
	assert.Greater(t, v2, v1, "version must advance on repopulation")
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_Invalidate_Coalesces(t *testing.T) {
	cache := newTestCache(t, Options{})
	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	ctx := context.Background()
	_, _, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)

	// A burst of DDL events produces repeated invalidations; they must
	// collapse into a single repopulation on the next read.
	for i := 0; i < 10; i++ {
		cache.Invalidate("key")
	}

	_, v, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_Invalidate_UnknownKeyIsNoop(t *testing.T) {
	cache := newTestCache(t, Options{})
	cache.Invalidate("never-seen")
	assert.Equal(t, 0, cache.Stats().TotalEntries)
}

func TestCache_InvalidateDuringPopulate(t *testing.T) {
	cache := newTestCache(t, Options{})

	var calls atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})
	provider := func(_ context.Context) (*schema.CanonicalSchema, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return testSchema("users"), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := cache.Get(context.Background(), "key", provider)
		assert.NoError(t, err)
	}()

	<-entered
	// The change event lands while introspection is in flight; the snapshot
	// being built may predate it.
	cache.Invalidate("key")
	close(release)
	<-done

	_, v, err := cache.Get(context.Background(), "key", provider)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v, "entry invalidated mid-population must repopulate on next read")
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_PopulateFailure_SharedAndRetryable(t *testing.T) {
	cache := newTestCache(t, Options{})

	var calls atomic.Int64
	boom := errors.New("connection refused")
	provider := func(_ context.Context) (*schema.CanonicalSchema, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return testSchema("users"), nil
	}

	ctx := context.Background()
	_, _, err := cache.Get(ctx, "key", provider)
	require.ErrorIs(t, err, boom)

	// Entry stays invalidated; the next read retries and succeeds.
	s, v, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_IntrospectTimeout(t *testing.T) {
	cache := newTestCache(t, Options{IntrospectTimeout: 50 * time.Millisecond})

	provider := func(ctx context.Context) (*schema.CanonicalSchema, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return testSchema("users"), nil
		}
	}

	_, _, err := cache.Get(context.Background(), "key", provider)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestCache_MaxAge_ForcesRefresh(t *testing.T) {
	cache := newTestCache(t, Options{MaxAge: 30 * time.Minute})
	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	ctx := context.Background()
	_, _, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)

	// Age the entry past MaxAge.
	cache.mu.Lock()
	cache.entries["key"].fetchedAt = time.Now().Add(-time.Hour)
	cache.mu.Unlock()

	_, v, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_Refresh_Forces(t *testing.T) {
	cache := newTestCache(t, Options{})
	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"), testSchema("users", "projects"))

	ctx := context.Background()
	_, v1, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)

	s, v2, err := cache.Refresh(ctx, "key", provider)
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
	assert.Len(t, s.Entities, 2)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_WarmStartFromStore(t *testing.T) {
	store := NewMemoryStore()
	warm := testSchema("users")
	require.NoError(t, store.Set(context.Background(), "key", StoredSchema{
		Schema:    warm,
		Version:   7,
		FetchedAt: time.Now(),
	}))

	cache := New(store, Options{MaxAge: time.Hour}, zaptest.NewLogger(t))

	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users", "projects"))

	s, v, err := cache.Get(context.Background(), "key", provider)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v, "warm snapshot should be adopted with its stored version")
	assert.Len(t, s.Entities, 1)
	assert.Equal(t, int64(0), calls.Load(), "a fresh stored snapshot short-circuits introspection")
}

func TestCache_WarmStart_StaleSnapshotReintrospects(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "key", StoredSchema{
		Schema:    testSchema("users"),
		Version:   3,
		FetchedAt: time.Now().Add(-2 * time.Hour),
	}))

	cache := New(store, Options{MaxAge: time.Hour}, zaptest.NewLogger(t))

	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users", "projects"))

	s, v, err := cache.Get(context.Background(), "key", provider)
	require.NoError(t, err)
	assert.Len(t, s.Entities, 2)
	assert.Equal(t, uint64(4), v, "version continues from the stored counter")
	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_RefreshObserver_ReportsDiff(t *testing.T) {
	cache := newTestCache(t, Options{})

	type notification struct {
		version uint64
		summary schema.ChangeSummary
	}
	notifications := make(chan notification, 4)
	cache.OnRefresh(func(_ string, version uint64, summary schema.ChangeSummary) {
		notifications <- notification{version, summary}
	})

	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"), testSchema("users", "projects"))

	ctx := context.Background()
	_, _, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	assert.Empty(t, notifications, "initial population has no previous snapshot to diff against")

	cache.Invalidate("key")
	_, _, err = cache.Get(ctx, "key", provider)
	require.NoError(t, err)

	select {
	case n := <-notifications:
		assert.Equal(t, uint64(2), n.version)
		assert.Equal(t, []string{"projects"}, n.summary.AddedEntities)
	default:
		t.Fatal("expected a change notification after repopulation")
	}
}

func TestCache_Replace_SkipsIntrospection(t *testing.T) {
	store := NewMemoryStore()
	cache := New(store, Options{}, zaptest.NewLogger(t))

	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	ctx := context.Background()
	_, v1, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)

	replacement := testSchema("users", "projects")
	v2 := cache.Replace(ctx, "key", replacement)
	assert.Greater(t, v2, v1)

	// The next read serves the replacement without calling the provider.
	got, v3, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)
	assert.Same(t, replacement, got)
	assert.Equal(t, v2, v3)
	assert.Equal(t, int64(1), calls.Load())

	stored, ok, err := store.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v2, stored.Version)
}

// gatedStore blocks reads until the gate opens, holding a cold population
// inside its warm-start store lookup, and always reports a miss so the
// population continues to introspection. entered is closed when the first
// read arrives.
type gatedStore struct {
	Store
	entered   chan struct{}
	enterOnce sync.Once
	gate      chan struct{}
}

func (s *gatedStore) Get(_ context.Context, _ string) (StoredSchema, bool, error) {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.gate
	return StoredSchema{}, false, nil
}

func TestCache_Replace_DuringColdPopulate(t *testing.T) {
	store := &gatedStore{
		Store:   NewMemoryStore(),
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	cache := New(store, Options{}, zaptest.NewLogger(t))

	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	done := make(chan struct{})
	var got *schema.CanonicalSchema
	var gotVersion uint64
	go func() {
		defer close(done)
		var err error
		got, gotVersion, err = cache.Get(context.Background(), "key", provider)
		assert.NoError(t, err)
	}()

	// The leader is parked in the store lookup; a concurrent Replace must not
	// disturb its population.
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("populate never reached the store")
	}
	replaced := testSchema("legacy")
	cache.Replace(context.Background(), "key", replaced)
	close(store.gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("populate did not finish")
	}

	require.NotNil(t, got)
	assert.NotSame(t, replaced, got, "introspection in flight supersedes the replacement")
	assert.Equal(t, int64(1), calls.Load())
	assert.Greater(t, gotVersion, uint64(1), "version keeps increasing past the replacement")
	assert.Equal(t, gotVersion, cache.Version("key"))
}

func TestCache_Replace_ColdKey(t *testing.T) {
	cache := newTestCache(t, Options{})

	v := cache.Replace(context.Background(), "key", testSchema("users"))
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, uint64(1), cache.Version("key"))
}

func TestCache_Replace_NotifiesObserver(t *testing.T) {
	cache := newTestCache(t, Options{})

	var gotSummary schema.ChangeSummary
	var notified atomic.Int64
	cache.OnRefresh(func(_ string, _ uint64, summary schema.ChangeSummary) {
		gotSummary = summary
		notified.Add(1)
	})

	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	ctx := context.Background()
	_, _, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)

	cache.Replace(ctx, "key", testSchema("users", "projects"))
	require.Equal(t, int64(1), notified.Load())
	assert.Equal(t, []string{"projects"}, gotSummary.AddedEntities)
}

func TestCache_Remove(t *testing.T) {
	store := NewMemoryStore()
	cache := New(store, Options{}, zaptest.NewLogger(t))

	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	ctx := context.Background()
	_, _, err := cache.Get(ctx, "key", provider)
	require.NoError(t, err)

	cache.Remove(ctx, "key")
	assert.Equal(t, 0, cache.Stats().TotalEntries)
	assert.Equal(t, uint64(0), cache.Version("key"))

	_, ok, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok, "stored snapshot should be deleted")
}

func TestCache_Stats(t *testing.T) {
	cache := newTestCache(t, Options{})
	var calls atomic.Int64
	provider := countingProvider(&calls, testSchema("users"))

	ctx := context.Background()
	_, _, err := cache.Get(ctx, "a", provider)
	require.NoError(t, err)
	_, _, err = cache.Get(ctx, "b", provider)
	require.NoError(t, err)
	cache.Invalidate("b")

	stats := cache.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.Fresh)
	assert.Equal(t, 1, stats.Invalidated)
	assert.Equal(t, 0, stats.Populating)
}
