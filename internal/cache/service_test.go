package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiercache/tiercache/internal/storage"
	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// countingStrategy counts operations against the wrapped strategy.
type countingStrategy struct {
	types.Strategy
	gets int
	sets int
}

func (c *countingStrategy) Get(ctx context.Context, key string) (*types.Entry, error) {
	c.gets++
	return c.Strategy.Get(ctx, key)
}

func (c *countingStrategy) Set(ctx context.Context, key string, entry *types.Entry) error {
	c.sets++
	return c.Strategy.Set(ctx, key, entry)
}

// failingStrategy fails every operation.
type failingStrategy struct{}

func (failingStrategy) Get(context.Context, string) (*types.Entry, error) {
	return nil, errors.New(errors.CodeDatabaseUnavailable, errors.CategoryStorage, "down")
}
func (failingStrategy) Set(context.Context, string, *types.Entry) error {
	return errors.New(errors.CodeStorageWrite, errors.CategoryStorage, "down")
}
func (failingStrategy) Remove(context.Context, string) error { return nil }
func (failingStrategy) Clear(context.Context) error          { return nil }
func (failingStrategy) Keys(context.Context, string) ([]string, error) {
	return nil, errors.New(errors.CodeStorageRead, errors.CategoryStorage, "down")
}

type testTiers struct {
	memory *storage.MemoryStore
	file   *storage.MemoryStore
	sqlite *storage.MemoryStore
}

func newTestService(opts Options) (*Service, testTiers) {
	tiers := testTiers{
		memory: storage.NewMemoryStore(),
		file:   storage.NewMemoryStore(),
		sqlite: storage.NewMemoryStore(),
	}
	return New(tiers.memory, tiers.file, tiers.sqlite, opts), tiers
}

func seed(t *testing.T, store types.Strategy, key, data string, expires int64) {
	t.Helper()
	err := store.Set(context.Background(), key, &types.Entry{
		Data:      json.RawMessage(data),
		Expires:   expires,
		CreatedAt: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
}

func TestService_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{})

	type board struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	want := board{ID: "board-1", Name: "Roadmap"}

	require.NoError(t, svc.Set(ctx, "board", "board-1", want, nil))

	var got board
	ok, err := svc.Get(ctx, "board", "board-1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestService_RoundTripPerTier(t *testing.T) {
	for _, tier := range []types.Tier{types.TierMemory, types.TierFile, types.TierSQLite} {
		t.Run(string(tier), func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newTestService(Options{})

			require.NoError(t, svc.Set(ctx, "ns", "k", "value", &SetOptions{Tier: tier}))

			var got string
			ok, err := svc.Get(ctx, "ns", "k", &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "value", got)
		})
	}
}

func TestService_GetMissReturnsFalse(t *testing.T) {
	svc, _ := newTestService(Options{})

	var out string
	ok, err := svc.Get(context.Background(), "board", "absent", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ExpiredEntryRemovedFromServingTier(t *testing.T) {
	ctx := context.Background()
	svc, tiers := newTestService(Options{})

	// Pre-seed an already-expired entry directly into the file tier.
	seed(t, tiers.file, "board:stale", `"old"`, time.Now().Add(-time.Millisecond).UnixMilli())

	var out string
	ok, err := svc.Get(ctx, "board", "stale", &out)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must never be returned")

	entry, err := tiers.file.Get(ctx, "board:stale")
	require.NoError(t, err)
	assert.Nil(t, entry, "expired entry must be removed from the tier that held it")
}

func TestService_TTLScenario(t *testing.T) {
	ctx := context.Background()
	svc, tiers := newTestService(Options{})

	require.NoError(t, svc.Set(ctx, "board", "board-1", "v", &SetOptions{
		TTL:  100 * time.Millisecond,
		Tier: types.TierSQLite,
	}))

	var out string
	ok, err := svc.Get(ctx, "board", "board-1", &out)
	require.NoError(t, err)
	assert.True(t, ok, "entry should be served before expiry")

	time.Sleep(150 * time.Millisecond)

	ok, err = svc.Get(ctx, "board", "board-1", &out)
	require.NoError(t, err)
	assert.False(t, ok, "entry should be gone after expiry")

	// Expired copies are gone from every tier that served them.
	for name, store := range map[string]types.Strategy{
		"memory": tiers.memory, "sqlite": tiers.sqlite,
	} {
		listed, err := store.Keys(ctx, "board:board-1")
		require.NoError(t, err)
		assert.Empty(t, listed, "tier %s still lists the expired key", name)
	}
}

func TestService_TierPromotion(t *testing.T) {
	ctx := context.Background()
	memory := storage.NewMemoryStore()
	sqlite := &countingStrategy{Strategy: storage.NewMemoryStore()}
	svc := New(memory, storage.NewMemoryStore(), sqlite, Options{})

	// Seed only the slowest tier.
	seed(t, sqlite.Strategy, "item-42", `"answer"`, time.Now().Add(time.Hour).UnixMilli())

	var out string
	ok, err := svc.Get(ctx, "", "item-42", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "answer", out)

	// The hit was promoted into memory.
	entry, err := memory.Get(ctx, "item-42")
	require.NoError(t, err)
	require.NotNil(t, entry, "entry was not promoted into memory")

	// The next lookup is served from memory without a second slow-tier
	// round trip.
	before := sqlite.gets
	ok, err = svc.Get(ctx, "", "item-42", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before, sqlite.gets, "second Get touched the slow tier")

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.Promotions)
	assert.Equal(t, uint64(1), stats.Hits[types.TierSQLite])
	assert.Equal(t, uint64(1), stats.Hits[types.TierMemory])
}

func TestService_InvalidatePattern(t *testing.T) {
	ctx := context.Background()
	svc, tiers := newTestService(Options{})

	// Spread matching keys unevenly across tiers: a key present in only
	// one tier must still be fully invalidated.
	seed(t, tiers.memory, "item-board-1-a", `1`, 0)
	seed(t, tiers.file, "item-board-1-b", `2`, 0)
	seed(t, tiers.sqlite, "item-board-1-c", `3`, 0)
	seed(t, tiers.sqlite, "item-board-2-x", `4`, 0)

	require.NoError(t, svc.InvalidatePattern(ctx, "", "item-board-1*"))

	for _, store := range []types.Strategy{tiers.memory, tiers.file, tiers.sqlite} {
		listed, err := store.Keys(ctx, "item-board-1*")
		require.NoError(t, err)
		assert.Empty(t, listed)
	}

	survivor, err := tiers.sqlite.Get(ctx, "item-board-2-x")
	require.NoError(t, err)
	assert.NotNil(t, survivor, "non-matching key must survive")
}

func TestService_InvalidatePatternWithNamespace(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{})

	require.NoError(t, svc.Set(ctx, "board", "board-1", "a", nil))
	require.NoError(t, svc.Set(ctx, "board", "board-2", "b", nil))
	require.NoError(t, svc.Set(ctx, "item", "board-1", "c", nil))

	require.NoError(t, svc.InvalidatePattern(ctx, "board", "*"))

	var out string
	ok, _ := svc.Get(ctx, "board", "board-1", &out)
	assert.False(t, ok)
	ok, _ = svc.Get(ctx, "board", "board-2", &out)
	assert.False(t, ok)

	// The other namespace is untouched.
	ok, _ = svc.Get(ctx, "item", "board-1", &out)
	assert.True(t, ok)
}

func TestService_Invalidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{})

	require.NoError(t, svc.Set(ctx, "board", "board-1", "v", &SetOptions{Tier: types.TierSQLite}))
	require.NoError(t, svc.Invalidate(ctx, "board", "board-1"))

	var out string
	ok, err := svc.Get(ctx, "board", "board-1", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	// Invalidating an absent key is not an error.
	assert.NoError(t, svc.Invalidate(ctx, "board", "board-1"))
}

func TestService_PersistSurvivesTTLExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{})

	require.NoError(t, svc.Persist(ctx, "board", "board-1", "permanent"))
	require.NoError(t, svc.Set(ctx, "board", "board-1", "temporary", &SetOptions{TTL: 50 * time.Millisecond}))

	time.Sleep(80 * time.Millisecond)

	var out string
	ok, err := svc.Get(ctx, "board", "board-1", &out)
	require.NoError(t, err)
	assert.False(t, ok, "TTL entry should have expired")

	persisted, err := svc.IsPersisted(ctx, "board", "board-1")
	require.NoError(t, err)
	assert.True(t, persisted)

	ok, err = svc.LoadPersisted(ctx, "board", "board-1", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "permanent", out)
}

func TestService_PersistIgnoresFasterTiers(t *testing.T) {
	ctx := context.Background()
	svc, tiers := newTestService(Options{})

	// Regular entries in memory/file must not satisfy persisted reads.
	require.NoError(t, svc.Set(ctx, "board", "board-1", "regular", nil))

	persisted, err := svc.IsPersisted(ctx, "board", "board-1")
	require.NoError(t, err)
	assert.False(t, persisted)

	// The persisted copy lives under its own prefix in sqlite only.
	require.NoError(t, svc.Persist(ctx, "board", "board-1", "copy"))
	entry, err := tiers.sqlite.Get(ctx, "persist:board:board-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Zero(t, entry.Expires, "persisted entries never expire")
}

func TestService_PersistOnSet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{PersistOnSet: true})

	require.NoError(t, svc.Set(ctx, "board", "board-1", "v", nil))

	persisted, err := svc.IsPersisted(ctx, "board", "board-1")
	require.NoError(t, err)
	assert.True(t, persisted)
}

func TestService_TTLIntrospection(t *testing.T) {
	ctx := context.Background()
	svc, tiers := newTestService(Options{})

	require.NoError(t, svc.Set(ctx, "ns", "k", "v", &SetOptions{TTL: time.Minute}))

	remaining, ok, err := svc.TTL(ctx, "ns", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, remaining, 58*time.Second)
	assert.LessOrEqual(t, remaining, time.Minute)

	// Absent key.
	_, ok, err = svc.TTL(ctx, "ns", "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	// Non-expiring entry.
	seed(t, tiers.memory, "ns:forever", `1`, 0)
	_, ok, err = svc.TTL(ctx, "ns", "forever")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ExtendTTL(t *testing.T) {
	ctx := context.Background()
	svc, tiers := newTestService(Options{})

	require.NoError(t, svc.Set(ctx, "ns", "k", "v", &SetOptions{TTL: time.Minute}))

	extended, err := svc.ExtendTTL(ctx, "ns", "k", time.Minute)
	require.NoError(t, err)
	require.True(t, extended)

	remaining, ok, err := svc.TTL(ctx, "ns", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, remaining, 2*time.Minute-2*time.Second)
	assert.LessOrEqual(t, remaining, 2*time.Minute)

	// Nonexistent key: no writes, reports false.
	extended, err = svc.ExtendTTL(ctx, "ns", "absent", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
	listed, _ := tiers.memory.Keys(ctx, "ns:absent")
	assert.Empty(t, listed)

	// Non-expiring entry: extended as a no-op.
	seed(t, tiers.memory, "ns:forever", `1`, 0)
	extended, err = svc.ExtendTTL(ctx, "ns", "forever", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
	entry, _ := tiers.memory.Get(ctx, "ns:forever")
	assert.Zero(t, entry.Expires)
}

func TestService_ClearAll(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{})

	require.NoError(t, svc.Set(ctx, "a", "1", "v", &SetOptions{Tier: types.TierFile}))
	require.NoError(t, svc.Set(ctx, "b", "2", "v", &SetOptions{Tier: types.TierSQLite}))
	require.NoError(t, svc.Persist(ctx, "c", "3", "v"))

	require.NoError(t, svc.ClearAll(ctx))

	size, err := svc.CacheSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestService_CacheSizeCountsPerTier(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{})

	// A durable Set lands in memory and sqlite, so it counts twice.
	require.NoError(t, svc.Set(ctx, "ns", "k", "v", &SetOptions{Tier: types.TierSQLite}))

	size, err := svc.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestService_WriteFailurePropagates(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemoryStore(), storage.NewMemoryStore(), failingStrategy{}, Options{})

	err := svc.Set(ctx, "ns", "k", "v", &SetOptions{Tier: types.TierSQLite})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeStorageWrite))

	err = svc.Persist(ctx, "ns", "k", "v")
	require.Error(t, err)
}

func TestService_ReadFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	file := storage.NewMemoryStore()
	svc := New(failingStrategy{}, file, storage.NewMemoryStore(), Options{})

	seed(t, file, "ns:k", `"from-file"`, time.Now().Add(time.Hour).UnixMilli())

	var out string
	ok, err := svc.Get(ctx, "ns", "k", &out)
	require.NoError(t, err, "a failing tier must not abort the search")
	require.True(t, ok)
	assert.Equal(t, "from-file", out)
}

func TestService_PatternEnumerationFailureContributesEmptySet(t *testing.T) {
	ctx := context.Background()
	file := storage.NewMemoryStore()
	svc := New(failingStrategy{}, file, storage.NewMemoryStore(), Options{})

	seed(t, file, "item-1", `1`, 0)

	require.NoError(t, svc.InvalidatePattern(ctx, "", "item-*"))

	listed, err := file.Keys(ctx, "item-*")
	require.NoError(t, err)
	assert.Empty(t, listed, "healthy tiers are still invalidated")
}

func TestService_StatsHitRate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(Options{})

	require.NoError(t, svc.Set(ctx, "ns", "k", "v", nil))

	var out string
	_, _ = svc.Get(ctx, "ns", "k", &out)
	_, _ = svc.Get(ctx, "ns", "absent", &out)

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.Hits[types.TierMemory])
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}
