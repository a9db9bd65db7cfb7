package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

func cacheJob(id string) *models.JobRecord {
	scraped := time.Now().UTC()
	return &models.JobRecord{
		JobID:       id,
		Platform:    "indeed",
		Title:       "Engineer " + id,
		Company:     "Hooli",
		ScrapedDate: &scraped,
	}
}

func TestCacheNeverExceedsMaxSize(t *testing.T) {
	cache := NewCache(Options{MaxSize: 10, Policy: "lru"}, arbor.NewLogger())
	require.NoError(t, cache.Initialize(context.Background()))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, cache.Store(ctx, cacheJob(fmt.Sprintf("job%03d", i))))
		assert.LessOrEqual(t, cache.Len(), 10)
	}
	assert.Equal(t, 10, cache.Len())
	assert.Equal(t, int64(40), cache.Stats().Evictions)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewCache(Options{MaxSize: 2, Policy: "lru"}, arbor.NewLogger())
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	clock := base
	cache.now = func() time.Time { return clock }

	require.NoError(t, cache.Store(ctx, cacheJob("a")))
	clock = clock.Add(time.Second)
	require.NoError(t, cache.Store(ctx, cacheJob("b")))

	// Touch "a" so "b" becomes the LRU victim.
	clock = clock.Add(time.Second)
	require.NotNil(t, cache.Get("a"))

	clock = clock.Add(time.Second)
	require.NoError(t, cache.Store(ctx, cacheJob("c")))

	assert.NotNil(t, cache.Get("a"))
	assert.Nil(t, cache.Get("b"))
	assert.NotNil(t, cache.Get("c"))
}

func TestLFUEvictsLeastFrequentlyUsed(t *testing.T) {
	cache := NewCache(Options{MaxSize: 2, Policy: "lfu"}, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, cacheJob("a")))
	require.NoError(t, cache.Store(ctx, cacheJob("b")))

	// "a" accrues hits; "b" stays cold.
	for i := 0; i < 3; i++ {
		require.NotNil(t, cache.Get("a"))
	}

	require.NoError(t, cache.Store(ctx, cacheJob("c")))
	assert.NotNil(t, cache.Get("a"))
	assert.Nil(t, cache.Get("b"))
}

func TestFIFOEvictsInInsertionOrder(t *testing.T) {
	cache := NewCache(Options{MaxSize: 2, Policy: "fifo"}, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, cacheJob("a")))
	require.NoError(t, cache.Store(ctx, cacheJob("b")))

	// Access does not protect FIFO entries.
	require.NotNil(t, cache.Get("a"))

	require.NoError(t, cache.Store(ctx, cacheJob("c")))
	assert.Nil(t, cache.Get("a"))
	assert.NotNil(t, cache.Get("b"))
}

func TestScansDoNotCountAsAccesses(t *testing.T) {
	cache := NewCache(Options{MaxSize: 2, Policy: "lru"}, arbor.NewLogger())
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	clock := base
	cache.now = func() time.Time { return clock }

	require.NoError(t, cache.Store(ctx, cacheJob("a")))
	clock = clock.Add(time.Second)
	require.NoError(t, cache.Store(ctx, cacheJob("b")))

	// Broad scans touch every entry but must not refresh recency, or one
	// Retrieve would flatten the eviction ordering.
	clock = clock.Add(time.Second)
	_, err := cache.Retrieve(ctx, interfaces.Query{})
	require.NoError(t, err)
	_, err = cache.Count(ctx, interfaces.Query{})
	require.NoError(t, err)

	clock = clock.Add(time.Second)
	require.NoError(t, cache.Store(ctx, cacheJob("c")))

	// "a" is still the least recently used despite the scans.
	assert.Nil(t, cache.Get("a"))
	assert.NotNil(t, cache.Get("b"))
	assert.NotNil(t, cache.Get("c"))
}

func TestExpiredEntriesCountAsMisses(t *testing.T) {
	cache := NewCache(Options{MaxSize: 10, TTL: time.Minute}, arbor.NewLogger())
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	clock := base
	cache.now = func() time.Time { return clock }

	require.NoError(t, cache.Store(ctx, cacheJob("a")))
	require.NotNil(t, cache.Get("a"))

	clock = base.Add(2 * time.Minute)
	assert.Nil(t, cache.Get("a"))
	assert.Equal(t, 0, cache.Len())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSweepReclaimsExpired(t *testing.T) {
	cache := NewCache(Options{MaxSize: 10, TTL: time.Minute}, arbor.NewLogger())
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	clock := base
	cache.now = func() time.Time { return clock }

	require.NoError(t, cache.Store(ctx, cacheJob("a"), cacheJob("b")))
	clock = base.Add(30 * time.Second)
	require.NoError(t, cache.Store(ctx, cacheJob("c")))

	clock = base.Add(90 * time.Second)
	cache.sweep()

	assert.Equal(t, 1, cache.Len())
	assert.NotNil(t, cache.Get("c"))
}

func TestRetrieveFiltersLiveEntries(t *testing.T) {
	cache := NewCache(Options{MaxSize: 10}, arbor.NewLogger())
	ctx := context.Background()

	rec := cacheJob("a")
	rec.SalaryMin = 120000
	require.NoError(t, cache.Store(ctx, rec, cacheJob("b")))

	got, err := cache.Retrieve(ctx, interfaces.Query{"salary_min_gte": 100000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].JobID)

	n, err := cache.Delete(ctx, interfaces.Query{"job_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := cache.Exists(ctx, interfaces.Query{"job_id": "a"})
	require.NoError(t, err)
	assert.False(t, exists)
}
