// Package memory implements the bounded in-memory cache backend. Entries
// carry a TTL and the cache never exceeds its configured size; a background
// sweeper reclaims expired entries between reads.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/storage/query"
)

// Options configure the cache backend.
type Options struct {
	MaxSize      int           // entry cap, <=0 means default
	Policy       string        // lru (default), lfu, fifo, ttl
	TTL          time.Duration // per-entry lifetime, <=0 disables expiry
	SweepEnabled bool          // run the background sweeper
}

const defaultMaxSize = 1000

// Cache is the in-memory JobStorage. Reads of expired entries count as
// misses and lazily remove the entry.
type Cache struct {
	opts   Options
	policy evictionPolicy
	logger arbor.ILogger

	mu        sync.Mutex
	entries   map[string]*entry
	insertSeq int64
	sweepStop chan struct{}
	sweepOnce sync.Once

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64

	now func() time.Time // injectable clock for tests
}

// NewCache builds a cache with the given options.
func NewCache(opts Options, logger arbor.ILogger) *Cache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = defaultMaxSize
	}
	return &Cache{
		opts:      opts,
		policy:    NewPolicy(opts.Policy),
		logger:    logger,
		entries:   make(map[string]*entry),
		sweepStop: make(chan struct{}),
		now:       time.Now,
	}
}

func cacheKey(jobID string) string { return "job:" + jobID }

// Initialize starts the sweeper when enabled.
func (c *Cache) Initialize(ctx context.Context) error {
	if c.opts.SweepEnabled && c.opts.TTL > 0 {
		go c.sweepLoop()
	}
	c.logger.Debug().
		Str("policy", c.policy.Name()).
		Int("max_size", c.opts.MaxSize).
		Str("ttl", c.opts.TTL.String()).
		Msg("Memory cache initialized")
	return nil
}

// Store caches records keyed by job_id, evicting per policy when full.
func (c *Cache) Store(ctx context.Context, records ...*models.JobRecord) error {
	if len(records) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, rec := range records {
		if rec.JobID == "" {
			return models.ValidationError("cannot cache job record without job_id (title=%q)", rec.Title)
		}
		key := cacheKey(rec.JobID)
		if existing, ok := c.entries[key]; ok {
			existing.value = rec.Clone()
			existing.createdAt = now
			existing.accessedAt = now
			continue
		}
		for len(c.entries) >= c.opts.MaxSize {
			c.evictOneLocked()
		}
		c.insertSeq++
		c.entries[key] = &entry{
			key:        key,
			value:      rec.Clone(),
			createdAt:  now,
			accessedAt: now,
			insertSeq:  c.insertSeq,
		}
	}
	c.sets.Add(int64(len(records)))
	return nil
}

// Retrieve scans live entries against the query. Expired entries are
// removed on sight and count toward the miss counter.
func (c *Cache) Retrieve(ctx context.Context, q interfaces.Query) ([]*models.JobRecord, error) {
	live := c.liveRecords()
	query.SortByScrapedDesc(live)
	matched := query.Filter(live, q)

	if len(matched) > 0 {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return matched, nil
}

// Get is the direct single-record lookup the hybrid backend uses on its
// fast path. Returns nil on miss or expiry.
func (c *Cache) Get(jobID string) *models.JobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(jobID)
	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	now := c.now()
	if e.expired(c.opts.TTL, now) {
		delete(c.entries, key)
		c.misses.Add(1)
		return nil
	}
	e.accessedAt = now
	e.hitCount++
	c.hits.Add(1)
	return e.value.(*models.JobRecord).Clone()
}

// Update patches matching live entries.
func (c *Cache) Update(ctx context.Context, q interfaces.Query, patch map[string]interface{}) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	changed := 0
	for key, e := range c.entries {
		if e.expired(c.opts.TTL, now) {
			delete(c.entries, key)
			continue
		}
		rec := e.value.(*models.JobRecord)
		if query.Matches(rec, q) && query.ApplyPatch(rec, patch) {
			changed++
		}
	}
	return changed, nil
}

// Delete removes matching live entries.
func (c *Cache) Delete(ctx context.Context, q interfaces.Query) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(c.opts.TTL, now) {
			delete(c.entries, key)
			continue
		}
		if query.Matches(e.value.(*models.JobRecord), q) {
			delete(c.entries, key)
			removed++
		}
	}
	c.deletes.Add(int64(removed))
	return removed, nil
}

// Count returns the number of live entries matching the query.
func (c *Cache) Count(ctx context.Context, q interfaces.Query) (int, error) {
	live := c.liveRecords()
	n := 0
	for _, rec := range live {
		if query.Matches(rec, q) {
			n++
		}
	}
	return n, nil
}

// Exists reports whether any live entry matches the query.
func (c *Cache) Exists(ctx context.Context, q interfaces.Query) (bool, error) {
	n, err := c.Count(ctx, q)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns the operation counters, including evictions.
func (c *Cache) Stats() interfaces.StorageStats {
	return interfaces.StorageStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Cleanup stops the sweeper and drops all entries.
func (c *Cache) Cleanup(ctx context.Context) error {
	c.sweepOnce.Do(func() { close(c.sweepStop) })
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	return nil
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) liveRecords() []*models.JobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]*models.JobRecord, 0, len(c.entries))
	for key, e := range c.entries {
		if e.expired(c.opts.TTL, now) {
			delete(c.entries, key)
			continue
		}
		// Scans deliberately leave accessedAt/hitCount alone; only Get
		// counts as an access, or one broad query would flatten the
		// LRU/LFU ordering.
		out = append(out, e.value.(*models.JobRecord).Clone())
	}
	return out
}

// evictOneLocked drops one victim per policy. Caller holds the mutex.
func (c *Cache) evictOneLocked() {
	victim := c.policy.ChooseVictim(c.entries)
	if victim == "" {
		return
	}
	delete(c.entries, victim)
	c.evictions.Add(1)
}

// sweepLoop reclaims expired entries every quarter TTL until Cleanup.
func (c *Cache) sweepLoop() {
	interval := c.opts.TTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	swept := 0
	for key, e := range c.entries {
		if e.expired(c.opts.TTL, now) {
			delete(c.entries, key)
			swept++
		}
	}
	if swept > 0 {
		c.logger.Debug().Int("swept", swept).Msg("Cache sweep reclaimed expired entries")
	}
}
