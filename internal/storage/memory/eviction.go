package memory

import (
	"strings"
	"time"
)

// entry is a cached record with the bookkeeping the eviction policies read.
type entry struct {
	key        string
	value      interface{}
	createdAt  time.Time
	accessedAt time.Time
	hitCount   int64
	insertSeq  int64
}

func (e *entry) expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.createdAt) > ttl
}

// evictionPolicy chooses which entry to drop when the cache is full.
type evictionPolicy interface {
	Name() string
	ChooseVictim(entries map[string]*entry) string
}

// NewPolicy maps a config string onto a policy, defaulting to LRU.
func NewPolicy(name string) evictionPolicy {
	switch strings.ToLower(name) {
	case "lfu":
		return lfuPolicy{}
	case "fifo":
		return fifoPolicy{}
	case "ttl":
		return ttlPolicy{}
	default:
		return lruPolicy{}
	}
}

// lruPolicy evicts the least recently accessed entry.
type lruPolicy struct{}

func (lruPolicy) Name() string { return "lru" }

func (lruPolicy) ChooseVictim(entries map[string]*entry) string {
	var victim string
	var oldest time.Time
	for key, e := range entries {
		if victim == "" || e.accessedAt.Before(oldest) {
			victim = key
			oldest = e.accessedAt
		}
	}
	return victim
}

// lfuPolicy evicts the least frequently hit entry, oldest access breaking
// ties.
type lfuPolicy struct{}

func (lfuPolicy) Name() string { return "lfu" }

func (lfuPolicy) ChooseVictim(entries map[string]*entry) string {
	var victim string
	var fewest int64
	var oldest time.Time
	for key, e := range entries {
		if victim == "" || e.hitCount < fewest ||
			(e.hitCount == fewest && e.accessedAt.Before(oldest)) {
			victim = key
			fewest = e.hitCount
			oldest = e.accessedAt
		}
	}
	return victim
}

// fifoPolicy evicts in insertion order regardless of access.
type fifoPolicy struct{}

func (fifoPolicy) Name() string { return "fifo" }

func (fifoPolicy) ChooseVictim(entries map[string]*entry) string {
	var victim string
	var lowest int64
	for key, e := range entries {
		if victim == "" || e.insertSeq < lowest {
			victim = key
			lowest = e.insertSeq
		}
	}
	return victim
}

// ttlPolicy evicts the entry closest to expiry (oldest created).
type ttlPolicy struct{}

func (ttlPolicy) Name() string { return "ttl" }

func (ttlPolicy) ChooseVictim(entries map[string]*entry) string {
	var victim string
	var oldest time.Time
	for key, e := range entries {
		if victim == "" || e.createdAt.Before(oldest) {
			victim = key
			oldest = e.createdAt
		}
	}
	return victim
}
