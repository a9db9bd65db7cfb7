// Package storage wires the job storage backends together: the factory
// builds a backend from config and the hybrid backend layers the memory
// cache over a durable store.
package storage

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/storage/memory"
)

// Hybrid is a read-through, write-through composition: every write lands in
// both layers, single-record lookups hit the cache first, and broader
// queries go straight to the durable store.
type Hybrid struct {
	cache   *memory.Cache
	durable interfaces.JobStorage
	logger  arbor.ILogger
}

// NewHybrid layers cache over durable.
func NewHybrid(cache *memory.Cache, durable interfaces.JobStorage, logger arbor.ILogger) *Hybrid {
	return &Hybrid{cache: cache, durable: durable, logger: logger}
}

// Initialize initializes both layers.
func (h *Hybrid) Initialize(ctx context.Context) error {
	if err := h.durable.Initialize(ctx); err != nil {
		return err
	}
	return h.cache.Initialize(ctx)
}

// Store writes through to the durable layer first; a durable failure leaves
// the cache untouched.
func (h *Hybrid) Store(ctx context.Context, records ...*models.JobRecord) error {
	if err := h.durable.Store(ctx, records...); err != nil {
		return err
	}
	if err := h.cache.Store(ctx, records...); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to populate cache after durable store")
	}
	return nil
}

// Retrieve serves exact job_id lookups from the cache when possible,
// falling back to the durable store and back-filling the cache on hit.
func (h *Hybrid) Retrieve(ctx context.Context, q interfaces.Query) ([]*models.JobRecord, error) {
	if jobID, ok := singleIDQuery(q); ok {
		if rec := h.cache.Get(jobID); rec != nil {
			return []*models.JobRecord{rec}, nil
		}
	}

	records, err := h.durable.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		if err := h.cache.Store(ctx, records...); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to back-fill cache after durable read")
		}
	}
	return records, nil
}

// Update applies the patch to both layers, reporting the durable count.
func (h *Hybrid) Update(ctx context.Context, q interfaces.Query, patch map[string]interface{}) (int, error) {
	n, err := h.durable.Update(ctx, q, patch)
	if err != nil {
		return 0, err
	}
	if _, err := h.cache.Update(ctx, q, patch); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to patch cache after durable update")
	}
	return n, nil
}

// Delete removes from both layers, reporting the durable count.
func (h *Hybrid) Delete(ctx context.Context, q interfaces.Query) (int, error) {
	n, err := h.durable.Delete(ctx, q)
	if err != nil {
		return 0, err
	}
	if _, err := h.cache.Delete(ctx, q); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to invalidate cache after durable delete")
	}
	return n, nil
}

// Count delegates to the durable layer.
func (h *Hybrid) Count(ctx context.Context, q interfaces.Query) (int, error) {
	return h.durable.Count(ctx, q)
}

// Exists delegates to the durable layer.
func (h *Hybrid) Exists(ctx context.Context, q interfaces.Query) (bool, error) {
	return h.durable.Exists(ctx, q)
}

// Stats merges cache counters (hit/miss/eviction telemetry) with durable
// write counters.
func (h *Hybrid) Stats() interfaces.StorageStats {
	cacheStats := h.cache.Stats()
	durableStats := h.durable.Stats()
	return interfaces.StorageStats{
		Hits:      cacheStats.Hits,
		Misses:    cacheStats.Misses,
		Sets:      durableStats.Sets,
		Deletes:   durableStats.Deletes,
		Evictions: cacheStats.Evictions,
	}
}

// Cleanup tears down both layers.
func (h *Hybrid) Cleanup(ctx context.Context) error {
	if err := h.cache.Cleanup(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to clean up cache layer")
	}
	return h.durable.Cleanup(ctx)
}

// singleIDQuery detects the exact-lookup shape {"job_id": id} with an
// optional limit, the only shape the cache fast path can answer alone.
func singleIDQuery(q interfaces.Query) (string, bool) {
	if q == nil {
		return "", false
	}
	id, ok := q["job_id"].(string)
	if !ok {
		return "", false
	}
	for key := range q {
		if key != "job_id" && key != "limit" {
			return "", false
		}
	}
	return id, true
}
