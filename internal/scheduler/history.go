package scheduler

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/venari/internal/models"
)

// History journals terminal tasks to a badgerhold store so runs can be
// inspected across restarts. Only the persisted TaskRecord snapshot is
// stored; operation closures never leave memory.
type History struct {
	store *badgerhold.Store
}

// OpenHistory opens (or creates) the task journal at dir.
func OpenHistory(dir string) (*History, error) {
	opts := badgerhold.DefaultOptions
	opts.Options = badger.DefaultOptions(dir).WithLogger(nil)

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open task history at %s: %w", dir, err)
	}
	return &History{store: store}, nil
}

// Record upserts one terminal task snapshot.
func (h *History) Record(rec *models.TaskRecord) error {
	if err := h.store.Upsert(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to journal task %s: %w", rec.ID, err)
	}
	return nil
}

// ByStatus returns up to limit journaled tasks in the given terminal state,
// most recent first.
func (h *History) ByStatus(status models.TaskStatus, limit int) ([]models.TaskRecord, error) {
	var records []models.TaskRecord
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := h.store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	return records, nil
}

// Close releases the underlying store.
func (h *History) Close() error {
	return h.store.Close()
}
