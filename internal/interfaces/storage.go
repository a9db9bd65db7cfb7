package interfaces

import (
	"context"

	"github.com/ternarybob/venari/internal/models"
)

// Query filters job records. Keys are JobRecord field names with optional
// operator suffixes: `_gte` / `_lte` for range bounds; plain string fields
// match by substring; identifier fields (job_id, platform, external_id,
// content_hash) match by equality. The reserved key "limit" bounds result
// count.
type Query map[string]interface{}

// StorageStats are monotonic operation counters shared by all backends.
// Reads without locking see eventually consistent values.
type StorageStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
}

// JobStorage is the uniform CRUD contract over heterogeneous backends
// (relational, file, in-memory cache). Store upserts on job_id; records are
// immutable once stored except through Update/Delete.
type JobStorage interface {
	Initialize(ctx context.Context) error
	Store(ctx context.Context, records ...*models.JobRecord) error
	Retrieve(ctx context.Context, query Query) ([]*models.JobRecord, error)
	Update(ctx context.Context, query Query, patch map[string]interface{}) (int, error)
	Delete(ctx context.Context, query Query) (int, error)
	Count(ctx context.Context, query Query) (int, error)
	Exists(ctx context.Context, query Query) (bool, error)
	Stats() StorageStats
	Cleanup(ctx context.Context) error
}
