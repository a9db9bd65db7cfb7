package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

// StorageStage upserts surviving records into the configured backend. A
// storage failure fails the batch; durable persistence is not optional.
type StorageStage struct {
	Backend interfaces.JobStorage
}

func (s *StorageStage) Name() models.StageName { return models.StageStorage }

func (s *StorageStage) ProcessBatch(ctx context.Context, records []*models.JobRecord) ([]*models.JobRecord, error) {
	if s.Backend == nil {
		return nil, fmt.Errorf("%w: storage stage has no backend", models.ErrValidation)
	}
	if len(records) == 0 {
		return records, nil
	}
	if err := s.Backend.Store(ctx, records...); err != nil {
		return nil, err
	}
	return records, nil
}
