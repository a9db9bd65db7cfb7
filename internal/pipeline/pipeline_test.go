package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/storage/memory"
)

func testConfig() common.PipelineConfig {
	return common.PipelineConfig{
		BatchSize:       100,
		MaxWorkers:      4,
		ParallelEnabled: true,
	}
}

// testStage wraps an arbitrary per-record function as an ItemStage.
type testStage struct {
	name     models.StageName
	parallel bool
	fn       func(ctx context.Context, rec *models.JobRecord) *models.PipelineResult
}

func (s *testStage) Name() models.StageName { return s.name }
func (s *testStage) Parallel() bool         { return s.parallel }
func (s *testStage) Process(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
	return s.fn(ctx, rec)
}

func TestRunFullStageSequence(t *testing.T) {
	logger := arbor.NewLogger()
	cache := memory.NewCache(memory.Options{}, logger)
	exportDir := t.TempDir()

	export := &ExportStage{Dir: exportDir, Format: "json"}
	stages := []Stage{
		&ValidationStage{},
		&CleaningStage{},
		&TransformationStage{},
		&EnrichmentStage{},
		NewDeduplicationStage(0.85),
		&StorageStage{Backend: cache},
		export,
	}
	p := New("etl", testConfig(), stages, logger)

	second := fixtureRecord(2)
	second.Title = "Platform Engineer"
	second.Description = "Operate Kafka pipelines and Terraform modules for the data platform."
	third := fixtureRecord(3)
	third.Title = "Site Reliability Engineer"
	third.Description = "Run observability tooling and incident response for cloud services."
	invalid := fixtureRecord(10)
	invalid.Company = ""
	duplicate := fixtureRecord(1)

	records := []*models.JobRecord{
		fixtureRecord(1), second, third,
		invalid, duplicate,
	}
	survivors, metrics, err := p.Run(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, survivors, 3)
	for _, rec := range survivors {
		assert.NotEmpty(t, rec.JobID)
		assert.Equal(t, "USD", rec.SalaryCurrency)
		assert.Equal(t, models.SalaryPeriodYearly, rec.SalaryPeriod)
		assert.Equal(t, "AU-NSW", rec.Raw["region"])
	}

	assert.Equal(t, 5, metrics.Total)
	assert.Equal(t, 1, metrics.Failed)
	assert.Equal(t, 1, metrics.Skipped)
	assert.Equal(t, 3, metrics.Processed)
	assert.InDelta(t, 0.6, metrics.SuccessRate(), 0.01)

	validation := metrics.StageMetrics[models.StageValidation]
	require.NotNil(t, validation)
	assert.Equal(t, 1, validation.Failed)
	dedup := metrics.StageMetrics[models.StageDeduplication]
	require.NotNil(t, dedup)
	assert.Equal(t, 1, dedup.Skipped)

	count, err := cache.Count(context.Background(), interfaces.Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.Len(t, export.Paths, 1)
	_, err = os.Stat(export.Paths[0])
	assert.NoError(t, err)
}

func TestRunPreservesOrderUnderParallelism(t *testing.T) {
	// Later records finish first; output order must still match input.
	stage := &testStage{
		name:     models.StageCleaning,
		parallel: true,
		fn: func(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
			var n int
			fmt.Sscanf(rec.ExternalID, "item-%d", &n)
			time.Sleep(time.Duration(20-n) * time.Millisecond)
			return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
		},
	}
	p := New("order", testConfig(), []Stage{stage}, arbor.NewLogger())

	var records []*models.JobRecord
	for i := 0; i < 20; i++ {
		rec := fixtureRecord(i)
		rec.ExternalID = fmt.Sprintf("item-%d", i)
		records = append(records, rec)
	}

	survivors, _, err := p.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, survivors, 20)
	for i, rec := range survivors {
		assert.Equal(t, fmt.Sprintf("item-%d", i), rec.ExternalID)
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stage := &testStage{
		name:     models.StageCleaning,
		parallel: false,
		fn: func(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
			entered <- struct{}{}
			<-release
			return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
		},
	}
	cfg := testConfig()
	cfg.ParallelEnabled = false
	p := New("busy", cfg, []Stage{stage}, arbor.NewLogger())

	done := make(chan error, 1)
	go func() {
		_, _, err := p.Run(context.Background(), []*models.JobRecord{fixtureRecord(1)})
		done <- err
	}()
	<-entered

	_, _, err := p.Run(context.Background(), []*models.JobRecord{fixtureRecord(2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)

	close(release)
	require.NoError(t, <-done)
}

func TestStopAbortsRemainingBatches(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stage := &testStage{
		name:     models.StageCleaning,
		parallel: false,
		fn: func(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
			entered <- struct{}{}
			<-release
			return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
		},
	}
	cfg := testConfig()
	cfg.ParallelEnabled = false
	cfg.BatchSize = 1
	p := New("stoppable", cfg, []Stage{stage}, arbor.NewLogger())

	records := []*models.JobRecord{fixtureRecord(1), fixtureRecord(2), fixtureRecord(3)}

	type outcome struct {
		survivors []*models.JobRecord
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		survivors, _, err := p.Run(context.Background(), records)
		done <- outcome{survivors, err}
	}()

	<-entered
	p.Stop()
	release <- struct{}{}

	res := <-done
	require.NoError(t, res.err)
	assert.Len(t, res.survivors, 1)
}

func TestPauseAndResume(t *testing.T) {
	entered := make(chan string)
	release := make(chan struct{})
	stage := &testStage{
		name:     models.StageCleaning,
		parallel: false,
		fn: func(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
			entered <- rec.ExternalID
			<-release
			return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
		},
	}
	cfg := testConfig()
	cfg.ParallelEnabled = false
	cfg.BatchSize = 1
	p := New("pausable", cfg, []Stage{stage}, arbor.NewLogger())

	var records []*models.JobRecord
	for i := 0; i < 3; i++ {
		rec := fixtureRecord(i)
		rec.ExternalID = fmt.Sprintf("item-%d", i)
		records = append(records, rec)
	}

	done := make(chan int, 1)
	p.Pause() // no-op while idle
	go func() {
		survivors, _, err := p.Run(context.Background(), records)
		require.NoError(t, err)
		done <- len(survivors)
	}()

	// Pause while the first item is in flight, then let it finish; the
	// gate must hold the next batch until Resume.
	<-entered
	p.Pause()
	release <- struct{}{}
	select {
	case id := <-entered:
		t.Fatalf("item %s entered the stage while paused", id)
	case <-time.After(50 * time.Millisecond):
	}

	p.Resume()
	for i := 0; i < 2; i++ {
		<-entered
		release <- struct{}{}
	}
	assert.Equal(t, 3, <-done)
}

func TestCheckpointWrittenDuringRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoints", "etl.json")

	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.CheckpointInterval = 2
	cfg.CheckpointPath = path

	stage := &testStage{
		name:     models.StageCleaning,
		parallel: false,
		fn: func(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
			return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
		},
	}
	p := New("etl", cfg, []Stage{stage}, arbor.NewLogger())

	records := []*models.JobRecord{
		fixtureRecord(1), fixtureRecord(2), fixtureRecord(3), fixtureRecord(4),
	}
	_, _, err := p.Run(context.Background(), records)
	require.NoError(t, err)

	cp, err := NewCheckpointManager(path).Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "etl", cp.PipelineName)
	assert.Equal(t, 2, cp.ProcessedCount)
	assert.Equal(t, 4, cp.Counters["total"])
}

func TestCheckpointLoadMissingFile(t *testing.T) {
	cp, err := NewCheckpointManager(filepath.Join(t.TempDir(), "nope.json")).Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestBatchStageFailureFailsRun(t *testing.T) {
	p := New("failing", testConfig(), []Stage{&StorageStage{}}, arbor.NewLogger())

	_, metrics, err := p.Run(context.Background(), []*models.JobRecord{fixtureRecord(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage storage failed")
	assert.Equal(t, 1, metrics.Failed)
}

func TestNilStageResultCountsCompleted(t *testing.T) {
	stage := &testStage{
		name:     models.StageCleaning,
		parallel: false,
		fn: func(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
			return nil
		},
	}
	p := New("lenient", testConfig(), []Stage{stage}, arbor.NewLogger())

	survivors, metrics, err := p.Run(context.Background(), []*models.JobRecord{fixtureRecord(1)})
	require.NoError(t, err)
	assert.Len(t, survivors, 1)
	assert.Equal(t, 1, metrics.Processed)
}
