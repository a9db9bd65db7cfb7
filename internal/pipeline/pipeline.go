// Package pipeline implements the post-acquisition ETL flow: validation,
// cleaning, transformation, enrichment, deduplication, storage and export.
// Stages run in a fixed order; items that fail or get skipped drop out of
// the flow but are counted, never aborting the batch.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/models"
)

// Stage is the common face of every pipeline stage.
type Stage interface {
	Name() models.StageName
}

// ItemStage processes one record at a time. Parallel-safe stages may be
// fanned out across workers; results keep input order either way.
type ItemStage interface {
	Stage
	Process(ctx context.Context, rec *models.JobRecord) *models.PipelineResult
	Parallel() bool
}

// BatchStage processes the surviving batch as a whole (deduplication,
// export).
type BatchStage interface {
	Stage
	ProcessBatch(ctx context.Context, records []*models.JobRecord) ([]*models.JobRecord, error)
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	statePaused
	stateStopped
)

// Pipeline executes registered stages over record batches with bounded
// parallelism, periodic checkpoints and pause/resume/stop control.
type Pipeline struct {
	name   string
	cfg    common.PipelineConfig
	stages []Stage
	logger arbor.ILogger

	checkpoints *CheckpointManager

	mu    sync.Mutex
	cond  *sync.Cond
	state runState

	metricsMu sync.Mutex
	metrics   models.PipelineMetrics
}

// New creates a pipeline with the given stages, which must already be in
// execution order.
func New(name string, cfg common.PipelineConfig, stages []Stage, logger arbor.ILogger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	p := &Pipeline{
		name:   name,
		cfg:    cfg,
		stages: stages,
		logger: logger,
		state:  stateIdle,
	}
	p.cond = sync.NewCond(&p.mu)
	if cfg.CheckpointPath != "" {
		p.checkpoints = NewCheckpointManager(cfg.CheckpointPath)
	}
	return p
}

// Pause suspends processing at the next item boundary.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateRunning {
		p.state = statePaused
		p.logger.Info().Str("pipeline", p.name).Msg("Pipeline paused")
	}
}

// Resume continues a paused pipeline.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == statePaused {
		p.state = stateRunning
		p.cond.Broadcast()
		p.logger.Info().Str("pipeline", p.name).Msg("Pipeline resumed")
	}
}

// Stop aborts the run at the next item boundary. Already-processed items
// keep their results.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateRunning || p.state == statePaused {
		p.state = stateStopped
		p.cond.Broadcast()
		p.logger.Info().Str("pipeline", p.name).Msg("Pipeline stop requested")
	}
}

// gate blocks while paused; reports false when the run should abort.
func (p *Pipeline) gate(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state == statePaused {
		p.cond.Wait()
	}
	return p.state == stateRunning && ctx.Err() == nil
}

// Metrics returns a snapshot of the last (or current) run's metrics.
func (p *Pipeline) Metrics() models.PipelineMetrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	snapshot := p.metrics
	snapshot.StageMetrics = make(map[models.StageName]*models.StageMetrics, len(p.metrics.StageMetrics))
	for name, m := range p.metrics.StageMetrics {
		copied := *m
		snapshot.StageMetrics[name] = &copied
	}
	return snapshot
}

// Run drives all records through the stage sequence in batches, returning
// the surviving records and the run metrics.
func (p *Pipeline) Run(ctx context.Context, records []*models.JobRecord) ([]*models.JobRecord, models.PipelineMetrics, error) {
	p.mu.Lock()
	if p.state == stateRunning || p.state == statePaused {
		p.mu.Unlock()
		return nil, models.PipelineMetrics{}, fmt.Errorf("%w: pipeline %s is already running", models.ErrValidation, p.name)
	}
	p.state = stateRunning
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.state = stateIdle
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	p.metricsMu.Lock()
	p.metrics = models.PipelineMetrics{
		Total:        len(records),
		StartTime:    time.Now(),
		StageMetrics: make(map[models.StageName]*models.StageMetrics),
	}
	for _, stage := range p.stages {
		p.metrics.StageMetrics[stage.Name()] = &models.StageMetrics{}
	}
	p.metricsMu.Unlock()

	p.logger.Info().
		Str("pipeline", p.name).
		Int("records", len(records)).
		Int("batch_size", p.cfg.BatchSize).
		Msg("Pipeline run started")

	var survivors []*models.JobRecord
	completed := 0

	for start := 0; start < len(records); start += p.cfg.BatchSize {
		if !p.gate(ctx) {
			break
		}
		end := start + p.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}

		batch, err := p.runBatch(ctx, records[start:end])
		if err != nil {
			p.finishMetrics()
			return survivors, p.Metrics(), err
		}
		survivors = append(survivors, batch...)
		completed += len(batch)

		if p.checkpoints != nil && p.cfg.CheckpointInterval > 0 && completed >= p.cfg.CheckpointInterval {
			p.saveCheckpoint(completed)
			completed = 0
		}
	}

	p.finishMetrics()
	metrics := p.Metrics()

	p.logger.Info().
		Str("pipeline", p.name).
		Int("survivors", len(survivors)).
		Int("failed", metrics.Failed).
		Int("skipped", metrics.Skipped).
		Msg("Pipeline run finished")
	return survivors, metrics, nil
}

func (p *Pipeline) runBatch(ctx context.Context, batch []*models.JobRecord) ([]*models.JobRecord, error) {
	current := batch
	for _, stage := range p.stages {
		if !p.gate(ctx) {
			return current, nil
		}
		if len(current) == 0 {
			return nil, nil
		}

		stageCtx := ctx
		var cancel context.CancelFunc
		if p.cfg.StageTimeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		}

		var err error
		switch s := stage.(type) {
		case ItemStage:
			current = p.runItemStage(stageCtx, s, current)
		case BatchStage:
			current, err = p.runBatchStage(stageCtx, s, current)
		default:
			err = fmt.Errorf("%w: stage %s implements neither ItemStage nor BatchStage", models.ErrValidation, stage.Name())
		}
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return current, err
		}
	}
	return current, nil
}

// runItemStage applies an item stage across the batch, fanning out when
// the stage is parallel-safe. Output order always matches input order.
func (p *Pipeline) runItemStage(ctx context.Context, stage ItemStage, batch []*models.JobRecord) []*models.JobRecord {
	results := make([]*models.PipelineResult, len(batch))

	if p.cfg.ParallelEnabled && stage.Parallel() && len(batch) > 1 {
		sem := make(chan struct{}, p.cfg.MaxWorkers)
		var wg sync.WaitGroup
		for i, rec := range batch {
			wg.Add(1)
			go func(i int, rec *models.JobRecord) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = p.processItem(ctx, stage, rec)
			}(i, rec)
		}
		wg.Wait()
	} else {
		for i, rec := range batch {
			if !p.gate(ctx) {
				// Mark unprocessed remainder skipped.
				for j := i; j < len(batch); j++ {
					results[j] = &models.PipelineResult{Status: models.ItemSkipped, Stage: stage.Name()}
				}
				break
			}
			results[i] = p.processItem(ctx, stage, rec)
		}
	}

	var survivors []*models.JobRecord
	for _, res := range results {
		p.recordResult(stage.Name(), res)
		if res.Status == models.ItemCompleted && res.Data != nil {
			survivors = append(survivors, res.Data)
		}
	}
	return survivors
}

func (p *Pipeline) processItem(ctx context.Context, stage ItemStage, rec *models.JobRecord) *models.PipelineResult {
	started := time.Now()
	res := stage.Process(ctx, rec)
	if res == nil {
		res = &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
	}
	res.Stage = stage.Name()
	res.ProcessingTime = time.Since(started)
	return res
}

func (p *Pipeline) runBatchStage(ctx context.Context, stage BatchStage, batch []*models.JobRecord) ([]*models.JobRecord, error) {
	started := time.Now()
	out, err := stage.ProcessBatch(ctx, batch)
	elapsed := time.Since(started)

	p.metricsMu.Lock()
	metrics := p.metrics.StageMetrics[stage.Name()]
	if err != nil {
		for range batch {
			metrics.Record(models.ItemFailed, elapsed/time.Duration(len(batch)))
		}
		p.metrics.Failed += len(batch)
	} else {
		kept := make(map[*models.JobRecord]bool, len(out))
		for _, rec := range out {
			kept[rec] = true
		}
		per := elapsed / time.Duration(len(batch))
		for _, rec := range batch {
			if kept[rec] {
				metrics.Record(models.ItemCompleted, per)
			} else {
				metrics.Record(models.ItemSkipped, per)
				p.metrics.Skipped++
			}
		}
	}
	p.metricsMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("stage %s failed: %w", stage.Name(), err)
	}
	return out, nil
}

func (p *Pipeline) recordResult(stage models.StageName, res *models.PipelineResult) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.StageMetrics[stage].Record(res.Status, res.ProcessingTime)
	switch res.Status {
	case models.ItemFailed:
		p.metrics.Failed++
	case models.ItemSkipped:
		p.metrics.Skipped++
	}
}

func (p *Pipeline) finishMetrics() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics.EndTime = time.Now()
	// Processed = items that made it through every stage.
	p.metrics.Processed = p.metrics.Total - p.metrics.Failed - p.metrics.Skipped
	if p.metrics.Processed < 0 {
		p.metrics.Processed = 0
	}
}

func (p *Pipeline) saveCheckpoint(processed int) {
	metrics := p.Metrics()
	cp := &models.Checkpoint{
		PipelineName:   p.name,
		Timestamp:      time.Now(),
		ProcessedCount: processed,
		Counters: map[string]int{
			"total":   metrics.Total,
			"failed":  metrics.Failed,
			"skipped": metrics.Skipped,
		},
	}
	if err := p.checkpoints.Save(cp); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to write pipeline checkpoint")
	}
}
