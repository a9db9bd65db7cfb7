// Package engine orchestrates a search end to end: request validation, the
// budget gate, optional query analysis, platform selection, scheduler
// fan-out, and the ETL pipeline, assembled into a single SearchResult. The
// engine owns the scheduler, registry, pipeline and cost tracker lifecycles.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/blob"
	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/costs"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/pipeline"
	"github.com/ternarybob/venari/internal/platforms"
	"github.com/ternarybob/venari/internal/scheduler"
)

// queryAnalysisPrompt asks the model for search term refinements. The reply
// is advisory; the engine records it in result metadata and never blocks on
// a bad answer.
const queryAnalysisPrompt = `You are refining a job-board search. Given the query below, reply with a single line of improved search keywords (synonyms folded in, noise words removed). Reply with the keywords only.`

// queryAnalysisEstimateTokens approximates one text analysis call for the
// budget gate.
const queryAnalysisEstimateTokens = 600

// confidence weighting per the result contract.
const (
	confidencePlatformWeight = 0.7
	confidenceVolumeWeight   = 0.3
	confidenceVolumeTarget   = 50.0
)

// ProgressStage labels a step of the engine's search flow.
type ProgressStage string

const (
	ProgressValidation        ProgressStage = "validation"
	ProgressAnalysis          ProgressStage = "analysis"
	ProgressPlatformSelection ProgressStage = "platform_selection"
	ProgressSearching         ProgressStage = "searching"
	ProgressProcessing        ProgressStage = "processing"
	ProgressStorage           ProgressStage = "storage"
	ProgressCompleted         ProgressStage = "completed"
)

// Progress is one update on the streaming progress channel.
type Progress struct {
	Stage   ProgressStage `json:"stage"`
	Percent float64       `json:"percent"`
	Message string        `json:"message,omitempty"`
}

// Options carries the engine's collaborators. Registry, Scheduler, Pipeline,
// Storage and Tracker are required; Model and Blobs are optional.
type Options struct {
	Config    common.EngineConfig
	Registry  *platforms.Registry
	Scheduler *scheduler.Scheduler
	Pipeline  *pipeline.Pipeline
	Storage   interfaces.JobStorage
	Tracker   *costs.Tracker
	Model     interfaces.ModelClient
	Blobs     interfaces.BlobStore
	Logger    arbor.ILogger
}

// Engine is the orchestrator. One engine serves many concurrent searches;
// the pipeline is the only serialized section, guarded by runMu.
type Engine struct {
	cfg       common.EngineConfig
	registry  *platforms.Registry
	scheduler *scheduler.Scheduler
	pipeline  *pipeline.Pipeline
	storage   interfaces.JobStorage
	tracker   *costs.Tracker
	model     interfaces.ModelClient
	blobs     interfaces.BlobStore
	logger    arbor.ILogger
	validate  *validator.Validate

	cron *cron.Cron

	runMu sync.Mutex
}

// New validates the wiring and builds an engine. Call Start before use and
// Cleanup when done.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil || opts.Scheduler == nil || opts.Pipeline == nil {
		return nil, models.ValidationError("engine requires a registry, scheduler and pipeline")
	}
	if opts.Storage == nil {
		return nil, models.ValidationError("engine requires a storage backend")
	}
	if opts.Tracker == nil {
		return nil, models.ValidationError("engine requires a cost tracker")
	}

	cfg := opts.Config
	if cfg.MaxPlatforms <= 0 {
		cfg.MaxPlatforms = 3
	}
	if cfg.FanOutConcurrency <= 0 {
		cfg.FanOutConcurrency = 3
	}

	return &Engine{
		cfg:       cfg,
		registry:  opts.Registry,
		scheduler: opts.Scheduler,
		pipeline:  opts.Pipeline,
		storage:   opts.Storage,
		tracker:   opts.Tracker,
		model:     opts.Model,
		blobs:     opts.Blobs,
		logger:    opts.Logger,
		validate:  validator.New(),
	}, nil
}

// Start launches the scheduler and, when configured, the cron maintenance
// loop (platform health restoration and storage cleanup).
func (e *Engine) Start() error {
	e.scheduler.Start()

	if e.cfg.MaintenanceCron != "" {
		e.cron = cron.New()
		if _, err := e.cron.AddFunc(e.cfg.MaintenanceCron, e.maintain); err != nil {
			return fmt.Errorf("%w: invalid maintenance schedule %q: %v", models.ErrValidation, e.cfg.MaintenanceCron, err)
		}
		e.cron.Start()
		e.logger.Info().Str("schedule", e.cfg.MaintenanceCron).Msg("Maintenance cron started")
	}
	return nil
}

// Cleanup stops the cron loop and the scheduler, then releases storage.
func (e *Engine) Cleanup(ctx context.Context) error {
	if e.cron != nil {
		e.cron.Stop()
	}
	e.scheduler.Stop()
	return e.storage.Cleanup(ctx)
}

// Search runs one search without progress reporting.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResult, error) {
	return e.SearchWithProgress(ctx, req, nil)
}

// SearchWithProgress runs one search, streaming stage updates onto progress
// when non-nil. The engine always returns a SearchResult; per-platform
// failures are partial, only validation and budget refusals also return an
// error.
func (e *Engine) SearchWithProgress(ctx context.Context, req *models.SearchRequest, progress chan<- Progress) (*models.SearchResult, error) {
	started := time.Now()
	emit := func(stage ProgressStage, percent float64, msg string) {
		if progress == nil {
			return
		}
		select {
		case progress <- Progress{Stage: stage, Percent: percent, Message: msg}:
		default: // slow consumers never stall the search
		}
	}

	emit(ProgressValidation, 5, "validating request")
	if req == nil {
		err := models.ValidationError("search request is required")
		return models.FailedSearchResult("", "", err), err
	}
	if req.MaxResults == 0 {
		req.MaxResults = 50
	}
	if err := e.validate.Struct(req); err != nil {
		err = fmt.Errorf("%w: invalid search request: %v", models.ErrValidation, err)
		return models.FailedSearchResult("", "", err), err
	}

	// Budget gate before anything billable happens downstream.
	estimate := 0.0
	if e.model != nil && e.cfg.AnalyzeQueries {
		estimate = e.tracker.Estimate(e.model.ModelName(), queryAnalysisEstimateTokens, false, 0, 0)
	}
	if status := e.tracker.CheckLimits(estimate); !status.OK() {
		err := fmt.Errorf("%w: refusing search, budget window exhausted", models.ErrBudgetExceeded)
		return models.FailedSearchResult("", "", err), err
	}

	metadata := make(map[string]interface{})

	emit(ProgressAnalysis, 15, "analyzing query")
	if suggestion := e.analyzeQuery(ctx, req); suggestion != "" {
		metadata["query_analysis"] = suggestion
	}

	emit(ProgressPlatformSelection, 25, "selecting platforms")
	adapters := e.registry.SelectBest(req, models.CapabilityJobSearch, e.cfg.MaxPlatforms)
	if len(adapters) == 0 {
		err := fmt.Errorf("%w: no enabled platform matches the request", models.ErrValidation)
		return models.FailedSearchResult("", "", err), err
	}
	selected := make([]string, len(adapters))
	for i, a := range adapters {
		selected[i] = a.PlatformName()
	}
	metadata["selected_platforms"] = selected

	emit(ProgressSearching, 35, fmt.Sprintf("searching %d platforms", len(adapters)))
	jobs, successful, failed := e.fanOut(ctx, adapters, req, metadata, func(done, total int) {
		emit(ProgressSearching, 35+35*float64(done)/float64(total), fmt.Sprintf("%d/%d platforms done", done, total))
	})

	emit(ProgressProcessing, 75, fmt.Sprintf("processing %d records", len(jobs)))
	survivors, pipelineMetrics, err := e.runPipeline(ctx, jobs)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Pipeline run failed, returning acquired records unprocessed")
		metadata["pipeline_error"] = err.Error()
		survivors = jobs
	}
	metadata["pipeline_metrics"] = pipelineMetrics

	emit(ProgressStorage, 90, "assembling result")
	result := &models.SearchResult{
		ID:                  common.NewSearchID(),
		Success:             len(successful) > 0,
		Jobs:                survivors,
		TotalFound:          len(survivors),
		SuccessfulPlatforms: successful,
		FailedPlatforms:     failed,
		ProcessingTimeMs:    time.Since(started).Milliseconds(),
		CostBreakdown:       e.costBreakdown(selected),
		ConfidenceScore:     confidence(len(successful), len(adapters), len(survivors)),
		Metadata:            metadata,
		CreatedAt:           time.Now(),
	}
	if !result.Success {
		result.ErrorMessage = "all platforms failed"
	}

	e.persistResult(ctx, req, result)

	emit(ProgressCompleted, 100, "search complete")
	e.logger.Info().
		Str("query", req.Query).
		Int("jobs", len(survivors)).
		Int("platforms_ok", len(successful)).
		Int("platforms_failed", len(failed)).
		Float64("confidence", result.ConfidenceScore).
		Int64("elapsed_ms", result.ProcessingTimeMs).
		Msg("Search finished")

	return result, nil
}

// analyzeQuery asks the model for refined keywords. Failures and empty
// replies are logged and ignored.
func (e *Engine) analyzeQuery(ctx context.Context, req *models.SearchRequest) string {
	if e.model == nil || !e.cfg.AnalyzeQueries {
		return ""
	}

	resp, err := e.model.TextAnalyze(ctx, req.Query, queryAnalysisPrompt)
	usage := models.UsageRecord{
		Model:       e.model.ModelName(),
		RequestType: "query_analysis",
		Success:     err == nil,
	}
	if err != nil {
		usage.ErrorMessage = err.Error()
		e.tracker.Record(usage)
		e.logger.Warn().Err(err).Msg("Query analysis failed, continuing with original query")
		return ""
	}
	usage.InputTokens = resp.TokensIn
	usage.OutputTokens = resp.TokensOut
	usage.Tokens = resp.TokensIn + resp.TokensOut
	usage.CostUSD = e.tracker.Estimate(resp.Model, 0, false, resp.TokensIn, resp.TokensOut)
	e.tracker.Record(usage)

	return resp.Text
}

// fanOut submits one scheduler task per adapter and waits for all of them.
// Per-platform failures are captured, never raised.
func (e *Engine) fanOut(ctx context.Context, adapters []*platforms.Adapter, req *models.SearchRequest, metadata map[string]interface{}, onDone func(done, total int)) (jobs []*models.JobRecord, successful, failed []string) {
	method := models.Method(e.cfg.DefaultMethod)

	type outcome struct {
		platform string
		result   *models.SearchResult
		err      error
	}

	sem := make(chan struct{}, e.cfg.FanOutConcurrency)
	taskIDs := make(map[string]string, len(adapters))
	for _, adapter := range adapters {
		adapter := adapter
		m := method
		if m == "" {
			m = adapter.BestMethod(req)
		}
		id, err := e.scheduler.Submit(&scheduler.Task{
			Name:     fmt.Sprintf("search:%s", adapter.PlatformName()),
			Priority: models.PriorityHigh,
			Fn: func(taskCtx context.Context) (interface{}, error) {
				sem <- struct{}{}
				defer func() { <-sem }()
				return adapter.SearchJobs(taskCtx, req, m)
			},
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("platform", adapter.PlatformName()).Msg("Failed to submit search task")
			failed = append(failed, adapter.PlatformName())
			continue
		}
		taskIDs[adapter.PlatformName()] = id
	}

	done := 0
	total := len(taskIDs)
	for platform, id := range taskIDs {
		raw, err := e.scheduler.Wait(ctx, id)
		done++
		onDone(done, total)

		if err != nil {
			e.registry.ReportFailure(platform)
			failed = append(failed, platform)
			metadata["error_"+platform] = err.Error()
			continue
		}
		result, ok := raw.(*models.SearchResult)
		if !ok || result == nil || !result.Success {
			e.registry.ReportFailure(platform)
			failed = append(failed, platform)
			if result != nil && result.ErrorMessage != "" {
				metadata["error_"+platform] = result.ErrorMessage
			}
			continue
		}

		e.registry.ReportSuccess(platform)
		successful = append(successful, platform)
		jobs = append(jobs, result.Jobs...)
	}
	return jobs, successful, failed
}

// runPipeline serializes pipeline runs; the pipeline rejects overlap itself,
// the mutex just queues concurrent searches instead of failing them.
func (e *Engine) runPipeline(ctx context.Context, jobs []*models.JobRecord) ([]*models.JobRecord, models.PipelineMetrics, error) {
	if len(jobs) == 0 {
		return nil, models.PipelineMetrics{}, nil
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.pipeline.Run(ctx, jobs)
}

// costBreakdown reports today's model spend for the involved platforms.
func (e *Engine) costBreakdown(platformNames []string) map[string]float64 {
	stats := e.tracker.UsageStats(1)
	breakdown := make(map[string]float64)
	for _, name := range platformNames {
		if cost, ok := stats.ByPlatform[name]; ok {
			breakdown[name] = cost
		}
	}
	if cost, ok := stats.ByRequestType["query_analysis"]; ok && cost > 0 {
		breakdown["query_analysis"] = cost
	}
	return breakdown
}

// persistResult archives the assembled result to the blob store. Best
// effort; the caller already has the result in hand.
func (e *Engine) persistResult(ctx context.Context, req *models.SearchRequest, result *models.SearchResult) {
	if e.blobs == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to serialize search result for archival")
		return
	}
	key := blob.Key("engine", req.Query, "json", time.Now())
	if _, err := e.blobs.UploadBytes(ctx, interfaces.BucketFinalData, key, data); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to archive search result")
	}
}

// maintain is the cron body: health-check every platform, restore the ones
// that answer, and let the storage backend compact or sweep.
func (e *Engine) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for name, checkErr := range e.registry.HealthCheck(ctx) {
		if checkErr == nil && !e.registry.Enabled(name) {
			e.logger.Info().Str("platform", name).Msg("Maintenance re-enabling platform after healthy check")
			e.registry.Enable(name)
		}
	}

	if err := e.storage.Cleanup(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Maintenance storage cleanup failed")
	}

	health := e.registry.HealthSnapshot()
	e.logger.Debug().Int("platforms", len(health)).Msg("Maintenance pass complete")
}

// confidence blends platform success rate with result volume.
func confidence(successful, total, jobs int) float64 {
	if total == 0 {
		return 0
	}
	volume := float64(jobs) / confidenceVolumeTarget
	if volume > 1 {
		volume = 1
	}
	return confidencePlatformWeight*float64(successful)/float64(total) + confidenceVolumeWeight*volume
}
