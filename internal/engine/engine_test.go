package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/costs"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/pipeline"
	"github.com/ternarybob/venari/internal/platforms"
	"github.com/ternarybob/venari/internal/scheduler"
	"github.com/ternarybob/venari/internal/storage/memory"
)

// seekResultsHTML includes a duplicated posting URL so the pipeline's dedup
// stage has something to drop.
const seekResultsHTML = `<html><body>
<article data-automation="normalJob">
	<a data-automation="jobTitle" href="/job/101">Python Developer</a>
	<a data-automation="jobCompany" href="/company/acme">Acme Corp</a>
	<a data-automation="jobLocation" href="/jobs/sydney">Sydney NSW</a>
	<span data-automation="jobShortDescription">Build data services in Python.</span>
</article>
<article data-automation="normalJob">
	<a data-automation="jobTitle" href="/job/102">Senior Python Engineer</a>
	<a data-automation="jobCompany" href="/company/initech">Initech</a>
	<a data-automation="jobLocation" href="/jobs/sydney">Sydney NSW</a>
	<span data-automation="jobShortDescription">Lead the ingestion platform team.</span>
</article>
<article data-automation="normalJob">
	<a data-automation="jobTitle" href="/job/101">Python Developer</a>
	<a data-automation="jobCompany" href="/company/acme">Acme Corp</a>
	<a data-automation="jobLocation" href="/jobs/sydney">Sydney NSW</a>
	<span data-automation="jobShortDescription">Build data services in Python.</span>
</article>
</body></html>`

type fakePage struct{ html string }

func (p *fakePage) Goto(ctx context.Context, url string) error                 { return nil }
func (p *fakePage) WaitForSelector(ctx context.Context, selector string) error { return nil }
func (p *fakePage) QuerySelector(ctx context.Context, selector string) (*interfaces.ElementRef, error) {
	return nil, nil
}
func (p *fakePage) QuerySelectorAll(ctx context.Context, selector string) ([]interfaces.ElementRef, error) {
	return nil, nil
}
func (p *fakePage) Evaluate(ctx context.Context, script string, out interface{}) error { return nil }
func (p *fakePage) Title(ctx context.Context) (string, error)                          { return "", nil }
func (p *fakePage) URL(ctx context.Context) (string, error)                            { return "", nil }
func (p *fakePage) Content(ctx context.Context) (string, error)                        { return p.html, nil }
func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error)                     { return nil, nil }

type fakeProvider struct{ page *fakePage }

func (f *fakeProvider) Borrow(ctx context.Context) (interfaces.Page, func(), error) {
	return f.page, func() {}, nil
}
func (f *fakeProvider) Close() error { return nil }

type fakeModel struct {
	response string
	calls    int
}

func (m *fakeModel) VisionAnalyze(ctx context.Context, image []byte, prompt string) (*interfaces.ModelResponse, error) {
	m.calls++
	return &interfaces.ModelResponse{Text: m.response, TokensIn: 100, TokensOut: 20, Model: "fake-model"}, nil
}
func (m *fakeModel) TextAnalyze(ctx context.Context, text, prompt string) (*interfaces.ModelResponse, error) {
	m.calls++
	return &interfaces.ModelResponse{Text: m.response, TokensIn: 100, TokensOut: 20, Model: "fake-model"}, nil
}
func (m *fakeModel) ModelName() string { return "fake-model" }

type testHarness struct {
	engine *Engine
	cache  *memory.Cache
}

func adapterConfig() common.AdapterConfig {
	return common.AdapterConfig{
		Enabled:            true,
		Priority:           1,
		RateLimitPerMinute: 6000,
		MaxResultsPerPage:  50,
	}
}

func newTestEngine(t *testing.T, mutate func(*Options)) *testHarness {
	t.Helper()
	logger := arbor.NewLogger()

	registry := platforms.NewRegistry(logger)
	seek, err := platforms.NewSeekAdapter(adapterConfig(), "", platforms.Deps{
		Pages:  &fakeProvider{page: &fakePage{html: seekResultsHTML}},
		Logger: logger,
	})
	require.NoError(t, err)
	registry.Register(seek)

	indeed, err := platforms.NewIndeedAdapter(adapterConfig(), "", platforms.Deps{
		Pages:  &fakeProvider{page: &fakePage{html: "<html><body><p>blocked</p></body></html>"}},
		Logger: logger,
	})
	require.NoError(t, err)
	registry.Register(indeed)

	tracker, err := costs.NewTracker(
		filepath.Join(t.TempDir(), "usage.json"),
		costs.Limits{Hourly: 100, Daily: 100, Monthly: 100},
		"claude-sonnet-4-20250514", logger)
	require.NoError(t, err)

	cache := memory.NewCache(memory.Options{}, logger)
	stages := []pipeline.Stage{
		&pipeline.ValidationStage{},
		&pipeline.CleaningStage{},
		&pipeline.TransformationStage{},
		&pipeline.EnrichmentStage{},
		pipeline.NewDeduplicationStage(0.95),
		&pipeline.StorageStage{Backend: cache},
	}
	pl := pipeline.New("etl", common.PipelineConfig{BatchSize: 100, MaxWorkers: 4, ParallelEnabled: true}, stages, logger)

	opts := Options{
		Config: common.EngineConfig{
			DefaultMethod:     "scraping",
			MaxPlatforms:      3,
			FanOutConcurrency: 3,
		},
		Registry:  registry,
		Scheduler: scheduler.New(5, logger).WithPollInterval(5 * time.Millisecond),
		Pipeline:  pl,
		Storage:   cache,
		Tracker:   tracker,
		Logger:    logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	eng, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Cleanup(ctx)
	})
	return &testHarness{engine: eng, cache: cache}
}

func TestSearchSinglePlatformDeduplicates(t *testing.T) {
	h := newTestEngine(t, nil)

	result, err := h.engine.Search(context.Background(), &models.SearchRequest{
		Query:      "python developer",
		Location:   "Sydney",
		Platforms:  []string{"seek"},
		MaxResults: 10,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.Jobs, 2)
	assert.Equal(t, []string{"seek"}, result.SuccessfulPlatforms)
	assert.Empty(t, result.FailedPlatforms)
	assert.Greater(t, result.ConfidenceScore, 0.0)
	assert.GreaterOrEqual(t, result.ProcessingTimeMs, int64(0))

	// Survivors were upserted by the pipeline's storage stage.
	count, err := h.cache.Count(context.Background(), interfaces.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSearchPartialPlatformFailure(t *testing.T) {
	h := newTestEngine(t, nil)

	result, err := h.engine.Search(context.Background(), &models.SearchRequest{
		Query:      "python developer",
		Platforms:  []string{"seek", "indeed"},
		MaxResults: 10,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"seek"}, result.SuccessfulPlatforms)
	assert.Equal(t, []string{"indeed"}, result.FailedPlatforms)
	assert.Contains(t, result.Metadata, "error_indeed")

	// 0.7 * 1/2 + 0.3 * 2/50
	assert.InDelta(t, 0.362, result.ConfidenceScore, 0.001)
}

func TestSearchRejectsInvalidRequest(t *testing.T) {
	h := newTestEngine(t, nil)

	result, err := h.engine.Search(context.Background(), &models.SearchRequest{
		Query:      "",
		MaxResults: 10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.False(t, result.Success)
}

func TestSearchFailsFastWhenOverBudget(t *testing.T) {
	logger := arbor.NewLogger()
	broke, err := costs.NewTracker(
		filepath.Join(t.TempDir(), "usage.json"),
		costs.Limits{Hourly: 0.001, Daily: 0.001, Monthly: 0.001},
		"claude-sonnet-4-20250514", logger)
	require.NoError(t, err)

	h := newTestEngine(t, func(opts *Options) {
		opts.Tracker = broke
		opts.Model = &fakeModel{response: "python backend developer"}
		opts.Config.AnalyzeQueries = true
	})

	result, err := h.engine.Search(context.Background(), &models.SearchRequest{
		Query:      "python developer",
		MaxResults: 10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBudgetExceeded)
	assert.False(t, result.Success)
}

func TestSearchNoMatchingPlatforms(t *testing.T) {
	h := newTestEngine(t, nil)

	result, err := h.engine.Search(context.Background(), &models.SearchRequest{
		Query:      "python developer",
		Platforms:  []string{"glassdoor"},
		MaxResults: 10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.False(t, result.Success)
}

func TestSearchQueryAnalysisRecorded(t *testing.T) {
	model := &fakeModel{response: "python backend developer"}
	h := newTestEngine(t, func(opts *Options) {
		opts.Model = model
		opts.Config.AnalyzeQueries = true
	})

	result, err := h.engine.Search(context.Background(), &models.SearchRequest{
		Query:      "python developer",
		Platforms:  []string{"seek"},
		MaxResults: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, model.calls)
	assert.Equal(t, "python backend developer", result.Metadata["query_analysis"])
}

func TestSearchStreamsProgress(t *testing.T) {
	h := newTestEngine(t, nil)

	progress := make(chan Progress, 64)
	_, err := h.engine.SearchWithProgress(context.Background(), &models.SearchRequest{
		Query:      "python developer",
		Platforms:  []string{"seek"},
		MaxResults: 10,
	}, progress)
	require.NoError(t, err)
	close(progress)

	seen := make(map[ProgressStage]bool)
	last := 0.0
	for update := range progress {
		seen[update.Stage] = true
		assert.GreaterOrEqual(t, update.Percent, last)
		last = update.Percent
	}
	for _, stage := range []ProgressStage{
		ProgressValidation, ProgressAnalysis, ProgressPlatformSelection,
		ProgressSearching, ProgressProcessing, ProgressStorage, ProgressCompleted,
	} {
		assert.True(t, seen[stage], "missing progress stage %s", stage)
	}
	assert.Equal(t, 100.0, last)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, confidence(0, 0, 0))
	assert.InDelta(t, 0.7, confidence(1, 1, 0), 1e-9)
	assert.InDelta(t, 1.0, confidence(2, 2, 50), 1e-9)
	assert.InDelta(t, 1.0, confidence(2, 2, 500), 1e-9)
	assert.InDelta(t, 0.35+0.3*0.2, confidence(1, 2, 10), 1e-9)
}
