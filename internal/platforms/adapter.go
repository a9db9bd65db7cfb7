package platforms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/costs"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/retry"
)

var validate = validator.New()

// apiSearcher is the optional credentialed fast path a platform adapter
// can provide (official API instead of scraping).
type apiSearcher interface {
	SearchAPI(ctx context.Context, req *models.SearchRequest) (*models.SearchResult, error)
}

// Deps are the shared services an adapter borrows per call. Any of them may
// be nil; the adapter degrades to the strategies it can still serve.
type Deps struct {
	Pages   interfaces.PageProvider
	Model   interfaces.ModelClient
	Tracker *costs.Tracker
	Logger  arbor.ILogger
}

// Adapter is the shared core every platform adapter embeds: selector-table
// scraping, vision fallback, rate governance and outcome counters.
// Implementations stay stateless between calls apart from those counters.
type Adapter struct {
	name         string
	cfg          common.AdapterConfig
	table        *SelectorTable
	capabilities []models.Capability
	homeMarkets  []string // location substrings that favor this platform

	pages   interfaces.PageProvider
	model   interfaces.ModelClient
	tracker *costs.Tracker
	logger  arbor.ILogger

	governor *governor
	api      apiSearcher

	mu            sync.Mutex
	stats         interfaces.AdapterStats
	parseFailures atomic.Int64 // consecutive, drives the vision fallback
}

func newAdapter(name string, cfg common.AdapterConfig, table *SelectorTable, caps []models.Capability, markets []string, deps Deps) *Adapter {
	return &Adapter{
		name:         name,
		cfg:          cfg,
		table:        table,
		capabilities: caps,
		homeMarkets:  markets,
		pages:        deps.Pages,
		model:        deps.Model,
		tracker:      deps.Tracker,
		logger:       deps.Logger,
		governor:     newGovernor(cfg.RateLimitPerMinute, cfg.MinDelay, cfg.MaxDelay),
	}
}

// PlatformName returns the registry tag.
func (a *Adapter) PlatformName() string { return a.name }

// Priority returns the configured selection priority.
func (a *Adapter) Priority() int { return a.cfg.Priority }

// Capabilities returns the features this adapter supports.
func (a *Adapter) Capabilities() []models.Capability { return a.capabilities }

// SupportedMethods reflects the wiring: scraping always, vision and hybrid
// when a model client is present, api when the platform provides one and
// credentials are configured.
func (a *Adapter) SupportedMethods() []models.Method {
	methods := []models.Method{models.MethodScraping}
	if a.model != nil {
		methods = append(methods, models.MethodVision, models.MethodHybrid)
	}
	if a.api != nil && a.hasCredentials() {
		methods = append(methods, models.MethodAPI)
	}
	return methods
}

func (a *Adapter) hasCredentials() bool {
	return a.cfg.APIKey != "" || (a.cfg.OAuthClientID != "" && a.cfg.OAuthClientSecret != "")
}

func (a *Adapter) supportsCapability(c models.Capability) bool {
	for _, have := range a.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

func (a *Adapter) supportsMethod(m models.Method) bool {
	for _, have := range a.SupportedMethods() {
		if have == m {
			return true
		}
	}
	return false
}

// HealthCheck issues a minimal live search against the platform. Any
// non-empty page counts as healthy; classifying the content is the search
// path's job.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	req := &models.SearchRequest{Query: "engineer", MaxResults: 1}
	searchURL, err := a.BuildSearchURL(req)
	if err != nil {
		return err
	}
	if err := a.governor.Wait(ctx); err != nil {
		return err
	}
	html, err := a.fetchPage(ctx, searchURL, "")
	if err != nil {
		return err
	}
	if strings.TrimSpace(html) == "" {
		return fmt.Errorf("%w: %s returned an empty page", models.ErrNetwork, a.name)
	}
	return nil
}

// BestMethod prefers API when credentialed, then hybrid, then scraping.
func (a *Adapter) BestMethod(req *models.SearchRequest) models.Method {
	if a.api != nil && a.hasCredentials() {
		return models.MethodAPI
	}
	if a.model != nil {
		return models.MethodHybrid
	}
	return models.MethodScraping
}

// BuildSearchURL encodes the request via the selector table.
func (a *Adapter) BuildSearchURL(req *models.SearchRequest) (string, error) {
	return a.table.BuildSearchURL(req)
}

// Stats returns a snapshot of the request counters.
func (a *Adapter) Stats() interfaces.AdapterStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Adapter) recordOutcome(success bool, started time.Time, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Requests++
	a.stats.TotalLatencyMs += time.Since(started).Milliseconds()
	if success {
		a.stats.Successes++
	} else {
		a.stats.Failures++
		if err != nil {
			a.stats.LastError = err.Error()
		}
	}
}

// SearchJobs validates, waits on the governor, then dispatches by method.
// Failures come back inside the SearchResult; the error return carries the
// underlying cause for classification.
func (a *Adapter) SearchJobs(ctx context.Context, req *models.SearchRequest, method models.Method) (*models.SearchResult, error) {
	started := time.Now()

	if err := validate.Struct(req); err != nil {
		wrapped := fmt.Errorf("%w: invalid search request: %v", models.ErrValidation, err)
		a.recordOutcome(false, started, wrapped)
		return models.FailedSearchResult(a.name, method, wrapped), wrapped
	}
	if method == "" {
		method = a.BestMethod(req)
	}
	if err := a.governor.Wait(ctx); err != nil {
		a.recordOutcome(false, started, err)
		return models.FailedSearchResult(a.name, method, err), err
	}

	result, err := a.dispatch(ctx, req, method)
	if err != nil {
		a.recordOutcome(false, started, err)
		return models.FailedSearchResult(a.name, method, err), err
	}

	a.finalizeRecords(result.Jobs)
	result.Success = true
	result.Platform = a.name
	result.TotalFound = len(result.Jobs)
	result.ProcessingTimeMs = time.Since(started).Milliseconds()
	result.CreatedAt = time.Now()

	a.recordOutcome(true, started, nil)
	a.logger.Info().
		Str("platform", a.name).
		Str("method", string(result.Method)).
		Int("jobs", len(result.Jobs)).
		Int64("elapsed_ms", result.ProcessingTimeMs).
		Msg("Platform search completed")
	return result, nil
}

func (a *Adapter) dispatch(ctx context.Context, req *models.SearchRequest, method models.Method) (*models.SearchResult, error) {
	switch method {
	case models.MethodAPI:
		if a.api == nil || !a.hasCredentials() {
			return nil, fmt.Errorf("%w: %s has no API credentials configured", models.ErrValidation, a.name)
		}
		return a.api.SearchAPI(ctx, req)
	case models.MethodScraping:
		return a.searchScraping(ctx, req)
	case models.MethodVision:
		return a.searchVision(ctx, req)
	case models.MethodHybrid:
		return a.searchHybrid(ctx, req)
	}
	return nil, fmt.Errorf("%w: unknown method %q", models.ErrValidation, method)
}

// searchHybrid runs the scraping path, escalating to vision once the
// consecutive parse-failure count reaches the configured threshold.
func (a *Adapter) searchHybrid(ctx context.Context, req *models.SearchRequest) (*models.SearchResult, error) {
	threshold := int64(a.cfg.VisionFallbackAfter)
	if threshold <= 0 {
		threshold = 3
	}

	result, err := a.searchScraping(ctx, req)
	if err == nil {
		result.Method = models.MethodHybrid
		return result, nil
	}
	if !errors.Is(err, models.ErrParse) {
		return nil, err
	}
	if a.parseFailures.Load() < threshold {
		return nil, err
	}

	a.logger.Warn().
		Str("platform", a.name).
		Int64("consecutive_parse_failures", a.parseFailures.Load()).
		Msg("Selector parsing keeps failing, falling back to vision")

	result, visionErr := a.searchVision(ctx, req)
	if visionErr != nil {
		return nil, fmt.Errorf("vision fallback failed after %v: %w", err, visionErr)
	}
	result.Method = models.MethodHybrid
	return result, nil
}

func (a *Adapter) searchScraping(ctx context.Context, req *models.SearchRequest) (*models.SearchResult, error) {
	searchURL, err := a.BuildSearchURL(req)
	if err != nil {
		return nil, err
	}

	html, err := a.fetchPage(ctx, searchURL, a.table.Search.JobCard)
	if err != nil {
		return nil, err
	}

	records, err := parseSearchHTML(html, a.table)
	if err != nil {
		a.parseFailures.Add(1)
		return nil, err
	}
	a.parseFailures.Store(0)

	return &models.SearchResult{
		Jobs:   truncateRecords(records, req.MaxResults),
		Method: models.MethodScraping,
	}, nil
}

// fetchPage prefers a rendered browser page, falling back to plain HTTP
// when no pool is wired or rendering fails.
func (a *Adapter) fetchPage(ctx context.Context, pageURL, waitSelector string) (string, error) {
	if a.pages != nil {
		page, release, err := a.pages.Borrow(ctx)
		if err == nil {
			defer release()
			if err := page.Goto(ctx, pageURL); err == nil {
				if waitSelector != "" {
					waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
					// A missed wait is not fatal; the content may be static.
					_ = page.WaitForSelector(waitCtx, waitSelector)
					cancel()
				}
				if html, err := page.Content(ctx); err == nil {
					return html, nil
				}
			}
		}
		a.logger.Debug().Str("url", pageURL).Msg("Browser fetch unavailable, using HTTP")
	}
	return retry.Do(ctx, retry.Scraping, a.logger, func(ctx context.Context) (string, error) {
		return fetchHTML(ctx, pageURL, defaultScrapeUserAgent)
	})
}

const defaultScrapeUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// GetJobDetails fetches and parses one posting.
func (a *Adapter) GetJobDetails(ctx context.Context, url string, method models.Method) (*models.JobRecord, error) {
	if url == "" {
		return nil, models.ValidationError("job detail URL is required")
	}
	if err := a.governor.Wait(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	html, err := a.fetchPage(ctx, url, a.table.Detail.Title)
	if err != nil {
		a.recordOutcome(false, started, err)
		return nil, err
	}

	rec, err := parseDetailHTML(html, url, a.table)
	if err != nil {
		a.recordOutcome(false, started, err)
		return nil, err
	}

	a.finalizeRecords([]*models.JobRecord{rec})
	a.recordOutcome(true, started, nil)
	return rec, nil
}

// ExtractJobLinks collects posting URLs from an already-borrowed page.
func (a *Adapter) ExtractJobLinks(ctx context.Context, page interfaces.Page) ([]string, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, err
	}
	return extractLinks(html, a.table)
}

// ParseJobData parses one posting from an already-borrowed page.
func (a *Adapter) ParseJobData(ctx context.Context, page interfaces.Page, url string) (*models.JobRecord, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := parseDetailHTML(html, url, a.table)
	if err != nil {
		return nil, err
	}
	a.finalizeRecords([]*models.JobRecord{rec})
	return rec, nil
}

// finalizeRecords stamps platform, scrape time and identity on outgoing
// records.
func (a *Adapter) finalizeRecords(records []*models.JobRecord) {
	now := time.Now().UTC()
	for _, rec := range records {
		if rec.Platform == "" {
			rec.Platform = a.name
		}
		if rec.ScrapedDate == nil {
			scraped := now
			rec.ScrapedDate = &scraped
		}
		rec.EnsureIdentity()
	}
}

func truncateRecords(records []*models.JobRecord, max int) []*models.JobRecord {
	if max > 0 && len(records) > max {
		return records[:max]
	}
	return records
}
