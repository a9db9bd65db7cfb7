package interfaces

import (
	"context"

	"github.com/ternarybob/venari/internal/models"
)

// AdapterStats tracks per-adapter request outcomes. Counters are monotonic.
type AdapterStats struct {
	Requests       int64  `json:"requests"`
	Successes      int64  `json:"successes"`
	Failures       int64  `json:"failures"`
	TotalLatencyMs int64  `json:"total_latency_ms"`
	LastError      string `json:"last_error,omitempty"`
}

// SuccessRate derives the fraction of requests that succeeded.
func (s AdapterStats) SuccessRate() float64 {
	if s.Requests == 0 {
		return 1.0
	}
	return float64(s.Successes) / float64(s.Requests)
}

// PlatformAdapter is the per-site fetch contract. Implementations hold only
// configuration; Pages and browsers are borrowed per call via PageProvider.
type PlatformAdapter interface {
	// PlatformName returns the registry tag for this platform.
	PlatformName() string

	// Capabilities returns the features this adapter supports.
	Capabilities() []models.Capability

	// SupportedMethods returns the fetch strategies this adapter supports.
	SupportedMethods() []models.Method

	// HealthCheck issues a minimal live search and reports whether the
	// platform is answering.
	HealthCheck(ctx context.Context) error

	// BuildSearchURL deterministically encodes the request into the
	// platform's search URL. Pure; no I/O.
	BuildSearchURL(req *models.SearchRequest) (string, error)

	// SearchJobs validates the request, waits on the rate governor, then
	// dispatches by method. Failures are captured in the SearchResult.
	SearchJobs(ctx context.Context, req *models.SearchRequest, method models.Method) (*models.SearchResult, error)

	// GetJobDetails fetches and parses a single posting.
	GetJobDetails(ctx context.Context, url string, method models.Method) (*models.JobRecord, error)

	// ExtractJobLinks collects posting URLs from a borrowed results page.
	ExtractJobLinks(ctx context.Context, page Page) ([]string, error)

	// ParseJobData parses one posting from a borrowed page. A selector miss
	// returns a nil record with a parse error.
	ParseJobData(ctx context.Context, page Page, url string) (*models.JobRecord, error)

	// BestMethod picks the preferred fetch strategy for a request:
	// API if credentialed, else hybrid, else scraping, else vision.
	BestMethod(req *models.SearchRequest) models.Method

	// Stats returns a snapshot of the adapter's request counters.
	Stats() AdapterStats
}
