package models

import "time"

// Method is a strategy for fetching from a platform.
type Method string

const (
	MethodAPI      Method = "api"
	MethodScraping Method = "scraping"
	MethodVision   Method = "vision"
	MethodHybrid   Method = "hybrid"
)

// Capability is a tagged feature an adapter can perform.
type Capability string

const (
	CapabilityJobSearch           Capability = "job_search"
	CapabilityJobDetails          Capability = "job_details"
	CapabilityCompanyInfo         Capability = "company_info"
	CapabilitySalaryInfo          Capability = "salary_info"
	CapabilityCompanyReviews      Capability = "company_reviews"
	CapabilityProfileInfo         Capability = "profile_info"
	CapabilityApplicationTracking Capability = "application_tracking"
)

// SortOrder controls result ordering on platforms that support it.
type SortOrder string

const (
	SortByRelevance SortOrder = "relevance"
	SortByDate      SortOrder = "date"
	SortBySalary    SortOrder = "salary"
)

// SearchRequest describes one job search across one or more platforms.
type SearchRequest struct {
	Query      string   `json:"query" validate:"required,min=1"`
	Location   string   `json:"location,omitempty"`
	Platforms  []string `json:"platforms,omitempty"` // empty = auto-select
	MaxResults int      `json:"max_results" validate:"min=1,max=1000"`
	Page       int      `json:"page,omitempty" validate:"min=0"`
	Limit      int      `json:"limit,omitempty"`

	JobType         JobType         `json:"job_type,omitempty"`
	ExperienceLevel ExperienceLevel `json:"experience_level,omitempty"`
	SalaryMin       int             `json:"salary_min,omitempty"`
	SalaryMax       int             `json:"salary_max,omitempty"`
	PostedWithin    time.Duration   `json:"posted_within,omitempty"` // date filter
	Remote          *bool           `json:"remote,omitempty"`
	Sort            SortOrder       `json:"sort,omitempty"`

	// Filters carries platform-specific filters passed through to the
	// adapter's URL builder untouched.
	Filters map[string]string `json:"filters,omitempty"`
}

// SearchResult is the outcome of one search, whether from a single adapter
// or assembled by the engine across platforms. Adapter failures are captured
// here rather than raised, so a batch never fails wholesale.
type SearchResult struct {
	ID                  string                 `json:"id,omitempty"`
	Success             bool                   `json:"success"`
	Jobs                []*JobRecord           `json:"jobs"`
	TotalFound          int                    `json:"total_found"`
	Platform            string                 `json:"platform,omitempty"`
	Method              Method                 `json:"method,omitempty"`
	SuccessfulPlatforms []string               `json:"successful_platforms,omitempty"`
	FailedPlatforms     []string               `json:"failed_platforms,omitempty"`
	ProcessingTimeMs    int64                  `json:"processing_time_ms"`
	CostBreakdown       map[string]float64     `json:"cost_breakdown,omitempty"`
	ConfidenceScore     float64                `json:"confidence_score"`
	ErrorMessage        string                 `json:"error_message,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// FailedSearchResult builds the uniform failure shape for one platform.
func FailedSearchResult(platform string, method Method, err error) *SearchResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &SearchResult{
		Success:      false,
		Jobs:         []*JobRecord{},
		Platform:     platform,
		Method:       method,
		ErrorMessage: msg,
		CreatedAt:    time.Now(),
	}
}
