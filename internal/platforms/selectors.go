// Package platforms implements the per-site adapter framework: selector
// tables, the shared adapter core with its rate governor and fetch
// strategies, the platform registry, and the site adapters themselves.
package platforms

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/venari/internal/models"
)

// SelectorTable is the data configuration for one platform: how to build
// search URLs and which CSS selectors extract each field. Tables ship with
// built-in defaults and can be overridden by a YAML file per platform, so
// site markup changes never require a rebuild.
type SelectorTable struct {
	Platform       string `yaml:"platform"`
	BaseURL        string `yaml:"base_url"`
	SearchPath     string `yaml:"search_path"`
	QueryParam     string `yaml:"query_param"`
	LocationParam  string `yaml:"location_param"`
	PageParam      string `yaml:"page_param"`
	PageMultiplier int    `yaml:"page_multiplier"` // page index scale, e.g. indeed counts offsets of 10

	Params FilterParams `yaml:"params"`

	Search SearchSelectors `yaml:"search"`
	Detail DetailSelectors `yaml:"detail"`
}

// FilterParams name the platform's URL parameters for the structured request
// filters. An empty name means the platform has no equivalent and the filter
// is skipped.
type FilterParams struct {
	JobType  string            `yaml:"job_type"`
	JobTypes map[string]string `yaml:"job_types"` // canonical job type -> site token

	SalaryMin   string `yaml:"salary_min"`
	SalaryMax   string `yaml:"salary_max"`
	SalaryRange string `yaml:"salary_range"` // single min-max param, e.g. seek's salaryrange

	PostedAge        string `yaml:"posted_age"`
	PostedAgeFormat  string `yaml:"posted_age_format"`  // fmt verb applied to the age value, default %d
	PostedAgeSeconds bool   `yaml:"posted_age_seconds"` // encode seconds instead of days

	Remote      string `yaml:"remote"`
	RemoteValue string `yaml:"remote_value"` // value meaning remote-only, default true

	Sort  string            `yaml:"sort"`
	Sorts map[string]string `yaml:"sorts"` // sort order -> site token
}

// SearchSelectors extract job cards from a results page.
type SearchSelectors struct {
	JobCard  string `yaml:"job_card"`
	JobLink  string `yaml:"job_link"`
	Title    string `yaml:"title"`
	Company  string `yaml:"company"`
	Location string `yaml:"location"`
	Salary   string `yaml:"salary"`
	Snippet  string `yaml:"snippet"`
	NextPage string `yaml:"next_page"`
}

// DetailSelectors extract fields from a single posting page.
type DetailSelectors struct {
	Title       string `yaml:"title"`
	Company     string `yaml:"company"`
	Location    string `yaml:"location"`
	Description string `yaml:"description"`
	Salary      string `yaml:"salary"`
	JobType     string `yaml:"job_type"`
}

// BuildSearchURL encodes the request into the platform's search URL.
// Deterministic for identical requests.
func (t *SelectorTable) BuildSearchURL(req *models.SearchRequest) (string, error) {
	base, err := url.Parse(t.BaseURL + t.SearchPath)
	if err != nil {
		return "", models.ValidationError("invalid search URL for %s: %v", t.Platform, err)
	}

	params := url.Values{}
	params.Set(t.QueryParam, req.Query)
	if req.Location != "" && t.LocationParam != "" {
		params.Set(t.LocationParam, req.Location)
	}
	if req.Page > 0 && t.PageParam != "" {
		page := req.Page
		if t.PageMultiplier > 1 {
			page = req.Page * t.PageMultiplier
		}
		params.Set(t.PageParam, strconv.Itoa(page))
	}
	t.Params.encode(params, req)

	// Platform-specific filters pass through untouched, sorted by Encode.
	for key, value := range req.Filters {
		params.Set(key, value)
	}

	base.RawQuery = params.Encode()
	return base.String(), nil
}

func (p FilterParams) encode(params url.Values, req *models.SearchRequest) {
	if req.JobType != "" && p.JobType != "" {
		canonical := string(models.NormalizeJobType(string(req.JobType)))
		if value, ok := p.JobTypes[canonical]; ok && value != "" {
			params.Set(p.JobType, value)
		} else if canonical != "" {
			params.Set(p.JobType, canonical)
		}
	}

	switch {
	case p.SalaryRange != "" && req.SalaryMin > 0 && req.SalaryMax > 0:
		params.Set(p.SalaryRange, fmt.Sprintf("%d-%d", req.SalaryMin, req.SalaryMax))
	default:
		if p.SalaryMin != "" && req.SalaryMin > 0 {
			params.Set(p.SalaryMin, strconv.Itoa(req.SalaryMin))
		}
		if p.SalaryMax != "" && req.SalaryMax > 0 {
			params.Set(p.SalaryMax, strconv.Itoa(req.SalaryMax))
		}
	}

	if req.PostedWithin > 0 && p.PostedAge != "" {
		age := int64(req.PostedWithin / (24 * time.Hour))
		if req.PostedWithin%(24*time.Hour) > 0 {
			age++ // round a partial day up so the filter never excludes valid postings
		}
		if p.PostedAgeSeconds {
			age = int64(req.PostedWithin / time.Second)
		}
		format := p.PostedAgeFormat
		if format == "" {
			format = "%d"
		}
		params.Set(p.PostedAge, fmt.Sprintf(format, age))
	}

	if req.Remote != nil && *req.Remote && p.Remote != "" {
		value := p.RemoteValue
		if value == "" {
			value = "true"
		}
		params.Set(p.Remote, value)
	}

	if req.Sort != "" && p.Sort != "" {
		if value, ok := p.Sorts[string(req.Sort)]; ok && value != "" {
			params.Set(p.Sort, value)
		} else if len(p.Sorts) == 0 {
			params.Set(p.Sort, string(req.Sort))
		}
	}
}

// LoadSelectorTable returns the table for a platform: the YAML override
// from dir when present, otherwise the built-in default.
func LoadSelectorTable(dir, platform string) (*SelectorTable, error) {
	if dir != "" {
		path := filepath.Join(dir, platform+".yaml")
		data, err := os.ReadFile(path)
		if err == nil {
			var table SelectorTable
			if err := yaml.Unmarshal(data, &table); err != nil {
				return nil, fmt.Errorf("failed to parse selector table %s: %w", path, err)
			}
			if table.Platform == "" {
				table.Platform = platform
			}
			return &table, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read selector table %s: %w", path, err)
		}
	}

	table, ok := defaultTables[platform]
	if !ok {
		return nil, models.ValidationError("no selector table for platform %q", platform)
	}
	copied := table
	return &copied, nil
}

var defaultTables = map[string]SelectorTable{
	"indeed": {
		Platform:       "indeed",
		BaseURL:        "https://www.indeed.com",
		SearchPath:     "/jobs",
		QueryParam:     "q",
		LocationParam:  "l",
		PageParam:      "start",
		PageMultiplier: 10,
		Params: FilterParams{
			JobType: "jt",
			JobTypes: map[string]string{
				"full-time":  "fulltime",
				"part-time":  "parttime",
				"contract":   "contract",
				"temporary":  "temporary",
				"internship": "internship",
			},
			PostedAge:   "fromage",
			Remote:      "remotejob",
			RemoteValue: "1",
			Sort:        "sort",
			Sorts:       map[string]string{"date": "date"},
		},
		Search: SearchSelectors{
			JobCard:  "div.job_seen_beacon",
			JobLink:  "h2.jobTitle a",
			Title:    "h2.jobTitle span",
			Company:  "span[data-testid='company-name']",
			Location: "div[data-testid='text-location']",
			Salary:   "div.salary-snippet-container",
			Snippet:  "div.job-snippet",
			NextPage: "a[data-testid='pagination-page-next']",
		},
		Detail: DetailSelectors{
			Title:       "h1.jobsearch-JobInfoHeader-title",
			Company:     "div[data-testid='inlineHeader-companyName']",
			Location:    "div[data-testid='inlineHeader-companyLocation']",
			Description: "div#jobDescriptionText",
			Salary:      "div#salaryInfoAndJobType span.attribute_snippet",
			JobType:     "div#salaryInfoAndJobType span.jobsearch-JobMetadataHeader-item",
		},
	},
	"linkedin": {
		Platform:      "linkedin",
		BaseURL:       "https://www.linkedin.com",
		SearchPath:    "/jobs/search",
		QueryParam:    "keywords",
		LocationParam: "location",
		PageParam:     "start",
		Params: FilterParams{
			JobType: "f_JT",
			JobTypes: map[string]string{
				"full-time":  "F",
				"part-time":  "P",
				"contract":   "C",
				"temporary":  "T",
				"internship": "I",
			},
			// f_TPR takes a seconds window, e.g. r86400 for the last day.
			PostedAge:        "f_TPR",
			PostedAgeFormat:  "r%d",
			PostedAgeSeconds: true,
			Remote:           "f_WT",
			RemoteValue:      "2",
			Sort:             "sortBy",
			Sorts:            map[string]string{"date": "DD", "relevance": "R"},
		},
		Search: SearchSelectors{
			JobCard:  "div.base-card",
			JobLink:  "a.base-card__full-link",
			Title:    "h3.base-search-card__title",
			Company:  "h4.base-search-card__subtitle",
			Location: "span.job-search-card__location",
			Snippet:  "p.base-search-card__metadata",
		},
		Detail: DetailSelectors{
			Title:       "h1.top-card-layout__title",
			Company:     "a.topcard__org-name-link",
			Location:    "span.topcard__flavor--bullet",
			Description: "div.show-more-less-html__markup",
		},
	},
	"seek": {
		Platform:      "seek",
		BaseURL:       "https://www.seek.com.au",
		SearchPath:    "/jobs",
		QueryParam:    "keywords",
		LocationParam: "where",
		PageParam:     "page",
		Params: FilterParams{
			JobType: "worktype",
			JobTypes: map[string]string{
				"full-time": "242",
				"part-time": "243",
				"contract":  "244",
				"temporary": "245",
			},
			SalaryRange: "salaryrange",
			PostedAge:   "daterange",
			Sort:        "sortmode",
			Sorts:       map[string]string{"date": "ListedDate", "relevance": "KeywordRelevance"},
		},
		Search: SearchSelectors{
			JobCard:  "article[data-automation='normalJob']",
			JobLink:  "a[data-automation='jobTitle']",
			Title:    "a[data-automation='jobTitle']",
			Company:  "a[data-automation='jobCompany']",
			Location: "a[data-automation='jobLocation']",
			Salary:   "span[data-automation='jobSalary']",
			Snippet:  "span[data-automation='jobShortDescription']",
			NextPage: "a[data-automation='page-next']",
		},
		Detail: DetailSelectors{
			Title:       "h1[data-automation='job-detail-title']",
			Company:     "span[data-automation='advertiser-name']",
			Location:    "span[data-automation='job-detail-location']",
			Description: "div[data-automation='jobAdDetails']",
			Salary:      "span[data-automation='job-detail-salary']",
			JobType:     "span[data-automation='job-detail-work-type']",
		},
	},
}
