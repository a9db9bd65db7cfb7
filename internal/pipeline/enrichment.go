package pipeline

import (
	"context"
	"strings"

	"github.com/ternarybob/venari/internal/models"
)

// regionTable maps location keywords onto region tags.
var regionTable = map[string]string{
	"sydney": "AU-NSW", "melbourne": "AU-VIC", "brisbane": "AU-QLD",
	"perth": "AU-WA", "adelaide": "AU-SA", "canberra": "AU-ACT",
	"auckland": "NZ", "wellington": "NZ",
	"london": "UK", "manchester": "UK",
	"new york": "US-NY", "san francisco": "US-CA", "seattle": "US-WA",
	"austin": "US-TX", "boston": "US-MA", "chicago": "US-IL",
	"toronto": "CA-ON", "vancouver": "CA-BC",
	"berlin": "DE", "amsterdam": "NL", "dublin": "IE",
	"singapore": "SG", "bangalore": "IN", "bengaluru": "IN",
}

// EnrichmentStage derives fields acquisition cannot see directly: parsed
// city/region, a company-type guess, remote detection from the
// description, and a salary band.
type EnrichmentStage struct{}

func (s *EnrichmentStage) Name() models.StageName { return models.StageEnrichment }
func (s *EnrichmentStage) Parallel() bool         { return true }

func (s *EnrichmentStage) Process(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
	enrichLocation(rec)
	enrichCompanyType(rec)
	enrichRemote(rec)
	enrichSalaryBand(rec)
	return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
}

func enrichLocation(rec *models.JobRecord) {
	if rec.Location == "" {
		return
	}
	parts := strings.Split(rec.Location, ",")
	city := strings.TrimSpace(parts[0])
	if city != "" {
		rec.SetRaw("city", city)
	}

	lower := strings.ToLower(rec.Location)
	for keyword, region := range regionTable {
		if strings.Contains(lower, keyword) {
			rec.SetRaw("region", region)
			break
		}
	}
}

func enrichCompanyType(rec *models.JobRecord) {
	if rec.Company == "" {
		return
	}
	lower := strings.ToLower(rec.Company)
	companyType := "company"
	switch {
	case strings.Contains(lower, "recruit") || strings.Contains(lower, "talent") || strings.Contains(lower, "staffing"):
		companyType = "agency"
	case strings.Contains(lower, "university") || strings.Contains(lower, "institute"):
		companyType = "education"
	case strings.Contains(lower, "government") || strings.Contains(lower, "department of") || strings.Contains(lower, "council"):
		companyType = "government"
	case strings.Contains(lower, "consult"):
		companyType = "consultancy"
	}
	rec.SetRaw("company_type", companyType)
}

func enrichRemote(rec *models.JobRecord) {
	if rec.Remote != nil {
		return
	}
	haystack := strings.ToLower(rec.Title + " " + rec.Location + " " + rec.Description)
	if strings.Contains(haystack, "remote") || strings.Contains(haystack, "work from home") || strings.Contains(haystack, "wfh") {
		remote := true
		rec.Remote = &remote
	}
}

// enrichSalaryBand assumes compensation is already yearly USD (the
// transformation stage runs first).
func enrichSalaryBand(rec *models.JobRecord) {
	mid := 0
	switch {
	case rec.SalaryMin > 0 && rec.SalaryMax > 0:
		mid = (rec.SalaryMin + rec.SalaryMax) / 2
	case rec.SalaryMax > 0:
		mid = rec.SalaryMax
	case rec.SalaryMin > 0:
		mid = rec.SalaryMin
	default:
		return
	}

	band := "low"
	switch {
	case mid >= 150000:
		band = "high"
	case mid >= 80000:
		band = "mid"
	}
	rec.SetRaw("salary_band", band)
}
