package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/venari/internal/models"
)

// ValidationStage rejects records missing identity-critical fields, stamps
// job id and content hash, and attaches data-quality scores to the record.
type ValidationStage struct {
	// MinQuality drops records scoring below it overall; 0 keeps everything
	// that has the required fields.
	MinQuality float64
}

func (s *ValidationStage) Name() models.StageName { return models.StageValidation }
func (s *ValidationStage) Parallel() bool         { return true }

func (s *ValidationStage) Process(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
	if strings.TrimSpace(rec.Title) == "" {
		return &models.PipelineResult{Status: models.ItemFailed, Error: "missing title"}
	}
	if strings.TrimSpace(rec.Company) == "" {
		return &models.PipelineResult{Status: models.ItemFailed, Error: "missing company"}
	}
	if rec.Platform == "" {
		return &models.PipelineResult{Status: models.ItemFailed, Error: "missing platform"}
	}
	if rec.URL == "" && rec.ExternalID == "" {
		return &models.PipelineResult{Status: models.ItemFailed, Error: "no url or external id to derive identity"}
	}

	// Inverted salary bounds are a recoverable parse artifact: swap them.
	// A posting dated after its own scrape is not; fail the record.
	if rec.SalaryMin > 0 && rec.SalaryMax > 0 && rec.SalaryMin > rec.SalaryMax {
		rec.SalaryMin, rec.SalaryMax = rec.SalaryMax, rec.SalaryMin
	}
	if rec.PostedDate != nil && rec.ScrapedDate != nil && rec.PostedDate.After(*rec.ScrapedDate) {
		return &models.PipelineResult{Status: models.ItemFailed, Error: "posted date after scrape date"}
	}

	rec.EnsureIdentity()

	quality := scoreQuality(rec)
	rec.SetRaw("quality_metrics", quality)
	rec.QualityScore = quality.Overall

	if s.MinQuality > 0 && quality.Overall < s.MinQuality {
		return &models.PipelineResult{Status: models.ItemSkipped, Error: "below quality floor"}
	}
	return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
}

// scoreQuality rates a record across six dimensions in [0,1].
func scoreQuality(rec *models.JobRecord) models.DataQualityMetrics {
	var q models.DataQualityMetrics

	// Completeness: fraction of the descriptive fields present.
	fields := []string{rec.Title, rec.Company, rec.Location, rec.Description, rec.URL, rec.SalaryCurrency}
	present := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			present++
		}
	}
	q.Completeness = float64(present) / float64(len(fields))

	// Accuracy: penalize placeholder-looking values.
	q.Accuracy = 1.0
	for _, f := range []string{rec.Title, rec.Company} {
		lower := strings.ToLower(f)
		if strings.Contains(lower, "unknown") || strings.Contains(lower, "n/a") || strings.Contains(lower, "untitled") {
			q.Accuracy -= 0.4
		}
	}
	if q.Accuracy < 0 {
		q.Accuracy = 0
	}

	// Consistency: salary bounds ordered, dates not in the future.
	q.Consistency = 1.0
	if rec.SalaryMin > 0 && rec.SalaryMax > 0 && rec.SalaryMin > rec.SalaryMax {
		q.Consistency -= 0.5
	}
	if rec.PostedDate != nil && rec.PostedDate.After(time.Now().Add(24*time.Hour)) {
		q.Consistency -= 0.5
	}
	if q.Consistency < 0 {
		q.Consistency = 0
	}

	// Validity: URL shape and enum membership.
	q.Validity = 1.0
	if rec.URL != "" && !strings.HasPrefix(rec.URL, "http://") && !strings.HasPrefix(rec.URL, "https://") {
		q.Validity -= 0.5
	}
	if rec.JobType != "" && models.NormalizeJobType(string(rec.JobType)) == "" {
		q.Validity -= 0.25
	}
	if q.Validity < 0 {
		q.Validity = 0
	}

	// Uniqueness is provisional until the dedup stage; identity fields
	// present means dedup can actually work.
	q.Uniqueness = 1.0
	if rec.ContentHash == "" {
		q.Uniqueness = 0.5
	}

	// Timeliness: decays with posting age over 30 days.
	q.Timeliness = 0.5
	if rec.PostedDate != nil {
		age := time.Since(*rec.PostedDate)
		switch {
		case age < 0:
			q.Timeliness = 0.5
		case age <= 30*24*time.Hour:
			q.Timeliness = 1.0 - age.Hours()/(2*30*24)
		default:
			q.Timeliness = 0.2
		}
	}

	q.Overall = (q.Completeness + q.Accuracy + q.Consistency + q.Validity + q.Uniqueness + q.Timeliness) / 6
	return q
}
