package pipeline

import (
	"context"

	"github.com/ternarybob/venari/internal/models"
)

const (
	hoursPerYear   = 2080 // 40h * 52 weeks
	monthsPerYear  = 12
	targetCurrency = "USD"
)

// usdRates convert a yearly amount into USD. Fixed table; rate freshness
// is out of scope for the transformation stage.
var usdRates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.1,
	"GBP": 1.3,
	"CAD": 0.8,
	"AUD": 0.7,
}

// TransformationStage normalizes compensation to yearly USD and maps
// free-form classification strings onto the enumerations.
type TransformationStage struct{}

func (s *TransformationStage) Name() models.StageName { return models.StageTransformation }
func (s *TransformationStage) Parallel() bool         { return true }

func (s *TransformationStage) Process(ctx context.Context, rec *models.JobRecord) *models.PipelineResult {
	normalizeSalary(rec)

	if rec.JobType != "" {
		if normalized := models.NormalizeJobType(string(rec.JobType)); normalized != "" {
			rec.JobType = normalized
		}
	}
	if rec.ExperienceLevel != "" {
		if normalized := models.NormalizeExperienceLevel(string(rec.ExperienceLevel)); normalized != "" {
			rec.ExperienceLevel = normalized
		}
	}
	return &models.PipelineResult{Status: models.ItemCompleted, Data: rec}
}

// normalizeSalary converts any period to yearly and any known currency to
// USD, preserving the original values in the raw bag.
func normalizeSalary(rec *models.JobRecord) {
	if rec.SalaryMin == 0 && rec.SalaryMax == 0 {
		return
	}

	min, max := rec.SalaryMin, rec.SalaryMax
	switch rec.SalaryPeriod {
	case models.SalaryPeriodHourly:
		min *= hoursPerYear
		max *= hoursPerYear
	case models.SalaryPeriodMonthly:
		min *= monthsPerYear
		max *= monthsPerYear
	}

	currency := rec.SalaryCurrency
	if currency == "" {
		currency = targetCurrency
	}
	if rate, ok := usdRates[currency]; ok && currency != targetCurrency {
		rec.SetRaw("salary_original", map[string]interface{}{
			"min":      rec.SalaryMin,
			"max":      rec.SalaryMax,
			"currency": currency,
			"period":   string(rec.SalaryPeriod),
		})
		min = int(float64(min) * rate)
		max = int(float64(max) * rate)
		currency = targetCurrency
	} else if rec.SalaryPeriod != models.SalaryPeriodYearly && rec.SalaryPeriod != "" {
		rec.SetRaw("salary_original", map[string]interface{}{
			"min":    rec.SalaryMin,
			"max":    rec.SalaryMax,
			"period": string(rec.SalaryPeriod),
		})
	}

	rec.SalaryMin, rec.SalaryMax = min, max
	rec.SalaryCurrency = currency
	rec.SalaryPeriod = models.SalaryPeriodYearly
}
