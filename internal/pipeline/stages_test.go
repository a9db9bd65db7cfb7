package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/venari/internal/models"
)

func fixtureRecord(n int) *models.JobRecord {
	posted := time.Now().Add(-48 * time.Hour)
	return &models.JobRecord{
		Platform:        "seek",
		Title:           fmt.Sprintf("Senior Go Engineer %d", n),
		Company:         "Ternary Bob Pty Ltd",
		Location:        "Sydney, NSW",
		Description:     "Build Go services with PostgreSQL and Kubernetes on AWS.",
		URL:             fmt.Sprintf("https://www.seek.com.au/job/%d", 80000000+n),
		SalaryMin:       70,
		SalaryMax:       90,
		SalaryCurrency:  "AUD",
		SalaryPeriod:    models.SalaryPeriodHourly,
		JobType:         models.JobTypeFullTime,
		ExperienceLevel: models.ExperienceSenior,
		PostedDate:      &posted,
	}
}

func TestValidationRejectsMissingFields(t *testing.T) {
	stage := &ValidationStage{}
	ctx := context.Background()

	missingTitle := fixtureRecord(1)
	missingTitle.Title = "  "
	res := stage.Process(ctx, missingTitle)
	assert.Equal(t, models.ItemFailed, res.Status)
	assert.Contains(t, res.Error, "title")

	noIdentity := fixtureRecord(2)
	noIdentity.URL = ""
	noIdentity.ExternalID = ""
	res = stage.Process(ctx, noIdentity)
	assert.Equal(t, models.ItemFailed, res.Status)
}

func TestValidationStampsIdentityAndQuality(t *testing.T) {
	stage := &ValidationStage{}
	rec := fixtureRecord(1)

	res := stage.Process(context.Background(), rec)
	require.Equal(t, models.ItemCompleted, res.Status)

	assert.NotEmpty(t, rec.JobID)
	assert.NotEmpty(t, rec.ContentHash)
	assert.Greater(t, rec.QualityScore, 0.5)

	quality, ok := rec.Raw["quality_metrics"].(models.DataQualityMetrics)
	require.True(t, ok)
	assert.Equal(t, 1.0, quality.Completeness)
	assert.Equal(t, quality.Overall, rec.QualityScore)
}

func TestValidationRepairsInvertedSalaryBounds(t *testing.T) {
	stage := &ValidationStage{}
	rec := fixtureRecord(1)
	rec.SalaryMin = 200000
	rec.SalaryMax = 100000

	res := stage.Process(context.Background(), rec)
	require.Equal(t, models.ItemCompleted, res.Status)
	assert.Equal(t, 100000, rec.SalaryMin)
	assert.Equal(t, 200000, rec.SalaryMax)
}

func TestValidationRejectsPostedAfterScraped(t *testing.T) {
	stage := &ValidationStage{}
	rec := fixtureRecord(1)
	scraped := time.Now().UTC()
	posted := scraped.Add(48 * time.Hour)
	rec.ScrapedDate = &scraped
	rec.PostedDate = &posted

	res := stage.Process(context.Background(), rec)
	assert.Equal(t, models.ItemFailed, res.Status)
	assert.Contains(t, res.Error, "posted date")
}

func TestValidationQualityFloor(t *testing.T) {
	stage := &ValidationStage{MinQuality: 0.95}
	rec := fixtureRecord(1)
	rec.Location = ""
	rec.Description = ""
	rec.SalaryCurrency = ""
	rec.PostedDate = nil

	res := stage.Process(context.Background(), rec)
	assert.Equal(t, models.ItemSkipped, res.Status)
}

func TestCleaningNormalizesTextAndExtractsSkills(t *testing.T) {
	stage := &CleaningStage{}
	rec := fixtureRecord(1)
	rec.Title = "  Senior   Go\tEngineer &amp; Lead  "
	rec.Description = "<p>We use <b>Go</b>, Kubernetes and PostgreSQL at Google scale.</p>"

	res := stage.Process(context.Background(), rec)
	require.Equal(t, models.ItemCompleted, res.Status)

	assert.Equal(t, "Senior Go Engineer & Lead", rec.Title)
	assert.NotContains(t, rec.Description, "<p>")

	skills, ok := rec.Raw["skills"].([]string)
	require.True(t, ok)
	assert.Contains(t, skills, "go")
	assert.Contains(t, skills, "kubernetes")
	assert.Contains(t, skills, "postgresql")
}

func TestCleaningWordBoundaries(t *testing.T) {
	// "go" inside "google" must not count as a skill.
	skills := extractSkills("we are google, a search company")
	assert.NotContains(t, skills, "go")

	skills = extractSkills("we write go and java here")
	assert.Contains(t, skills, "go")
	assert.Contains(t, skills, "java")
}

func TestCleaningBoundsTitleLength(t *testing.T) {
	stage := &CleaningStage{}
	rec := fixtureRecord(1)
	rec.Title = strings.Repeat("x", 400)

	stage.Process(context.Background(), rec)
	assert.LessOrEqual(t, len(rec.Title), maxTitleLength)
}

func TestTransformationNormalizesHourlyAUDToYearlyUSD(t *testing.T) {
	stage := &TransformationStage{}
	rec := fixtureRecord(1)

	res := stage.Process(context.Background(), rec)
	require.Equal(t, models.ItemCompleted, res.Status)

	// 70/h * 2080 = 145600 AUD, * 0.7 = 101920 USD.
	assert.Equal(t, 101920, rec.SalaryMin)
	assert.Equal(t, 131040, rec.SalaryMax)
	assert.Equal(t, "USD", rec.SalaryCurrency)
	assert.Equal(t, models.SalaryPeriodYearly, rec.SalaryPeriod)

	original, ok := rec.Raw["salary_original"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 70, original["min"])
	assert.Equal(t, "AUD", original["currency"])
	assert.Equal(t, "hourly", original["period"])
}

func TestTransformationLeavesYearlyUSDAlone(t *testing.T) {
	stage := &TransformationStage{}
	rec := fixtureRecord(1)
	rec.SalaryMin = 120000
	rec.SalaryMax = 150000
	rec.SalaryCurrency = "USD"
	rec.SalaryPeriod = models.SalaryPeriodYearly

	stage.Process(context.Background(), rec)
	assert.Equal(t, 120000, rec.SalaryMin)
	assert.Equal(t, 150000, rec.SalaryMax)
	assert.Nil(t, rec.Raw["salary_original"])
}

func TestTransformationNormalizesEnums(t *testing.T) {
	stage := &TransformationStage{}
	rec := fixtureRecord(1)
	rec.JobType = models.JobType("Full Time")
	rec.ExperienceLevel = models.ExperienceLevel("Lead")

	stage.Process(context.Background(), rec)
	assert.Equal(t, models.JobTypeFullTime, rec.JobType)
	assert.Equal(t, models.ExperienceSenior, rec.ExperienceLevel)
}

func TestEnrichmentDerivesFields(t *testing.T) {
	stage := &EnrichmentStage{}
	rec := fixtureRecord(1)
	rec.Company = "Apex Talent Recruiting"
	rec.Description = "Fully remote role. Build Go services."
	rec.SalaryMin = 160000
	rec.SalaryMax = 180000
	rec.SalaryPeriod = models.SalaryPeriodYearly
	rec.SalaryCurrency = "USD"

	stage.Process(context.Background(), rec)

	assert.Equal(t, "Sydney", rec.Raw["city"])
	assert.Equal(t, "AU-NSW", rec.Raw["region"])
	assert.Equal(t, "agency", rec.Raw["company_type"])
	require.NotNil(t, rec.Remote)
	assert.True(t, *rec.Remote)
	assert.Equal(t, "high", rec.Raw["salary_band"])
}

func TestEnrichmentRespectsExplicitRemote(t *testing.T) {
	stage := &EnrichmentStage{}
	rec := fixtureRecord(1)
	onsite := false
	rec.Remote = &onsite
	rec.Description = "remote work available"

	stage.Process(context.Background(), rec)
	assert.False(t, *rec.Remote)
}

func TestDeduplicationByURLAndHash(t *testing.T) {
	stage := NewDeduplicationStage(0)
	ctx := context.Background()

	a := fixtureRecord(1)
	sameURL := fixtureRecord(2)
	sameURL.URL = a.URL
	sameContent := fixtureRecord(1)
	sameContent.URL = "https://www.seek.com.au/job/99999999"
	fresh := fixtureRecord(3)

	kept, err := stage.ProcessBatch(ctx, []*models.JobRecord{a, sameURL, sameContent, fresh})
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Same(t, a, kept[0])
	assert.Same(t, fresh, kept[1])
}

func TestDeduplicationStatePersistsAcrossBatches(t *testing.T) {
	stage := NewDeduplicationStage(0)
	ctx := context.Background()

	first, err := stage.ProcessBatch(ctx, []*models.JobRecord{fixtureRecord(1)})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := stage.ProcessBatch(ctx, []*models.JobRecord{fixtureRecord(1)})
	require.NoError(t, err)
	assert.Empty(t, second)

	stage.Reset()
	third, err := stage.ProcessBatch(ctx, []*models.JobRecord{fixtureRecord(1)})
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestDeduplicationJaccardSimilarity(t *testing.T) {
	stage := NewDeduplicationStage(0.85)
	ctx := context.Background()

	base := fixtureRecord(1)
	base.Description = "seeking experienced backend engineer building distributed systems with golang kafka postgres terraform observability oncall rotation hybrid sydney office"

	nearDup := fixtureRecord(2)
	nearDup.Title = "Backend Engineer"
	nearDup.Description = "seeking experienced backend engineer building distributed systems with golang kafka postgres terraform observability oncall rotation hybrid sydney offices"

	unrelated := fixtureRecord(3)
	unrelated.Description = "junior marketing coordinator managing social campaigns and newsletters"

	kept, err := stage.ProcessBatch(ctx, []*models.JobRecord{base, nearDup, unrelated})
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Same(t, base, kept[0])
	assert.Same(t, unrelated, kept[1])
}

func TestDeduplicationKeepsDistinctJobsWithBoilerplateDescription(t *testing.T) {
	stage := NewDeduplicationStage(0.85)
	ctx := context.Background()

	const boilerplate = "our client offers flexible hours competitive salary great culture and modern offices in central sydney"

	engineer := fixtureRecord(1)
	engineer.Title = "Senior Golang Backend Engineer"
	engineer.Company = "Initech Systems"
	engineer.Description = boilerplate

	coordinator := fixtureRecord(2)
	coordinator.Title = "Junior Marketing Events Coordinator"
	coordinator.Company = "Apex Talent Recruiting"
	coordinator.Description = boilerplate

	// The shared agency boilerplate is diluted by title and company
	// tokens, so both postings survive.
	kept, err := stage.ProcessBatch(ctx, []*models.JobRecord{engineer, coordinator})
	require.NoError(t, err)
	require.Len(t, kept, 2)
}

func TestDeduplicationSignatureListBounded(t *testing.T) {
	stage := NewDeduplicationStage(0.99)
	for i := 0; i < signatureCap; i++ {
		stage.recent = append(stage.recent, map[string]bool{fmt.Sprintf("token%d", i): true})
	}

	_, err := stage.ProcessBatch(context.Background(), []*models.JobRecord{fixtureRecord(1)})
	require.NoError(t, err)

	// Overflow trims to the most recent retained half, new signature included.
	assert.Len(t, stage.recent, signatureRetain)
	assert.True(t, stage.recent[signatureRetain-1]["senior"])
}

func TestJaccard(t *testing.T) {
	a := tokenSet("golang kafka postgres terraform")
	b := tokenSet("golang kafka postgres ansible")
	assert.InDelta(t, 0.6, jaccard(a, b), 0.01)

	assert.Equal(t, 0.0, jaccard(a, tokenSet("")))
	assert.Equal(t, 1.0, jaccard(a, a))
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	stage := &ExportStage{Dir: dir, Format: "json"}

	records := []*models.JobRecord{fixtureRecord(1), fixtureRecord(2)}
	out, err := stage.ProcessBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, records, out)

	require.Len(t, stage.Paths, 1)
	data, err := os.ReadFile(stage.Paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Senior Go Engineer 1")
	assert.Equal(t, ".json", filepath.Ext(stage.Paths[0]))
}

func TestExportCSVHeader(t *testing.T) {
	dir := t.TempDir()
	stage := &ExportStage{Dir: dir, Format: "csv"}

	_, err := stage.ProcessBatch(context.Background(), []*models.JobRecord{fixtureRecord(1)})
	require.NoError(t, err)
	require.Len(t, stage.Paths, 1)

	data, err := os.ReadFile(stage.Paths[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(exportColumns, ","), lines[0])
}

func TestExportSplitsOnSizeCap(t *testing.T) {
	dir := t.TempDir()
	// Each record serializes to several hundred bytes; a 1KB cap forces
	// multiple files for ten records.
	stage := &ExportStage{Dir: dir, Format: "json", MaxFileBytes: 1024}

	var records []*models.JobRecord
	for i := 0; i < 10; i++ {
		records = append(records, fixtureRecord(i))
	}
	_, err := stage.ProcessBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Greater(t, len(stage.Paths), 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, len(stage.Paths))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	stage := &ExportStage{Dir: t.TempDir(), Format: "parquet"}
	_, err := stage.ProcessBatch(context.Background(), []*models.JobRecord{fixtureRecord(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestExportHTML(t *testing.T) {
	stage := &ExportStage{Dir: t.TempDir(), Format: "html"}
	_, err := stage.ProcessBatch(context.Background(), []*models.JobRecord{fixtureRecord(1)})
	require.NoError(t, err)
	require.Len(t, stage.Paths, 1)

	data, err := os.ReadFile(stage.Paths[0])
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "<h2>")
	assert.Contains(t, html, "Senior Go Engineer 1")
}

func TestStorageStageRequiresBackend(t *testing.T) {
	stage := &StorageStage{}
	_, err := stage.ProcessBatch(context.Background(), []*models.JobRecord{fixtureRecord(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}
