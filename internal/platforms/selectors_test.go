package platforms

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/venari/internal/models"
)

func TestBuildSearchURLDeterministic(t *testing.T) {
	table, err := LoadSelectorTable("", "indeed")
	require.NoError(t, err)

	req := &models.SearchRequest{
		Query:      "golang developer",
		Location:   "Sydney",
		MaxResults: 50,
		Page:       2,
		Filters:    map[string]string{"fromage": "7"},
	}

	first, err := table.BuildSearchURL(req)
	require.NoError(t, err)
	second, err := table.BuildSearchURL(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Page offsets scale by the platform multiplier.
	assert.Contains(t, first, "start=20")
	assert.Contains(t, first, "q=golang+developer")
	assert.Contains(t, first, "l=Sydney")
	assert.Contains(t, first, "fromage=7")
}

func TestBuildSearchURLEncodesStructuredFilters(t *testing.T) {
	remote := true
	req := &models.SearchRequest{
		Query:        "golang developer",
		MaxResults:   50,
		JobType:      models.JobTypeFullTime,
		SalaryMin:    100000,
		SalaryMax:    150000,
		PostedWithin: 7 * 24 * time.Hour,
		Remote:       &remote,
		Sort:         models.SortByDate,
	}

	indeed, err := LoadSelectorTable("", "indeed")
	require.NoError(t, err)
	u, err := indeed.BuildSearchURL(req)
	require.NoError(t, err)
	assert.Contains(t, u, "jt=fulltime")
	assert.Contains(t, u, "fromage=7")
	assert.Contains(t, u, "remotejob=1")
	assert.Contains(t, u, "sort=date")

	linkedin, err := LoadSelectorTable("", "linkedin")
	require.NoError(t, err)
	u, err = linkedin.BuildSearchURL(req)
	require.NoError(t, err)
	assert.Contains(t, u, "f_JT=F")
	assert.Contains(t, u, "f_TPR=r604800") // seven days in seconds
	assert.Contains(t, u, "f_WT=2")
	assert.Contains(t, u, "sortBy=DD")

	seek, err := LoadSelectorTable("", "seek")
	require.NoError(t, err)
	u, err = seek.BuildSearchURL(req)
	require.NoError(t, err)
	assert.Contains(t, u, "worktype=242")
	assert.Contains(t, u, "salaryrange=100000-150000")
	assert.Contains(t, u, "daterange=7")
	assert.Contains(t, u, "sortmode=ListedDate")
}

func TestBuildSearchURLFilterEdgeCases(t *testing.T) {
	indeed, err := LoadSelectorTable("", "indeed")
	require.NoError(t, err)

	// Partial days round up so the window never excludes valid postings.
	u, err := indeed.BuildSearchURL(&models.SearchRequest{
		Query: "go", MaxResults: 10, PostedWithin: 36 * time.Hour,
	})
	require.NoError(t, err)
	assert.Contains(t, u, "fromage=2")

	// Unset filters stay out of the URL entirely.
	u, err = indeed.BuildSearchURL(&models.SearchRequest{Query: "go", MaxResults: 10})
	require.NoError(t, err)
	assert.NotContains(t, u, "jt=")
	assert.NotContains(t, u, "fromage=")
	assert.NotContains(t, u, "remotejob=")
	assert.NotContains(t, u, "sort=")

	// A remote pointer set to false is an explicit on-site request.
	onsite := false
	u, err = indeed.BuildSearchURL(&models.SearchRequest{
		Query: "go", MaxResults: 10, Remote: &onsite,
	})
	require.NoError(t, err)
	assert.NotContains(t, u, "remotejob=")
}

func TestLoadSelectorTableYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	override := `platform: seek
base_url: https://www.seek.co.nz
search_path: /jobs
query_param: keywords
search:
  job_card: div.listing
  job_link: a.title
  title: a.title
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seek.yaml"), []byte(override), 0644))

	table, err := LoadSelectorTable(dir, "seek")
	require.NoError(t, err)
	assert.Equal(t, "https://www.seek.co.nz", table.BaseURL)
	assert.Equal(t, "div.listing", table.Search.JobCard)

	// Platforms without an override file use the built-in table.
	builtin, err := LoadSelectorTable(dir, "indeed")
	require.NoError(t, err)
	assert.Equal(t, "https://www.indeed.com", builtin.BaseURL)
}

func TestLoadSelectorTableUnknownPlatform(t *testing.T) {
	_, err := LoadSelectorTable("", "monster")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}
