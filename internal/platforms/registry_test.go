package platforms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/models"
)

func newTestRegistry(t *testing.T) (*Registry, *Adapter, *Adapter) {
	t.Helper()
	logger := arbor.NewLogger()
	registry := NewRegistry(logger)

	seek := newSeekTestAdapter(t, Deps{
		Pages:  &fakeProvider{page: &fakePage{html: seekResultsHTML}},
		Logger: logger,
	})

	indeed, err := NewIndeedAdapter(testAdapterConfig(), "", Deps{
		Pages:  &fakeProvider{page: &fakePage{html: "<html><body>nothing</body></html>"}},
		Logger: logger,
	})
	require.NoError(t, err)

	registry.Register(seek)
	registry.Register(indeed)
	return registry, seek, indeed
}

func TestHealthAdjustments(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	assert.InDelta(t, 1.0, registry.Health("seek"), 1e-9)

	// Gains clamp at 1.0.
	registry.ReportSuccess("seek")
	assert.InDelta(t, 1.0, registry.Health("seek"), 1e-9)

	registry.ReportFailure("seek")
	assert.InDelta(t, 0.8, registry.Health("seek"), 1e-9)
	registry.ReportSuccess("seek")
	assert.InDelta(t, 0.9, registry.Health("seek"), 1e-9)
}

func TestAutoDisableBelowFloor(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	for i := 0; i < 4; i++ {
		registry.ReportFailure("indeed")
	}
	assert.InDelta(t, 0.2, registry.Health("indeed"), 1e-9)
	assert.False(t, registry.Enabled("indeed"))
	assert.Nil(t, registry.Get("indeed"))

	// Disabled platforms never get selected.
	selected := registry.SelectBest(&models.SearchRequest{Query: "go", MaxResults: 10}, models.CapabilityJobSearch, 0)
	require.Len(t, selected, 1)
	assert.Equal(t, "seek", selected[0].PlatformName())

	registry.Enable("indeed")
	assert.True(t, registry.Enabled("indeed"))
	assert.GreaterOrEqual(t, registry.Health("indeed"), healthDisableAt)
}

func TestUnregister(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	registry.Unregister("indeed")
	assert.Nil(t, registry.Get("indeed"))
	assert.False(t, registry.Enabled("indeed"))
	assert.Equal(t, []string{"seek"}, registry.List())
	assert.Zero(t, registry.Health("indeed"))

	// Unknown names are a no-op.
	registry.Unregister("monster")
	assert.Equal(t, []string{"seek"}, registry.List())
}

func TestSelectBestHonorsRequestedPlatformsAndHomeMarket(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	// Explicit platform list restricts the candidates.
	selected := registry.SelectBest(&models.SearchRequest{
		Query: "go", MaxResults: 10, Platforms: []string{"indeed"},
	}, models.CapabilityJobSearch, 0)
	require.Len(t, selected, 1)
	assert.Equal(t, "indeed", selected[0].PlatformName())

	// An Australian location pushes seek to the front.
	selected = registry.SelectBest(&models.SearchRequest{
		Query: "go", MaxResults: 10, Location: "Sydney, Australia",
	}, models.CapabilityJobSearch, 0)
	require.Len(t, selected, 2)
	assert.Equal(t, "seek", selected[0].PlatformName())
}

func TestSelectBestFiltersByCapability(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	req := &models.SearchRequest{Query: "go", MaxResults: 10}

	// Only indeed carries company reviews.
	selected := registry.SelectBest(req, models.CapabilityCompanyReviews, 0)
	require.Len(t, selected, 1)
	assert.Equal(t, "indeed", selected[0].PlatformName())

	// An empty capability puts every enabled adapter in play.
	selected = registry.SelectBest(req, "", 0)
	assert.Len(t, selected, 2)

	// max caps the slice after ranking.
	selected = registry.SelectBest(req, models.CapabilityJobSearch, 1)
	assert.Len(t, selected, 1)
}

func TestByCapabilityOrdersByPriorityThenHealth(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	// Equal priority and health falls back to name order.
	adapters := registry.ByCapability(models.CapabilityJobSearch)
	require.Len(t, adapters, 2)
	assert.Equal(t, "indeed", adapters[0].PlatformName())
	assert.Equal(t, "seek", adapters[1].PlatformName())

	// A health drop demotes the platform.
	registry.ReportFailure("indeed")
	adapters = registry.ByCapability(models.CapabilityJobSearch)
	require.Len(t, adapters, 2)
	assert.Equal(t, "seek", adapters[0].PlatformName())

	adapters = registry.ByCapability(models.CapabilityCompanyReviews)
	require.Len(t, adapters, 1)
	assert.Equal(t, "indeed", adapters[0].PlatformName())

	// Disabled platforms drop out of capability queries.
	registry.Disable("indeed")
	assert.Empty(t, registry.ByCapability(models.CapabilityCompanyReviews))
}

func TestByMethodReflectsAdapterWiring(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	// Both test adapters scrape; neither has a model or API credentials.
	adapters := registry.ByMethod(models.MethodScraping)
	assert.Len(t, adapters, 2)
	assert.Empty(t, registry.ByMethod(models.MethodVision))
	assert.Empty(t, registry.ByMethod(models.MethodAPI))
}

func TestSearchMultipleReturnsPerPlatformResults(t *testing.T) {
	registry, seek, indeed := newTestRegistry(t)

	req := &models.SearchRequest{Query: "golang", MaxResults: 10}
	results := registry.SearchMultiple(context.Background(), []*Adapter{seek, indeed}, req, models.MethodScraping, 2)
	require.Len(t, results, 2)

	// Seek parses; indeed's page has no job cards and fails.
	require.NotNil(t, results["seek"])
	assert.True(t, results["seek"].Success)
	assert.Len(t, results["seek"].Jobs, 2)

	require.NotNil(t, results["indeed"])
	assert.False(t, results["indeed"].Success)
	assert.Empty(t, results["indeed"].Jobs)

	// Health moved accordingly.
	assert.InDelta(t, 1.0, registry.Health("seek"), 1e-9)
	assert.InDelta(t, 0.8, registry.Health("indeed"), 1e-9)
}

func TestRegistryHealthCheck(t *testing.T) {
	logger := arbor.NewLogger()
	registry := NewRegistry(logger)

	healthy := newSeekTestAdapter(t, Deps{
		Pages:  &fakeProvider{page: &fakePage{html: seekResultsHTML}},
		Logger: logger,
	})
	dead, err := NewIndeedAdapter(testAdapterConfig(), "", Deps{
		Pages:  &fakeProvider{page: &fakePage{html: "   "}},
		Logger: logger,
	})
	require.NoError(t, err)

	registry.Register(healthy)
	registry.Register(dead)
	registry.ReportFailure("seek")

	out := registry.HealthCheck(context.Background())
	require.Len(t, out, 2)

	// A live page restores health; a blank one costs it.
	assert.NoError(t, out["seek"])
	assert.InDelta(t, 0.9, registry.Health("seek"), 1e-9)
	assert.ErrorIs(t, out["indeed"], models.ErrNetwork)
	assert.InDelta(t, 0.8, registry.Health("indeed"), 1e-9)

	// Naming the platforms limits the pass; unknown names report as such.
	out = registry.HealthCheck(context.Background(), "seek", "monster")
	require.Len(t, out, 2)
	assert.NoError(t, out["seek"])
	assert.ErrorIs(t, out["monster"], models.ErrValidation)
}

func TestListAndStats(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	assert.Equal(t, []string{"indeed", "seek"}, registry.List())

	stats := registry.Stats()
	assert.Contains(t, stats, "seek")
	assert.Contains(t, stats, "indeed")
}
