package costs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/models"
)

func newTestTracker(t *testing.T, limits Limits) *Tracker {
	t.Helper()
	tracker, err := NewTracker(
		filepath.Join(t.TempDir(), "journal.json"),
		limits,
		"claude-sonnet-4-20250514",
		arbor.NewLogger(),
	)
	require.NoError(t, err)
	return tracker
}

func TestEstimateWithSplitTokens(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 1, Daily: 10, Monthly: 100})

	// 1000 in @ 0.003 + 1000 out @ 0.015
	cost := tracker.Estimate("claude-sonnet-4-20250514", 0, false, 1000, 1000)
	assert.InDelta(t, 0.018, cost, 1e-9)
}

func TestEstimateAveragesWithoutSplit(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 1, Daily: 10, Monthly: 100})

	// 2000 tokens at the averaged rate (0.003+0.015)/2 per 1k
	cost := tracker.Estimate("claude-sonnet-4-20250514", 2000, false, 0, 0)
	assert.InDelta(t, 0.018, cost, 1e-9)
}

func TestEstimateAddsImageCharge(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 1, Daily: 10, Monthly: 100})

	plain := tracker.Estimate("claude-sonnet-4-20250514", 1000, false, 0, 0)
	withImage := tracker.Estimate("claude-sonnet-4-20250514", 1000, true, 0, 0)
	assert.InDelta(t, 0.0048, withImage-plain, 1e-9)
}

func TestEstimateUnknownModelFallsBack(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 1, Daily: 10, Monthly: 100})

	known := tracker.Estimate("claude-sonnet-4-20250514", 1000, false, 0, 0)
	unknown := tracker.Estimate("mystery-model-9000", 1000, false, 0, 0)
	assert.Equal(t, known, unknown)
}

func TestDailyBudgetGate(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 100, Daily: 1.00, Monthly: 100})

	tracker.Record(models.UsageRecord{
		Model:       "claude-sonnet-4-20250514",
		CostUSD:     0.995,
		RequestType: "vision_analysis",
		Success:     true,
	})

	status := tracker.CheckLimits(0.02)
	assert.False(t, status.DailyOK)
	assert.False(t, status.OK())
	assert.InDelta(t, 0.005, status.DailyRemaining, 1e-9)

	// A free call still fits.
	assert.True(t, tracker.CheckLimits(0.0).DailyOK)
}

func TestBucketSums(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 10, Daily: 10, Monthly: 10})

	now := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	stamp := func(ts time.Time, cost float64) {
		tracker.Record(models.UsageRecord{Timestamp: ts, Model: "m", CostUSD: cost, Success: true})
	}

	stamp(now.Add(-10*time.Minute), 0.10)   // this hour
	stamp(now.Add(-3*time.Hour), 0.20)      // today, earlier hour
	stamp(now.AddDate(0, 0, -5), 0.40)      // this month, earlier day
	stamp(now.AddDate(0, -2, 0), 0.80)      // older month

	assert.InDelta(t, 0.10, tracker.HourlyCost(), 1e-9)
	assert.InDelta(t, 0.30, tracker.DailyCost(), 1e-9)
	assert.InDelta(t, 0.70, tracker.MonthlyCost(), 1e-9)
}

func TestJournalReplayAndCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")
	limits := Limits{Hourly: 1000, Daily: 1000, Monthly: 1000}

	tracker, err := NewTracker(path, limits, "claude-sonnet-4-20250514", arbor.NewLogger())
	require.NoError(t, err)

	for i := 0; i < 1100; i++ {
		tracker.Record(models.UsageRecord{Model: "m", CostUSD: 0.001, Success: true})
	}

	// Journal on disk is capped at 1000 most-recent entries.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var persisted []models.UsageRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Len(t, persisted, 1000)

	// Replay restores the capped list.
	replayed, err := NewTracker(path, limits, "claude-sonnet-4-20250514", arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, 1000, replayed.UsageStats(365).TotalRequests)
}

func TestUsageStats(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 10, Daily: 10, Monthly: 10})

	tracker.Record(models.UsageRecord{Model: "a", Tokens: 100, CostUSD: 0.1, RequestType: "vision_analysis", Platform: "indeed", Success: true})
	tracker.Record(models.UsageRecord{Model: "b", Tokens: 200, CostUSD: 0.2, RequestType: "text_analysis", Platform: "seek", Success: false})

	stats := tracker.UsageStats(7)
	assert.Equal(t, 2, stats.TotalRequests)
	assert.Equal(t, 300, stats.TotalTokens)
	assert.InDelta(t, 0.3, stats.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.1, stats.ByModel["a"], 1e-9)
	assert.InDelta(t, 0.2, stats.ByRequestType["text_analysis"], 1e-9)
	assert.InDelta(t, 0.1, stats.ByPlatform["indeed"], 1e-9)
}

func TestExportFormats(t *testing.T) {
	tracker := newTestTracker(t, Limits{Hourly: 10, Daily: 10, Monthly: 10})
	tracker.Record(models.UsageRecord{Model: "m", Tokens: 100, CostUSD: 0.1, RequestType: "vision_analysis", Success: true})

	dir := t.TempDir()
	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)

	jsonPath, err := tracker.Export(dir, from, to, "json")
	require.NoError(t, err)
	assert.FileExists(t, jsonPath)

	csvPath, err := tracker.Export(dir, from, to, "csv")
	require.NoError(t, err)
	assert.FileExists(t, csvPath)

	_, err = tracker.Export(dir, from, to, "xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}
