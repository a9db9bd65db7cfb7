// Package costs records external-model usage and enforces hourly, daily and
// monthly budget caps. Callers must consult CheckLimits before any billable
// call and refuse the call when a limit would be exceeded.
package costs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/models"
)

// Limits are the fixed USD budget caps per time window.
type Limits struct {
	Hourly  float64
	Daily   float64
	Monthly float64
}

// Tracker accumulates usage records in memory (bounded by the journal cap)
// and persists them fire-and-forget. The in-memory list is append-only under
// a single writer; readers see a consistent snapshot up to some committed
// record.
type Tracker struct {
	limits       Limits
	defaultModel string
	journal      *journal
	logger       arbor.ILogger

	mu      sync.Mutex
	records []models.UsageRecord

	now func() time.Time // injectable clock for tests
}

// NewTracker opens the journal at journalPath and replays it into memory.
func NewTracker(journalPath string, limits Limits, defaultModel string, logger arbor.ILogger) (*Tracker, error) {
	t := &Tracker{
		limits:       limits,
		defaultModel: defaultModel,
		journal:      &journal{path: journalPath},
		logger:       logger,
		now:          time.Now,
	}

	records, err := t.journal.load()
	if err != nil {
		return nil, err
	}
	t.records = records

	logger.Debug().
		Int("replayed_records", len(records)).
		Float64("daily_limit", limits.Daily).
		Msg("Cost tracker initialized")

	return t, nil
}

// Estimate prices a prospective call. Unknown models fall back to the
// default model's pricing with a warning; estimation never fails, returning
// 0 on a wholly unknown default.
func (t *Tracker) Estimate(model string, tokens int, hasImage bool, inTokens, outTokens int) float64 {
	pricing, ok := defaultPricing[model]
	if !ok {
		t.logger.Warn().
			Str("model", model).
			Str("fallback", t.defaultModel).
			Msg("Unknown model pricing, falling back to default model")
		pricing, ok = defaultPricing[t.defaultModel]
		if !ok {
			return 0
		}
	}
	return pricing.Estimate(tokens, hasImage, inTokens, outTokens)
}

// Record appends one usage record and persists the journal. Persistence
// errors are logged, never propagated.
func (t *Tracker) Record(rec models.UsageRecord) {
	if rec.ID == "" {
		rec.ID = common.NewUsageID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	if len(t.records) > journalCap {
		t.records = t.records[len(t.records)-journalCap:]
	}
	snapshot := make([]models.UsageRecord, len(t.records))
	copy(snapshot, t.records)
	t.mu.Unlock()

	if err := t.journal.write(snapshot); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist cost journal")
	}
}

// HourlyCost sums successful usage within the current clock hour.
func (t *Tracker) HourlyCost() float64 {
	now := t.now()
	start := now.Truncate(time.Hour)
	return t.sumSince(start)
}

// DailyCost sums usage since local midnight.
func (t *Tracker) DailyCost() float64 {
	now := t.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return t.sumSince(start)
}

// MonthlyCost sums usage since the first of the current month.
func (t *Tracker) MonthlyCost() float64 {
	now := t.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return t.sumSince(start)
}

func (t *Tracker) sumSince(start time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, rec := range t.records {
		if !rec.Timestamp.Before(start) {
			total += rec.CostUSD
		}
	}
	return total
}

// CheckLimits reports whether a call costing estimate USD fits within every
// budget window, plus the remaining headroom per window.
func (t *Tracker) CheckLimits(estimate float64) models.LimitStatus {
	hourly := t.HourlyCost()
	daily := t.DailyCost()
	monthly := t.MonthlyCost()

	status := models.LimitStatus{
		HourlyOK:         hourly+estimate <= t.limits.Hourly,
		DailyOK:          daily+estimate <= t.limits.Daily,
		MonthlyOK:        monthly+estimate <= t.limits.Monthly,
		HourlyRemaining:  t.limits.Hourly - hourly,
		DailyRemaining:   t.limits.Daily - daily,
		MonthlyRemaining: t.limits.Monthly - monthly,
	}

	if !status.OK() {
		t.logger.Warn().
			Float64("estimate", estimate).
			Float64("hourly_cost", hourly).
			Float64("daily_cost", daily).
			Float64("monthly_cost", monthly).
			Msg("Budget limit would be exceeded")
	}
	return status
}

// UsageStats aggregates records over the trailing windowDays.
func (t *Tracker) UsageStats(windowDays int) models.UsageStats {
	cutoff := t.now().AddDate(0, 0, -windowDays)

	t.mu.Lock()
	defer t.mu.Unlock()

	stats := models.UsageStats{
		WindowDays:    windowDays,
		ByModel:       make(map[string]float64),
		ByRequestType: make(map[string]float64),
		ByPlatform:    make(map[string]float64),
	}

	successes := 0
	for _, rec := range t.records {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		stats.TotalRequests++
		stats.TotalTokens += rec.Tokens
		stats.TotalCostUSD += rec.CostUSD
		stats.ByModel[rec.Model] += rec.CostUSD
		stats.ByRequestType[rec.RequestType] += rec.CostUSD
		if rec.Platform != "" {
			stats.ByPlatform[rec.Platform] += rec.CostUSD
		}
		if rec.Success {
			successes++
		}
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalRequests)
	}
	return stats
}

// Export writes records within [from, to] to a file in the given format
// ("json" or "csv") under dir, returning the file path.
func (t *Tracker) Export(dir string, from, to time.Time, format string) (string, error) {
	t.mu.Lock()
	var selected []models.UsageRecord
	for _, rec := range t.records {
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		selected = append(selected, rec)
	}
	t.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	name := fmt.Sprintf("usage_%s_%s.%s", from.Format("20060102"), to.Format("20060102"), format)
	path := filepath.Join(dir, name)

	switch format {
	case "json":
		data, err := json.MarshalIndent(selected, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to serialize usage export: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return "", fmt.Errorf("failed to write usage export: %w", err)
		}
	case "csv":
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("failed to create usage export: %w", err)
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if err := w.Write([]string{"id", "timestamp", "model", "tokens", "cost_usd", "request_type", "platform", "success", "error_message"}); err != nil {
			return "", fmt.Errorf("failed to write usage export header: %w", err)
		}
		for _, rec := range selected {
			row := []string{
				rec.ID,
				rec.Timestamp.Format(time.RFC3339),
				rec.Model,
				strconv.Itoa(rec.Tokens),
				strconv.FormatFloat(rec.CostUSD, 'f', 6, 64),
				rec.RequestType,
				rec.Platform,
				strconv.FormatBool(rec.Success),
				rec.ErrorMessage,
			}
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("failed to write usage export row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", fmt.Errorf("failed to flush usage export: %w", err)
		}
	default:
		return "", models.ValidationError("unsupported export format %q", format)
	}

	return path, nil
}
