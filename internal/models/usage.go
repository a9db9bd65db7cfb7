package models

import "time"

// UsageRecord captures one external-model call for cost accounting.
// Append-only; persisted to the cost journal and aggregated on read.
type UsageRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Tokens       int       `json:"tokens"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CostUSD      float64   `json:"cost_usd"`
	RequestType  string    `json:"request_type"` // vision_analysis, text_analysis, query_analysis
	Platform     string    `json:"platform,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// LimitStatus reports the budget gate decision for each window plus the
// remaining headroom in USD.
type LimitStatus struct {
	HourlyOK         bool    `json:"hourly_ok"`
	DailyOK          bool    `json:"daily_ok"`
	MonthlyOK        bool    `json:"monthly_ok"`
	HourlyRemaining  float64 `json:"hourly_remaining"`
	DailyRemaining   float64 `json:"daily_remaining"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
}

// OK reports whether every window still has headroom.
func (l LimitStatus) OK() bool {
	return l.HourlyOK && l.DailyOK && l.MonthlyOK
}

// UsageStats aggregates journal records over a trailing window.
type UsageStats struct {
	WindowDays    int                `json:"window_days"`
	TotalRequests int                `json:"total_requests"`
	TotalTokens   int                `json:"total_tokens"`
	TotalCostUSD  float64            `json:"total_cost_usd"`
	SuccessRate   float64            `json:"success_rate"`
	ByModel       map[string]float64 `json:"by_model"`
	ByRequestType map[string]float64 `json:"by_request_type"`
	ByPlatform    map[string]float64 `json:"by_platform"`
}
