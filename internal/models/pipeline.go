package models

import (
	"time"
)

// StageName identifies a pipeline stage. Stages run in the fixed default
// order below; only registered stages execute.
type StageName string

const (
	StageValidation     StageName = "validation"
	StageCleaning       StageName = "cleaning"
	StageTransformation StageName = "transformation"
	StageEnrichment     StageName = "enrichment"
	StageDeduplication  StageName = "deduplication"
	StageStorage        StageName = "storage"
	StageExport         StageName = "export"
)

// DefaultStageOrder is the canonical stage sequence.
var DefaultStageOrder = []StageName{
	StageValidation,
	StageCleaning,
	StageTransformation,
	StageEnrichment,
	StageDeduplication,
	StageStorage,
	StageExport,
}

// ItemStatus is the per-item outcome of a stage.
type ItemStatus string

const (
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// PipelineResult is the per-item outcome after a stage (or the whole run).
type PipelineResult struct {
	Status         ItemStatus    `json:"status"`
	Data           *JobRecord    `json:"data,omitempty"`
	Error          string        `json:"error,omitempty"`
	Stage          StageName     `json:"stage,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// StageMetrics accumulates per-stage counters.
type StageMetrics struct {
	Processed        int     `json:"processed"`
	Failed           int     `json:"failed"`
	Skipped          int     `json:"skipped"`
	TotalTimeSeconds float64 `json:"total_time_seconds"`
}

// Record accumulates one item outcome into the stage counters.
func (m *StageMetrics) Record(status ItemStatus, d time.Duration) {
	switch status {
	case ItemCompleted:
		m.Processed++
	case ItemFailed:
		m.Failed++
	case ItemSkipped:
		m.Skipped++
	}
	m.TotalTimeSeconds += d.Seconds()
}

// AvgTimeSeconds derives the average per-item time lazily.
func (m *StageMetrics) AvgTimeSeconds() float64 {
	total := m.Processed + m.Failed + m.Skipped
	if total == 0 {
		return 0
	}
	return m.TotalTimeSeconds / float64(total)
}

// PipelineMetrics aggregates the overall run.
type PipelineMetrics struct {
	Total        int                         `json:"total"`
	Processed    int                         `json:"processed"`
	Failed       int                         `json:"failed"`
	Skipped      int                         `json:"skipped"`
	StartTime    time.Time                   `json:"start_time"`
	EndTime      time.Time                   `json:"end_time"`
	StageMetrics map[StageName]*StageMetrics `json:"stage_metrics"`
}

// SuccessRate derives the fraction of items that completed.
func (m *PipelineMetrics) SuccessRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Processed) / float64(m.Total)
}

// Throughput derives items per second over the run window.
func (m *PipelineMetrics) Throughput() float64 {
	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(m.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.Total) / elapsed
}

// Checkpoint is the atomic restart point written every CheckpointInterval
// completed items.
type Checkpoint struct {
	PipelineName   string         `json:"pipeline_name"`
	Timestamp      time.Time      `json:"timestamp"`
	Counters       map[string]int `json:"counters"`
	ProcessedCount int            `json:"processed_count"`
}

// DataQualityMetrics scores a record across six dimensions in [0,1].
// Attached to the record's raw bag by the validation stage.
type DataQualityMetrics struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Validity     float64 `json:"validity"`
	Uniqueness   float64 `json:"uniqueness"`
	Timeliness   float64 `json:"timeliness"`
	Overall      float64 `json:"overall"`
}
