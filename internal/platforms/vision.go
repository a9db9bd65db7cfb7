package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

// visionPrompt instructs the model to emit a strict JSON array so the
// response parses without heuristics.
const visionPrompt = `You are extracting job listings from a screenshot of a job search results page.
Return ONLY a JSON array, no prose. Each element:
{"title": "...", "company": "...", "location": "...", "salary_text": "...", "url": "...", "job_type": "...", "description": "..."}
Use empty strings for fields not visible. Include every distinct job listing you can see.`

// visionEstimateTokens are the rough token counts used for the budget gate
// before a vision call.
const (
	visionEstimateIn  = 1600
	visionEstimateOut = 1200
)

// searchVision screenshots the results page and has the model read it.
// Gated on the cost tracker; refusal surfaces as ErrBudgetExceeded.
func (a *Adapter) searchVision(ctx context.Context, req *models.SearchRequest) (*models.SearchResult, error) {
	if a.model == nil {
		return nil, fmt.Errorf("%w: %s has no model client for vision", models.ErrValidation, a.name)
	}
	if a.pages == nil {
		return nil, fmt.Errorf("%w: %s has no browser pool for vision", models.ErrValidation, a.name)
	}

	searchURL, err := a.BuildSearchURL(req)
	if err != nil {
		return nil, err
	}

	if a.tracker != nil {
		estimate := a.tracker.Estimate(a.model.ModelName(), 0, true, visionEstimateIn, visionEstimateOut)
		if status := a.tracker.CheckLimits(estimate); !status.OK() {
			return nil, fmt.Errorf("%w: vision call (est $%.4f) would exceed budget", models.ErrBudgetExceeded, estimate)
		}
	}

	page, release, err := a.pages.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := page.Goto(ctx, searchURL); err != nil {
		return nil, err
	}
	if a.table.Search.JobCard != "" {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = page.WaitForSelector(waitCtx, a.table.Search.JobCard)
		cancel()
	}
	screenshot, err := page.Screenshot(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := a.model.VisionAnalyze(ctx, screenshot, visionPrompt)
	a.recordModelUsage(resp, "vision_analysis", err)
	if err != nil {
		return nil, err
	}

	records, err := parseVisionResponse(resp.Text, a.table.Platform)
	if err != nil {
		return nil, err
	}

	return &models.SearchResult{
		Jobs:   truncateRecords(records, req.MaxResults),
		Method: models.MethodVision,
	}, nil
}

func (a *Adapter) recordModelUsage(resp *interfaces.ModelResponse, requestType string, callErr error) {
	if a.tracker == nil {
		return
	}
	rec := models.UsageRecord{
		Model:       a.model.ModelName(),
		RequestType: requestType,
		Platform:    a.name,
		Success:     callErr == nil,
	}
	if callErr != nil {
		rec.ErrorMessage = callErr.Error()
	}
	if resp != nil {
		rec.Tokens = resp.TokensIn + resp.TokensOut
		rec.CostUSD = a.tracker.Estimate(resp.Model, 0, requestType == "vision_analysis", resp.TokensIn, resp.TokensOut)
	}
	a.tracker.Record(rec)
}

// visionJob is the JSON shape the prompt asks for.
type visionJob struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	SalaryText  string `json:"salary_text"`
	URL         string `json:"url"`
	JobType     string `json:"job_type"`
	Description string `json:"description"`
}

// parseVisionResponse decodes the model's JSON array, tolerating markdown
// code fences around it.
func parseVisionResponse(text, platform string) ([]*models.JobRecord, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	// Recover from leading prose by locating the array.
	if !strings.HasPrefix(trimmed, "[") {
		if start := strings.Index(trimmed, "["); start >= 0 {
			if end := strings.LastIndex(trimmed, "]"); end > start {
				trimmed = trimmed[start : end+1]
			}
		}
	}

	var jobs []visionJob
	if err := json.Unmarshal([]byte(trimmed), &jobs); err != nil {
		return nil, fmt.Errorf("%w: model response is not a job array: %v", models.ErrParse, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: model found no job listings", models.ErrParse)
	}

	records := make([]*models.JobRecord, 0, len(jobs))
	for _, j := range jobs {
		if j.Title == "" && j.Company == "" {
			continue
		}
		rec := &models.JobRecord{
			Platform:    platform,
			Title:       j.Title,
			Company:     j.Company,
			Location:    j.Location,
			URL:         j.URL,
			Description: j.Description,
		}
		if j.SalaryText != "" {
			rec.SalaryMin, rec.SalaryMax, rec.SalaryCurrency, rec.SalaryPeriod = parseSalaryText(j.SalaryText)
			rec.SetRaw("salary_text", j.SalaryText)
		}
		if j.JobType != "" {
			rec.JobType = models.NormalizeJobType(j.JobType)
		}
		rec.ConfidenceScore = 0.6 // vision reads carry less certainty than DOM parses
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: model response held no usable listings", models.ErrParse)
	}
	return records, nil
}
