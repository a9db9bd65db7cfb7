// Package query implements the shared field-filter semantics of the
// storage contract: operator suffixes, substring matching and patches.
package query

import (
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

// identifier fields match by exact equality; other string fields match by
// case-insensitive substring.
var identifierFields = map[string]bool{
	"job_id":           true,
	"external_id":      true,
	"platform":         true,
	"content_hash":     true,
	"salary_currency":  true,
	"salary_period":    true,
	"job_type":         true,
	"experience_level": true,
}

// Limit extracts the reserved "limit" key from a query, 0 meaning unbounded.
func Limit(q interfaces.Query) int {
	if q == nil {
		return 0
	}
	switch v := q["limit"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Matches reports whether a record satisfies every filter in the query.
// Keys may carry `_gte` / `_lte` suffixes for range bounds.
func Matches(rec *models.JobRecord, q interfaces.Query) bool {
	for key, want := range q {
		if key == "limit" {
			continue
		}

		field := key
		op := "eq"
		switch {
		case strings.HasSuffix(key, "_gte"):
			field = strings.TrimSuffix(key, "_gte")
			op = "gte"
		case strings.HasSuffix(key, "_lte"):
			field = strings.TrimSuffix(key, "_lte")
			op = "lte"
		}

		have, ok := fieldValue(rec, field)
		if !ok {
			return false
		}
		if !compare(have, want, op, field) {
			return false
		}
	}
	return true
}

// Filter applies a query to a record slice, honoring the limit key.
func Filter(records []*models.JobRecord, q interfaces.Query) []*models.JobRecord {
	out := make([]*models.JobRecord, 0, len(records))
	limit := Limit(q)
	for _, rec := range records {
		if Matches(rec, q) {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// ApplyPatch mutates the record's patchable fields, returning whether any
// field changed. Identity fields are not patchable.
func ApplyPatch(rec *models.JobRecord, patch map[string]interface{}) bool {
	changed := false
	for key, value := range patch {
		switch key {
		case "title":
			if s, ok := value.(string); ok && s != rec.Title {
				rec.Title = s
				changed = true
			}
		case "company":
			if s, ok := value.(string); ok && s != rec.Company {
				rec.Company = s
				changed = true
			}
		case "location":
			if s, ok := value.(string); ok && s != rec.Location {
				rec.Location = s
				changed = true
			}
		case "description":
			if s, ok := value.(string); ok && s != rec.Description {
				rec.Description = s
				changed = true
			}
		case "salary_min":
			if n, ok := toInt(value); ok && n != rec.SalaryMin {
				rec.SalaryMin = n
				changed = true
			}
		case "salary_max":
			if n, ok := toInt(value); ok && n != rec.SalaryMax {
				rec.SalaryMax = n
				changed = true
			}
		case "quality_score":
			if f, ok := toFloat(value); ok && f != rec.QualityScore {
				rec.QualityScore = f
				changed = true
			}
		case "confidence_score":
			if f, ok := toFloat(value); ok && f != rec.ConfidenceScore {
				rec.ConfidenceScore = f
				changed = true
			}
		}
	}
	return changed
}

// SortByScrapedDesc orders records newest-scraped first for stable retrieve
// output across backends.
func SortByScrapedDesc(records []*models.JobRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].ScrapedDate, records[j].ScrapedDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

func fieldValue(rec *models.JobRecord, field string) (interface{}, bool) {
	switch field {
	case "job_id":
		return rec.JobID, true
	case "external_id":
		return rec.ExternalID, true
	case "platform":
		return rec.Platform, true
	case "content_hash":
		return rec.ContentHash, true
	case "title":
		return rec.Title, true
	case "company":
		return rec.Company, true
	case "location":
		return rec.Location, true
	case "description":
		return rec.Description, true
	case "url":
		return rec.URL, true
	case "salary_min":
		return rec.SalaryMin, true
	case "salary_max":
		return rec.SalaryMax, true
	case "salary_currency":
		return rec.SalaryCurrency, true
	case "salary_period":
		return string(rec.SalaryPeriod), true
	case "job_type":
		return string(rec.JobType), true
	case "experience_level":
		return string(rec.ExperienceLevel), true
	case "remote":
		if rec.Remote == nil {
			return nil, false
		}
		return *rec.Remote, true
	case "quality_score":
		return rec.QualityScore, true
	case "posted_date":
		if rec.PostedDate == nil {
			return nil, false
		}
		return *rec.PostedDate, true
	case "scraped_date":
		if rec.ScrapedDate == nil {
			return nil, false
		}
		return *rec.ScrapedDate, true
	}
	return nil, false
}

func compare(have, want interface{}, op, field string) bool {
	// Time-valued fields compare chronologically.
	if ht, ok := have.(time.Time); ok {
		wt, ok := toTime(want)
		if !ok {
			return false
		}
		switch op {
		case "gte":
			return !ht.Before(wt)
		case "lte":
			return !ht.After(wt)
		default:
			return ht.Equal(wt)
		}
	}

	if hs, ok := have.(string); ok {
		ws, ok := want.(string)
		if !ok {
			return false
		}
		if op != "eq" {
			return false
		}
		if identifierFields[field] {
			return hs == ws
		}
		return strings.Contains(strings.ToLower(hs), strings.ToLower(ws))
	}

	if hb, ok := have.(bool); ok {
		wb, ok := want.(bool)
		return ok && hb == wb
	}

	hf, hok := toFloat(have)
	wf, wok := toFloat(want)
	if !hok || !wok {
		return false
	}
	switch op {
	case "gte":
		return hf >= wf
	case "lte":
		return hf <= wf
	default:
		return hf == wf
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, true
	case *time.Time:
		if tv == nil {
			return time.Time{}, false
		}
		return *tv, true
	case string:
		parsed, err := time.Parse(time.RFC3339, tv)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
