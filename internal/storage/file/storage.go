// Package file implements a flat-file job storage backend. Records live in
// memory keyed by job_id and every mutation rewrites the whole file, so the
// backend suits small corpora and test fixtures rather than large crawls.
package file

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/storage/query"
)

// Format selects the on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// csvHeader is the fixed column order of the CSV encoding. Readers depend
// on it; do not reorder.
var csvHeader = []string{
	"job_id", "external_id", "platform", "title", "company", "location",
	"url", "description", "salary_min", "salary_max", "salary_currency",
	"salary_period", "job_type", "experience_level", "posted_date",
	"scraped_date", "raw",
}

// Storage is the file-backed JobStorage. All operations serialize through
// one mutex; writes rewrite the file via a temp-and-rename.
type Storage struct {
	path   string
	format Format
	logger arbor.ILogger

	mu      sync.Mutex
	records map[string]*models.JobRecord

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// NewStorage creates a file storage at path. The format defaults from the
// file extension when empty.
func NewStorage(path string, format Format, logger arbor.ILogger) (*Storage, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			format = FormatCSV
		default:
			format = FormatJSON
		}
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, models.ValidationError("unsupported file storage format %q", format)
	}
	return &Storage{
		path:    path,
		format:  format,
		logger:  logger,
		records: make(map[string]*models.JobRecord),
	}, nil
}

// Initialize loads existing records from disk. A missing file is an empty
// store.
func (s *Storage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for _, rec := range records {
		s.records[rec.JobID] = rec
	}

	s.logger.Debug().
		Str("path", s.path).
		Str("format", string(s.format)).
		Int("records", len(records)).
		Msg("File storage initialized")
	return nil
}

// Store upserts records on job_id and rewrites the file.
func (s *Storage) Store(ctx context.Context, records ...*models.JobRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec.JobID == "" {
			return models.ValidationError("cannot store job record without job_id (title=%q)", rec.Title)
		}
		s.records[rec.JobID] = rec.Clone()
	}
	if err := s.flush(); err != nil {
		return err
	}
	s.sets.Add(int64(len(records)))
	return nil
}

// Retrieve returns matching records, newest scraped first.
func (s *Storage) Retrieve(ctx context.Context, q interfaces.Query) ([]*models.JobRecord, error) {
	s.mu.Lock()
	all := s.snapshot()
	s.mu.Unlock()

	query.SortByScrapedDesc(all)
	matched := query.Filter(all, q)

	if len(matched) > 0 {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return matched, nil
}

// Update patches matching records in place and rewrites the file.
func (s *Storage) Update(ctx context.Context, q interfaces.Query, patch map[string]interface{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, rec := range s.records {
		if query.Matches(rec, q) && query.ApplyPatch(rec, patch) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	return changed, nil
}

// Delete removes matching records and rewrites the file.
func (s *Storage) Delete(ctx context.Context, q interfaces.Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if query.Matches(rec, q) {
			delete(s.records, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.flush(); err != nil {
		return 0, err
	}
	s.deletes.Add(int64(removed))
	return removed, nil
}

// Count returns the number of matching records, ignoring any limit key.
func (s *Storage) Count(ctx context.Context, q interfaces.Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if query.Matches(rec, q) {
			n++
		}
	}
	return n, nil
}

// Exists reports whether any record matches the query.
func (s *Storage) Exists(ctx context.Context, q interfaces.Query) (bool, error) {
	n, err := s.Count(ctx, q)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns the operation counters.
func (s *Storage) Stats() interfaces.StorageStats {
	return interfaces.StorageStats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
	}
}

// Cleanup flushes the current state to disk.
func (s *Storage) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *Storage) snapshot() []*models.JobRecord {
	out := make([]*models.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// flush rewrites the whole file. Caller holds the mutex.
func (s *Storage) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("%w: failed to create storage directory: %v", models.ErrStorage, err)
	}

	all := s.snapshot()
	query.SortByScrapedDesc(all)

	var data []byte
	var err error
	switch s.format {
	case FormatJSON:
		data, err = json.MarshalIndent(all, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: failed to serialize job records: %v", models.ErrStorage, err)
		}
	case FormatCSV:
		data, err = encodeCSV(all)
		if err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write storage file: %v", models.ErrStorage, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: failed to commit storage file: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *Storage) load() ([]*models.JobRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to read storage file %s: %v", models.ErrStorage, s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	switch s.format {
	case FormatJSON:
		var records []*models.JobRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%w: failed to parse storage file %s: %v", models.ErrStorage, s.path, err)
		}
		return records, nil
	case FormatCSV:
		return decodeCSV(data)
	}
	return nil, nil
}

func encodeCSV(records []*models.JobRecord) ([]byte, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("%w: failed to write csv header: %v", models.ErrStorage, err)
	}
	for _, rec := range records {
		rawJSON := ""
		if rec.Raw != nil {
			data, err := json.Marshal(rec.Raw)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to serialize raw payload for %s: %v", models.ErrStorage, rec.JobID, err)
			}
			rawJSON = string(data)
		}
		row := []string{
			rec.JobID, rec.ExternalID, rec.Platform, rec.Title, rec.Company,
			rec.Location, rec.URL, rec.Description,
			strconv.Itoa(rec.SalaryMin), strconv.Itoa(rec.SalaryMax),
			rec.SalaryCurrency, string(rec.SalaryPeriod),
			string(rec.JobType), string(rec.ExperienceLevel),
			formatTime(rec.PostedDate), formatTime(rec.ScrapedDate),
			rawJSON,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("%w: failed to write csv row: %v", models.ErrStorage, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("%w: failed to flush csv: %v", models.ErrStorage, err)
	}
	return []byte(sb.String()), nil
}

func decodeCSV(data []byte) ([]*models.JobRecord, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse csv storage file: %v", models.ErrStorage, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	var records []*models.JobRecord
	for _, row := range rows[1:] {
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("%w: malformed csv row with %d columns", models.ErrStorage, len(row))
		}
		rec := &models.JobRecord{
			JobID:           row[0],
			ExternalID:      row[1],
			Platform:        row[2],
			Title:           row[3],
			Company:         row[4],
			Location:        row[5],
			URL:             row[6],
			Description:     row[7],
			SalaryCurrency:  row[10],
			SalaryPeriod:    models.SalaryPeriod(row[11]),
			JobType:         models.JobType(row[12]),
			ExperienceLevel: models.ExperienceLevel(row[13]),
		}
		rec.SalaryMin, _ = strconv.Atoi(row[8])
		rec.SalaryMax, _ = strconv.Atoi(row[9])
		rec.PostedDate = parseTime(row[14])
		rec.ScrapedDate = parseTime(row[15])
		if row[16] != "" {
			if err := json.Unmarshal([]byte(row[16]), &rec.Raw); err != nil {
				return nil, fmt.Errorf("%w: failed to parse raw payload for %s: %v", models.ErrStorage, rec.JobID, err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
