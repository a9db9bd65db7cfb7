// Package sqlite implements the relational job storage backend over
// modernc.org/sqlite. Writes serialize through a process-wide mutex; the
// WAL journal keeps readers unblocked.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/storage/query"
)

// JobStorage persists job records in a single jobs table, upserting on the
// canonical job_id.
type JobStorage struct {
	db     *DB
	logger arbor.ILogger

	writeMu sync.Mutex

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// NewJobStorage opens the database at path and prepares the schema.
func NewJobStorage(path string, logger arbor.ILogger) (*JobStorage, error) {
	db, err := NewDB(path, logger)
	if err != nil {
		return nil, err
	}
	return &JobStorage{db: db, logger: logger}, nil
}

// Initialize is a no-op; NewJobStorage already migrated the schema.
func (s *JobStorage) Initialize(ctx context.Context) error {
	return nil
}

const upsertSQL = `
INSERT INTO jobs (
	job_id, external_id, platform, content_hash,
	title, company, location, description, url,
	salary_min, salary_max, salary_currency, salary_period,
	job_type, experience_level, remote,
	posted_date, scraped_date, quality_score, confidence_score, raw
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	external_id = excluded.external_id,
	platform = excluded.platform,
	content_hash = excluded.content_hash,
	title = excluded.title,
	company = excluded.company,
	location = excluded.location,
	description = excluded.description,
	url = excluded.url,
	salary_min = excluded.salary_min,
	salary_max = excluded.salary_max,
	salary_currency = excluded.salary_currency,
	salary_period = excluded.salary_period,
	job_type = excluded.job_type,
	experience_level = excluded.experience_level,
	remote = excluded.remote,
	posted_date = excluded.posted_date,
	scraped_date = excluded.scraped_date,
	quality_score = excluded.quality_score,
	confidence_score = excluded.confidence_score,
	raw = excluded.raw`

// Store upserts records on job_id. Records without a job_id are rejected.
func (s *JobStorage) Store(ctx context.Context, records ...*models.JobRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin store transaction: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare upsert: %v", models.ErrStorage, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.JobID == "" {
			return models.ValidationError("cannot store job record without job_id (title=%q)", rec.Title)
		}

		rawJSON, err := marshalRaw(rec.Raw)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx,
			rec.JobID, rec.ExternalID, rec.Platform, rec.ContentHash,
			rec.Title, rec.Company, rec.Location, rec.Description, rec.URL,
			rec.SalaryMin, rec.SalaryMax, rec.SalaryCurrency, string(rec.SalaryPeriod),
			string(rec.JobType), string(rec.ExperienceLevel), nullBool(rec.Remote),
			nullTime(rec.PostedDate), nullTime(rec.ScrapedDate),
			rec.QualityScore, rec.ConfidenceScore, rawJSON,
		); err != nil {
			return fmt.Errorf("%w: failed to upsert job %s: %v", models.ErrStorage, rec.JobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit store transaction: %v", models.ErrStorage, err)
	}

	s.sets.Add(int64(len(records)))
	s.logger.Debug().Int("count", len(records)).Msg("Stored job records")
	return nil
}

// Retrieve returns records matching the query, newest scraped first.
// Identifier equality filters are pushed into SQL; the remaining operators
// apply in memory so all backends share one filter semantics.
func (s *JobStorage) Retrieve(ctx context.Context, q interfaces.Query) ([]*models.JobRecord, error) {
	records, err := s.selectRecords(ctx, q)
	if err != nil {
		return nil, err
	}

	matched := query.Filter(records, q)
	query.SortByScrapedDesc(matched)

	if len(matched) > 0 {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return matched, nil
}

// Update applies the patch to every record matching the query, returning
// the count of records changed.
func (s *JobStorage) Update(ctx context.Context, q interfaces.Query, patch map[string]interface{}) (int, error) {
	matched, err := s.Retrieve(ctx, q)
	if err != nil {
		return 0, err
	}

	var changed []*models.JobRecord
	for _, rec := range matched {
		if query.ApplyPatch(rec, patch) {
			changed = append(changed, rec)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	if err := s.Store(ctx, changed...); err != nil {
		return 0, err
	}
	return len(changed), nil
}

// Delete removes records matching the query, returning the count removed.
func (s *JobStorage) Delete(ctx context.Context, q interfaces.Query) (int, error) {
	matched, err := s.Retrieve(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids := make([]interface{}, len(matched))
	marks := make([]string, len(matched))
	for i, rec := range matched {
		ids[i] = rec.JobID
		marks[i] = "?"
	}

	res, err := s.db.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM jobs WHERE job_id IN (%s)", strings.Join(marks, ",")), ids...)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete jobs: %v", models.ErrStorage, err)
	}

	affected, _ := res.RowsAffected()
	s.deletes.Add(affected)
	return int(affected), nil
}

// Count returns the number of records matching the query.
func (s *JobStorage) Count(ctx context.Context, q interfaces.Query) (int, error) {
	records, err := s.selectRecords(ctx, q)
	if err != nil {
		return 0, err
	}
	stripped := stripLimit(q)
	n := 0
	for _, rec := range records {
		if query.Matches(rec, stripped) {
			n++
		}
	}
	return n, nil
}

// Exists reports whether any record matches the query.
func (s *JobStorage) Exists(ctx context.Context, q interfaces.Query) (bool, error) {
	n, err := s.Count(ctx, q)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns the operation counters.
func (s *JobStorage) Stats() interfaces.StorageStats {
	return interfaces.StorageStats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
	}
}

// Cleanup closes the underlying database.
func (s *JobStorage) Cleanup(ctx context.Context) error {
	return s.db.Close()
}

// sqlPushdownFields are identifier columns whose equality filters narrow
// the scan at the SQL layer.
var sqlPushdownFields = []string{"job_id", "external_id", "platform", "content_hash"}

func (s *JobStorage) selectRecords(ctx context.Context, q interfaces.Query) ([]*models.JobRecord, error) {
	sqlQuery := `SELECT job_id, external_id, platform, content_hash,
		title, company, location, description, url,
		salary_min, salary_max, salary_currency, salary_period,
		job_type, experience_level, remote,
		posted_date, scraped_date, quality_score, confidence_score, raw
	FROM jobs`

	var clauses []string
	var args []interface{}
	for _, field := range sqlPushdownFields {
		if v, ok := q[field].(string); ok {
			clauses = append(clauses, field+" = ?")
			args = append(args, v)
		}
	}
	if len(clauses) > 0 {
		sqlQuery += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query jobs: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var records []*models.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan jobs: %v", models.ErrStorage, err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (*models.JobRecord, error) {
	var (
		rec                     models.JobRecord
		salaryPeriod, jobType   string
		experienceLevel         string
		remote                  sql.NullInt64
		postedDate, scrapedDate sql.NullInt64
		rawJSON                 sql.NullString
	)

	if err := rows.Scan(
		&rec.JobID, &rec.ExternalID, &rec.Platform, &rec.ContentHash,
		&rec.Title, &rec.Company, &rec.Location, &rec.Description, &rec.URL,
		&rec.SalaryMin, &rec.SalaryMax, &rec.SalaryCurrency, &salaryPeriod,
		&jobType, &experienceLevel, &remote,
		&postedDate, &scrapedDate, &rec.QualityScore, &rec.ConfidenceScore, &rawJSON,
	); err != nil {
		return nil, fmt.Errorf("%w: failed to scan job row: %v", models.ErrStorage, err)
	}

	rec.SalaryPeriod = models.SalaryPeriod(salaryPeriod)
	rec.JobType = models.JobType(jobType)
	rec.ExperienceLevel = models.ExperienceLevel(experienceLevel)
	if remote.Valid {
		v := remote.Int64 != 0
		rec.Remote = &v
	}
	if postedDate.Valid {
		t := time.Unix(postedDate.Int64, 0).UTC()
		rec.PostedDate = &t
	}
	if scrapedDate.Valid {
		t := time.Unix(scrapedDate.Int64, 0).UTC()
		rec.ScrapedDate = &t
	}
	if rawJSON.Valid && rawJSON.String != "" {
		if err := json.Unmarshal([]byte(rawJSON.String), &rec.Raw); err != nil {
			return nil, fmt.Errorf("%w: failed to parse raw payload for %s: %v", models.ErrStorage, rec.JobID, err)
		}
	}
	return &rec, nil
}

func stripLimit(q interfaces.Query) interfaces.Query {
	if _, ok := q["limit"]; !ok {
		return q
	}
	out := make(interfaces.Query, len(q))
	for k, v := range q {
		if k != "limit" {
			out[k] = v
		}
	}
	return out
}

func marshalRaw(raw map[string]interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serialize raw payload: %v", models.ErrStorage, err)
	}
	return string(data), nil
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	if *b {
		return int64(1)
	}
	return int64(0)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
