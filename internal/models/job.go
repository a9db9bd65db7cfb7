package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SalaryPeriod is the pay period a salary range is quoted in.
type SalaryPeriod string

const (
	SalaryPeriodHourly  SalaryPeriod = "hourly"
	SalaryPeriodMonthly SalaryPeriod = "monthly"
	SalaryPeriodYearly  SalaryPeriod = "yearly"
)

// JobType classifies the employment arrangement of a posting.
type JobType string

const (
	JobTypeFullTime   JobType = "full-time"
	JobTypePartTime   JobType = "part-time"
	JobTypeContract   JobType = "contract"
	JobTypeTemporary  JobType = "temporary"
	JobTypeInternship JobType = "internship"
)

// ExperienceLevel classifies the seniority of a posting.
type ExperienceLevel string

const (
	ExperienceEntry     ExperienceLevel = "entry"
	ExperienceMid       ExperienceLevel = "mid"
	ExperienceSenior    ExperienceLevel = "senior"
	ExperienceExecutive ExperienceLevel = "executive"
)

// JobRecord is the canonical record of a single job posting as it flows
// through the pipeline. Adapters create records from search or detail
// fetches; pipeline stages normalize, enrich and score them; once stored a
// record is immutable and only removed by explicit delete.
type JobRecord struct {
	// Identity
	JobID       string `json:"job_id"`
	ExternalID  string `json:"external_id,omitempty"` // platform-local id
	Platform    string `json:"platform"`
	ContentHash string `json:"content_hash,omitempty"`

	// Descriptive
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`

	// Compensation (yearly normalized after the transformation stage)
	SalaryMin      int          `json:"salary_min,omitempty"`
	SalaryMax      int          `json:"salary_max,omitempty"`
	SalaryCurrency string       `json:"salary_currency,omitempty"` // ISO-4217
	SalaryPeriod   SalaryPeriod `json:"salary_period,omitempty"`

	// Classification
	JobType         JobType         `json:"job_type,omitempty"`
	ExperienceLevel ExperienceLevel `json:"experience_level,omitempty"`
	Remote          *bool           `json:"remote,omitempty"`

	// Temporal
	PostedDate  *time.Time `json:"posted_date,omitempty"`
	ScrapedDate *time.Time `json:"scraped_date,omitempty"`

	// Quality
	QualityScore    float64 `json:"quality_score,omitempty"`
	ConfidenceScore float64 `json:"confidence_score,omitempty"`

	// Raw holds the opaque per-platform bag, including extracted skills and
	// quality metrics attached by the validation stage.
	Raw map[string]interface{} `json:"raw,omitempty"`
}

// descriptionHashPrefix bounds how much of the description participates in
// the content hash so trailing boilerplate does not defeat dedup.
const descriptionHashPrefix = 500

// ComputeContentHash returns the md5 digest over the record's salient
// fields (title|company|location|description prefix). Stable across runs
// for identical content.
func (j *JobRecord) ComputeContentHash() string {
	desc := j.Description
	if len(desc) > descriptionHashPrefix {
		desc = desc[:descriptionHashPrefix]
	}
	payload := strings.Join([]string{j.Title, j.Company, j.Location, desc}, "|")
	sum := md5.Sum([]byte(strings.ToLower(payload)))
	return hex.EncodeToString(sum[:])
}

// CanonicalJobID derives a stable job id from the platform tag and URL,
// falling back to the external id when no URL is present.
func CanonicalJobID(platform, rawURL, externalID string) string {
	base := rawURL
	if base == "" {
		base = externalID
	}
	sum := md5.Sum([]byte(platform + "|" + base))
	return fmt.Sprintf("%s_%s", platform, hex.EncodeToString(sum[:])[:16])
}

// EnsureIdentity fills JobID and ContentHash when missing. Called by the
// validation stage so every record surviving the pipeline carries both.
func (j *JobRecord) EnsureIdentity() {
	if j.JobID == "" {
		j.JobID = CanonicalJobID(j.Platform, j.URL, j.ExternalID)
	}
	if j.ContentHash == "" {
		j.ContentHash = j.ComputeContentHash()
	}
}

// SetRaw stores a value into the raw bag, allocating it on first use.
func (j *JobRecord) SetRaw(key string, value interface{}) {
	if j.Raw == nil {
		j.Raw = make(map[string]interface{})
	}
	j.Raw[key] = value
}

// Clone returns a deep-enough copy for pipeline mutation: scalar fields are
// copied, the raw bag is shallow-copied one level.
func (j *JobRecord) Clone() *JobRecord {
	out := *j
	if j.Raw != nil {
		out.Raw = make(map[string]interface{}, len(j.Raw))
		for k, v := range j.Raw {
			out.Raw[k] = v
		}
	}
	return &out
}

// NormalizeJobType maps free-form platform strings onto the JobType
// enumeration. Unrecognized values return the empty type.
func NormalizeJobType(s string) JobType {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", "-"))) {
	case "full-time", "fulltime", "full time", "permanent":
		return JobTypeFullTime
	case "part-time", "parttime", "part time", "casual":
		return JobTypePartTime
	case "contract", "contractor", "fixed-term", "fixed term":
		return JobTypeContract
	case "temporary", "temp":
		return JobTypeTemporary
	case "internship", "intern", "graduate":
		return JobTypeInternship
	}
	return ""
}

// NormalizeExperienceLevel maps free-form platform strings onto the
// ExperienceLevel enumeration.
func NormalizeExperienceLevel(s string) ExperienceLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "entry", "entry-level", "entry level", "junior", "graduate":
		return ExperienceEntry
	case "mid", "mid-level", "mid level", "intermediate", "associate":
		return ExperienceMid
	case "senior", "senior-level", "senior level", "lead", "principal", "staff":
		return ExperienceSenior
	case "executive", "director", "vp", "c-level", "head":
		return ExperienceExecutive
	}
	return ""
}
