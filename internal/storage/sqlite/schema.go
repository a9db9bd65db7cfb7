package sqlite

const schemaSQL = `
-- Job postings, keyed by surrogate rowid with a unique index on the
-- canonical job_id so stores upsert.
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	external_id TEXT,
	platform TEXT NOT NULL,
	content_hash TEXT,
	title TEXT NOT NULL,
	company TEXT NOT NULL,
	location TEXT,
	description TEXT,
	url TEXT,
	salary_min INTEGER,
	salary_max INTEGER,
	salary_currency TEXT,
	salary_period TEXT,
	job_type TEXT,
	experience_level TEXT,
	remote INTEGER,
	posted_date INTEGER,
	scraped_date INTEGER,
	quality_score REAL,
	confidence_score REAL,
	raw TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_job_id ON jobs(job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_platform ON jobs(platform);
CREATE INDEX IF NOT EXISTS idx_jobs_company ON jobs(company);
CREATE INDEX IF NOT EXISTS idx_jobs_location ON jobs(location);
CREATE INDEX IF NOT EXISTS idx_jobs_posted_date ON jobs(posted_date);
`
