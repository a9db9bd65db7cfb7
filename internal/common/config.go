package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration. Every numeric threshold
// in the core (budgets, limits, delays, batch sizes, TTLs) is settable here;
// zero values are replaced by the documented defaults in applyDefaults.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig   `toml:"logging"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Costs       CostsConfig     `toml:"costs"`
	Storage     StorageConfig   `toml:"storage"`
	Platforms   PlatformsConfig `toml:"platforms"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Engine      EngineConfig    `toml:"engine"`
	LLM         LLMConfig       `toml:"llm"`
	Blob        BlobConfig      `toml:"blob"`
	Browser     BrowserConfig   `toml:"browser"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type SchedulerConfig struct {
	MaxConcurrent int           `toml:"max_concurrent" validate:"min=1"`
	PollInterval  time.Duration `toml:"poll_interval"`
	HistoryPath   string        `toml:"history_path"` // badger dir for the task journal; empty disables
}

type CostsConfig struct {
	JournalPath  string  `toml:"journal_path"`
	HourlyLimit  float64 `toml:"hourly_limit" validate:"min=0"`
	DailyLimit   float64 `toml:"daily_limit" validate:"min=0"`
	MonthlyLimit float64 `toml:"monthly_limit" validate:"min=0"`
	DefaultModel string  `toml:"default_model"`
}

type StorageConfig struct {
	Backend string       `toml:"backend"` // "sqlite", "file", "memory", "hybrid"
	SQLite  SQLiteConfig `toml:"sqlite"`
	File    FileConfig   `toml:"file"`
	Cache   CacheConfig  `toml:"cache"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

type FileConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"` // "json" or "csv"
}

type CacheConfig struct {
	MaxSize      int           `toml:"max_size" validate:"min=1"`
	Policy       string        `toml:"policy"` // "lru", "lfu", "fifo", "ttl"
	TTL          time.Duration `toml:"ttl"`
	SweepEnabled bool          `toml:"sweep_enabled"`
}

type PlatformsConfig struct {
	SelectorsDir string                   `toml:"selectors_dir"` // YAML selector tables
	Adapters     map[string]AdapterConfig `toml:"adapters"`
}

// AdapterConfig carries per-platform tuning. Selector and URL tables are
// data configuration loaded from SelectorsDir, never code.
type AdapterConfig struct {
	Enabled             bool          `toml:"enabled"`
	Priority            int           `toml:"priority"`
	RateLimitPerMinute  int           `toml:"rate_limit_per_minute"`
	MinDelay            time.Duration `toml:"min_delay"`
	MaxDelay            time.Duration `toml:"max_delay"`
	MaxResultsPerPage   int           `toml:"max_results_per_page"`
	APIKey              string        `toml:"api_key"`
	OAuthClientID       string        `toml:"oauth_client_id"`
	OAuthClientSecret   string        `toml:"oauth_client_secret"`
	OAuthTokenURL       string        `toml:"oauth_token_url"`
	VisionFallbackAfter int           `toml:"vision_fallback_after"` // consecutive parse failures before HYBRID falls back to vision
}

type PipelineConfig struct {
	BatchSize           int           `toml:"batch_size" validate:"min=1"`
	MaxWorkers          int           `toml:"max_workers" validate:"min=1"`
	ParallelEnabled     bool          `toml:"parallel_enabled"`
	CheckpointInterval  int           `toml:"checkpoint_interval"`
	CheckpointPath      string        `toml:"checkpoint_path"`
	SimilarityThreshold float64       `toml:"similarity_threshold" validate:"min=0,max=1"`
	ExportDir           string        `toml:"export_dir"`
	ExportFormat        string        `toml:"export_format"` // csv, json, excel, html, pdf
	MaxFileSizeBytes    int64         `toml:"max_file_size_bytes"`
	StageTimeout        time.Duration `toml:"stage_timeout"`
}

type EngineConfig struct {
	DefaultMethod     string `toml:"default_method"` // scraping, vision, hybrid, api
	MaxPlatforms      int    `toml:"max_platforms"`
	FanOutConcurrency int    `toml:"fan_out_concurrency"`
	MaintenanceCron   string `toml:"maintenance_cron"` // health checks + cache sweep schedule
	AnalyzeQueries    bool   `toml:"analyze_queries"`  // optional model call before platform selection
}

type LLMConfig struct {
	Provider    string  `toml:"provider"` // "claude" or "gemini"
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	Timeout     string  `toml:"timeout"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

type BlobConfig struct {
	Dir string `toml:"dir"` // local filesystem fallback root
}

// BrowserConfig tunes the chromedp page pool. Disabled skips browser
// startup entirely; adapters then fall back to plain HTTP fetches.
type BrowserConfig struct {
	Enabled        bool          `toml:"enabled"`
	MaxInstances   int           `toml:"max_instances"`
	UserAgent      string        `toml:"user_agent"`
	Headless       bool          `toml:"headless"`
	NoSandbox      bool          `toml:"no_sandbox"`
	StartupTimeout time.Duration `toml:"startup_timeout"`
}

// LoadConfig reads the TOML config file, applies VENARI_* environment
// overrides, fills defaults and validates.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a config with all defaults applied and no file read.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VENARI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VENARI_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("VENARI_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("VENARI_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("VENARI_DAILY_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Costs.DailyLimit = f
		}
	}
	if v := os.Getenv("VENARI_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxConcurrent = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if len(cfg.Logging.Output) == 0 {
		cfg.Logging.Output = []string{"stdout"}
	}

	if cfg.Scheduler.MaxConcurrent == 0 {
		cfg.Scheduler.MaxConcurrent = 5
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 100 * time.Millisecond
	}

	if cfg.Costs.JournalPath == "" {
		cfg.Costs.JournalPath = "./data/cost_journal.json"
	}
	if cfg.Costs.HourlyLimit == 0 {
		cfg.Costs.HourlyLimit = 1.0
	}
	if cfg.Costs.DailyLimit == 0 {
		cfg.Costs.DailyLimit = 10.0
	}
	if cfg.Costs.MonthlyLimit == 0 {
		cfg.Costs.MonthlyLimit = 100.0
	}
	if cfg.Costs.DefaultModel == "" {
		cfg.Costs.DefaultModel = "claude-sonnet-4-20250514"
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./data/venari.db"
	}
	if cfg.Storage.File.Path == "" {
		cfg.Storage.File.Path = "./data/jobs.json"
	}
	if cfg.Storage.File.Format == "" {
		cfg.Storage.File.Format = "json"
	}
	if cfg.Storage.Cache.MaxSize == 0 {
		cfg.Storage.Cache.MaxSize = 1000
	}
	if cfg.Storage.Cache.Policy == "" {
		cfg.Storage.Cache.Policy = "lru"
	}
	if cfg.Storage.Cache.TTL == 0 {
		cfg.Storage.Cache.TTL = time.Hour
	}

	if cfg.Platforms.Adapters == nil {
		cfg.Platforms.Adapters = make(map[string]AdapterConfig)
	}

	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 50
	}
	if cfg.Pipeline.MaxWorkers == 0 {
		cfg.Pipeline.MaxWorkers = 4
	}
	if cfg.Pipeline.CheckpointInterval == 0 {
		cfg.Pipeline.CheckpointInterval = 100
	}
	if cfg.Pipeline.CheckpointPath == "" {
		cfg.Pipeline.CheckpointPath = "./data/pipeline_checkpoint.json"
	}
	if cfg.Pipeline.SimilarityThreshold == 0 {
		cfg.Pipeline.SimilarityThreshold = 0.85
	}
	if cfg.Pipeline.ExportDir == "" {
		cfg.Pipeline.ExportDir = "./exports"
	}
	if cfg.Pipeline.ExportFormat == "" {
		cfg.Pipeline.ExportFormat = "csv"
	}
	if cfg.Pipeline.MaxFileSizeBytes == 0 {
		cfg.Pipeline.MaxFileSizeBytes = 50 * 1024 * 1024
	}

	if cfg.Engine.DefaultMethod == "" {
		cfg.Engine.DefaultMethod = "scraping"
	}
	if cfg.Engine.MaxPlatforms == 0 {
		cfg.Engine.MaxPlatforms = 3
	}
	if cfg.Engine.FanOutConcurrency == 0 {
		cfg.Engine.FanOutConcurrency = 3
	}
	if cfg.Engine.MaintenanceCron == "" {
		cfg.Engine.MaintenanceCron = "@every 5m"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "claude"
	}
	if cfg.LLM.Timeout == "" {
		cfg.LLM.Timeout = "60s"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}

	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = "./data/blobs"
	}

	if cfg.Browser.MaxInstances == 0 {
		cfg.Browser.MaxInstances = 2
	}
	if cfg.Browser.StartupTimeout == 0 {
		cfg.Browser.StartupTimeout = 30 * time.Second
	}
}

// AdapterDefaults fills zero fields of an adapter config with conservative
// scraping-safe values.
func AdapterDefaults(c AdapterConfig) AdapterConfig {
	if c.Priority == 0 {
		c.Priority = 1
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 20
	}
	if c.MinDelay == 0 {
		c.MinDelay = 2 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.MaxResultsPerPage == 0 {
		c.MaxResultsPerPage = 50
	}
	if c.VisionFallbackAfter == 0 {
		c.VisionFallbackAfter = 3
	}
	return c
}

// ParseDurationOr parses a duration string, returning the fallback on error.
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return d
}
