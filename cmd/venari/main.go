package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/blob"
	"github.com/ternarybob/venari/internal/browser"
	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/costs"
	"github.com/ternarybob/venari/internal/engine"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/llm"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/pipeline"
	"github.com/ternarybob/venari/internal/platforms"
	"github.com/ternarybob/venari/internal/scheduler"
	"github.com/ternarybob/venari/internal/storage"
)

var (
	configPath    = flag.String("config", "", "Configuration file path (TOML)")
	query         = flag.String("query", "", "Search query; runs one search and exits")
	location      = flag.String("location", "", "Search location")
	platformNames = flag.String("platforms", "", "Comma-separated platform list (empty = auto-select)")
	maxResults    = flag.Int("max", 50, "Maximum results per search")
	serve         = flag.Bool("serve", false, "Keep running the maintenance loop after startup")
	showVersion   = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Venari version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := common.InitLogger(cfg)
	common.PrintBanner(common.GetVersion())

	eng, shutdown, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build crawler engine")
	}
	defer shutdown()

	if err := eng.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start crawler engine")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := eng.Cleanup(ctx); err != nil {
			logger.Warn().Err(err).Msg("Engine cleanup reported an error")
		}
	}()

	if *query != "" {
		if err := runSearch(eng, logger); err != nil {
			logger.Error().Err(err).Msg("Search failed")
			os.Exit(1)
		}
		if !*serve {
			return
		}
	}

	if !*serve {
		flag.Usage()
		return
	}

	logger.Info().Msg("Running; press Ctrl+C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("Shutting down")
}

func runSearch(eng *engine.Engine, logger arbor.ILogger) error {
	req := &models.SearchRequest{
		Query:      *query,
		Location:   *location,
		MaxResults: *maxResults,
	}
	if *platformNames != "" {
		for _, name := range strings.Split(*platformNames, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.Platforms = append(req.Platforms, name)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	progress := make(chan engine.Progress, 64)
	go func() {
		for update := range progress {
			logger.Info().
				Str("stage", string(update.Stage)).
				Float64("percent", update.Percent).
				Msg(update.Message)
		}
	}()

	result, err := eng.SearchWithProgress(ctx, req, progress)
	close(progress)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// buildEngine wires storage, blobs, the model client, the browser pool, the
// platform registry, scheduler, cost tracker and pipeline into an engine.
// The returned shutdown function releases the resources the engine does not
// own itself.
func buildEngine(cfg *common.Config, logger arbor.ILogger) (*engine.Engine, func(), error) {
	var closers []func()
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	backend, err := storage.NewFromConfig(cfg.Storage, logger)
	if err != nil {
		return nil, shutdown, err
	}

	blobs, err := blob.NewLocalStore(cfg.Blob.Dir, logger)
	if err != nil {
		return nil, shutdown, err
	}

	tracker, err := costs.NewTracker(cfg.Costs.JournalPath, costs.Limits{
		Hourly:  cfg.Costs.HourlyLimit,
		Daily:   cfg.Costs.DailyLimit,
		Monthly: cfg.Costs.MonthlyLimit,
	}, cfg.Costs.DefaultModel, logger)
	if err != nil {
		return nil, shutdown, err
	}

	var model interfaces.ModelClient
	if cfg.LLM.APIKey != "" {
		model, err = llm.NewFromConfig(context.Background(), cfg.LLM, logger)
		if err != nil {
			return nil, shutdown, err
		}
	} else {
		logger.Info().Msg("No model API key configured; vision and query analysis disabled")
	}

	var pages interfaces.PageProvider
	if cfg.Browser.Enabled {
		pool, err := browser.NewPool(browser.PoolConfig{
			MaxInstances:   cfg.Browser.MaxInstances,
			UserAgent:      cfg.Browser.UserAgent,
			Headless:       cfg.Browser.Headless,
			NoSandbox:      cfg.Browser.NoSandbox,
			StartupTimeout: cfg.Browser.StartupTimeout,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Browser pool unavailable, falling back to HTTP fetches")
		} else {
			pages = pool
			closers = append(closers, func() { _ = pool.Close() })
		}
	}

	registry, err := buildRegistry(cfg, platforms.Deps{
		Pages:   pages,
		Model:   model,
		Tracker: tracker,
		Logger:  logger,
	})
	if err != nil {
		return nil, shutdown, err
	}

	sched := scheduler.New(cfg.Scheduler.MaxConcurrent, logger).
		WithPollInterval(cfg.Scheduler.PollInterval)
	if cfg.Scheduler.HistoryPath != "" {
		history, err := scheduler.OpenHistory(cfg.Scheduler.HistoryPath)
		if err != nil {
			return nil, shutdown, err
		}
		closers = append(closers, func() { _ = history.Close() })
		sched = sched.WithHistory(history)
	}

	stages := []pipeline.Stage{
		&pipeline.ValidationStage{},
		&pipeline.CleaningStage{},
		&pipeline.TransformationStage{},
		&pipeline.EnrichmentStage{},
		pipeline.NewDeduplicationStage(cfg.Pipeline.SimilarityThreshold),
		&pipeline.StorageStage{Backend: backend},
		&pipeline.ExportStage{
			Dir:          cfg.Pipeline.ExportDir,
			Format:       cfg.Pipeline.ExportFormat,
			MaxFileBytes: cfg.Pipeline.MaxFileSizeBytes,
		},
	}
	pl := pipeline.New("etl", cfg.Pipeline, stages, logger)

	eng, err := engine.New(engine.Options{
		Config:    cfg.Engine,
		Registry:  registry,
		Scheduler: sched,
		Pipeline:  pl,
		Storage:   backend,
		Tracker:   tracker,
		Model:     model,
		Blobs:     blobs,
		Logger:    logger,
	})
	if err != nil {
		return nil, shutdown, err
	}
	return eng, shutdown, nil
}

// buildRegistry registers every configured adapter, defaulting to the three
// built-in platforms when the config names none.
func buildRegistry(cfg *common.Config, deps platforms.Deps) (*platforms.Registry, error) {
	registry := platforms.NewRegistry(deps.Logger)

	adapterCfgs := cfg.Platforms.Adapters
	if len(adapterCfgs) == 0 {
		adapterCfgs = map[string]common.AdapterConfig{
			"indeed":   {Enabled: true},
			"linkedin": {Enabled: true},
			"seek":     {Enabled: true},
		}
	}

	for name, ac := range adapterCfgs {
		if !ac.Enabled {
			continue
		}
		ac = common.AdapterDefaults(ac)

		var (
			adapter *platforms.Adapter
			err     error
		)
		switch name {
		case "indeed":
			adapter, err = platforms.NewIndeedAdapter(ac, cfg.Platforms.SelectorsDir, deps)
		case "linkedin":
			adapter, err = platforms.NewLinkedInAdapter(ac, cfg.Platforms.SelectorsDir, deps)
		case "seek":
			adapter, err = platforms.NewSeekAdapter(ac, cfg.Platforms.SelectorsDir, deps)
		default:
			return nil, models.ValidationError("unknown platform %q in configuration", name)
		}
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	return registry, nil
}
