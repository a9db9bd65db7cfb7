// Package browser provides the chromedp-backed page provider. A fixed pool
// of headless browser tabs is allocated round-robin to scraping adapters.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

const defaultUserAgent = "Venari-Crawler/1.0"

// PoolConfig tunes the browser pool.
type PoolConfig struct {
	MaxInstances   int
	UserAgent      string
	Headless       bool
	NoSandbox      bool
	StartupTimeout time.Duration
}

// Pool implements interfaces.PageProvider over a set of chromedp browser
// contexts allocated round-robin.
type Pool struct {
	logger arbor.ILogger

	mu      sync.Mutex
	tabs    []context.Context
	cancels []context.CancelFunc
	next    int
	closed  bool
}

// NewPool launches cfg.MaxInstances browser instances, verifying each with
// a blank-page navigation before admitting it.
func NewPool(cfg PoolConfig, logger arbor.ILogger) (*Pool, error) {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}

	p := &Pool{logger: logger}

	for i := 0; i < cfg.MaxInstances; i++ {
		if err := p.launchInstance(cfg); err != nil {
			if len(p.tabs) == 0 {
				p.Close()
				return nil, fmt.Errorf("failed to launch any browser instance: %w", err)
			}
			logger.Warn().
				Err(err).
				Int("instance", i).
				Msg("Failed to launch browser instance, continuing with fewer")
			break
		}
	}

	logger.Info().
		Int("instances", len(p.tabs)).
		Str("user_agent", cfg.UserAgent).
		Bool("headless", cfg.Headless).
		Msg("Browser pool initialized")
	return p, nil
}

func (p *Pool) launchInstance(cfg PoolConfig) error {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	testCtx, testCancel := context.WithTimeout(tabCtx, cfg.StartupTimeout)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup probe: %w", err)
	}

	p.mu.Lock()
	p.tabs = append(p.tabs, tabCtx)
	p.cancels = append(p.cancels, tabCancel, allocCancel)
	p.mu.Unlock()
	return nil
}

// Borrow hands out the next tab round-robin. The release function is
// currently bookkeeping only; tabs are shared, not checked out exclusively.
func (p *Pool) Borrow(ctx context.Context) (interfaces.Page, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, fmt.Errorf("%w: browser pool is closed", models.ErrNetwork)
	}
	if len(p.tabs) == 0 {
		return nil, nil, fmt.Errorf("%w: no browser instances available", models.ErrNetwork)
	}

	index := p.next % len(p.tabs)
	p.next = (p.next + 1) % len(p.tabs)

	release := func() {
		p.logger.Debug().Int("instance", index).Msg("Browser tab released")
	}
	return &chromePage{tab: p.tabs[index]}, release, nil
}

// Close shuts down every browser instance.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for i := len(p.cancels) - 1; i >= 0; i-- {
		p.cancels[i]()
	}
	p.tabs = nil
	p.cancels = nil
	p.logger.Debug().Msg("Browser pool shut down")
	return nil
}
