package platforms

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

const (
	healthInitial     = 1.0
	healthSuccessGain = 0.1
	healthFailureLoss = 0.2
	healthDisableAt   = 0.3
	homeMarketBonus   = 15.0
)

// entry pairs an adapter with its registry state.
type registryEntry struct {
	adapter *Adapter
	health  float64
	enabled bool
}

// Registry tracks the registered platform adapters, their health, and
// selects the best platforms for a request. Health drifts up on success
// and down on failure; adapters falling below the floor are auto-disabled
// until a maintenance pass or explicit Enable restores them.
type Registry struct {
	logger arbor.ILogger

	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// Register adds an adapter. Re-registering a name replaces the adapter and
// resets its health.
func (r *Registry) Register(adapter *Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[adapter.PlatformName()] = &registryEntry{
		adapter: adapter,
		health:  healthInitial,
		enabled: true,
	}
	r.logger.Info().Str("platform", adapter.PlatformName()).Msg("Platform adapter registered")
}

// Unregister removes an adapter and its health state entirely.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		delete(r.entries, name)
		r.logger.Info().Str("platform", name).Msg("Platform adapter unregistered")
	}
}

// Get returns the adapter by name, nil when absent or disabled.
func (r *Registry) Get(name string) *Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok && e.enabled {
		return e.adapter
	}
	return nil
}

// List returns all registered platform names, enabled or not, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health returns the current health score for a platform.
func (r *Registry) Health(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.health
	}
	return 0
}

// Enabled reports whether a platform is currently serving requests.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.enabled
}

// Enable re-enables a platform and restores a workable health score.
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.enabled = true
		if e.health < healthDisableAt {
			e.health = healthDisableAt + healthSuccessGain
		}
	}
}

// Disable takes a platform out of rotation.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.enabled = false
	}
}

// ReportSuccess nudges health up.
func (r *Registry) ReportSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.health += healthSuccessGain
		if e.health > 1.0 {
			e.health = 1.0
		}
	}
}

// ReportFailure drops health and auto-disables below the floor.
func (r *Registry) ReportFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.health -= healthFailureLoss
	if e.health < 0 {
		e.health = 0
	}
	if e.health < healthDisableAt && e.enabled {
		e.enabled = false
		r.logger.Warn().
			Str("platform", name).
			Float64("health", e.health).
			Msg("Platform auto-disabled after repeated failures")
	}
}

// rankedLocked returns enabled adapters passing keep, ordered by priority
// descending, then health descending, then name. Caller holds at least the
// read lock.
func (r *Registry) rankedLocked(keep func(*registryEntry) bool) []*Adapter {
	type ranked struct {
		adapter *Adapter
		health  float64
	}
	var matches []ranked
	for _, e := range r.entries {
		if !e.enabled || !keep(e) {
			continue
		}
		matches = append(matches, ranked{e.adapter, e.health})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].adapter.Priority() != matches[j].adapter.Priority() {
			return matches[i].adapter.Priority() > matches[j].adapter.Priority()
		}
		if matches[i].health != matches[j].health {
			return matches[i].health > matches[j].health
		}
		return matches[i].adapter.PlatformName() < matches[j].adapter.PlatformName()
	})

	adapters := make([]*Adapter, len(matches))
	for i, m := range matches {
		adapters[i] = m.adapter
	}
	return adapters
}

// ByCapability returns the enabled adapters supporting the capability,
// best first (priority desc, health desc).
func (r *Registry) ByCapability(c models.Capability) []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rankedLocked(func(e *registryEntry) bool {
		return e.adapter.supportsCapability(c)
	})
}

// ByMethod returns the enabled adapters supporting the acquisition method,
// best first (priority desc, health desc).
func (r *Registry) ByMethod(m models.Method) []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rankedLocked(func(e *registryEntry) bool {
		return e.adapter.supportsMethod(m)
	})
}

// HealthCheck runs a live check against the named platforms (all registered
// when none are named, disabled ones included so maintenance can restore
// them) and feeds the outcomes into the health scores. Returns the
// per-platform error, nil for healthy.
func (r *Registry) HealthCheck(ctx context.Context, names ...string) map[string]error {
	if len(names) == 0 {
		names = r.List()
	}

	out := make(map[string]error, len(names))
	for _, name := range names {
		r.mu.RLock()
		e, ok := r.entries[name]
		r.mu.RUnlock()
		if !ok {
			out[name] = models.ValidationError("platform %q is not registered", name)
			continue
		}

		err := e.adapter.HealthCheck(ctx)
		out[name] = err
		if err != nil {
			r.ReportFailure(name)
			r.logger.Warn().Str("platform", name).Err(err).Msg("Platform health check failed")
			continue
		}
		r.ReportSuccess(name)
	}
	return out
}

// score ranks an adapter for a request: configured priority, current
// health, historical success rate, method breadth, plus a bonus when the
// request's location falls in the platform's home market.
func score(e *registryEntry, req *models.SearchRequest) float64 {
	a := e.adapter
	s := 10*float64(a.Priority()) +
		20*e.health +
		30*a.Stats().SuccessRate() +
		5*float64(len(a.SupportedMethods()))

	if req != nil && req.Location != "" {
		location := strings.ToLower(req.Location)
		for _, market := range a.homeMarkets {
			if strings.Contains(location, market) {
				s += homeMarketBonus
				break
			}
		}
	}
	return s
}

// SelectBest returns up to max enabled adapters supporting the capability,
// best first. A non-empty req.Platforms restricts the candidate set; an
// empty capability means any adapter qualifies.
func (r *Registry) SelectBest(req *models.SearchRequest, capability models.Capability, max int) []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requested := make(map[string]bool, len(req.Platforms))
	for _, name := range req.Platforms {
		requested[name] = true
	}

	type scored struct {
		adapter *Adapter
		value   float64
	}
	var candidates []scored
	for name, e := range r.entries {
		if !e.enabled {
			continue
		}
		if len(requested) > 0 && !requested[name] {
			continue
		}
		if capability != "" && !e.adapter.supportsCapability(capability) {
			continue
		}
		candidates = append(candidates, scored{e.adapter, score(e, req)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].value != candidates[j].value {
			return candidates[i].value > candidates[j].value
		}
		return candidates[i].adapter.PlatformName() < candidates[j].adapter.PlatformName()
	})

	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	adapters := make([]*Adapter, len(candidates))
	for i, c := range candidates {
		adapters[i] = c.adapter
	}
	return adapters
}

// SearchMultiple fans the request out across adapters with bounded
// concurrency and returns the per-platform results keyed by platform name.
// Individual platform failures come back as failed results, never raised.
func (r *Registry) SearchMultiple(ctx context.Context, adapters []*Adapter, req *models.SearchRequest, method models.Method, concurrency int) map[string]*models.SearchResult {
	if concurrency <= 0 {
		concurrency = 3
	}

	type outcome struct {
		platform string
		result   *models.SearchResult
		err      error
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan outcome, len(adapters))
	var wg sync.WaitGroup

	for _, adapter := range adapters {
		wg.Add(1)
		go func(a *Adapter) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- outcome{platform: a.PlatformName(), err: ctx.Err()}
				return
			}
			res, err := a.SearchJobs(ctx, req, method)
			results <- outcome{platform: a.PlatformName(), result: res, err: err}
		}(adapter)
	}
	wg.Wait()
	close(results)

	byPlatform := make(map[string]*models.SearchResult, len(adapters))
	for out := range results {
		if out.err != nil || out.result == nil || !out.result.Success {
			result := out.result
			if result == nil {
				result = models.FailedSearchResult(out.platform, method, out.err)
			}
			byPlatform[out.platform] = result
			r.ReportFailure(out.platform)
			continue
		}
		byPlatform[out.platform] = out.result
		r.ReportSuccess(out.platform)
	}
	return byPlatform
}

// HealthSnapshot returns platform health for maintenance and diagnostics.
func (r *Registry) HealthSnapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.health
	}
	return out
}

// Stats aggregates per-adapter counters keyed by platform.
func (r *Registry) Stats() map[string]interfaces.AdapterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]interfaces.AdapterStats, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.adapter.Stats()
	}
	return out
}
