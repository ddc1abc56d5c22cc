package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config tunes the manager. Checks entries override the defaults a checker
// declares for itself; unknown names are ignored until a matching checker
// registers.
type Config struct {
	Enabled       bool
	CheckInterval time.Duration
	Timeout       time.Duration
	Checks        map[string]CheckConfig
}

// CheckConfig overrides one registered checker.
type CheckConfig struct {
	Enabled  bool
	Critical bool
	Timeout  time.Duration
	Interval time.Duration
}

func defaultConfig() *Config {
	return &Config{
		Enabled:       true,
		CheckInterval: 30 * time.Second,
		Timeout:       5 * time.Second,
		Checks:        make(map[string]CheckConfig),
	}
}

// checkerState is one registered checker plus its effective settings.
// Fields are read and written only under the manager lock; checks run on a
// by-value snapshot.
type checkerState struct {
	checker   Checker
	enabled   bool
	interval  time.Duration
	timeout   time.Duration
	critical  bool
	lastCheck time.Time
}

type checkerSnapshot struct {
	name      string
	checker   Checker
	enabled   bool
	interval  time.Duration
	timeout   time.Duration
	critical  bool
	lastCheck time.Time
}

// Manager registers dependency checkers, runs them on demand for the probe
// endpoints, and keeps a background loop refreshing cached results.
type Manager struct {
	mu          sync.RWMutex
	checkers    map[string]*checkerState
	lastResults map[string]CheckResult
	config      *Config
	started     bool
	stopCh      chan struct{}
	logger      *zap.Logger
}

// NewManager creates a manager. A nil config gets working defaults.
func NewManager(config *Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = defaultConfig()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &Manager{
		checkers:    make(map[string]*checkerState),
		lastResults: make(map[string]CheckResult),
		config:      config,
		stopCh:      make(chan struct{}),
		logger:      logger,
	}
}

// RegisterChecker adds a checker, applying any config override for its name.
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}

	state := &checkerState{
		checker:  checker,
		enabled:  true,
		interval: m.config.CheckInterval,
		timeout:  checker.Timeout(),
		critical: checker.IsCritical(),
	}
	if state.timeout <= 0 {
		state.timeout = m.config.Timeout
	}
	if override, ok := m.config.Checks[name]; ok {
		applyOverride(state, override)
	}

	m.checkers[name] = state
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("enabled", state.enabled),
		zap.Bool("critical", state.critical),
		zap.Duration("timeout", state.timeout),
		zap.Duration("interval", state.interval),
	)
	return nil
}

// UnregisterChecker removes a checker and its cached result.
func (m *Manager) UnregisterChecker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkers[name]; !exists {
		return fmt.Errorf("checker %s not found", name)
	}
	delete(m.checkers, name)
	delete(m.lastResults, name)
	m.logger.Info("Health checker unregistered", zap.String("checker", name))
	return nil
}

func applyOverride(state *checkerState, override CheckConfig) {
	state.enabled = override.Enabled
	state.critical = override.Critical
	if override.Timeout > 0 {
		state.timeout = override.Timeout
	}
	if override.Interval > 0 {
		state.interval = override.Interval
	}
}

// GetOverallHealth runs every enabled check and aggregates.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	detailed := m.GetDetailedHealth(ctx)
	overall := detailed.Overall
	overall.Timestamp = detailed.Timestamp
	overall.Duration = time.Since(start)
	return overall
}

// GetDetailedHealth runs every enabled check and returns per-component
// results alongside the aggregate.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	components := make(map[string]CheckResult)
	for _, snap := range m.snapshot() {
		if !snap.enabled {
			continue
		}
		components[snap.name] = m.runCheck(ctx, snap)
	}

	overall, summary := aggregate(components)
	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

// CachedDetailedHealth aggregates the most recent results without running
// any checks. Used by the debug endpoint's cached mode.
func (m *Manager) CachedDetailedHealth() DetailedHealth {
	m.mu.RLock()
	components := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		components[name] = result
	}
	m.mu.RUnlock()

	overall, summary := aggregate(components)
	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

// IsReady reports whether every critical dependency is passing.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

func (m *Manager) snapshot() []checkerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := make([]checkerSnapshot, 0, len(m.checkers))
	for name, state := range m.checkers {
		snaps = append(snaps, checkerSnapshot{
			name:      name,
			checker:   state.checker,
			enabled:   state.enabled,
			interval:  state.interval,
			timeout:   state.timeout,
			critical:  state.critical,
			lastCheck: state.lastCheck,
		})
	}
	return snaps
}

// runCheck executes one check under its configured timeout, stamps the
// effective criticality onto the result, and caches it.
func (m *Manager) runCheck(ctx context.Context, snap checkerSnapshot) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, snap.timeout)
	defer cancel()

	start := time.Now()
	result := snap.checker.Check(checkCtx)
	result.Component = snap.name
	result.Critical = snap.critical
	result.Duration = time.Since(start)
	result.Timestamp = start

	m.mu.Lock()
	if state, ok := m.checkers[snap.name]; ok {
		state.lastCheck = start
	}
	m.lastResults[snap.name] = result
	m.mu.Unlock()

	return result
}

// aggregate folds component results into the overall grade. A failing
// critical component makes the service unready; degraded components and
// failing non-critical ones only mark it degraded.
func aggregate(components map[string]CheckResult) (OverallHealth, HealthSummary) {
	summary := HealthSummary{Total: len(components)}
	if summary.Total == 0 {
		return OverallHealth{
			Status:  StatusUnknown,
			Message: "no health checks registered",
			Ready:   false,
		}, summary
	}

	criticalFailures := 0
	nonCriticalFailures := 0
	degraded := 0
	for _, result := range components {
		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
			degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
			if result.Critical {
				criticalFailures++
			} else {
				nonCriticalFailures++
			}
		}
		if result.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}

	overall := OverallHealth{Ready: true}
	switch {
	case criticalFailures > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		overall.Ready = false
	case degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) degraded", degraded)
	case nonCriticalFailures > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures)
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("all %d components healthy", summary.Total)
	}
	overall.Degraded = overall.Status == StatusDegraded

	return overall, summary
}

// Start launches the background refresh loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true
	go m.backgroundChecker(m.config.CheckInterval)

	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

// Stop halts the background loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) backgroundChecker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runDueChecks()
		}
	}
}

// runDueChecks refreshes cached results for checkers whose interval has
// elapsed.
func (m *Manager) runDueChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	ran := 0
	for _, snap := range m.snapshot() {
		if !snap.enabled {
			continue
		}
		if now.Sub(snap.lastCheck) >= snap.interval {
			m.runCheck(ctx, snap)
			ran++
		}
	}

	if ran > 0 {
		m.logger.Debug("Background health checks completed", zap.Int("checks_run", ran))
	}
}

// UpdateConfig applies a new configuration to the manager and every
// registered checker. Wired to the config watcher.
func (m *Manager) UpdateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = config
	for name, state := range m.checkers {
		if override, ok := config.Checks[name]; ok {
			applyOverride(state, override)
			m.logger.Info("Updated health checker configuration",
				zap.String("checker", name),
				zap.Bool("enabled", state.enabled),
				zap.Bool("critical", state.critical),
				zap.Duration("timeout", state.timeout),
				zap.Duration("interval", state.interval),
			)
		}
	}
	return nil
}
