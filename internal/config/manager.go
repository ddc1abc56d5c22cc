package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format identifies a supported configuration file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ChangeEvent describes one configuration file change.
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // initial_load, create, modify, delete, rename, reload, set
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is invoked after a configuration file changed and passed
// validation.
type ChangeHandler func(event ChangeEvent) error

// Manager watches a directory of configuration files and dispatches parsed
// contents to registered handlers. Files ending in .rego are not parsed;
// any change to them fires the registered policy reload handlers instead.
type Manager struct {
	dir            string
	configs        map[string]map[string]interface{}
	handlers       map[string][]ChangeHandler
	validators     map[string]func(map[string]interface{}) error
	policyHandlers []func() error

	watcher *fsnotify.Watcher
	started bool
	stopCh  chan struct{}
	logger  *zap.Logger
	mu      sync.RWMutex

	// Polling fallback for filesystems where fsnotify is unreliable
	// (some network mounts, some container overlays).
	pollInterval time.Duration
	polling      bool
}

// NewManager builds a manager for the given directory, creating it if
// needed. Call Start to load files and begin watching.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dir:          dir,
		configs:      make(map[string]map[string]interface{}),
		handlers:     make(map[string][]ChangeHandler),
		validators:   make(map[string]func(map[string]interface{}) error),
		watcher:      watcher,
		stopCh:       make(chan struct{}),
		logger:       logger,
		pollInterval: 10 * time.Second,
	}, nil
}

// Start loads every config file in the directory and begins watching for
// changes. It is a no-op when already started.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.watcher.Add(m.dir); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	if err := m.loadAll(); err != nil {
		return fmt.Errorf("load initial configs: %w", err)
	}

	m.mu.Lock()
	m.started = true
	loaded := len(m.configs)
	polling := m.polling
	m.mu.Unlock()

	go m.watchLoop()
	if polling {
		go m.pollLoop()
	}

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.dir),
		zap.Int("loaded_configs", loaded),
		zap.Bool("polling_enabled", polling),
	)
	return nil
}

// Stop halts the watcher. Registered state is retained.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.started = false
	m.logger.Info("Configuration manager stopped")
	return nil
}

// RegisterHandler subscribes a handler to changes of one file.
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filename] = append(m.handlers[filename], handler)
	m.logger.Info("Configuration handler registered",
		zap.String("filename", filename),
		zap.Int("total_handlers", len(m.handlers[filename])),
	)
}

// RegisterValidator sets the validator for one file. Files failing
// validation keep their previous contents.
func (m *Manager) RegisterValidator(filename string, validator func(map[string]interface{}) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[filename] = validator
	m.logger.Info("Configuration validator registered", zap.String("filename", filename))
}

// RegisterPolicyHandler subscribes a handler to .rego file changes.
func (m *Manager) RegisterPolicyHandler(handler func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policyHandlers = append(m.policyHandlers, handler)
	m.logger.Info("Policy reload handler registered")
}

// GetConfig returns a copy of the current contents of one file.
func (m *Manager) GetConfig(filename string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[filename]
	if !ok {
		return nil, false
	}
	return copyMap(cfg), true
}

// SetConfig stores a configuration programmatically and notifies handlers.
// Used by tests and by administrative tooling.
func (m *Manager) SetConfig(filename string, cfg map[string]interface{}) error {
	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()
	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.configs[filename] = cfg
	m.mu.Unlock()

	m.notify(filename, "set", copyMap(cfg))
	m.logger.Info("Configuration set programmatically",
		zap.String("filename", filename),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

// Reload re-reads one file from disk.
func (m *Manager) Reload(filename string) error {
	return m.loadFile(filepath.Join(m.dir, filename), "reload")
}

// EnablePolling turns on the polling fallback. Must be called before Start.
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polling = true
	if interval > 0 {
		m.pollInterval = interval
	}
	m.logger.Info("Configuration polling enabled", zap.Duration("interval", m.pollInterval))
}

func (m *Manager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Config watch loop panicked", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) pollLoop() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	modTimes := make(map[string]time.Time)
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollOnce(modTimes)
		}
	}
}

func (m *Manager) pollOnce(modTimes map[string]time.Time) {
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		if info.ModTime().After(modTimes[name]) {
			modTimes[name] = info.ModTime()
			m.logger.Debug("Detected file change via polling", zap.String("file", name))
			return m.loadFile(path, "modify")
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Error during polling check", zap.Error(err))
	}
}

func (m *Manager) handleEvent(event fsnotify.Event) {
	isConfig := isConfigFile(event.Name)
	isPolicy := isPolicyFile(event.Name)
	if !isConfig && !isPolicy {
		return
	}
	filename := filepath.Base(event.Name)

	var action string
	switch {
	case event.Op&fsnotify.Create != 0:
		action = "create"
	case event.Op&fsnotify.Write != 0:
		action = "modify"
	case event.Op&fsnotify.Remove != 0:
		action = "delete"
	case event.Op&fsnotify.Rename != 0:
		action = "rename"
	default:
		// Chmod and friends carry no content change.
		return
	}
	m.logger.Debug("File system event",
		zap.String("file", filename),
		zap.String("op", event.Op.String()),
	)

	if action == "delete" || action == "rename" {
		if isConfig {
			m.dropFile(filename)
		}
		if isPolicy {
			m.reloadPolicies(filename, action)
		}
		return
	}

	// Editors often emit several writes in quick succession; let the file
	// settle before reading it.
	time.Sleep(50 * time.Millisecond)

	if isConfig {
		if err := m.loadFile(event.Name, action); err != nil {
			m.logger.Error("Failed to load config file",
				zap.String("file", filename),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
	if isPolicy {
		m.reloadPolicies(filename, action)
	}
}

func (m *Manager) loadAll() error {
	return filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		return m.loadFile(path, "initial_load")
	})
}

func (m *Manager) loadFile(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	filename := filepath.Base(path)

	cfg := make(map[string]interface{})
	switch formatFor(filename) {
	case FormatJSON:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse JSON config %s: %w", filename, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", filename, err)
		}
	}

	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()
	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.configs[filename] = cfg
	m.mu.Unlock()

	m.notify(filename, action, copyMap(cfg))
	m.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

func (m *Manager) dropFile(filename string) {
	m.mu.Lock()
	last := m.configs[filename]
	delete(m.configs, filename)
	m.mu.Unlock()

	m.notify(filename, "delete", copyMap(last))
	m.logger.Info("Configuration file removed", zap.String("filename", filename))
}

// notify dispatches an event to the file's handlers. Handlers run on their
// own goroutines so a slow handler cannot stall the watch loop, and so a
// handler that calls back into the manager cannot deadlock.
func (m *Manager) notify(filename, action string, cfg map[string]interface{}) {
	m.mu.RLock()
	handlers := make([]ChangeHandler, len(m.handlers[filename]))
	copy(handlers, m.handlers[filename])
	m.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}

	event := ChangeEvent{
		File:      filename,
		Action:    action,
		Config:    cfg,
		Timestamp: time.Now(),
	}
	for _, handler := range handlers {
		h := handler
		go func() {
			if err := h(event); err != nil {
				m.logger.Error("Configuration handler error",
					zap.String("filename", filename),
					zap.String("action", action),
					zap.Error(err),
				)
			}
		}()
	}
}

func (m *Manager) reloadPolicies(filename, action string) {
	m.mu.RLock()
	handlers := make([]func() error, len(m.policyHandlers))
	copy(handlers, m.policyHandlers)
	m.mu.RUnlock()

	m.logger.Info("Policy file changed, triggering reload",
		zap.String("file", filename),
		zap.String("action", action),
		zap.Int("handlers", len(handlers)),
	)
	for _, handler := range handlers {
		if err := handler(); err != nil {
			m.logger.Error("Policy reload handler failed",
				zap.String("file", filename),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
}

func isConfigFile(path string) bool {
	switch filepath.Ext(path) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func isPolicyFile(path string) bool {
	return filepath.Ext(path) == ".rego"
}

func formatFor(filename string) Format {
	if filepath.Ext(filename) == ".json" {
		return FormatJSON
	}
	return FormatYAML
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
