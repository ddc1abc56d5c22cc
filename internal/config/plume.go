// Package config loads, validates, and hot-reloads the service
// configuration. A generic file Manager watches the config directory; the
// typed PlumeManager layers a validated PlumeConfig view on top and notifies
// registered callbacks when tuning changes.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServiceConfig holds the HTTP server settings.
type ServiceConfig struct {
	Port            int           `json:"port" yaml:"port"`
	AdminPort       int           `json:"admin_port" yaml:"admin_port"`
	GracefulTimeout time.Duration `json:"graceful_timeout" yaml:"graceful_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxHeaderBytes  int           `json:"max_header_bytes" yaml:"max_header_bytes"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	SkipAuth           bool          `json:"skip_auth" yaml:"skip_auth"`
	JWTSecret          string        `json:"jwt_secret" yaml:"jwt_secret"`
	AccessTokenExpiry  time.Duration `json:"access_token_expiry" yaml:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `json:"refresh_token_expiry" yaml:"refresh_token_expiry"`
}

// DatabaseConfig selects and tunes the relational store. Driver is either
// "postgres" (service deployments) or "sqlite3" (single-node local mode).
type DatabaseConfig struct {
	Driver          string        `json:"driver" yaml:"driver"`
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	User            string        `json:"user" yaml:"user"`
	Password        string        `json:"password" yaml:"password"`
	Database        string        `json:"database" yaml:"database"`
	Path            string        `json:"path" yaml:"path"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	IdleConnections int           `json:"idle_connections" yaml:"idle_connections"`
	MaxLifetime     time.Duration `json:"max_lifetime" yaml:"max_lifetime"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	Addr           string        `json:"addr" yaml:"addr"`
	Password       string        `json:"password" yaml:"password"`
	DB             int           `json:"db" yaml:"db"`
	ResultCacheTTL time.Duration `json:"result_cache_ttl" yaml:"result_cache_ttl"`
}

// LLMConfig points at the LLM sidecar service.
type LLMConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// BudgetConfig tunes the per-category iteration allowances.
type BudgetConfig struct {
	Bases       map[string]int `json:"bases" yaml:"bases"`
	DefaultBase int            `json:"default_base" yaml:"default_base"`
	Ceiling     int            `json:"ceiling" yaml:"ceiling"`
}

// ConvergenceConfig tunes the early-stop detector.
type ConvergenceConfig struct {
	PlateauWindow  int     `json:"plateau_window" yaml:"plateau_window"`
	PlateauSpread  float64 `json:"plateau_spread" yaml:"plateau_spread"`
	RegressionDrop float64 `json:"regression_drop" yaml:"regression_drop"`
	MinDelta       float64 `json:"min_delta" yaml:"min_delta"`
}

// WorkflowConfig carries the run tuning knobs. These are hot-reloadable;
// changes apply to runs started after the reload.
type WorkflowConfig struct {
	Budget        BudgetConfig      `json:"budget" yaml:"budget"`
	Convergence   ConvergenceConfig `json:"convergence" yaml:"convergence"`
	GapCheckLimit int               `json:"gap_check_limit" yaml:"gap_check_limit"`
	GapSkipScore  float64           `json:"gap_skip_score" yaml:"gap_skip_score"`
	SaveScoreMin  float64           `json:"save_score_min" yaml:"save_score_min"`
	StageTimeout  time.Duration     `json:"stage_timeout" yaml:"stage_timeout"`
	RetryAttempts int               `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration     `json:"retry_backoff" yaml:"retry_backoff"`
}

// StreamingConfig tunes event delivery.
type StreamingConfig struct {
	RingCapacity  int           `json:"ring_capacity" yaml:"ring_capacity"`
	MirrorEnabled bool          `json:"mirror_enabled" yaml:"mirror_enabled"`
	MirrorTTL     time.Duration `json:"mirror_ttl" yaml:"mirror_ttl"`
	MirrorMaxLen  int           `json:"mirror_max_len" yaml:"mirror_max_len"`
}

// VectorConfig points at the Qdrant index for saved writing samples.
type VectorConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Host        string        `json:"host" yaml:"host"`
	Port        int           `json:"port" yaml:"port"`
	Samples     string        `json:"samples" yaml:"samples"`
	TopK        int           `json:"top_k" yaml:"top_k"`
	Threshold   float64       `json:"threshold" yaml:"threshold"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	ExpectedDim int           `json:"expected_dim" yaml:"expected_dim"`
}

// EmbeddingsConfig tunes the embeddings client. An empty BaseURL falls back
// to LLM.BaseURL at wiring time.
type EmbeddingsConfig struct {
	BaseURL       string        `json:"base_url" yaml:"base_url"`
	DefaultModel  string        `json:"default_model" yaml:"default_model"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	CacheTTL      time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	MaxLRU        int           `json:"max_lru" yaml:"max_lru"`
	UseRedisCache bool          `json:"use_redis_cache" yaml:"use_redis_cache"`
}

// PolicyAuditConfig controls policy decision logging.
type PolicyAuditConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
	IncludeInput    bool   `json:"include_input" yaml:"include_input"`
	IncludeDecision bool   `json:"include_decision" yaml:"include_decision"`
}

// PolicyConfig controls OPA request admission.
type PolicyConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Mode        string            `json:"mode" yaml:"mode"` // off, dry-run, enforce
	Path        string            `json:"path" yaml:"path"`
	FailClosed  bool              `json:"fail_closed" yaml:"fail_closed"`
	Environment string            `json:"environment" yaml:"environment"`
	Audit       PolicyAuditConfig `json:"audit" yaml:"audit"`
}

// RateLimitConfig tunes the request rate limits. CategoriesPath points at
// the standalone per-category limits file.
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	RequestsPerWindow int           `json:"requests_per_window" yaml:"requests_per_window"`
	Window            time.Duration `json:"window" yaml:"window"`
	SubmitPerSecond   float64       `json:"submit_per_second" yaml:"submit_per_second"`
	SubmitBurst       int           `json:"submit_burst" yaml:"submit_burst"`
	CategoriesPath    string        `json:"categories_path" yaml:"categories_path"`
}

// HealthCheckConfig configures one dependency check.
type HealthCheckConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Critical bool          `json:"critical" yaml:"critical"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// HealthConfig configures dependency health monitoring.
type HealthConfig struct {
	Enabled       bool                         `json:"enabled" yaml:"enabled"`
	CheckInterval time.Duration                `json:"check_interval" yaml:"check_interval"`
	Timeout       time.Duration                `json:"timeout" yaml:"timeout"`
	Checks        map[string]HealthCheckConfig `json:"checks" yaml:"checks"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ServiceName  string `json:"service_name" yaml:"service_name"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level            string   `json:"level" yaml:"level"`
	Development      bool     `json:"development" yaml:"development"`
	Encoding         string   `json:"encoding" yaml:"encoding"`
	OutputPaths      []string `json:"output_paths" yaml:"output_paths"`
	ErrorOutputPaths []string `json:"error_output_paths" yaml:"error_output_paths"`
}

// PlumeConfig is the root service configuration.
type PlumeConfig struct {
	Service    ServiceConfig    `json:"service" yaml:"service"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Workflow   WorkflowConfig   `json:"workflow" yaml:"workflow"`
	Streaming  StreamingConfig  `json:"streaming" yaml:"streaming"`
	Vector     VectorConfig     `json:"vector" yaml:"vector"`
	Embeddings EmbeddingsConfig `json:"embeddings" yaml:"embeddings"`
	Policy     PolicyConfig     `json:"policy" yaml:"policy"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Health     HealthConfig     `json:"health" yaml:"health"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// DefaultPlumeConfig returns the configuration used when no file overrides
// anything. The workflow section mirrors the engine's built-in tuning.
func DefaultPlumeConfig() *PlumeConfig {
	return &PlumeConfig{
		Service: ServiceConfig{
			Port:            8000,
			AdminPort:       8081,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Auth: AuthConfig{
			Enabled:            true,
			SkipAuth:           false,
			JWTSecret:          "",
			AccessTokenExpiry:  1 * time.Hour,
			RefreshTokenExpiry: 720 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "postgres",
			Port:            5432,
			User:            "plume",
			Password:        "",
			Database:        "plume",
			Path:            "data/plume.db",
			SSLMode:         "disable",
			MaxConnections:  25,
			IdleConnections: 5,
			MaxLifetime:     5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:           "redis:6379",
			Password:       "",
			DB:             0,
			ResultCacheTTL: 1 * time.Hour,
		},
		LLM: LLMConfig{
			BaseURL: "http://llm-service:8000",
			Timeout: 120 * time.Second,
		},
		Workflow: WorkflowConfig{
			Budget: BudgetConfig{
				Bases: map[string]int{
					"cover_letter":        4,
					"motivational_letter": 6,
					"email":               2,
					"social_response":     2,
				},
				DefaultBase: 3,
				Ceiling:     10,
			},
			Convergence: ConvergenceConfig{
				PlateauWindow:  3,
				PlateauSpread:  2.0,
				RegressionDrop: 3.0,
				MinDelta:       0.5,
			},
			GapCheckLimit: 2,
			GapSkipScore:  85.0,
			SaveScoreMin:  80.0,
			StageTimeout:  120 * time.Second,
			RetryAttempts: 1,
			RetryBackoff:  500 * time.Millisecond,
		},
		Streaming: StreamingConfig{
			RingCapacity:  256,
			MirrorEnabled: false,
			MirrorTTL:     1 * time.Hour,
			MirrorMaxLen:  256,
		},
		Vector: VectorConfig{
			Enabled:     false,
			Host:        "qdrant",
			Port:        6333,
			Samples:     "writing_samples",
			TopK:        5,
			Threshold:   0.75,
			Timeout:     5 * time.Second,
			ExpectedDim: 1536,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:       "",
			DefaultModel:  "text-embedding-3-small",
			Timeout:       30 * time.Second,
			CacheTTL:      24 * time.Hour,
			MaxLRU:        2048,
			UseRedisCache: false,
		},
		Policy: PolicyConfig{
			Enabled:     false,
			Mode:        "dry-run",
			Path:        "config/policies",
			FailClosed:  false,
			Environment: "dev",
			Audit: PolicyAuditConfig{
				Enabled:         true,
				LogLevel:        "info",
				IncludeInput:    false,
				IncludeDecision: true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 120,
			Window:            1 * time.Minute,
			SubmitPerSecond:   1,
			SubmitBurst:       5,
			CategoriesPath:    "config/rate_limits.yaml",
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
			Checks: map[string]HealthCheckConfig{
				"database": {
					Enabled:  true,
					Critical: true,
					Timeout:  5 * time.Second,
					Interval: 30 * time.Second,
				},
				"redis": {
					Enabled:  true,
					Critical: false,
					Timeout:  3 * time.Second,
					Interval: 30 * time.Second,
				},
				"llm_service": {
					Enabled:  true,
					Critical: true,
					Timeout:  5 * time.Second,
					Interval: 30 * time.Second,
				},
			},
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "plume",
			OTLPEndpoint: "localhost:4317",
		},
		Logging: LoggingConfig{
			Level:            "info",
			Development:      false,
			Encoding:         "json",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
	}
}

// clone returns a deep copy safe to hand out while reloads swap the
// original.
func (c *PlumeConfig) clone() *PlumeConfig {
	out := *c
	if c.Workflow.Budget.Bases != nil {
		out.Workflow.Budget.Bases = make(map[string]int, len(c.Workflow.Budget.Bases))
		for k, v := range c.Workflow.Budget.Bases {
			out.Workflow.Budget.Bases[k] = v
		}
	}
	if c.Health.Checks != nil {
		out.Health.Checks = make(map[string]HealthCheckConfig, len(c.Health.Checks))
		for k, v := range c.Health.Checks {
			out.Health.Checks[k] = v
		}
	}
	out.Logging.OutputPaths = append([]string(nil), c.Logging.OutputPaths...)
	out.Logging.ErrorOutputPaths = append([]string(nil), c.Logging.ErrorOutputPaths...)
	return &out
}

// ValidatePlumeConfig checks a raw configuration map before it replaces the
// live configuration. Only keys that are present are checked; absent keys
// keep their defaults.
func ValidatePlumeConfig(configMap map[string]interface{}) error {
	if service, ok := section(configMap, "service"); ok {
		for _, key := range []string{"port", "admin_port"} {
			if p, ok := intVal(service[key]); ok && (p < 1 || p > 65535) {
				return fmt.Errorf("service.%s must be between 1 and 65535, got %d", key, p)
			}
		}
	}

	if db, ok := section(configMap, "database"); ok {
		if d, ok := strVal(db["driver"]); ok && d != "postgres" && d != "sqlite3" {
			return fmt.Errorf("database.driver must be postgres or sqlite3, got %q", d)
		}
		if p, ok := intVal(db["port"]); ok && (p < 1 || p > 65535) {
			return fmt.Errorf("database.port must be between 1 and 65535, got %d", p)
		}
		if v, ok := intVal(db["max_connections"]); ok && (v < 1 || v > 500) {
			return fmt.Errorf("database.max_connections must be between 1 and 500, got %d", v)
		}
	}

	if wf, ok := section(configMap, "workflow"); ok {
		for _, key := range []string{"gap_skip_score", "save_score_min"} {
			if v, ok := floatVal(wf[key]); ok && (v < 0 || v > 100) {
				return fmt.Errorf("workflow.%s must be between 0 and 100, got %v", key, v)
			}
		}
		if v, ok := intVal(wf["gap_check_limit"]); ok && (v < 0 || v > 10) {
			return fmt.Errorf("workflow.gap_check_limit must be between 0 and 10, got %d", v)
		}
		if v, ok := intVal(wf["retry_attempts"]); ok && (v < 1 || v > 10) {
			return fmt.Errorf("workflow.retry_attempts must be between 1 and 10, got %d", v)
		}
		for _, key := range []string{"stage_timeout", "retry_backoff"} {
			if s, ok := strVal(wf[key]); ok {
				if _, err := time.ParseDuration(s); err != nil {
					return fmt.Errorf("workflow.%s is not a duration: %q", key, s)
				}
			}
		}
		if b, ok := section(wf, "budget"); ok {
			if v, ok := intVal(b["ceiling"]); ok && (v < 1 || v > 50) {
				return fmt.Errorf("workflow.budget.ceiling must be between 1 and 50, got %d", v)
			}
			if bases, ok := section(b, "bases"); ok {
				for category, raw := range bases {
					if v, ok := intVal(raw); ok && v < 0 {
						return fmt.Errorf("workflow.budget.bases.%s must not be negative, got %d", category, v)
					}
				}
			}
		}
		if conv, ok := section(wf, "convergence"); ok {
			if v, ok := intVal(conv["plateau_window"]); ok && (v < 2 || v > 10) {
				return fmt.Errorf("workflow.convergence.plateau_window must be between 2 and 10, got %d", v)
			}
			for _, key := range []string{"plateau_spread", "regression_drop", "min_delta"} {
				if v, ok := floatVal(conv[key]); ok && v < 0 {
					return fmt.Errorf("workflow.convergence.%s must not be negative, got %v", key, v)
				}
			}
		}
	}

	if streaming, ok := section(configMap, "streaming"); ok {
		if v, ok := intVal(streaming["ring_capacity"]); ok && (v < 1 || v > 65536) {
			return fmt.Errorf("streaming.ring_capacity must be between 1 and 65536, got %d", v)
		}
	}

	if vector, ok := section(configMap, "vector"); ok {
		if p, ok := intVal(vector["port"]); ok && (p < 1 || p > 65535) {
			return fmt.Errorf("vector.port must be between 1 and 65535, got %d", p)
		}
		if v, ok := intVal(vector["top_k"]); ok && (v < 1 || v > 100) {
			return fmt.Errorf("vector.top_k must be between 1 and 100, got %d", v)
		}
		if v, ok := floatVal(vector["threshold"]); ok && (v < 0 || v > 1) {
			return fmt.Errorf("vector.threshold must be between 0 and 1, got %v", v)
		}
	}

	if policy, ok := section(configMap, "policy"); ok {
		if mode, ok := strVal(policy["mode"]); ok {
			switch mode {
			case "off", "dry-run", "enforce":
			default:
				return fmt.Errorf("policy.mode must be off, dry-run, or enforce, got %q", mode)
			}
		}
	}

	if rl, ok := section(configMap, "rate_limit"); ok {
		if v, ok := intVal(rl["requests_per_window"]); ok && (v < 0 || v > 100000) {
			return fmt.Errorf("rate_limit.requests_per_window must be between 0 and 100000, got %d", v)
		}
	}

	if logging, ok := section(configMap, "logging"); ok {
		if level, ok := strVal(logging["level"]); ok {
			switch level {
			case "debug", "info", "warn", "error":
			default:
				return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", level)
			}
		}
	}

	return nil
}

// ChangeCallback is invoked after the live configuration was replaced.
type ChangeCallback func(oldConfig, newConfig *PlumeConfig) error

// PlumeManager provides typed, hot-reloadable access to the service
// configuration on top of the file Manager.
type PlumeManager struct {
	files     *Manager
	current   *PlumeConfig
	logger    *zap.Logger
	callbacks []ChangeCallback
	mu        sync.RWMutex
}

// NewPlumeManager wraps a file manager. Call Initialize after the file
// manager loaded its directory.
func NewPlumeManager(files *Manager, logger *zap.Logger) *PlumeManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlumeManager{
		files:   files,
		current: DefaultPlumeConfig(),
		logger:  logger,
	}
}

// Initialize registers validation and reload handling for the service
// config files, then seeds the typed view from whatever is already loaded.
func (pm *PlumeManager) Initialize() error {
	for _, name := range []string{"plume.yaml", "plume.json"} {
		pm.files.RegisterValidator(name, ValidatePlumeConfig)
		pm.files.RegisterHandler(name, pm.handleChange)
	}
	for _, name := range []string{"plume.yaml", "plume.json"} {
		if cfg, ok := pm.files.GetConfig(name); ok {
			if err := pm.applyMap(cfg); err != nil {
				pm.logger.Error("Failed to apply configuration",
					zap.String("filename", name), zap.Error(err))
			}
			break
		}
	}
	return nil
}

// Config returns a copy of the current configuration.
func (pm *PlumeManager) Config() *PlumeConfig {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.current.clone()
}

// RegisterCallback subscribes to configuration replacements. Callbacks run
// synchronously on the reload path in registration order.
func (pm *PlumeManager) RegisterCallback(cb ChangeCallback) {
	pm.mu.Lock()
	pm.callbacks = append(pm.callbacks, cb)
	pm.mu.Unlock()
	pm.logger.Info("Configuration callback registered")
}

func (pm *PlumeManager) handleChange(event ChangeEvent) error {
	pm.logger.Info("Service configuration changed",
		zap.String("file", event.File),
		zap.String("action", event.Action),
	)
	if event.Action == "delete" {
		pm.swap(DefaultPlumeConfig())
		pm.logger.Info("Reverted to default configuration")
		return nil
	}
	return pm.applyMap(event.Config)
}

func (pm *PlumeManager) applyMap(configMap map[string]interface{}) error {
	next := DefaultPlumeConfig()
	applyConfigMap(next, configMap)
	applyEnvOverrides(next)
	pm.swap(next)
	return nil
}

func (pm *PlumeManager) swap(next *PlumeConfig) {
	pm.mu.Lock()
	old := pm.current
	pm.current = next
	callbacks := make([]ChangeCallback, len(pm.callbacks))
	copy(callbacks, pm.callbacks)
	pm.mu.Unlock()

	logConfigChanges(pm.logger, old, next)
	for i, cb := range callbacks {
		if err := cb(old, next); err != nil {
			pm.logger.Error("Configuration callback failed",
				zap.Int("callback_index", i),
				zap.Error(err),
			)
		}
	}
}

// logConfigChanges records the differences an operator cares about.
func logConfigChanges(logger *zap.Logger, old, next *PlumeConfig) {
	if old.LLM.BaseURL != next.LLM.BaseURL {
		logger.Info("LLM service endpoint changed",
			zap.String("old", old.LLM.BaseURL),
			zap.String("new", next.LLM.BaseURL),
		)
	}
	if old.Database.Driver != next.Database.Driver {
		logger.Info("Database driver changed",
			zap.String("old", old.Database.Driver),
			zap.String("new", next.Database.Driver),
		)
	}
	if !reflect.DeepEqual(old.Workflow, next.Workflow) {
		logger.Info("Workflow tuning changed",
			zap.Float64("gap_skip_score", next.Workflow.GapSkipScore),
			zap.Float64("save_score_min", next.Workflow.SaveScoreMin),
			zap.Int("gap_check_limit", next.Workflow.GapCheckLimit),
			zap.Duration("stage_timeout", next.Workflow.StageTimeout),
		)
	}
	if old.Policy.Mode != next.Policy.Mode || old.Policy.Enabled != next.Policy.Enabled {
		logger.Info("Policy settings changed",
			zap.Bool("enabled", next.Policy.Enabled),
			zap.String("mode", next.Policy.Mode),
		)
	}
	if old.Logging.Level != next.Logging.Level {
		logger.Info("Log level changed",
			zap.String("old", old.Logging.Level),
			zap.String("new", next.Logging.Level),
		)
	}
}

// applyConfigMap overlays a parsed configuration map onto cfg. Unknown keys
// are ignored; values of the wrong type are skipped.
func applyConfigMap(cfg *PlumeConfig, configMap map[string]interface{}) {
	if s, ok := section(configMap, "service"); ok {
		applyServiceSection(s, &cfg.Service)
	}
	if s, ok := section(configMap, "auth"); ok {
		applyAuthSection(s, &cfg.Auth)
	}
	if s, ok := section(configMap, "database"); ok {
		applyDatabaseSection(s, &cfg.Database)
	}
	if s, ok := section(configMap, "redis"); ok {
		applyRedisSection(s, &cfg.Redis)
	}
	if s, ok := section(configMap, "llm"); ok {
		applyLLMSection(s, &cfg.LLM)
	}
	if s, ok := section(configMap, "workflow"); ok {
		applyWorkflowSection(s, &cfg.Workflow)
	}
	if s, ok := section(configMap, "streaming"); ok {
		applyStreamingSection(s, &cfg.Streaming)
	}
	if s, ok := section(configMap, "vector"); ok {
		applyVectorSection(s, &cfg.Vector)
	}
	if s, ok := section(configMap, "embeddings"); ok {
		applyEmbeddingsSection(s, &cfg.Embeddings)
	}
	if s, ok := section(configMap, "policy"); ok {
		applyPolicySection(s, &cfg.Policy)
	}
	if s, ok := section(configMap, "rate_limit"); ok {
		applyRateLimitSection(s, &cfg.RateLimit)
	}
	if s, ok := section(configMap, "health"); ok {
		applyHealthSection(s, &cfg.Health)
	}
	if s, ok := section(configMap, "tracing"); ok {
		applyTracingSection(s, &cfg.Tracing)
	}
	if s, ok := section(configMap, "logging"); ok {
		applyLoggingSection(s, &cfg.Logging)
	}
}

func applyServiceSection(m map[string]interface{}, cfg *ServiceConfig) {
	if v, ok := intVal(m["port"]); ok {
		cfg.Port = v
	}
	if v, ok := intVal(m["admin_port"]); ok {
		cfg.AdminPort = v
	}
	if v, ok := durVal(m["graceful_timeout"]); ok {
		cfg.GracefulTimeout = v
	}
	if v, ok := durVal(m["read_timeout"]); ok {
		cfg.ReadTimeout = v
	}
	if v, ok := durVal(m["write_timeout"]); ok {
		cfg.WriteTimeout = v
	}
	if v, ok := intVal(m["max_header_bytes"]); ok {
		cfg.MaxHeaderBytes = v
	}
}

func applyAuthSection(m map[string]interface{}, cfg *AuthConfig) {
	if v, ok := boolVal(m["enabled"]); ok {
		cfg.Enabled = v
	}
	if v, ok := boolVal(m["skip_auth"]); ok {
		cfg.SkipAuth = v
	}
	if v, ok := strVal(m["jwt_secret"]); ok {
		cfg.JWTSecret = v
	}
	if v, ok := durVal(m["access_token_expiry"]); ok {
		cfg.AccessTokenExpiry = v
	}
	if v, ok := durVal(m["refresh_token_expiry"]); ok {
		cfg.RefreshTokenExpiry = v
	}
}

func applyDatabaseSection(m map[string]interface{}, cfg *DatabaseConfig) {
	if v, ok := strVal(m["driver"]); ok {
		cfg.Driver = v
	}
	if v, ok := strVal(m["host"]); ok {
		cfg.Host = v
	}
	if v, ok := intVal(m["port"]); ok {
		cfg.Port = v
	}
	if v, ok := strVal(m["user"]); ok {
		cfg.User = v
	}
	if v, ok := strVal(m["password"]); ok {
		cfg.Password = v
	}
	if v, ok := strVal(m["database"]); ok {
		cfg.Database = v
	}
	if v, ok := strVal(m["path"]); ok {
		cfg.Path = v
	}
	if v, ok := strVal(m["ssl_mode"]); ok {
		cfg.SSLMode = v
	}
	if v, ok := intVal(m["max_connections"]); ok {
		cfg.MaxConnections = v
	}
	if v, ok := intVal(m["idle_connections"]); ok {
		cfg.IdleConnections = v
	}
	if v, ok := durVal(m["max_lifetime"]); ok {
		cfg.MaxLifetime = v
	}
}

func applyRedisSection(m map[string]interface{}, cfg *RedisConfig) {
	if v, ok := strVal(m["addr"]); ok {
		cfg.Addr = v
	}
	if v, ok := strVal(m["password"]); ok {
		cfg.Password = v
	}
	if v, ok := intVal(m["db"]); ok {
		cfg.DB = v
	}
	if v, ok := durVal(m["result_cache_ttl"]); ok {
		cfg.ResultCacheTTL = v
	}
}

func applyLLMSection(m map[string]interface{}, cfg *LLMConfig) {
	if v, ok := strVal(m["base_url"]); ok {
		cfg.BaseURL = v
	}
	if v, ok := durVal(m["timeout"]); ok {
		cfg.Timeout = v
	}
}

func applyWorkflowSection(m map[string]interface{}, cfg *WorkflowConfig) {
	if b, ok := section(m, "budget"); ok {
		if bases, ok := section(b, "bases"); ok {
			// Listed categories override; unlisted ones keep their
			// defaults rather than falling to DefaultBase.
			if cfg.Budget.Bases == nil {
				cfg.Budget.Bases = make(map[string]int, len(bases))
			}
			for category, raw := range bases {
				if v, ok := intVal(raw); ok {
					cfg.Budget.Bases[category] = v
				}
			}
		}
		if v, ok := intVal(b["default_base"]); ok {
			cfg.Budget.DefaultBase = v
		}
		if v, ok := intVal(b["ceiling"]); ok {
			cfg.Budget.Ceiling = v
		}
	}
	if c, ok := section(m, "convergence"); ok {
		if v, ok := intVal(c["plateau_window"]); ok {
			cfg.Convergence.PlateauWindow = v
		}
		if v, ok := floatVal(c["plateau_spread"]); ok {
			cfg.Convergence.PlateauSpread = v
		}
		if v, ok := floatVal(c["regression_drop"]); ok {
			cfg.Convergence.RegressionDrop = v
		}
		if v, ok := floatVal(c["min_delta"]); ok {
			cfg.Convergence.MinDelta = v
		}
	}
	if v, ok := intVal(m["gap_check_limit"]); ok {
		cfg.GapCheckLimit = v
	}
	if v, ok := floatVal(m["gap_skip_score"]); ok {
		cfg.GapSkipScore = v
	}
	if v, ok := floatVal(m["save_score_min"]); ok {
		cfg.SaveScoreMin = v
	}
	if v, ok := durVal(m["stage_timeout"]); ok {
		cfg.StageTimeout = v
	}
	if v, ok := intVal(m["retry_attempts"]); ok {
		cfg.RetryAttempts = v
	}
	if v, ok := durVal(m["retry_backoff"]); ok {
		cfg.RetryBackoff = v
	}
}

func applyStreamingSection(m map[string]interface{}, cfg *StreamingConfig) {
	if v, ok := intVal(m["ring_capacity"]); ok && v > 0 {
		cfg.RingCapacity = v
	}
	if v, ok := boolVal(m["mirror_enabled"]); ok {
		cfg.MirrorEnabled = v
	}
	if v, ok := durVal(m["mirror_ttl"]); ok {
		cfg.MirrorTTL = v
	}
	if v, ok := intVal(m["mirror_max_len"]); ok && v > 0 {
		cfg.MirrorMaxLen = v
	}
}

func applyVectorSection(m map[string]interface{}, cfg *VectorConfig) {
	if v, ok := boolVal(m["enabled"]); ok {
		cfg.Enabled = v
	}
	if v, ok := strVal(m["host"]); ok {
		cfg.Host = v
	}
	if v, ok := intVal(m["port"]); ok {
		cfg.Port = v
	}
	if v, ok := strVal(m["samples"]); ok {
		cfg.Samples = v
	}
	if v, ok := intVal(m["top_k"]); ok {
		cfg.TopK = v
	}
	if v, ok := floatVal(m["threshold"]); ok {
		cfg.Threshold = v
	}
	if v, ok := durVal(m["timeout"]); ok {
		cfg.Timeout = v
	}
	if v, ok := intVal(m["expected_dim"]); ok {
		cfg.ExpectedDim = v
	}
}

func applyEmbeddingsSection(m map[string]interface{}, cfg *EmbeddingsConfig) {
	if v, ok := strVal(m["base_url"]); ok {
		cfg.BaseURL = v
	}
	if v, ok := strVal(m["default_model"]); ok {
		cfg.DefaultModel = v
	}
	if v, ok := durVal(m["timeout"]); ok {
		cfg.Timeout = v
	}
	if v, ok := durVal(m["cache_ttl"]); ok {
		cfg.CacheTTL = v
	}
	if v, ok := intVal(m["max_lru"]); ok {
		cfg.MaxLRU = v
	}
	if v, ok := boolVal(m["use_redis_cache"]); ok {
		cfg.UseRedisCache = v
	}
}

func applyPolicySection(m map[string]interface{}, cfg *PolicyConfig) {
	if v, ok := boolVal(m["enabled"]); ok {
		cfg.Enabled = v
	}
	if v, ok := strVal(m["mode"]); ok {
		cfg.Mode = v
	}
	if v, ok := strVal(m["path"]); ok {
		cfg.Path = v
	}
	if v, ok := boolVal(m["fail_closed"]); ok {
		cfg.FailClosed = v
	}
	if v, ok := strVal(m["environment"]); ok {
		cfg.Environment = v
	}
	if audit, ok := section(m, "audit"); ok {
		if v, ok := boolVal(audit["enabled"]); ok {
			cfg.Audit.Enabled = v
		}
		if v, ok := strVal(audit["log_level"]); ok {
			cfg.Audit.LogLevel = v
		}
		if v, ok := boolVal(audit["include_input"]); ok {
			cfg.Audit.IncludeInput = v
		}
		if v, ok := boolVal(audit["include_decision"]); ok {
			cfg.Audit.IncludeDecision = v
		}
	}
}

func applyRateLimitSection(m map[string]interface{}, cfg *RateLimitConfig) {
	if v, ok := boolVal(m["enabled"]); ok {
		cfg.Enabled = v
	}
	if v, ok := intVal(m["requests_per_window"]); ok {
		cfg.RequestsPerWindow = v
	}
	if v, ok := durVal(m["window"]); ok {
		cfg.Window = v
	}
	if v, ok := floatVal(m["submit_per_second"]); ok {
		cfg.SubmitPerSecond = v
	}
	if v, ok := intVal(m["submit_burst"]); ok {
		cfg.SubmitBurst = v
	}
	if v, ok := strVal(m["categories_path"]); ok {
		cfg.CategoriesPath = v
	}
}

func applyHealthSection(m map[string]interface{}, cfg *HealthConfig) {
	if v, ok := boolVal(m["enabled"]); ok {
		cfg.Enabled = v
	}
	if v, ok := durVal(m["check_interval"]); ok {
		cfg.CheckInterval = v
	}
	if v, ok := durVal(m["timeout"]); ok {
		cfg.Timeout = v
	}
	if checks, ok := section(m, "checks"); ok {
		cfg.Checks = make(map[string]HealthCheckConfig, len(checks))
		for name, raw := range checks {
			checkMap, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			var check HealthCheckConfig
			if v, ok := boolVal(checkMap["enabled"]); ok {
				check.Enabled = v
			}
			if v, ok := boolVal(checkMap["critical"]); ok {
				check.Critical = v
			}
			if v, ok := durVal(checkMap["timeout"]); ok {
				check.Timeout = v
			}
			if v, ok := durVal(checkMap["interval"]); ok {
				check.Interval = v
			}
			cfg.Checks[name] = check
		}
	}
}

func applyTracingSection(m map[string]interface{}, cfg *TracingConfig) {
	if v, ok := boolVal(m["enabled"]); ok {
		cfg.Enabled = v
	}
	if v, ok := strVal(m["service_name"]); ok {
		cfg.ServiceName = v
	}
	if v, ok := strVal(m["otlp_endpoint"]); ok {
		cfg.OTLPEndpoint = v
	}
}

func applyLoggingSection(m map[string]interface{}, cfg *LoggingConfig) {
	if v, ok := strVal(m["level"]); ok {
		cfg.Level = v
	}
	if v, ok := boolVal(m["development"]); ok {
		cfg.Development = v
	}
	if v, ok := strVal(m["encoding"]); ok {
		cfg.Encoding = v
	}
	if v, ok := strSliceVal(m["output_paths"]); ok {
		cfg.OutputPaths = v
	}
	if v, ok := strSliceVal(m["error_output_paths"]); ok {
		cfg.ErrorOutputPaths = v
	}
}

// applyEnvOverrides applies deployment environment variables on top of the
// file configuration, so secrets and endpoints never need to live in the
// file. Env always wins, including across hot reloads.
func applyEnvOverrides(cfg *PlumeConfig) {
	envInt("SERVICE_PORT", &cfg.Service.Port)
	envInt("ADMIN_PORT", &cfg.Service.AdminPort)

	envString("LOG_LEVEL", &cfg.Logging.Level)

	envString("JWT_SECRET", &cfg.Auth.JWTSecret)
	envBool("SKIP_AUTH", &cfg.Auth.SkipAuth)

	envString("DATABASE_DRIVER", &cfg.Database.Driver)
	envString("POSTGRES_HOST", &cfg.Database.Host)
	envInt("POSTGRES_PORT", &cfg.Database.Port)
	envString("POSTGRES_USER", &cfg.Database.User)
	envString("POSTGRES_PASSWORD", &cfg.Database.Password)
	envString("POSTGRES_DB", &cfg.Database.Database)
	envString("POSTGRES_SSLMODE", &cfg.Database.SSLMode)
	envString("SQLITE_PATH", &cfg.Database.Path)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)

	envString("LLM_SERVICE_URL", &cfg.LLM.BaseURL)
	envString("EMBEDDINGS_BASE_URL", &cfg.Embeddings.BaseURL)

	envBool("VECTOR_ENABLED", &cfg.Vector.Enabled)
	envString("VECTOR_HOST", &cfg.Vector.Host)
	envInt("VECTOR_PORT", &cfg.Vector.Port)

	envBool("POLICY_ENABLED", &cfg.Policy.Enabled)

	envBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("OTLP_ENDPOINT", &cfg.Tracing.OTLPEndpoint)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		var x int
		if _, err := fmt.Sscanf(v, "%d", &x); err == nil && x > 0 {
			*dst = x
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// section returns a nested map. Both JSON and YAML decode nested objects to
// map[string]interface{} when the target is an interface.
func section(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	s, ok := m[key].(map[string]interface{})
	return s, ok
}

// intVal accepts the integer encodings the three config sources produce:
// yaml.v3 decodes integers as int, encoding/json as float64, and viper may
// hand back int64.
func intVal(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func floatVal(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func boolVal(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func strVal(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func durVal(v interface{}) (time.Duration, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

func strSliceVal(v interface{}) ([]string, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}
