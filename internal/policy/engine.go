package policy

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/models"
)

// decisionQuery is the rego document admission decisions are read from.
const decisionQuery = "data.plume.writing.decision"

// Engine defines the policy evaluation interface
type Engine interface {
	Evaluate(ctx context.Context, input *PolicyInput) (*Decision, error)
	LoadPolicies() error
	IsEnabled() bool
	// Environment returns the configured environment (e.g., dev|staging|prod)
	Environment() string
	// Mode returns the current enforcement mode (off|dry-run|enforce)
	Mode() Mode
}

// PolicyInput is the evaluation context for one submission.
type PolicyInput struct {
	// Core identifiers
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id,omitempty"`

	// Request details
	Category string                 `json:"category"`
	Context  map[string]interface{} `json:"context,omitempty"`

	// Requested constraints
	MaxWords         int     `json:"max_words,omitempty"`
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	Mode             string  `json:"mode,omitempty"` // fast, balanced, quality

	// Security context
	Environment string `json:"environment"` // dev, staging, prod
	Sync        bool   `json:"sync,omitempty"`

	// Timestamp
	Timestamp time.Time `json:"timestamp"`
}

// InputFromRequest builds the evaluation input for a submitted request.
func InputFromRequest(req *models.WritingRequest, environment string, sync bool) *PolicyInput {
	return &PolicyInput{
		RequestID:        req.RequestID,
		UserID:           req.UserID,
		Category:         req.Category,
		Context:          req.Context,
		MaxWords:         req.Requirements.MaxWords,
		QualityThreshold: req.Requirements.QualityThreshold,
		Mode:             req.Requirements.Mode,
		Environment:      environment,
		Sync:             sync,
		Timestamp:        time.Now(),
	}
}

// Decision represents the policy evaluation result
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`

	// Audit
	PolicyVersion string            `json:"policy_version,omitempty"`
	AuditTags     map[string]string `json:"audit_tags,omitempty"`
}

// OPAEngine implements the Engine interface using OPA rego
type OPAEngine struct {
	config  *Config
	logger  *zap.Logger
	enabled bool

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	version  string

	// simple in-memory LRU cache for decisions
	cache *decisionCache
}

// NewOPAEngine creates a new OPA-based policy engine
func NewOPAEngine(config *Config, logger *zap.Logger) (*OPAEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.Normalize()

	engine := &OPAEngine{
		config:  config,
		logger:  logger,
		enabled: config.Enabled,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}

	if engine.enabled {
		if err := engine.LoadPolicies(); err != nil {
			if config.FailClosed {
				return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
			}
			// Fail-open: the engine stays registered so a later reload
			// can bring it up.
			logger.Warn("Failed to load policies, running in fail-open mode", zap.Error(err))
		}
	}

	return engine, nil
}

// LoadPolicies loads and compiles all policy files from the configured
// directory. It is called at startup and again by the config watcher when a
// .rego file changes, so it must be safe alongside concurrent Evaluate calls.
func (e *OPAEngine) LoadPolicies() error {
	if !e.config.Enabled {
		return nil
	}

	policies := make(map[string]string)

	err := filepath.Walk(e.config.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".rego") {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read policy file %s: %w", path, err)
			}

			// Use relative path as module name
			relPath, _ := filepath.Rel(e.config.Path, path)
			moduleName := strings.TrimSuffix(relPath, ".rego")
			policies[moduleName] = string(content)

			e.logger.Debug("Loaded policy file",
				zap.String("path", path),
				zap.String("module", moduleName),
			)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk policy directory: %w", err)
	}

	if len(policies) == 0 {
		e.logger.Warn("No policy files found", zap.String("path", e.config.Path))
		if e.config.FailClosed {
			return fmt.Errorf("no policies found in fail-closed mode")
		}
		return nil
	}

	regoOptions := []func(*rego.Rego){
		rego.Query(decisionQuery),
	}
	for moduleName, content := range policies {
		regoOptions = append(regoOptions, rego.Module(moduleName, content))
	}

	compiled, err := rego.New(regoOptions...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	version := policyVersion(policies)

	e.mu.Lock()
	e.compiled = &compiled
	e.version = version
	e.mu.Unlock()

	// Compiled rules changed; cached decisions no longer apply.
	e.cache.Purge()

	e.logger.Info("Policies loaded and compiled successfully",
		zap.Int("policy_count", len(policies)),
		zap.String("version", version),
		zap.String("decision_query", decisionQuery),
	)
	RecordPolicyLoad(e.config.Path, len(policies), float64(time.Now().Unix()))

	return nil
}

// Evaluate evaluates the policy against the given input
func (e *OPAEngine) Evaluate(ctx context.Context, input *PolicyInput) (*Decision, error) {
	startTime := time.Now()

	// Default decision: fail-open allows, fail-closed denies.
	defaultDecision := &Decision{
		Allow:  !e.config.FailClosed,
		Reason: "policy engine disabled or no policies loaded",
		AuditTags: map[string]string{
			"policy_enabled": fmt.Sprintf("%t", e.enabled),
			"mode":           string(e.config.Mode),
		},
	}

	compiled, version := e.snapshot()
	if !e.enabled || compiled == nil {
		e.logger.Debug("Policy evaluation skipped",
			zap.Bool("enabled", e.enabled),
			zap.Bool("compiled", compiled != nil),
		)
		return defaultDecision, nil
	}

	if d, ok := e.cache.Get(input); ok {
		RecordCacheHit(string(e.config.Mode))
		return d, nil
	}
	RecordCacheMiss(string(e.config.Mode))

	inputMap, err := inputToMap(input)
	if err != nil {
		e.logger.Error("Failed to convert policy input", zap.Error(err))
		RecordError("input_conversion", string(e.config.Mode))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return defaultDecision, nil
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		RecordError("policy_evaluation", string(e.config.Mode))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return defaultDecision, nil
	}

	decision := e.parseResults(results, input)
	decision.PolicyVersion = version
	decision = e.applyMode(decision, input)

	duration := time.Since(startTime)
	decisionLabel := "allow"
	if !decision.Allow {
		decisionLabel = "deny"
	}
	RecordEvaluation(decisionLabel, string(e.config.Mode))
	RecordEvaluationDuration(string(e.config.Mode), duration.Seconds())
	if !decision.Allow {
		RecordDenyReason(decision.Reason, string(e.config.Mode))
	}

	e.auditLog(input, decision, duration)

	e.cache.Set(input, decision)
	return decision, nil
}

// IsEnabled returns whether the policy engine is enabled and ready
func (e *OPAEngine) IsEnabled() bool {
	compiled, _ := e.snapshot()
	return e.enabled && compiled != nil
}

// Environment returns the configured environment for the engine
func (e *OPAEngine) Environment() string { return e.config.Environment }

// Mode returns the configured enforcement mode for the engine
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

func (e *OPAEngine) snapshot() (*rego.PreparedEvalQuery, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.compiled, e.version
}

// inputToMap converts PolicyInput to a map for OPA evaluation
func inputToMap(input *PolicyInput) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// parseResults parses OPA evaluation results into a Decision
func (e *OPAEngine) parseResults(results rego.ResultSet, input *PolicyInput) *Decision {
	decision := &Decision{
		Allow:  false, // Default deny
		Reason: "no matching policy rules",
		AuditTags: map[string]string{
			"request_id": input.RequestID,
			"category":   input.Category,
		},
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.Debug("No policy results returned")
		return decision
	}

	value := results[0].Expressions[0].Value
	if valueMap, ok := value.(map[string]interface{}); ok {
		if allow, ok := valueMap["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := valueMap["reason"].(string); ok {
			decision.Reason = reason
		}
	} else if allow, ok := value.(bool); ok {
		// Simple boolean result
		decision.Allow = allow
		if allow {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}

	return decision
}

// applyMode overlays the enforcement mode on the raw policy decision. In
// dry-run mode every request proceeds; the would-be decision is logged and
// counted instead.
func (e *OPAEngine) applyMode(decision *Decision, input *PolicyInput) *Decision {
	if decision.AuditTags == nil {
		decision.AuditTags = make(map[string]string)
	}
	decision.AuditTags["mode"] = string(e.config.Mode)

	switch e.config.Mode {
	case ModeEnforce:
		return decision

	case ModeDryRun:
		original := *decision
		decision.Allow = true
		if !original.Allow {
			decision.Reason = fmt.Sprintf("DRY-RUN: would have been denied - %s", original.Reason)
			RecordDryRunDivergence("would_deny")
		} else {
			decision.Reason = fmt.Sprintf("DRY-RUN: would have been allowed - %s", original.Reason)
		}
		e.logger.Info("Dry-run policy evaluation",
			zap.Bool("would_allow", original.Allow),
			zap.String("original_reason", original.Reason),
			zap.String("request_id", input.RequestID),
			zap.String("user_id", input.UserID),
		)
		return decision

	default:
		decision.Allow = !e.config.FailClosed
		decision.Reason = "policy engine disabled"
		return decision
	}
}

func (e *OPAEngine) auditLog(input *PolicyInput, decision *Decision, duration time.Duration) {
	if !e.config.Audit.Enabled {
		return
	}

	fields := []zap.Field{
		zap.String("request_id", input.RequestID),
		zap.String("user_id", input.UserID),
		zap.String("category", input.Category),
		zap.Duration("duration", duration),
	}
	if e.config.Audit.IncludeDecision {
		fields = append(fields,
			zap.Bool("allow", decision.Allow),
			zap.String("reason", decision.Reason),
			zap.String("policy_version", decision.PolicyVersion),
		)
	}
	if e.config.Audit.IncludeInput {
		fields = append(fields, zap.Any("input", input))
	}

	if e.config.Audit.LogLevel == "debug" {
		e.logger.Debug("Policy decision", fields...)
	} else {
		e.logger.Info("Policy decision", fields...)
	}
}

// policyVersion hashes policy content for deployment tracking.
func policyVersion(policies map[string]string) string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	h := md5.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(policies[name]))
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:4])
}

// --- internal decision cache (simple LRU with TTL) ---

// The cache key covers everything the shipped policy can see, so two inputs
// with the same key always produce the same decision under one compiled
// version. The request context is folded in as a hash to keep keys small.

type decisionCache struct {
	cap    int
	ttl    time.Duration
	mu     sync.Mutex
	list   *list.List               // MRU at front
	m      map[string]*list.Element // key -> element
	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:  cap,
		ttl:  ttl,
		list: list.New(),
		m:    make(map[string]*list.Element),
	}
}

func (c *decisionCache) makeKey(input *PolicyInput) string {
	h := fnv.New64a()
	if len(input.Context) > 0 {
		// json.Marshal sorts map keys, so the hash is stable.
		if b, err := json.Marshal(input.Context); err == nil {
			_, _ = h.Write(b)
		}
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d|%.0f|%t|%x",
		input.Environment, input.Mode, input.UserID, input.Category,
		input.MaxWords, input.QualityThreshold, input.Sync, h.Sum64(),
	)
}

func (c *decisionCache) Get(input *PolicyInput) (*Decision, bool) {
	key := c.makeKey(input)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			atomic.AddInt64(&c.hits, 1)
			return ce.decision, true
		}
		// expired
		c.list.Remove(el)
		delete(c.m, key)
	}
	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

func (c *decisionCache) Set(input *PolicyInput, d *Decision) {
	key := c.makeKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.m[key] = el
	if c.list.Len() > c.cap {
		// evict LRU
		if lru := c.list.Back(); lru != nil {
			ce := lru.Value.(cacheEntry)
			delete(c.m, ce.key)
			c.list.Remove(lru)
		}
	}
}

// Purge drops every cached decision.
func (c *decisionCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.m = make(map[string]*list.Element)
}

// Stats returns cumulative cache hit/miss counts
func (c *decisionCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
