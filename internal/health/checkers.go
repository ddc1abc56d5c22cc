package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/circuitbreaker"
)

// Checks degrade rather than fail when the dependency answers slowly; the
// latency threshold separates "up" from "struggling".
const slowCheckThreshold = 100 * time.Millisecond

// RedisChecker pings Redis through the circuit breaker wrapper.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisChecker creates a Redis checker.
func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisChecker {
	return &RedisChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: "redis",
		Timestamp: start,
	}

	if r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := r.wrapper.Ping(ctx).Err()
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		return result
	}

	if result.Duration > slowCheckThreshold {
		result.Status = StatusDegraded
		result.Message = "Redis responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// DatabaseChecker pings the database through the circuit breaker wrapper
// and inspects the connection pool.
type DatabaseChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseChecker creates a database checker.
func NewDatabaseChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseChecker {
	return &DatabaseChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (d *DatabaseChecker) Name() string           { return "database" }
func (d *DatabaseChecker) IsCritical() bool       { return true }
func (d *DatabaseChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: "database",
		Timestamp: start,
	}

	if d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := d.wrapper.PingContext(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		return result
	}

	stats := d.wrapper.Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case result.Duration > slowCheckThreshold:
		result.Status = StatusDegraded
		result.Message = "Database responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
	}
	return result
}

// LLMServiceChecker probes the writing service's health endpoint. The
// pipeline cannot run without it, so it defaults to critical.
type LLMServiceChecker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewLLMServiceChecker creates a checker for the LLM sidecar.
func NewLLMServiceChecker(baseURL string, logger *zap.Logger) *LLMServiceChecker {
	timeout := 5 * time.Second
	return &LLMServiceChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		timeout: timeout,
	}
}

func (l *LLMServiceChecker) Name() string           { return "llm_service" }
func (l *LLMServiceChecker) IsCritical() bool       { return true }
func (l *LLMServiceChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMServiceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: "llm_service",
		Timestamp: start,
		Details:   map[string]interface{}{"base_url": l.baseURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "LLM service URL is invalid"
		result.Duration = time.Since(start)
		return result
	}

	resp, err := l.client.Do(req)
	result.Duration = time.Since(start)
	result.Details["latency_ms"] = result.Duration.Milliseconds()

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "LLM service unreachable"
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode != http.StatusOK:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("LLM service answered with status %d", resp.StatusCode)
		result.Details["status_code"] = resp.StatusCode
	case result.Duration > slowCheckThreshold:
		result.Status = StatusDegraded
		result.Message = "LLM service responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "LLM service healthy"
	}
	return result
}

// CheckerFunc adapts a plain function to the Checker interface, for
// components without a dedicated checker type.
type CheckerFunc struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

// NewCheckerFunc wraps fn as a named checker.
func NewCheckerFunc(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{
		name:     name,
		critical: critical,
		timeout:  timeout,
		fn:       fn,
	}
}

func (c *CheckerFunc) Name() string           { return c.name }
func (c *CheckerFunc) IsCritical() bool       { return c.critical }
func (c *CheckerFunc) Timeout() time.Duration { return c.timeout }

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}
