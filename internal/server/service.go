// Package server owns the run lifecycle: it validates and admits writing
// requests, executes them on the workflow engine, tracks active runs, and
// serves status lookups from the registry, the result cache, and the
// database, in that order.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/config"
	"github.com/plumeworks/plume/internal/db"
	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/streaming"
	"github.com/plumeworks/plume/internal/workflow"
)

// Rejection and lookup errors. Handlers map these to HTTP statuses with
// errors.Is.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("request not found")
	ErrRateLimited      = errors.New("submission rate exceeded")
	ErrDuplicateRequest = errors.New("request already active")
	ErrShuttingDown     = errors.New("service is shutting down")
)

// replayRetention keeps a finished run's replay buffer alive for late
// stream reconnects before it is dropped. Status lookups serve the cached
// result afterwards.
const replayRetention = 5 * time.Minute

// Store is the persistence surface the service needs. *db.Client satisfies
// it.
type Store interface {
	SaveRequest(ctx context.Context, req *models.WritingRequest) error
	GetRun(ctx context.Context, requestID string) (*models.WritingResult, error)
	QueueWrite(writeType db.WriteType, data interface{}, callback func(error)) error
}

// Deps bundles the service dependencies. Collaborators must carry the six
// stage collaborators; Store, Streams, Cache and Submits are optional.
type Deps struct {
	Collaborators workflow.Collaborators
	Store         Store
	Streams       *streaming.Manager
	Cache         *ResultCache
	Submits       *SubmitLimiter
	Logger        *zap.Logger
}

// Submission acknowledges an accepted asynchronous run.
type Submission struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Service executes writing runs and answers status lookups.
type Service struct {
	col      workflow.Collaborators
	store    Store
	streams  *streaming.Manager
	cache    *ResultCache
	submits  *SubmitLimiter
	registry *Registry
	logger   *zap.Logger

	cfgMu sync.RWMutex
	cfg   workflow.Config

	// rootCtx parents asynchronous runs so they outlive the submitting
	// request but die with the service.
	rootCtx    context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup
	draining   atomic.Bool
}

// New validates the collaborator set and builds the service.
func New(deps Deps, cfg workflow.Config) (*Service, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	// NewEngine rejects a miswired collaborator set; fail at startup rather
	// than on the first submission.
	if _, err := workflow.NewEngine(deps.Collaborators, cfg, logger); err != nil {
		return nil, err
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	return &Service{
		col:        deps.Collaborators,
		store:      deps.Store,
		streams:    deps.Streams,
		cache:      deps.Cache,
		submits:    deps.Submits,
		registry:   NewRegistry(),
		logger:     logger,
		cfg:        cfg,
		rootCtx:    rootCtx,
		cancelRoot: cancelRoot,
	}, nil
}

// EngineConfig converts the service configuration's workflow section into
// engine tuning.
func EngineConfig(c config.WorkflowConfig) workflow.Config {
	bases := make(map[string]int, len(c.Budget.Bases))
	for category, base := range c.Budget.Bases {
		bases[category] = base
	}
	return workflow.Config{
		Budget: workflow.IterationBudget{
			Bases:       bases,
			DefaultBase: c.Budget.DefaultBase,
			Ceiling:     c.Budget.Ceiling,
		},
		Convergence: workflow.ConvergenceDetector{
			PlateauWindow:  c.Convergence.PlateauWindow,
			PlateauSpread:  c.Convergence.PlateauSpread,
			RegressionDrop: c.Convergence.RegressionDrop,
			MinDelta:       c.Convergence.MinDelta,
		},
		GapCheckLimit: c.GapCheckLimit,
		GapSkipScore:  c.GapSkipScore,
		SaveScoreMin:  c.SaveScoreMin,
		StageTimeout:  c.StageTimeout,
		RetryAttempts: c.RetryAttempts,
		RetryBackoff:  c.RetryBackoff,
	}
}

// UpdateWorkflowConfig swaps the engine tuning. It applies to runs started
// after the call; in-flight runs keep the tuning they started with.
func (s *Service) UpdateWorkflowConfig(cfg workflow.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.logger.Info("Workflow tuning updated",
		zap.Int("gap_check_limit", cfg.GapCheckLimit),
		zap.Float64("gap_skip_score", cfg.GapSkipScore),
		zap.Duration("stage_timeout", cfg.StageTimeout),
	)
}

func (s *Service) engineConfig() workflow.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// ActiveRuns returns the number of runs executing in this process.
func (s *Service) ActiveRuns() int { return s.registry.Len() }

// Submit validates and admits a request, then executes it asynchronously.
// The returned submission carries the request ID to poll or stream.
func (s *Service) Submit(ctx context.Context, req *models.WritingRequest) (*Submission, error) {
	runCtx, cancel, err := s.admit(ctx, req, s.rootCtx)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func(r models.WritingRequest) {
		defer s.wg.Done()
		defer cancel()
		s.execute(runCtx, r)
	}(*req)

	s.logger.Info("Run accepted",
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
		zap.String("category", req.Category),
	)
	return &Submission{RequestID: req.RequestID, Status: models.StatusProcessing}, nil
}

// SubmitSync validates and admits a request, runs it on the calling
// goroutine, and returns the terminal result. Run failures are reported
// in-band through the result's status and error fields.
func (s *Service) SubmitSync(ctx context.Context, req *models.WritingRequest) (*models.WritingResult, error) {
	runCtx, cancel, err := s.admit(ctx, req, ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Info("Run accepted",
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
		zap.String("category", req.Category),
		zap.Bool("sync", true),
	)
	return s.execute(runCtx, *req), nil
}

// admit runs the shared pre-run pipeline: validation, normalization, the
// submission limiter, the registry claim, and request persistence. On
// success the request is registered and the returned context governs the
// run.
func (s *Service) admit(ctx context.Context, req *models.WritingRequest, parent context.Context) (context.Context, context.CancelFunc, error) {
	if s.draining.Load() {
		return nil, nil, ErrShuttingDown
	}
	if err := ValidateRequest(req); err != nil {
		return nil, nil, err
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	req.Requirements.Normalize()

	if s.submits != nil && !s.submits.Allow(req.UserID) {
		return nil, nil, fmt.Errorf("%w for user %s", ErrRateLimited, req.UserID)
	}

	runCtx, cancel := context.WithCancel(parent)
	info := RunInfo{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		Category:  req.Category,
		StartedAt: time.Now().UTC(),
	}
	if err := s.registry.Add(info, cancel); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
	}

	if s.store != nil {
		if err := s.store.SaveRequest(ctx, req); err != nil {
			s.registry.Remove(req.RequestID)
			cancel()
			return nil, nil, fmt.Errorf("failed to persist request: %w", err)
		}
	}
	return runCtx, cancel, nil
}

// execute runs the request to its terminal state and finalizes it. The
// engine is built per run so each run gets the current tuning.
func (s *Service) execute(ctx context.Context, req models.WritingRequest) *models.WritingResult {
	engine, err := workflow.NewEngine(s.col, s.engineConfig(), s.logger)
	if err != nil {
		now := time.Now().UTC()
		result := &models.WritingResult{
			RequestID: req.RequestID,
			Status:    models.StatusFailed,
			Error:     err.Error(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.logger.Error("Engine construction failed", zap.String("request_id", req.RequestID), zap.Error(err))
		s.finalize(req, result)
		return result
	}

	var em workflow.Emitter = workflow.NopEmitter{}
	if s.streams != nil {
		em = s.streams.Emitter(req.RequestID)
	}

	result, runErr := engine.Run(ctx, req, em)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		result.Status = models.StatusCancelled
		result.Error = "run cancelled"
	}
	s.finalize(req, result)
	return result
}

// finalize caches the result, queues the database write, and only then
// removes the run from the registry, so a status lookup always finds the run
// in one of the three places. The replay buffer is released after the
// retention window.
func (s *Service) finalize(req models.WritingRequest, result *models.WritingResult) {
	cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.cache.Save(cacheCtx, result)

	if s.store != nil {
		if err := s.store.QueueWrite(db.WriteTypeRun, result, nil); err != nil {
			s.logger.Error("Failed to queue run persistence",
				zap.String("request_id", req.RequestID), zap.Error(err))
		}
	}

	s.registry.Remove(req.RequestID)

	if s.streams != nil {
		requestID := req.RequestID
		time.AfterFunc(replayRetention, func() { s.streams.Forget(requestID) })
	}
}

// Status reports a run's current state: processing runs come from the
// registry, finished ones from the result cache, then the database. A
// database hit refills the cache.
func (s *Service) Status(ctx context.Context, requestID string) (*models.WritingResult, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrInvalidRequest)
	}

	if info, ok := s.registry.Get(requestID); ok {
		return &models.WritingResult{
			RequestID: requestID,
			Status:    models.StatusProcessing,
			CreatedAt: info.StartedAt,
			UpdatedAt: time.Now().UTC(),
		}, nil
	}

	if result, ok := s.cache.Get(ctx, requestID); ok {
		return result, nil
	}

	if s.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	result, err := s.store.GetRun(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	s.cache.Save(ctx, result)
	return result, nil
}

// Shutdown stops accepting submissions and waits for active runs. When ctx
// expires the remaining runs are cancelled and persisted as cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.draining.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelRoot()
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn("Graceful window elapsed, cancelling active runs",
		zap.Int("active", s.registry.Len()))
	s.registry.CancelAll()
	s.cancelRoot()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("%d runs still active after cancellation", s.registry.Len())
	}
}

// ValidateRequest rejects malformed submissions before any run state
// exists. Submit calls it; the HTTP layer calls it up front so validation
// failures win over policy and rate limit rejections.
func ValidateRequest(req *models.WritingRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if req.Category == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidRequest)
	}
	if !models.KnownCategory(req.Category) {
		return fmt.Errorf("%w: unknown writing type %q", ErrInvalidRequest, req.Category)
	}

	r := req.Requirements
	if r.MaxWords < 0 || r.MinWords < 0 || r.MaxPages < 0 {
		return fmt.Errorf("%w: word and page limits must not be negative", ErrInvalidRequest)
	}
	if r.MinWords > 0 && r.MaxWords > 0 && r.MinWords > r.MaxWords {
		return fmt.Errorf("%w: min_words %d exceeds max_words %d", ErrInvalidRequest, r.MinWords, r.MaxWords)
	}
	if r.QualityThreshold < 0 || r.QualityThreshold > 100 {
		return fmt.Errorf("%w: quality_threshold must be between 0 and 100", ErrInvalidRequest)
	}
	switch r.Mode {
	case "", models.ModeQuality, models.ModeBalanced, models.ModeFast:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	return nil
}
