package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/interceptors"
	"github.com/plumeworks/plume/internal/metrics"
	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/textstats"
)

// StageFailure wraps a collaborator failure with the stage it happened in.
type StageFailure struct {
	Stage Stage
	Err   error
}

func (e *StageFailure) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageFailure) Unwrap() error { return e.Err }

// Config tunes a run. Zero values are replaced with defaults by the engine
// constructor.
type Config struct {
	Budget        IterationBudget     `yaml:"budget" json:"budget"`
	Convergence   ConvergenceDetector `yaml:"convergence" json:"convergence"`
	GapCheckLimit int                 `yaml:"gap_check_limit" json:"gap_check_limit"`
	GapSkipScore  float64             `yaml:"gap_skip_score" json:"gap_skip_score"`
	// SaveScoreMin is the minimum overall score for persisting the artifact
	// as a writing sample.
	SaveScoreMin float64 `yaml:"save_score_min" json:"save_score_min"`
	// StageTimeout bounds each collaborator invocation.
	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout"`
	// RetryAttempts is the number of tries per collaborator invocation.
	// 1 means failures abort the run immediately.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryBackoff is the pause before a retry, doubled per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Budget:        DefaultIterationBudget(),
		Convergence:   DefaultConvergenceDetector(),
		GapCheckLimit: 2,
		GapSkipScore:  85.0,
		SaveScoreMin:  80.0,
		StageTimeout:  120 * time.Second,
		RetryAttempts: 1,
		RetryBackoff:  500 * time.Millisecond,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Budget.Ceiling == 0 {
		c.Budget = def.Budget
	}
	if c.Convergence.PlateauWindow == 0 {
		c.Convergence = def.Convergence
	}
	if c.GapCheckLimit == 0 {
		c.GapCheckLimit = def.GapCheckLimit
	}
	if c.GapSkipScore == 0 {
		c.GapSkipScore = def.GapSkipScore
	}
	if c.SaveScoreMin == 0 {
		c.SaveScoreMin = def.SaveScoreMin
	}
	if c.StageTimeout == 0 {
		c.StageTimeout = def.StageTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = def.RetryBackoff
	}
}

// Engine executes writing runs. It is safe for concurrent use; each run owns
// its own state and runs sequentially on the calling goroutine.
type Engine struct {
	col    Collaborators
	router *Router
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEngine validates the collaborator set and builds an engine.
func NewEngine(col Collaborators, cfg Config, logger *zap.Logger) (*Engine, error) {
	switch {
	case col.Researcher == nil:
		return nil, fmt.Errorf("workflow: researcher is required")
	case col.Drafter == nil:
		return nil, fmt.Errorf("workflow: drafter is required")
	case col.Stylist == nil:
		return nil, fmt.Errorf("workflow: stylist is required")
	case col.Reviewer == nil:
		return nil, fmt.Errorf("workflow: reviewer is required")
	case col.Reviser == nil:
		return nil, fmt.Errorf("workflow: reviser is required")
	case col.GapScanner == nil:
		return nil, fmt.Errorf("workflow: gap scanner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.normalize()
	router := NewRouter(cfg.Budget, cfg.Convergence)
	router.GapCheckLimit = cfg.GapCheckLimit
	router.GapSkipScore = cfg.GapSkipScore
	return &Engine{
		col:    col,
		router: router,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("plume/workflow"),
	}, nil
}

// Router exposes the engine's transition function, mainly for tests and
// diagnostics endpoints.
func (e *Engine) Router() *Router { return e.router }

// Run executes a writing request to its terminal state. The returned result
// is never nil; on failure it carries status failed and the error text, and
// the same error is returned for the caller to log. Events go to em, which
// may be nil.
func (e *Engine) Run(ctx context.Context, req models.WritingRequest, em Emitter) (*models.WritingResult, error) {
	if em == nil {
		em = NopEmitter{}
	}
	st := NewState(req)
	ctx = interceptors.WithRunID(ctx, st.RequestID)
	logger := e.logger.With(
		zap.String("request_id", st.RequestID),
		zap.String("user_id", req.UserID),
		zap.String("category", req.Category),
	)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run.request_id", st.RequestID),
		attribute.String("run.category", req.Category),
	))
	defer span.End()

	start := time.Now()
	metrics.RunsStarted.WithLabelValues(req.Category, st.Request.Requirements.Mode).Inc()
	logger.Info("run started",
		zap.Float64("quality_threshold", st.Request.Requirements.QualityThreshold),
		zap.String("mode", st.Request.Requirements.Mode),
	)

	runErr := e.loop(ctx, st, em, logger)
	elapsed := time.Since(start)

	if runErr != nil {
		span.RecordError(runErr)
		result := st.Result(models.StatusFailed, runErr)
		e.emit(st, em, StageError, progressDone, fmt.Sprintf("Generation failed: %v", runErr),
			map[string]interface{}{"result": result})
		metrics.RecordRunMetrics(req.Category, st.Request.Requirements.Mode, models.StatusFailed,
			elapsed.Seconds(), st.ReviseCount, st.QualityScore)
		logger.Error("run failed", zap.Error(runErr), zap.Duration("elapsed", elapsed))
		return result, runErr
	}

	result := st.Result(models.StatusCompleted, nil)
	if st.Content != "" {
		stats := textstats.Compute(st.Content)
		result.TextStats = &stats
	}
	e.emit(st, em, StageComplete, progressDone, fmt.Sprintf("Complete: quality %.1f/100", st.QualityScore),
		map[string]interface{}{"result": result})
	metrics.RecordRunMetrics(req.Category, st.Request.Requirements.Mode, models.StatusCompleted,
		elapsed.Seconds(), st.ReviseCount, st.QualityScore)
	logger.Info("run completed",
		zap.Float64("quality", st.QualityScore),
		zap.Int("iterations", st.ReviseCount),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// loop walks the state machine until completion. Fixed edges chain the
// initial pipeline and return every revision to review; the router decides
// everything after a review or a gap scan.
func (e *Engine) loop(ctx context.Context, st *State, em Emitter, logger *zap.Logger) error {
	stage := StageResearch
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run aborted: %w", err)
		}

		switch stage {
		case StageResearch:
			if err := e.runResearch(ctx, st, em); err != nil {
				return err
			}
			stage = StageDraft

		case StageDraft:
			if err := e.runDraft(ctx, st, em); err != nil {
				return err
			}
			stage = StageStyle

		case StageStyle:
			if err := e.runStyle(ctx, st, em); err != nil {
				return err
			}
			stage = StageReview

		case StageReview:
			if err := e.runReview(ctx, st, em); err != nil {
				return err
			}
			next, done, err := e.advance(ctx, st, em, logger)
			if err != nil || done {
				return err
			}
			stage = next

		case StageGapCheck:
			if err := e.runGapCheck(ctx, st, em, logger); err != nil {
				return err
			}
			next, done, err := e.advance(ctx, st, em, logger)
			if err != nil || done {
				return err
			}
			stage = next

		case StageRevise:
			if err := e.runRevise(ctx, st, em); err != nil {
				return err
			}
			stage = StageReview

		default:
			return fmt.Errorf("unknown stage %q", stage)
		}
	}
}

// advance consults the router and translates its decision into the next
// stage. done is true when the run reached its terminal state.
func (e *Engine) advance(ctx context.Context, st *State, em Emitter, logger *zap.Logger) (Stage, bool, error) {
	decision, reason := e.router.Route(st)
	fields := []zap.Field{
		zap.String("decision", string(decision)),
		zap.String("phase", string(st.Phase)),
		zap.Float64("quality", st.QualityScore),
		zap.Int("iterations", st.ReviseCount),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
		switch reason {
		case ReasonBudgetExhausted:
			metrics.BudgetExhaustions.WithLabelValues(st.Request.Category).Inc()
		case string(StopPlateau), string(StopRegression), string(StopDiminishing):
			metrics.ConvergenceStops.WithLabelValues(reason).Inc()
		}
	}
	logger.Debug("routed", fields...)

	switch decision {
	case DecisionComplete:
		return "", true, e.runComplete(ctx, st, em, logger)
	case DecisionGapCheck:
		return StageGapCheck, false, nil
	case DecisionRevise:
		return StageRevise, false, nil
	case DecisionResearch:
		return StageResearch, false, nil
	case DecisionStyle:
		return StageStyle, false, nil
	case DecisionFinalStyle:
		st.NeedsFinalPass = true
		return StageStyle, false, nil
	}
	return "", false, fmt.Errorf("unknown routing decision %q", decision)
}

func (e *Engine) runResearch(ctx context.Context, st *State, em Emitter) error {
	n := st.ResearchCount + 1
	e.emit(st, em, StageResearch, e.progressFor(st, StageResearch),
		fmt.Sprintf("Research pass %d: gathering information", n), nil)

	var data map[string]interface{}
	err := e.invoke(ctx, StageResearch, func(c context.Context) error {
		var err error
		data, err = e.col.Researcher.Gather(c, st.Request)
		return err
	})
	if err != nil {
		return err
	}

	st.MergeResearch(data)
	st.ResearchCount = n
	if st.Phase == PhaseGapCheck {
		st.Phase = PhaseRefine
	}
	return nil
}

func (e *Engine) runDraft(ctx context.Context, st *State, em Emitter) error {
	n := st.DraftCount + 1
	e.emit(st, em, StageDraft, e.progressFor(st, StageDraft),
		fmt.Sprintf("Draft pass %d: composing content", n), nil)

	var content string
	err := e.invoke(ctx, StageDraft, func(c context.Context) error {
		var err error
		content, err = e.col.Drafter.Draft(c, st.Request, st.ResearchData)
		return err
	})
	if err != nil {
		return err
	}

	st.Content = content
	st.DraftCount = n
	return nil
}

func (e *Engine) runStyle(ctx context.Context, st *State, em Emitter) error {
	final := st.NeedsFinalPass
	if final {
		e.emit(st, em, StageStyle, progressFinal, "Final style pass: reinforcing your voice", nil)
	} else {
		e.emit(st, em, StageStyle, e.progressFor(st, StageStyle),
			fmt.Sprintf("Style pass %d: applying your voice", st.StyleCount+1), nil)
	}

	var styled string
	err := e.invoke(ctx, StageStyle, func(c context.Context) error {
		var err error
		styled, err = e.col.Stylist.Apply(c, st.Content, st.Request)
		return err
	})
	if err != nil {
		return err
	}

	st.RecordStyled(styled, final)
	return nil
}

func (e *Engine) runReview(ctx context.Context, st *State, em Emitter) error {
	e.emit(st, em, StageReview, e.progressFor(st, StageReview),
		fmt.Sprintf("Review pass %d: evaluating quality", st.ReviewCount+1), nil)

	var rv *Review
	err := e.invoke(ctx, StageReview, func(c context.Context) error {
		var err error
		rv, err = e.col.Reviewer.Review(c, st.Content, st.Request.Requirements)
		return err
	})
	if err != nil {
		return err
	}

	st.RecordReview(rv)
	e.emit(st, em, StageReview, e.progressFor(st, StageReview),
		fmt.Sprintf("Quality %.1f/100", st.QualityScore), nil)
	return nil
}

func (e *Engine) runRevise(ctx context.Context, st *State, em Emitter) error {
	n := st.ReviseCount + 1
	if n == 1 {
		e.emit(st, em, StageRevise, e.progressFor(st, StageRevise), "Revising: improving quality", nil)
	}

	var content string
	err := e.invoke(ctx, StageRevise, func(c context.Context) error {
		var err error
		content, err = e.col.Reviser.Revise(c, st.Content, st.Suggestions, st.VoiceReference)
		return err
	})
	if err != nil {
		return err
	}

	st.Content = content
	st.Phase = PhaseRefine
	st.ReviseCount = n
	return nil
}

func (e *Engine) runGapCheck(ctx context.Context, st *State, em Emitter, logger *zap.Logger) error {
	n := st.GapCheckCount + 1
	e.emit(st, em, StageGapCheck, e.progressFor(st, StageGapCheck), "Checking for gaps", nil)

	var profile *models.UserProfile
	if e.col.Profiles != nil {
		p, err := e.col.Profiles.GetProfile(ctx, st.Request.UserID)
		if err != nil {
			logger.Warn("profile lookup failed, scanning without profile", zap.Error(err))
		} else {
			profile = p
		}
	}

	var report *models.GapReport
	err := e.invoke(ctx, StageGapCheck, func(c context.Context) error {
		var err error
		report, err = e.col.GapScanner.Scan(c, st.Content, st.Request, profile)
		return err
	})
	if err != nil {
		return err
	}
	if report == nil {
		report = &models.GapReport{}
	}

	st.Gaps = report
	st.Phase = PhaseGapCheck
	st.GapCheckCount = n

	if report.HasGaps {
		total := 0
		for _, findings := range report.Details {
			total += len(findings)
		}
		e.emit(st, em, StageGapCheck, e.progressFor(st, StageGapCheck),
			fmt.Sprintf("Found %d %s gaps", total, report.Category), nil)
	}
	return nil
}

// runComplete finishes the run: persists the artifact as a writing sample
// when it scored high enough, then marks the state done. Sample persistence
// is best effort and never fails the run.
func (e *Engine) runComplete(ctx context.Context, st *State, em Emitter, logger *zap.Logger) error {
	if st.QualityScore >= e.cfg.SaveScoreMin && e.col.Samples != nil {
		e.emit(st, em, StageSave, progressSave, "Saving writing sample", nil)
		now := time.Now().UTC()
		sample := &models.WritingSample{
			SampleID:     uuid.New().String(),
			UserID:       st.Request.UserID,
			Content:      st.Content,
			Category:     st.Request.Category,
			Context:      st.Request.Context,
			QualityScore: st.QualityScore,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.col.Samples.SaveSample(ctx, sample); err != nil {
			logger.Warn("sample save failed", zap.Error(err))
		} else {
			metrics.SamplesSaved.WithLabelValues(st.Request.Category).Inc()
		}
	}
	st.Phase = PhaseDone
	return nil
}

// invoke runs one collaborator call under the stage timeout with bounded
// retries. Cancellation of the parent context stops retrying immediately.
func (e *Engine) invoke(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	start := time.Now()
	sctx, span := e.tracer.Start(ctx, "workflow.stage", trace.WithAttributes(
		attribute.String("stage", string(stage)),
	))
	defer span.End()

	var err error
	backoff := e.cfg.RetryBackoff
	for attempt := 0; attempt < e.cfg.RetryAttempts; attempt++ {
		actx := sctx
		cancel := func() {}
		if e.cfg.StageTimeout > 0 {
			actx, cancel = context.WithTimeout(sctx, e.cfg.StageTimeout)
		}
		err = fn(actx)
		cancel()
		if err == nil || sctx.Err() != nil {
			break
		}
		if attempt < e.cfg.RetryAttempts-1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-sctx.Done():
				err = sctx.Err()
			}
			if sctx.Err() != nil {
				break
			}
		}
	}

	metrics.RecordStageMetrics(string(stage), time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		return &StageFailure{Stage: stage, Err: err}
	}
	return nil
}

// emit publishes one event, clamping progress so it never moves backwards.
func (e *Engine) emit(st *State, em Emitter, stage Stage, progress int, message string, data map[string]interface{}) {
	if progress < st.lastProgress {
		progress = st.lastProgress
	} else {
		st.lastProgress = progress
	}
	em.Emit(Event{
		Stage:     stage,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
