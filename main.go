package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/plumeworks/plume/internal/agents"
	"github.com/plumeworks/plume/internal/auth"
	"github.com/plumeworks/plume/internal/circuitbreaker"
	"github.com/plumeworks/plume/internal/config"
	"github.com/plumeworks/plume/internal/db"
	"github.com/plumeworks/plume/internal/embeddings"
	"github.com/plumeworks/plume/internal/health"
	"github.com/plumeworks/plume/internal/httpapi"
	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/policy"
	"github.com/plumeworks/plume/internal/pricing"
	"github.com/plumeworks/plume/internal/ratecontrol"
	"github.com/plumeworks/plume/internal/server"
	"github.com/plumeworks/plume/internal/streaming"
	"github.com/plumeworks/plume/internal/tracing"
	"github.com/plumeworks/plume/internal/vectordb"
	"github.com/plumeworks/plume/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	circuitbreaker.StartMetricsCollection()

	// Health manager and admin endpoints come up first so probes answer
	// while the rest of the stack is still wiring.
	hm := health.NewManager(healthConfig(cfg.Health), logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	adminSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("admin server listening", zap.String("addr", adminSrv.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()
	if err := hm.Start(ctx); err != nil {
		logger.Warn("health manager start failed", zap.Error(err))
	}

	dbClient, err := db.NewClient(dbConfig(cfg.Database), logger)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer dbClient.Close()
	_ = hm.RegisterChecker(health.NewDatabaseChecker(dbClient.Wrapper(), logger))

	// One Redis client backs the result cache, the rate limiter, the
	// optional stream mirror, and the optional embeddings cache.
	var rdb *redis.Client
	var redisWrapper *circuitbreaker.RedisWrapper
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisWrapper = circuitbreaker.NewRedisWrapper(rdb, logger)
		_ = hm.RegisterChecker(health.NewRedisChecker(redisWrapper, logger))
	}

	// Hot reload. The file manager watches the config directory; the typed
	// manager layers a validated view of plume.yaml on top. Both are
	// optional: without them the bootstrap configuration simply stays fixed.
	var files *config.Manager
	var plumeMgr *config.PlumeManager
	if m, err := config.NewManager(config.Dir(), logger); err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else if err := m.Start(); err != nil {
		logger.Warn("config watcher start failed", zap.Error(err))
	} else {
		files = m
		plumeMgr = config.NewPlumeManager(files, logger)
		if err := plumeMgr.Initialize(); err != nil {
			logger.Warn("typed config init failed", zap.Error(err))
			plumeMgr = nil
		}
		files.RegisterHandler("models.yaml", func(config.ChangeEvent) error {
			pricing.Reload()
			return nil
		})
		files.RegisterHandler("rate_limits.yaml", func(config.ChangeEvent) error {
			ratecontrol.Reload()
			return nil
		})
	}

	if cfg.RateLimit.CategoriesPath != "" {
		ratecontrol.SetConfigPath(cfg.RateLimit.CategoriesPath)
	}

	polEngine, err := policy.NewOPAEngine(policyConfig(cfg.Policy), logger)
	if err != nil {
		logger.Fatal("policy engine init failed", zap.Error(err))
	}
	if files != nil {
		files.RegisterPolicyHandler(polEngine.LoadPolicies)
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	}

	// Embeddings and the sample vector index. The index client no-ops when
	// disabled, so downstream wiring does not branch on it.
	embBase := cfg.Embeddings.BaseURL
	if embBase == "" {
		embBase = cfg.LLM.BaseURL
	}
	var embCache embeddings.Cache
	if cfg.Embeddings.UseRedisCache && rdb != nil {
		embCache = embeddings.NewRedisCache(rdb, logger)
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:      embBase,
		DefaultModel: cfg.Embeddings.DefaultModel,
		Timeout:      cfg.Embeddings.Timeout,
		CacheTTL:     cfg.Embeddings.CacheTTL,
		MaxLRU:       cfg.Embeddings.MaxLRU,
	}, embCache)
	vectorClient := vectordb.NewClient(vectordb.Config{
		Enabled:     cfg.Vector.Enabled,
		Host:        cfg.Vector.Host,
		Port:        cfg.Vector.Port,
		Samples:     cfg.Vector.Samples,
		TopK:        cfg.Vector.TopK,
		Threshold:   cfg.Vector.Threshold,
		Timeout:     cfg.Vector.Timeout,
		ExpectedDim: cfg.Vector.ExpectedDim,
	}, logger)
	sampleIndex := vectordb.NewSampleIndex(vectorClient, embedder, logger)

	llm := agents.NewClient(agents.ClientConfig{
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	}, logger)
	_ = hm.RegisterChecker(health.NewLLMServiceChecker(cfg.LLM.BaseURL, logger))

	col := workflow.Collaborators{
		Researcher: agents.NewResearcher(llm, 0, logger),
		Drafter:    agents.NewDrafter(llm, logger),
		Stylist: agents.NewStylist(llm, dbClient, &sampleSearch{
			index: sampleIndex,
			store: dbClient,
		}, logger),
		Reviewer:   agents.NewReviewer(llm, logger),
		Reviser:    agents.NewReviser(llm, logger),
		GapScanner: agents.NewGapScanner(llm, logger),
		Profiles:   dbClient,
		Samples: &indexedSampleStore{
			store:  dbClient.QueuedSamples(),
			index:  sampleIndex,
			logger: logger,
		},
	}

	streams := streaming.NewManager(cfg.Streaming.RingCapacity, logger)
	if cfg.Streaming.MirrorEnabled && rdb != nil {
		streams.AttachMirror(streaming.NewRedisMirror(rdb, streaming.MirrorConfig{
			TTL:    cfg.Streaming.MirrorTTL,
			MaxLen: int64(cfg.Streaming.MirrorMaxLen),
		}, logger))
	}

	var cache *server.ResultCache
	if redisWrapper != nil {
		cache = server.NewResultCache(redisWrapper, cfg.Redis.ResultCacheTTL, logger)
	}
	submits := server.NewSubmitLimiter(cfg.RateLimit.SubmitPerSecond, cfg.RateLimit.SubmitBurst)

	svc, err := server.New(server.Deps{
		Collaborators: col,
		Store:         dbClient,
		Streams:       streams,
		Cache:         cache,
		Submits:       submits,
		Logger:        logger,
	}, server.EngineConfig(cfg.Workflow))
	if err != nil {
		logger.Fatal("run service init failed", zap.Error(err))
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = "change-this-to-a-secure-32-char-minimum-secret"
		logger.Warn("JWT_SECRET not set, signing tokens with the development default")
	}
	jwtManager := auth.NewJWTManager(secret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)
	keyService := auth.NewService(dbClient, logger)
	skipAuth := cfg.Auth.SkipAuth || !cfg.Auth.Enabled
	authMW := auth.NewMiddleware(keyService, jwtManager, skipAuth)
	if skipAuth {
		logger.Warn("authentication disabled, requests run as the dev user")
	}

	var limits *ratecontrol.Limiter
	if cfg.RateLimit.Enabled && rdb != nil {
		limits = ratecontrol.NewLimiter(rdb, ratecontrol.Config{
			Enabled:           true,
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			Window:            cfg.RateLimit.Window,
		}, logger)
	}

	api := httpapi.NewHandler(httpapi.Deps{
		Service: svc,
		Streams: streams,
		Store:   dbClient,
		Keys:    keyService,
		JWT:     jwtManager,
		Auth:    authMW,
		Policy:  polEngine,
		Limits:  limits,
		Logger:  logger,
	})
	apiSrv := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Service.Port),
		Handler:     api.Routes(),
		ReadTimeout: cfg.Service.ReadTimeout,
		// Streams stay open for the life of a run; the SSE handler clears
		// its own write deadline, so this bounds only regular responses.
		WriteTimeout:   cfg.Service.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.Service.MaxHeaderBytes,
	}
	go func() {
		logger.Info("api server listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	// Config changes that apply without a restart: run tuning for new runs,
	// submission pacing, and health check settings.
	if plumeMgr != nil {
		plumeMgr.RegisterCallback(func(_, next *config.PlumeConfig) error {
			svc.UpdateWorkflowConfig(server.EngineConfig(next.Workflow))
			submits.Update(next.RateLimit.SubmitPerSecond, next.RateLimit.SubmitBurst)
			if err := hm.UpdateConfig(healthConfig(next.Health)); err != nil {
				logger.Error("health config update failed", zap.Error(err))
			}
			return nil
		})
	}

	logger.Info("plume ready",
		zap.Int("port", cfg.Service.Port),
		zap.Int("admin_port", cfg.Service.AdminPort),
		zap.Bool("auth", !skipAuth),
		zap.Bool("policy", polEngine.IsEnabled()),
		zap.Bool("vector_index", sampleIndex.Enabled()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("run service shutdown failed", zap.Error(err))
	}
	_ = hm.Stop()
	if files != nil {
		_ = files.Stop()
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", zap.Error(err))
	}
}

// indexedSampleStore persists saved artifacts through the async write queue
// and mirrors them into the vector index. Index failures are logged, not
// returned; the database row is the source of truth.
type indexedSampleStore struct {
	store  *db.QueuedSampleStore
	index  *vectordb.SampleIndex
	logger *zap.Logger
}

func (s *indexedSampleStore) SaveSample(ctx context.Context, sample *models.WritingSample) error {
	if err := s.store.SaveSample(ctx, sample); err != nil {
		return err
	}
	if s.index.Enabled() {
		if err := s.index.IndexSample(ctx, *sample); err != nil {
			s.logger.Warn("sample indexing failed",
				zap.String("sample_id", sample.SampleID),
				zap.Error(err))
		}
	}
	return nil
}

// sampleSearch serves voice-reference lookups from the vector index and
// falls back to the relational recency ordering when the index is disabled,
// empty, or failing.
type sampleSearch struct {
	index *vectordb.SampleIndex
	store *db.Client
}

func (s *sampleSearch) FindSamples(ctx context.Context, userID, category, queryText string, limit int) ([]models.WritingSample, error) {
	if s.index.Enabled() {
		samples, err := s.index.FindSamples(ctx, userID, category, queryText, limit)
		if err == nil && len(samples) > 0 {
			return samples, nil
		}
	}
	return s.store.FindSamples(ctx, userID, category, queryText, limit)
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}
	if len(cfg.ErrorOutputPaths) > 0 {
		zcfg.ErrorOutputPaths = cfg.ErrorOutputPaths
	}
	return zcfg.Build()
}

func dbConfig(cfg config.DatabaseConfig) *db.Config {
	return &db.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		Path:            cfg.Path,
		SSLMode:         cfg.SSLMode,
		MaxConnections:  cfg.MaxConnections,
		IdleConnections: cfg.IdleConnections,
		MaxLifetime:     cfg.MaxLifetime,
	}
}

func healthConfig(cfg config.HealthConfig) *health.Config {
	out := &health.Config{
		Enabled:       cfg.Enabled,
		CheckInterval: cfg.CheckInterval,
		Timeout:       cfg.Timeout,
		Checks:        make(map[string]health.CheckConfig, len(cfg.Checks)),
	}
	for name, check := range cfg.Checks {
		out.Checks[name] = health.CheckConfig{
			Enabled:  check.Enabled,
			Critical: check.Critical,
			Timeout:  check.Timeout,
			Interval: check.Interval,
		}
	}
	return out
}

func policyConfig(cfg config.PolicyConfig) *policy.Config {
	return &policy.Config{
		Enabled:     cfg.Enabled,
		Mode:        policy.Mode(cfg.Mode),
		Path:        cfg.Path,
		FailClosed:  cfg.FailClosed,
		Environment: cfg.Environment,
		Audit: policy.AuditConfig{
			Enabled:         cfg.Audit.Enabled,
			LogLevel:        cfg.Audit.LogLevel,
			IncludeInput:    cfg.Audit.IncludeInput,
			IncludeDecision: cfg.Audit.IncludeDecision,
		},
	}
}
