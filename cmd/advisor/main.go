package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"stockadvisor/internal/advisor"
	"stockadvisor/internal/audit"
	"stockadvisor/internal/cache"
	"stockadvisor/internal/config"
	"stockadvisor/internal/db"
	"stockadvisor/internal/handler"
	"stockadvisor/internal/logger"
	gormrepository "stockadvisor/internal/repository/gorm"
	"stockadvisor/internal/scheduler"
	"stockadvisor/internal/sources"
	"stockadvisor/internal/workflow"

	_ "stockadvisor/docs"
)

func main() {
	cfgPath := os.Getenv("SA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB, logger)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}
	store := gormrepository.New(dbConn.Gorm)

	cacheStore := cache.New(cfg.Cache, cfg.Redis)
	var cachePinger handler.Pinger
	if redisStore, ok := cacheStore.(*cache.RedisStore); ok {
		cachePinger = redisStore
		defer func() { _ = redisStore.Close() }()
	}

	sourceClient := sources.NewClient(
		cfg.Aggregator.BaseURL,
		cfg.Aggregator.APIKey,
		cfg.Aggregator.Timeout,
		cacheStore,
		cfg.Aggregator.CacheTTL,
		cfg.Aggregator.RatePerSecond,
		cfg.Aggregator.MaxElapsedTime,
		logger,
	)
	if strings.TrimSpace(cfg.Aggregator.BaseURL) == "" {
		logger.Warn("aggregator base url not set; runs will use placeholder source payloads")
	}

	agents, err := advisor.BuildAgents(cfg.Agents, cfg.OpenAI, cfg.Anthropic)
	if err != nil {
		logger.Fatal("build agents failed", zap.Error(err))
	}
	orchestrator, err := advisor.NewOrchestrator(agents, logger)
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	tracker := &workflow.Tracker{
		Repo:                store,
		Logger:              logger,
		FailureWriteTimeout: cfg.Workflow.FailureWriteTimeout,
	}
	reaper := &workflow.Reaper{
		Repo:       store,
		Logger:     logger,
		StaleAfter: cfg.Reaper.StaleAfter,
	}
	if sink := audit.NewSink(cfg.Audit, logger); sink != nil {
		tracker.Events = sink
		reaper.Events = sink
		logger.Info("audit events enabled", zap.String("agent", sink.Agent))
	}

	pipeline := &workflow.Pipeline{
		Repo: store,
		Preparer: &workflow.Preparer{
			Repo:           store,
			Tracker:        tracker,
			Sources:        sourceClient,
			Logger:         logger,
			DefaultSources: cfg.Aggregator.Sources,
		},
		Advisor: orchestrator,
		Materializer: &workflow.Materializer{
			Repo:               store,
			Logger:             logger,
			Top:                cfg.Workflow.MaterializeTop,
			EnforceBudget:      cfg.Workflow.EnforceBudget,
			DefaultHorizonDays: cfg.Workflow.DefaultHorizonDays,
		},
		Tracker:            tracker,
		Logger:             logger,
		MaxRecommendations: cfg.Workflow.MaxRecommendations,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(logger, ctx)
	if cfg.Reaper.Enabled {
		interval := cfg.Reaper.Interval
		if interval <= 0 {
			interval = workflow.DefaultReapInterval
		}
		if err := sched.Register("reaper", "@every "+interval.String(), reaper.Job); err != nil {
			logger.Warn("schedule register reaper failed", zap.Error(err))
		}
	}
	registerStrategySchedules(sched, pipeline, cfg.Schedules, logger)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn, Cache: cachePinger}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)
	workflowHandler := &handler.WorkflowHandler{
		Repo:      store,
		Runner:    pipeline,
		Reaper:    reaper,
		Schedules: sched,
		Logger:    logger,
	}
	workflowHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sched.Stop()
	pipeline.Wait()
	logger.Info("shutdown complete")
}

// registerStrategySchedules adds one pipeline trigger per configured strategy.
func registerStrategySchedules(sched *scheduler.Service, pipeline *workflow.Pipeline, schedules map[string]string, logger *zap.Logger) {
	ids := make([]string, 0, len(schedules))
	for id := range schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		strategyID := strings.TrimSpace(id)
		spec := schedules[id]
		err := sched.Register("strategy:"+strategyID, spec, func(ctx context.Context) {
			res, err := pipeline.Run(ctx, strategyID, nil)
			if err != nil {
				logger.Warn("scheduled workflow run failed",
					zap.String("strategy_id", strategyID),
					zap.String("run_id", workflow.RunIDFromError(err)),
					zap.Error(err),
				)
				return
			}
			logger.Info("scheduled workflow run ok",
				zap.String("strategy_id", strategyID),
				zap.String("run_id", res.RunID),
				zap.Int("predictions", len(res.Predictions.Created)),
			)
		})
		if err != nil {
			logger.Warn("schedule register strategy failed", zap.String("strategy_id", strategyID), zap.Error(err))
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
