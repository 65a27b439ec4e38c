package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sopworks/sop-api/api/swagger"
	"github.com/sopworks/sop-api/internal/generation"
	"github.com/sopworks/sop-api/internal/handler"
	"github.com/sopworks/sop-api/internal/middleware"
	"github.com/sopworks/sop-api/internal/repository"
	"github.com/sopworks/sop-api/internal/service"
	"github.com/sopworks/sop-api/internal/validation"
	"github.com/sopworks/sop-api/pkg/cache"
	"github.com/sopworks/sop-api/pkg/config"
	"github.com/sopworks/sop-api/pkg/database"
	"github.com/sopworks/sop-api/pkg/export"
	"github.com/sopworks/sop-api/pkg/jobs"
	"github.com/sopworks/sop-api/pkg/logger"
	corsmiddleware "github.com/sopworks/sop-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sopworks/sop-api/pkg/middleware/requestid"
	"github.com/sopworks/sop-api/pkg/storage"
)

// @title SOP Generation API
// @version 1.0.0
// @description Asynchronous SOP generation with compliance validation and an immutable audit trail
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, review queue notifications disabled", "error", err)
		redisClient = nil
	}

	artifactStore, err := storage.NewLocalStorage(cfg.Artifacts.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init artifact storage", "error", err)
	}

	metricsSvc := service.NewMetricsService()

	sopRepo := repository.NewSOPRepository(db, metricsSvc.ObserveDBQuery)
	auditRepo := repository.NewAuditRepository(db, metricsSvc.ObserveDBQuery)

	engine := generation.NewOllamaEngine(generation.OllamaConfig{
		BaseURL: cfg.Generation.EngineURL,
		Model:   cfg.Generation.Model,
	}, &http.Client{}, logr)
	auditSvc := service.NewAuditService(auditRepo, redisClient, logr, service.AuditServiceConfig{
		ReviewQueueKey:     cfg.Audit.ReviewQueueKey,
		NotifyReviewQueue:  cfg.Audit.NotifyReviewQueue,
		ExportDefaultLimit: cfg.Audit.ExportDefaultLimit,
	})

	var sopSvc *service.SOPService
	queue := jobs.NewQueue("sop-generation", func(ctx context.Context, job jobs.Job) error {
		return sopSvc.HandleJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Jobs.WorkerConcurrency,
		BufferSize: cfg.Jobs.BufferSize,
		Logger:     logr,
	})

	sopSvc = service.NewSOPService(sopRepo, engine, validation.New(), queue, auditSvc, metricsSvc, logr, service.SOPServiceConfig{
		MaxAttempts:    cfg.Generation.MaxAttempts,
		AttemptTimeout: cfg.Generation.AttemptTimeout,
		RetryBackoff:   cfg.Generation.RetryBackoff,
		RecoveryBatch:  cfg.Jobs.RecoveryBatch,
	})
	exportSvc := service.NewExportService(sopRepo, export.NewPDFExporter(), artifactStore, logr)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(rootCtx)
	defer queue.Stop()
	sopSvc.RecoverJobs(rootCtx)

	sopHandler := handler.NewSOPHandler(sopSvc, exportSvc)
	auditHandler := handler.NewAuditHandler(auditSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, engine)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.Actor())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/sops", sopHandler.Submit)
		api.GET("/sops", sopHandler.List)
		api.GET("/sops/:id", sopHandler.Get)
		api.POST("/sops/:id/review/start", sopHandler.BeginReview)
		api.POST("/sops/:id/review", sopHandler.Review)
		api.POST("/sops/:id/cancel", sopHandler.Cancel)
		api.POST("/sops/:id/archive", sopHandler.Archive)
		api.GET("/sops/:id/pdf", sopHandler.DownloadPDF)
		api.GET("/sops/:id/audit", auditHandler.History)
		api.GET("/audit", auditHandler.Export)
		api.POST("/audit/:id/review", auditHandler.MarkReviewed)
		api.GET("/engine/health", metricsHandler.EngineHealth)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
