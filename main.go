package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interaction-pipeline/config"
	"interaction-pipeline/logger"
	"interaction-pipeline/services"
	"interaction-pipeline/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxUploadBytes begrenzt den CSV-Body von POST /ingestions.
const maxUploadBytes = 64 << 20

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// app hält alle Abhängigkeiten der HTTP-Handler.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	log       *zap.Logger
	registry  *services.Registry
	lookup    *services.LookupService
	ingestion *services.IngestionService
	audit     *services.AuditLog
	verifier  *services.Verifier
	gatherer  prometheus.Gatherer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Config load error: %v", err)
		os.Exit(services.ExitUsage)
	}

	logging, err := logger.FromLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	db, err := storage.OpenPostgres(cfg)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to interaction database.")

	logging.Info("Running database auto-migration...")
	if err := storage.Migrate(db); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache storage.Cache = storage.NopCache{}
	if cfg.RedisAddr != "" {
		redisCache, err := storage.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			logging.Warn("Redis unavailable, lookup cache disabled", zap.Error(err))
		} else {
			defer redisCache.Close()
			cache = redisCache
			logging.Info("Lookup cache enabled", zap.String("addr", cfg.RedisAddr))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := newApp(cfg, db, logging, cache, services.NewMetrics(reg), reg)

	if cfg.ArchiveEnabled() {
		s3Client, err := storage.NewS3Client(ctx, cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		a.ingestion.Archive = storage.NewS3Store(s3Client, cfg)
	}

	router := a.router()

	// Setup Cron
	cronScheduler := cron.New()
	if _, err := cronScheduler.AddFunc(cfg.VerifySchedule, func() {
		logging.Info("Running scheduled integrity verification...")
		report := a.verifier.Verify(context.Background())
		if !report.Passed {
			logging.Error("Scheduled verification failed", zap.Int("failed_checks", len(report.Failed())))
		} else {
			logging.Info("Scheduled verification passed")
		}
	}); err != nil {
		logging.Fatal("Invalid VERIFY_SCHEDULE", zap.String("schedule", cfg.VerifySchedule), zap.Error(err))
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
	logging.Info("Server stopped")
}

func newApp(cfg *config.Config, db *gorm.DB, logging *zap.Logger, cache storage.Cache, metrics *services.Metrics, gatherer prometheus.Gatherer) *app {
	ingestion := services.NewIngestionService(db, logging, metrics, services.PipelineConfig{
		BatchSize:        cfg.IngestBatchSize,
		StagingBatchSize: cfg.StagingBatchSize,
		DisplayLimit:     cfg.ReportDisplayLimit,
		VerifyWorkers:    cfg.VerifyWorkers,
	})
	lookup := services.NewLookupService(db, ingestion.Registry, cache, logging)
	ingestion.Invalidator = lookup
	return &app{
		cfg:       cfg,
		db:        db,
		log:       logging,
		registry:  ingestion.Registry,
		lookup:    lookup,
		ingestion: ingestion,
		audit:     ingestion.Audit,
		verifier:  ingestion.Verifier,
		gatherer:  gatherer,
	}
}

func (a *app) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-API-KEY", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	setupInteractionRoutes(router, a)
	setupSubstanceRoutes(router, a)
	setupIngestionRoutes(router, a)
	setupIntegrityRoutes(router, a)
	return router
}

func (a *app) health(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
