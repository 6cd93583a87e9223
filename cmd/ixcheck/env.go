package main

import (
	"context"
	"encoding/json"
	"io"

	"interaction-pipeline/config"
	"interaction-pipeline/logger"
	"interaction-pipeline/services"
	"interaction-pipeline/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// env sind die gemeinsamen Abhängigkeiten aller Kommandos.
type env struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
	s3  *s3.Client

	cache *storage.RedisCache
}

// openEnv lädt Konfiguration und Logger und verbindet die Datenbank.
func openEnv(cmd *cobra.Command) (*env, error) {
	e, err := loadEnv(cmd)
	if err != nil {
		return nil, err
	}
	if err := e.connect(); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

// loadEnv lädt Konfiguration, Logger und den S3-Client, ohne die Datenbank zu berühren.
// Konfigurationsfehler sind Bedienfehler.
func loadEnv(cmd *cobra.Command) (*env, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(services.ExitUsage, err)
	}
	log, err := logger.FromLevel(cfg.LogLevel)
	if verbose {
		log, err = logger.New(true)
	}
	if err != nil {
		return nil, withCode(services.ExitUsage, err)
	}

	e := &env{cfg: cfg, log: log}
	if cfg.ArchiveEnabled() {
		client, err := storage.NewS3Client(cmd.Context(), cfg)
		if err != nil {
			return nil, withCode(services.ExitUsage, err)
		}
		e.s3 = client
	}
	return e, nil
}

// connect öffnet und migriert die Datenbank. Fehler sind Speicherfehler.
func (e *env) connect() error {
	db, err := storage.OpenPostgres(e.cfg)
	if err != nil {
		return withCode(services.ExitStorage, err)
	}
	e.db = db
	if err := storage.Migrate(db); err != nil {
		return withCode(services.ExitStorage, err)
	}
	return nil
}

func (e *env) close() {
	_ = e.log.Sync()
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.db == nil {
		return
	}
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// objectGetter liefert nil, wenn kein Archiv konfiguriert ist.
func (e *env) objectGetter() storage.ObjectGetter {
	if e.s3 == nil {
		return nil
	}
	return e.s3
}

// archive liefert nil, wenn kein Archiv konfiguriert ist.
func (e *env) archive() storage.ObjectStore {
	if e.s3 == nil {
		return nil
	}
	return storage.NewS3Store(e.s3, e.cfg)
}

func (e *env) pipeline() *services.IngestionService {
	svc := services.NewIngestionService(e.db, e.log, nil, services.PipelineConfig{
		BatchSize:        e.cfg.IngestBatchSize,
		StagingBatchSize: e.cfg.StagingBatchSize,
		DisplayLimit:     e.cfg.ReportDisplayLimit,
		VerifyWorkers:    e.cfg.VerifyWorkers,
	})
	svc.Archive = e.archive()
	if e.cfg.RedisAddr != "" {
		cache, err := storage.NewRedisCache(context.Background(), e.cfg.RedisAddr, e.cfg.RedisPassword, e.cfg.RedisDB, e.cfg.CacheTTL)
		if err != nil {
			e.log.Warn("Redis unavailable, lookup cache will not be invalidated", zap.Error(err))
		} else {
			e.cache = cache
			svc.Invalidator = cache
		}
	}
	return svc
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
