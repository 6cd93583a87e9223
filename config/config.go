package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	// Pipeline
	IngestBatchSize    int `envconfig:"INGEST_BATCH_SIZE" default:"1000"`
	StagingBatchSize   int `envconfig:"STAGING_BATCH_SIZE" default:"500"`
	ReportDisplayLimit int `envconfig:"REPORT_DISPLAY_LIMIT" default:"25"`
	VerifyWorkers      int `envconfig:"VERIFY_WORKERS" default:"4"`

	// Query-Server
	HTTPPort       string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey   string `envconfig:"API_SECRET_KEY"`
	VerifySchedule string `envconfig:"VERIFY_SCHEDULE" default:"0 3 * * *"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`

	// Lookup-Cache; leere Adresse deaktiviert Redis
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	// Archiv für Quelldateien und Audit-Exporte; leerer Bucket deaktiviert S3
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" default:"eu-central-1"`
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
	AuditExportKeep int    `envconfig:"AUDIT_EXPORT_KEEP" default:"4"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// ArchiveEnabled meldet, ob ein S3-Archiv konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}
