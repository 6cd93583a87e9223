package storage

import (
	"interaction-pipeline/config"
	"interaction-pipeline/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormConfig ist die gemeinsame GORM-Konfiguration für Produktion und Tests.
// Fremdschlüssel werden bewusst nicht angelegt: Waisen sollen vom Integritätscheck
// gefunden werden können, statt vom Schema verhindert zu werden.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	}
}

// OpenPostgres verbindet sich mit der kanonischen Datenbank.
func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DSN()), GormConfig())
}

// Migrate legt alle Tabellen der Pipeline an bzw. aktualisiert sie.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Substance{},
		&models.SubstanceToken{},
		&models.Interaction{},
		&models.StagingRow{},
		&models.IngestionAudit{},
	)
}
