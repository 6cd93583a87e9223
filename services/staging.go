package services

import (
	"context"
	"fmt"

	"interaction-pipeline/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultStagingBatchSize ist die Batch-Größe beim Befüllen des Staging-Bereichs.
const DefaultStagingBatchSize = 500

// StagingLoader befüllt den Staging-Bereich. Es gibt genau einen Staging-Bereich;
// gleichzeitige Läufe überschreiben sich gegenseitig und werden nicht unterstützt.
type StagingLoader struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	BatchSize int
}

// NewStagingLoader erstellt einen neuen Loader.
func NewStagingLoader(db *gorm.DB, logger *zap.Logger, batchSize int) *StagingLoader {
	if batchSize <= 0 {
		batchSize = DefaultStagingBatchSize
	}
	return &StagingLoader{DB: db, Logger: logger, BatchSize: batchSize}
}

// Truncate leert den Staging-Bereich vollständig.
func (l *StagingLoader) Truncate(ctx context.Context) error {
	db := l.DB.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		return db.Exec("TRUNCATE TABLE " + models.StagingRow{}.TableName()).Error
	}
	return db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.StagingRow{}).Error
}

// Load leert den Staging-Bereich und lädt alle Datensätze in einer Transaktion.
// Schlägt ein Batch fehl, bleibt nichts aus diesem Lauf im Staging zurück.
func (l *StagingLoader) Load(ctx context.Context, runID string, records []InteractionRecord) (int, error) {
	if err := l.Truncate(ctx); err != nil {
		return 0, fmt.Errorf("truncate staging: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]models.StagingRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.stagingRow(runID))
	}

	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, l.BatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("load staging: %w", err)
	}

	l.Logger.Info("Staging loaded",
		zap.String("run_id", runID),
		zap.Int("rows", len(rows)),
		zap.Int("batch_size", l.BatchSize))
	return len(rows), nil
}

// Rows liefert die Staging-Zeilen eines Laufs in Dateireihenfolge.
func (l *StagingLoader) Rows(ctx context.Context, runID string) ([]models.StagingRow, error) {
	var rows []models.StagingRow
	err := l.DB.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("row_number, id").
		Find(&rows).Error
	return rows, err
}

// Count zählt die Staging-Zeilen eines Laufs.
func (l *StagingLoader) Count(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := l.DB.WithContext(ctx).Model(&models.StagingRow{}).Where("run_id = ?", runID).Count(&n).Error
	return n, err
}
