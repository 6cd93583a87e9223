package services

import (
	"context"
	"fmt"

	"interaction-pipeline/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Grenzen und Default der Commit-Batch-Größe.
const (
	DefaultBatchSize = 1000
	MinBatchSize     = 1
	MaxBatchSize     = 10000
)

// RowOutcome ist das Ergebnis einer einzelnen Staging-Zeile.
type RowOutcome string

const (
	OutcomeInserted RowOutcome = "inserted"
	OutcomeUpdated  RowOutcome = "updated"
	OutcomeSkipped  RowOutcome = "skipped"
	OutcomeError    RowOutcome = "error"
)

// ValidateBatchSize prüft den erlaubten Bereich [1, 10000].
func ValidateBatchSize(n int) error {
	if n < MinBatchSize || n > MaxBatchSize {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidBatchSize, n, MinBatchSize, MaxBatchSize)
	}
	return nil
}

// CommitResult zählt die Ergebnisse aller bestätigten Batches.
// Inserted+Updated+Skipped+Errored entspricht den Zeilen der bestätigten Batches.
type CommitResult struct {
	Total    int        `json:"total"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Skipped  int        `json:"skipped"`
	Errored  int        `json:"errored"`
	Batches  int        `json:"batches"`
	Errors   []RowError `json:"errors,omitempty"`
}

func (r *CommitResult) record(o RowOutcome) {
	switch o {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeError:
		r.Errored++
	}
}

func (r *CommitResult) merge(b *CommitResult) {
	r.Inserted += b.Inserted
	r.Updated += b.Updated
	r.Skipped += b.Skipped
	r.Errored += b.Errored
	r.Errors = append(r.Errors, b.Errors...)
	r.Batches++
}

// Processed ist die Summe aller Zeilenergebnisse.
func (r *CommitResult) Processed() int {
	return r.Inserted + r.Updated + r.Skipped + r.Errored
}

// Committer überführt validierte Staging-Zeilen in die kanonische Interaction-Tabelle.
type Committer struct {
	DB       *gorm.DB
	Registry *Registry
	Staging  *StagingLoader
	Logger   *zap.Logger
	Metrics  *Metrics
}

// NewCommitter erstellt einen neuen Committer.
func NewCommitter(db *gorm.DB, registry *Registry, staging *StagingLoader, logger *zap.Logger, metrics *Metrics) *Committer {
	return &Committer{DB: db, Registry: registry, Staging: staging, Logger: logger, Metrics: metrics}
}

var interactionUpdateColumns = []string{
	"interaction_type", "severity", "summary_short", "mechanism", "clinical_effect",
	"management", "evidence_grade", "confidence", "last_run_id", "updated_at",
}

// Commit verarbeitet die Staging-Zeilen des Laufs in Batches. Jeder Batch ist eine
// Transaktion; ein Speicherfehler rollt den Batch zurück und bricht den Lauf ab,
// bereits bestätigte Batches bleiben bestehen. Der Kontext wird vor jedem Batch geprüft.
func (c *Committer) Commit(ctx context.Context, runID string, batchSize int) (*CommitResult, error) {
	if err := ValidateBatchSize(batchSize); err != nil {
		return nil, err
	}
	rows, err := c.Staging.Rows(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read staging: %w", err)
	}
	index, err := c.Registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	log := c.Logger.With(zap.String("run_id", runID))
	result := &CommitResult{Total: len(rows)}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("commit aborted before batch %d: %w", result.Batches+1, err)
		}

		batch := rows[start:end]
		var br *CommitResult
		err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			br = &CommitResult{}
			for _, row := range batch {
				outcome, rowErr, err := c.upsertRow(tx, runID, row, index)
				if err != nil {
					return fmt.Errorf("row %d: %w", row.RowNumber, err)
				}
				br.record(outcome)
				if rowErr != nil {
					br.Errors = append(br.Errors, *rowErr)
					log.Debug("Row not committed", zap.Int("row", rowErr.Row), zap.String("reason", rowErr.Message))
				}
			}
			return nil
		})
		if err != nil {
			log.Error("Batch rolled back",
				zap.Int("batch", result.Batches+1),
				zap.Int("first_row", batch[0].RowNumber),
				zap.Int("last_row", batch[len(batch)-1].RowNumber),
				zap.Error(err))
			return result, fmt.Errorf("batch %d (rows %d-%d): %w",
				result.Batches+1, batch[0].RowNumber, batch[len(batch)-1].RowNumber, err)
		}

		result.merge(br)
		c.Metrics.observeRows(br)
		log.Debug("Batch committed",
			zap.Int("batch", result.Batches),
			zap.Int("inserted", br.Inserted),
			zap.Int("updated", br.Updated),
			zap.Int("skipped", br.Skipped),
			zap.Int("errored", br.Errored))
	}

	log.Info("Commit finished",
		zap.Int("rows", result.Total),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errored", result.Errored),
		zap.Int("batches", result.Batches))
	return result, nil
}

// upsertRow schreibt eine Zeile. Datenfehler liefern OutcomeError mit RowError,
// Speicherfehler den error-Rückgabewert.
func (c *Committer) upsertRow(tx *gorm.DB, runID string, row models.StagingRow, index *TokenIndex) (RowOutcome, *RowError, error) {
	aID, ok := index.Resolve(Normalize(row.SubstanceAName))
	if !ok {
		return OutcomeError, &RowError{Row: row.RowNumber, Column: ColSubstanceA,
			Message: fmt.Sprintf("substance %q does not resolve", row.SubstanceAName)}, nil
	}
	bID, ok := index.Resolve(Normalize(row.SubstanceBName))
	if !ok {
		return OutcomeError, &RowError{Row: row.RowNumber, Column: ColSubstanceB,
			Message: fmt.Sprintf("substance %q does not resolve", row.SubstanceBName)}, nil
	}
	first, second, err := CanonicalPair(aID, bID)
	if err != nil {
		return OutcomeError, &RowError{Row: row.RowNumber, Message: err.Error()}, nil
	}

	candidate := models.Interaction{
		ID:              uuid.NewString(),
		ASubstanceID:    first,
		BSubstanceID:    second,
		InteractionType: row.InteractionType,
		Severity:        models.Severity(row.Severity),
		SummaryShort:    row.SummaryShort,
		Mechanism:       row.Mechanism,
		ClinicalEffect:  row.ClinicalEffect,
		Management:      row.Management,
		EvidenceGrade:   row.EvidenceGrade,
		Confidence:      row.Confidence,
		LastRunID:       runID,
	}

	var existing []models.Interaction
	if err := tx.Where("a_substance_id = ? AND b_substance_id = ?", first, second).Limit(1).Find(&existing).Error; err != nil {
		return "", nil, err
	}
	outcome := OutcomeInserted
	if len(existing) > 0 {
		if existing[0].SamePayload(candidate) {
			return OutcomeSkipped, nil, nil
		}
		outcome = OutcomeUpdated
	}

	// Upsert auf das kanonische Paar
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "a_substance_id"}, {Name: "b_substance_id"}},
		DoUpdates: clause.AssignmentColumns(interactionUpdateColumns),
	}).Create(&candidate).Error
	if err != nil {
		return "", nil, err
	}
	return outcome, nil, nil
}
