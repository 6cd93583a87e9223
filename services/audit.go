package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"interaction-pipeline/models"
	"interaction-pipeline/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditExportPrefix ist der Key-Präfix der Audit-Exporte im Archiv.
const AuditExportPrefix = "audit-exports/"

const (
	defaultAuditListLimit = 20
	maxAuditListLimit     = 500
)

// AuditLog schreibt und liest die Ingestion-Audit-Einträge.
type AuditLog struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewAuditLog erstellt ein neues AuditLog.
func NewAuditLog(db *gorm.DB, logger *zap.Logger) *AuditLog {
	return &AuditLog{DB: db, Logger: logger}
}

// Start legt einen neuen Eintrag im Status running an.
func (a *AuditLog) Start(ctx context.Context, entry *models.IngestionAudit) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Status = models.AuditRunning
	entry.Stage = models.StageParse
	entry.StartedAt = time.Now().UTC()
	entry.FinishedAt = nil
	if err := a.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create audit record: %w", err)
	}
	return nil
}

// Update speichert den aktuellen Zwischenstand eines laufenden Eintrags. Läuft ohne den
// Kontext des Laufs, damit auch abgebrochene Läufe ihren Endstand schreiben.
func (a *AuditLog) Update(entry *models.IngestionAudit) error {
	return a.DB.Save(entry).Error
}

// SetStage setzt die aktuelle Stage und speichert.
func (a *AuditLog) SetStage(entry *models.IngestionAudit, stage string) error {
	entry.Stage = stage
	return a.Update(entry)
}

// Finish schließt einen Eintrag mit Status und optionaler Fehlerzusammenfassung ab.
func (a *AuditLog) Finish(entry *models.IngestionAudit, status models.AuditStatus, runErr error, summary any) error {
	now := time.Now().UTC()
	entry.Status = status
	entry.FinishedAt = &now
	if runErr != nil {
		entry.ErrorMessage = runErr.Error()
	}
	if summary != nil {
		raw, err := json.Marshal(summary)
		if err != nil {
			a.Logger.Warn("Could not encode error summary", zap.String("audit_id", entry.ID), zap.Error(err))
		} else {
			entry.ErrorSummary = datatypes.JSON(raw)
		}
	}
	if err := a.Update(entry); err != nil {
		return fmt.Errorf("finish audit record %s: %w", entry.ID, err)
	}
	return nil
}

// List liefert die neuesten Einträge zuerst.
func (a *AuditLog) List(ctx context.Context, limit int) ([]models.IngestionAudit, error) {
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	if limit > maxAuditListLimit {
		limit = maxAuditListLimit
	}
	var entries []models.IngestionAudit
	err := a.DB.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Get lädt einen Eintrag.
func (a *AuditLog) Get(ctx context.Context, id string) (*models.IngestionAudit, error) {
	var entry models.IngestionAudit
	err := a.DB.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ExportResult beschreibt einen Audit-Export.
type ExportResult struct {
	URI     string   `json:"uri"`
	Records int      `json:"records"`
	Rotated []string `json:"rotated,omitempty"`
}

// Export schreibt alle Einträge als gzip-komprimiertes JSON-Lines ins Archiv und behält
// nur die keep neuesten Exporte.
func (a *AuditLog) Export(ctx context.Context, store storage.ObjectStore, keep int) (*ExportResult, error) {
	data, n, err := a.encodeAll(ctx)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%saudit-%s.jsonl.gz", AuditExportPrefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	uri, err := store.Put(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("upload audit export: %w", err)
	}
	a.Logger.Info("Audit export uploaded", zap.String("uri", uri), zap.Int("records", n))

	res := &ExportResult{URI: uri, Records: n}
	if keep > 0 {
		deleted, err := storage.Rotate(ctx, store, AuditExportPrefix, keep)
		res.Rotated = deleted
		if err != nil {
			return res, fmt.Errorf("rotate audit exports: %w", err)
		}
		if len(deleted) > 0 {
			a.Logger.Info("Old audit exports removed", zap.Strings("keys", deleted))
		}
	}
	return res, nil
}

func (a *AuditLog) encodeAll(ctx context.Context) ([]byte, int, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	var entries []models.IngestionAudit
	if err := a.DB.WithContext(ctx).Order("started_at, id").Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("read audit records: %w", err)
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, 0, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), len(entries), nil
}
