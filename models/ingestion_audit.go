package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditStatus ist der Zustand eines Ingestion-Laufs.
type AuditStatus string

const (
	AuditRunning AuditStatus = "running"
	AuditSuccess AuditStatus = "success"
	AuditPartial AuditStatus = "partial"
	AuditFailed  AuditStatus = "failed"
)

// Stages eines Laufs in fester Reihenfolge.
const (
	StageParse    = "parse"
	StageArchive  = "archive"
	StageLoad     = "load"
	StageValidate = "validate"
	StageCommit   = "commit"
	StageVerify   = "verify"
	StageDone     = "done"
)

// IngestionAudit protokolliert genau einen Ingestion-Aufruf. Einträge werden nie gelöscht.
type IngestionAudit struct {
	ID         string      `json:"id" gorm:"primaryKey;size:64"`
	Status     AuditStatus `json:"status" gorm:"index;size:16;not null"`
	Stage      string      `json:"stage" gorm:"size:16"`
	SourceFile string      `json:"source_file"`
	ArchiveURI string      `json:"archive_uri,omitempty"`

	// Laufkonfiguration
	DryRun     bool `json:"dry_run"`
	SkipVerify bool `json:"skip_verify"`
	BatchSize  int  `json:"batch_size"`

	// Zähler
	TotalRows            int `json:"total_rows"`
	StagedRows           int `json:"staged_rows"`
	Inserted             int `json:"inserted"`
	Updated              int `json:"updated"`
	Skipped              int `json:"skipped"`
	Errored              int `json:"errored"`
	UnresolvedCount      int `json:"unresolved_count"`
	MissingTokenCount    int `json:"missing_token_count"`
	VerificationFailures int `json:"verification_failures"`

	Notes        string         `json:"notes,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	ErrorSummary datatypes.JSON `json:"error_summary,omitempty"`

	StartedAt  time.Time  `json:"started_at" gorm:"index"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (IngestionAudit) TableName() string {
	return "ingestion_audits"
}

// Terminal meldet, ob der Lauf abgeschlossen ist.
func (a IngestionAudit) Terminal() bool {
	return a.Status != AuditRunning
}
