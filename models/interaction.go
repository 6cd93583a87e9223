package models

import (
	"strings"
	"time"
)

// Severity ist der Schweregrad einer Wechselwirkung.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeveritySevere   Severity = "severe"
)

// ParseSeverity akzeptiert die bekannten Werte unabhängig von Groß-/Kleinschreibung.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityModerate:
		return SeverityModerate, true
	case SeverityHigh:
		return SeverityHigh, true
	case SeveritySevere:
		return SeveritySevere, true
	}
	return "", false
}

// Interaction ist ein kanonisches Wirkstoffpaar mit a_substance_id < b_substance_id.
// Pro ungeordnetem Paar existiert höchstens eine Zeile.
type Interaction struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ASubstanceID string `json:"a_substance_id" gorm:"column:a_substance_id;uniqueIndex:idx_interactions_pair;size:64;not null"`
	BSubstanceID string `json:"b_substance_id" gorm:"column:b_substance_id;uniqueIndex:idx_interactions_pair;index;size:64;not null"`

	InteractionType string   `json:"interaction_type" gorm:"size:64"`
	Severity        Severity `json:"severity" gorm:"index;size:32;not null"`
	SummaryShort    string   `json:"summary_short" gorm:"type:text;not null"`
	Mechanism       string   `json:"mechanism,omitempty" gorm:"type:text"`
	ClinicalEffect  string   `json:"clinical_effect,omitempty" gorm:"type:text"`
	Management      string   `json:"management,omitempty" gorm:"type:text"`
	EvidenceGrade   string   `json:"evidence_grade,omitempty" gorm:"size:32"`
	Confidence      string   `json:"confidence,omitempty" gorm:"size:32"`

	LastRunID string `json:"last_run_id" gorm:"size:64"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Interaction) TableName() string {
	return "interactions"
}

// SamePayload vergleicht die fachlichen Felder zweier Wechselwirkungen.
func (i Interaction) SamePayload(o Interaction) bool {
	return i.InteractionType == o.InteractionType &&
		i.Severity == o.Severity &&
		i.SummaryShort == o.SummaryShort &&
		i.Mechanism == o.Mechanism &&
		i.ClinicalEffect == o.ClinicalEffect &&
		i.Management == o.Management &&
		i.EvidenceGrade == o.EvidenceGrade &&
		i.Confidence == o.Confidence
}
