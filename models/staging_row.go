package models

// StagingRow hält eine rohe CSV-Zeile zwischen Laden und Commit.
// Die Tabelle wird zu Beginn jedes Laufs vollständig geleert.
type StagingRow struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	RunID     string `json:"run_id" gorm:"index;size:64;not null"`
	RowNumber int    `json:"row_number" gorm:"index;not null"` // Zeile in der Quelldatei (Header = 1)

	SubstanceAName  string `json:"substance_a_name" gorm:"not null"`
	SubstanceBName  string `json:"substance_b_name" gorm:"not null"`
	InteractionType string `json:"interaction_type"`
	Severity        string `json:"severity"`
	SummaryShort    string `json:"summary_short" gorm:"type:text"`
	Mechanism       string `json:"mechanism" gorm:"type:text"`
	ClinicalEffect  string `json:"clinical_effect" gorm:"type:text"`
	Management      string `json:"management" gorm:"type:text"`
	EvidenceGrade   string `json:"evidence_grade"`
	Confidence      string `json:"confidence"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (StagingRow) TableName() string {
	return "interaction_staging"
}
