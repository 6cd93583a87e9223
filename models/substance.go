package models

import "time"

// SubstanceType unterscheidet Arzneimittel von Nahrungsergänzungsmitteln.
type SubstanceType string

const (
	SubstanceTypeDrug       SubstanceType = "drug"
	SubstanceTypeSupplement SubstanceType = "supplement"
)

// Valid meldet, ob der Typ einer der bekannten Werte ist.
func (t SubstanceType) Valid() bool {
	return t == SubstanceTypeDrug || t == SubstanceTypeSupplement
}

// Substance repräsentiert einen Wirkstoff im kanonischen Register.
// Die ID ist nach dem Anlegen unveränderlich; Aliase werden nur angehängt.
type Substance struct {
	ID            string        `json:"id" gorm:"primaryKey;size:64"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	DisplayName   string        `json:"display_name" gorm:"not null"`
	CanonicalName string        `json:"canonical_name" gorm:"uniqueIndex;not null"` // z.B. "warfarin"
	Type          SubstanceType `json:"type" gorm:"index;size:32;not null"`

	Tokens []SubstanceToken `json:"aliases,omitempty" gorm:"foreignKey:SubstanceID"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Substance) TableName() string {
	return "substances"
}

// Aliases liefert die Oberflächenformen aller geladenen Tokens.
func (s Substance) Aliases() []string {
	out := make([]string, 0, len(s.Tokens))
	for _, t := range s.Tokens {
		out = append(out, t.Alias)
	}
	return out
}
