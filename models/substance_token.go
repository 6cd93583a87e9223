package models

import "time"

// SubstanceToken bildet einen normalisierten Namen (Token) auf genau einen Wirkstoff ab.
// Die Eindeutigkeit über Wirkstoffe hinweg erzwingt das Register beim Schreiben,
// nicht das Schema, damit der Integritätscheck Verstöße sehen kann.
type SubstanceToken struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time `json:"created_at"`
	Token       string    `json:"token" gorm:"index;uniqueIndex:idx_substance_tokens_token_substance;size:255;not null"`
	SubstanceID string    `json:"substance_id" gorm:"index;uniqueIndex:idx_substance_tokens_token_substance;size:64;not null"`
	Alias       string    `json:"alias"` // Oberflächenform wie eingegeben, z.B. "St. John's Wort"
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (SubstanceToken) TableName() string {
	return "substance_tokens"
}
