package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"interaction-pipeline/models"

	"go.uber.org/zap"
)

// DefaultDisplayLimit begrenzt die Einträge pro Bericht in Logs und Ausgaben.
const DefaultDisplayLimit = 25

// UnresolvedSubstance ist ein Name aus dem Staging, zu dem kein Wirkstoff existiert.
type UnresolvedSubstance struct {
	SubstanceName   string `json:"substance_name"`
	SuggestedAction string `json:"suggested_action"`
	Occurrences     int    `json:"occurrences"`
	FirstRow        int    `json:"first_row"`
}

// MissingTokenMapping ist ein Name, dessen Wirkstoff existiert, der aber keinen eigenen Token hat.
type MissingTokenMapping struct {
	SubstanceName   string `json:"substance_name"`
	NormalizedToken string `json:"normalized_token"`
	Occurrences     int    `json:"occurrences"`
	CandidateID     string `json:"candidate_substance_id,omitempty"`
	CandidateName   string `json:"candidate_display_name,omitempty"`
	SuggestedAction string `json:"suggested_action"`
}

// ValidationReport ist das Ergebnis beider Prüfläufe.
type ValidationReport struct {
	StagedRows     int                   `json:"staged_rows"`
	DistinctNames  int                   `json:"distinct_names"`
	Unresolved     []UnresolvedSubstance `json:"unresolved"`
	MissingTokens  []MissingTokenMapping `json:"missing_tokens"`
	UnresolvedRows int                   `json:"unresolved_rows"`
	DisplayLimit   int                   `json:"display_limit"`
}

// OK meldet, ob beide Prüfläufe ohne Befund waren.
func (r *ValidationReport) OK() bool {
	return len(r.Unresolved) == 0 && len(r.MissingTokens) == 0
}

// ViolationCount ist die Summe aller Befunde.
func (r *ValidationReport) ViolationCount() int {
	return len(r.Unresolved) + len(r.MissingTokens)
}

// Display liefert eine für Logs gekürzte Kopie; die Zähler bleiben vollständig.
func (r *ValidationReport) Display() ValidationReport {
	out := *r
	limit := r.DisplayLimit
	if limit <= 0 {
		limit = DefaultDisplayLimit
	}
	if len(out.Unresolved) > limit {
		out.Unresolved = out.Unresolved[:limit]
	}
	if len(out.MissingTokens) > limit {
		out.MissingTokens = out.MissingTokens[:limit]
	}
	return out
}

// Validator prüft Staging-Zeilen gegen Register und Token-Normalisierung.
type Validator struct {
	Registry     *Registry
	Staging      *StagingLoader
	Logger       *zap.Logger
	DisplayLimit int
}

// NewValidator erstellt einen neuen Validator.
func NewValidator(registry *Registry, staging *StagingLoader, logger *zap.Logger, displayLimit int) *Validator {
	if displayLimit <= 0 {
		displayLimit = DefaultDisplayLimit
	}
	return &Validator{Registry: registry, Staging: staging, Logger: logger, DisplayLimit: displayLimit}
}

type nameStats struct {
	name        string
	token       string
	occurrences int
	firstRow    int
}

// Validate führt beide Prüfläufe vollständig über alle Staging-Zeilen des Laufs aus.
//
//  1. Existenz: jeder Name muss zu einem Wirkstoff gehören. Exakter Token oder ein Token,
//     der sich nur in Trennzeichen unterscheidet, gilt als vorhanden.
//  2. Token-Vollständigkeit: jeder vorhandene Name braucht einen exakten Token-Eintrag,
//     sonst kann der Committer ihn nicht auflösen.
//
// Namen, die schon in Lauf 1 scheitern, tauchen in Lauf 2 nicht erneut auf.
func (v *Validator) Validate(ctx context.Context, runID string) (*ValidationReport, error) {
	rows, err := v.Staging.Rows(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read staging: %w", err)
	}
	index, err := v.Registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return v.validateRows(rows, index), nil
}

func (v *Validator) validateRows(rows []models.StagingRow, index *TokenIndex) *ValidationReport {
	report := &ValidationReport{StagedRows: len(rows), DisplayLimit: v.DisplayLimit}

	stats := map[string]*nameStats{}
	var order []string
	track := func(name string, row int) {
		key := strings.TrimSpace(name)
		s, ok := stats[key]
		if !ok {
			s = &nameStats{name: key, token: Normalize(key), firstRow: row}
			stats[key] = s
			order = append(order, key)
		}
		s.occurrences++
	}
	for _, r := range rows {
		track(r.SubstanceAName, r.RowNumber)
		track(r.SubstanceBName, r.RowNumber)
	}
	report.DistinctNames = len(order)

	// Lauf 1: Existenz
	exists := map[string]bool{}
	for _, key := range order {
		s := stats[key]
		if _, ok := index.Resolve(s.token); ok {
			exists[key] = true
			continue
		}
		if len(index.Ambiguous(s.token)) == 0 && len(index.Suggest(s.token)) == 1 {
			exists[key] = true
			continue
		}
		report.Unresolved = append(report.Unresolved, UnresolvedSubstance{
			SubstanceName:   s.name,
			SuggestedAction: unresolvedAction(s.token, index),
			Occurrences:     s.occurrences,
			FirstRow:        s.firstRow,
		})
	}

	// Lauf 2: exakte Token-Zuordnung
	for _, key := range order {
		if !exists[key] {
			continue
		}
		s := stats[key]
		if _, ok := index.Resolve(s.token); ok {
			continue
		}
		m := MissingTokenMapping{
			SubstanceName:   s.name,
			NormalizedToken: s.token,
			Occurrences:     s.occurrences,
		}
		if ids := index.Suggest(s.token); len(ids) == 1 {
			m.CandidateID = ids[0]
			m.CandidateName = index.DisplayName(ids[0])
			m.SuggestedAction = fmt.Sprintf("add alias %q to substance %q (%s)", s.name, m.CandidateName, m.CandidateID)
		} else {
			m.SuggestedAction = fmt.Sprintf("add alias %q to the intended substance", s.name)
		}
		report.MissingTokens = append(report.MissingTokens, m)
	}

	unresolved := map[string]bool{}
	for _, u := range report.Unresolved {
		unresolved[u.SubstanceName] = true
	}
	for _, m := range report.MissingTokens {
		unresolved[m.SubstanceName] = true
	}
	for _, r := range rows {
		if unresolved[strings.TrimSpace(r.SubstanceAName)] || unresolved[strings.TrimSpace(r.SubstanceBName)] {
			report.UnresolvedRows++
		}
	}

	sort.SliceStable(report.Unresolved, func(i, j int) bool {
		return report.Unresolved[i].Occurrences > report.Unresolved[j].Occurrences
	})
	sort.SliceStable(report.MissingTokens, func(i, j int) bool {
		return report.MissingTokens[i].Occurrences > report.MissingTokens[j].Occurrences
	})

	if !report.OK() {
		v.Logger.Warn("Staging validation found violations",
			zap.Int("unresolved_substances", len(report.Unresolved)),
			zap.Int("missing_token_mappings", len(report.MissingTokens)),
			zap.Int("affected_rows", report.UnresolvedRows))
	} else {
		v.Logger.Info("Staging validation passed",
			zap.Int("rows", report.StagedRows),
			zap.Int("distinct_names", report.DistinctNames))
	}
	return report
}

func unresolvedAction(token string, index *TokenIndex) string {
	switch {
	case token == EmptyToken:
		return "name normalizes to an empty token; fix the CSV value"
	case len(index.Ambiguous(token)) > 0:
		return fmt.Sprintf("token %q maps to several substances %v; run verify and repair the token index", token, index.Ambiguous(token))
	case len(index.Suggest(token)) > 1:
		return fmt.Sprintf("token %q is close to several substances %v; add an explicit alias", token, index.Suggest(token))
	default:
		return "register the substance or add it as an alias of an existing one"
	}
}
