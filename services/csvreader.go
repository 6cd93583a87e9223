package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"interaction-pipeline/models"
)

// Spalten der Interaktions-CSV.
const (
	ColSubstanceA      = "substance_a_name"
	ColSubstanceB      = "substance_b_name"
	ColInteractionType = "interaction_type"
	ColSeverity        = "severity"
	ColSummaryShort    = "summary_short"
	ColMechanism       = "mechanism"
	ColClinicalEffect  = "clinical_effect"
	ColManagement      = "management"
	ColEvidenceGrade   = "evidence_grade"
	ColConfidence      = "confidence"
)

var (
	requiredColumns = []string{ColSubstanceA, ColSubstanceB, ColInteractionType, ColSeverity, ColSummaryShort}
	optionalColumns = []string{ColMechanism, ColClinicalEffect, ColManagement, ColEvidenceGrade, ColConfidence}
)

// InteractionRecord ist eine geprüfte CSV-Zeile.
type InteractionRecord struct {
	RowNumber       int
	SubstanceAName  string
	SubstanceBName  string
	InteractionType string
	Severity        models.Severity
	SummaryShort    string
	Mechanism       string
	ClinicalEffect  string
	Management      string
	EvidenceGrade   string
	Confidence      string
}

// RowError beschreibt einen Strukturfehler in einer CSV-Zeile.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Row, e.Column, e.Message)
}

// CSVReport sammelt alle Strukturfehler einer Datei.
type CSVReport struct {
	HeaderErrors []string   `json:"header_errors,omitempty"`
	RowErrors    []RowError `json:"row_errors,omitempty"`
	TotalRows    int        `json:"total_rows"`
}

// OK meldet, ob die Datei fehlerfrei ist.
func (r *CSVReport) OK() bool {
	return len(r.HeaderErrors) == 0 && len(r.RowErrors) == 0
}

// Count ist die Gesamtzahl der Fehler.
func (r *CSVReport) Count() int {
	return len(r.HeaderErrors) + len(r.RowErrors)
}

// ReadInteractionCSV liest und prüft eine Interaktions-CSV vollständig. Strukturfehler
// werden gesammelt und im Bericht zurückgegeben; der error-Rückgabewert ist nur für
// I/O-Fehler gedacht.
func ReadInteractionCSV(r io.Reader) ([]InteractionRecord, *CSVReport, error) {
	report := &CSVReport{}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		report.HeaderErrors = append(report.HeaderErrors, "file is empty: header row required")
		return nil, report, nil
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			report.HeaderErrors = append(report.HeaderErrors, fmt.Sprintf("header: %v", pe.Err))
			return nil, report, nil
		}
		return nil, nil, err
	}

	idx, headerErrs := indexHeader(header)
	if len(headerErrs) > 0 {
		report.HeaderErrors = headerErrs
		return nil, report, nil
	}
	cr.FieldsPerRecord = len(header)

	var records []InteractionRecord
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, nil, err
			}
			line := pe.StartLine
			if line == 0 {
				line = pe.Line
			}
			report.TotalRows++
			if errors.Is(pe.Err, csv.ErrFieldCount) {
				report.RowErrors = append(report.RowErrors, RowError{
					Row:     line,
					Message: fmt.Sprintf("expected %d fields, got %d", len(header), len(rec)),
				})
				continue
			}
			// Nach Quote-Fehlern ist die Zeilenzuordnung nicht mehr verlässlich.
			report.RowErrors = append(report.RowErrors, RowError{Row: line, Message: pe.Err.Error()})
			break
		}
		report.TotalRows++
		line, _ := cr.FieldPos(0)

		record, errs := buildRecord(line, rec, idx)
		if len(errs) > 0 {
			report.RowErrors = append(report.RowErrors, errs...)
			continue
		}
		records = append(records, record)
	}

	if report.TotalRows == 0 {
		report.HeaderErrors = append(report.HeaderErrors, "no data rows")
	}
	return records, report, nil
}

func indexHeader(header []string) (map[string]int, []string) {
	known := map[string]bool{}
	for _, c := range requiredColumns {
		known[c] = true
	}
	for _, c := range optionalColumns {
		known[c] = true
	}

	var errs []string
	idx := make(map[string]int, len(header))
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if name == "" {
			errs = append(errs, fmt.Sprintf("column %d has an empty name", i+1))
			continue
		}
		if !known[name] {
			errs = append(errs, fmt.Sprintf("unknown column %q", name))
			continue
		}
		if _, dup := idx[name]; dup {
			errs = append(errs, fmt.Sprintf("duplicate column %q", name))
			continue
		}
		idx[name] = i
	}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			errs = append(errs, fmt.Sprintf("missing required column %q", c))
		}
	}
	return idx, errs
}

func buildRecord(line int, rec []string, idx map[string]int) (InteractionRecord, []RowError) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var errs []RowError
	for _, col := range requiredColumns {
		if get(col) == "" {
			errs = append(errs, RowError{Row: line, Column: col, Message: "required value is empty"})
		}
	}

	r := InteractionRecord{
		RowNumber:       line,
		SubstanceAName:  get(ColSubstanceA),
		SubstanceBName:  get(ColSubstanceB),
		InteractionType: strings.ToLower(get(ColInteractionType)),
		SummaryShort:    get(ColSummaryShort),
		Mechanism:       get(ColMechanism),
		ClinicalEffect:  get(ColClinicalEffect),
		Management:      get(ColManagement),
		EvidenceGrade:   get(ColEvidenceGrade),
		Confidence:      get(ColConfidence),
	}
	if raw := get(ColSeverity); raw != "" {
		sev, ok := models.ParseSeverity(raw)
		if !ok {
			errs = append(errs, RowError{Row: line, Column: ColSeverity, Message: fmt.Sprintf("unknown severity %q", raw)})
		}
		r.Severity = sev
	}
	return r, errs
}

// stagingRow überträgt einen geprüften Datensatz in die Staging-Form.
func (r InteractionRecord) stagingRow(runID string) models.StagingRow {
	return models.StagingRow{
		RunID:           runID,
		RowNumber:       r.RowNumber,
		SubstanceAName:  r.SubstanceAName,
		SubstanceBName:  r.SubstanceBName,
		InteractionType: r.InteractionType,
		Severity:        string(r.Severity),
		SummaryShort:    r.SummaryShort,
		Mechanism:       r.Mechanism,
		ClinicalEffect:  r.ClinicalEffect,
		Management:      r.Management,
		EvidenceGrade:   r.EvidenceGrade,
		Confidence:      r.Confidence,
	}
}
