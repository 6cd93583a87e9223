package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"interaction-pipeline/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SeedSubstance ist ein Wirkstoff in einer Seed-Datei.
type SeedSubstance struct {
	ID            string               `yaml:"id"`
	DisplayName   string               `yaml:"display_name"`
	CanonicalName string               `yaml:"canonical_name"`
	Type          models.SubstanceType `yaml:"type"`
	Aliases       []string             `yaml:"aliases"`
}

// SeedFile ist der Inhalt einer Seed-Datei.
type SeedFile struct {
	Substances []SeedSubstance `yaml:"substances"`
}

// SeedResult zählt, was ein Seed-Lauf geändert hat.
type SeedResult struct {
	Registered   int `json:"registered"`
	Existing     int `json:"existing"`
	AliasesAdded int `json:"aliases_added"`
}

// ParseSeed liest eine Seed-Datei. Unbekannte Felder sind ein Fehler.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f SeedFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, s := range f.Substances {
		if s.DisplayName == "" {
			return nil, fmt.Errorf("seed entry %d: display_name is required", i+1)
		}
		if !s.Type.Valid() {
			return nil, fmt.Errorf("seed entry %d (%s): type must be drug or supplement", i+1, s.DisplayName)
		}
	}
	return &f, nil
}

// Seed registriert fehlende Wirkstoffe und ergänzt fehlende Aliase bestehender.
// Mehrfaches Ausführen derselben Datei ändert nichts.
func (r *Registry) Seed(ctx context.Context, f *SeedFile) (*SeedResult, error) {
	res := &SeedResult{}
	for _, s := range f.Substances {
		canonical := s.CanonicalName
		if canonical == "" {
			canonical = s.DisplayName
		}
		existing, err := r.FindByCanonicalName(ctx, canonical)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return res, err
		}

		if existing == nil {
			sub := &models.Substance{ID: s.ID, DisplayName: s.DisplayName, CanonicalName: s.CanonicalName, Type: s.Type}
			if err := r.Register(ctx, sub, s.Aliases...); err != nil {
				return res, fmt.Errorf("seed %q: %w", s.DisplayName, err)
			}
			res.Registered++
			continue
		}

		res.Existing++
		for _, alias := range append([]string{s.DisplayName}, s.Aliases...) {
			created, err := r.AddAlias(ctx, existing.ID, alias)
			if err != nil {
				return res, fmt.Errorf("seed %q: %w", s.DisplayName, err)
			}
			if created {
				res.AliasesAdded++
			}
		}
	}
	r.Logger.Info("Seed applied",
		zap.Int("registered", res.Registered),
		zap.Int("existing", res.Existing),
		zap.Int("aliases_added", res.AliasesAdded))
	return res, nil
}
