package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"interaction-pipeline/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultAutocompleteLimit = 10
	maxAutocompleteLimit     = 50
)

// Registry verwaltet die kanonischen Wirkstoffe und den Token-Index.
type Registry struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewRegistry erstellt ein neues Register.
func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{DB: db, Logger: logger}
}

// Resolve sucht die Wirkstoff-ID zu einem bereits normalisierten Token.
// Ein Token, das auf mehrere Wirkstoffe zeigt, löst nicht auf (ErrDuplicateToken),
// genau wie im TokenIndex der Ingestion.
func (r *Registry) Resolve(ctx context.Context, token string) (string, error) {
	if token == EmptyToken {
		return "", ErrEmptyToken
	}
	var ids []string
	err := r.DB.WithContext(ctx).Model(&models.SubstanceToken{}).
		Where("token = ?", token).
		Distinct().
		Limit(2).
		Pluck("substance_id", &ids).Error
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", ErrNotFound
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("token %q maps to several substances: %w", token, ErrDuplicateToken)
}

// ResolveName normalisiert einen freien Namen und löst ihn auf.
func (r *Registry) ResolveName(ctx context.Context, name string) (string, error) {
	return r.Resolve(ctx, Normalize(name))
}

// Get lädt einen Wirkstoff samt Aliasen.
func (r *Registry) Get(ctx context.Context, id string) (*models.Substance, error) {
	var sub models.Substance
	err := r.DB.WithContext(ctx).Preload("Tokens").Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindByCanonicalName sucht einen Wirkstoff über seinen kanonischen Namen.
func (r *Registry) FindByCanonicalName(ctx context.Context, name string) (*models.Substance, error) {
	var sub models.Substance
	err := r.DB.WithContext(ctx).Preload("Tokens").Where("canonical_name = ?", Normalize(name)).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Register legt einen Wirkstoff an und indiziert Anzeigename, kanonischen Namen und Aliase
// in einer Transaktion. Eine leere ID wird durch eine UUID ersetzt.
func (r *Registry) Register(ctx context.Context, sub *models.Substance, aliases ...string) error {
	if Normalize(sub.DisplayName) == EmptyToken {
		return fmt.Errorf("register substance: display name: %w", ErrEmptyToken)
	}
	if !sub.Type.Valid() {
		return fmt.Errorf("register substance %q: invalid type %q", sub.DisplayName, sub.Type)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	canonical := sub.CanonicalName
	if canonical == "" {
		canonical = sub.DisplayName
	}
	sub.CanonicalName = Normalize(canonical)
	if sub.CanonicalName == EmptyToken {
		return fmt.Errorf("register substance %q: canonical name: %w", sub.DisplayName, ErrEmptyToken)
	}
	sub.Tokens = nil

	surfaces := append([]string{sub.DisplayName, canonical}, aliases...)
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("create substance %q: %w", sub.DisplayName, err)
		}
		for _, surface := range surfaces {
			if _, err := addAliasTx(tx, sub.ID, surface); err != nil {
				return err
			}
		}
		r.Logger.Info("Substance registered",
			zap.String("substance_id", sub.ID),
			zap.String("display_name", sub.DisplayName),
			zap.Int("aliases", len(aliases)))
		return nil
	})
}

// AddAlias hängt einen Alias an einen bestehenden Wirkstoff an. Ist der normalisierte
// Alias bereits einem anderen Wirkstoff zugeordnet, schlägt der Aufruf mit
// ErrDuplicateToken fehl; derselbe Wirkstoff ist ein No-op.
func (r *Registry) AddAlias(ctx context.Context, substanceID, alias string) (bool, error) {
	var created bool
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Substance{}).Where("id = ?", substanceID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("substance %s: %w", substanceID, ErrNotFound)
		}
		var err error
		created, err = addAliasTx(tx, substanceID, alias)
		return err
	})
	if err != nil {
		return false, err
	}
	if created {
		r.Logger.Info("Alias added", zap.String("substance_id", substanceID), zap.String("alias", alias))
	}
	return created, nil
}

func addAliasTx(tx *gorm.DB, substanceID, alias string) (bool, error) {
	token := Normalize(alias)
	if token == EmptyToken {
		return false, fmt.Errorf("alias %q: %w", alias, ErrEmptyToken)
	}
	var existing []models.SubstanceToken
	if err := tx.Where("token = ?", token).Find(&existing).Error; err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.SubstanceID != substanceID {
			return false, fmt.Errorf("alias %q (token %q) maps to %s: %w", alias, token, e.SubstanceID, ErrDuplicateToken)
		}
	}
	if len(existing) > 0 {
		return false, nil
	}
	row := models.SubstanceToken{Token: token, SubstanceID: substanceID, Alias: strings.TrimSpace(alias)}
	if err := tx.Create(&row).Error; err != nil {
		return false, fmt.Errorf("create token %q: %w", token, err)
	}
	return true, nil
}

// Autocomplete sucht Wirkstoffe, deren Tokens den normalisierten Suchtext enthalten.
// Präfix-Treffer kommen zuerst, danach alphabetisch nach Anzeigename.
func (r *Registry) Autocomplete(ctx context.Context, query string, typ models.SubstanceType, limit int) ([]models.Substance, error) {
	token := Normalize(query)
	if token == EmptyToken {
		return []models.Substance{}, nil
	}
	if limit <= 0 {
		limit = defaultAutocompleteLimit
	}
	if limit > maxAutocompleteLimit {
		limit = maxAutocompleteLimit
	}

	// Tokens enthalten nur Buchstaben, Ziffern und Leerzeichen, also keine LIKE-Wildcards.
	subs, err := r.autocompleteQuery(ctx, token+"%", typ, nil, limit)
	if err != nil {
		return nil, err
	}
	if len(subs) == limit {
		return subs, nil
	}

	seen := make([]string, 0, len(subs))
	for _, s := range subs {
		seen = append(seen, s.ID)
	}
	rest, err := r.autocompleteQuery(ctx, "%"+token+"%", typ, seen, limit-len(subs))
	if err != nil {
		return nil, err
	}
	return append(subs, rest...), nil
}

// autocompleteQuery lädt bis zu limit Wirkstoffe mit einem Token, das auf pattern passt.
func (r *Registry) autocompleteQuery(ctx context.Context, pattern string, typ models.SubstanceType, exclude []string, limit int) ([]models.Substance, error) {
	matching := r.DB.Model(&models.SubstanceToken{}).Select("substance_id").Where("token LIKE ?", pattern)
	q := r.DB.WithContext(ctx).Preload("Tokens").Where("id IN (?)", matching)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	var subs []models.Substance
	if err := q.Order("display_name").Order("id").Limit(limit).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// TokenIndex ist eine unveränderliche Momentaufnahme des Token-Index für einen Lauf.
type TokenIndex struct {
	tokens    map[string]string
	ambiguous map[string][]string
	compact   map[string][]string
	names     map[string]string
}

// Snapshot lädt den gesamten Token-Index in den Speicher.
func (r *Registry) Snapshot(ctx context.Context) (*TokenIndex, error) {
	var subs []models.Substance
	if err := r.DB.WithContext(ctx).Select("id", "display_name").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("load substances: %w", err)
	}
	var tokens []models.SubstanceToken
	if err := r.DB.WithContext(ctx).Order("id").Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	ix := &TokenIndex{
		tokens:    make(map[string]string, len(tokens)),
		ambiguous: map[string][]string{},
		compact:   map[string][]string{},
		names:     make(map[string]string, len(subs)),
	}
	for _, s := range subs {
		ix.names[s.ID] = s.DisplayName
	}
	for _, t := range tokens {
		if prev, ok := ix.tokens[t.Token]; ok && prev != t.SubstanceID {
			if _, seen := ix.ambiguous[t.Token]; !seen {
				ix.ambiguous[t.Token] = []string{prev}
			}
			ix.ambiguous[t.Token] = append(ix.ambiguous[t.Token], t.SubstanceID)
			continue
		}
		ix.tokens[t.Token] = t.SubstanceID
		key := CompactKey(t.Token)
		if !containsString(ix.compact[key], t.SubstanceID) {
			ix.compact[key] = append(ix.compact[key], t.SubstanceID)
		}
	}
	for tok := range ix.ambiguous {
		delete(ix.tokens, tok)
	}
	return ix, nil
}

// Resolve liefert die Wirkstoff-ID zu einem Token. Mehrdeutige Tokens lösen nicht auf.
func (ix *TokenIndex) Resolve(token string) (string, bool) {
	if token == EmptyToken {
		return "", false
	}
	id, ok := ix.tokens[token]
	return id, ok
}

// Ambiguous liefert die Wirkstoffe eines mehrfach vergebenen Tokens.
func (ix *TokenIndex) Ambiguous(token string) []string {
	return ix.ambiguous[token]
}

// Suggest liefert Wirkstoffe, deren Tokens sich vom gesuchten nur in Trennzeichen unterscheiden.
func (ix *TokenIndex) Suggest(token string) []string {
	if token == EmptyToken {
		return nil
	}
	return ix.compact[CompactKey(token)]
}

// Exists meldet, ob die Wirkstoff-ID im Register steht.
func (ix *TokenIndex) Exists(id string) bool {
	_, ok := ix.names[id]
	return ok
}

// DisplayName liefert den Anzeigenamen eines Wirkstoffs.
func (ix *TokenIndex) DisplayName(id string) string {
	return ix.names[id]
}

// Len ist die Anzahl eindeutiger Tokens.
func (ix *TokenIndex) Len() int {
	return len(ix.tokens)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
