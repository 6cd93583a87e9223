package services

import (
	"context"
	"errors"
	"fmt"

	"interaction-pipeline/models"
	"interaction-pipeline/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubstanceRef ist die Kurzform eines Wirkstoffs in Lookup-Antworten.
type SubstanceRef struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"display_name"`
	Type        models.SubstanceType `json:"type"`
}

// InteractionView ist eine Interaktion samt beider Wirkstoffe in kanonischer Reihenfolge.
type InteractionView struct {
	Interaction models.Interaction `json:"interaction"`
	SubstanceA  SubstanceRef       `json:"substance_a"`
	SubstanceB  SubstanceRef       `json:"substance_b"`
}

// LookupService beantwortet Abfragen gegen die kanonischen Tabellen.
type LookupService struct {
	DB       *gorm.DB
	Registry *Registry
	Cache    storage.Cache
	Logger   *zap.Logger
}

// NewLookupService erstellt einen LookupService. Ein nil-Cache wird durch NopCache ersetzt.
func NewLookupService(db *gorm.DB, registry *Registry, cache storage.Cache, logger *zap.Logger) *LookupService {
	if cache == nil {
		cache = storage.NopCache{}
	}
	return &LookupService{DB: db, Registry: registry, Cache: cache, Logger: logger}
}

// LookupInteraction sucht die Interaktion zweier Wirkstoffe; die Reihenfolge der IDs ist egal.
func (s *LookupService) LookupInteraction(ctx context.Context, idA, idB string) (*InteractionView, error) {
	first, second, err := CanonicalPair(idA, idB)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("pair:%s:%s", first, second)
	var view InteractionView
	if hit, err := s.Cache.Get(ctx, key, &view); err != nil {
		s.Logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return &view, nil
	}

	var ix models.Interaction
	err = s.DB.WithContext(ctx).
		Where("a_substance_id = ? AND b_substance_id = ?", first, second).
		First(&ix).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var subs []models.Substance
	if err := s.DB.WithContext(ctx).Where("id IN ?", []string{first, second}).Find(&subs).Error; err != nil {
		return nil, err
	}
	view = InteractionView{Interaction: ix}
	for _, sub := range subs {
		ref := SubstanceRef{ID: sub.ID, DisplayName: sub.DisplayName, Type: sub.Type}
		if sub.ID == first {
			view.SubstanceA = ref
		} else {
			view.SubstanceB = ref
		}
	}

	if err := s.Cache.Set(ctx, key, view); err != nil {
		s.Logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return &view, nil
}

// LookupByNames löst beide Namen über den Token-Index auf und sucht dann die Interaktion.
func (s *LookupService) LookupByNames(ctx context.Context, nameA, nameB string) (*InteractionView, error) {
	idA, err := s.Registry.ResolveName(ctx, nameA)
	if err != nil {
		return nil, fmt.Errorf("substance %q: %w", nameA, err)
	}
	idB, err := s.Registry.ResolveName(ctx, nameB)
	if err != nil {
		return nil, fmt.Errorf("substance %q: %w", nameB, err)
	}
	return s.LookupInteraction(ctx, idA, idB)
}

// Autocomplete liefert passende Wirkstoffe für eine Sucheingabe.
func (s *LookupService) Autocomplete(ctx context.Context, query string, typ models.SubstanceType, limit int) ([]models.Substance, error) {
	key := fmt.Sprintf("ac:%s:%d:%s", typ, limit, Normalize(query))
	var subs []models.Substance
	if hit, err := s.Cache.Get(ctx, key, &subs); err == nil && hit {
		return subs, nil
	}
	subs, err := s.Registry.Autocomplete(ctx, query, typ, limit)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Set(ctx, key, subs); err != nil {
		s.Logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return subs, nil
}

// Invalidate verwirft alle gecachten Ergebnisse.
func (s *LookupService) Invalidate(ctx context.Context) error {
	return s.Cache.Invalidate(ctx)
}
