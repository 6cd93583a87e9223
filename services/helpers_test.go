package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"interaction-pipeline/models"
	"interaction-pipeline/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB öffnet eine eigene In-Memory-SQLite-Datenbank pro Test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), storage.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, storage.Migrate(db))
	return db
}

type fixture struct {
	db       *gorm.DB
	registry *Registry
	ids      map[string]string
}

// newFixture legt ein Register mit einigen Standard-Wirkstoffen an.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	reg := NewRegistry(db, zap.NewNop())
	f := &fixture{db: db, registry: reg, ids: map[string]string{}}
	f.register(t, "Warfarin", models.SubstanceTypeDrug, "Coumadin")
	f.register(t, "Fish Oil", models.SubstanceTypeSupplement, "Omega-3")
	f.register(t, "Vitamin K-2", models.SubstanceTypeSupplement, "Menaquinone")
	f.register(t, "St. John's Wort", models.SubstanceTypeSupplement)
	f.register(t, "Aspirin", models.SubstanceTypeDrug, "Acetylsalicylic acid")
	return f
}

func (f *fixture) register(t *testing.T, name string, typ models.SubstanceType, aliases ...string) string {
	t.Helper()
	sub := &models.Substance{DisplayName: name, Type: typ}
	require.NoError(t, f.registry.Register(context.Background(), sub, aliases...))
	f.ids[name] = sub.ID
	return sub.ID
}

func (f *fixture) interactionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Interaction{}).Count(&n).Error)
	return n
}

func record(row int, a, b string, sev models.Severity) InteractionRecord {
	return InteractionRecord{
		RowNumber:       row,
		SubstanceAName:  a,
		SubstanceBName:  b,
		InteractionType: "pharmacokinetic",
		Severity:        sev,
		SummaryShort:    fmt.Sprintf("%s with %s", a, b),
	}
}
