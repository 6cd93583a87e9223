package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"interaction-pipeline/config"
	"interaction-pipeline/models"
	"interaction-pipeline/services"
	"interaction-pipeline/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testAPIKey = "test-key"

type testServer struct {
	app    *app
	router *gin.Engine
	ids    map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), storage.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, storage.Migrate(db))

	cfg := &config.Config{APISecretKey: testAPIKey, IngestBatchSize: 100, VerifyWorkers: 2}
	reg := prometheus.NewRegistry()
	a := newApp(cfg, db, zap.NewNop(), storage.NopCache{}, services.NewMetrics(reg), reg)

	s := &testServer{app: a, router: a.router(), ids: map[string]string{}}
	for name, typ := range map[string]models.SubstanceType{
		"Warfarin": models.SubstanceTypeDrug,
		"Fish Oil": models.SubstanceTypeSupplement,
		"Aspirin":  models.SubstanceTypeDrug,
	} {
		sub := &models.Substance{DisplayName: name, Type: typ}
		require.NoError(t, a.registry.Register(context.Background(), sub))
		s.ids[name] = sub.ID
	}
	return s
}

func (s *testServer) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) ingest(t *testing.T, query string, rows ...string) *httptest.ResponseRecorder {
	t.Helper()
	body := "substance_a_name,substance_b_name,interaction_type,severity,summary_short\n" + strings.Join(rows, "\n") + "\n"
	return s.do(http.MethodPost, "/ingestions"+query, body, map[string]string{"X-API-KEY": testAPIKey, "Content-Type": "text/csv"})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestIngestRequiresAPIKey(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/ingestions", "x", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/integrity/verify", "", map[string]string{"X-API-KEY": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngestAndLookup(t *testing.T) {
	s := newTestServer(t)

	w := s.ingest(t, "", "Fish Oil,Warfarin,pharmacokinetic,high,Increased bleeding risk")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report services.RunReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, models.AuditSuccess, report.Status)
	assert.Equal(t, 1, report.Commit.Inserted)

	for _, q := range []string{
		fmt.Sprintf("a=%s&b=%s", s.ids["Warfarin"], s.ids["Fish Oil"]),
		fmt.Sprintf("a=%s&b=%s", s.ids["Fish Oil"], s.ids["Warfarin"]),
	} {
		w = s.do(http.MethodGet, "/interactions/lookup?"+q, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var view services.InteractionView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, models.SeverityHigh, view.Interaction.Severity)
	}

	w = s.do(http.MethodGet, "/interactions/check?a=warfarin&b=FISH%20OIL", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/ingestions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.IngestionAudit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, report.AuditID, entries[0].ID)

	w = s.do(http.MethodGet, "/ingestions/"+report.AuditID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, w.Body.String(), `ingestion_runs_total{status="success"} 1`)
}

func TestLookupErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/interactions/lookup?a="+s.ids["Aspirin"]+"&b="+s.ids["Warfarin"], "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/interactions/lookup?a="+s.ids["Aspirin"]+"&b="+s.ids["Aspirin"], "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/interactions/check?a=Unobtainium&b=Aspirin", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/ingestions/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/substances/autocomplete?q=war&type=food", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestValidationFailure(t *testing.T) {
	s := newTestServer(t)

	w := s.ingest(t, "", "Vitamin K2,Warfarin,pharmacodynamic,high,Reduced effect")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Vitamin K2")
	assert.Contains(t, w.Body.String(), `"run"`)

	w = s.ingest(t, "?batch_size=0", "Fish Oil,Warfarin,pharmacokinetic,high,x")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.ingest(t, "?dry_run=maybe", "Fish Oil,Warfarin,pharmacokinetic,high,x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestDryRun(t *testing.T) {
	s := newTestServer(t)

	w := s.ingest(t, "?dry_run=true", "Fish Oil,Warfarin,pharmacokinetic,high,x")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var n int64
	require.NoError(t, s.app.db.Model(&models.Interaction{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAutocompleteAndVerify(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/substances/autocomplete?q=war", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subs []models.Substance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subs))
	require.NotEmpty(t, subs)
	assert.Equal(t, "Warfarin", subs[0].DisplayName)

	w = s.do(http.MethodPost, "/integrity/verify", "", map[string]string{"X-API-KEY": testAPIKey})
	assert.Equal(t, http.StatusOK, w.Code)
	var report services.VerificationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Passed)
}
