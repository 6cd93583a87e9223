package services

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"interaction-pipeline/models"
	"interaction-pipeline/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore ist ein ObjectStore im Speicher.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	mtimes  map[string]time.Time
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, mtimes: map[string]time.Time{}}
}

func (m *memStore) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", errors.New("bucket unavailable")
	}
	m.objects[key] = append([]byte(nil), data...)
	m.mtimes[key] = time.Now().Add(time.Duration(len(m.objects)) * time.Second)
	return "mem://" + key, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, LastModified: m.mtimes[k]})
		}
	}
	storage.SortNewestFirst(out)
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.mtimes, key)
	return nil
}

func (m *memStore) keys(prefix string) []string {
	objs, _ := m.List(context.Background(), prefix)
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Key)
	}
	return out
}

func TestAuditLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	log := NewAuditLog(db, zap.NewNop())

	entry := &models.IngestionAudit{SourceFile: "interactions.csv", BatchSize: 1000}
	require.NoError(t, log.Start(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, models.AuditRunning, entry.Status)

	require.NoError(t, log.SetStage(entry, models.StageCommit))
	entry.Inserted = 3
	require.NoError(t, log.Finish(entry, models.AuditPartial, errors.New("1 row failed"), []RowError{{Row: 4, Message: "self-pair"}}))

	got, err := log.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditPartial, got.Status)
	assert.Equal(t, models.StageCommit, got.Stage)
	assert.Equal(t, 3, got.Inserted)
	assert.Equal(t, "1 row failed", got.ErrorMessage)
	assert.True(t, got.Terminal())
	require.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, `[{"row":4,"message":"self-pair"}]`, string(got.ErrorSummary))

	_, err = log.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditListNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	log := NewAuditLog(db, zap.NewNop())

	var ids []string
	for i := 0; i < 3; i++ {
		e := &models.IngestionAudit{SourceFile: "f.csv"}
		require.NoError(t, log.Start(ctx, e))
		ids = append(ids, e.ID)
		time.Sleep(5 * time.Millisecond)
	}

	entries, err := log.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ids[2], entries[0].ID)
	assert.Equal(t, ids[1], entries[1].ID)
}

func TestAuditExportRotates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	log := NewAuditLog(db, zap.NewNop())
	for i := 0; i < 2; i++ {
		require.NoError(t, log.Start(ctx, &models.IngestionAudit{SourceFile: "f.csv"}))
	}

	store := newMemStore()
	for _, k := range []string{"audit-exports/audit-old1.jsonl.gz", "audit-exports/audit-old2.jsonl.gz", "sources/keep.csv"} {
		_, err := store.Put(ctx, k, []byte("x"))
		require.NoError(t, err)
	}

	res, err := log.Export(ctx, store, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, []string{"audit-exports/audit-old1.jsonl.gz"}, res.Rotated)
	assert.Len(t, store.keys(AuditExportPrefix), 2)
	assert.Len(t, store.keys("sources/"), 1)

	key := strings.TrimPrefix(res.URI, "mem://")
	zr, err := gzip.NewReader(bytes.NewReader(store.objects[key]))
	require.NoError(t, err)
	var lines int
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var e models.IngestionAudit
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		assert.Equal(t, "f.csv", e.SourceFile)
		lines++
	}
	assert.Equal(t, 2, lines)
}
