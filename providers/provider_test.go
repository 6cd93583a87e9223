package providers

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"interaction-pipeline/providers/localfile"
	"interaction-pipeline/providers/s3object"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct{ key string }

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.key = *in.Key
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("a,b\n"))}, nil
}

func TestResolveLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.csv")
	require.NoError(t, os.WriteFile(path, []byte("header\n"), 0o600))

	src, err := Resolve(path, nil)
	require.NoError(t, err)
	assert.IsType(t, &localfile.Source{}, src)
	assert.Equal(t, path, src.Name())

	rc, err := src.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "header\n", string(data))
}

func TestResolveRejectsInvalidPaths(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"", filepath.Join(dir, "missing.csv"), dir, "s3://bucket-only", "s3://bucket/dir/"} {
		_, err := Resolve(p, &fakeGetter{})
		assert.ErrorIs(t, err, ErrInvalidSource, p)
	}

	_, err := Resolve("s3://bucket/key.csv", nil)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestCheckTouchesNoStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.csv")
	require.NoError(t, os.WriteFile(path, []byte("header\n"), 0o600))

	assert.NoError(t, Check(path))
	assert.NoError(t, Check("s3://ingest/2026/interactions.csv"))
	assert.ErrorIs(t, Check(filepath.Join(t.TempDir(), "missing.csv")), ErrInvalidSource)
	assert.ErrorIs(t, Check("s3://ingest/"), ErrInvalidSource)
	assert.ErrorIs(t, Check("  "), ErrInvalidSource)
}

func TestResolveS3Object(t *testing.T) {
	g := &fakeGetter{}
	src, err := Resolve("s3://ingest/2026/interactions.csv", g)
	require.NoError(t, err)
	assert.IsType(t, &s3object.Source{}, src)
	assert.Equal(t, "s3://ingest/2026/interactions.csv", src.Name())

	rc, err := src.Open(context.Background())
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "2026/interactions.csv", g.key)
}

func TestFromReader(t *testing.T) {
	src := FromReader("upload.csv", strings.NewReader("x"))
	assert.Equal(t, "upload.csv", src.Name())
	rc, err := src.Open(context.Background())
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "x", string(data))
}

func TestParseURI(t *testing.T) {
	bucket, key, err := s3object.ParseURI("s3://b/k/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "k/x.csv", key)

	_, _, err = s3object.ParseURI("https://b/k")
	assert.Error(t, err)
}
