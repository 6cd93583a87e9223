package main

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"interaction-pipeline/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func clearDBEnv(t *testing.T) {
	for _, k := range []string{"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 4, exitCode(withCode(services.ExitUsage, errors.New("bad"))))
	assert.Equal(t, 2, exitCode(errors.New("unclassified")))
	assert.Equal(t, 3, exitCode(&services.PipelineError{Kind: services.KindVerification, Err: errors.New("x")}))
	assert.Nil(t, withCode(1, nil))
}

func TestUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"missing argument":  {"ingest"},
		"too many":          {"ingest", "a.csv", "b.csv"},
		"zero batch size":   {"ingest", "--batch-size=0", "a.csv"},
		"huge batch size":   {"ingest", "--batch-size=10001", "a.csv"},
		"unknown flag":      {"ingest", "--fast", "a.csv"},
		"verify with args":  {"verify", "extra"},
		"alias needs two":   {"alias", "only-id"},
		"audit list limit":  {"audit", "list", "--limit=x"},
		"seed without file": {"seed"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, services.ExitUsage, exitCode(err))
		})
	}
}

func TestMissingConfigIsUsageError(t *testing.T) {
	clearDBEnv(t)

	err := execute(t, "verify")
	require.Error(t, err)
	assert.Equal(t, services.ExitUsage, exitCode(err))
}

// unreachableDB zeigt die Konfiguration auf einen Port, auf dem niemand lauscht.
func unreachableDB(t *testing.T) {
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "1")
	t.Setenv("DB_USER", "ingest")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "interactions")
	t.Setenv("ARCHIVE_S3_BUCKET", "")
}

func TestSourceErrorsComeBeforeStorage(t *testing.T) {
	unreachableDB(t)

	for name, args := range map[string][]string{
		"missing file":          {"ingest", "/nonexistent/file.csv"},
		"directory":             {"ingest", t.TempDir()},
		"malformed s3 uri":      {"ingest", "s3://bucket-only"},
		"s3 without archive":    {"ingest", "s3://ingest/interactions.csv"},
		"export without bucket": {"audit", "export"},
	} {
		t.Run(name, func(t *testing.T) {
			err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, services.ExitUsage, exitCode(err))
		})
	}
}

func TestUnreachableDatabaseIsStorageError(t *testing.T) {
	unreachableDB(t)

	err := execute(t, "ingest", "testdata/substances.yaml")
	require.Error(t, err)
	assert.Equal(t, services.ExitStorage, exitCode(err))
}

func TestSeedTestdataParses(t *testing.T) {
	f, err := os.Open("testdata/substances.yaml")
	require.NoError(t, err)
	defer f.Close()

	seed, err := services.ParseSeed(f)
	require.NoError(t, err)
	require.NotEmpty(t, seed.Substances)
	for _, s := range seed.Substances {
		assert.True(t, s.Type.Valid(), s.DisplayName)
	}
}
