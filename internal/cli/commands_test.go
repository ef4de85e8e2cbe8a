package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/vitals-cli-go/internal/api"
	"github.com/colthorp/vitals-cli-go/internal/cache"
	"github.com/colthorp/vitals-cli-go/internal/core"
	"github.com/colthorp/vitals-cli-go/internal/stats"
)

func TestBuildReport(t *testing.T) {
	transport := seededTransport()
	env := testEnvironment(t, transport)

	report, err := buildReport(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Patients)
	require.NotNil(t, report.MinDate)
	assert.Equal(t, "2006-05-01", *report.MinDate)
	assert.Equal(t, "2006-06-01", *report.MaxDate)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "844", report.Rows[0].Code)
	assert.Equal(t, []float64{120, 118}, report.Rows[0].Values)
	assert.Equal(t, "mmHg", report.Rows[0].Units)

	// A second run is served entirely from the cache.
	requests := transport.RequestsMade()
	_, err = buildReport(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, requests, transport.RequestsMade())
}

func TestBuildReportParallelMatchesSequential(t *testing.T) {
	sequential, err := buildReport(context.Background(), testEnvironment(t, seededTransport()))
	require.NoError(t, err)

	env := testEnvironment(t, seededTransport())
	env.cfg.Parallel = 4
	parallel, err := buildReport(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
}

func TestBuildReportErrors(t *testing.T) {
	t.Run("identity violation", func(t *testing.T) {
		transport := api.NewInMemoryTransport()
		transport.SeedPatient(1, "Other MRN")
		_, err := buildReport(context.Background(), testEnvironment(t, transport))
		assert.ErrorIs(t, err, cache.ErrIdentityContract)
	})

	t.Run("date parse", func(t *testing.T) {
		transport := api.NewInMemoryTransport()
		transport.SeedPatient(1, core.DefaultIdentifierLabel)
		transport.SeedVital(1, "May 1 2006", "844", "Heart rate", 1, "mmHg")
		_, err := buildReport(context.Background(), testEnvironment(t, transport))
		assert.ErrorIs(t, err, stats.ErrDateParse)
	})

	t.Run("transport", func(t *testing.T) {
		transport := api.NewInMemoryTransport()
		transport.Err = &api.APIError{Endpoint: "Patient", StatusCode: 502, Message: "bad gateway"}
		_, err := buildReport(context.Background(), testEnvironment(t, transport))
		assert.ErrorIs(t, err, api.ErrTransport)
	})
}

func TestCollectEntries(t *testing.T) {
	env := testEnvironment(t, api.NewMockTransport(map[string]string{
		"Observation/_search": `{"totalResults":1,"entry":[{"title":"Observation/1","updated":"2014-01-01T00:00:00Z","content":{}}]}`,
		"Patient":             `{"totalResults":3}`,
	}))

	entries, err := collectEntries(context.Background(), env, "Observation", "_search", map[string]string{"subject:Patient": "1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Observation/1", entries[0].Title)

	_, err = collectEntries(context.Background(), env, "Patient", "", nil)
	assert.ErrorIs(t, err, api.ErrMalformedEnvelope)

	entries, err = collectEntries(context.Background(), env, "Encounter", "", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithProgressPassesThrough(t *testing.T) {
	env := testEnvironment(t, seededTransport())
	boom := errors.New("boom")

	seq := func(yield func(cache.PatientVitals, error) bool) {
		if !yield(cache.PatientVitals{PatientID: 1}, nil) {
			return
		}
		yield(cache.PatientVitals{}, boom)
	}

	var got []error
	for _, err := range env.withProgress(seq, 2) {
		got = append(got, err)
	}
	assert.Equal(t, []error{nil, boom}, got)
}

func TestLoadConfigFlags(t *testing.T) {
	t.Setenv("VITALS_BASE_URL", "http://from-env")
	t.Setenv("VITALS_CACHE_ROOT", "/tmp/env-cache")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", cfg.BaseURL)
	assert.True(t, cfg.CacheEnabled)

	noCache, cacheDir, baseURL = true, "/tmp/flag-cache", "http://from-flag"
	t.Cleanup(func() { noCache, cacheDir, baseURL = false, "", "" })

	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag", cfg.BaseURL)
	assert.Equal(t, "/tmp/flag-cache", cfg.CacheRoot)
	assert.False(t, cfg.CacheEnabled)
}

func TestNewEnvironmentFilesystem(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VITALS_CACHE_ROOT", dir)

	transport := seededTransport()
	orig := newTransport
	newTransport = func(core.Config, *slog.Logger) api.Transport { return transport }
	t.Cleanup(func() { newTransport = orig })

	cfg, err := loadConfig()
	require.NoError(t, err)
	env, err := newEnvironment(context.Background(), cfg)
	require.NoError(t, err)
	defer env.Close()
	assert.True(t, env.manager.Cache().Enabled())

	ids, err := env.manager.PatientIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{101, 102}, ids)

	data, err := os.ReadFile(filepath.Join(dir, "patients", "list"))
	require.NoError(t, err)
	assert.JSONEq(t, `[101,102]`, string(data))
}

func TestNewEnvironmentNoCache(t *testing.T) {
	t.Setenv("VITALS_CACHE_ROOT", t.TempDir())
	noCache = true
	t.Cleanup(func() { noCache = false })

	cfg, err := loadConfig()
	require.NoError(t, err)
	env, err := newEnvironment(context.Background(), cfg)
	require.NoError(t, err)
	defer env.Close()
	assert.False(t, env.manager.Cache().Enabled())
}

func TestNewEnvironmentRejectsBadConfig(t *testing.T) {
	cfg := core.Config{BaseURL: "x", CacheBackend: "tape", StartDate: core.DefaultStartDate, StopDate: core.DefaultStopDate}
	_, err := newEnvironment(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown cache backend")
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"report", "patients", "vitals", "search", "mcp"} {
		assert.Contains(t, joined, want)
	}
}

func TestVitalsCommandRejectsBadID(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"vitals", "abc"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "invalid patient id")
}
