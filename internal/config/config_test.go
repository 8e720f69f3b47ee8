package config

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisflux/riskengine/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaults() ConfigSnapshot {
	return ConfigSnapshot{
		CorrelationWindowSeconds: 7200,
		LookbackSeconds:          86400,
		ScoringProfile:           "vrs",
		ScoreConcurrency:         4,
	}
}

func TestClientGetSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/config", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"configs":[
			{"key":"riskengine.correlation_window_seconds","value":600,"updated_at":"2026-01-02T03:04:05Z"},
			{"key":"riskengine.scoring_profile","value":"FAST"},
			{"key":"riskengine.score_concurrency","value":"8"},
			{"key":"correlator.window_seconds","value":30}
		],"count":4}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", testLogger())
	snapshot, err := client.GetSnapshot(context.Background(), defaults())
	require.NoError(t, err)

	assert.Equal(t, 600, snapshot.CorrelationWindowSeconds)
	assert.Equal(t, 86400, snapshot.LookbackSeconds)
	assert.Equal(t, "fast", snapshot.ScoringProfile)
	assert.Equal(t, 8, snapshot.ScoreConcurrency)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), snapshot.LastUpdated.UTC())
}

func TestClientGetSnapshotWithFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())
	_, err := client.GetSnapshot(context.Background(), defaults())
	require.Error(t, err)

	snapshot := client.GetSnapshotWithFallback(context.Background(), defaults())
	assert.Equal(t, defaults(), *snapshot)
}

func TestManagerHandleConfigChange(t *testing.T) {
	m := NewManager("http://unused", nil, testLogger())
	m.updateConfig(func() *ConfigSnapshot { s := defaults(); return &s }())

	var got []*ConfigSnapshot
	m.Subscribe(func(s *ConfigSnapshot) { got = append(got, s) })
	m.Subscribe(func(*ConfigSnapshot) { panic("subscriber failure") })

	m.handleConfigChange([]byte(`{"key":"riskengine.lookback_seconds","value":3600,"updated_by":"ops","timestamp":1767225600}`))

	current := m.GetCurrentConfig()
	require.NotNil(t, current)
	assert.Equal(t, 3600, current.LookbackSeconds)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), current.LastUpdated)
	require.Len(t, got, 1)
	assert.Equal(t, 3600, got[0].LookbackSeconds)

	// unknown keys and bad payloads leave the snapshot untouched
	m.handleConfigChange([]byte(`{"key":"decision.mode","value":"auto"}`))
	m.handleConfigChange([]byte(`not json`))
	m.handleConfigChange([]byte(`{"key":"riskengine.score_concurrency","value":"many"}`))
	assert.Len(t, got, 1)
	assert.Equal(t, 4, m.GetCurrentConfig().ScoreConcurrency)
}

func TestManagerInitializeWithoutNATS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"configs":[{"key":"riskengine.fast_interval_seconds","value":900}],"count":1}`))
	}))
	defer srv.Close()

	m := NewManager(srv.URL, nil, testLogger())
	require.NoError(t, m.Initialize(context.Background(), defaults()))
	assert.Equal(t, 900, m.GetCurrentConfig().FastIntervalSeconds)
	assert.NoError(t, m.Close())
}

func TestSnapshotApplyTo(t *testing.T) {
	s := engine.DefaultSettings()
	snapshot := ConfigSnapshot{
		CorrelationWindowSeconds: 300,
		ScoringProfile:           "fast",
		FastIntervalSeconds:      60,
	}
	snapshot.ApplyTo(&s)

	assert.Equal(t, 5*time.Minute, s.CorrelationWindow)
	assert.Equal(t, 24*time.Hour, s.Lookback)
	assert.Equal(t, "fast", s.Profile)
	assert.Equal(t, 4, s.Concurrency)
	assert.Equal(t, time.Minute, s.FastInterval)
	assert.NoError(t, s.Validate())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("RISK_DATABASE_DSN", "postgres://db")
	t.Setenv("RISK_SCORE_CONCURRENCY", "16")
	t.Setenv("RISK_SCORE_CACHE_TTL", "90m")
	t.Setenv("RISK_HOT_RELOAD", "true")
	t.Setenv("RISK_MAX_RUNS", "not-a-number")

	env := LoadEnv()
	assert.Equal(t, "postgres://db", env.HistoryDSN)
	assert.Equal(t, 16, env.Defaults.ScoreConcurrency)
	assert.Equal(t, 90*time.Minute, env.ScoreCacheTTL)
	assert.True(t, env.HotReload)
	assert.Equal(t, 100, env.MaxRuns)
}
