package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisflux/riskengine/internal/engine"
	"github.com/aegisflux/riskengine/internal/model"
)

const fixture = `{
  "targets": {
    "acme": {"controls": {}},
    "globex": {
      "controls": {"mfa_enabled_users": 1, "total_users": 10, "online_endpoints": 10},
      "detection": {"online_endpoints": 10}
    }
  },
  "events": [
    {"id": "1", "hostname": "web-01", "event_type": "vulnerability", "severity": "critical", "timestamp": "2025-06-01T10:00:00Z"},
    {"id": "2", "hostname": "web-01", "event_type": "suspicious_behavior", "severity": "high", "timestamp": "2025-06-01T10:10:00Z"},
    {"id": "3", "hostname": "db-01", "event_type": "network_anomaly", "severity": "low", "timestamp": "2025-06-01T11:00:00Z"}
  ]
}`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	return path
}

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.Bytes()
}

func TestCorrelateCommand(t *testing.T) {
	path := writeFixture(t)
	graphs := filepath.Join(t.TempDir(), "missing")

	var incidents []model.Incident
	out := run(t, "correlate", "--fixture", path, "--graph-dir", graphs, "--window", "0", "--log-level", "error")
	require.NoError(t, json.Unmarshal(out, &incidents))
	require.Len(t, incidents, 2)

	members := 0
	for _, inc := range incidents {
		members += inc.AlertCount
	}
	assert.Equal(t, 3, members)

	out = run(t, "correlate", "--fixture", path, "--graph-dir", graphs, "--window", "5m", "--log-level", "error")
	require.NoError(t, json.Unmarshal(out, &incidents))
	assert.Len(t, incidents, 3)
}

func TestScoreCommand(t *testing.T) {
	path := writeFixture(t)

	var score model.ResilienceScore
	out := run(t, "score", "--fixture", path, "--target", "acme", "--at", "2025-06-01T12:00:00Z", "--log-level", "error")
	require.NoError(t, json.Unmarshal(out, &score))
	assert.Equal(t, "acme", score.Target)
	assert.Equal(t, 100.0, score.VRSScore)
	assert.Equal(t, "A+", score.Grade)

	var report engine.BatchReport
	out = run(t, "score", "--fixture", path, "--target", "", "--at", "2025-06-01T12:00:00Z", "--log-level", "error")
	require.NoError(t, json.Unmarshal(out, &report))
	assert.Equal(t, 2, report.Scored)
	assert.Equal(t, 0, report.Failed)
}
