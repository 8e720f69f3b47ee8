package scoring

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisflux/riskengine/internal/model"
)

var asOf = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return asOf.Add(-time.Duration(d * 24 * float64(time.Hour)))
}

func ptr[T any](v T) *T {
	return &v
}

// healthyFacts has full control and telemetry coverage, no vulnerabilities and no alerts
func healthyFacts() Facts {
	return Facts{
		Target:    "customer-1",
		AsOf:      asOf,
		Controls:  ControlCounts{MFAEnabledUsers: 20, TotalUsers: 20, EncryptedEndpoints: 10, FirewallEndpoints: 10, OnlineEndpoints: 10},
		Detection: DetectionCounts{MonitoredEndpoints: 10, OnlineEndpoints: 10},
	}
}

func vuln(severity, status string, age float64, exploited bool) VulnerabilityRecord {
	v := VulnerabilityRecord{Severity: severity, Status: status, DetectedAt: daysAgo(age), ActivelyExploited: exploited}
	if status == VulnStatusPatched {
		v.PatchedAt = ptr(daysAgo(age / 2))
	}
	return v
}

func alert(severity string, ageDays float64, ackAfter, resolveAfter time.Duration) AlertRecord {
	a := AlertRecord{Severity: severity, CreatedAt: daysAgo(ageDays)}
	if ackAfter > 0 {
		a.AcknowledgedAt = ptr(a.CreatedAt.Add(ackAfter))
	}
	if resolveAfter > 0 {
		a.ResolvedAt = ptr(a.CreatedAt.Add(resolveAfter))
	}
	return a
}

func mustScorer(t *testing.T, profile string) *Scorer {
	t.Helper()
	s, err := NewScorer(profile)
	require.NoError(t, err)
	return s
}

func assertInvariant(t *testing.T, score *model.ResilienceScore) {
	t.Helper()
	c := score.Components
	assert.InDelta(t, score.VRSScore, c.Total(), 0.001)
	assert.GreaterOrEqual(t, score.VRSScore, 0.0)
	assert.LessOrEqual(t, score.VRSScore, 100.0)
	for _, part := range []struct{ v, max float64 }{
		{c.Vulnerability, MaxVulnerability},
		{c.Controls, MaxControls},
		{c.Detection, MaxDetection},
		{c.Response, MaxResponse},
	} {
		assert.GreaterOrEqual(t, part.v, 0.0)
		assert.LessOrEqual(t, part.v, part.max)
	}
}

func TestScore_ConcreteScenario(t *testing.T) {
	facts := healthyFacts()
	facts.Vulnerabilities = []VulnerabilityRecord{
		vuln("critical", VulnStatusOpen, 10, false),
		vuln("high", VulnStatusOpen, 10, false),
	}

	score, err := mustScorer(t, "").Score("customer-1", facts, nil)
	require.NoError(t, err)

	assert.Equal(t, 30.0, score.Components.Vulnerability)
	assert.Equal(t, 30.0, score.Components.Controls)
	assert.Equal(t, 20.0, score.Components.Detection)
	assert.Equal(t, 10.0, score.Components.Response)
	assert.Equal(t, 90.0, score.VRSScore)
	assert.Equal(t, "A", score.Grade)
	assert.Equal(t, "LOW", score.RiskCategory)
	assert.Equal(t, model.ProfileVRS, score.Profile)
	assert.Equal(t, asOf, score.CalculatedAt)
	assert.Equal(t, CalculationVersion, score.CalculationVersion)
	assert.Nil(t, score.ScoreChange)
	assert.Empty(t, score.Trend)

	assert.Equal(t, 1, score.Metrics.CriticalVulnerabilities)
	assert.Equal(t, 1, score.Metrics.HighVulnerabilities)
	assert.Equal(t, 2, score.Metrics.TotalOpenVulnerabilities)
	assert.Equal(t, 10.0, score.Metrics.AvgVulnerabilityAgeDays)
	assert.Equal(t, 0.0, score.Metrics.PatchCompliancePct)

	assert.Equal(t, model.ComponentBreakdown{Score: 30, MaxScore: 40, Percentage: 75}, score.Breakdown[BreakdownVulnerability])
	assert.Equal(t, 100.0, score.Breakdown[BreakdownResponse].Percentage)

	assert.Equal(t, []string{
		"GOOD: Maintain current security practices",
		"Patch 1 critical vulnerabilities within 24 hours",
	}, score.Recommendations)
	assertInvariant(t, score)
}

func TestVulnerabilityScore(t *testing.T) {
	tests := []struct {
		name     string
		vulns    []VulnerabilityRecord
		expected float64
	}{
		{"none", nil, 40},
		{"six criticals", repeat(vuln("critical", VulnStatusOpen, 1, false), 6), 20},
		{"eleven criticals", repeat(vuln("critical", VulnStatusOpen, 1, false), 11), 10},
		{"eleven highs", repeat(vuln("high", VulnStatusOpen, 1, false), 11), 35},
		{"twenty one highs", repeat(vuln("high", VulnStatusOpen, 1, false), 21), 30},
		{"aged over 30 days", []VulnerabilityRecord{vuln("low", VulnStatusOpen, 45, false)}, 35},
		{"aged over 60 days", []VulnerabilityRecord{vuln("low", VulnStatusOpen, 75, false)}, 30},
		{"exploited", []VulnerabilityRecord{vuln("medium", VulnStatusOpen, 1, true), vuln("medium", VulnStatusOpen, 1, true)}, 30},
		{"patched ignored", repeat(vuln("critical", VulnStatusPatched, 5, true), 3), 40},
		{"outside 90 day window", []VulnerabilityRecord{vuln("critical", VulnStatusOpen, 120, true)}, 40},
		{"clamped at zero", append(repeat(vuln("critical", VulnStatusOpen, 70, true), 11), repeat(vuln("high", VulnStatusOpen, 70, false), 21)...), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := healthyFacts()
			facts.Vulnerabilities = tt.vulns
			var m model.ScoreMetrics
			assert.Equal(t, tt.expected, vulnerabilityScore(&facts, &m))
		})
	}
}

func TestVulnerabilityScore_PatchCompliance(t *testing.T) {
	facts := healthyFacts()
	var m model.ScoreMetrics
	vulnerabilityScore(&facts, &m)
	assert.Equal(t, 100.0, m.PatchCompliancePct)

	facts.Vulnerabilities = []VulnerabilityRecord{
		vuln("high", VulnStatusPatched, 20, false),
		vuln("low", VulnStatusPatched, 20, false),
		vuln("high", VulnStatusOpen, 20, false),
		{Severity: "low", Status: VulnStatusPatched, DetectedAt: daysAgo(20)},
	}
	m = model.ScoreMetrics{}
	vulnerabilityScore(&facts, &m)
	assert.Equal(t, 50.0, m.PatchCompliancePct)
}

func TestControlsScore(t *testing.T) {
	tests := []struct {
		name     string
		controls ControlCounts
		expected float64
	}{
		{"full coverage", ControlCounts{MFAEnabledUsers: 10, TotalUsers: 10, EncryptedEndpoints: 4, FirewallEndpoints: 4, OnlineEndpoints: 4}, 30},
		{"zero denominators default to full", ControlCounts{}, 30},
		{"bands", ControlCounts{MFAEnabledUsers: 8, TotalUsers: 10, EncryptedEndpoints: 5, FirewallEndpoints: 4, OnlineEndpoints: 10}, 8 + 5 + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := healthyFacts()
			facts.Controls = tt.controls
			var m model.ScoreMetrics
			assert.Equal(t, tt.expected, controlsScore(&facts, &m))
		})
	}
}

func TestDetectionScore(t *testing.T) {
	tests := []struct {
		name      string
		detection DetectionCounts
		alerts    []AlertRecord
		expected  float64
	}{
		{"full coverage no alerts", DetectionCounts{MonitoredEndpoints: 10, OnlineEndpoints: 10}, nil, 20},
		{"no eligible endpoints", DetectionCounts{}, nil, 20},
		{"coverage bands", DetectionCounts{MonitoredEndpoints: 7, OnlineEndpoints: 10}, nil, 8 + 5},
		{"poor coverage", DetectionCounts{MonitoredEndpoints: 1, OnlineEndpoints: 10}, nil, 4 + 5},
		{
			"partial acknowledgement",
			DetectionCounts{MonitoredEndpoints: 10, OnlineEndpoints: 10},
			[]AlertRecord{
				alert("low", 1, time.Minute, 0),
				alert("low", 1, time.Minute, 0),
				alert("low", 1, time.Minute, 0),
				alert("low", 1, 0, 0),
			},
			15 + 3,
		},
		{
			"old alerts ignored",
			DetectionCounts{MonitoredEndpoints: 10, OnlineEndpoints: 10},
			[]AlertRecord{alert("high", 40, 0, 0)},
			20,
		},
		{
			"nothing acknowledged",
			DetectionCounts{MonitoredEndpoints: 10, OnlineEndpoints: 10},
			[]AlertRecord{alert("high", 2, 0, 0)},
			15 + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := healthyFacts()
			facts.Detection = tt.detection
			facts.Alerts = tt.alerts
			var m model.ScoreMetrics
			assert.Equal(t, tt.expected, detectionScore(&facts, &m))
		})
	}
}

func TestResponseScore(t *testing.T) {
	tests := []struct {
		name     string
		alerts   []AlertRecord
		expected float64
	}{
		{"fast acknowledge and contain", []AlertRecord{alert("critical", 1, 10*time.Minute, 30*time.Minute)}, 10},
		{"middle bands", []AlertRecord{alert("high", 1, 30*time.Minute, 3*time.Hour)}, 3 + 3},
		{"slow bands", []AlertRecord{alert("high", 1, 2*time.Hour, 7*time.Hour)}, 1 + 1},
		{"too slow", []AlertRecord{alert("high", 1, 5*time.Hour, 9*time.Hour)}, 0},
		{"unmeasured scores zero", []AlertRecord{alert("critical", 1, 0, 0)}, 0},
		{"acknowledged but never contained", []AlertRecord{alert("high", 1, 5*time.Minute, 0)}, 5},
		{"mean over alerts", []AlertRecord{alert("high", 1, 10*time.Minute, 0), alert("high", 2, 30*time.Minute, 0)}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := healthyFacts()
			facts.Alerts = tt.alerts
			var m model.ScoreMetrics
			assert.Equal(t, tt.expected, responseScore(&facts, &m))
		})
	}
}

func TestResponseScore_ZeroHighAlertsBonus(t *testing.T) {
	facts := healthyFacts()
	facts.Alerts = []AlertRecord{
		alert("low", 1, 0, 0),
		alert("medium", 2, 20*time.Hour, 0),
		alert("critical", 45, 0, 0),
	}

	var m model.ScoreMetrics
	assert.Equal(t, MaxResponse, responseScore(&facts, &m))
	assert.Equal(t, 0, m.CriticalAlerts30d)
	assert.Nil(t, m.MTTAMinutes)
	assert.Nil(t, m.MTTCMinutes)
}

func TestScore_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	severities := []string{"critical", "high", "medium", "low", ""}
	statuses := []string{VulnStatusOpen, VulnStatusPatched}

	for _, profile := range []string{model.ProfileVRS, model.ProfileFast} {
		scorer := mustScorer(t, profile)
		for i := 0; i < 200; i++ {
			facts := Facts{AsOf: asOf}

			for n := rng.Intn(40); n > 0; n-- {
				facts.Vulnerabilities = append(facts.Vulnerabilities,
					vuln(severities[rng.Intn(len(severities))], statuses[rng.Intn(2)], float64(rng.Intn(150)), rng.Intn(4) == 0))
			}
			for n := rng.Intn(20); n > 0; n-- {
				facts.Alerts = append(facts.Alerts, alert(severities[rng.Intn(len(severities))], float64(rng.Intn(45)),
					time.Duration(rng.Intn(600))*time.Minute, time.Duration(rng.Intn(900))*time.Minute))
			}
			total := rng.Intn(50)
			facts.Controls = ControlCounts{
				MFAEnabledUsers:    rng.Intn(total + 1),
				TotalUsers:         total,
				EncryptedEndpoints: rng.Intn(total + 1),
				FirewallEndpoints:  rng.Intn(total + 1),
				OnlineEndpoints:    total,
			}
			facts.Detection = DetectionCounts{MonitoredEndpoints: rng.Intn(total + 1), OnlineEndpoints: total}
			facts.SuspiciousEvents24h = rng.Intn(10)
			facts.MLDetections24h = rng.Intn(5)

			score, err := scorer.Score("t", facts, nil)
			require.NoError(t, err)
			assertInvariant(t, score)
			assert.LessOrEqual(t, len(score.Recommendations), 5)
			assert.NotEmpty(t, score.Recommendations)
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	facts := healthyFacts()
	facts.Vulnerabilities = []VulnerabilityRecord{vuln("critical", VulnStatusOpen, 40, true)}
	facts.Alerts = []AlertRecord{alert("high", 3, 90*time.Minute, 5*time.Hour)}

	scorer := mustScorer(t, model.ProfileVRS)
	first, err := scorer.Score("customer-1", facts, ptr(70.0))
	require.NoError(t, err)
	second, err := scorer.Score("customer-1", facts, ptr(70.0))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFastProfile(t *testing.T) {
	tests := []struct {
		name       string
		vulns      []VulnerabilityRecord
		suspicious int
		ml         int
		expected   float64
	}{
		{"clean", nil, 0, 0, 100},
		{"critical and high with suspicious events", []VulnerabilityRecord{
			vuln("critical", VulnStatusOpen, 1, false),
			vuln("high", VulnStatusOpen, 1, false),
		}, 2, 0, 60},
		{"medium and low", []VulnerabilityRecord{
			vuln("medium", VulnStatusOpen, 1, false),
			vuln("low", VulnStatusOpen, 1, false),
		}, 0, 1, 83},
		{"all caps hit", repeat(vuln("critical", VulnStatusOpen, 1, false), 10), 10, 5, 0},
		{"vulnerability cap", repeat(vuln("critical", VulnStatusOpen, 1, false), 10), 0, 0, 40},
	}

	scorer := mustScorer(t, "FAST")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := healthyFacts()
			facts.Vulnerabilities = tt.vulns
			facts.SuspiciousEvents24h = tt.suspicious
			facts.MLDetections24h = tt.ml

			score, err := scorer.Score("endpoint-7", facts, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, score.VRSScore)
			assert.Equal(t, model.ProfileFast, score.Profile)
			assertInvariant(t, score)
		})
	}
}

func TestDistribute(t *testing.T) {
	c := distribute(60)
	assert.Equal(t, model.ComponentScores{Vulnerability: 24, Controls: 18, Detection: 12, Response: 6}, c)

	c = distribute(83)
	assert.InDelta(t, 83.0, c.Total(), 0.001)
	assert.InDelta(t, 33.2, c.Vulnerability, 0.001)

	// 0.1 cannot be split evenly; the largest share takes it
	assert.Equal(t, model.ComponentScores{Vulnerability: 0.1}, distribute(0.1))
	assert.Equal(t, model.ComponentScores{Vulnerability: 39.9, Controls: 30, Detection: 20, Response: 10}, distribute(99.9))
}

func TestDistribute_PartsAddUpInTenths(t *testing.T) {
	for tenths := 0; tenths <= 1000; tenths++ {
		total := float64(tenths) / 10
		c := distribute(total)

		parts := []struct{ v, max float64 }{
			{c.Vulnerability, MaxVulnerability},
			{c.Controls, MaxControls},
			{c.Detection, MaxDetection},
			{c.Response, MaxResponse},
		}
		sum := 0
		for _, part := range parts {
			v := int(math.Round(part.v * 10))
			require.InDelta(t, float64(v)/10, part.v, 1e-9, "total %.1f", total)
			require.GreaterOrEqual(t, part.v, 0.0, "total %.1f", total)
			require.LessOrEqual(t, part.v, part.max, "total %.1f", total)
			sum += v
		}
		require.Equal(t, tenths, sum, "total %.1f", total)
		require.Equal(t, total, round1(c.Total()), "total %.1f", total)
	}
}

func TestGrade(t *testing.T) {
	tests := []struct {
		score    float64
		expected string
	}{
		{100, "A+"}, {95, "A+"}, {94.9, "A"}, {90, "A"}, {85, "A-"}, {80, "B+"},
		{75, "B"}, {70, "B-"}, {65, "C+"}, {60, "C"}, {59.9, "D"}, {50, "D"}, {49.9, "F"}, {0, "F"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Grade(tt.score), "score %.1f", tt.score)
	}
}

func TestGrade_Monotonic(t *testing.T) {
	rank := map[string]int{"F": 0, "D": 1, "C": 2, "C+": 3, "B-": 4, "B": 5, "B+": 6, "A-": 7, "A": 8, "A+": 9}

	prev := rank[Grade(0)]
	for i := 1; i <= 1000; i++ {
		current := rank[Grade(float64(i) / 10)]
		assert.GreaterOrEqual(t, current, prev, "grade dropped at %.1f", float64(i)/10)
		prev = current
	}
}

func TestRiskCategory(t *testing.T) {
	assert.Equal(t, "LOW", RiskCategory(80))
	assert.Equal(t, "MEDIUM", RiskCategory(79.9))
	assert.Equal(t, "MEDIUM", RiskCategory(60))
	assert.Equal(t, "HIGH", RiskCategory(40))
	assert.Equal(t, "CRITICAL", RiskCategory(39.9))
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous *float64
		change   *float64
		trend    string
	}{
		{"no previous", 80, nil, nil, ""},
		{"small rise is stable", 81.9, ptr(80.0), ptr(1.9), model.TrendStable},
		{"small drop is stable", 78.1, ptr(80.0), ptr(-1.9), model.TrendStable},
		{"improving", 82, ptr(80.0), ptr(2.0), model.TrendImproving},
		{"declining", 70, ptr(80.0), ptr(-10.0), model.TrendDeclining},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, trend := Trend(tt.current, tt.previous)
			assert.Equal(t, tt.change, change)
			assert.Equal(t, tt.trend, trend)
		})
	}
}

func TestRecommendations(t *testing.T) {
	facts := Facts{
		Target:    "customer-2",
		AsOf:      asOf,
		Controls:  ControlCounts{MFAEnabledUsers: 5, TotalUsers: 10, EncryptedEndpoints: 2, FirewallEndpoints: 10, OnlineEndpoints: 10},
		Detection: DetectionCounts{MonitoredEndpoints: 5, OnlineEndpoints: 10},
		Vulnerabilities: []VulnerabilityRecord{
			vuln("critical", VulnStatusOpen, 50, false),
		},
		Alerts: []AlertRecord{alert("high", 1, 3*time.Hour, 0)},
	}

	score, err := mustScorer(t, "").Score("", facts, nil)
	require.NoError(t, err)

	assert.Equal(t, "customer-2", score.Target)
	assert.Equal(t, 52.0, score.VRSScore)
	assert.Equal(t, []string{
		"URGENT: Security posture requires immediate attention",
		"Patch 1 critical vulnerabilities within 24 hours",
		"Reduce average vulnerability age to under 30 days",
		"Increase MFA adoption from 50.0% to 95%+",
		"Enable disk encryption on 8 more endpoints",
	}, score.Recommendations)
}

func TestRecommendations_SlowAcknowledgement(t *testing.T) {
	m := model.ScoreMetrics{
		MFAAdoptionPct:        100,
		EncryptionCoveragePct: 100,
		EDRCoveragePct:        100,
		CriticalAlerts30d:     2,
		MTTAMinutes:           ptr(95.4),
	}
	assert.Equal(t, []string{
		"URGENT: Security posture requires immediate attention",
		"Reduce mean time to acknowledge from 95 to <15 minutes",
	}, Recommendations(42, &m))

	m.MTTAMinutes = ptr(30.0)
	assert.Len(t, Recommendations(42, &m), 1)

	m.MTTAMinutes = nil
	assert.Len(t, Recommendations(42, &m), 2)

	m.CriticalAlerts30d = 0
	assert.Len(t, Recommendations(42, &m), 1)
}

func TestScore_InvalidFacts(t *testing.T) {
	scorer := mustScorer(t, "")

	_, err := scorer.Score("t", Facts{}, nil)
	assert.ErrorIs(t, err, ErrInvalidFacts)

	facts := healthyFacts()
	facts.Controls.MFAEnabledUsers = 50
	_, err = scorer.Score("t", facts, nil)
	assert.ErrorIs(t, err, ErrInvalidFacts)

	facts = healthyFacts()
	facts.Target = ""
	_, err = scorer.Score("", facts, nil)
	assert.ErrorIs(t, err, ErrInvalidFacts)
}

func TestNewScorer_UnknownProfile(t *testing.T) {
	_, err := NewScorer("legacy")
	assert.Error(t, err)

	s, err := NewScorer(" vrs ")
	require.NoError(t, err)
	assert.Equal(t, model.ProfileVRS, s.Profile())
}

func repeat(v VulnerabilityRecord, n int) []VulnerabilityRecord {
	out := make([]VulnerabilityRecord, n)
	for i := range out {
		out[i] = v
	}
	return out
}
