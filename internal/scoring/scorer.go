package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/aegisflux/riskengine/internal/model"
)

// CalculationVersion is stamped on every score
const CalculationVersion = "1.0.0"

// LowScoreThreshold is the score under which a low-score alert is raised
const LowScoreThreshold = 60.0

// Breakdown keys
const (
	BreakdownVulnerability = "vulnerability_exposure"
	BreakdownControls      = "security_controls"
	BreakdownDetection     = "threat_detection"
	BreakdownResponse      = "incident_response"
)

// Scorer computes resilience scores using one scoring profile
type Scorer struct {
	profile string
}

// NewScorer creates a scorer for the given profile; an empty profile means vrs
func NewScorer(profile string) (*Scorer, error) {
	switch p := strings.ToLower(strings.TrimSpace(profile)); p {
	case "", model.ProfileVRS:
		return &Scorer{profile: model.ProfileVRS}, nil
	case model.ProfileFast:
		return &Scorer{profile: model.ProfileFast}, nil
	default:
		return nil, fmt.Errorf("unknown scoring profile %q", profile)
	}
}

// Profile returns the active scoring profile
func (s *Scorer) Profile() string {
	return s.profile
}

// Score computes the resilience score for target from a facts snapshot. previous is the
// most recent persisted score for the same target, nil when there is none.
func (s *Scorer) Score(target string, facts Facts, previous *float64) (*model.ResilienceScore, error) {
	if err := facts.Validate(); err != nil {
		return nil, err
	}
	if target == "" {
		target = facts.Target
	}
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidFacts)
	}

	var metrics model.ScoreMetrics
	components := model.ComponentScores{
		Vulnerability: vulnerabilityScore(&facts, &metrics),
		Controls:      controlsScore(&facts, &metrics),
		Detection:     detectionScore(&facts, &metrics),
		Response:      responseScore(&facts, &metrics),
	}
	metrics.SuspiciousEvents24h = facts.SuspiciousEvents24h
	metrics.MLDetections24h = facts.MLDetections24h

	if s.profile == model.ProfileFast {
		components = distribute(fastScore(&metrics))
	}

	total := round1(components.Total())
	change, trend := Trend(total, previous)

	return &model.ResilienceScore{
		Target:             target,
		VRSScore:           total,
		Grade:              Grade(total),
		RiskCategory:       RiskCategory(total),
		Profile:            s.profile,
		Components:         components,
		Breakdown:          breakdown(components),
		Metrics:            metrics,
		Recommendations:    Recommendations(total, &metrics),
		PreviousScore:      previous,
		ScoreChange:        change,
		Trend:              trend,
		CalculatedAt:       facts.AsOf,
		CalculationVersion: CalculationVersion,
	}, nil
}

// fastScore is the single-pass profile: 100 minus capped deductions for open
// vulnerabilities, suspicious events and ML detections
func fastScore(m *model.ScoreMetrics) float64 {
	low := m.TotalOpenVulnerabilities - m.CriticalVulnerabilities - m.HighVulnerabilities - m.MediumVulnerabilities

	vuln := math.Min(60, float64(20*m.CriticalVulnerabilities+10*m.HighVulnerabilities+5*m.MediumVulnerabilities+2*low))
	suspicious := math.Min(30, float64(5*m.SuspiciousEvents24h))
	ml := math.Min(40, float64(10*m.MLDetections24h))

	return math.Max(0, 100-vuln-suspicious-ml)
}

// distribute spreads a 0-100 total over the four components in proportion to their
// maxima. The split is done in whole tenths: each component gets the floor of its share
// and the leftover tenths go to the largest remainders, so the parts add up to the total.
func distribute(total float64) model.ComponentScores {
	tenths := int(math.Round(clamp(total, 0, 100) * 10))
	maxima := [4]int{int(MaxVulnerability), int(MaxControls), int(MaxDetection), int(MaxResponse)}

	var parts, remainders [4]int
	left := tenths
	for i, m := range maxima {
		parts[i] = tenths * m / 100
		remainders[i] = tenths * m % 100
		left -= parts[i]
	}
	for ; left > 0; left-- {
		best := 0
		for i := 1; i < len(remainders); i++ {
			if remainders[i] > remainders[best] {
				best = i
			}
		}
		parts[best]++
		remainders[best] = -1
	}

	return model.ComponentScores{
		Vulnerability: float64(parts[0]) / 10,
		Controls:      float64(parts[1]) / 10,
		Detection:     float64(parts[2]) / 10,
		Response:      float64(parts[3]) / 10,
	}
}

func breakdown(c model.ComponentScores) map[string]model.ComponentBreakdown {
	entry := func(score, maxScore float64) model.ComponentBreakdown {
		return model.ComponentBreakdown{Score: score, MaxScore: maxScore, Percentage: round1(score / maxScore * 100)}
	}
	return map[string]model.ComponentBreakdown{
		BreakdownVulnerability: entry(c.Vulnerability, MaxVulnerability),
		BreakdownControls:      entry(c.Controls, MaxControls),
		BreakdownDetection:     entry(c.Detection, MaxDetection),
		BreakdownResponse:      entry(c.Response, MaxResponse),
	}
}

// Grade converts a score to its letter band
func Grade(score float64) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "A-"
	case score >= 80:
		return "B+"
	case score >= 75:
		return "B"
	case score >= 70:
		return "B-"
	case score >= 65:
		return "C+"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

// RiskCategory converts a score to a coarse risk label
func RiskCategory(score float64) string {
	switch {
	case score >= 80:
		return "LOW"
	case score >= 60:
		return "MEDIUM"
	case score >= 40:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}

// Trend compares a score with the previous one; both results are empty without a previous score
func Trend(current float64, previous *float64) (*float64, string) {
	if previous == nil {
		return nil, ""
	}

	change := round1(current - *previous)
	switch {
	case math.Abs(change) < 2.0:
		return &change, model.TrendStable
	case change > 0:
		return &change, model.TrendImproving
	default:
		return &change, model.TrendDeclining
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
