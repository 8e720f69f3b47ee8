package scoring

import (
	"fmt"

	"github.com/aegisflux/riskengine/internal/model"
)

const maxRecommendations = 5

// Recommendations returns remediation guidance for a score, most important first
func Recommendations(total float64, m *model.ScoreMetrics) []string {
	var recs []string

	switch {
	case total < LowScoreThreshold:
		recs = append(recs, "URGENT: Security posture requires immediate attention")
	case total < 75:
		recs = append(recs, "MODERATE: Several security improvements recommended")
	default:
		recs = append(recs, "GOOD: Maintain current security practices")
	}

	if m.CriticalVulnerabilities > 0 {
		recs = append(recs, fmt.Sprintf("Patch %d critical vulnerabilities within 24 hours", m.CriticalVulnerabilities))
	}

	if m.AvgVulnerabilityAgeDays > 30 {
		recs = append(recs, "Reduce average vulnerability age to under 30 days")
	}

	if m.MFAAdoptionPct < 90 {
		recs = append(recs, fmt.Sprintf("Increase MFA adoption from %.1f%% to 95%%+", m.MFAAdoptionPct))
	}

	if m.EncryptionCoveragePct < 90 {
		recs = append(recs, fmt.Sprintf("Enable disk encryption on %d more endpoints", m.TotalEndpoints-m.EncryptedEndpoints))
	}

	if m.EDRCoveragePct < 95 {
		recs = append(recs, fmt.Sprintf("Increase EDR coverage from %.1f%% to 100%%", m.EDRCoveragePct))
	}

	if m.CriticalAlerts30d > 0 {
		switch {
		case m.MTTAMinutes == nil:
			recs = append(recs, "Acknowledge high and critical alerts; none were acknowledged in the last 30 days")
		case *m.MTTAMinutes > 60:
			recs = append(recs, fmt.Sprintf("Reduce mean time to acknowledge from %.0f to <15 minutes", *m.MTTAMinutes))
		}
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}
