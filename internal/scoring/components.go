package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/aegisflux/riskengine/internal/model"
)

// Component maxima
const (
	MaxVulnerability = 40.0
	MaxControls      = 30.0
	MaxDetection     = 20.0
	MaxResponse      = 10.0
)

// Look-back windows, measured from Facts.AsOf
const (
	VulnerabilityWindow = 90 * 24 * time.Hour
	AlertWindow         = 30 * 24 * time.Hour
)

// band maps a value to points: the first threshold the value reaches wins
type band struct {
	threshold float64
	points    float64
}

func tier(value float64, bands []band, fallback float64) float64 {
	for _, b := range bands {
		if value >= b.threshold {
			return b.points
		}
	}
	return fallback
}

var (
	controlBands = []band{{95, 10}, {80, 8}, {50, 5}}
	edrBands     = []band{{95, 15}, {80, 12}, {60, 8}}
	ackRateBands = []band{{90, 5}, {70, 3}}
)

// vulnerabilityScore scores open CVE exposure (max 40)
func vulnerabilityScore(f *Facts, m *model.ScoreMetrics) float64 {
	cutoff := f.AsOf.Add(-VulnerabilityWindow)

	var (
		inWindow, patched int
		ageSum            float64
	)
	for _, v := range f.Vulnerabilities {
		if !v.DetectedAt.After(cutoff) {
			continue
		}
		inWindow++

		if v.IsPatched() {
			patched++
		}
		if !v.IsOpen() {
			continue
		}

		m.TotalOpenVulnerabilities++
		switch normalizeSeverity(v.Severity) {
		case model.SeverityCritical:
			m.CriticalVulnerabilities++
		case model.SeverityHigh:
			m.HighVulnerabilities++
		case model.SeverityMedium:
			m.MediumVulnerabilities++
		}
		if v.ActivelyExploited {
			m.ExploitedVulnerabilities++
		}

		age := f.AsOf.Sub(v.DetectedAt).Hours() / 24
		if age > 0 {
			ageSum += age
		}
	}

	var avgAge float64
	if m.TotalOpenVulnerabilities > 0 {
		avgAge = ageSum / float64(m.TotalOpenVulnerabilities)
	}
	m.AvgVulnerabilityAgeDays = round1(avgAge)
	m.PatchCompliancePct = percentage(patched, inWindow)

	score := MaxVulnerability

	switch c := m.CriticalVulnerabilities; {
	case c == 0:
	case c <= 5:
		score -= 10
	case c <= 10:
		score -= 20
	default:
		score -= 30
	}

	switch h := m.HighVulnerabilities; {
	case h <= 10:
	case h <= 20:
		score -= 5
	default:
		score -= 10
	}

	switch {
	case avgAge > 60:
		score -= 10
	case avgAge > 30:
		score -= 5
	}

	score -= 5 * float64(m.ExploitedVulnerabilities)

	return math.Max(0, score)
}

// controlsScore scores MFA, disk encryption and firewall coverage (max 30)
func controlsScore(f *Facts, m *model.ScoreMetrics) float64 {
	c := f.Controls

	m.MFAEnabledUsers = c.MFAEnabledUsers
	m.TotalUsers = c.TotalUsers
	m.EncryptedEndpoints = c.EncryptedEndpoints
	m.FirewallEnabledEndpoints = c.FirewallEndpoints
	m.TotalEndpoints = c.OnlineEndpoints

	m.MFAAdoptionPct = percentage(c.MFAEnabledUsers, c.TotalUsers)
	m.EncryptionCoveragePct = percentage(c.EncryptedEndpoints, c.OnlineEndpoints)
	m.FirewallCoveragePct = percentage(c.FirewallEndpoints, c.OnlineEndpoints)

	return tier(m.MFAAdoptionPct, controlBands, 2) +
		tier(m.EncryptionCoveragePct, controlBands, 2) +
		tier(m.FirewallCoveragePct, controlBands, 2)
}

// detectionScore scores telemetry coverage and alert acknowledgement (max 20)
func detectionScore(f *Facts, m *model.ScoreMetrics) float64 {
	m.MonitoredEndpoints = f.Detection.MonitoredEndpoints
	m.EDRCoveragePct = percentage(f.Detection.MonitoredEndpoints, f.Detection.OnlineEndpoints)

	score := tier(m.EDRCoveragePct, edrBands, 4)

	cutoff := f.AsOf.Add(-AlertWindow)
	for _, a := range f.Alerts {
		if !a.CreatedAt.After(cutoff) {
			continue
		}
		m.TotalAlerts30d++
		if a.AcknowledgedAt != nil {
			m.AcknowledgedAlerts++
		}
		if isHighOrCritical(a.Severity) {
			m.HighSeverityAlerts++
		}
	}

	// no alerts is not penalized
	m.AlertResponseRatePct = percentage(m.AcknowledgedAlerts, m.TotalAlerts30d)
	if m.TotalAlerts30d == 0 {
		return score + 5
	}
	return score + tier(m.AlertResponseRatePct, ackRateBands, 1)
}

// responseScore scores MTTA and MTTC over high and critical alerts (max 10)
func responseScore(f *Facts, m *model.ScoreMetrics) float64 {
	cutoff := f.AsOf.Add(-AlertWindow)

	var (
		ackSum, resolveSum float64
		acked              int
	)
	for _, a := range f.Alerts {
		if !a.CreatedAt.After(cutoff) || !isHighOrCritical(a.Severity) {
			continue
		}
		m.CriticalAlerts30d++
		if a.AcknowledgedAt != nil {
			acked++
			ackSum += a.AcknowledgedAt.Sub(a.CreatedAt).Minutes()
		}
		if a.ResolvedAt != nil {
			m.ResolvedAlerts++
			resolveSum += a.ResolvedAt.Sub(a.CreatedAt).Minutes()
		}
	}

	if acked > 0 {
		mtta := round1(ackSum / float64(acked))
		m.MTTAMinutes = &mtta
	}
	if m.ResolvedAlerts > 0 {
		mttc := round1(resolveSum / float64(m.ResolvedAlerts))
		m.MTTCMinutes = &mttc
	}

	if m.CriticalAlerts30d == 0 {
		return MaxResponse
	}

	var score float64
	if m.MTTAMinutes != nil {
		score += belowTier(*m.MTTAMinutes, []band{{15, 5}, {60, 3}, {240, 1}})
	}
	if m.MTTCMinutes != nil {
		score += belowTier(*m.MTTCMinutes, []band{{60, 5}, {240, 3}, {480, 1}})
	}
	return score
}

// belowTier is tier for "lower is better" values: the first threshold the value is under wins
func belowTier(value float64, bands []band) float64 {
	for _, b := range bands {
		if value < b.threshold {
			return b.points
		}
	}
	return 0
}

// percentage returns part/total as a percentage rounded to one decimal; 100 when total is zero
func percentage(part, total int) float64 {
	if total <= 0 {
		return 100
	}
	return round1(float64(part) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func normalizeSeverity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return model.SeverityLow
	}
	return s
}

func isHighOrCritical(severity string) bool {
	s := normalizeSeverity(severity)
	return s == model.SeverityCritical || s == model.SeverityHigh
}
