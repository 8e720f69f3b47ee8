package scoring

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidFacts is returned when a facts snapshot cannot be scored
var ErrInvalidFacts = errors.New("invalid facts")

// Vulnerability status values
const (
	VulnStatusOpen    = "open"
	VulnStatusPatched = "patched"
)

// VulnerabilityRecord is one CVE finding on a target
type VulnerabilityRecord struct {
	CVE               string     `json:"cve"`
	Severity          string     `json:"severity"`
	Status            string     `json:"status"` // open, patched
	DetectedAt        time.Time  `json:"detected_at"`
	PatchedAt         *time.Time `json:"patched_at,omitempty"`
	ActivelyExploited bool       `json:"actively_exploited"`
}

// IsOpen reports whether the vulnerability is still open
func (v VulnerabilityRecord) IsOpen() bool {
	return strings.EqualFold(v.Status, VulnStatusOpen)
}

// IsPatched reports whether the vulnerability was patched with a recorded date
func (v VulnerabilityRecord) IsPatched() bool {
	return strings.EqualFold(v.Status, VulnStatusPatched) && v.PatchedAt != nil
}

// ControlCounts holds security control adoption counts
type ControlCounts struct {
	MFAEnabledUsers    int `json:"mfa_enabled_users"`
	TotalUsers         int `json:"total_users"`
	EncryptedEndpoints int `json:"encrypted_endpoints"`
	FirewallEndpoints  int `json:"firewall_endpoints"`
	OnlineEndpoints    int `json:"online_endpoints"`
}

// DetectionCounts holds telemetry coverage counts
type DetectionCounts struct {
	MonitoredEndpoints int `json:"monitored_endpoints"` // sent at least one event in the last 24h
	OnlineEndpoints    int `json:"online_endpoints"`
}

// AlertRecord is one alert raised for a target
type AlertRecord struct {
	ID             string     `json:"id"`
	Severity       string     `json:"severity"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Facts is the read-only snapshot a resilience score is computed from.
// Every age and window is measured from AsOf.
type Facts struct {
	Target              string                `json:"target"`
	AsOf                time.Time             `json:"as_of"`
	Vulnerabilities     []VulnerabilityRecord `json:"vulnerabilities"`
	Controls            ControlCounts         `json:"controls"`
	Detection           DetectionCounts       `json:"detection"`
	Alerts              []AlertRecord         `json:"alerts"`
	SuspiciousEvents24h int                   `json:"suspicious_events_24h"`
	MLDetections24h     int                   `json:"ml_detections_24h"`
}

// Validate checks that the snapshot is internally consistent
func (f *Facts) Validate() error {
	if f.AsOf.IsZero() {
		return fmt.Errorf("%w: as_of is required", ErrInvalidFacts)
	}

	counts := []struct {
		name        string
		part, total int
	}{
		{"mfa_enabled_users", f.Controls.MFAEnabledUsers, f.Controls.TotalUsers},
		{"encrypted_endpoints", f.Controls.EncryptedEndpoints, f.Controls.OnlineEndpoints},
		{"firewall_endpoints", f.Controls.FirewallEndpoints, f.Controls.OnlineEndpoints},
		{"monitored_endpoints", f.Detection.MonitoredEndpoints, f.Detection.OnlineEndpoints},
	}
	for _, c := range counts {
		if c.part < 0 || c.total < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidFacts, c.name)
		}
		if c.total > 0 && c.part > c.total {
			return fmt.Errorf("%w: %s exceeds its total (%d > %d)", ErrInvalidFacts, c.name, c.part, c.total)
		}
	}

	if f.SuspiciousEvents24h < 0 || f.MLDetections24h < 0 {
		return fmt.Errorf("%w: event counts must not be negative", ErrInvalidFacts)
	}

	return nil
}
