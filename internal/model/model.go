package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SecurityEvent represents a security telemetry event reported by a monitored endpoint
type SecurityEvent struct {
	ID         string    `json:"id"`
	Hostname   string    `json:"hostname"`
	EventType  string    `json:"event_type"` // vulnerability, suspicious_behavior, malware_detected, ...
	Timestamp  time.Time `json:"timestamp"`
	Severity   string    `json:"severity"` // critical, high, medium, low
	CustomerID string    `json:"customer_id,omitempty"`
	Details    Details   `json:"details,omitempty"`
}

// Valid reports whether the event carries the fields correlation depends on
func (e *SecurityEvent) Valid() bool {
	return strings.TrimSpace(e.Hostname) != "" &&
		strings.TrimSpace(e.EventType) != "" &&
		!e.Timestamp.IsZero()
}

// NormalizedType returns the lower-cased event type
func (e *SecurityEvent) NormalizedType() string {
	return strings.ToLower(strings.TrimSpace(e.EventType))
}

// NormalizedSeverity returns the lower-cased severity, defaulting to low when absent
func (e *SecurityEvent) NormalizedSeverity() string {
	s := strings.ToLower(strings.TrimSpace(e.Severity))
	if s == "" {
		return SeverityLow
	}
	return s
}

// UnmarshalJSON decodes the details payload into the variant matching the event type.
// A timestamp that does not parse is left zero so the event is skipped as invalid
// instead of failing the whole payload.
func (e *SecurityEvent) UnmarshalJSON(data []byte) error {
	type alias SecurityEvent
	aux := struct {
		*alias
		Timestamp json.RawMessage `json:"timestamp"`
		Details   json.RawMessage `json:"details,omitempty"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Timestamp = time.Time{}
	if ts, err := ParseTimestamp(aux.Timestamp); err == nil {
		e.Timestamp = ts
	}
	e.Details = DecodeDetails(e.EventType, aux.Details)
	return nil
}

// Incident is a group of correlated security events describing one attack narrative
type Incident struct {
	IncidentID         string          `json:"incident_id"`
	Key                string          `json:"key,omitempty"` // one occurrence of IncidentID, set by the store
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Severity           string          `json:"severity"` // critical, high, medium, low
	Status             string          `json:"status"`   // open, investigating, resolved
	AlertCount         int             `json:"alert_count"`
	AffectedHosts      []string        `json:"affected_hosts"`
	EventTypes         []string        `json:"event_types"`
	FirstSeen          time.Time       `json:"first_seen"`
	LastSeen           time.Time       `json:"last_seen"`
	MemberEvents       []SecurityEvent `json:"member_events"`
	KillChainStage     string          `json:"kill_chain_stage"`
	RecommendedActions []string        `json:"recommended_actions"`
}

// StoreKey returns Key, or IncidentID for an incident that was never stored
func (i *Incident) StoreKey() string {
	if i.Key != "" {
		return i.Key
	}
	return i.IncidentID
}

// Incident status values
const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
)

// ComponentBreakdown describes one scoring component relative to its maximum
type ComponentBreakdown struct {
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
	Percentage float64 `json:"percentage"`
}

// ComponentScores holds the four additive parts of a resilience score
type ComponentScores struct {
	Vulnerability float64 `json:"vulnerability"` // 0-40
	Controls      float64 `json:"controls"`      // 0-30
	Detection     float64 `json:"detection"`     // 0-20
	Response      float64 `json:"response"`      // 0-10
}

// Total returns the sum of all components
func (c ComponentScores) Total() float64 {
	return c.Vulnerability + c.Controls + c.Detection + c.Response
}

// ScoreMetrics carries the raw facts that fed a resilience score
type ScoreMetrics struct {
	CriticalVulnerabilities  int     `json:"critical_vulnerabilities"`
	HighVulnerabilities      int     `json:"high_vulnerabilities"`
	MediumVulnerabilities    int     `json:"medium_vulnerabilities"`
	TotalOpenVulnerabilities int     `json:"total_open_vulnerabilities"`
	AvgVulnerabilityAgeDays  float64 `json:"avg_vulnerability_age_days"`
	ExploitedVulnerabilities int     `json:"exploited_vulnerabilities"`
	PatchCompliancePct       float64 `json:"patch_compliance_pct"`

	MFAAdoptionPct           float64 `json:"mfa_adoption_pct"`
	MFAEnabledUsers          int     `json:"mfa_enabled_users"`
	TotalUsers               int     `json:"total_users"`
	EncryptionCoveragePct    float64 `json:"encryption_coverage_pct"`
	EncryptedEndpoints       int     `json:"encrypted_endpoints"`
	FirewallCoveragePct      float64 `json:"firewall_coverage_pct"`
	FirewallEnabledEndpoints int     `json:"firewall_enabled_endpoints"`
	TotalEndpoints           int     `json:"total_endpoints"`

	EDRCoveragePct       float64 `json:"edr_coverage_pct"`
	MonitoredEndpoints   int     `json:"monitored_endpoints"`
	TotalAlerts30d       int     `json:"total_alerts_30d"`
	AcknowledgedAlerts   int     `json:"acknowledged_alerts"`
	AlertResponseRatePct float64 `json:"alert_response_rate_pct"`
	HighSeverityAlerts   int     `json:"high_severity_alerts"`

	MTTAMinutes       *float64 `json:"mtta_minutes,omitempty"`
	MTTCMinutes       *float64 `json:"mttc_minutes,omitempty"`
	CriticalAlerts30d int      `json:"critical_alerts_30d"`
	ResolvedAlerts    int      `json:"resolved_alerts"`

	SuspiciousEvents24h int `json:"suspicious_events_24h,omitempty"`
	MLDetections24h     int `json:"ml_detections_24h,omitempty"`
}

// ResilienceScore is the composite security posture score for one target
type ResilienceScore struct {
	Target             string                        `json:"target"`
	VRSScore           float64                       `json:"vrs_score"`
	Grade              string                        `json:"grade"`
	RiskCategory       string                        `json:"risk_category"`
	Profile            string                        `json:"profile"` // vrs, fast
	Components         ComponentScores               `json:"component_scores"`
	Breakdown          map[string]ComponentBreakdown `json:"breakdown"`
	Metrics            ScoreMetrics                  `json:"metrics"`
	Recommendations    []string                      `json:"recommendations"`
	PreviousScore      *float64                      `json:"previous_score,omitempty"`
	ScoreChange        *float64                      `json:"score_change,omitempty"`
	Trend              string                        `json:"trend,omitempty"` // IMPROVING, STABLE, DECLINING
	CalculatedAt       time.Time                     `json:"calculated_at"`
	CalculationVersion string                        `json:"calculation_version"`
}

// Trend values
const (
	TrendImproving = "IMPROVING"
	TrendStable    = "STABLE"
	TrendDeclining = "DECLINING"
)

// Scoring profiles
const (
	ProfileVRS  = "vrs"
	ProfileFast = "fast"
)

// LowScoreAlert is raised when a target's resilience score drops below the alert threshold
type LowScoreAlert struct {
	Target          string    `json:"target"`
	VRSScore        float64   `json:"vrs_score"`
	Grade           string    `json:"grade"`
	RiskCategory    string    `json:"risk_category"`
	Threshold       float64   `json:"threshold"`
	Recommendations []string  `json:"recommendations"`
	CalculatedAt    time.Time `json:"calculated_at"`
}
