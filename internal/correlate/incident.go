package correlate

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aegisflux/riskengine/internal/model"
)

const (
	maxRecommendations = 5
	maxSequenceTypes   = 5
	unknownStage       = "Unknown"
)

// killChainMap maps event types to MITRE ATT&CK tactic names
var killChainMap = map[string]string{
	"vulnerability":        "Initial Access",
	"malware_detected":     "Execution",
	"suspicious_behavior":  "Persistence",
	"privilege_escalation": "Privilege Escalation",
	"credential_access":    "Credential Access",
	"lateral_movement":     "Lateral Movement",
	"network_anomaly":      "Command and Control",
	"data_exfiltration":    "Exfiltration",
}

// killChainOrder lists stages from earliest to latest
var killChainOrder = []string{
	"Initial Access",
	"Execution",
	"Persistence",
	"Privilege Escalation",
	"Credential Access",
	"Lateral Movement",
	"Command and Control",
	"Exfiltration",
}

// buildIncident synthesizes an incident from a time-ordered, non-empty group
func buildIncident(events []model.SecurityEvent) model.Incident {
	hosts := distinctHosts(events)
	types := distinctTypes(events)
	severity := IncidentSeverity(events)

	firstHost := "Unknown Host"
	if len(hosts) > 0 {
		firstHost = hosts[0]
	}

	var title string
	if len(types) == 1 {
		title = fmt.Sprintf("%s on %s", humanize(types[0]), firstHost)
	} else {
		title = "Multi-Stage Attack on " + firstHost
	}

	return model.Incident{
		IncidentID:         IncidentID(hosts, types),
		Title:              title,
		Description:        describe(events, hosts),
		Severity:           severity,
		Status:             model.StatusOpen,
		AlertCount:         len(events),
		AffectedHosts:      hosts,
		EventTypes:         types,
		FirstSeen:          events[0].Timestamp,
		LastSeen:           events[len(events)-1].Timestamp,
		MemberEvents:       events,
		KillChainStage:     KillChainStage(types),
		RecommendedActions: recommend(severity, types, len(events)),
	}
}

// IncidentSeverity combines alert severities: 70% of the worst plus 30% of the mean
func IncidentSeverity(events []model.SecurityEvent) string {
	if len(events) == 0 {
		return model.SeverityLow
	}

	var sum, max float64
	for _, ev := range events {
		w := model.SeverityWeight(ev.NormalizedSeverity())
		sum += w
		if w > max {
			max = w
		}
	}
	mean := sum / float64(len(events))

	return model.SeverityFromScore(max*0.7 + mean*0.3)
}

// IncidentID derives a stable id from the sorted hosts and event types of an incident
func IncidentID(hosts, types []string) string {
	h := append([]string(nil), hosts...)
	t := append([]string(nil), types...)
	sort.Strings(h)
	sort.Strings(t)

	sum := md5.Sum([]byte(strings.Join(h, "-") + "-" + strings.Join(t, "-")))
	return "INC-" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

// KillChainStage returns the most advanced stage reached by the given event types
func KillChainStage(types []string) string {
	present := make(map[string]bool)
	for _, t := range types {
		if stage, ok := killChainMap[strings.ToLower(t)]; ok {
			present[stage] = true
		}
	}

	for i := len(killChainOrder) - 1; i >= 0; i-- {
		if present[killChainOrder[i]] {
			return killChainOrder[i]
		}
	}
	return unknownStage
}

func describe(events []model.SecurityEvent, hosts []string) string {
	if len(events) == 1 {
		ev := events[0]
		return fmt.Sprintf("Single %s detected: %s", ev.NormalizedType(), model.DetailsSummary(ev.Details))
	}

	sequence := make([]string, 0, maxSequenceTypes)
	for i, ev := range events {
		if i == maxSequenceTypes {
			break
		}
		sequence = append(sequence, ev.NormalizedType())
	}

	desc := fmt.Sprintf("Correlated incident involving %d related alerts across %d host(s). Event sequence: %s",
		len(events), len(hosts), strings.Join(sequence, " → "))

	if len(events) > maxSequenceTypes {
		desc += fmt.Sprintf(" ... and %d more events.", len(events)-maxSequenceTypes)
	}
	return desc
}

func recommend(severity string, types []string, memberCount int) []string {
	present := make(map[string]bool, len(types))
	for _, t := range types {
		present[t] = true
	}

	var recs []string

	if severity == model.SeverityCritical || severity == model.SeverityHigh {
		recs = append(recs,
			"Immediate isolation of affected hosts recommended",
			"Notify security team and incident response personnel")
	}

	if present["malware_detected"] {
		recs = append(recs,
			"Run full malware scan on affected systems",
			"Block malicious file hashes at network perimeter")
	}

	if present["privilege_escalation"] || present["credential_access"] {
		recs = append(recs,
			"Force password reset for affected accounts",
			"Review and revoke suspicious access tokens")
	}

	if present["data_exfiltration"] {
		recs = append(recs,
			"Block egress traffic to suspicious destinations",
			"Analyze data loss to determine scope of breach")
	}

	if present["lateral_movement"] {
		recs = append(recs,
			"Audit network segmentation and access controls",
			"Enable enhanced logging on critical systems")
	}

	if present["vulnerability"] {
		recs = append(recs,
			"Apply security patches immediately",
			"Implement virtual patching if updates unavailable")
	}

	if memberCount > 1 {
		recs = append(recs, "Preserve forensic evidence for investigation")
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

// distinctHosts returns hostnames deduplicated case-insensitively, sorted
func distinctHosts(events []model.SecurityEvent) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, ev := range events {
		h := strings.TrimSpace(ev.Hostname)
		key := strings.ToLower(h)
		if h == "" || seen[key] {
			continue
		}
		seen[key] = true
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// distinctTypes returns the normalized event types present, sorted
func distinctTypes(events []model.SecurityEvent) []string {
	seen := make(map[string]bool)
	var types []string
	for _, ev := range events {
		t := ev.NormalizedType()
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// humanize turns "privilege_escalation" into "Privilege Escalation"
func humanize(eventType string) string {
	words := strings.Fields(strings.ReplaceAll(eventType, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
