package correlate

import (
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/rules"
)

var base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func event(id, host, eventType, severity string, offset time.Duration) model.SecurityEvent {
	return model.SecurityEvent{
		ID:        id,
		Hostname:  host,
		EventType: eventType,
		Severity:  severity,
		Timestamp: base.Add(offset),
	}
}

// partition returns the member ids of every incident as sorted, comparable keys
func partition(incidents []model.Incident) []string {
	keys := make([]string, 0, len(incidents))
	for _, inc := range incidents {
		ids := make([]string, 0, len(inc.MemberEvents))
		for _, ev := range inc.MemberEvents {
			ids = append(ids, ev.ID)
		}
		sort.Strings(ids)
		keys = append(keys, strings.Join(ids, ","))
	}
	sort.Strings(keys)
	return keys
}

func sampleEvents() []model.SecurityEvent {
	return []model.SecurityEvent{
		event("e1", "web-01", "vulnerability", "critical", 0),
		event("e2", "web-01", "suspicious_behavior", "high", 10*time.Minute),
		event("e3", "WEB-01", "privilege_escalation", "high", 40*time.Minute),
		event("e4", "db-01", "network_anomaly", "medium", 5*time.Minute),
		event("e5", "db-01", "data_exfiltration", "high", 30*time.Minute),
		event("e6", "web-01", "data_exfiltration", "low", 50*time.Minute),
		event("e7", "mail-01", "custom_probe", "", 0),
		event("e8", "mail-01", "custom_probe", "low", 90*time.Minute),
		event("e9", "web-01", "vulnerability", "medium", 6*time.Hour),
	}
}

func TestCorrelate_MultiStageScenario(t *testing.T) {
	c := New(nil)

	incidents := c.Correlate([]model.SecurityEvent{
		event("a", "host-1", "vulnerability", "critical", 0),
		event("b", "host-1", "suspicious_behavior", "high", 10*time.Minute),
	})

	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, model.SeverityCritical, inc.Severity)
	assert.Equal(t, "Persistence", inc.KillChainStage)
	assert.Equal(t, model.StatusOpen, inc.Status)
	assert.Equal(t, 2, inc.AlertCount)
	assert.Equal(t, "Multi-Stage Attack on host-1", inc.Title)
	assert.Equal(t, []string{"host-1"}, inc.AffectedHosts)
	assert.Equal(t, []string{"suspicious_behavior", "vulnerability"}, inc.EventTypes)
	assert.Equal(t, base, inc.FirstSeen)
	assert.Equal(t, base.Add(10*time.Minute), inc.LastSeen)
	assert.NotEmpty(t, inc.RecommendedActions)
	assert.LessOrEqual(t, len(inc.RecommendedActions), 5)
	assert.Equal(t, "Immediate isolation of affected hosts recommended", inc.RecommendedActions[0])
	assert.Equal(t,
		"Correlated incident involving 2 related alerts across 1 host(s). Event sequence: vulnerability → suspicious_behavior",
		inc.Description)
}

func TestCorrelate_Partition(t *testing.T) {
	events := sampleEvents()
	events = append(events,
		model.SecurityEvent{ID: "bad1", EventType: "vulnerability", Timestamp: base},
		model.SecurityEvent{ID: "bad2", Hostname: "web-01", Timestamp: base},
		model.SecurityEvent{ID: "bad3", Hostname: "web-01", EventType: "vulnerability"},
	)

	result := New(nil).Run(events)
	assert.Equal(t, 9, result.Processed)
	assert.Equal(t, 3, result.Skipped)

	seen := make(map[string]int)
	for _, inc := range result.Incidents {
		assert.Equal(t, len(inc.MemberEvents), inc.AlertCount)
		for _, ev := range inc.MemberEvents {
			seen[ev.ID]++
		}
	}

	for _, ev := range sampleEvents() {
		assert.Equal(t, 1, seen[ev.ID], "event %s must be in exactly one incident", ev.ID)
	}
	assert.NotContains(t, seen, "bad1")
	assert.NotContains(t, seen, "bad2")
	assert.NotContains(t, seen, "bad3")
}

func TestCorrelate_ExpectedGroups(t *testing.T) {
	incidents := New(nil).Correlate(sampleEvents())

	// e6 relates to nothing on web-01: data_exfiltration is not adjacent to the
	// web-01 types present within its window
	assert.Equal(t, []string{
		"e1,e2,e3",
		"e4,e5",
		"e6",
		"e7,e8",
		"e9",
	}, partition(incidents))
}

func TestCorrelate_ReorderIdempotent(t *testing.T) {
	c := New(nil)
	expected := partition(c.Correlate(sampleEvents()))
	expectedIDs := make([]string, 0)
	for _, inc := range c.Correlate(sampleEvents()) {
		expectedIDs = append(expectedIDs, inc.IncidentID)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := sampleEvents()
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		incidents := c.Correlate(shuffled)
		assert.Equal(t, expected, partition(incidents))

		ids := make([]string, 0, len(incidents))
		for _, inc := range incidents {
			ids = append(ids, inc.IncidentID)
		}
		assert.Equal(t, expectedIDs, ids)
	}
}

func TestCorrelate_Chaining(t *testing.T) {
	events := []model.SecurityEvent{
		event("a", "host-1", "vulnerability", "medium", 0),
		event("b", "host-1", "suspicious_behavior", "medium", 90*time.Minute),
		event("c", "host-1", "malware_detected", "medium", 3*time.Hour),
	}

	c := New(nil)
	require.False(t, c.Related(&events[0], &events[2]))

	incidents := c.Correlate(events)
	require.Len(t, incidents, 1)
	assert.Equal(t, 3, incidents[0].AlertCount)
	assert.Equal(t, "Persistence", incidents[0].KillChainStage)
}

func TestCorrelate_MergesBridgedGroups(t *testing.T) {
	// a and b start separate groups; c relates to both and merges them
	events := []model.SecurityEvent{
		event("a", "host-1", "privilege_escalation", "low", 0),
		event("b", "host-1", "credential_access", "low", 0),
		event("c", "host-1", "lateral_movement", "low", time.Minute),
	}
	graph := rules.NewGraph(map[string][]string{
		"lateral_movement": {"privilege_escalation", "credential_access"},
	}, time.Hour)

	incidents := New(graph).Correlate(events)
	require.Len(t, incidents, 1)
	assert.Equal(t, []string{"a,b,c"}, partition(incidents))
}

func TestCorrelate_Empty(t *testing.T) {
	c := New(nil)

	incidents := c.Correlate(nil)
	assert.NotNil(t, incidents)
	assert.Empty(t, incidents)

	incidents = c.Correlate([]model.SecurityEvent{{ID: "x"}})
	assert.Empty(t, incidents)
}

func TestCorrelate_OutputOrder(t *testing.T) {
	events := []model.SecurityEvent{
		event("low-old", "h1", "custom", "low", 0),
		event("crit", "h2", "custom", "critical", 0),
		event("med", "h3", "custom", "medium", time.Hour),
		event("low-new", "h4", "custom", "low", 2*time.Hour),
	}

	incidents := New(nil).Correlate(events)
	require.Len(t, incidents, 4)

	got := make([]string, 0, 4)
	for _, inc := range incidents {
		got = append(got, inc.MemberEvents[0].ID)
	}
	assert.Equal(t, []string{"crit", "med", "low-new", "low-old"}, got)
}

func TestCorrelate_WindowOption(t *testing.T) {
	events := []model.SecurityEvent{
		event("a", "host-1", "vulnerability", "low", 0),
		event("b", "host-1", "vulnerability", "low", 20*time.Minute),
	}

	assert.Len(t, New(nil).Correlate(events), 1)

	c := New(nil, WithWindow(10*time.Minute))
	assert.Equal(t, 10*time.Minute, c.Window())
	assert.Len(t, c.Correlate(events), 2)

	assert.Equal(t, rules.DefaultCorrelationWindow, New(nil, WithWindow(0)).Window())
}

func TestCorrelate_CustomGraph(t *testing.T) {
	graph := rules.NewGraph(map[string][]string{"beaconing": {"dns_tunnel"}}, 0)
	c := New(graph)

	a := event("a", "h", "beaconing", "low", 0)
	b := event("b", "h", "dns_tunnel", "low", time.Minute)
	v := event("v", "h", "vulnerability", "low", 0)
	s := event("s", "h", "suspicious_behavior", "low", 0)

	assert.True(t, c.Related(&a, &b))
	assert.False(t, c.Related(&v, &s))
}

func TestRelated_HostAndWindow(t *testing.T) {
	c := New(nil)

	a := event("a", "Host-1", "vulnerability", "low", 0)
	b := event("b", " host-1 ", "suspicious_behavior", "low", 2*time.Hour)
	d := event("d", "host-1", "suspicious_behavior", "low", 2*time.Hour+time.Second)
	other := event("o", "host-2", "vulnerability", "low", 0)

	assert.True(t, c.Related(&a, &b))
	assert.True(t, c.Related(&b, &a))
	assert.False(t, c.Related(&a, &d))
	assert.False(t, c.Related(&a, &other))
}

func TestIncidentID(t *testing.T) {
	id := IncidentID([]string{"web-02", "web-01"}, []string{"vulnerability", "malware_detected"})

	assert.Regexp(t, regexp.MustCompile(`^INC-[0-9A-F]{8}$`), id)
	assert.Equal(t, id, IncidentID([]string{"web-01", "web-02"}, []string{"malware_detected", "vulnerability"}))
	assert.NotEqual(t, id, IncidentID([]string{"web-01"}, []string{"malware_detected", "vulnerability"}))
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Privilege Escalation", humanize("privilege_escalation"))
	assert.Equal(t, "Éxfil Ünusual", humanize("éxfil_ünusual"))
	assert.Equal(t, "Lateral Movement", humanize("__lateral__movement_"))
	assert.Equal(t, "", humanize(""))
}

func TestBuildIncident_NonASCIITypeTitle(t *testing.T) {
	inc := buildIncident([]model.SecurityEvent{
		{ID: "e1", Hostname: "web-01", EventType: "ëxfil", Timestamp: base},
	})
	assert.Equal(t, "Ëxfil on web-01", inc.Title)
}

func TestIncidentSeverity(t *testing.T) {
	tests := []struct {
		name       string
		severities []string
		expected   string
	}{
		{"single critical", []string{"critical"}, model.SeverityCritical},
		{"critical and high", []string{"critical", "high"}, model.SeverityCritical},
		{"single high", []string{"high"}, model.SeverityHigh},
		{"critical diluted by lows", []string{"critical", "low", "low", "low", "low", "low", "low"}, model.SeverityHigh},
		{"single medium", []string{"medium"}, model.SeverityMedium},
		{"single low", []string{"low"}, model.SeverityLow},
		{"missing severity is low", []string{""}, model.SeverityLow},
		{"unknown label", []string{"bogus"}, model.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make([]model.SecurityEvent, len(tt.severities))
			for i, s := range tt.severities {
				events[i] = event("x", "h", "custom", s, 0)
			}
			assert.Equal(t, tt.expected, IncidentSeverity(events))
		})
	}
}

func TestKillChainStage(t *testing.T) {
	assert.Equal(t, "Exfiltration", KillChainStage([]string{"vulnerability", "data_exfiltration", "malware_detected"}))
	assert.Equal(t, "Initial Access", KillChainStage([]string{"vulnerability"}))
	assert.Equal(t, "Credential Access", KillChainStage([]string{"privilege_escalation", "credential_access"}))
	assert.Equal(t, "Unknown", KillChainStage([]string{"file_modification", "custom"}))
	assert.Equal(t, "Unknown", KillChainStage(nil))
}

func TestBuildIncident_SingleMember(t *testing.T) {
	ev := event("a", "web-01", "malware_detected", "high", 0)
	ev.Details = model.MalwareDetails{FilePath: "/tmp/x", Signature: "Trojan.Generic"}

	inc := buildIncident([]model.SecurityEvent{ev})

	assert.Equal(t, "Malware Detected on web-01", inc.Title)
	assert.True(t, strings.HasPrefix(inc.Description, "Single malware_detected detected: "))
	assert.Equal(t, []string{
		"Immediate isolation of affected hosts recommended",
		"Notify security team and incident response personnel",
		"Run full malware scan on affected systems",
		"Block malicious file hashes at network perimeter",
	}, inc.RecommendedActions)
}

func TestBuildIncident_SingleMemberWithoutDetails(t *testing.T) {
	inc := buildIncident([]model.SecurityEvent{event("a", "web-01", "custom_probe", "low", 0)})

	assert.Equal(t, "Custom Probe on web-01", inc.Title)
	assert.Equal(t, "Single custom_probe detected: No details available", inc.Description)
	assert.Equal(t, "Unknown", inc.KillChainStage)
	assert.NotNil(t, inc.RecommendedActions)
	assert.Empty(t, inc.RecommendedActions)
}

func TestBuildIncident_TruncatesSequenceAndActions(t *testing.T) {
	types := []string{
		"vulnerability", "malware_detected", "privilege_escalation",
		"data_exfiltration", "lateral_movement", "credential_access", "network_anomaly",
	}
	events := make([]model.SecurityEvent, len(types))
	for i, typ := range types {
		events[i] = event(typ, "host-1", typ, "critical", time.Duration(i)*time.Minute)
	}

	inc := buildIncident(events)

	assert.Len(t, inc.RecommendedActions, 5)
	assert.Equal(t, "Run full malware scan on affected systems", inc.RecommendedActions[2])
	assert.True(t, strings.HasSuffix(inc.Description, "lateral_movement ... and 2 more events."), inc.Description)
	assert.Equal(t, "Exfiltration", inc.KillChainStage)
}

func TestBuildIncident_HostsDedupedCaseInsensitive(t *testing.T) {
	events := []model.SecurityEvent{
		event("a", "Web-01", "vulnerability", "low", 0),
		event("b", "web-01", "vulnerability", "low", time.Minute),
	}

	inc := buildIncident(events)
	assert.Equal(t, []string{"Web-01"}, inc.AffectedHosts)
	assert.Equal(t, "Vulnerability on Web-01", inc.Title)
	assert.Contains(t, inc.Description, "across 1 host(s)")
	assert.Equal(t, "Preserve forensic evidence for investigation", inc.RecommendedActions[len(inc.RecommendedActions)-1])
}
