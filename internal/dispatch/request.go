package dispatch

import (
	"time"

	"github.com/aegisflux/riskengine/internal/model"
)

// ActionNetworkIsolate is the endpoint command that cuts a host off the network
const ActionNetworkIsolate = "network_isolate"

// Request status values
const (
	StatusPending = "pending"
)

// IsolationRequest asks the response dispatcher to isolate the hosts of an incident
type IsolationRequest struct {
	CommandID      string    `json:"command_id"`
	Action         string    `json:"action"`
	IncidentID     string    `json:"incident_id"`
	Hosts          []string  `json:"hosts"`
	Severity       string    `json:"severity"`
	Priority       int       `json:"priority"`
	KillChainStage string    `json:"kill_chain_stage"`
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Escalates reports whether an incident severity is handed to the response dispatcher
func Escalates(severity string) bool {
	return severity == model.SeverityCritical || severity == model.SeverityHigh
}

// Priority maps an incident severity to a command priority; 1 is the most urgent
func Priority(severity string) int {
	if severity == model.SeverityCritical {
		return 1
	}
	return 2
}

func newRequest(id string, inc *model.Incident, at time.Time) *IsolationRequest {
	hosts := make([]string, len(inc.AffectedHosts))
	copy(hosts, inc.AffectedHosts)

	return &IsolationRequest{
		CommandID:      id,
		Action:         ActionNetworkIsolate,
		IncidentID:     inc.IncidentID,
		Hosts:          hosts,
		Severity:       inc.Severity,
		Priority:       Priority(inc.Severity),
		KillChainStage: inc.KillChainStage,
		Reason:         inc.Title,
		Status:         StatusPending,
		CreatedAt:      at,
	}
}
