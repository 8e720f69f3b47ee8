package rules

import (
	"sort"
	"strings"
	"time"
)

// DefaultCorrelationWindow is the maximum pairwise gap for two events to be directly related
const DefaultCorrelationWindow = 2 * time.Hour

// defaultEdges lists which event types correlate with each other
var defaultEdges = map[string][]string{
	"vulnerability":        {"suspicious_behavior", "network_anomaly", "file_modification"},
	"suspicious_behavior":  {"vulnerability", "malware_detected", "privilege_escalation"},
	"malware_detected":     {"suspicious_behavior", "network_anomaly", "data_exfiltration"},
	"privilege_escalation": {"suspicious_behavior", "lateral_movement", "credential_access"},
	"network_anomaly":      {"vulnerability", "malware_detected", "data_exfiltration"},
	"data_exfiltration":    {"network_anomaly", "malware_detected", "credential_access"},
	"lateral_movement":     {"privilege_escalation", "credential_access", "suspicious_behavior"},
	"credential_access":    {"privilege_escalation", "lateral_movement", "data_exfiltration"},
}

// Graph is an immutable adjacency map of event types that may belong to the same incident
type Graph struct {
	edges   map[string]map[string]struct{}
	window  time.Duration
	source  string
	version int64
}

// NewGraph builds a graph from an adjacency list. Type names are matched case-insensitively.
func NewGraph(edges map[string][]string, window time.Duration) *Graph {
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	g := &Graph{
		edges:  make(map[string]map[string]struct{}, len(edges)),
		window: window,
	}
	for from, tos := range edges {
		key := normalize(from)
		if key == "" {
			continue
		}
		set, ok := g.edges[key]
		if !ok {
			set = make(map[string]struct{}, len(tos))
			g.edges[key] = set
		}
		for _, to := range tos {
			if t := normalize(to); t != "" {
				set[t] = struct{}{}
			}
		}
	}
	return g
}

// DefaultGraph returns the built-in correlation graph
func DefaultGraph() *Graph {
	g := NewGraph(defaultEdges, DefaultCorrelationWindow)
	g.source = "builtin"
	return g
}

// Related reports whether two event types are identical or adjacent in either direction
func (g *Graph) Related(a, b string) bool {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if _, ok := g.edges[a][b]; ok {
		return true
	}
	_, ok := g.edges[b][a]
	return ok
}

// Window returns the correlation window configured for this graph
func (g *Graph) Window() time.Duration {
	return g.window
}

// Source returns where the graph was loaded from
func (g *Graph) Source() string {
	return g.source
}

// Version returns the load timestamp of the graph, zero for the builtin graph
func (g *Graph) Version() int64 {
	return g.version
}

// Edges returns a sorted copy of the adjacency list
func (g *Graph) Edges() map[string][]string {
	out := make(map[string][]string, len(g.edges))
	for from, set := range g.edges {
		tos := make([]string, 0, len(set))
		for to := range set {
			tos = append(tos, to)
		}
		sort.Strings(tos)
		out[from] = tos
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
