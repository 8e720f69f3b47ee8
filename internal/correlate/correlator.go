package correlate

import (
	"sort"
	"strings"
	"time"

	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/rules"
)

// Correlator partitions a window of security events into incidents
type Correlator struct {
	graph  *rules.Graph
	window time.Duration
}

// Option configures a Correlator
type Option func(*Correlator)

// WithWindow overrides the correlation window carried by the graph
func WithWindow(window time.Duration) Option {
	return func(c *Correlator) {
		if window > 0 {
			c.window = window
		}
	}
}

// New creates a correlator over the given graph; a nil graph means the builtin one
func New(graph *rules.Graph, opts ...Option) *Correlator {
	if graph == nil {
		graph = rules.DefaultGraph()
	}
	c := &Correlator{graph: graph, window: graph.Window()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of one correlation run
type Result struct {
	Incidents []model.Incident
	Processed int
	Skipped   int
}

// Window returns the effective correlation window
func (c *Correlator) Window() time.Duration {
	return c.window
}

// Correlate groups related events into incidents. Events missing a hostname, type or
// timestamp are skipped; every other event ends up in exactly one incident.
func (c *Correlator) Correlate(events []model.SecurityEvent) []model.Incident {
	return c.Run(events).Incidents
}

// Run is Correlate with run statistics
func (c *Correlator) Run(events []model.SecurityEvent) Result {
	valid := make([]model.SecurityEvent, 0, len(events))
	for _, ev := range events {
		if ev.Valid() {
			valid = append(valid, ev)
		}
	}
	result := Result{Processed: len(valid), Skipped: len(events) - len(valid)}
	if len(valid) == 0 {
		result.Incidents = []model.Incident{}
		return result
	}

	sortEvents(valid)

	groups := c.cluster(valid)

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	incidents := make([]model.Incident, 0, len(groups))
	for _, id := range ids {
		members := groups[id]
		if len(members) == 0 {
			continue
		}
		grouped := make([]model.SecurityEvent, len(members))
		for i, idx := range members {
			grouped[i] = valid[idx]
		}
		sortEvents(grouped)
		incidents = append(incidents, buildIncident(grouped))
	}

	sortIncidents(incidents)
	result.Incidents = incidents
	return result
}

// Related reports whether two events belong in the same incident when compared directly
func (c *Correlator) Related(a, b *model.SecurityEvent) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Hostname), strings.TrimSpace(b.Hostname)) {
		return false
	}

	gap := a.Timestamp.Sub(b.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap > c.window {
		return false
	}

	return c.graph.Related(a.EventType, b.EventType)
}

// cluster assigns every event to a group. Each event is checked against all earlier
// events; when it relates to several groups they are merged into the lowest id.
// Chains are kept: two events further apart than the window share a group when a
// third event relates to both.
func (c *Correlator) cluster(events []model.SecurityEvent) map[int][]int {
	groupOf := make([]int, len(events))
	groups := make(map[int][]int)
	next := 0

	for i := range events {
		matched := make(map[int]struct{})
		for j := 0; j < i; j++ {
			if c.Related(&events[i], &events[j]) {
				matched[groupOf[j]] = struct{}{}
			}
		}

		if len(matched) == 0 {
			groupOf[i] = next
			groups[next] = []int{i}
			next++
			continue
		}

		primary := -1
		for g := range matched {
			if primary == -1 || g < primary {
				primary = g
			}
		}

		for g := range matched {
			if g == primary {
				continue
			}
			for _, idx := range groups[g] {
				groupOf[idx] = primary
			}
			groups[primary] = append(groups[primary], groups[g]...)
			delete(groups, g)
		}

		groupOf[i] = primary
		groups[primary] = append(groups[primary], i)
	}

	return groups
}

// sortEvents orders events by timestamp, then id, keeping input order for full ties
func sortEvents(events []model.SecurityEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

// sortIncidents puts the most severe, most recent incidents first
func sortIncidents(incidents []model.Incident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		ri, rj := model.SeverityRank(incidents[i].Severity), model.SeverityRank(incidents[j].Severity)
		if ri != rj {
			return ri < rj
		}
		if !incidents[i].LastSeen.Equal(incidents[j].LastSeen) {
			return incidents[i].LastSeen.After(incidents[j].LastSeen)
		}
		return incidents[i].IncidentID < incidents[j].IncidentID
	})
}
