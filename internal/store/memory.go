package store

import (
	"container/ring"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aegisflux/riskengine/internal/model"
)

var (
	// ErrNotFound is returned when an incident id is not in the store
	ErrNotFound = errors.New("incident not found")
	// ErrInvalidStatus is returned for a status outside open, investigating and resolved
	ErrInvalidStatus = errors.New("invalid incident status")
)

// RunRecord summarizes one correlation run
type RunRecord struct {
	RunID     string        `json:"run_id"`
	At        time.Time     `json:"at"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Incidents int           `json:"incidents"`
	Created   int           `json:"created"`
	Duration  time.Duration `json:"duration_ns"`
}

// Filter narrows an incident listing
type Filter struct {
	Host        string
	MinSeverity string
	Status      string
	Limit       int
}

// UpsertResult reports what UpsertAll did
type UpsertResult struct {
	Created int
	Updated int
	New     map[string]bool // keys of the created incidents
}

// MemoryStore keeps the latest incidents, evicting the least recently updated ones past
// its capacity, plus a ring of recent correlation runs. Incidents are keyed per
// occurrence: the same hosts and event types seen again after an earlier incident
// ended share its IncidentID but get a key of their own.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents *lru.Cache[string, *model.Incident]
	byID      map[string]map[string]struct{}
	runs      *ring.Ring
	maxItems  int
	maxRuns   int
}

// NewMemoryStore creates a new memory store with specified capacities
func NewMemoryStore(maxIncidents, maxRuns int) *MemoryStore {
	if maxIncidents <= 0 {
		maxIncidents = 1
	}
	if maxRuns <= 0 {
		maxRuns = 1
	}
	s := &MemoryStore{
		byID:     make(map[string]map[string]struct{}),
		runs:     ring.New(maxRuns),
		maxItems: maxIncidents,
		maxRuns:  maxRuns,
	}
	s.incidents, _ = lru.NewWithEvict[string, *model.Incident](maxIncidents, s.unindex)
	return s
}

// unindex runs under s.mu, from Add evictions and Remove
func (s *MemoryStore) unindex(key string, inc *model.Incident) {
	keys := s.byID[inc.IncidentID]
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.byID, inc.IncidentID)
	}
}

// UpsertAll stores every incident. A re-correlated incident whose time range overlaps
// a stored occurrence of the same IncidentID replaces it, keeping a status that was set
// outside correlation. Key and Status of each element are updated in place.
func (s *MemoryStore) UpsertAll(incidents []model.Incident) UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := UpsertResult{New: make(map[string]bool)}
	for i := range incidents {
		if s.upsertLocked(&incidents[i]) {
			result.Created++
			result.New[incidents[i].Key] = true
		} else {
			result.Updated++
		}
	}
	return result
}

func (s *MemoryStore) upsertLocked(incident *model.Incident) bool {
	var existing *model.Incident
	for key := range s.byID[incident.IncidentID] {
		inc, ok := s.incidents.Peek(key)
		if !ok || !overlaps(inc, incident) {
			continue
		}
		if existing == nil || inc.FirstSeen.Before(existing.FirstSeen) ||
			(inc.FirstSeen.Equal(existing.FirstSeen) && inc.Key < existing.Key) {
			existing = inc
		}
	}

	if existing == nil {
		incident.Key = occurrenceKey(incident)
		s.add(incident)
		return true
	}

	incident.Key = existing.Key
	if existing.Status != "" && existing.Status != model.StatusOpen {
		incident.Status = existing.Status
	}
	// an incident bridging several stored occurrences absorbs the later ones
	for key := range s.byID[incident.IncidentID] {
		if inc, ok := s.incidents.Peek(key); ok && key != existing.Key && overlaps(inc, incident) {
			s.incidents.Remove(key)
		}
	}
	s.add(incident)
	return false
}

func (s *MemoryStore) add(incident *model.Incident) {
	stored := *incident
	s.incidents.Add(stored.Key, &stored)
	if s.byID[stored.IncidentID] == nil {
		s.byID[stored.IncidentID] = make(map[string]struct{})
	}
	s.byID[stored.IncidentID][stored.Key] = struct{}{}
}

func overlaps(a, b *model.Incident) bool {
	return !a.LastSeen.Before(b.FirstSeen) && !b.LastSeen.Before(a.FirstSeen)
}

func occurrenceKey(inc *model.Incident) string {
	return inc.IncidentID + "-" + strconv.FormatInt(inc.FirstSeen.UnixNano(), 10)
}

// lookupLocked resolves an occurrence key, or an incident id to its latest occurrence
func (s *MemoryStore) lookupLocked(id string) (*model.Incident, bool) {
	if inc, ok := s.incidents.Peek(id); ok {
		return inc, true
	}
	var latest *model.Incident
	for key := range s.byID[id] {
		inc, ok := s.incidents.Peek(key)
		if !ok {
			continue
		}
		if latest == nil || inc.LastSeen.After(latest.LastSeen) ||
			(inc.LastSeen.Equal(latest.LastSeen) && inc.Key > latest.Key) {
			latest = inc
		}
	}
	return latest, latest != nil
}

// Get returns a copy of the incident with the given key. An incident id resolves to
// its latest occurrence.
func (s *MemoryStore) Get(id string) (model.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.lookupLocked(id)
	if !ok {
		return model.Incident{}, false
	}
	return *inc, true
}

// List returns incidents matching the filter, most severe and most recent first
func (s *MemoryStore) List(filter Filter) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Incident, 0, s.incidents.Len())
	for _, key := range s.incidents.Keys() {
		inc, ok := s.incidents.Peek(key)
		if !ok || !filter.matches(inc) {
			continue
		}
		result = append(result, *inc)
	}

	sort.SliceStable(result, func(i, j int) bool {
		ri, rj := model.SeverityRank(result[i].Severity), model.SeverityRank(result[j].Severity)
		if ri != rj {
			return ri < rj
		}
		if !result[i].LastSeen.Equal(result[j].LastSeen) {
			return result[i].LastSeen.After(result[j].LastSeen)
		}
		if result[i].IncidentID != result[j].IncidentID {
			return result[i].IncidentID < result[j].IncidentID
		}
		return result[i].Key < result[j].Key
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (f Filter) matches(inc *model.Incident) bool {
	if f.MinSeverity != "" && !model.AtLeast(inc.Severity, f.MinSeverity) {
		return false
	}
	if f.Status != "" && !strings.EqualFold(inc.Status, f.Status) {
		return false
	}
	if f.Host == "" {
		return true
	}
	for _, h := range inc.AffectedHosts {
		if strings.EqualFold(h, f.Host) {
			return true
		}
	}
	return false
}

// SetStatus moves an incident to a new status. id is resolved as in Get.
func (s *MemoryStore) SetStatus(id, status string) (model.Incident, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case model.StatusOpen, model.StatusInvestigating, model.StatusResolved:
	default:
		return model.Incident{}, ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.lookupLocked(id)
	if !ok {
		return model.Incident{}, ErrNotFound
	}

	updated := *inc
	updated.Status = status
	s.incidents.Add(updated.Key, &updated)
	return updated, nil
}

// RecordRun appends a run summary, overwriting the oldest once the ring is full
func (s *MemoryStore) RecordRun(run RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs.Value = run
	s.runs = s.runs.Next()
}

// Runs returns recorded runs in chronological order (oldest first)
func (s *MemoryStore) Runs() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []RunRecord
	s.runs.Do(func(value interface{}) {
		if run, ok := value.(RunRecord); ok {
			runs = append(runs, run)
		}
	})
	return runs
}

// Len returns the number of stored incidents
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.incidents.Len()
}

// GetStats returns store statistics
func (s *MemoryStore) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySeverity := make(map[string]int)
	for _, key := range s.incidents.Keys() {
		if inc, ok := s.incidents.Peek(key); ok {
			bySeverity[inc.Severity]++
		}
	}

	runs := 0
	s.runs.Do(func(value interface{}) {
		if value != nil {
			runs++
		}
	})

	return map[string]interface{}{
		"total_incidents": s.incidents.Len(),
		"max_incidents":   s.maxItems,
		"by_severity":     bySeverity,
		"recorded_runs":   runs,
		"max_runs":        s.maxRuns,
	}
}
