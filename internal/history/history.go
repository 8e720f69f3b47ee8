package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/aegisflux/riskengine/internal/model"
)

// ErrNoHistory is returned when a target has never been scored
var ErrNoHistory = errors.New("no score history")

// Store persists resilience scores and serves the latest one per target
type Store interface {
	Save(ctx context.Context, score *model.ResilienceScore) error
	Latest(ctx context.Context, target string) (*model.ResilienceScore, error)
	List(ctx context.Context, target string, limit int) ([]model.ResilienceScore, error)
}

// PreviousScore returns the most recent VRS score for target, nil when none exists
func PreviousScore(ctx context.Context, s Store, target string) (*float64, error) {
	latest, err := s.Latest(ctx, target)
	if err != nil {
		if errors.Is(err, ErrNoHistory) {
			return nil, nil
		}
		return nil, err
	}
	v := latest.VRSScore
	return &v, nil
}

// MemoryStore keeps score history in memory, newest last per target
type MemoryStore struct {
	mu      sync.RWMutex
	scores  map[string][]model.ResilienceScore
	maxKept int
}

// NewMemoryStore creates a history store keeping at most maxKept scores per target (0 = unbounded)
func NewMemoryStore(maxKept int) *MemoryStore {
	return &MemoryStore{
		scores:  make(map[string][]model.ResilienceScore),
		maxKept: maxKept,
	}
}

// Save appends a score to its target's history
func (m *MemoryStore) Save(_ context.Context, score *model.ResilienceScore) error {
	if score == nil || strings.TrimSpace(score.Target) == "" {
		return errors.New("score target is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.scores[score.Target], *score)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CalculatedAt.Before(list[j].CalculatedAt)
	})
	if m.maxKept > 0 && len(list) > m.maxKept {
		list = list[len(list)-m.maxKept:]
	}
	m.scores[score.Target] = list
	return nil
}

// Latest returns the most recently calculated score for target
func (m *MemoryStore) Latest(_ context.Context, target string) (*model.ResilienceScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.scores[target]
	if len(list) == 0 {
		return nil, ErrNoHistory
	}
	latest := list[len(list)-1]
	return &latest, nil
}

// List returns up to limit scores for target, newest first
func (m *MemoryStore) List(_ context.Context, target string, limit int) ([]model.ResilienceScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.scores[target]
	out := make([]model.ResilienceScore, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}
