package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/scoring"
)

// Fixture is the on-disk shape read by LoadFixture
type Fixture struct {
	Targets map[string]scoring.Facts `json:"targets"`
	Events  []model.SecurityEvent    `json:"events"`
}

// StaticProvider serves facts and events held in memory
type StaticProvider struct {
	mu      sync.RWMutex
	targets map[string]scoring.Facts
	events  []model.SecurityEvent
}

// NewStaticProvider creates a provider over the given facts and events
func NewStaticProvider(targets map[string]scoring.Facts, events []model.SecurityEvent) *StaticProvider {
	if targets == nil {
		targets = make(map[string]scoring.Facts)
	}
	return &StaticProvider{targets: targets, events: events}
}

// LoadFixture reads a JSON fixture file into a StaticProvider
func LoadFixture(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}

	return NewStaticProvider(fx.Targets, fx.Events), nil
}

// SetFacts replaces the facts of one target
func (p *StaticProvider) SetFacts(target string, f scoring.Facts) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.targets[target] = f
}

// Targets returns the known targets, sorted
func (p *StaticProvider) Targets(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	targets := make([]string, 0, len(p.targets))
	for t := range p.targets {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, nil
}

// Facts returns the stored facts for target. A zero AsOf in the fixture takes asOf.
func (p *StaticProvider) Facts(ctx context.Context, target string, asOf time.Time) (scoring.Facts, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f, ok := p.targets[target]
	if !ok {
		return scoring.Facts{}, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}
	if f.Target == "" {
		f.Target = target
	}
	if f.AsOf.IsZero() {
		f.AsOf = asOf
	}
	return f, nil
}

// Events returns the stored events with a timestamp in [from, to]
func (p *StaticProvider) Events(ctx context.Context, from, to time.Time) ([]model.SecurityEvent, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []model.SecurityEvent
	for _, ev := range p.events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		result = append(result, ev)
	}
	return result, nil
}

// AllEvents returns a copy of every stored event
func (p *StaticProvider) AllEvents() []model.SecurityEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	events := make([]model.SecurityEvent, len(p.events))
	copy(events, p.events)
	return events
}
