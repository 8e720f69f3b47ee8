package engine

import (
	"fmt"
	"time"

	"github.com/aegisflux/riskengine/internal/scoring"
)

// Settings are the engine tunables that can change at runtime
type Settings struct {
	CorrelationWindow   time.Duration `json:"correlation_window"`
	Lookback            time.Duration `json:"lookback"`
	Profile             string        `json:"profile"`
	Concurrency         int           `json:"concurrency"`
	CorrelationInterval time.Duration `json:"correlation_interval"`
	ScoringInterval     time.Duration `json:"scoring_interval"`
	FastInterval        time.Duration `json:"fast_interval"` // 0 disables fast-profile refresh
}

// DefaultSettings returns hourly correlation over the last day and daily VRS scoring
func DefaultSettings() Settings {
	return Settings{
		CorrelationWindow:   2 * time.Hour,
		Lookback:            24 * time.Hour,
		Profile:             "vrs",
		Concurrency:         4,
		CorrelationInterval: time.Hour,
		ScoringInterval:     24 * time.Hour,
	}
}

// Validate rejects settings the engine cannot run with
func (s Settings) Validate() error {
	if s.CorrelationWindow <= 0 {
		return fmt.Errorf("correlation window must be positive, got %s", s.CorrelationWindow)
	}
	if s.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %s", s.Lookback)
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", s.Concurrency)
	}
	if s.CorrelationInterval <= 0 || s.ScoringInterval <= 0 {
		return fmt.Errorf("correlation and scoring intervals must be positive")
	}
	if s.FastInterval < 0 {
		return fmt.Errorf("fast interval must not be negative")
	}
	if _, err := scoring.NewScorer(s.Profile); err != nil {
		return err
	}
	return nil
}
