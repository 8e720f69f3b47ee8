package facts

import (
	"context"
	"errors"
	"time"

	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/scoring"
)

var (
	// ErrUnavailable means the upstream store could not be reached; the run must fail
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrTargetNotFound means there are no facts for the target; the target is skipped
	ErrTargetNotFound = errors.New("target not found")
)

// EventSource yields security events for a bounded time window
type EventSource interface {
	Events(ctx context.Context, from, to time.Time) ([]model.SecurityEvent, error)
}

// FactProvider yields scoring facts per target
type FactProvider interface {
	// Targets lists every target that can be scored
	Targets(ctx context.Context) ([]string, error)
	// Facts returns the snapshot for target as of the given time
	Facts(ctx context.Context, target string, asOf time.Time) (scoring.Facts, error)
}
