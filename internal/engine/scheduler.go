package engine

import (
	"context"
	"sync"
	"time"
)

// Start runs correlation, VRS scoring and (when enabled) fast scoring on their tickers
// until ctx is cancelled. The tick time is the snapshot time of each run. Interval
// changes made through UpdateSettings apply from the next tick.
func (e *Engine) Start(ctx context.Context) {
	settings := e.Settings()
	e.deps.Logger.Info("Starting scheduler",
		"correlation_interval", settings.CorrelationInterval.String(),
		"scoring_interval", settings.ScoringInterval.String(),
		"fast_interval", settings.FastInterval.String(),
		"profile", settings.Profile)

	var wg sync.WaitGroup
	run := func(name string, interval func(Settings) time.Duration, job func(context.Context, time.Time)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.loop(ctx, name, interval, job)
		}()
	}

	run("correlation", func(s Settings) time.Duration { return s.CorrelationInterval }, func(ctx context.Context, now time.Time) {
		_, _ = e.RunCorrelation(ctx, now)
	})
	run("scoring", func(s Settings) time.Duration { return s.ScoringInterval }, func(ctx context.Context, now time.Time) {
		if _, err := e.ScoreAll(ctx, now); err != nil {
			e.deps.Logger.Error("Scoring run failed", "error", err)
		}
	})
	if settings.FastInterval > 0 {
		run("fast_scoring", func(s Settings) time.Duration { return s.FastInterval }, func(ctx context.Context, now time.Time) {
			if _, err := e.RefreshFast(ctx, now); err != nil {
				e.deps.Logger.Error("Fast scoring run failed", "error", err)
			}
		})
	}

	wg.Wait()
	e.deps.Logger.Info("Scheduler stopped")
}

func (e *Engine) loop(ctx context.Context, name string, interval func(Settings) time.Duration, job func(context.Context, time.Time)) {
	current := interval(e.Settings())
	if current <= 0 {
		return
	}
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			job(ctx, tick.UTC())

			if next := interval(e.Settings()); next > 0 && next != current {
				e.deps.Logger.Info("Scheduler interval changed", "job", name, "interval", next.String())
				current = next
				ticker.Reset(current)
			}
		}
	}
}
