package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/history"
	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/scoring"
)

// TargetResult is the outcome of scoring one target
type TargetResult struct {
	Target  string                 `json:"target"`
	Score   *model.ResilienceScore `json:"score,omitempty"`
	Skipped bool                   `json:"skipped,omitempty"`
	Err     error                  `json:"-"`
	Error   string                 `json:"error,omitempty"`
}

// BatchReport summarizes a ScoreAll run
type BatchReport struct {
	At      time.Time      `json:"at"`
	Profile string         `json:"profile"`
	Results []TargetResult `json:"results"`
	Scored  int            `json:"scored"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
}

// ScoreTarget scores one target with the configured profile as of asOf, persists the
// score, refreshes the cache and publishes it
func (e *Engine) ScoreTarget(ctx context.Context, target string, asOf time.Time) (*model.ResilienceScore, error) {
	scorer, err := scoring.NewScorer(e.Settings().Profile)
	if err != nil {
		return nil, err
	}
	return e.scoreTarget(ctx, scorer, target, asOf, true)
}

// RefreshFast scores every target with the fast profile for the cache and subscribers.
// Fast scores are not written to history so trends stay on the canonical profile.
func (e *Engine) RefreshFast(ctx context.Context, asOf time.Time) (*BatchReport, error) {
	scorer, _ := scoring.NewScorer(model.ProfileFast)
	return e.scoreAll(ctx, scorer, asOf, false)
}

// ScoreAll scores every target in parallel with bounded concurrency. Each target's outcome
// is reported individually; targets without facts are skipped. Listing targets and an
// unreachable upstream fail the run.
func (e *Engine) ScoreAll(ctx context.Context, asOf time.Time) (*BatchReport, error) {
	scorer, err := scoring.NewScorer(e.Settings().Profile)
	if err != nil {
		return nil, err
	}
	return e.scoreAll(ctx, scorer, asOf, true)
}

func (e *Engine) scoreAll(ctx context.Context, scorer *scoring.Scorer, asOf time.Time, persist bool) (*BatchReport, error) {
	start := time.Now()
	asOf = asOf.UTC()

	targets, err := e.deps.Facts.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	report := &BatchReport{
		At:      asOf,
		Profile: scorer.Profile(),
		Results: make([]TargetResult, len(targets)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Settings().Concurrency)

	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			res := TargetResult{Target: target}
			score, err := e.scoreTarget(gctx, scorer, target, asOf, persist)
			switch {
			case err == nil:
				res.Score = score
			case errors.Is(err, facts.ErrTargetNotFound):
				res.Skipped = true
			default:
				res.Err = err
				res.Error = err.Error()
			}
			report.Results[i] = res

			if errors.Is(err, facts.ErrUnavailable) {
				return err
			}
			return nil
		})
	}
	runErr := g.Wait()

	for _, r := range report.Results {
		switch {
		case r.Score != nil:
			report.Scored++
		case r.Skipped:
			report.Skipped++
		case r.Err != nil:
			report.Failed++
		}
	}

	e.deps.Logger.Info("Scoring run completed",
		"profile", report.Profile,
		"targets", len(targets),
		"scored", report.Scored,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	if runErr != nil {
		return report, fmt.Errorf("scoring run aborted: %w", runErr)
	}
	return report, nil
}

func (e *Engine) scoreTarget(ctx context.Context, scorer *scoring.Scorer, target string, asOf time.Time, persist bool) (*model.ResilienceScore, error) {
	start := time.Now()
	logger := e.deps.Logger.With("target", target, "profile", scorer.Profile())

	score, err := e.computeScore(ctx, scorer, target, asOf.UTC(), persist)
	outcome := "success"
	switch {
	case errors.Is(err, facts.ErrTargetNotFound):
		outcome = "skipped"
		logger.Info("No facts for target, skipping")
	case err != nil:
		outcome = "error"
		logger.Error("Failed to score target", "error", err)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveScore(scorer.Profile(), outcome, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	if e.deps.Cache != nil {
		if err := e.deps.Cache.Put(ctx, score); err != nil {
			logger.Warn("Failed to cache score", "error", err)
		}
	}
	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishScore(score); err != nil {
			logger.Warn("Failed to publish score", "error", err)
		}
	}
	if score.VRSScore < scoring.LowScoreThreshold {
		e.lowScoreAlert(score)
	}

	logger.Info("Target scored",
		"vrs_score", score.VRSScore,
		"grade", score.Grade,
		"trend", score.Trend)
	return score, nil
}

func (e *Engine) computeScore(ctx context.Context, scorer *scoring.Scorer, target string, asOf time.Time, persist bool) (*model.ResilienceScore, error) {
	f, err := e.deps.Facts.Facts(ctx, target, asOf)
	if err != nil {
		return nil, err
	}
	if f.AsOf.IsZero() {
		f.AsOf = asOf
	}
	if f.Target == "" {
		f.Target = target
	}

	previous, err := history.PreviousScore(ctx, e.deps.History, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read score history: %w", err)
	}

	score, err := scorer.Score(target, f, previous)
	if err != nil {
		return nil, err
	}

	if persist {
		if err := e.deps.History.Save(ctx, score); err != nil {
			return nil, fmt.Errorf("failed to persist score: %w", err)
		}
	}
	return score, nil
}

func (e *Engine) lowScoreAlert(score *model.ResilienceScore) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.IncLowScoreAlerts()
	}
	e.deps.Logger.Warn("Low resilience score",
		"target", score.Target,
		"vrs_score", score.VRSScore,
		"risk_category", score.RiskCategory,
		"threshold", scoring.LowScoreThreshold)

	if e.deps.Publisher == nil {
		return
	}
	alert := &model.LowScoreAlert{
		Target:          score.Target,
		VRSScore:        score.VRSScore,
		Grade:           score.Grade,
		RiskCategory:    score.RiskCategory,
		Threshold:       scoring.LowScoreThreshold,
		Recommendations: score.Recommendations,
		CalculatedAt:    score.CalculatedAt,
	}
	if err := e.deps.Publisher.PublishLowScoreAlert(alert); err != nil {
		e.deps.Logger.Warn("Failed to publish low score alert", "target", score.Target, "error", err)
	}
}
