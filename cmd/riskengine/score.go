package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegisflux/riskengine/internal/engine"
	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/history"
	"github.com/aegisflux/riskengine/internal/store"
)

var scoreOpts struct {
	fixture     string
	target      string
	profile     string
	at          string
	concurrency int
	historyDSN  string
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute resilience scores from a fixture file",
	Long: `score computes the resilience score of one target (--target) or of every target
in the fixture. With --history-dsn the scores are saved to and trended against the
postgres score history; otherwise history starts empty.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := cliLogger()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		asOf := time.Now().UTC()
		if scoreOpts.at != "" {
			t, err := time.Parse(time.RFC3339, scoreOpts.at)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			asOf = t.UTC()
		}

		provider, err := facts.LoadFixture(scoreOpts.fixture)
		if err != nil {
			return err
		}

		var scores history.Store = history.NewMemoryStore(0)
		if scoreOpts.historyDSN != "" {
			pg, err := history.NewPostgresStore(ctx, scoreOpts.historyDSN, 2, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			scores = pg
		}

		settings := engine.DefaultSettings()
		if scoreOpts.profile != "" {
			settings.Profile = scoreOpts.profile
		}
		if scoreOpts.concurrency > 0 {
			settings.Concurrency = scoreOpts.concurrency
		}

		eng, err := engine.New(engine.Deps{
			Events:    provider,
			Facts:     provider,
			History:   scores,
			Incidents: store.NewMemoryStore(1, 1),
			Logger:    logger,
		}, settings)
		if err != nil {
			return err
		}

		if scoreOpts.target != "" {
			score, err := eng.ScoreTarget(ctx, scoreOpts.target, asOf)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), score)
		}

		report, err := eng.ScoreAll(ctx, asOf)
		if report != nil {
			if werr := writeOutput(cmd.OutOrStdout(), report); werr != nil {
				return werr
			}
		}
		return err
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreOpts.fixture, "fixture", "", "JSON fixture with per-target facts")
	scoreCmd.Flags().StringVar(&scoreOpts.target, "target", "", "Score only this target")
	scoreCmd.Flags().StringVar(&scoreOpts.profile, "profile", "", "Scoring profile: vrs or fast (default vrs)")
	scoreCmd.Flags().StringVar(&scoreOpts.at, "at", "", "Snapshot time, RFC3339 (default now)")
	scoreCmd.Flags().IntVar(&scoreOpts.concurrency, "concurrency", 0, "Targets scored in parallel")
	scoreCmd.Flags().StringVar(&scoreOpts.historyDSN, "history-dsn", "", "Postgres DSN of the score history")
	_ = scoreCmd.MarkFlagRequired("fixture")
}
