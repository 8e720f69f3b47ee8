package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegisflux/riskengine/internal/correlate"
	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/model"
)

var correlateOpts struct {
	fixture string
	window  time.Duration
}

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Correlate the events of a fixture file and print the incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := cliLogger()

		provider, err := facts.LoadFixture(correlateOpts.fixture)
		if err != nil {
			return err
		}
		graph, err := loadGraph(graphDir, logger)
		if err != nil {
			return err
		}

		var opts []correlate.Option
		if correlateOpts.window > 0 {
			opts = append(opts, correlate.WithWindow(correlateOpts.window))
		}
		correlator := correlate.New(graph, opts...)

		result := correlator.Run(provider.AllEvents())
		logger.Info("Correlation complete",
			"processed", result.Processed,
			"skipped", result.Skipped,
			"incidents", len(result.Incidents),
			"window", correlator.Window().String())

		incidents := result.Incidents
		if incidents == nil {
			incidents = []model.Incident{}
		}
		if err := writeOutput(cmd.OutOrStdout(), incidents); err != nil {
			return fmt.Errorf("failed to write incidents: %w", err)
		}
		return nil
	},
}

func init() {
	correlateCmd.Flags().StringVar(&correlateOpts.fixture, "fixture", "", "JSON fixture with an events list")
	correlateCmd.Flags().DurationVar(&correlateOpts.window, "window", 0, "Correlation window (default from the graph)")
	_ = correlateCmd.MarkFlagRequired("fixture")
}
