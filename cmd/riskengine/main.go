package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	graphDir  string
	outPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "riskengine",
	Short: "AegisFlux security event correlation and resilience scoring engine",
	Long: `riskengine groups related security events into incidents using a correlation
graph, escalates severe incidents to the response layer, and computes resilience
scores per customer from vulnerability, control, detection and response facts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&graphDir, "graph-dir", "", "Directory of correlation graph YAML files (default $RISK_GRAPH_DIR)")
	rootCmd.PersistentFlags().BoolVar(&outPretty, "pretty", false, "Indent JSON output")

	rootCmd.AddCommand(serveCmd, correlateCmd, scoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
