package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/aegisflux/riskengine/internal/config"
	"github.com/aegisflux/riskengine/internal/rules"
)

// cliLogger writes to stderr so stdout carries only command output
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(logLevel),
	}))
}

func writeOutput(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	if outPretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// loadGraph loads the graph directory once; a missing directory yields the builtin graph
func loadGraph(dir string, logger *slog.Logger) (*rules.Graph, error) {
	if dir == "" {
		dir = config.LoadEnv().GraphDir
	}
	return rules.NewLoader(dir, false, 0, logger).Load()
}
