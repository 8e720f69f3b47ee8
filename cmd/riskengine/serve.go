package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aegisflux/riskengine/internal/api"
	"github.com/aegisflux/riskengine/internal/cache"
	"github.com/aegisflux/riskengine/internal/config"
	"github.com/aegisflux/riskengine/internal/dispatch"
	"github.com/aegisflux/riskengine/internal/engine"
	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/history"
	"github.com/aegisflux/riskengine/internal/metrics"
	riskNats "github.com/aegisflux/riskengine/internal/nats"
	"github.com/aegisflux/riskengine/internal/rules"
	"github.com/aegisflux/riskengine/internal/store"
	"github.com/aegisflux/riskengine/internal/window"
)

var serveOpts struct {
	httpAddr string
	fixture  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: event stream, scheduled correlation and scoring, dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := config.LoadEnv()
		if logLevel != "" {
			env.LogLevel = logLevel
		}
		if graphDir != "" {
			env.GraphDir = graphDir
		}
		if serveOpts.httpAddr != "" {
			env.HTTPAddr = serveOpts.httpAddr
		}
		if serveOpts.fixture != "" {
			env.FixturePath = serveOpts.fixture
		}

		logger := config.NewLogger(env.LogLevel)
		slog.SetDefault(logger)
		return serve(env, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.httpAddr, "http-addr", "", "HTTP listen address (default $RISK_HTTP_ADDR)")
	serveCmd.Flags().StringVar(&serveOpts.fixture, "fixture", "", "Serve facts from a JSON fixture instead of postgres")
}

func serve(env config.Env, logger *slog.Logger) error {
	logger.Info("Starting AegisFlux Risk Engine")
	logger.Info("Configuration loaded",
		"http_addr", env.HTTPAddr,
		"nats_url", env.NatsURL,
		"config_api_url", env.ConfigAPIURL,
		"event_source", env.EventSource,
		"graph_dir", env.GraphDir,
		"hot_reload", env.HotReload,
		"facts_database", env.DatabaseDSN != "",
		"history_database", env.HistoryDSN != "",
		"valkey_addr", env.ValkeyAddr,
		"amqp", env.AMQPURL != "")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Connect to NATS
	nc, err := nats.Connect(env.NatsURL,
		nats.Name("riskengine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.SetNatsConnected(false)
			logger.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			m.SetNatsConnected(true)
			logger.Info("Reconnected to NATS", "url", conn.ConnectedUrl())
		}))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()
	m.SetNatsConnected(true)
	logger.Info("Connected to NATS")

	checks := map[string]api.Check{
		"nats": func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("NATS disconnected")
			}
			return nil
		},
	}

	// Initialize configuration manager with fallback defaults
	configManager := config.NewManager(env.ConfigAPIURL, nc, logger)
	if err := configManager.Initialize(ctx, env.Defaults); err != nil {
		logger.Warn("Failed to initialize configuration manager, using environment defaults", "error", err)
	}
	defer configManager.Close()

	settings := engine.DefaultSettings()
	settings.CorrelationInterval = env.CorrelationInterval
	settings.ScoringInterval = env.ScoringInterval
	if snapshot := configManager.GetCurrentConfig(); snapshot != nil {
		snapshot.ApplyTo(&settings)
	}

	// Correlation graph
	graphLoader := rules.NewLoader(env.GraphDir, env.HotReload, env.DebounceMs, logger)
	if _, err := graphLoader.Load(); err != nil {
		return fmt.Errorf("failed to load correlation graph: %w", err)
	}
	reloads := graphLoader.Subscribe()
	if err := graphLoader.WatchForChanges(ctx); err != nil {
		return fmt.Errorf("failed to start graph watcher: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloads:
				m.IncGraphReloads()
				logger.Info("Correlation graph reloaded", "version", graphLoader.Graph().Version())
			}
		}
	}()

	// Event window fed by the event stream
	buffer := window.NewBuffer(env.BufferMaxAge, env.BufferMaxPerHost)
	buffer.StartGC(env.BufferGCInterval)
	defer buffer.StopGC()

	validator, err := riskNats.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to compile event schema: %w", err)
	}
	subscriber := riskNats.NewSubscriber(nc, buffer, validator, env.NatsQueue, m, logger)
	publisher := riskNats.NewPublisher(nc, env.CompressMinBytes, m, logger)

	// Facts and stored events
	var (
		factProvider facts.FactProvider
		events       facts.EventSource = buffer
	)
	switch {
	case env.DatabaseDSN != "":
		gormStore, err := facts.NewGormStore(env.DatabaseDSN, env.MaxOpenConns)
		if err != nil {
			return err
		}
		defer gormStore.Close()
		if err := gormStore.Ping(ctx); err != nil {
			logger.Warn("Facts database not reachable yet", "error", err)
		}
		factProvider = gormStore
		checks["facts"] = gormStore.Ping
		if env.EventSource == "database" {
			events = gormStore
		}
	case env.FixturePath != "":
		fixture, err := facts.LoadFixture(env.FixturePath)
		if err != nil {
			return err
		}
		factProvider = fixture
		logger.Info("Serving facts from fixture", "path", env.FixturePath)
	default:
		factProvider = facts.NewStaticProvider(nil, nil)
		logger.Warn("No facts database or fixture configured, scoring has no targets")
	}
	if env.EventSource == "database" && env.DatabaseDSN == "" {
		logger.Warn("Database event source requested without RISK_DATABASE_DSN, using the event stream")
	}

	// Score history
	var scoreHistory history.Store = history.NewMemoryStore(365)
	if env.HistoryDSN != "" {
		pg, err := history.NewPostgresStore(ctx, env.HistoryDSN, env.MaxOpenConns, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		scoreHistory = pg
		checks["history"] = pg.Health
	}

	// Latest score cache
	var kv cache.KVStore = cache.NewMemoryKV()
	if env.ValkeyAddr != "" {
		valkey, err := cache.NewValkeyStore(env.ValkeyAddr)
		if err != nil {
			return err
		}
		kv = valkey
		logger.Info("Connected to valkey", "addr", env.ValkeyAddr)
	}
	defer kv.Close()
	scoreCache := cache.NewScoreCache(kv, env.ScoreCacheTTL)

	// Escalation sinks
	sinks := []dispatch.Sink{dispatch.NewNATSSink(nc, env.IsolateSubject)}
	if env.AMQPURL != "" {
		amqpSink := dispatch.NewAMQPSink(env.AMQPURL, env.CommandQueue)
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	dispatcher := dispatch.NewDispatcher(sinks, env.EscalationMemory, m, logger)

	eng, err := engine.New(engine.Deps{
		Events:    events,
		Facts:     factProvider,
		History:   scoreHistory,
		Incidents: store.NewMemoryStore(env.MaxIncidents, env.MaxRuns),
		Graph:     graphLoader.Graph,
		Cache:     scoreCache,
		Publisher: publisher,
		Escalator: dispatcher,
		Metrics:   m,
		Logger:    logger,
	}, settings)
	if err != nil {
		return err
	}

	// Apply live configuration changes
	configManager.Subscribe(func(snapshot *config.ConfigSnapshot) {
		err := eng.UpdateSettings(func(s *engine.Settings) {
			snapshot.ApplyTo(s)
		})
		if err != nil {
			logger.Warn("Rejected configuration change", "error", err)
			return
		}
		logger.Info("Configuration updated, applying changes",
			"correlation_window_seconds", snapshot.CorrelationWindowSeconds,
			"lookback_seconds", snapshot.LookbackSeconds,
			"scoring_profile", snapshot.ScoringProfile,
			"score_concurrency", snapshot.ScoreConcurrency)
	})

	// Create HTTP server
	server := api.NewServer(eng, logger, api.Options{
		Scores:  scoreCache,
		Metrics: m,
		Checks:  checks,
	})
	httpServer := &http.Server{
		Addr:              env.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", env.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting NATS subscriber")
		if err := subscriber.Subscribe(ctx); err != nil {
			logger.Error("NATS subscriber error", "error", err)
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		eng.Start(ctx)
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Risk engine started successfully")
	<-sigChan

	logger.Info("Shutting down risk engine...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Scheduler did not stop before the shutdown deadline")
	}

	logger.Info("Risk engine stopped")
	return nil
}
