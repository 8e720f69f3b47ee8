package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env is the service configuration read from the environment
type Env struct {
	HTTPAddr     string
	NatsURL      string
	NatsQueue    string
	ConfigAPIURL string
	LogLevel     string

	EventSource string

	GraphDir   string
	HotReload  bool
	DebounceMs int

	DatabaseDSN  string
	HistoryDSN   string
	MaxOpenConns int
	FixturePath  string

	ValkeyAddr    string
	ScoreCacheTTL time.Duration

	AMQPURL          string
	IsolateSubject   string
	CommandQueue     string
	EscalationMemory int

	MaxIncidents     int
	MaxRuns          int
	BufferMaxAge     time.Duration
	BufferMaxPerHost int
	BufferGCInterval time.Duration
	CompressMinBytes int

	CorrelationInterval time.Duration
	ScoringInterval     time.Duration

	Defaults ConfigSnapshot
}

// LoadEnv reads the RISK_* environment variables with defaults
func LoadEnv() Env {
	dsn := getEnv("RISK_DATABASE_DSN", "")
	return Env{
		HTTPAddr:     getEnv("RISK_HTTP_ADDR", ":8086"),
		NatsURL:      getEnv("RISK_NATS_URL", "nats://localhost:4222"),
		NatsQueue:    getEnv("RISK_NATS_QUEUE", "riskengine"),
		ConfigAPIURL: getEnv("CONFIG_API_URL", "http://localhost:8085"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		EventSource: getEnv("RISK_EVENT_SOURCE", "stream"),

		GraphDir:   getEnv("RISK_GRAPH_DIR", "graph.d"),
		HotReload:  getEnvBool("RISK_HOT_RELOAD", false),
		DebounceMs: getEnvInt("RISK_DEBOUNCE_MS", 1000),

		DatabaseDSN:  dsn,
		HistoryDSN:   getEnv("RISK_HISTORY_DSN", dsn),
		MaxOpenConns: getEnvInt("RISK_DB_MAX_OPEN_CONNS", 10),
		FixturePath:  getEnv("RISK_FIXTURE_PATH", ""),

		ValkeyAddr:    getEnv("RISK_VALKEY_ADDR", ""),
		ScoreCacheTTL: getEnvDuration("RISK_SCORE_CACHE_TTL", 48*time.Hour),

		AMQPURL:          getEnv("RISK_AMQP_URL", ""),
		IsolateSubject:   getEnv("RISK_ISOLATE_SUBJECT", "riskengine.response.isolate"),
		CommandQueue:     getEnv("RISK_COMMAND_QUEUE", "response_commands"),
		EscalationMemory: getEnvInt("RISK_ESCALATION_MEMORY", 10000),

		MaxIncidents:     getEnvInt("RISK_MAX_INCIDENTS", 10000),
		MaxRuns:          getEnvInt("RISK_MAX_RUNS", 100),
		BufferMaxAge:     getEnvDuration("RISK_BUFFER_MAX_AGE", 48*time.Hour),
		BufferMaxPerHost: getEnvInt("RISK_BUFFER_MAX_PER_HOST", 5000),
		BufferGCInterval: getEnvDuration("RISK_BUFFER_GC_INTERVAL", 30*time.Second),
		CompressMinBytes: getEnvInt("RISK_COMPRESS_MIN_BYTES", 64*1024),

		CorrelationInterval: getEnvDuration("RISK_CORRELATION_INTERVAL", time.Hour),
		ScoringInterval:     getEnvDuration("RISK_SCORING_INTERVAL", 24*time.Hour),

		Defaults: ConfigSnapshot{
			CorrelationWindowSeconds: getEnvInt("RISK_CORRELATION_WINDOW_SEC", 7200),
			LookbackSeconds:          getEnvInt("RISK_LOOKBACK_SEC", 86400),
			ScoringProfile:           getEnv("RISK_SCORING_PROFILE", "vrs"),
			ScoreConcurrency:         getEnvInt("RISK_SCORE_CONCURRENCY", 4),
			FastIntervalSeconds:      getEnvInt("RISK_FAST_INTERVAL_SEC", 0),
		},
	}
}

// NewLogger returns a JSON logger on stdout at the given level
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else is info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration ("90s", "1h") with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
