package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aegisflux/riskengine/internal/engine"
)

// Live configuration keys
const (
	KeyCorrelationWindow = "riskengine.correlation_window_seconds"
	KeyLookback          = "riskengine.lookback_seconds"
	KeyScoringProfile    = "riskengine.scoring_profile"
	KeyScoreConcurrency  = "riskengine.score_concurrency"
	KeyFastInterval      = "riskengine.fast_interval_seconds"
)

// ConfigEntry represents a configuration entry from the config-api
type ConfigEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Scope     string          `json:"scope"`
	UpdatedBy string          `json:"updated_by"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ConfigSnapshot holds the live tunables of the risk engine
type ConfigSnapshot struct {
	CorrelationWindowSeconds int       `json:"correlation_window_seconds"`
	LookbackSeconds          int       `json:"lookback_seconds"`
	ScoringProfile           string    `json:"scoring_profile"`
	ScoreConcurrency         int       `json:"score_concurrency"`
	FastIntervalSeconds      int       `json:"fast_interval_seconds"`
	LastUpdated              time.Time `json:"last_updated"`
}

// ApplyTo copies the snapshot onto engine settings; unset values keep the current setting
func (c *ConfigSnapshot) ApplyTo(s *engine.Settings) {
	if c.CorrelationWindowSeconds > 0 {
		s.CorrelationWindow = time.Duration(c.CorrelationWindowSeconds) * time.Second
	}
	if c.LookbackSeconds > 0 {
		s.Lookback = time.Duration(c.LookbackSeconds) * time.Second
	}
	if c.ScoringProfile != "" {
		s.Profile = c.ScoringProfile
	}
	if c.ScoreConcurrency > 0 {
		s.Concurrency = c.ScoreConcurrency
	}
	if c.FastIntervalSeconds >= 0 {
		s.FastInterval = time.Duration(c.FastIntervalSeconds) * time.Second
	}
}

// apply sets one key on the snapshot and reports whether the key is known
func (c *ConfigSnapshot) apply(key string, value json.RawMessage) bool {
	switch key {
	case KeyCorrelationWindow:
		return parseInt(value, &c.CorrelationWindowSeconds)
	case KeyLookback:
		return parseInt(value, &c.LookbackSeconds)
	case KeyScoreConcurrency:
		return parseInt(value, &c.ScoreConcurrency)
	case KeyFastInterval:
		return parseInt(value, &c.FastIntervalSeconds)
	case KeyScoringProfile:
		var profile string
		if err := json.Unmarshal(value, &profile); err != nil {
			return false
		}
		c.ScoringProfile = strings.ToLower(strings.TrimSpace(profile))
		return true
	default:
		return false
	}
}

// parseInt accepts a JSON number or a quoted number
func parseInt(value json.RawMessage, dst *int) bool {
	var n int
	if err := json.Unmarshal(value, &n); err == nil {
		*dst = n
		return true
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			*dst = n
			return true
		}
	}
	return false
}

// Client handles configuration retrieval from config-api
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a new configuration client
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// GetSnapshot fetches the riskengine.* entries from config-api on top of base
func (c *Client) GetSnapshot(ctx context.Context, base ConfigSnapshot) (*ConfigSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build config request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config-api returned status %d", resp.StatusCode)
	}

	var response struct {
		Configs []ConfigEntry `json:"configs"`
		Count   int           `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode config response: %w", err)
	}

	snapshot := base
	applied := 0
	for _, entry := range response.Configs {
		if snapshot.apply(entry.Key, entry.Value) {
			applied++
			if entry.UpdatedAt.After(snapshot.LastUpdated) {
				snapshot.LastUpdated = entry.UpdatedAt
			}
		}
	}

	c.logger.Info("Configuration snapshot loaded",
		"correlation_window_seconds", snapshot.CorrelationWindowSeconds,
		"lookback_seconds", snapshot.LookbackSeconds,
		"scoring_profile", snapshot.ScoringProfile,
		"score_concurrency", snapshot.ScoreConcurrency,
		"fast_interval_seconds", snapshot.FastIntervalSeconds,
		"applied", applied,
		"config_count", response.Count)

	return &snapshot, nil
}

// GetSnapshotWithFallback fetches the snapshot, falling back to envDefaults on error
func (c *Client) GetSnapshotWithFallback(ctx context.Context, envDefaults ConfigSnapshot) *ConfigSnapshot {
	snapshot, err := c.GetSnapshot(ctx, envDefaults)
	if err != nil {
		c.logger.Warn("Failed to fetch config snapshot, using environment defaults",
			"error", err,
			"fallback_correlation_window_seconds", envDefaults.CorrelationWindowSeconds,
			"fallback_scoring_profile", envDefaults.ScoringProfile)
		return &envDefaults
	}
	return snapshot
}
