package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectConfigChanged carries live configuration changes
const SubjectConfigChanged = "config.changed"

// ConfigChangeMessage represents a configuration change from NATS
type ConfigChangeMessage struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Scope     string          `json:"scope"`
	UpdatedBy string          `json:"updated_by"`
	Timestamp int64           `json:"timestamp"`
}

// Manager keeps the current configuration snapshot and applies live updates
type Manager struct {
	client        *Client
	nats          *nats.Conn
	logger        *slog.Logger
	mu            sync.RWMutex
	currentConfig *ConfigSnapshot
	subscribers   []func(*ConfigSnapshot)
	sub           *nats.Subscription
}

// NewManager creates a new configuration manager; nc may be nil to disable live updates
func NewManager(configAPIURL string, nc *nats.Conn, logger *slog.Logger) *Manager {
	return &Manager{
		client: NewClient(configAPIURL, logger),
		nats:   nc,
		logger: logger,
	}
}

// Initialize loads the initial snapshot and subscribes to config.changed
func (m *Manager) Initialize(ctx context.Context, envDefaults ConfigSnapshot) error {
	m.logger.Info("Loading initial configuration snapshot")
	m.updateConfig(m.client.GetSnapshotWithFallback(ctx, envDefaults))

	if m.nats == nil {
		m.logger.Info("No NATS connection, live configuration updates disabled")
		return nil
	}

	sub, err := m.nats.Subscribe(SubjectConfigChanged, func(msg *nats.Msg) {
		m.handleConfigChange(msg.Data)
	})
	if err != nil {
		m.logger.Error("Failed to subscribe to config changes", "error", err)
		return err
	}
	m.sub = sub

	m.logger.Info("Subscribed to config.changed NATS subject")
	return nil
}

// GetCurrentConfig returns a copy of the current configuration snapshot
func (m *Manager) GetCurrentConfig() *ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentConfig == nil {
		return nil
	}
	config := *m.currentConfig
	return &config
}

// Subscribe registers a callback invoked after every applied change
func (m *Manager) Subscribe(callback func(*ConfigSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers = append(m.subscribers, callback)
}

// Close stops listening for changes
func (m *Manager) Close() error {
	if m.sub != nil {
		return m.sub.Unsubscribe()
	}
	return nil
}

// handleConfigChange applies one change message; keys of other services are ignored
func (m *Manager) handleConfigChange(data []byte) {
	var change ConfigChangeMessage
	if err := json.Unmarshal(data, &change); err != nil {
		m.logger.Error("Failed to unmarshal config change message", "error", err)
		return
	}

	m.mu.Lock()
	newConfig := ConfigSnapshot{}
	if m.currentConfig != nil {
		newConfig = *m.currentConfig
	}
	if !newConfig.apply(change.Key, change.Value) {
		m.mu.Unlock()
		m.logger.Debug("Ignoring configuration key", "key", change.Key)
		return
	}
	if change.Timestamp > 0 {
		newConfig.LastUpdated = time.Unix(change.Timestamp, 0).UTC()
	}
	m.currentConfig = &newConfig
	m.mu.Unlock()

	m.logger.Info("Configuration updated live",
		"key", change.Key,
		"updated_by", change.UpdatedBy,
		"correlation_window_seconds", newConfig.CorrelationWindowSeconds,
		"lookback_seconds", newConfig.LookbackSeconds,
		"scoring_profile", newConfig.ScoringProfile,
		"score_concurrency", newConfig.ScoreConcurrency)

	m.notifySubscribers(&newConfig)
}

func (m *Manager) updateConfig(config *ConfigSnapshot) {
	m.mu.Lock()
	m.currentConfig = config
	m.mu.Unlock()

	m.notifySubscribers(config)
}

// notifySubscribers calls every subscriber with its own copy; a panicking callback is logged
func (m *Manager) notifySubscribers(config *ConfigSnapshot) {
	m.mu.RLock()
	subscribers := make([]func(*ConfigSnapshot), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.RUnlock()

	for _, callback := range subscribers {
		snapshot := *config
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Panic in config subscriber callback", "panic", r)
				}
			}()
			callback(&snapshot)
		}()
	}
}
