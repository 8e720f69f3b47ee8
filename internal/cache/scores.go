package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aegisflux/riskengine/internal/model"
)

const scoreKeyPrefix = "riskengine:score:"

// ScoreCache keeps the latest resilience score per target for dashboard readers
type ScoreCache struct {
	kv  KVStore
	ttl time.Duration
}

// NewScoreCache creates a score cache on top of kv; entries expire after ttl
func NewScoreCache(kv KVStore, ttl time.Duration) *ScoreCache {
	return &ScoreCache{kv: kv, ttl: ttl}
}

func scoreKey(target string) string {
	return scoreKeyPrefix + target
}

// Put stores score as the latest for its target
func (c *ScoreCache) Put(ctx context.Context, score *model.ResilienceScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}
	if err := c.kv.SetValueWithTTL(ctx, scoreKey(score.Target), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to cache score for %s: %w", score.Target, err)
	}
	return nil
}

// Get returns the cached score for target or ErrMiss
func (c *ScoreCache) Get(ctx context.Context, target string) (*model.ResilienceScore, error) {
	raw, err := c.kv.GetValue(ctx, scoreKey(target))
	if err != nil {
		return nil, err
	}

	var score model.ResilienceScore
	if err := json.Unmarshal([]byte(raw), &score); err != nil {
		// unreadable entries are dropped and treated as a miss
		_ = c.kv.DeleteValue(ctx, scoreKey(target))
		return nil, ErrMiss
	}
	return &score, nil
}

// Targets lists targets with a cached score
func (c *ScoreCache) Targets(ctx context.Context) ([]string, error) {
	keys, err := c.kv.ListKeys(ctx, scoreKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(keys))
	for _, k := range keys {
		targets = append(targets, strings.TrimPrefix(k, scoreKeyPrefix))
	}
	return targets, nil
}

// Invalidate drops the cached score for target
func (c *ScoreCache) Invalidate(ctx context.Context, target string) error {
	return c.kv.DeleteValue(ctx, scoreKey(target))
}
