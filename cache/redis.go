package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockhero/config"
	"stockhero/models"
	"stockhero/observability"

	"github.com/redis/go-redis/v9"
)

const ratioKeyPrefix = "stockhero:ratios:"

// RatioCache keeps the whole-market ratio batch for a business date in Redis,
// so reruns of the pipeline on the same date do not hit the exchange again
type RatioCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewRatioCache wraps an existing Redis client
func NewRatioCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RatioCache {
	return &RatioCache{
		client: client,
		ttl:    ttl,
		logger: observability.OrDefault(logger),
	}
}

// Connect dials Redis using cfg and verifies the connection
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RatioKey is the Redis key holding the ratio batch of date
func RatioKey(date time.Time) string {
	return ratioKeyPrefix + models.NormalizeDate(date).Format(models.DateLayout)
}

// Get returns the cached batch for date; ok is false on a miss
func (c *RatioCache) Get(ctx context.Context, date time.Time) (map[string]models.RatioRecord, bool, error) {
	metrics := observability.GetMetrics()

	data, err := c.client.Get(ctx, RatioKey(date)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordRatioCacheLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get ratios: %w", err)
	}

	var ratios map[string]models.RatioRecord
	if err := json.Unmarshal(data, &ratios); err != nil {
		c.logger.Warn("discarding undecodable ratio cache entry", "key", RatioKey(date), "error", err)
		metrics.RecordRatioCacheLookup(false)
		return nil, false, nil
	}
	metrics.RecordRatioCacheLookup(true)
	return ratios, true, nil
}

// Set stores the batch for date with the configured TTL
func (c *RatioCache) Set(ctx context.Context, date time.Time, ratios map[string]models.RatioRecord) error {
	data, err := json.Marshal(ratios)
	if err != nil {
		return fmt.Errorf("marshal ratios: %w", err)
	}
	if err := c.client.Set(ctx, RatioKey(date), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set ratios: %w", err)
	}
	return nil
}
