// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	metricsOnce sync.Once
	mDelivery   *prometheus.HistogramVec
)

func deliveryDuration() *prometheus.HistogramVec {
	metricsOnce.Do(func() {
		mDelivery = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vaultfs",
			Subsystem: "events",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver an event, by publisher.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"publisher"})
	})
	return mDelivery
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string

	// Password is the Redis password (optional).
	Password string

	// DB is the Redis database number (default 0).
	DB int

	// Channel is the Pub/Sub channel prefix (default "vaultfs:files").
	// Events are published to "{channel}:{owner}".
	Channel string

	// DialTimeout is the connection timeout (default 5s).
	DialTimeout time.Duration

	// WriteTimeout is the write timeout (default 3s).
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:         addr,
		Channel:      "vaultfs:files",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisPublisher publishes events to Redis Pub/Sub.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "vaultfs:files"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Str("channel", cfg.Channel).
		Msg("redis event publisher connected")

	return &RedisPublisher{client: client, channel: cfg.Channel}, nil
}

func (p *RedisPublisher) Name() string { return "redis" }

// Publish sends an event to "{prefix}:{owner}".
func (p *RedisPublisher) Publish(ctx context.Context, ownerID string, e *Event) error {
	start := time.Now()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", p.channel, ownerID)
	result := p.client.Publish(ctx, channel, payload)
	if err := result.Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	deliveryDuration().WithLabelValues("redis").Observe(time.Since(start).Seconds())

	logger.Debug().
		Str("channel", channel).
		Str("event", e.Name).
		Int64("subscribers", result.Val()).
		Msg("published event to redis")

	return nil
}

func (p *RedisPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
