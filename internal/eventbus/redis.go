/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/events"
)

// RedisBus relays events over Redis pub/sub. When Redis is unreachable it
// keeps running local-only and retries on CheckInterval.
type RedisBus struct {
	client *redis.Client
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
	cfg    RedisConfig

	mu sync.Mutex
	// Circuit breaker state
	useFallback bool
	failCount   int
	lastCheck   time.Time
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      4,
		MinIdleConns:  1,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis relay for local. A failed ping is not an
// error: the relay starts in fallback mode.
func NewRedisBus(cfg RedisConfig, local *events.Bus, nodeID string, logger zerolog.Logger) *RedisBus {
	logger = logger.With().Str("component", "eventbus").Str("backend", "redis").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rb := &RedisBus{
		client: client,
		local:  local,
		logger: logger,
		nodeID: nodeID,
		cfg:    cfg,
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis connection failed, relaying locally only")
		rb.useFallback = true
		rb.lastCheck = time.Now()
		return rb
	}

	logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event relay initialized")
	return rb
}

// Run forwards local events to Redis and peer events to the local bus
// until ctx is cancelled.
func (rb *RedisBus) Run(ctx context.Context) error {
	channels := make([]string, 0, len(events.AllEventTypes))
	for _, et := range events.AllEventTypes {
		channels = append(channels, channelPrefix+string(et))
	}
	pubsub := rb.client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardLocal(ctx, rb.local, func(et events.EventType, p events.Payload) {
			rb.publish(ctx, et, p)
		})
	}()
	go func() {
		defer wg.Done()
		rb.receive(ctx, pubsub)
	}()

	ticker := time.NewTicker(rb.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			if err := rb.tryReconnect(ctx); err != nil {
				rb.logger.Debug().Err(err).Msg("Redis reconnect skipped")
			}
		}
	}
}

// receive delivers peer messages to the local bus.
func (rb *RedisBus) receive(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis subscription channel closed")
				rb.handleFailure()
				return
			}
			m, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Str("channel", msg.Channel).Msg("failed to unmarshal Redis message")
				continue
			}
			if m.NodeID == rb.nodeID {
				continue
			}
			if !strings.HasSuffix(msg.Channel, string(m.EventType)) {
				rb.logger.Warn().Str("channel", msg.Channel).Str("event_type", string(m.EventType)).Msg("event type does not match channel")
				continue
			}
			deliverLocal(rb.local, m)
			rb.logger.Debug().
				Str("event_type", string(m.EventType)).
				Str("source_node", m.NodeID).
				Msg("delivered Redis event to local bus")
		}
	}
}

func (rb *RedisBus) publish(ctx context.Context, et events.EventType, payload events.Payload) {
	if rb.inFallback() {
		return
	}

	data, err := marshalMessage(et, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(pubCtx, channelPrefix+string(et), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(et)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

func (rb *RedisBus) inFallback() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.useFallback
}

// handleFailure implements circuit breaker logic.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++

	if rb.failCount >= rb.cfg.MaxFailures && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, relaying locally only")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	}
}

// tryReconnect pings Redis while in fallback and re-enables publishing.
func (rb *RedisBus) tryReconnect(ctx context.Context) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.useFallback {
		return nil
	}
	if time.Since(rb.lastCheck) < rb.cfg.CheckInterval {
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, rb.cfg.DialTimeout)
	defer cancel()

	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.useFallback = false
	rb.failCount = 0
	rb.logger.Info().Msg("reconnected to Redis")
	return nil
}

// Close closes the Redis client.
func (rb *RedisBus) Close() error {
	if err := rb.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
