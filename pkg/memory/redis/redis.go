// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package redis persists episodes as a Redis list of JSON records.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jllopis/sextant/pkg/memory"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// DefaultKey holds the episode list.
const DefaultKey = "sextant:episodes"

// Config describes the Redis connection.
type Config struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

// Backend implements memory.Backend.
type Backend struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

var _ memory.Backend = (*Backend)(nil)

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewWithClient(client, cfg.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, key string) *Backend {
	if key == "" {
		key = DefaultKey
	}
	return &Backend{client: client, key: key, logger: telemetry.Component(slog.Default(), "memory.redis")}
}

// Close closes the client.
func (b *Backend) Close() error { return b.client.Close() }

// Load implements memory.Backend. Entries that do not decode are skipped.
func (b *Backend) Load(ctx context.Context) ([]memory.Episode, error) {
	values, err := b.client.LRange(ctx, b.key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis load: %w", err)
	}
	out := make([]memory.Episode, 0, len(values))
	for i, v := range values {
		var e memory.Episode
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			b.logger.WarnContext(ctx, "memory.load.corrupt", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Save implements memory.Backend, replacing the list atomically.
func (b *Backend) Save(ctx context.Context, episodes []memory.Episode) error {
	values := make([]any, 0, len(episodes))
	for _, e := range episodes {
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		values = append(values, string(raw))
	}
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.key)
		if len(values) > 0 {
			p.RPush(ctx, b.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}
