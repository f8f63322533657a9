// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package amqp publishes agent loop events to a RabbitMQ exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// Config describes the broker connection.
type Config struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
	// Prefix is prepended to the event type to form the routing key.
	Prefix string `koanf:"prefix"`
}

// Channel is the subset of *amqp.Channel used by Publisher.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements core.EventEmitter. Publishing failures are logged
// and never reach the agent loop.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "sextant.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := NewPublisher(ch, exchange, cfg.Prefix)
	p.conn = conn
	return p, nil
}

// NewPublisher wraps an open channel.
func NewPublisher(ch Channel, exchange, prefix string) *Publisher {
	if prefix == "" {
		prefix = "sextant"
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		prefix:   prefix,
		timeout:  5 * time.Second,
		logger:   telemetry.Component(slog.Default(), "events.amqp"),
	}
}

// RoutingKey returns the routing key used for an event type.
func (p *Publisher) RoutingKey(t core.EventType) string {
	return p.prefix + "." + string(t)
}

// Emit implements core.EventEmitter.
func (p *Publisher) Emit(ctx context.Context, e core.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		p.logger.WarnContext(ctx, "events.amqp.encode_failed", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	err = p.ch.PublishWithContext(ctx, p.exchange, p.RoutingKey(e.Type), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     e.Timestamp,
		Type:          string(e.Type),
		CorrelationId: e.RunID,
		Body:          body,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "events.amqp.publish_failed",
			slog.String("event", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	var result *multierror.Error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
