// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jllopis/sextant/pkg/core"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisherEmitsJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "events", "")
	e := core.Event{
		Type:      core.EventCapabilityCall,
		RunID:     "run-1",
		Iteration: 2,
		Timestamp: time.Unix(10, 0).UTC(),
		Payload:   map[string]any{"capability": "orders_get"},
	}
	p.Emit(context.Background(), e)

	if len(ch.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "events" || got.key != "sextant.capability.call" {
		t.Fatalf("unexpected routing %s/%s", got.exchange, got.key)
	}
	if got.msg.ContentType != "application/json" || got.msg.CorrelationId != "run-1" {
		t.Fatalf("unexpected headers %+v", got.msg)
	}
	var decoded core.Event
	if err := json.Unmarshal(got.msg.Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Iteration != 2 || decoded.Payload["capability"] != "orders_get" {
		t.Fatalf("unexpected body %+v", decoded)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("expected channel closed, err=%v", err)
	}
}

func TestPublisherSwallowsPublishErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("broker down")}
	p := NewPublisher(ch, "events", "app")
	p.Emit(context.Background(), core.Event{Type: core.EventError})
	if p.RoutingKey(core.EventError) != "app.agent.error" {
		t.Fatalf("unexpected routing key %s", p.RoutingKey(core.EventError))
	}
}

func TestDialRequiresURL(t *testing.T) {
	if _, err := Dial(Config{}); err == nil {
		t.Fatal("expected error")
	}
}
