// Copyright 2025 AgentMesh
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"agentmesh/platform/shared/logger"
)

// envelope wraps every payload on the wire so request/reply can carry the
// reply inbox alongside the body.
type envelope struct {
	Reply string          `json:"reply,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// RedisBus implements Bus on Redis pub/sub channels. Subject names map to
// channel names one-to-one; reply inboxes are ephemeral per-request
// channels.
type RedisBus struct {
	client *redis.Client
	logger *logger.Logger
}

// Connect opens a Redis-backed bus from a redis:// URL
func Connect(url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("transport: failed to ping redis: %w", err)
	}

	return &RedisBus{
		client: client,
		logger: logger.New("transport"),
	}, nil
}

// NewWithClient wraps an existing Redis client; used by tests
func NewWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger.New("transport"),
	}
}

// Publish sends data on subject with no reply expected
func (b *RedisBus) Publish(ctx context.Context, subject string, data []byte) error {
	payload, err := json.Marshal(envelope{Data: data})
	if err != nil {
		return fmt.Errorf("transport: failed to marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, subject, payload).Err(); err != nil {
		return fmt.Errorf("transport: publish to %s failed: %w", subject, err)
	}
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	return s.pubsub.Close()
}

// Subscribe delivers every message on subject to h, each in its own
// goroutine
func (b *RedisBus) Subscribe(subject string, h Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, subject)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("transport: subscribe to %s failed: %w", subject, err)
	}
	go b.dispatchLoop(ctx, pubsub, h)
	return &redisSubscription{pubsub: pubsub, cancel: cancel}, nil
}

// PSubscribe delivers messages matching a wildcard pattern to h
func (b *RedisBus) PSubscribe(pattern string, h Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("transport: psubscribe to %s failed: %w", pattern, err)
	}
	go b.dispatchLoop(ctx, pubsub, h)
	return &redisSubscription{pubsub: pubsub, cancel: cancel}, nil
}

func (b *RedisBus) dispatchLoop(ctx context.Context, pubsub *redis.PubSub, h Handler) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg := decodeMessage(m)
			go h(ctx, msg)
		}
	}
}

// decodeMessage unwraps the envelope; payloads from foreign publishers that
// are not enveloped are passed through as-is.
func decodeMessage(m *redis.Message) *Msg {
	var env envelope
	if err := json.Unmarshal([]byte(m.Payload), &env); err != nil || env.Data == nil {
		return &Msg{Subject: m.Channel, Data: []byte(m.Payload)}
	}
	return &Msg{Subject: m.Channel, Data: env.Data, Reply: env.Reply}
}

// Request publishes data on subject and waits up to timeout for a single
// reply on an ephemeral inbox
func (b *RedisBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	inbox := "_inbox." + uuid.NewString()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pubsub := b.client.Subscribe(subCtx, inbox)
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(subCtx); err != nil {
		return nil, fmt.Errorf("transport: inbox subscribe failed: %w", err)
	}

	payload, err := json.Marshal(envelope{Reply: inbox, Data: data})
	if err != nil {
		return nil, fmt.Errorf("transport: failed to marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, subject, payload).Err(); err != nil {
		return nil, fmt.Errorf("transport: request publish to %s failed: %w", subject, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ch := pubsub.Channel()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, subject, timeout)
	case m, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("transport: inbox closed for %s", subject)
		}
		return decodeMessage(m).Data, nil
	}
}

// Respond sends data to msg's reply subject
func (b *RedisBus) Respond(ctx context.Context, msg *Msg, data []byte) error {
	if msg.Reply == "" {
		return fmt.Errorf("transport: message on %s has no reply subject", msg.Subject)
	}
	return b.Publish(ctx, msg.Reply, data)
}

// Close shuts the bus down
func (b *RedisBus) Close() error {
	return b.client.Close()
}
