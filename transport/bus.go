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
	"errors"
	"time"
)

// ErrTimeout is returned when a request's deadline expires before a reply
// arrives.
var ErrTimeout = errors.New("transport: request timed out")

// Msg is one delivered message. Reply is non-empty when the sender expects
// a response on that subject.
type Msg struct {
	Subject string
	Data    []byte
	Reply   string
}

// Handler processes one delivered message. Each delivery runs in its own
// goroutine; handlers must derive their own deadlines from ctx.
type Handler func(ctx context.Context, msg *Msg)

// Subscription is an active subject subscription
type Subscription interface {
	Unsubscribe() error
}

// Bus is a named-subject broker: pub/sub with wildcard subscribe plus
// synchronous request/reply with a per-call timeout. Delivery is
// at-most-once; consumers must be idempotent where needed.
type Bus interface {
	// Publish sends data on subject with no reply expected
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe delivers every message on subject to h
	Subscribe(subject string, h Handler) (Subscription, error)

	// PSubscribe delivers messages matching a wildcard pattern
	// ("*" matches any run of characters, dots included, e.g. "*.adapter.query")
	PSubscribe(pattern string, h Handler) (Subscription, error)

	// Request publishes data on subject and waits up to timeout for a
	// single reply. The reply inbox is ephemeral and unique per call.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Respond sends data to msg's reply subject
	Respond(ctx context.Context, msg *Msg, data []byte) error

	Close() error
}
