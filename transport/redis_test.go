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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *RedisBus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewWithClient(client)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *Msg, 1)
	sub, err := bus.Subscribe("mesh.directory.updates", func(ctx context.Context, msg *Msg) {
		received <- msg
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	err = bus.Publish(context.Background(), "mesh.directory.updates", []byte(`{"type":"agent_registered"}`))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "mesh.directory.updates", msg.Subject)
		assert.JSONEq(t, `{"type":"agent_registered"}`, string(msg.Data))
		assert.Empty(t, msg.Reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestRequestReply(t *testing.T) {
	bus := newTestBus(t)

	sub, err := bus.Subscribe("sales-kb-1.adapter.query", func(ctx context.Context, msg *Msg) {
		assert.NotEmpty(t, msg.Reply)
		_ = bus.Respond(ctx, msg, []byte(`{"status":"success"}`))
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	reply, err := bus.Request(context.Background(), "sales-kb-1.adapter.query",
		[]byte(`{"operation":"sql_query"}`), 2*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(reply))
}

func TestRequestTimeout(t *testing.T) {
	bus := newTestBus(t)

	_, err := bus.Request(context.Background(), "nobody.listening",
		[]byte(`{}`), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestPSubscribeWildcard(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan string, 2)
	sub, err := bus.PSubscribe("*.adapter.query", func(ctx context.Context, msg *Msg) {
		received <- msg.Subject
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	require.NoError(t, bus.Publish(context.Background(), "sales-kb-1.adapter.query", []byte(`{}`)))
	require.NoError(t, bus.Publish(context.Background(), "graph-kb-2.adapter.query", []byte(`{}`)))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-received:
			got[s] = true
		case <-time.After(2 * time.Second):
			t.Fatal("wildcard subscription missed a message")
		}
	}
	assert.True(t, got["sales-kb-1.adapter.query"])
	assert.True(t, got["graph-kb-2.adapter.query"])
}

func TestRespondWithoutReplySubject(t *testing.T) {
	bus := newTestBus(t)
	err := bus.Respond(context.Background(), &Msg{Subject: "mesh.health"}, []byte(`{}`))
	require.Error(t, err)
}
