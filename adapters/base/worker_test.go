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

package base

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/platform/shared/types"
	"agentmesh/platform/transport"
)

type fakeBackend struct {
	kind string
	ops  map[string]OpFunc
}

func (f *fakeBackend) Connect(ctx context.Context, endpoint string, creds map[string]string) error {
	return nil
}
func (f *fakeBackend) Close(ctx context.Context) error { return nil }
func (f *fakeBackend) Ping(ctx context.Context) error  { return nil }
func (f *fakeBackend) Type() string                    { return f.kind }
func (f *fakeBackend) Ops() map[string]OpFunc          { return f.ops }

type fakeBus struct {
	handlers map[string]transport.Handler
	replies  [][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{handlers: make(map[string]transport.Handler)} }

func (f *fakeBus) Subscribe(subject string, h transport.Handler) (transport.Subscription, error) {
	f.handlers[subject] = h
	return noopSub{}, nil
}

func (f *fakeBus) Respond(ctx context.Context, msg *transport.Msg, data []byte) error {
	f.replies = append(f.replies, data)
	return nil
}

type noopSub struct{}

func (noopSub) Unsubscribe() error { return nil }

func startWorker(t *testing.T, ops map[string]OpFunc) *fakeBus {
	t.Helper()
	bus := newFakeBus()
	worker := NewWorker("sales-kb-1", &fakeBackend{kind: "postgres", ops: ops}, bus, time.Second)
	require.NoError(t, worker.Start())
	return bus
}

func deliver(bus *fakeBus, payload string) {
	bus.handlers["sales-kb-1.adapter.query"](context.Background(), &transport.Msg{
		Subject: "sales-kb-1.adapter.query",
		Data:    []byte(payload),
		Reply:   "_inbox.test",
	})
}

func lastResponse(t *testing.T, bus *fakeBus) types.AdapterResponse {
	t.Helper()
	require.NotEmpty(t, bus.replies)
	var resp types.AdapterResponse
	require.NoError(t, json.Unmarshal(bus.replies[len(bus.replies)-1], &resp))
	return resp
}

func TestWorkerDispatchesOperation(t *testing.T) {
	var gotParams map[string]interface{}
	bus := startWorker(t, map[string]OpFunc{
		"sql_query": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			gotParams = params
			return map[string]interface{}{"rows": []interface{}{}}, nil
		},
	})

	deliver(bus, `{"operation":"sql_query","params":{"query":"SELECT 1"}}`)

	resp := lastResponse(t, bus)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "SELECT 1", gotParams["query"])
}

func TestWorkerRejectsUnknownOperation(t *testing.T) {
	bus := startWorker(t, map[string]OpFunc{
		"sql_query":  func(ctx context.Context, p map[string]interface{}) (interface{}, error) { return nil, nil },
		"get_schema": func(ctx context.Context, p map[string]interface{}) (interface{}, error) { return nil, nil },
	})

	deliver(bus, `{"operation":"drop_database"}`)

	resp := lastResponse(t, bus)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "unsupported operation 'drop_database'")
	assert.Contains(t, resp.Error, "get_schema, sql_query")
}

func TestWorkerReturnsStructuredError(t *testing.T) {
	bus := startWorker(t, map[string]OpFunc{
		"sql_query": func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			return nil, errors.New("driver unreachable")
		},
	})

	deliver(bus, `{"operation":"sql_query"}`)

	resp := lastResponse(t, bus)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "driver unreachable", resp.Error)
}

func TestWorkerRejectsMalformedRequest(t *testing.T) {
	bus := startWorker(t, map[string]OpFunc{})
	deliver(bus, `{broken`)

	resp := lastResponse(t, bus)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "malformed adapter request")
}

func TestWorkerOperationTimeout(t *testing.T) {
	bus := newFakeBus()
	worker := NewWorker("sales-kb-1", &fakeBackend{kind: "postgres", ops: map[string]OpFunc{
		"sql_query": func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}, bus, 20*time.Millisecond)
	require.NoError(t, worker.Start())

	deliver(bus, `{"operation":"sql_query"}`)

	resp := lastResponse(t, bus)
	assert.Equal(t, "error", resp.Status)
}
