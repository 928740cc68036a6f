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
	"fmt"
	"sort"
	"strings"
	"time"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/transport"
)

// OpFunc executes one native operation against the worker's backend
type OpFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Backend fronts one driver. It owns its own connection pool, which is
// never shared with the mesh process.
type Backend interface {
	Connect(ctx context.Context, endpoint string, credentials map[string]string) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error
	Type() string
	// Ops is the static operation registry built at startup; unknown names
	// are rejected before they reach the driver
	Ops() map[string]OpFunc
}

// Bus is the transport surface the worker serves on
type Bus interface {
	Subscribe(subject string, h transport.Handler) (transport.Subscription, error)
	Respond(ctx context.Context, msg *transport.Msg, data []byte) error
}

// Worker serves {kb_id}.adapter.query for exactly one KB. It knows nothing
// about policies: it receives {operation, params}, dispatches to the
// backend's operation registry, and returns the raw payload. A hard
// per-operation timeout keeps it from hanging past the transport deadline.
type Worker struct {
	kbID    string
	backend Backend
	bus     Bus
	timeout time.Duration
	sub     transport.Subscription
	logger  *logger.Logger
}

// NewWorker creates an adapter worker for one KB
func NewWorker(kbID string, backend Backend, bus Bus, timeout time.Duration) *Worker {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		kbID:    kbID,
		backend: backend,
		bus:     bus,
		timeout: timeout,
		logger:  logger.New("adapter-" + backend.Type()),
	}
}

// Start subscribes the worker to its adapter subject
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(types.AdapterSubject(w.kbID), w.handle)
	if err != nil {
		return fmt.Errorf("adapter: subscribe failed for %s: %w", w.kbID, err)
	}
	w.sub = sub
	w.logger.Info("", "adapter worker listening", map[string]interface{}{
		"kb_id":   w.kbID,
		"kb_type": w.backend.Type(),
	})
	return nil
}

// Stop drops the subscription and closes the backend
func (w *Worker) Stop(ctx context.Context) error {
	if w.sub != nil {
		_ = w.sub.Unsubscribe()
	}
	return w.backend.Close(ctx)
}

func (w *Worker) handle(ctx context.Context, msg *transport.Msg) {
	var req types.AdapterRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.respond(ctx, msg, &types.AdapterResponse{
			Status: "error",
			Error:  "malformed adapter request: " + err.Error(),
		})
		return
	}

	op, ok := w.backend.Ops()[req.Operation]
	if !ok {
		w.respond(ctx, msg, &types.AdapterResponse{
			Status: "error",
			Error: fmt.Sprintf("unsupported operation '%s' (supported: %s)",
				req.Operation, strings.Join(w.operationNames(), ", ")),
		})
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	data, err := op(opCtx, req.Params)
	if err != nil {
		w.logger.ErrorErr("", "operation failed", err, map[string]interface{}{
			"kb_id":     w.kbID,
			"operation": req.Operation,
		})
		w.respond(ctx, msg, &types.AdapterResponse{Status: "error", Error: err.Error()})
		return
	}

	w.logger.InfoWithDuration("", "operation executed",
		float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"kb_id":     w.kbID,
			"operation": req.Operation,
		})
	w.respond(ctx, msg, &types.AdapterResponse{Status: "success", Data: data})
}

func (w *Worker) operationNames() []string {
	ops := w.backend.Ops()
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Worker) respond(ctx context.Context, msg *transport.Msg, resp *types.AdapterResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		w.logger.ErrorErr("", "failed to marshal adapter response", err, nil)
		return
	}
	if err := w.bus.Respond(ctx, msg, data); err != nil {
		w.logger.ErrorErr("", "failed to send adapter response", err,
			map[string]interface{}{"kb_id": w.kbID})
	}
}
