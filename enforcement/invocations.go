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

package enforcement

import (
	"context"
	"sync"
	"time"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
)

// invocationTracker keeps in-flight invocation records in memory for fast
// status lookups and mirrors every transition to the persistence store.
type invocationTracker struct {
	store  InvocationStore
	mu     sync.RWMutex
	active map[string]*types.InvocationRecord
	logger *logger.Logger
}

func newInvocationTracker(store InvocationStore) *invocationTracker {
	return &invocationTracker{
		store:  store,
		active: make(map[string]*types.InvocationRecord),
		logger: logger.New("invocations"),
	}
}

func (t *invocationTracker) register(ctx context.Context, rec *types.InvocationRecord) error {
	if t.store != nil {
		if err := t.store.InsertInvocation(ctx, rec); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.active[rec.TrackingID] = rec
	t.mu.Unlock()
	return nil
}

func (t *invocationTracker) get(ctx context.Context, trackingID string) *types.InvocationRecord {
	t.mu.RLock()
	rec := t.active[trackingID]
	t.mu.RUnlock()
	if rec != nil {
		copied := *rec
		return &copied
	}
	if t.store == nil {
		return nil
	}
	stored, err := t.store.GetInvocation(ctx, trackingID)
	if err != nil {
		t.logger.ErrorErr("", "invocation lookup failed", err,
			map[string]interface{}{"tracking_id": trackingID})
		return nil
	}
	return stored
}

func (t *invocationTracker) transition(ctx context.Context, trackingID string, status types.InvocationStatus, completedAt *time.Time, result interface{}, errMsg string) {
	t.mu.Lock()
	if rec, ok := t.active[trackingID]; ok {
		rec.Status = status
		rec.CompletedAt = completedAt
		rec.Result = result
		rec.Error = errMsg
	}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.UpdateInvocation(ctx, trackingID, status, completedAt, result, errMsg); err != nil {
			t.logger.ErrorErr("", "failed to persist invocation transition", err,
				map[string]interface{}{"tracking_id": trackingID, "status": status})
		}
	}
}
