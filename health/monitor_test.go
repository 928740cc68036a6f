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

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/platform/shared/types"
	"agentmesh/platform/store"
)

type fakeRegistry struct {
	agents []types.AgentRecord
	kbs    []types.KBRecord
}

func (f *fakeRegistry) ListAgents(ctx context.Context, _ store.RegistryFilter) ([]types.AgentRecord, error) {
	return f.agents, nil
}

func (f *fakeRegistry) ListKBs(ctx context.Context, _ store.RegistryFilter) ([]types.KBRecord, error) {
	return f.kbs, nil
}

func (f *fakeRegistry) UpdateAgentStatus(ctx context.Context, identity string, status types.HealthStatus) error {
	for i := range f.agents {
		if f.agents[i].Identity == identity {
			f.agents[i].Status = status
		}
	}
	return nil
}

func (f *fakeRegistry) UpdateKBStatus(ctx context.Context, kbID string, status types.HealthStatus) error {
	for i := range f.kbs {
		if f.kbs[i].KBID == kbID {
			f.kbs[i].Status = status
		}
	}
	return nil
}

type fakeAudit struct {
	events []*types.AuditEvent
}

func (f *fakeAudit) Append(ctx context.Context, ev *types.AuditEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func TestAgentDegradesAfterConsecutiveFailures(t *testing.T) {
	reg := &fakeRegistry{agents: []types.AgentRecord{
		{Identity: "sales-agent-1", Status: types.StatusActive, HealthEndpoint: "http://localhost:1/health"},
	}}
	sink := &fakeAudit{}
	failing := func(ctx context.Context, endpoint string) error { return errors.New("connection refused") }

	m := New(reg, sink, failing, nil, Config{FailureThreshold: 2, Interval: time.Hour})

	ctx := context.Background()
	m.CheckAll(ctx) // failure 1: no transition yet
	assert.Equal(t, types.StatusActive, reg.agents[0].Status)

	m.CheckAll(ctx) // failure 2: active -> degraded
	assert.Equal(t, types.StatusDegraded, reg.agents[0].Status)

	m.CheckAll(ctx)
	m.CheckAll(ctx) // two more failures: degraded -> offline
	assert.Equal(t, types.StatusOffline, reg.agents[0].Status)

	// each transition appended an audit event
	require.Len(t, sink.events, 2)
	assert.Equal(t, "status_changed", sink.events[0].RequestMetadata["action"])
	assert.Equal(t, "degraded", sink.events[0].RequestMetadata["to"])
	assert.Equal(t, "offline", sink.events[1].RequestMetadata["to"])
}

func TestSingleSuccessRestoresActive(t *testing.T) {
	reg := &fakeRegistry{agents: []types.AgentRecord{
		{Identity: "sales-agent-1", Status: types.StatusOffline, HealthEndpoint: "http://localhost:1/health"},
	}}
	sink := &fakeAudit{}
	healthy := func(ctx context.Context, endpoint string) error { return nil }

	m := New(reg, sink, healthy, nil, Config{FailureThreshold: 3, Interval: time.Hour})
	m.CheckAll(context.Background())

	assert.Equal(t, types.StatusActive, reg.agents[0].Status)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "active", sink.events[0].RequestMetadata["to"])
}

func TestSuccessResetsFailureWindow(t *testing.T) {
	reg := &fakeRegistry{agents: []types.AgentRecord{
		{Identity: "sales-agent-1", Status: types.StatusActive, HealthEndpoint: "http://localhost:1/health"},
	}}
	sink := &fakeAudit{}

	healthy := true
	probe := func(ctx context.Context, endpoint string) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}

	m := New(reg, sink, probe, nil, Config{FailureThreshold: 2, Interval: time.Hour})
	ctx := context.Background()

	healthy = false
	m.CheckAll(ctx) // 1 failure
	healthy = true
	m.CheckAll(ctx) // success resets the window
	healthy = false
	m.CheckAll(ctx) // 1 failure again, still under threshold

	assert.Equal(t, types.StatusActive, reg.agents[0].Status)
	assert.Empty(t, sink.events)
}

func TestKBProbeTransitions(t *testing.T) {
	reg := &fakeRegistry{kbs: []types.KBRecord{
		{KBID: "sales-kb-1", KBType: "postgres", Status: types.StatusActive, Endpoint: "postgres://x"},
	}}
	sink := &fakeAudit{}
	probes := map[string]KBProbe{
		"postgres": func(ctx context.Context, kb *types.KBRecord) error {
			return errors.New("connection refused")
		},
	}

	m := New(reg, sink, func(ctx context.Context, e string) error { return nil }, probes,
		Config{FailureThreshold: 1, Interval: time.Hour})

	ctx := context.Background()
	m.CheckAll(ctx)
	assert.Equal(t, types.StatusDegraded, reg.kbs[0].Status)
	m.CheckAll(ctx)
	assert.Equal(t, types.StatusOffline, reg.kbs[0].Status)
}

func TestKBWithoutProbeKeepsStatus(t *testing.T) {
	reg := &fakeRegistry{kbs: []types.KBRecord{
		{KBID: "graph-kb-2", KBType: "neo4j", Status: types.StatusActive, Endpoint: "bolt://x"},
	}}
	sink := &fakeAudit{}

	m := New(reg, sink, func(ctx context.Context, e string) error { return nil }, nil,
		Config{FailureThreshold: 1, Interval: time.Hour})
	m.CheckAll(context.Background())

	assert.Equal(t, types.StatusActive, reg.kbs[0].Status)
	assert.Empty(t, sink.events)
}

func TestSummaryCounts(t *testing.T) {
	reg := &fakeRegistry{
		agents: []types.AgentRecord{
			{Identity: "a1", Status: types.StatusActive},
			{Identity: "a2", Status: types.StatusOffline},
		},
		kbs: []types.KBRecord{
			{KBID: "k1", Status: types.StatusDegraded},
		},
	}
	m := New(reg, &fakeAudit{}, func(ctx context.Context, e string) error { return nil }, nil, Config{})

	summary := m.Summary(context.Background())
	agents := summary["agents"].(map[string]int)
	kbs := summary["kbs"].(map[string]int)
	assert.Equal(t, 2, agents["total"])
	assert.Equal(t, 1, agents["active"])
	assert.Equal(t, 1, agents["offline"])
	assert.Equal(t, 1, kbs["degraded"])
}
