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

package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/platform/shared/types"
	"agentmesh/platform/store"
)

type fakeStore struct {
	agents []types.AgentRecord
	kbs    []types.KBRecord
}

func (f *fakeStore) ListAgents(ctx context.Context, filter store.RegistryFilter) ([]types.AgentRecord, error) {
	var out []types.AgentRecord
	for _, a := range f.agents {
		if filter.Status != "" && string(a.Status) != filter.Status {
			continue
		}
		if filter.Capability != "" && !containsString(a.Capabilities, filter.Capability) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) ListKBs(ctx context.Context, filter store.RegistryFilter) ([]types.KBRecord, error) {
	var out []types.KBRecord
	for _, kb := range f.kbs {
		if filter.KBType != "" && kb.KBType != filter.KBType {
			continue
		}
		if filter.Status != "" && string(kb.Status) != filter.Status {
			continue
		}
		out = append(out, kb)
	}
	return out, nil
}

func containsString(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}

func seededStore() *fakeStore {
	return &fakeStore{
		agents: []types.AgentRecord{
			{Identity: "sales-agent-1", Status: types.StatusActive, Capabilities: []string{"sales_analysis"}},
			{Identity: "marketing-agent-2", Status: types.StatusActive, Capabilities: []string{"campaigns"}},
			{Identity: "batch-agent-3", Status: types.StatusOffline, Capabilities: []string{"batch"}},
		},
		kbs: []types.KBRecord{
			{KBID: "sales-kb-1", KBType: "postgres", Status: types.StatusActive},
			{KBID: "graph-kb-2", KBType: "neo4j", Status: types.StatusActive},
		},
	}
}

func TestQueryBothTypes(t *testing.T) {
	svc := New(seededStore())

	resp, err := svc.Query(context.Background(), &types.DirectoryQueryRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Agents, 3)
	assert.Len(t, resp.KBs, 2)
	assert.Equal(t, 5, resp.TotalCount)
	assert.Equal(t, defaultLimit, resp.FiltersApplied["limit"])
}

func TestQueryAgentsByStatus(t *testing.T) {
	svc := New(seededStore())

	resp, err := svc.Query(context.Background(), &types.DirectoryQueryRequest{
		Type:         "agents",
		StatusFilter: "active",
	})
	require.NoError(t, err)
	assert.Len(t, resp.Agents, 2)
	assert.Empty(t, resp.KBs)
	assert.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, "active", resp.FiltersApplied["status_filter"])
}

func TestQueryAgentsByCapability(t *testing.T) {
	svc := New(seededStore())

	resp, err := svc.Query(context.Background(), &types.DirectoryQueryRequest{
		Type:             "agents",
		CapabilityFilter: "campaigns",
	})
	require.NoError(t, err)
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, "marketing-agent-2", resp.Agents[0].Identity)
}

func TestQueryKBsByType(t *testing.T) {
	svc := New(seededStore())

	resp, err := svc.Query(context.Background(), &types.DirectoryQueryRequest{
		Type:         "kbs",
		KBTypeFilter: "neo4j",
	})
	require.NoError(t, err)
	require.Len(t, resp.KBs, 1)
	assert.Equal(t, "graph-kb-2", resp.KBs[0].KBID)
}

func TestQueryLimitZeroReturnsEmptyWithCount(t *testing.T) {
	svc := New(seededStore())

	zero := 0
	resp, err := svc.Query(context.Background(), &types.DirectoryQueryRequest{
		Type:  "agents",
		Limit: &zero,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Agents)
	assert.Equal(t, 3, resp.TotalCount)
}

func TestQueryLimitTruncates(t *testing.T) {
	svc := New(seededStore())

	one := 1
	resp, err := svc.Query(context.Background(), &types.DirectoryQueryRequest{
		Type:  "agents",
		Limit: &one,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Agents, 1)
	assert.Equal(t, 3, resp.TotalCount)
}

func TestQueryUnknownTypeRejected(t *testing.T) {
	svc := New(seededStore())

	_, err := svc.Query(context.Background(), &types.DirectoryQueryRequest{Type: "widgets"})
	require.Error(t, err)
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}
