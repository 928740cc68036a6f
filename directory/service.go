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

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/store"
)

// defaultLimit applies when a directory query names no limit
const defaultLimit = 100

// Store is the read surface the directory serves from
type Store interface {
	ListAgents(ctx context.Context, f store.RegistryFilter) ([]types.AgentRecord, error)
	ListKBs(ctx context.Context, f store.RegistryFilter) ([]types.KBRecord, error)
}

// Service is the read-only, filterable view over the registry served on
// mesh.directory.query
type Service struct {
	store  Store
	logger *logger.Logger
}

// New creates the directory service
func New(st Store) *Service {
	return &Service{store: st, logger: logger.New("directory")}
}

// Query serves a filtered registry view. total_count reflects the filter
// result before the advisory limit is applied.
func (s *Service) Query(ctx context.Context, req *types.DirectoryQueryRequest) (*types.DirectoryQueryResponse, error) {
	limit := defaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	applied := map[string]interface{}{"limit": limit}
	if req.Type != "" {
		applied["type"] = req.Type
	}
	if req.CapabilityFilter != "" {
		applied["capability_filter"] = req.CapabilityFilter
	}
	if req.KBTypeFilter != "" {
		applied["kb_type_filter"] = req.KBTypeFilter
	}
	if req.StatusFilter != "" {
		applied["status_filter"] = req.StatusFilter
	}

	resp := &types.DirectoryQueryResponse{FiltersApplied: applied}

	wantAgents := req.Type == "" || req.Type == "agents"
	wantKBs := req.Type == "" || req.Type == "kbs"
	if !wantAgents && !wantKBs {
		return nil, types.NewMeshError(types.CodeValidation,
			"type must be 'agents' or 'kbs'", nil)
	}

	if wantAgents {
		agents, err := s.store.ListAgents(ctx, store.RegistryFilter{
			Capability: req.CapabilityFilter,
			Status:     req.StatusFilter,
		})
		if err != nil {
			return nil, err
		}
		resp.TotalCount += len(agents)
		resp.Agents = truncateAgents(agents, limit)
	}

	if wantKBs {
		kbs, err := s.store.ListKBs(ctx, store.RegistryFilter{
			KBType: req.KBTypeFilter,
			Status: req.StatusFilter,
		})
		if err != nil {
			return nil, err
		}
		resp.TotalCount += len(kbs)
		resp.KBs = truncateKBs(kbs, limit)
	}

	return resp, nil
}

func truncateAgents(agents []types.AgentRecord, limit int) []types.AgentRecord {
	if limit < 0 || limit >= len(agents) {
		return agents
	}
	return agents[:limit]
}

func truncateKBs(kbs []types.KBRecord, limit int) []types.KBRecord {
	if limit < 0 || limit >= len(kbs) {
		return kbs
	}
	return kbs[:limit]
}
