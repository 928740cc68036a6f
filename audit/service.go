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

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/store"
)

// heavyFieldLimit caps serialized full_request/full_response payloads; larger
// values are dropped and flagged in request_metadata.
const heavyFieldLimit = 64 * 1024

// defaultQueryLimit applies when an audit query names no limit
const defaultQueryLimit = 100

// EventStore is the subset of the persistence layer the audit service needs
type EventStore interface {
	AppendAuditEvent(ctx context.Context, ev *types.AuditEvent) error
	QueryAuditEvents(ctx context.Context, f store.AuditFilter) ([]types.AuditEvent, int, error)
}

// Service writes and queries the append-only audit log. Every governed
// operation appends exactly one event before its reply is sent; if the
// append fails the operation fails.
type Service struct {
	store  EventStore
	heavy  bool
	logger *logger.Logger
	now    func() time.Time
}

// New creates the audit service. heavyLogging enables full_request and
// full_response capture on success events.
func New(st EventStore, heavyLogging bool) *Service {
	return &Service{
		store:  st,
		heavy:  heavyLogging,
		logger: logger.New("audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HeavyLogging reports whether full payload capture is enabled
func (s *Service) HeavyLogging() bool { return s.heavy }

// Append assigns id and timestamp, trims heavy fields, and writes the event.
// The write is synchronous: callers must not send their reply until Append
// returns.
func (s *Service) Append(ctx context.Context, ev *types.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	if !s.heavy {
		ev.FullRequest = nil
		ev.FullResponse = nil
	} else {
		s.trimHeavyFields(ev)
	}

	if err := s.store.AppendAuditEvent(ctx, ev); err != nil {
		s.logger.ErrorErr("", "audit append failed", err, map[string]interface{}{
			"event_type": ev.EventType,
			"source_id":  ev.SourceID,
		})
		return types.NewMeshError(types.CodeAuditFailure, "audit log write failed", err)
	}
	return nil
}

// trimHeavyFields drops oversized payloads and marks the event
func (s *Service) trimHeavyFields(ev *types.AuditEvent) {
	truncated := false
	if tooLarge(ev.FullRequest) {
		ev.FullRequest = nil
		truncated = true
	}
	if tooLarge(ev.FullResponse) {
		ev.FullResponse = nil
		truncated = true
	}
	if truncated {
		if ev.RequestMetadata == nil {
			ev.RequestMetadata = make(map[string]interface{})
		}
		ev.RequestMetadata["truncated"] = true
	}
}

func tooLarge(v interface{}) bool {
	if v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return true
	}
	return len(raw) > heavyFieldLimit
}

// Query serves mesh.audit.query with structured filters
func (s *Service) Query(ctx context.Context, req *types.AuditQueryRequest) (*types.AuditQueryResponse, error) {
	filter := store.AuditFilter{
		EventType: req.EventType,
		SourceID:  req.SourceID,
		TargetID:  req.TargetID,
		Outcome:   req.Outcome,
		Limit:     defaultQueryLimit,
	}
	if req.Limit != nil {
		filter.Limit = *req.Limit
	}

	applied := map[string]interface{}{"limit": filter.Limit}
	for k, v := range map[string]string{
		"event_type": req.EventType,
		"source_id":  req.SourceID,
		"target_id":  req.TargetID,
		"outcome":    req.Outcome,
	} {
		if v != "" {
			applied[k] = v
		}
	}

	if req.StartTime != "" {
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return nil, types.NewMeshError(types.CodeValidation,
				fmt.Sprintf("invalid start_time '%s': expected ISO-8601", req.StartTime), err)
		}
		filter.StartTime = &start
		applied["start_time"] = req.StartTime
	}
	if req.EndTime != "" {
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return nil, types.NewMeshError(types.CodeValidation,
				fmt.Sprintf("invalid end_time '%s': expected ISO-8601", req.EndTime), err)
		}
		filter.EndTime = &end
		applied["end_time"] = req.EndTime
	}

	// An inverted time range matches nothing; it is not an error.
	if filter.StartTime != nil && filter.EndTime != nil && filter.StartTime.After(*filter.EndTime) {
		return &types.AuditQueryResponse{
			AuditLogs:      []types.AuditEvent{},
			TotalCount:     0,
			FiltersApplied: applied,
		}, nil
	}

	events, total, err := s.store.QueryAuditEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &types.AuditQueryResponse{
		AuditLogs:      events,
		TotalCount:     total,
		FiltersApplied: applied,
	}, nil
}
