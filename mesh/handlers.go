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

package mesh

import (
	"context"
	"encoding/json"

	"agentmesh/platform/shared/types"
	"agentmesh/platform/transport"
)

// subscribeSubjects wires the registry, directory, audit, health, and
// connection subjects. Routing subjects are owned by the request router.
func (s *Service) subscribeSubjects() error {
	handlers := map[string]transport.Handler{
		types.SubjectAgentRegister:  s.handleAgentRegister,
		types.SubjectKBRegister:     s.handleKBRegister,
		types.SubjectDirectoryQuery: s.handleDirectoryQuery,
		types.SubjectAuditQuery:     s.handleAuditQuery,
		types.SubjectHealth:         s.handleHealth,
		types.SubjectConnect:        s.handleConnect,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Subscribe(subject, handler)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) handleAgentRegister(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var req types.AgentRegistrationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(ctx, msg, types.NewMeshError(types.CodeValidation,
			"malformed registration request: "+err.Error(), nil))
		return
	}

	resp, err := s.registry.RegisterAgent(ctx, &req)
	if err != nil {
		s.metrics.ObserveReply(msg.Subject, "error")
		s.respondError(ctx, msg, err)
		return
	}
	s.metrics.ObserveReply(msg.Subject, "success")
	s.respond(ctx, msg, resp)
}

func (s *Service) handleKBRegister(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var req types.KBRegistrationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(ctx, msg, types.NewMeshError(types.CodeValidation,
			"malformed registration request: "+err.Error(), nil))
		return
	}

	resp, err := s.registry.RegisterKB(ctx, &req)
	if err != nil {
		s.metrics.ObserveReply(msg.Subject, "error")
		s.respondError(ctx, msg, err)
		return
	}
	s.metrics.ObserveReply(msg.Subject, "success")
	s.respond(ctx, msg, resp)
}

func (s *Service) handleDirectoryQuery(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var req types.DirectoryQueryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(ctx, msg, types.NewMeshError(types.CodeValidation,
			"malformed directory query: "+err.Error(), nil))
		return
	}

	resp, err := s.directory.Query(ctx, &req)
	if err != nil {
		s.metrics.ObserveReply(msg.Subject, "error")
		s.respondError(ctx, msg, err)
		return
	}
	s.metrics.ObserveReply(msg.Subject, "success")
	s.respond(ctx, msg, resp)
}

func (s *Service) handleAuditQuery(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var req types.AuditQueryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(ctx, msg, types.NewMeshError(types.CodeValidation,
			"malformed audit query: "+err.Error(), nil))
		return
	}

	resp, err := s.audit.Query(ctx, &req)
	if err != nil {
		s.metrics.ObserveReply(msg.Subject, "error")
		s.respondError(ctx, msg, err)
		return
	}
	s.metrics.ObserveReply(msg.Subject, "success")
	s.respond(ctx, msg, resp)
}

func (s *Service) handleHealth(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	components := map[string]bool{
		"store":     s.store.Ping(ctx) == nil,
		"evaluator": s.policyClient.Healthy(ctx),
		"transport": true,
		"router":    s.router != nil,
	}
	status := "healthy"
	for _, ok := range components {
		if !ok {
			status = "degraded"
			break
		}
	}

	s.respond(ctx, msg, &types.HealthReply{
		Status:     status,
		Components: components,
		Summary:    s.monitor.Summary(ctx),
	})
}

func (s *Service) handleConnect(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var req types.ConnectRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondError(ctx, msg, types.NewMeshError(types.CodeValidation,
			"malformed connect request: "+err.Error(), nil))
		return
	}

	resp, err := s.connections.Connect(ctx, &req)
	if err != nil {
		s.respondError(ctx, msg, err)
		return
	}
	s.respond(ctx, msg, resp)
}

func (s *Service) respond(ctx context.Context, msg *transport.Msg, reply interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.ErrorErr("", "failed to marshal reply", err, nil)
		return
	}
	if err := s.bus.Respond(ctx, msg, data); err != nil {
		s.logger.ErrorErr("", "failed to send reply", err,
			map[string]interface{}{"subject": msg.Subject})
	}
}

func (s *Service) respondError(ctx context.Context, msg *transport.Msg, err error) {
	s.respond(ctx, msg, &types.ErrorReply{
		Error: err.Error(),
		Code:  types.CodeOf(err),
	})
}
