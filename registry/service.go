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

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/store"
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.\-]+)?(\+[a-zA-Z0-9.\-]+)?$`)

// Store is the persistence surface the registry needs
type Store interface {
	RegisterAgent(ctx context.Context, rec *types.AgentRecord) error
	GetAgent(ctx context.Context, identity string) (*types.AgentRecord, error)
	ListAgents(ctx context.Context, f store.RegistryFilter) ([]types.AgentRecord, error)
	UpdateAgentStatus(ctx context.Context, identity string, status types.HealthStatus) error
	UpdateAgentCapabilities(ctx context.Context, identity string, capabilities []string) error
	DeregisterAgent(ctx context.Context, identity string) error
	RegisterKB(ctx context.Context, rec *types.KBRecord) error
	GetKB(ctx context.Context, kbID string) (*types.KBRecord, error)
	ListKBs(ctx context.Context, f store.RegistryFilter) ([]types.KBRecord, error)
	UpdateKBStatus(ctx context.Context, kbID string, status types.HealthStatus, checkedAt time.Time) error
	UpdateKBOperations(ctx context.Context, kbID string, operations []string) error
	DeregisterKB(ctx context.Context, kbID string) error
}

// Publisher publishes directory update notifications
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// AuditSink appends audit events
type AuditSink interface {
	Append(ctx context.Context, ev *types.AuditEvent) error
}

// Service is the authoritative catalog of agents and knowledge bases. Every
// accepted registration appends an audit event before the reply, and a
// directory update is published once the row is committed; a failed publish
// is logged but never rolls the row back (late subscribers resync via
// mesh.directory.query).
type Service struct {
	store       Store
	bus         Publisher
	audit       AuditSink
	agentProber AgentProber
	kbProber    KBProber
	logger      *logger.Logger
	now         func() time.Time
}

// New creates the registry service. agentProber and kbProber may be nil,
// in which case registrations start offline until the health monitor
// promotes them.
func New(st Store, bus Publisher, auditSink AuditSink, agentProber AgentProber, kbProber KBProber) *Service {
	return &Service{
		store:       st,
		bus:         bus,
		audit:       auditSink,
		agentProber: agentProber,
		kbProber:    kbProber,
		logger:      logger.New("registry"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ============================================
// AGENTS
// ============================================

// RegisterAgent validates, probes, and commits a new agent registration
func (s *Service) RegisterAgent(ctx context.Context, req *types.AgentRegistrationRequest) (*types.AgentRegistrationResponse, error) {
	if err := s.validateAgentRegistration(req); err != nil {
		return nil, err
	}

	status := types.StatusOffline
	if s.agentProber != nil {
		status = s.agentProber(ctx, req.HealthEndpoint)
	}

	rec := &types.AgentRecord{
		AgentID:        uuid.NewString(),
		Identity:       req.Identity,
		Version:        req.Version,
		Capabilities:   req.Capabilities,
		Operations:     req.Operations,
		Schemas:        req.Schemas,
		HealthEndpoint: req.HealthEndpoint,
		Status:         status,
		RegisteredAt:   s.now(),
		Metadata:       req.Metadata,
	}

	if err := s.store.RegisterAgent(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.audit.Append(ctx, &types.AuditEvent{
		EventType: types.EventRegister,
		SourceID:  rec.Identity,
		Outcome:   types.OutcomeSuccess,
		RequestMetadata: map[string]interface{}{
			"agent_id":     rec.AgentID,
			"version":      rec.Version,
			"capabilities": rec.Capabilities,
			"operations":   rec.Operations,
		},
	}); err != nil {
		return nil, err
	}

	s.publishUpdate(ctx, "agent_registered", map[string]interface{}{
		"agent_id":     rec.AgentID,
		"identity":     rec.Identity,
		"version":      rec.Version,
		"capabilities": rec.Capabilities,
		"operations":   rec.Operations,
		"status":       rec.Status,
	})

	s.logger.Info("", "agent registered", map[string]interface{}{
		"identity": rec.Identity,
		"agent_id": rec.AgentID,
		"status":   rec.Status,
	})

	return &types.AgentRegistrationResponse{
		AgentID:      rec.AgentID,
		Identity:     rec.Identity,
		Version:      rec.Version,
		Status:       rec.Status,
		RegisteredAt: rec.RegisteredAt,
	}, nil
}

func (s *Service) validateAgentRegistration(req *types.AgentRegistrationRequest) error {
	if req.Identity == "" {
		return types.NewMeshError(types.CodeValidation,
			"identity cannot be empty; provide a unique identifier like 'sales-agent-1'", nil)
	}
	if !semverPattern.MatchString(req.Version) {
		return types.NewMeshError(types.CodeValidation,
			fmt.Sprintf("invalid semantic version '%s'; use a format like '1.0.0'", req.Version), nil)
	}
	if len(req.Capabilities) == 0 {
		return types.NewMeshError(types.CodeValidation, "capabilities list cannot be empty", nil)
	}
	if len(req.Operations) == 0 {
		return types.NewMeshError(types.CodeValidation, "operations list cannot be empty", nil)
	}
	if err := validateOperations(req.Operations, AgentOperations); err != nil {
		return err
	}
	u, err := url.Parse(req.HealthEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.NewMeshError(types.CodeValidation,
			fmt.Sprintf("invalid health endpoint '%s'; use a format like 'http://localhost:8001/health'", req.HealthEndpoint), nil)
	}
	return nil
}

// GetAgent returns a registered agent by identity
func (s *Service) GetAgent(ctx context.Context, identity string) (*types.AgentRecord, error) {
	rec, err := s.store.GetAgent(ctx, identity)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("agent '%s' not found in registry", identity), nil)
	}
	return rec, nil
}

// ListAgents returns agents matching the filter
func (s *Service) ListAgents(ctx context.Context, f store.RegistryFilter) ([]types.AgentRecord, error) {
	return s.store.ListAgents(ctx, f)
}

// UpdateAgentStatus changes an agent's status and publishes the change
func (s *Service) UpdateAgentStatus(ctx context.Context, identity string, status types.HealthStatus) error {
	if err := s.store.UpdateAgentStatus(ctx, identity, status); err != nil {
		return err
	}
	s.publishUpdate(ctx, "status_changed", map[string]interface{}{
		"identity":    identity,
		"entity_type": "agent",
		"status":      status,
	})
	return nil
}

// UpdateAgentCapabilities replaces an agent's capability set and broadcasts
// the update
func (s *Service) UpdateAgentCapabilities(ctx context.Context, identity string, capabilities []string) error {
	existing, err := s.GetAgent(ctx, identity)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAgentCapabilities(ctx, identity, capabilities); err != nil {
		return err
	}
	s.publishUpdate(ctx, "agent_capability_updated", map[string]interface{}{
		"identity":         identity,
		"version":          existing.Version,
		"old_capabilities": existing.Capabilities,
		"capabilities":     capabilities,
	})
	return nil
}

// DeregisterAgent removes an agent from the registry
func (s *Service) DeregisterAgent(ctx context.Context, identity string) error {
	if _, err := s.GetAgent(ctx, identity); err != nil {
		return err
	}
	if err := s.store.DeregisterAgent(ctx, identity); err != nil {
		return err
	}
	s.publishUpdate(ctx, "agent_deregistered", map[string]interface{}{"identity": identity})
	s.logger.Info("", "agent deregistered", map[string]interface{}{"identity": identity})
	return nil
}

// ============================================
// KNOWLEDGE BASES
// ============================================

// RegisterKB validates, probes connectivity, and commits a new KB
// registration. A failed handshake does not reject the registration; the KB
// starts offline with the probe latency recorded on the record.
func (s *Service) RegisterKB(ctx context.Context, req *types.KBRegistrationRequest) (*types.KBRegistrationResponse, error) {
	if err := s.validateKBRegistration(req); err != nil {
		return nil, err
	}

	status := types.StatusOffline
	var probeErr error
	meta := req.Metadata
	if meta == nil {
		meta = make(map[string]interface{})
	}
	if s.kbProber != nil {
		var latency time.Duration
		status, latency, probeErr = s.kbProber(ctx, req.KBType, req.Endpoint, req.Credentials)
		meta["probe_latency_ms"] = float64(latency.Milliseconds())
	}

	rec := &types.KBRecord{
		KBID:         req.KBID,
		KBType:       req.KBType,
		Endpoint:     req.Endpoint,
		Operations:   req.Operations,
		Schema:       req.Schema,
		Credentials:  req.Credentials,
		Status:       status,
		RegisteredAt: s.now(),
		Metadata:     meta,
	}

	if err := s.store.RegisterKB(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.audit.Append(ctx, &types.AuditEvent{
		EventType: types.EventRegister,
		SourceID:  "system",
		TargetID:  rec.KBID,
		Outcome:   types.OutcomeSuccess,
		RequestMetadata: map[string]interface{}{
			"kb_type":    rec.KBType,
			"operations": rec.Operations,
			"status":     rec.Status,
		},
	}); err != nil {
		return nil, err
	}

	// Credentials are omitted from the broadcast.
	s.publishUpdate(ctx, "kb_registered", map[string]interface{}{
		"kb_id":      rec.KBID,
		"kb_type":    rec.KBType,
		"operations": rec.Operations,
		"status":     rec.Status,
	})

	message := "KB registered successfully"
	if probeErr != nil {
		message = fmt.Sprintf("KB registered successfully (warning: connectivity check failed: %v)", probeErr)
	}

	s.logger.Info("", "kb registered", map[string]interface{}{
		"kb_id":   rec.KBID,
		"kb_type": rec.KBType,
		"status":  rec.Status,
	})

	return &types.KBRegistrationResponse{
		KBID:         rec.KBID,
		KBType:       rec.KBType,
		Status:       rec.Status,
		RegisteredAt: rec.RegisteredAt,
		Message:      message,
	}, nil
}

func (s *Service) validateKBRegistration(req *types.KBRegistrationRequest) error {
	if req.KBID == "" {
		return types.NewMeshError(types.CodeValidation, "kb_id cannot be empty", nil)
	}
	allowed, ok := KBOperationsFor(req.KBType)
	if !ok {
		return types.NewMeshError(types.CodeValidation,
			fmt.Sprintf("unsupported kb_type '%s' (supported: %v)", req.KBType, SupportedKBTypes()), nil)
	}
	if len(req.Operations) == 0 {
		return types.NewMeshError(types.CodeValidation, "operations list cannot be empty", nil)
	}
	if err := validateOperations(req.Operations, allowed); err != nil {
		return err
	}
	if _, err := url.Parse(req.Endpoint); err != nil || req.Endpoint == "" {
		return types.NewMeshError(types.CodeValidation,
			fmt.Sprintf("invalid endpoint '%s'; expected a driver URI", req.Endpoint), nil)
	}
	return nil
}

// GetKB returns a registered KB by id
func (s *Service) GetKB(ctx context.Context, kbID string) (*types.KBRecord, error) {
	rec, err := s.store.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("KB %s not found in registry", kbID), nil)
	}
	return rec, nil
}

// ListKBs returns KBs matching the filter
func (s *Service) ListKBs(ctx context.Context, f store.RegistryFilter) ([]types.KBRecord, error) {
	return s.store.ListKBs(ctx, f)
}

// UpdateKBStatus changes a KB's status and publishes the change
func (s *Service) UpdateKBStatus(ctx context.Context, kbID string, status types.HealthStatus) error {
	if err := s.store.UpdateKBStatus(ctx, kbID, status, s.now()); err != nil {
		return err
	}
	s.publishUpdate(ctx, "status_changed", map[string]interface{}{
		"kb_id":       kbID,
		"entity_type": "kb",
		"status":      status,
	})
	return nil
}

// UpdateKBOperations replaces a KB's operation set after re-validation
func (s *Service) UpdateKBOperations(ctx context.Context, kbID string, operations []string) error {
	existing, err := s.GetKB(ctx, kbID)
	if err != nil {
		return err
	}
	allowed, _ := KBOperationsFor(existing.KBType)
	if err := validateOperations(operations, allowed); err != nil {
		return err
	}
	if err := s.store.UpdateKBOperations(ctx, kbID, operations); err != nil {
		return err
	}
	s.publishUpdate(ctx, "kb_operations_updated", map[string]interface{}{
		"kb_id":          kbID,
		"kb_type":        existing.KBType,
		"old_operations": existing.Operations,
		"operations":     operations,
	})
	return nil
}

// DeregisterKB removes a KB from the registry
func (s *Service) DeregisterKB(ctx context.Context, kbID string) error {
	if _, err := s.GetKB(ctx, kbID); err != nil {
		return err
	}
	if err := s.store.DeregisterKB(ctx, kbID); err != nil {
		return err
	}
	s.publishUpdate(ctx, "kb_deregistered", map[string]interface{}{"kb_id": kbID})
	s.logger.Info("", "kb deregistered", map[string]interface{}{"kb_id": kbID})
	return nil
}

// publishUpdate broadcasts a directory update after the registry commit.
// Publish failures are logged, never propagated.
func (s *Service) publishUpdate(ctx context.Context, updateType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	update := types.DirectoryUpdate{
		Type:      updateType,
		Timestamp: s.now(),
		Data:      data,
	}
	raw, err := json.Marshal(update)
	if err != nil {
		s.logger.ErrorErr("", "failed to marshal directory update", err, nil)
		return
	}
	if err := s.bus.Publish(ctx, types.SubjectDirectoryUpdate, raw); err != nil {
		s.logger.ErrorErr("", "failed to publish directory update", err,
			map[string]interface{}{"type": updateType})
	}
}
