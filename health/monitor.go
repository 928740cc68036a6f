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
	"net/http"
	"sync"
	"time"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/store"
)

// Registry is the surface the monitor updates. Status updates publish
// status_changed directory events downstream.
type Registry interface {
	ListAgents(ctx context.Context, f store.RegistryFilter) ([]types.AgentRecord, error)
	ListKBs(ctx context.Context, f store.RegistryFilter) ([]types.KBRecord, error)
	UpdateAgentStatus(ctx context.Context, identity string, status types.HealthStatus) error
	UpdateKBStatus(ctx context.Context, kbID string, status types.HealthStatus) error
}

// AuditSink appends audit events for status transitions
type AuditSink interface {
	Append(ctx context.Context, ev *types.AuditEvent) error
}

// AgentProbe checks one agent's health endpoint; a nil error means healthy
type AgentProbe func(ctx context.Context, endpoint string) error

// KBProbe checks one KB's backing driver; a nil error means healthy
type KBProbe func(ctx context.Context, kb *types.KBRecord) error

// Config tunes the monitor
type Config struct {
	Interval time.Duration // probe period (default 30s)
	// FailureThreshold is the number of consecutive failed probes per
	// downgrade step: active -> degraded -> offline
	FailureThreshold int
	ProbeTimeout     time.Duration
}

// Monitor periodically probes every registered agent and KB and walks their
// status through active -> degraded -> offline on consecutive failures; a
// single successful probe restores active.
type Monitor struct {
	registry   Registry
	audit      AuditSink
	agentProbe AgentProbe
	kbProbes   map[string]KBProbe
	cfg        Config
	logger     *logger.Logger

	mu       sync.Mutex
	failures map[string]int
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a health monitor. kbProbes maps kb_type to its driver probe;
// kb_types without a probe keep their last recorded status.
func New(reg Registry, auditSink AuditSink, agentProbe AgentProbe, kbProbes map[string]KBProbe, cfg Config) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if agentProbe == nil {
		agentProbe = HTTPAgentProbe(nil)
	}
	return &Monitor{
		registry:   reg,
		audit:      auditSink,
		agentProbe: agentProbe,
		kbProbes:   kbProbes,
		cfg:        cfg,
		logger:     logger.New("health"),
		failures:   make(map[string]int),
	}
}

// Start launches the background probe loop
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
	m.logger.Info("", "health monitoring started", map[string]interface{}{
		"interval_s": m.cfg.Interval.Seconds(),
		"threshold":  m.cfg.FailureThreshold,
	})
}

// Stop halts the probe loop
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// CheckAll probes every registered agent and KB once
func (m *Monitor) CheckAll(ctx context.Context) {
	agents, err := m.registry.ListAgents(ctx, store.RegistryFilter{})
	if err != nil {
		m.logger.ErrorErr("", "failed to list agents for health check", err, nil)
	}
	for i := range agents {
		m.checkAgent(ctx, &agents[i])
	}

	kbs, err := m.registry.ListKBs(ctx, store.RegistryFilter{})
	if err != nil {
		m.logger.ErrorErr("", "failed to list kbs for health check", err, nil)
	}
	for i := range kbs {
		m.checkKB(ctx, &kbs[i])
	}
}

func (m *Monitor) checkAgent(ctx context.Context, agent *types.AgentRecord) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.agentProbe(probeCtx, agent.HealthEndpoint)
	cancel()

	next, changed := m.nextStatus("agent/"+agent.Identity, agent.Status, err == nil)
	if !changed {
		return
	}
	if updateErr := m.registry.UpdateAgentStatus(ctx, agent.Identity, next); updateErr != nil {
		m.logger.ErrorErr("", "failed to update agent status", updateErr,
			map[string]interface{}{"identity": agent.Identity})
		return
	}
	m.auditTransition(ctx, agent.Identity, "agent", agent.Status, next, err)
}

func (m *Monitor) checkKB(ctx context.Context, kb *types.KBRecord) {
	probe, ok := m.kbProbes[kb.KBType]
	if !ok {
		m.logger.Debug("", "no driver probe for kb_type, keeping last status",
			map[string]interface{}{"kb_id": kb.KBID, "kb_type": kb.KBType})
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := probe(probeCtx, kb)
	cancel()

	next, changed := m.nextStatus("kb/"+kb.KBID, kb.Status, err == nil)
	if !changed {
		return
	}
	if updateErr := m.registry.UpdateKBStatus(ctx, kb.KBID, next); updateErr != nil {
		m.logger.ErrorErr("", "failed to update kb status", updateErr,
			map[string]interface{}{"kb_id": kb.KBID})
		return
	}
	m.auditTransition(ctx, kb.KBID, "kb", kb.Status, next, err)
}

// nextStatus applies the transition rules against the rolling failure
// window. One successful probe restores active; each run of
// FailureThreshold consecutive failures downgrades one step.
func (m *Monitor) nextStatus(key string, current types.HealthStatus, healthy bool) (types.HealthStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if healthy {
		m.failures[key] = 0
		if current != types.StatusActive {
			return types.StatusActive, true
		}
		return current, false
	}

	m.failures[key]++
	if m.failures[key] < m.cfg.FailureThreshold {
		return current, false
	}
	m.failures[key] = 0

	switch current {
	case types.StatusActive:
		return types.StatusDegraded, true
	case types.StatusDegraded:
		return types.StatusOffline, true
	default:
		return current, false
	}
}

func (m *Monitor) auditTransition(ctx context.Context, id, entityType string, from, to types.HealthStatus, probeErr error) {
	meta := map[string]interface{}{
		"action":      "status_changed",
		"entity_type": entityType,
		"from":        string(from),
		"to":          string(to),
	}
	if probeErr != nil {
		meta["probe_error"] = probeErr.Error()
	}
	if err := m.audit.Append(ctx, &types.AuditEvent{
		EventType:       types.EventRegister,
		SourceID:        "health-monitor",
		TargetID:        id,
		Outcome:         types.OutcomeSuccess,
		RequestMetadata: meta,
	}); err != nil {
		m.logger.ErrorErr("", "failed to audit status transition", err,
			map[string]interface{}{"id": id})
	}
	m.logger.Info("", "status transition", map[string]interface{}{
		"id": id, "from": string(from), "to": string(to),
	})
}

// Summary aggregates health counts for mesh.health
func (m *Monitor) Summary(ctx context.Context) map[string]interface{} {
	counts := func(statuses []types.HealthStatus) map[string]int {
		out := map[string]int{"total": 0, "active": 0, "degraded": 0, "offline": 0}
		for _, s := range statuses {
			out["total"]++
			out[string(s)]++
		}
		return out
	}

	agents, _ := m.registry.ListAgents(ctx, store.RegistryFilter{})
	agentStatuses := make([]types.HealthStatus, len(agents))
	for i, a := range agents {
		agentStatuses[i] = a.Status
	}

	kbs, _ := m.registry.ListKBs(ctx, store.RegistryFilter{})
	kbStatuses := make([]types.HealthStatus, len(kbs))
	for i, kb := range kbs {
		kbStatuses[i] = kb.Status
	}

	return map[string]interface{}{
		"agents": counts(agentStatuses),
		"kbs":    counts(kbStatuses),
	}
}

// HTTPAgentProbe probes an agent health endpoint with a GET
func HTTPAgentProbe(client *http.Client) AgentProbe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context, endpoint string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return &ProbeError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		}
		return nil
	}
}

// ProbeError reports a non-200 health endpoint response
type ProbeError struct {
	Endpoint   string
	StatusCode int
}

func (e *ProbeError) Error() string {
	return "health probe of " + e.Endpoint + " returned non-200 status"
}
