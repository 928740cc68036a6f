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
	"fmt"
	"net/http"
	"time"

	"agentmesh/platform/audit"
	"agentmesh/platform/config"
	"agentmesh/platform/connection"
	"agentmesh/platform/directory"
	"agentmesh/platform/enforcement"
	"agentmesh/platform/health"
	"agentmesh/platform/policy"
	"agentmesh/platform/registry"
	"agentmesh/platform/routing"
	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/store"
	"agentmesh/platform/transport"
)

// Service runs the whole mesh in one process: persistence, transport
// subscriptions, policy client, registry, directory, enforcement, router,
// health monitor, and the admin HTTP server. Agents connect over transport
// subjects only and have zero knowledge of the internals.
type Service struct {
	cfg *config.Config

	store        *store.Store
	bus          *transport.RedisBus
	policyClient *policy.Client
	policyAdmin  *policy.Admin
	audit        *audit.Service
	registry     *registry.Service
	directory    *directory.Service
	enforcement  *enforcement.Service
	router       *routing.Router
	monitor      *health.Monitor
	connections  *connection.Service
	metrics      *Metrics

	subs       []transport.Subscription
	httpServer *http.Server
	logger     *logger.Logger
}

// New creates an unstarted mesh service
func New(cfg *config.Config) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger.New("mesh"),
	}
}

// Start brings up every component. On failure the partially-started
// service is torn down.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("", "starting mesh service", nil)

	st, err := store.Open(s.cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("mesh: store: %w", err)
	}
	s.store = st
	if err := s.store.Migrate(); err != nil {
		s.Stop(ctx)
		return fmt.Errorf("mesh: migrations: %w", err)
	}

	bus, err := transport.Connect(s.cfg.TransportURL)
	if err != nil {
		s.Stop(ctx)
		return fmt.Errorf("mesh: transport: %w", err)
	}
	s.bus = bus

	s.policyClient = policy.NewClient(s.cfg.EvaluatorURL, s.cfg.PolicyDir, s.cfg.RequestTimeout)
	s.policyAdmin = policy.NewAdmin(s.policyClient, s.store)
	s.audit = audit.New(s.store, s.cfg.HeavyAuditLogging)
	s.metrics = NewMetrics()
	s.connections = connection.New(s.cfg.TokenSecret)

	kbProbes := health.DefaultKBProbes()
	s.registry = registry.New(s.store, s.bus, s.audit,
		registry.HTTPAgentProber(nil), registrationProber(kbProbes))
	s.directory = directory.New(s.store)

	s.enforcement = enforcement.New(s.registry, s.policyClient, s.bus, s.audit, s.store,
		enforcement.Config{
			DispatchTimeout: s.cfg.DispatchTimeout,
			Hooks: enforcement.Hooks{
				DispatchSeconds: s.metrics.DispatchLatency.Observe,
				MaskedFields: func(n int) {
					s.metrics.MaskedFields.Add(float64(n))
				},
				Reply: s.metrics.ObserveReply,
			},
		})

	s.monitor = health.New(s.registry, s.audit, nil, kbProbes, health.Config{
		Interval:         s.cfg.HealthInterval,
		FailureThreshold: s.cfg.HealthFailureThreshold,
	})

	s.router = routing.New(s.bus, s.enforcement, s.cfg.RequestTimeout)
	if err := s.router.Start(); err != nil {
		s.Stop(ctx)
		return fmt.Errorf("mesh: router: %w", err)
	}

	if err := s.subscribeSubjects(); err != nil {
		s.Stop(ctx)
		return fmt.Errorf("mesh: subscriptions: %w", err)
	}

	s.monitor.Start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.AdminAddr,
		Handler:           s.newAdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.ErrorErr("", "admin server failed", err, nil)
		}
	}()

	s.logger.Info("", "mesh service ready", map[string]interface{}{
		"subjects": []string{
			types.SubjectAgentRegister, types.SubjectKBRegister,
			types.SubjectDirectoryQuery, types.SubjectAuditQuery,
			types.SubjectKBQuery, types.SubjectAgentInvoke,
			types.SubjectHealth, types.SubjectConnect,
		},
		"admin_addr": s.cfg.AdminAddr,
	})
	return nil
}

// Stop tears the service down in reverse dependency order
func (s *Service) Stop(ctx context.Context) {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	if s.router != nil {
		s.router.Stop()
	}
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	s.logger.Info("", "mesh service stopped", nil)
}

// registrationProber adapts the health probe set into the registry's
// one-shot connectivity handshake, measuring probe latency.
func registrationProber(probes map[string]health.KBProbe) registry.KBProber {
	return func(ctx context.Context, kbType, endpoint string, credentials map[string]string) (types.HealthStatus, time.Duration, error) {
		probe, ok := probes[kbType]
		if !ok {
			return types.StatusOffline, 0, fmt.Errorf("no driver probe for kb_type '%s'", kbType)
		}
		start := time.Now()
		err := probe(ctx, &types.KBRecord{
			KBType:      kbType,
			Endpoint:    endpoint,
			Credentials: credentials,
		})
		latency := time.Since(start)
		if err != nil {
			return types.StatusOffline, latency, err
		}
		return types.StatusActive, latency, nil
	}
}
