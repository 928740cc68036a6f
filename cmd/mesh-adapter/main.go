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

// Package main runs one adapter worker: it owns a single KB's driver and
// serves {kb_id}.adapter.query on the mesh transport. Workers know nothing
// about policies.
//
// Environment Variables:
//
//	MESH_TRANSPORT_URL - redis:// URL of the message bus
//	ADAPTER_KB_ID      - the KB this worker fronts
//	ADAPTER_KB_TYPE    - postgres, mysql, or mongodb
//	ADAPTER_ENDPOINT   - driver connection string
//	ADAPTER_DATABASE   - database name (mongodb only)
//	ADAPTER_USERNAME / ADAPTER_PASSWORD - optional driver credentials
//	ADAPTER_TIMEOUT    - per-operation hard timeout (default 30s)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentmesh/platform/adapters/base"
	"agentmesh/platform/adapters/mongodb"
	"agentmesh/platform/adapters/mysql"
	"agentmesh/platform/adapters/postgres"
	"agentmesh/platform/shared/logger"
	"agentmesh/platform/transport"
)

func main() {
	log := logger.New("mesh-adapter")

	kbID := os.Getenv("ADAPTER_KB_ID")
	kbType := os.Getenv("ADAPTER_KB_TYPE")
	endpoint := os.Getenv("ADAPTER_ENDPOINT")
	if kbID == "" || kbType == "" || endpoint == "" {
		log.Error("", "ADAPTER_KB_ID, ADAPTER_KB_TYPE, and ADAPTER_ENDPOINT are required", nil)
		os.Exit(1)
	}

	var backend base.Backend
	switch kbType {
	case "postgres":
		backend = postgres.New()
	case "mysql":
		backend = mysql.New()
	case "mongodb":
		backend = mongodb.New(os.Getenv("ADAPTER_DATABASE"))
	default:
		log.Error("", "unsupported kb_type", map[string]interface{}{"kb_type": kbType})
		os.Exit(1)
	}

	timeout := 30 * time.Second
	if raw := os.Getenv("ADAPTER_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}

	credentials := map[string]string{}
	if u := os.Getenv("ADAPTER_USERNAME"); u != "" {
		credentials["username"] = u
		credentials["password"] = os.Getenv("ADAPTER_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := backend.Connect(ctx, endpoint, credentials); err != nil {
		cancel()
		log.ErrorErr("", "failed to connect backend", err, nil)
		os.Exit(1)
	}
	cancel()

	transportURL := os.Getenv("MESH_TRANSPORT_URL")
	if transportURL == "" {
		transportURL = "redis://localhost:6379/0"
	}
	bus, err := transport.Connect(transportURL)
	if err != nil {
		log.ErrorErr("", "failed to connect transport", err, nil)
		os.Exit(1)
	}

	worker := base.NewWorker(kbID, backend, bus, timeout)
	if err := worker.Start(); err != nil {
		log.ErrorErr("", "failed to start worker", err, nil)
		os.Exit(1)
	}

	log.Info("", "adapter worker running", map[string]interface{}{
		"kb_id":   kbID,
		"kb_type": kbType,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = worker.Stop(shutdownCtx)
	_ = bus.Close()
}
