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
	"os"
	"os/signal"
	"syscall"

	"agentmesh/platform/config"
	"agentmesh/platform/shared/logger"
)

// Run loads configuration, starts the mesh service, and blocks until
// SIGINT/SIGTERM. It is the entry point used by cmd/meshd.
func Run() {
	log := logger.New("meshd")

	cfg, err := config.Load(os.Getenv("MESH_CONFIG"))
	if err != nil {
		log.ErrorErr("", "failed to load configuration", err, nil)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := New(cfg)
	if err := svc.Start(ctx); err != nil {
		log.ErrorErr("", "failed to start mesh service", err, nil)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("", "shutdown signal received", nil)
	svc.Stop(ctx)
}
