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

// Package main is the entry point for the mesh daemon.
//
// meshd runs the policy-enforcing broker: the registry, directory, request
// router, enforcement service, audit log, health monitor, and admin API,
// all in one process. Agents and adapter workers talk to it over transport
// subjects only.
//
// Usage:
//
//	./meshd
//
// Environment Variables:
//
//	MESH_CONFIG        - optional path to a YAML config file
//	MESH_TRANSPORT_URL - redis:// URL of the message bus
//	MESH_EVALUATOR_URL - base URL of the policy evaluator
//	MESH_DATABASE_DSN  - PostgreSQL connection string
//	MESH_POLICY_DIR    - directory for the .rego policy mirror
//	MESH_TOKEN_SECRET  - HMAC secret for connection and admin tokens
package main

import (
	"agentmesh/platform/mesh"
)

func main() {
	mesh.Run()
}
