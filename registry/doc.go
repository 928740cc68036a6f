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

// Package registry is the authoritative catalog of agents and knowledge
// bases. It validates registrations against per-type operation
// vocabularies, enforces identity/kb_id uniqueness through the store's row
// constraints, runs registration-time health probes, and publishes
// directory updates on mesh.directory.updates once a row is committed.
package registry
