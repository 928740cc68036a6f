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

// Package store is the PostgreSQL persistence layer: registry rows for
// agents and knowledge bases, policy documents, the append-only audit log,
// and invocation lifecycle records. Schema versions are applied through
// embedded migrations tracked in schema_migrations.
//
// Uniqueness of agent identities and kb_ids is enforced by row-level
// constraints; a violated constraint surfaces as a DUPLICATE mesh error.
package store
