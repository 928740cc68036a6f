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

// Package policy is the client for the external policy evaluator (OPA's
// Data and Policy HTTP APIs) plus the admin surface that keeps the
// evaluator, the policies table, and the on-disk .rego mirror in step.
//
// Decision semantics are default deny, and the mesh fails closed: an
// unreachable evaluator is an error, never an allow. Decisions are not
// cached.
package policy
