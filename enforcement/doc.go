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

// Package enforcement is the governance core of the mesh. Every governed
// request is authorized against the policy evaluator, dispatched to its
// adapter or target agent over transport, masked field-by-field, and
// audited before the reply is sent. A denied request never reaches an
// adapter, and a failed audit write fails the request.
package enforcement
