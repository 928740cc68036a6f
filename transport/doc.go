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

// Package transport is the named-subject message bus the mesh runs on.
//
// It provides pub/sub with wildcard subscribe and synchronous request/reply
// with per-call timeouts, carried on Redis pub/sub channels. Delivery is
// at-most-once and in-order per subject; there is no cross-subject ordering
// guarantee. Replies travel on ephemeral per-request inbox channels.
package transport
