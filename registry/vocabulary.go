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

package registry

import (
	"fmt"
	"sort"
	"strings"

	"agentmesh/platform/shared/types"
)

// AgentOperations is the fixed operation vocabulary for agents
var AgentOperations = []string{"publish", "query", "subscribe", "invoke", "execute"}

// kbOperations is the authoritative per-kb_type operation vocabulary. It is
// built at startup and used to reject unknown operations at registration
// time, so adapters never see an operation name they cannot dispatch.
var kbOperations = map[string][]string{
	"postgres": {"sql_query", "execute_sql", "get_schema"},
	"mysql":    {"sql_query", "execute_sql", "get_schema"},
	"neo4j":    {"cypher_query", "create_node", "create_relationship", "find_node"},
	"mongodb":  {"find", "insert", "aggregate", "get_collections"},
}

// SupportedKBTypes lists the kb_types the registry accepts, sorted
func SupportedKBTypes() []string {
	kinds := make([]string, 0, len(kbOperations))
	for k := range kbOperations {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// KBOperationsFor returns the allowed operations for a kb_type
func KBOperationsFor(kbType string) ([]string, bool) {
	ops, ok := kbOperations[kbType]
	return ops, ok
}

// validateOperations checks each requested operation against the allowed
// set and reports the allowed set back on mismatch.
func validateOperations(requested, allowed []string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, op := range allowed {
		allowedSet[op] = true
	}
	var invalid []string
	for _, op := range requested {
		if !allowedSet[op] {
			invalid = append(invalid, op)
		}
	}
	if len(invalid) > 0 {
		return types.NewMeshError(types.CodeValidation,
			fmt.Sprintf("invalid operations: %s (allowed: %s)",
				strings.Join(invalid, ", "), strings.Join(allowed, ", ")), nil)
	}
	return nil
}
