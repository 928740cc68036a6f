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

package enforcement

import "strings"

// MaskSentinel replaces every masked value, including numeric and boolean
// ones; callers cannot rely on a masked field's type.
const MaskSentinel = "***"

// Mask returns a structurally identical copy of value with every mapping
// key matching a rule replaced by the sentinel, at any depth. Rules are
// dot-separated field paths; matching is by leaf name, applied recursively.
// Arrays are descended element-wise and scalars returned as-is. The input
// is never mutated and unrelated fields are preserved bit-for-bit. Linear
// in the size of the payload, and idempotent.
func Mask(value interface{}, rules []string) interface{} {
	if len(rules) == 0 {
		return value
	}
	leaves := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if i := strings.LastIndex(rule, "."); i >= 0 {
			leaves[rule[i+1:]] = true
		} else {
			leaves[rule] = true
		}
	}
	return maskValue(value, leaves)
}

func maskValue(value interface{}, leaves map[string]bool) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		masked := make(map[string]interface{}, len(v))
		for key, item := range v {
			if leaves[key] {
				masked[key] = MaskSentinel
			} else {
				masked[key] = maskValue(item, leaves)
			}
		}
		return masked
	case []interface{}:
		masked := make([]interface{}, len(v))
		for i, item := range v {
			masked[i] = maskValue(item, leaves)
		}
		return masked
	default:
		return value
	}
}
