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
	"context"
	"net/http"
	"time"

	"agentmesh/platform/shared/types"
)

// AgentProber checks an agent's health endpoint at registration time
type AgentProber func(ctx context.Context, healthEndpoint string) types.HealthStatus

// KBProber performs the one-shot driver handshake for a KB registration.
// Returns the resulting status, the probe latency, and any handshake error;
// a failed probe does not reject the registration.
type KBProber func(ctx context.Context, kbType, endpoint string, credentials map[string]string) (types.HealthStatus, time.Duration, error)

// HTTPAgentProber probes a health endpoint with a GET and a 5s deadline
func HTTPAgentProber(client *http.Client) AgentProber {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context, healthEndpoint string) types.HealthStatus {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthEndpoint, nil)
		if err != nil {
			return types.StatusOffline
		}
		resp, err := client.Do(req)
		if err != nil {
			return types.StatusOffline
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusOK {
			return types.StatusActive
		}
		return types.StatusOffline
	}
}
