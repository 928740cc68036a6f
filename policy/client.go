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

package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
)

// ErrEvaluatorUnavailable marks decisions that could not be obtained. The
// mesh fails closed: callers surface it as outcome=error, never as allow.
var ErrEvaluatorUnavailable = errors.New("policy: evaluator unavailable")

// decisionPackage is the OPA package whose decision rule the mesh queries
const decisionPackage = "agentmesh/decision"

// EvaluationInput is the decision input sent to the evaluator
type EvaluationInput struct {
	PrincipalType string                 `json:"principal_type"`
	PrincipalID   string                 `json:"principal_id"`
	ResourceType  string                 `json:"resource_type"`
	ResourceID    string                 `json:"resource_id"`
	Action        string                 `json:"action"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

// Client talks to an external OPA-compatible policy evaluator over HTTP and
// mirrors uploaded policy documents to a local directory.
type Client struct {
	baseURL    string
	httpClient *http.Client
	mirrorDir  string
	logger     *logger.Logger
}

// NewClient creates a policy evaluator client. mirrorDir receives
// {policy_id}.rego files for uploads with persist=true.
func NewClient(baseURL, mirrorDir string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		mirrorDir:  mirrorDir,
		logger:     logger.New("policy"),
	}
}

// Evaluate asks the evaluator for a decision. Default deny: a missing or
// empty result document is a deny, and any transport failure is
// ErrEvaluatorUnavailable, never an allow.
func (c *Client) Evaluate(ctx context.Context, input *EvaluationInput) (*types.PolicyDecision, error) {
	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("policy: marshal input: %w", err)
	}

	url := c.baseURL + "/v1/data/" + decisionPackage
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("policy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: evaluator returned HTTP %d", ErrEvaluatorUnavailable, resp.StatusCode)
	}

	var wrapper struct {
		Result *types.PolicyDecision `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("%w: invalid decision document: %v", ErrEvaluatorUnavailable, err)
	}

	decision := wrapper.Result
	if decision == nil {
		decision = &types.PolicyDecision{Allow: false, Reason: "no decision document (default deny)"}
	}
	if decision.MaskingRules == nil {
		decision.MaskingRules = []string{}
	}

	c.logger.Debug("", "policy decision", map[string]interface{}{
		"principal": input.PrincipalID,
		"resource":  input.ResourceID,
		"action":    input.Action,
		"allow":     decision.Allow,
	})
	return decision, nil
}

// Healthy reports whether the evaluator answers its health endpoint
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Upload stores a policy document in the evaluator and, when persist is
// set, mirrors it to disk as {policy_id}.rego. The disk write is serialized
// with the evaluator write; a failed mirror does not roll back the upload.
func (c *Client) Upload(ctx context.Context, policyID, body string, persist bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/v1/policies/"+policyID, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("policy: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("policy: upload of '%s' rejected: HTTP %d: %s",
			policyID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	c.logger.Info("", "policy uploaded to evaluator", map[string]interface{}{"policy_id": policyID})

	if !persist {
		return "", nil
	}

	if err := os.MkdirAll(c.mirrorDir, 0o755); err != nil {
		c.logger.ErrorErr("", "failed to create policy mirror directory", err, nil)
		return "", nil
	}
	path := filepath.Join(c.mirrorDir, policyID+".rego")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		c.logger.ErrorErr("", "failed to mirror policy to disk", err,
			map[string]interface{}{"policy_id": policyID})
		return "", nil
	}
	return path, nil
}

// Delete removes a policy from the evaluator and its disk mirror
func (c *Client) Delete(ctx context.Context, policyID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/policies/"+policyID, nil)
	if err != nil {
		return fmt.Errorf("policy: build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("policy '%s' not found", policyID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("policy: delete of '%s' failed: HTTP %d", policyID, resp.StatusCode)
	}

	path := filepath.Join(c.mirrorDir, policyID+".rego")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.ErrorErr("", "failed to remove policy mirror file", err,
			map[string]interface{}{"policy_id": policyID})
	}
	return nil
}

// List returns the ids of all policies loaded in the evaluator
func (c *Client) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/policies", nil)
	if err != nil {
		return nil, fmt.Errorf("policy: build list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy: list failed: HTTP %d", resp.StatusCode)
	}

	var wrapper struct {
		Result []struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("policy: invalid list document: %w", err)
	}

	ids := make([]string, 0, len(wrapper.Result))
	for _, p := range wrapper.Result {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// GetContent returns the raw Rego text of one loaded policy
func (c *Client) GetContent(ctx context.Context, policyID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/policies/"+policyID, nil)
	if err != nil {
		return "", fmt.Errorf("policy: build get request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("policy '%s' not found", policyID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("policy: get of '%s' failed: HTTP %d", policyID, resp.StatusCode)
	}

	var wrapper struct {
		Result struct {
			Raw string `json:"raw"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return "", fmt.Errorf("policy: invalid policy document: %w", err)
	}
	return wrapper.Result.Raw, nil
}
