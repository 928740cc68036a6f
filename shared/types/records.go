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

package types

import "time"

// HealthStatus is the lifecycle status of a registered agent or KB
type HealthStatus string

const (
	StatusActive   HealthStatus = "active"
	StatusDegraded HealthStatus = "degraded"
	StatusOffline  HealthStatus = "offline"
)

// AuditEventType classifies audit log entries
type AuditEventType string

const (
	EventRegister       AuditEventType = "register"
	EventQuery          AuditEventType = "query"
	EventInvoke         AuditEventType = "invoke"
	EventPolicyDecision AuditEventType = "policy_decision"
)

// AuditOutcome is the terminal result of a governed operation
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeDenied  AuditOutcome = "denied"
	OutcomeError   AuditOutcome = "error"
)

// AgentRecord is an agent row in the registry
type AgentRecord struct {
	AgentID        string                 `json:"agent_id"`
	Identity       string                 `json:"identity"`
	Version        string                 `json:"version"`
	Capabilities   []string               `json:"capabilities"`
	Operations     []string               `json:"operations"`
	Schemas        map[string]interface{} `json:"schemas,omitempty"`
	HealthEndpoint string                 `json:"health_endpoint"`
	Status         HealthStatus           `json:"status"`
	RegisteredAt   time.Time              `json:"registered_at"`
	LastHeartbeat  *time.Time             `json:"last_heartbeat,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// KBRecord is a knowledge base row in the registry.
// Credentials are stored but never serialized back to callers.
type KBRecord struct {
	KBID            string                 `json:"kb_id"`
	KBType          string                 `json:"kb_type"`
	Endpoint        string                 `json:"endpoint"`
	Operations      []string               `json:"operations"`
	Schema          map[string]interface{} `json:"kb_schema,omitempty"`
	Credentials     map[string]string      `json:"-"`
	Status          HealthStatus           `json:"status"`
	RegisteredAt    time.Time              `json:"registered_at"`
	LastHealthCheck *time.Time             `json:"last_health_check,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyRecord is a stored policy document. Body is opaque Rego text,
// mirrored on disk as {policy_id}.rego.
type PolicyRecord struct {
	PolicyID   string                 `json:"policy_id"`
	Body       string                 `json:"body"`
	Precedence int                    `json:"precedence"`
	Active     bool                   `json:"active"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AuditEvent is one append-only audit log row. Rows are written once and
// never updated or deleted.
type AuditEvent struct {
	ID              string                 `json:"id"`
	EventType       AuditEventType         `json:"event_type"`
	SourceID        string                 `json:"source_id"`
	TargetID        string                 `json:"target_id,omitempty"`
	Outcome         AuditOutcome           `json:"outcome"`
	Timestamp       time.Time              `json:"timestamp"`
	RequestMetadata map[string]interface{} `json:"request_metadata,omitempty"`
	PolicyDecision  map[string]interface{} `json:"policy_decision,omitempty"`
	MaskedFields    []string               `json:"masked_fields,omitempty"`
	FullRequest     map[string]interface{} `json:"full_request,omitempty"`
	FullResponse    interface{}            `json:"full_response,omitempty"`
	ProvenanceChain []string               `json:"provenance_chain,omitempty"`
}

// PolicyDecision is the evaluator's verdict for a single decision input
type PolicyDecision struct {
	Allow         bool     `json:"allow"`
	MaskingRules  []string `json:"masking_rules"`
	Reason        string   `json:"reason"`
	PolicyVersion string   `json:"policy_version"`
}

// Map flattens a decision for audit storage.
func (d *PolicyDecision) Map() map[string]interface{} {
	if d == nil {
		return nil
	}
	return map[string]interface{}{
		"allow":          d.Allow,
		"masking_rules":  d.MaskingRules,
		"reason":         d.Reason,
		"policy_version": d.PolicyVersion,
	}
}

// InvocationStatus tracks the lifecycle of an agent-to-agent invocation
type InvocationStatus string

const (
	InvocationQueued     InvocationStatus = "queued"
	InvocationProcessing InvocationStatus = "processing"
	InvocationCompleted  InvocationStatus = "completed"
	InvocationError      InvocationStatus = "error"
)

// InvocationRecord is the lifecycle record for one tracked invocation
type InvocationRecord struct {
	TrackingID    string                 `json:"tracking_id"`
	SourceAgentID string                 `json:"source_agent_id"`
	TargetAgentID string                 `json:"target_agent_id"`
	Operation     string                 `json:"operation"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Status        InvocationStatus       `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Result        interface{}            `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
}
