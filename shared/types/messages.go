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

// Mesh subjects. Agents and workers only ever see these names; the
// transport maps them onto channels one-to-one.
const (
	SubjectAgentRegister   = "mesh.registry.agent.register"
	SubjectKBRegister      = "mesh.registry.kb.register"
	SubjectDirectoryQuery  = "mesh.directory.query"
	SubjectDirectoryUpdate = "mesh.directory.updates"
	SubjectAuditQuery      = "mesh.audit.query"
	SubjectHealth          = "mesh.health"
	SubjectConnect         = "mesh.connect"
	SubjectKBQuery         = "mesh.routing.kb_query"
	SubjectAgentInvoke     = "mesh.routing.agent_invoke"
	SubjectCompletion      = "mesh.routing.completion"
	SubjectInvokeStatus    = "mesh.routing.status"
)

// AdapterSubject is the request/reply subject an adapter worker serves for
// one KB.
func AdapterSubject(kbID string) string { return kbID + ".adapter.query" }

// AgentSubject is the private request subject for a connected agent.
func AgentSubject(agentID string) string { return "agent." + agentID }

// AgentRegistrationRequest arrives on mesh.registry.agent.register
type AgentRegistrationRequest struct {
	Identity       string                 `json:"identity"`
	Version        string                 `json:"version"`
	Capabilities   []string               `json:"capabilities"`
	Operations     []string               `json:"operations"`
	HealthEndpoint string                 `json:"health_endpoint"`
	Schemas        map[string]interface{} `json:"schemas,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AgentRegistrationResponse is the reply for a successful registration
type AgentRegistrationResponse struct {
	AgentID      string       `json:"agent_id"`
	Identity     string       `json:"identity"`
	Version      string       `json:"version"`
	Status       HealthStatus `json:"status"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// KBRegistrationRequest arrives on mesh.registry.kb.register
type KBRegistrationRequest struct {
	KBID        string                 `json:"kb_id"`
	KBType      string                 `json:"kb_type"`
	Endpoint    string                 `json:"endpoint"`
	Operations  []string               `json:"operations"`
	Schema      map[string]interface{} `json:"kb_schema,omitempty"`
	Credentials map[string]string      `json:"credentials,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// KBRegistrationResponse is the reply for a successful KB registration
type KBRegistrationResponse struct {
	KBID         string       `json:"kb_id"`
	KBType       string       `json:"kb_type"`
	Status       HealthStatus `json:"status"`
	RegisteredAt time.Time    `json:"registered_at"`
	Message      string       `json:"message,omitempty"`
}

// DirectoryQueryRequest filters the registry view served on
// mesh.directory.query
type DirectoryQueryRequest struct {
	Type             string `json:"type,omitempty"` // "agents", "kbs", or empty for both
	CapabilityFilter string `json:"capability_filter,omitempty"`
	KBTypeFilter     string `json:"kb_type_filter,omitempty"`
	StatusFilter     string `json:"status_filter,omitempty"`
	Limit            *int   `json:"limit,omitempty"`
}

// DirectoryQueryResponse carries the filtered registry view
type DirectoryQueryResponse struct {
	Agents         []AgentRecord          `json:"agents,omitempty"`
	KBs            []KBRecord             `json:"kbs,omitempty"`
	TotalCount     int                    `json:"total_count"`
	FiltersApplied map[string]interface{} `json:"filters_applied"`
}

// DirectoryUpdate is published on mesh.directory.updates after a registry
// commit
type DirectoryUpdate struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// KBQueryRequest arrives on mesh.routing.kb_query
type KBQueryRequest struct {
	RequesterID string                 `json:"requester_id"`
	KBID        string                 `json:"kb_id"`
	Operation   string                 `json:"operation"`
	Params      map[string]interface{} `json:"params,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
}

// ReplyAudit is the audit trailer attached to governed replies
type ReplyAudit struct {
	FieldsMasked  []string  `json:"fields_masked"`
	PolicyVersion string    `json:"policy_version,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// KBQueryReply is the governed reply for a KB query
type KBQueryReply struct {
	Status    string      `json:"status"` // success, denied, error
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Audit     *ReplyAudit `json:"audit,omitempty"`
}

// AgentInvokeRequest arrives on mesh.routing.agent_invoke
type AgentInvokeRequest struct {
	SourceAgentID string                 `json:"source_agent_id"`
	TargetAgentID string                 `json:"target_agent_id"`
	Operation     string                 `json:"operation"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// AgentInvokeReply acknowledges an invocation; terminal state arrives on
// mesh.routing.completion
type AgentInvokeReply struct {
	TrackingID string           `json:"tracking_id,omitempty"`
	Status     InvocationStatus `json:"status,omitempty"`
	Error      string           `json:"error,omitempty"`
	Code       string           `json:"code,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	RequestID  string           `json:"request_id,omitempty"`
}

// CompletionEvent is published by target agents (and re-published by the
// mesh) on mesh.routing.completion when an invocation reaches a terminal
// state
type CompletionEvent struct {
	TrackingID string      `json:"tracking_id"`
	Status     string      `json:"status"` // "ack", "complete" (re-published as "completed"), or "error"
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// AdapterRequest is the body dispatched to {kb_id}.adapter.query
type AdapterRequest struct {
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// AdapterResponse is the adapter worker's raw reply
type AdapterResponse struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// AuditQueryRequest arrives on mesh.audit.query
type AuditQueryRequest struct {
	EventType string `json:"event_type,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	StartTime string `json:"start_time,omitempty"` // ISO-8601
	EndTime   string `json:"end_time,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// AuditQueryResponse carries matching audit rows
type AuditQueryResponse struct {
	AuditLogs      []AuditEvent           `json:"audit_logs"`
	TotalCount     int                    `json:"total_count"`
	FiltersApplied map[string]interface{} `json:"filters_applied"`
}

// ConnectRequest arrives on mesh.connect
type ConnectRequest struct {
	Token    string                 `json:"token"`
	Endpoint string                 `json:"endpoint,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ConnectResponse assigns the agent its private subject
type ConnectResponse struct {
	AgentID        string    `json:"agent_id"`
	PrivateSubject string    `json:"private_subject"`
	GlobalSubjects []string  `json:"global_subjects"`
	ConnectedAt    time.Time `json:"connected_at"`
}

// HealthReply answers mesh.health
type HealthReply struct {
	Status     string                 `json:"status"` // "healthy" or "degraded"
	Components map[string]bool        `json:"components"`
	Summary    map[string]interface{} `json:"summary,omitempty"`
}

// ErrorReply is the generic error shape for request/reply subjects that
// have no richer reply type
type ErrorReply struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
