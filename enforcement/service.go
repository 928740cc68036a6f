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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentmesh/platform/policy"
	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/transport"
)

// Registry is the lookup surface the enforcement service needs. Lookups for
// missing entities return an UNKNOWN_RESOURCE mesh error.
type Registry interface {
	GetKB(ctx context.Context, kbID string) (*types.KBRecord, error)
	GetAgent(ctx context.Context, identity string) (*types.AgentRecord, error)
}

// Evaluator produces policy decisions
type Evaluator interface {
	Evaluate(ctx context.Context, input *policy.EvaluationInput) (*types.PolicyDecision, error)
}

// Dispatcher is the transport surface used for adapter and agent dispatch
type Dispatcher interface {
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)
	Publish(ctx context.Context, subject string, data []byte) error
}

// AuditSink appends audit events synchronously
type AuditSink interface {
	Append(ctx context.Context, ev *types.AuditEvent) error
	HeavyLogging() bool
}

// Hooks are optional instrumentation callbacks
type Hooks struct {
	// DispatchSeconds observes adapter request/reply latency
	DispatchSeconds func(float64)
	// MaskedFields observes how many field paths a reply masked
	MaskedFields func(int)
	// Reply observes the terminal outcome of a governed request
	Reply func(subject, outcome string)
}

func (h Hooks) reply(subject, outcome string) {
	if h.Reply != nil {
		h.Reply(subject, outcome)
	}
}

// Config tunes the enforcement service
type Config struct {
	// DispatchTimeout bounds adapter request/reply; KBs may override it via
	// the dispatch_timeout_ms metadata key
	DispatchTimeout time.Duration
	Hooks           Hooks
}

// Service is the governance core: it authorizes every request against the
// policy evaluator, dispatches authorized work over transport, applies
// field-level masking to responses, and appends an audit event before any
// reply leaves. Denied requests never reach an adapter.
type Service struct {
	registry    Registry
	evaluator   Evaluator
	bus         Dispatcher
	audit       AuditSink
	invocations *invocationTracker
	cfg         Config
	logger      *logger.Logger
	now         func() time.Time
}

// InvocationStore persists invocation lifecycle records
type InvocationStore interface {
	InsertInvocation(ctx context.Context, rec *types.InvocationRecord) error
	UpdateInvocation(ctx context.Context, trackingID string, status types.InvocationStatus, completedAt *time.Time, result interface{}, errMsg string) error
	GetInvocation(ctx context.Context, trackingID string) (*types.InvocationRecord, error)
}

// New creates the enforcement service
func New(reg Registry, eval Evaluator, bus Dispatcher, auditSink AuditSink, invStore InvocationStore, cfg Config) *Service {
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Service{
		registry:    reg,
		evaluator:   eval,
		bus:         bus,
		audit:       auditSink,
		invocations: newInvocationTracker(invStore),
		cfg:         cfg,
		logger:      logger.New("enforcement"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ============================================
// GOVERNED KB QUERY
// ============================================

// QueryKB runs the full governance flow for one KB query: registry lookup,
// policy evaluation, adapter dispatch, masking, audit. The reply is always
// non-nil; failures are encoded in its status.
func (s *Service) QueryKB(ctx context.Context, req *types.KBQueryRequest) *types.KBQueryReply {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	start := s.now()

	kb, err := s.registry.GetKB(ctx, req.KBID)
	if err != nil {
		msg := fmt.Sprintf("KB %s not found in registry", req.KBID)
		if types.CodeOf(err) != types.CodeUnknownResource {
			msg = err.Error()
		}
		return s.queryError(ctx, req, types.CodeOf(err), msg, nil)
	}

	decision, err := s.evaluator.Evaluate(ctx, &policy.EvaluationInput{
		PrincipalType: "agent",
		PrincipalID:   req.RequesterID,
		ResourceType:  "kb",
		ResourceID:    req.KBID,
		Action:        req.Operation,
		Context:       map[string]interface{}{"kb_type": kb.KBType},
	})
	if err != nil {
		return s.queryError(ctx, req, types.CodeEvaluatorUnavailable,
			"policy evaluation failed: "+err.Error(), nil)
	}

	if !decision.Allow {
		reason := decision.Reason
		if reason == "" {
			reason = "access denied by policy"
		}
		if err := s.audit.Append(ctx, &types.AuditEvent{
			EventType:      types.EventQuery,
			SourceID:       req.RequesterID,
			TargetID:       req.KBID,
			Outcome:        types.OutcomeDenied,
			PolicyDecision: decision.Map(),
			RequestMetadata: map[string]interface{}{
				"operation":  req.Operation,
				"request_id": req.RequestID,
				"reason":     reason,
			},
		}); err != nil {
			return s.auditFailureReply(req.RequestID, err)
		}
		s.logger.Warn(req.RequestID, "kb query denied", map[string]interface{}{
			"requester": req.RequesterID,
			"kb_id":     req.KBID,
			"reason":    reason,
		})
		s.cfg.Hooks.reply(types.SubjectKBQuery, "denied")
		return &types.KBQueryReply{
			Status:    "denied",
			Code:      types.CodeDenied,
			Reason:    reason,
			RequestID: req.RequestID,
		}
	}

	// Authorized: dispatch to the adapter worker. Denied requests never get
	// this far (I4).
	body, err := json.Marshal(types.AdapterRequest{Operation: req.Operation, Params: req.Params})
	if err != nil {
		return s.queryError(ctx, req, types.CodeValidation, "invalid params: "+err.Error(), decision)
	}

	dispatchStart := s.now()
	raw, err := s.bus.Request(ctx, types.AdapterSubject(req.KBID), body, s.dispatchTimeout(kb))
	if s.cfg.Hooks.DispatchSeconds != nil {
		s.cfg.Hooks.DispatchSeconds(s.now().Sub(dispatchStart).Seconds())
	}
	if err != nil {
		msg := "adapter dispatch failed: " + err.Error()
		if errors.Is(err, transport.ErrTimeout) {
			msg = "timeout"
		}
		return s.queryError(ctx, req, types.CodeAdapterError, msg, decision)
	}

	var adapterResp types.AdapterResponse
	if err := json.Unmarshal(raw, &adapterResp); err != nil {
		return s.queryError(ctx, req, types.CodeAdapterError, "malformed adapter reply: "+err.Error(), decision)
	}
	if adapterResp.Status != "success" {
		return s.queryError(ctx, req, types.CodeAdapterError, adapterResp.Error, decision)
	}

	masked := Mask(adapterResp.Data, decision.MaskingRules)

	ev := &types.AuditEvent{
		EventType:      types.EventQuery,
		SourceID:       req.RequesterID,
		TargetID:       req.KBID,
		Outcome:        types.OutcomeSuccess,
		PolicyDecision: decision.Map(),
		MaskedFields:   decision.MaskingRules,
		RequestMetadata: map[string]interface{}{
			"operation":  req.Operation,
			"request_id": req.RequestID,
			"latency_ms": float64(s.now().Sub(start).Milliseconds()),
		},
	}
	if s.audit.HeavyLogging() {
		ev.FullRequest = map[string]interface{}{
			"operation": req.Operation,
			"params":    req.Params,
		}
		// cleartext never reaches the audit store
		ev.FullResponse = masked
	}
	if err := s.audit.Append(ctx, ev); err != nil {
		return s.auditFailureReply(req.RequestID, err)
	}

	if s.cfg.Hooks.MaskedFields != nil && len(decision.MaskingRules) > 0 {
		s.cfg.Hooks.MaskedFields(len(decision.MaskingRules))
	}
	s.cfg.Hooks.reply(types.SubjectKBQuery, "success")
	return &types.KBQueryReply{
		Status:    "success",
		Data:      masked,
		RequestID: req.RequestID,
		Audit: &types.ReplyAudit{
			FieldsMasked:  decision.MaskingRules,
			PolicyVersion: decision.PolicyVersion,
			Timestamp:     s.now(),
		},
	}
}

func (s *Service) dispatchTimeout(kb *types.KBRecord) time.Duration {
	if kb.Metadata != nil {
		if ms, ok := kb.Metadata["dispatch_timeout_ms"].(float64); ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return s.cfg.DispatchTimeout
}

// queryError audits the failure and encodes it in the reply. Workers are
// never fabricated data on error paths.
func (s *Service) queryError(ctx context.Context, req *types.KBQueryRequest, code, message string, decision *types.PolicyDecision) *types.KBQueryReply {
	meta := map[string]interface{}{
		"operation":  req.Operation,
		"request_id": req.RequestID,
		"error":      message,
	}
	ev := &types.AuditEvent{
		EventType:       types.EventQuery,
		SourceID:        req.RequesterID,
		TargetID:        req.KBID,
		Outcome:         types.OutcomeError,
		RequestMetadata: meta,
	}
	if decision != nil {
		ev.PolicyDecision = decision.Map()
	}
	if err := s.audit.Append(ctx, ev); err != nil {
		return s.auditFailureReply(req.RequestID, err)
	}
	s.logger.ErrorErr(req.RequestID, "kb query failed", errors.New(message), map[string]interface{}{
		"requester": req.RequesterID,
		"kb_id":     req.KBID,
		"code":      code,
	})
	s.cfg.Hooks.reply(types.SubjectKBQuery, "error")
	return &types.KBQueryReply{
		Status:    "error",
		Error:     message,
		Code:      code,
		RequestID: req.RequestID,
	}
}

// auditFailureReply converts a failed audit write into an error reply; a
// governed reply never leaves without its audit row.
func (s *Service) auditFailureReply(requestID string, err error) *types.KBQueryReply {
	s.logger.ErrorErr(requestID, "audit write failed, converting reply to error", err, nil)
	return &types.KBQueryReply{
		Status:    "error",
		Error:     "audit log write failed",
		Code:      types.CodeAuditFailure,
		RequestID: requestID,
	}
}

// ============================================
// GOVERNED AGENT INVOCATION
// ============================================

// InvokeAgent authorizes and dispatches an agent-to-agent invocation. On
// allow it assigns a tracking id, persists the queued lifecycle record,
// forwards the payload on the target's private subject, and acknowledges;
// terminal state is published on mesh.routing.completion.
func (s *Service) InvokeAgent(ctx context.Context, req *types.AgentInvokeRequest) *types.AgentInvokeReply {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	decision, err := s.evaluator.Evaluate(ctx, &policy.EvaluationInput{
		PrincipalType: "agent",
		PrincipalID:   req.SourceAgentID,
		ResourceType:  "agent",
		ResourceID:    req.TargetAgentID,
		Action:        "invoke",
		Context:       map[string]interface{}{"operation": req.Operation},
	})
	if err != nil {
		return s.invokeError(ctx, req, types.CodeEvaluatorUnavailable, "policy evaluation failed: "+err.Error())
	}

	if !decision.Allow {
		reason := decision.Reason
		if reason == "" {
			reason = "invocation denied by policy"
		}
		if err := s.audit.Append(ctx, &types.AuditEvent{
			EventType:      types.EventInvoke,
			SourceID:       req.SourceAgentID,
			TargetID:       req.TargetAgentID,
			Outcome:        types.OutcomeDenied,
			PolicyDecision: decision.Map(),
			RequestMetadata: map[string]interface{}{
				"operation":  req.Operation,
				"request_id": req.RequestID,
				"reason":     reason,
			},
		}); err != nil {
			return &types.AgentInvokeReply{Status: types.InvocationError, Error: "audit log write failed", Code: types.CodeAuditFailure, RequestID: req.RequestID}
		}
		s.cfg.Hooks.reply(types.SubjectAgentInvoke, "denied")
		return &types.AgentInvokeReply{
			Status:    types.InvocationError,
			Code:      types.CodeDenied,
			Reason:    reason,
			RequestID: req.RequestID,
		}
	}

	target, err := s.registry.GetAgent(ctx, req.TargetAgentID)
	if err != nil {
		return s.invokeError(ctx, req, types.CodeUnknownResource,
			fmt.Sprintf("target agent %s not found in registry", req.TargetAgentID))
	}

	rec := &types.InvocationRecord{
		TrackingID:    uuid.NewString(),
		SourceAgentID: req.SourceAgentID,
		TargetAgentID: req.TargetAgentID,
		Operation:     req.Operation,
		Payload:       req.Payload,
		Status:        types.InvocationQueued,
		StartedAt:     s.now(),
	}
	if err := s.invocations.register(ctx, rec); err != nil {
		return s.invokeError(ctx, req, types.CodeAdapterError, "failed to persist invocation: "+err.Error())
	}

	if err := s.audit.Append(ctx, &types.AuditEvent{
		EventType:      types.EventInvoke,
		SourceID:       req.SourceAgentID,
		TargetID:       req.TargetAgentID,
		Outcome:        types.OutcomeSuccess,
		PolicyDecision: decision.Map(),
		RequestMetadata: map[string]interface{}{
			"operation":     req.Operation,
			"request_id":    req.RequestID,
			"tracking_id":   rec.TrackingID,
			"authorization": "granted",
			"status":        string(types.InvocationQueued),
		},
	}); err != nil {
		return &types.AgentInvokeReply{Status: types.InvocationError, Error: "audit log write failed", Code: types.CodeAuditFailure, RequestID: req.RequestID}
	}

	dispatch, _ := json.Marshal(map[string]interface{}{
		"tracking_id": rec.TrackingID,
		"source":      req.SourceAgentID,
		"operation":   req.Operation,
		"payload":     req.Payload,
	})
	if err := s.bus.Publish(ctx, types.AgentSubject(target.AgentID), dispatch); err != nil {
		s.failInvocation(ctx, rec.TrackingID, "dispatch failed: "+err.Error())
		return &types.AgentInvokeReply{
			TrackingID: rec.TrackingID,
			Status:     types.InvocationError,
			Error:      "dispatch failed: " + err.Error(),
			Code:       types.CodeAdapterError,
			RequestID:  req.RequestID,
		}
	}

	s.logger.Info(req.RequestID, "invocation dispatched", map[string]interface{}{
		"source":      req.SourceAgentID,
		"target":      req.TargetAgentID,
		"tracking_id": rec.TrackingID,
	})
	s.cfg.Hooks.reply(types.SubjectAgentInvoke, "success")
	return &types.AgentInvokeReply{
		TrackingID: rec.TrackingID,
		Status:     types.InvocationQueued,
		RequestID:  req.RequestID,
	}
}

func (s *Service) invokeError(ctx context.Context, req *types.AgentInvokeRequest, code, message string) *types.AgentInvokeReply {
	if err := s.audit.Append(ctx, &types.AuditEvent{
		EventType: types.EventInvoke,
		SourceID:  req.SourceAgentID,
		TargetID:  req.TargetAgentID,
		Outcome:   types.OutcomeError,
		RequestMetadata: map[string]interface{}{
			"operation":  req.Operation,
			"request_id": req.RequestID,
			"error":      message,
		},
	}); err != nil {
		return &types.AgentInvokeReply{Status: types.InvocationError, Error: "audit log write failed", Code: types.CodeAuditFailure, RequestID: req.RequestID}
	}
	s.cfg.Hooks.reply(types.SubjectAgentInvoke, "error")
	return &types.AgentInvokeReply{
		Status:    types.InvocationError,
		Error:     message,
		Code:      code,
		RequestID: req.RequestID,
	}
}

// HandleCompletion advances an invocation's lifecycle from a completion
// message. Terminal transitions append an audit event and are re-published
// (normalized) on mesh.routing.completion plus the source agent's private
// subject. Already-terminal invocations are left untouched, which also
// makes redelivery safe.
func (s *Service) HandleCompletion(ctx context.Context, ev *types.CompletionEvent) {
	if ev.TrackingID == "" {
		s.logger.Warn("", "completion message missing tracking_id", nil)
		return
	}

	rec := s.invocations.get(ctx, ev.TrackingID)
	if rec == nil {
		s.logger.Warn("", "completion for unknown tracking_id", map[string]interface{}{
			"tracking_id": ev.TrackingID,
		})
		return
	}
	if rec.Status == types.InvocationCompleted || rec.Status == types.InvocationError {
		return
	}

	switch ev.Status {
	case "ack":
		s.invocations.transition(ctx, ev.TrackingID, types.InvocationProcessing, nil, nil, "")
		s.appendTransitionAudit(ctx, rec, types.InvocationProcessing, "")
		return
	case "complete", "completed":
		now := s.now()
		s.invocations.transition(ctx, ev.TrackingID, types.InvocationCompleted, &now, ev.Result, "")
		s.appendTransitionAudit(ctx, rec, types.InvocationCompleted, "")
		s.publishTerminal(ctx, rec, types.InvocationCompleted, ev.Result, "")
	default:
		now := s.now()
		s.invocations.transition(ctx, ev.TrackingID, types.InvocationError, &now, nil, ev.Error)
		s.appendTransitionAudit(ctx, rec, types.InvocationError, ev.Error)
		s.publishTerminal(ctx, rec, types.InvocationError, nil, ev.Error)
	}
}

func (s *Service) failInvocation(ctx context.Context, trackingID, reason string) {
	now := s.now()
	rec := s.invocations.get(ctx, trackingID)
	s.invocations.transition(ctx, trackingID, types.InvocationError, &now, nil, reason)
	if rec != nil {
		s.appendTransitionAudit(ctx, rec, types.InvocationError, reason)
		s.publishTerminal(ctx, rec, types.InvocationError, nil, reason)
	}
}

func (s *Service) appendTransitionAudit(ctx context.Context, rec *types.InvocationRecord, status types.InvocationStatus, errMsg string) {
	outcome := types.OutcomeSuccess
	if status == types.InvocationError {
		outcome = types.OutcomeError
	}
	meta := map[string]interface{}{
		"operation":   rec.Operation,
		"tracking_id": rec.TrackingID,
		"status":      string(status),
	}
	if errMsg != "" {
		meta["error"] = errMsg
	}
	if err := s.audit.Append(ctx, &types.AuditEvent{
		EventType:       types.EventInvoke,
		SourceID:        rec.SourceAgentID,
		TargetID:        rec.TargetAgentID,
		Outcome:         outcome,
		RequestMetadata: meta,
	}); err != nil {
		s.logger.ErrorErr("", "failed to audit invocation transition", err,
			map[string]interface{}{"tracking_id": rec.TrackingID})
	}
}

func (s *Service) publishTerminal(ctx context.Context, rec *types.InvocationRecord, status types.InvocationStatus, result interface{}, errMsg string) {
	event, _ := json.Marshal(types.CompletionEvent{
		TrackingID: rec.TrackingID,
		Status:     string(status),
		Result:     result,
		Error:      errMsg,
	})
	if err := s.bus.Publish(ctx, types.SubjectCompletion, event); err != nil {
		s.logger.ErrorErr("", "failed to publish completion", err,
			map[string]interface{}{"tracking_id": rec.TrackingID})
	}

	notification, _ := json.Marshal(map[string]interface{}{
		"type":        "invocation_complete",
		"tracking_id": rec.TrackingID,
		"status":      string(status),
		"result":      result,
		"error":       errMsg,
	})
	if err := s.bus.Publish(ctx, types.AgentSubject(rec.SourceAgentID), notification); err != nil {
		s.logger.ErrorErr("", "failed to notify source agent", err,
			map[string]interface{}{"tracking_id": rec.TrackingID})
	}
}

// InvocationStatus returns the lifecycle record for a tracking id, or an
// UNKNOWN_RESOURCE error
func (s *Service) InvocationStatus(ctx context.Context, trackingID string) (*types.InvocationRecord, error) {
	rec := s.invocations.get(ctx, trackingID)
	if rec == nil {
		return nil, types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("invocation '%s' not found", trackingID), nil)
	}
	return rec, nil
}
