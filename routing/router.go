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

package routing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/transport"
)

// Enforcer is the governance surface the router delegates to. The router
// does no policy work itself.
type Enforcer interface {
	QueryKB(ctx context.Context, req *types.KBQueryRequest) *types.KBQueryReply
	InvokeAgent(ctx context.Context, req *types.AgentInvokeRequest) *types.AgentInvokeReply
	HandleCompletion(ctx context.Context, ev *types.CompletionEvent)
	InvocationStatus(ctx context.Context, trackingID string) (*types.InvocationRecord, error)
}

// Bus is the transport surface the router listens on
type Bus interface {
	Subscribe(subject string, h transport.Handler) (transport.Subscription, error)
	Respond(ctx context.Context, msg *transport.Msg, data []byte) error
}

// Router is the thin dispatch layer on the routing subjects: it parses and
// schema-checks incoming JSON, attaches a request_id when absent, hands the
// request to the enforcement service, and serializes the reply.
type Router struct {
	bus            Bus
	enforcement    Enforcer
	requestTimeout time.Duration
	subs           []transport.Subscription
	logger         *logger.Logger
}

// New creates the request router
func New(bus Bus, enf Enforcer, requestTimeout time.Duration) *Router {
	if requestTimeout == 0 {
		requestTimeout = 5 * time.Second
	}
	return &Router{
		bus:            bus,
		enforcement:    enf,
		requestTimeout: requestTimeout,
		logger:         logger.New("routing"),
	}
}

// Start subscribes to the routing subjects
func (r *Router) Start() error {
	subjects := map[string]transport.Handler{
		types.SubjectKBQuery:      r.handleKBQuery,
		types.SubjectAgentInvoke:  r.handleAgentInvoke,
		types.SubjectCompletion:   r.handleCompletion,
		types.SubjectInvokeStatus: r.handleInvokeStatus,
	}
	for subject, handler := range subjects {
		sub, err := r.bus.Subscribe(subject, handler)
		if err != nil {
			return err
		}
		r.subs = append(r.subs, sub)
	}
	r.logger.Info("", "request router listening", map[string]interface{}{
		"subjects": []string{types.SubjectKBQuery, types.SubjectAgentInvoke,
			types.SubjectCompletion, types.SubjectInvokeStatus},
	})
	return nil
}

// Stop drops the routing subscriptions
func (r *Router) Stop() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

func (r *Router) handleKBQuery(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	var req types.KBQueryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(ctx, msg, &types.KBQueryReply{
			Status: "error",
			Code:   types.CodeValidation,
			Error:  "malformed kb_query request: " + err.Error(),
		})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.RequesterID == "" || req.KBID == "" || req.Operation == "" {
		r.respond(ctx, msg, &types.KBQueryReply{
			Status:    "error",
			Code:      types.CodeValidation,
			Error:     "requester_id, kb_id, and operation are required",
			RequestID: req.RequestID,
		})
		return
	}

	r.respond(ctx, msg, r.enforcement.QueryKB(ctx, &req))
}

func (r *Router) handleAgentInvoke(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	var req types.AgentInvokeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(ctx, msg, &types.AgentInvokeReply{
			Status: types.InvocationError,
			Code:   types.CodeValidation,
			Error:  "malformed agent_invoke request: " + err.Error(),
		})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.SourceAgentID == "" || req.TargetAgentID == "" || req.Operation == "" {
		r.respond(ctx, msg, &types.AgentInvokeReply{
			Status:    types.InvocationError,
			Code:      types.CodeValidation,
			Error:     "source_agent_id, target_agent_id, and operation are required",
			RequestID: req.RequestID,
		})
		return
	}

	r.respond(ctx, msg, r.enforcement.InvokeAgent(ctx, &req))
}

func (r *Router) handleCompletion(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	var ev types.CompletionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.logger.ErrorErr("", "malformed completion message", err, nil)
		return
	}
	r.enforcement.HandleCompletion(ctx, &ev)
}

func (r *Router) handleInvokeStatus(ctx context.Context, msg *transport.Msg) {
	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	var req struct {
		TrackingID string `json:"tracking_id"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.TrackingID == "" {
		r.respond(ctx, msg, &types.ErrorReply{
			Error: "tracking_id is required",
			Code:  types.CodeValidation,
		})
		return
	}

	rec, err := r.enforcement.InvocationStatus(ctx, req.TrackingID)
	if err != nil {
		r.respond(ctx, msg, &types.ErrorReply{Error: err.Error(), Code: types.CodeOf(err)})
		return
	}
	r.respond(ctx, msg, rec)
}

func (r *Router) respond(ctx context.Context, msg *transport.Msg, reply interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.ErrorErr("", "failed to marshal reply", err, nil)
		return
	}
	if err := r.bus.Respond(ctx, msg, data); err != nil {
		r.logger.ErrorErr("", "failed to send reply", err,
			map[string]interface{}{"subject": msg.Subject})
	}
}
