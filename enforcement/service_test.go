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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/platform/policy"
	"agentmesh/platform/shared/types"
	"agentmesh/platform/transport"
)

// fakeRegistry implements Registry
type fakeRegistry struct {
	kbs    map[string]*types.KBRecord
	agents map[string]*types.AgentRecord
}

func (f *fakeRegistry) GetKB(ctx context.Context, kbID string) (*types.KBRecord, error) {
	if kb, ok := f.kbs[kbID]; ok {
		return kb, nil
	}
	return nil, types.NewMeshError(types.CodeUnknownResource,
		fmt.Sprintf("KB %s not found in registry", kbID), nil)
}

func (f *fakeRegistry) GetAgent(ctx context.Context, identity string) (*types.AgentRecord, error) {
	if a, ok := f.agents[identity]; ok {
		return a, nil
	}
	return nil, types.NewMeshError(types.CodeUnknownResource,
		fmt.Sprintf("agent '%s' not found in registry", identity), nil)
}

// fakeEvaluator implements Evaluator
type fakeEvaluator struct {
	decision *types.PolicyDecision
	err      error
	inputs   []*policy.EvaluationInput
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, input *policy.EvaluationInput) (*types.PolicyDecision, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

// fakeDispatcher implements Dispatcher
type fakeDispatcher struct {
	mu         sync.Mutex
	requests   []string // subjects requested
	published  map[string][][]byte
	replyData  []byte
	requestErr error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{published: make(map[string][][]byte)}
}

func (f *fakeDispatcher) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, subject)
	f.mu.Unlock()
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return f.replyData, nil
}

func (f *fakeDispatcher) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[subject] = append(f.published[subject], data)
	return nil
}

// recordingAudit implements AuditSink
type recordingAudit struct {
	mu     sync.Mutex
	events []*types.AuditEvent
	err    error
	heavy  bool
}

func (r *recordingAudit) Append(ctx context.Context, ev *types.AuditEvent) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingAudit) HeavyLogging() bool { return r.heavy }

// fakeInvStore implements InvocationStore in memory
type fakeInvStore struct {
	mu   sync.Mutex
	recs map[string]*types.InvocationRecord
}

func newFakeInvStore() *fakeInvStore {
	return &fakeInvStore{recs: make(map[string]*types.InvocationRecord)}
}

func (f *fakeInvStore) InsertInvocation(ctx context.Context, rec *types.InvocationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *rec
	f.recs[rec.TrackingID] = &copied
	return nil
}

func (f *fakeInvStore) UpdateInvocation(ctx context.Context, trackingID string, status types.InvocationStatus, completedAt *time.Time, result interface{}, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recs[trackingID]; ok {
		rec.Status = status
		rec.CompletedAt = completedAt
		rec.Result = result
		rec.Error = errMsg
	}
	return nil
}

func (f *fakeInvStore) GetInvocation(ctx context.Context, trackingID string) (*types.InvocationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recs[trackingID]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

type fixture struct {
	svc   *Service
	reg   *fakeRegistry
	eval  *fakeEvaluator
	bus   *fakeDispatcher
	audit *recordingAudit
}

func newFixture() *fixture {
	reg := &fakeRegistry{
		kbs: map[string]*types.KBRecord{
			"sales-kb-1": {KBID: "sales-kb-1", KBType: "postgres", Status: types.StatusActive},
		},
		agents: map[string]*types.AgentRecord{
			"data-agent-3": {AgentID: "aid-3", Identity: "data-agent-3", Status: types.StatusActive},
		},
	}
	eval := &fakeEvaluator{decision: &types.PolicyDecision{Allow: true, MaskingRules: []string{}}}
	bus := newFakeDispatcher()
	sink := &recordingAudit{}
	svc := New(reg, eval, bus, sink, newFakeInvStore(), Config{DispatchTimeout: time.Second})
	return &fixture{svc: svc, reg: reg, eval: eval, bus: bus, audit: sink}
}

func kbQuery() *types.KBQueryRequest {
	return &types.KBQueryRequest{
		RequesterID: "marketing-agent-2",
		KBID:        "sales-kb-1",
		Operation:   "sql_query",
		Params:      map[string]interface{}{"query": "SELECT name, customer_email FROM customers"},
	}
}

func TestQueryKBSuccessAppliesMasking(t *testing.T) {
	f := newFixture()
	f.eval.decision = &types.PolicyDecision{
		Allow:         true,
		MaskingRules:  []string{"customer_email", "customer_phone"},
		Reason:        "marketing read access",
		PolicyVersion: "v3",
	}
	f.bus.replyData = []byte(`{"status":"success","data":{"rows":[
		{"name":"Acme","customer_email":"ceo@acme.com","customer_phone":"+1-555-0123"},
		{"name":"Globex","customer_email":"cfo@globex.com","customer_phone":"+1-555-0456"}
	]}}`)

	reply := f.svc.QueryKB(context.Background(), kbQuery())

	require.Equal(t, "success", reply.Status)
	rows := reply.Data.(map[string]interface{})["rows"].([]interface{})
	for _, row := range rows {
		m := row.(map[string]interface{})
		assert.Equal(t, MaskSentinel, m["customer_email"])
		assert.Equal(t, MaskSentinel, m["customer_phone"])
		assert.NotEqual(t, MaskSentinel, m["name"])
	}

	require.NotNil(t, reply.Audit)
	assert.Equal(t, []string{"customer_email", "customer_phone"}, reply.Audit.FieldsMasked)
	assert.Equal(t, "v3", reply.Audit.PolicyVersion)

	// exactly one audit row, with masked_fields equal to the decision's rules
	require.Len(t, f.audit.events, 1)
	ev := f.audit.events[0]
	assert.Equal(t, types.EventQuery, ev.EventType)
	assert.Equal(t, types.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, "marketing-agent-2", ev.SourceID)
	assert.Equal(t, "sales-kb-1", ev.TargetID)
	assert.Equal(t, []string{"customer_email", "customer_phone"}, ev.MaskedFields)
}

func TestQueryKBDeniedNeverReachesAdapter(t *testing.T) {
	f := newFixture()
	f.eval.decision = &types.PolicyDecision{Allow: false, Reason: "writes are not permitted"}

	reply := f.svc.QueryKB(context.Background(), &types.KBQueryRequest{
		RequesterID: "marketing-agent-2",
		KBID:        "sales-kb-1",
		Operation:   "execute_sql",
		Params:      map[string]interface{}{"sql": "UPDATE customers SET tier='gold'"},
	})

	assert.Equal(t, "denied", reply.Status)
	assert.Equal(t, "writes are not permitted", reply.Reason)
	// no message was sent on the adapter subject
	assert.Empty(t, f.bus.requests)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, types.OutcomeDenied, f.audit.events[0].Outcome)
}

func TestQueryKBUnknownKB(t *testing.T) {
	f := newFixture()

	reply := f.svc.QueryKB(context.Background(), &types.KBQueryRequest{
		RequesterID: "marketing-agent-2",
		KBID:        "nonexistent-kb-999",
		Operation:   "sql_query",
	})

	assert.Equal(t, "error", reply.Status)
	assert.Equal(t, "KB nonexistent-kb-999 not found in registry", reply.Error)
	// registry miss short-circuits before the evaluator
	assert.Empty(t, f.eval.inputs)
	assert.Empty(t, f.bus.requests)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, types.OutcomeError, f.audit.events[0].Outcome)
}

func TestQueryKBEvaluatorUnavailableFailsClosed(t *testing.T) {
	f := newFixture()
	f.eval.err = fmt.Errorf("%w: connection refused", policy.ErrEvaluatorUnavailable)

	reply := f.svc.QueryKB(context.Background(), kbQuery())

	assert.Equal(t, "error", reply.Status)
	assert.Equal(t, types.CodeEvaluatorUnavailable, reply.Code)
	assert.Empty(t, f.bus.requests)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, types.OutcomeError, f.audit.events[0].Outcome)
}

func TestQueryKBAdapterTimeout(t *testing.T) {
	f := newFixture()
	f.bus.requestErr = fmt.Errorf("%w: sales-kb-1.adapter.query after 1s", transport.ErrTimeout)

	reply := f.svc.QueryKB(context.Background(), kbQuery())

	assert.Equal(t, "error", reply.Status)
	assert.Equal(t, types.CodeAdapterError, reply.Code)
	assert.Equal(t, "timeout", reply.Error)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, types.OutcomeError, f.audit.events[0].Outcome)
}

func TestQueryKBAdapterErrorNeverFabricatesData(t *testing.T) {
	f := newFixture()
	f.bus.replyData = []byte(`{"status":"error","error":"relation \"customers\" does not exist"}`)

	reply := f.svc.QueryKB(context.Background(), kbQuery())

	assert.Equal(t, "error", reply.Status)
	assert.Nil(t, reply.Data)
	assert.Contains(t, reply.Error, "does not exist")
}

func TestQueryKBAuditFailureConvertsSuccessToError(t *testing.T) {
	f := newFixture()
	f.bus.replyData = []byte(`{"status":"success","data":{"rows":[]}}`)
	f.audit.err = errors.New("disk full")

	reply := f.svc.QueryKB(context.Background(), kbQuery())

	assert.Equal(t, "error", reply.Status)
	assert.Equal(t, types.CodeAuditFailure, reply.Code)
	assert.Nil(t, reply.Data)
}

func TestQueryKBHeavyLoggingStoresMaskedResponse(t *testing.T) {
	f := newFixture()
	f.audit.heavy = true
	f.eval.decision = &types.PolicyDecision{Allow: true, MaskingRules: []string{"customer_email"}}
	f.bus.replyData = []byte(`{"status":"success","data":{"customer_email":"ceo@acme.com","name":"Acme"}}`)

	reply := f.svc.QueryKB(context.Background(), kbQuery())
	require.Equal(t, "success", reply.Status)

	require.Len(t, f.audit.events, 1)
	full := f.audit.events[0].FullResponse.(map[string]interface{})
	assert.Equal(t, MaskSentinel, full["customer_email"])

	// the cleartext never appears anywhere in the stored event
	raw, err := json.Marshal(f.audit.events[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ceo@acme.com")
}

func TestQueryKBPerKBDispatchTimeout(t *testing.T) {
	f := newFixture()
	f.reg.kbs["sales-kb-1"].Metadata = map[string]interface{}{"dispatch_timeout_ms": float64(1500)}
	assert.Equal(t, 1500*time.Millisecond, f.svc.dispatchTimeout(f.reg.kbs["sales-kb-1"]))

	f.reg.kbs["sales-kb-1"].Metadata = nil
	assert.Equal(t, time.Second, f.svc.dispatchTimeout(f.reg.kbs["sales-kb-1"]))
}

func TestQueryKBAssignsRequestID(t *testing.T) {
	f := newFixture()
	f.bus.replyData = []byte(`{"status":"success","data":{}}`)

	reply := f.svc.QueryKB(context.Background(), kbQuery())
	assert.NotEmpty(t, reply.RequestID)

	req := kbQuery()
	req.RequestID = "req-fixed"
	reply = f.svc.QueryKB(context.Background(), req)
	assert.Equal(t, "req-fixed", reply.RequestID)
}

// ============================================
// AGENT INVOCATION
// ============================================

func invokeReq() *types.AgentInvokeRequest {
	return &types.AgentInvokeRequest{
		SourceAgentID: "marketing-agent-2",
		TargetAgentID: "data-agent-3",
		Operation:     "execute",
		Payload:       map[string]interface{}{"task": "refresh-segment"},
	}
}

func TestInvokeAgentQueuedAndDispatched(t *testing.T) {
	f := newFixture()

	reply := f.svc.InvokeAgent(context.Background(), invokeReq())

	require.Equal(t, types.InvocationQueued, reply.Status)
	assert.NotEmpty(t, reply.TrackingID)

	// dispatched on the target's private subject
	assert.Len(t, f.bus.published[types.AgentSubject("aid-3")], 1)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, types.EventInvoke, f.audit.events[0].EventType)
	assert.Equal(t, types.OutcomeSuccess, f.audit.events[0].Outcome)
}

func TestInvokeAgentDenied(t *testing.T) {
	f := newFixture()
	f.eval.decision = &types.PolicyDecision{Allow: false, Reason: "cross-team invocation blocked"}

	reply := f.svc.InvokeAgent(context.Background(), invokeReq())

	assert.Equal(t, types.CodeDenied, reply.Code)
	assert.Empty(t, reply.TrackingID)
	assert.Empty(t, f.bus.published)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, types.OutcomeDenied, f.audit.events[0].Outcome)
}

func TestInvokeAgentUnknownTarget(t *testing.T) {
	f := newFixture()
	req := invokeReq()
	req.TargetAgentID = "ghost-agent"

	reply := f.svc.InvokeAgent(context.Background(), req)

	assert.Equal(t, types.CodeUnknownResource, reply.Code)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, types.OutcomeError, f.audit.events[0].Outcome)
}

func TestInvocationLifecycle(t *testing.T) {
	f := newFixture()

	reply := f.svc.InvokeAgent(context.Background(), invokeReq())
	require.Equal(t, types.InvocationQueued, reply.Status)

	ctx := context.Background()

	f.svc.HandleCompletion(ctx, &types.CompletionEvent{TrackingID: reply.TrackingID, Status: "ack"})
	rec, err := f.svc.InvocationStatus(ctx, reply.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, types.InvocationProcessing, rec.Status)

	f.svc.HandleCompletion(ctx, &types.CompletionEvent{
		TrackingID: reply.TrackingID,
		Status:     "complete",
		Result:     map[string]interface{}{"rows_refreshed": float64(120)},
	})
	rec, err = f.svc.InvocationStatus(ctx, reply.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, types.InvocationCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)

	// terminal state re-published on the completion subject
	require.NotEmpty(t, f.bus.published[types.SubjectCompletion])
	var published types.CompletionEvent
	require.NoError(t, json.Unmarshal(f.bus.published[types.SubjectCompletion][0], &published))
	assert.Equal(t, "completed", published.Status)

	// source agent notified on its private subject
	assert.NotEmpty(t, f.bus.published[types.AgentSubject("marketing-agent-2")])

	// redelivered completion is a no-op
	before := len(f.audit.events)
	f.svc.HandleCompletion(ctx, &types.CompletionEvent{TrackingID: reply.TrackingID, Status: "complete"})
	assert.Len(t, f.audit.events, before)
}

func TestInvocationErrorTransition(t *testing.T) {
	f := newFixture()

	reply := f.svc.InvokeAgent(context.Background(), invokeReq())
	ctx := context.Background()

	f.svc.HandleCompletion(ctx, &types.CompletionEvent{
		TrackingID: reply.TrackingID,
		Status:     "error",
		Error:      "target crashed",
	})

	rec, err := f.svc.InvocationStatus(ctx, reply.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, types.InvocationError, rec.Status)
	assert.Equal(t, "target crashed", rec.Error)

	last := f.audit.events[len(f.audit.events)-1]
	assert.Equal(t, types.OutcomeError, last.Outcome)
}

func TestConcurrentQueriesIndependentAudits(t *testing.T) {
	f := newFixture()
	f.eval.decision = &types.PolicyDecision{Allow: true, MaskingRules: []string{"customer_email"}}
	f.bus.replyData = []byte(`{"status":"success","data":{"customer_email":"ceo@acme.com"}}`)

	var wg sync.WaitGroup
	replies := make([]*types.KBQueryReply, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i] = f.svc.QueryKB(context.Background(), kbQuery())
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, reply := range replies {
		require.Equal(t, "success", reply.Status)
		assert.Equal(t, MaskSentinel, reply.Data.(map[string]interface{})["customer_email"])
		seen[reply.RequestID] = true
	}
	assert.Len(t, seen, 3, "request ids must be distinct")
	assert.Len(t, f.audit.events, 3)
}
