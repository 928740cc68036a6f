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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/platform/shared/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestRegisterAgentDuplicateIdentity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO agents").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := s.RegisterAgent(context.Background(), &types.AgentRecord{
		AgentID:        "5f4c9a10-0000-0000-0000-000000000001",
		Identity:       "sales-agent-1",
		Version:        "1.0.0",
		Capabilities:   []string{"sales"},
		Operations:     []string{"query"},
		HealthEndpoint: "http://localhost:8001/health",
		Status:         types.StatusActive,
		RegisteredAt:   time.Now().UTC(),
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeDuplicate, types.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAgentNotFoundReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM agents WHERE identity").
		WithArgs("ghost-agent").
		WillReturnRows(sqlmock.NewRows([]string{"agent_id"}))

	rec, err := s.GetAgent(context.Background(), "ghost-agent")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetKBScansRecord(t *testing.T) {
	s, mock := newMockStore(t)

	registeredAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"kb_id", "kb_type", "endpoint", "operations", "kb_schema",
		"credentials", "status", "registered_at", "last_health_check", "metadata",
	}).AddRow(
		"sales-kb-1", "postgres", "postgres://localhost:5432/sales",
		[]byte(`["sql_query","get_schema"]`), []byte(`null`),
		[]byte(`{"username":"reader"}`), "active", registeredAt, nil, []byte(`null`),
	)
	mock.ExpectQuery("SELECT .* FROM knowledge_bases WHERE kb_id").
		WithArgs("sales-kb-1").
		WillReturnRows(rows)

	rec, err := s.GetKB(context.Background(), "sales-kb-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "postgres", rec.KBType)
	assert.Equal(t, []string{"sql_query", "get_schema"}, rec.Operations)
	assert.Equal(t, "reader", rec.Credentials["username"])
	assert.Equal(t, types.StatusActive, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAgentStatusUnknownAgent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE agents SET status").
		WithArgs("offline", "ghost-agent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateAgentStatus(context.Background(), "ghost-agent", types.StatusOffline)
	require.Error(t, err)
	assert.Equal(t, types.CodeUnknownResource, types.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAuditEvent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendAuditEvent(context.Background(), &types.AuditEvent{
		ID:           "a0000000-0000-0000-0000-000000000001",
		EventType:    types.EventQuery,
		SourceID:     "marketing-agent-2",
		TargetID:     "sales-kb-1",
		Outcome:      types.OutcomeSuccess,
		Timestamp:    time.Now().UTC(),
		MaskedFields: []string{"customer_email"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryAuditEventsLimitZeroReturnsCountOnly(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs`).
		WithArgs("marketing-agent-2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	events, total, err := s.QueryAuditEvents(context.Background(), AuditFilter{
		SourceID: "marketing-agent-2",
		Limit:    0,
	})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 7, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryAuditEventsAppliesFilters(t *testing.T) {
	s, mock := newMockStore(t)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs`).
		WithArgs("query", "denied", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows([]string{
		"id", "event_type", "source_id", "target_id", "outcome", "timestamp",
		"request_metadata", "policy_decision", "masked_fields",
		"full_request", "full_response", "provenance_chain",
	}).AddRow(
		"a0000000-0000-0000-0000-000000000002", "query", "marketing-agent-2",
		"sales-kb-1", "denied", start.Add(time.Hour),
		[]byte(`{"operation":"execute_sql"}`), []byte(`{"allow":false}`),
		[]byte(`null`), []byte(`null`), []byte(`null`), []byte(`null`),
	)
	mock.ExpectQuery("SELECT id, event_type").
		WithArgs("query", "denied", start, end).
		WillReturnRows(rows)

	events, total, err := s.QueryAuditEvents(context.Background(), AuditFilter{
		EventType: "query",
		Outcome:   "denied",
		StartTime: &start,
		EndTime:   &end,
		Limit:     100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, types.OutcomeDenied, events[0].Outcome)
	assert.Equal(t, "execute_sql", events[0].RequestMetadata["operation"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePolicyUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO policies").
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	err := s.SavePolicy(context.Background(), &types.PolicyRecord{
		PolicyID:   "agentmesh",
		Body:       "package agentmesh\n\ndefault allow = false\n",
		Precedence: 100,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
