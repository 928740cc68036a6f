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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
)

const uniqueViolation = "23505"

// Store is the process-wide persistence layer for registry rows, policies,
// audit events, and invocation lifecycle records. Constructed once at boot
// and torn down on shutdown.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open connects to PostgreSQL and configures the pool
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection; used by tests
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, logger: logger.New("store")}
}

// Close releases the connection pool
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies connectivity
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// RegistryFilter narrows agent/KB listings
type RegistryFilter struct {
	Identity   string
	Capability string
	KBType     string
	Status     string
}

// AuditFilter narrows audit log queries
type AuditFilter struct {
	EventType string
	SourceID  string
	TargetID  string
	Outcome   string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// ============================================
// AGENTS
// ============================================

// RegisterAgent inserts a new agent row. The unique constraint on identity
// enforces one row per identity; a second registration fails with DUPLICATE.
func (s *Store) RegisterAgent(ctx context.Context, rec *types.AgentRecord) error {
	caps, err := marshalJSON(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("store: marshal capabilities: %w", err)
	}
	ops, err := marshalJSON(rec.Operations)
	if err != nil {
		return fmt.Errorf("store: marshal operations: %w", err)
	}
	schemas, err := marshalJSON(rec.Schemas)
	if err != nil {
		return fmt.Errorf("store: marshal schemas: %w", err)
	}
	meta, err := marshalJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (
			agent_id, identity, version, capabilities, operations,
			schemas, health_endpoint, status, registered_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.AgentID, rec.Identity, rec.Version, caps, ops,
		schemas, rec.HealthEndpoint, string(rec.Status), rec.RegisteredAt, meta,
	)
	if err != nil {
		if isDuplicate(err) {
			return types.NewMeshError(types.CodeDuplicate,
				fmt.Sprintf("agent identity '%s' is already registered", rec.Identity), err)
		}
		return fmt.Errorf("store: insert agent: %w", err)
	}
	return nil
}

const agentColumns = `agent_id, identity, version, capabilities, operations,
		schemas, health_endpoint, status, registered_at, last_heartbeat, metadata`

func scanAgent(scanner interface{ Scan(...interface{}) error }) (*types.AgentRecord, error) {
	var rec types.AgentRecord
	var caps, ops, schemas, meta []byte
	var status string
	var lastHeartbeat sql.NullTime

	err := scanner.Scan(
		&rec.AgentID, &rec.Identity, &rec.Version, &caps, &ops,
		&schemas, &rec.HealthEndpoint, &status, &rec.RegisteredAt, &lastHeartbeat, &meta,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = types.HealthStatus(status)
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		rec.LastHeartbeat = &t
	}
	_ = json.Unmarshal(caps, &rec.Capabilities)
	_ = json.Unmarshal(ops, &rec.Operations)
	_ = json.Unmarshal(schemas, &rec.Schemas)
	_ = json.Unmarshal(meta, &rec.Metadata)
	return &rec, nil
}

// GetAgent returns the agent with the given identity, or nil when absent
func (s *Store) GetAgent(ctx context.Context, identity string) (*types.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE identity = $1`, identity)
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	return rec, nil
}

// ListAgents returns agents matching the filter, newest first
func (s *Store) ListAgents(ctx context.Context, f RegistryFilter) ([]types.AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if f.Identity != "" {
		query += fmt.Sprintf(" AND identity = $%d", argIndex)
		args = append(args, f.Identity)
		argIndex++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, f.Status)
		argIndex++
	}
	if f.Capability != "" {
		query += fmt.Sprintf(" AND capabilities @> $%d", argIndex)
		capJSON, _ := json.Marshal([]string{f.Capability})
		args = append(args, capJSON)
	}
	query += " ORDER BY registered_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []types.AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			s.logger.ErrorErr("", "failed to scan agent row", err, nil)
			continue
		}
		agents = append(agents, *rec)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus changes an agent's lifecycle status
func (s *Store) UpdateAgentStatus(ctx context.Context, identity string, status types.HealthStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = $1 WHERE identity = $2`, string(status), identity)
	if err != nil {
		return fmt.Errorf("store: update agent status: %w", err)
	}
	return requireRow(res, "agent", identity)
}

// TouchAgentHeartbeat records a successful health probe
func (s *Store) TouchAgentHeartbeat(ctx context.Context, identity string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = $1 WHERE identity = $2`, at, identity)
	if err != nil {
		return fmt.Errorf("store: touch agent heartbeat: %w", err)
	}
	return nil
}

// UpdateAgentCapabilities replaces an agent's capability set
func (s *Store) UpdateAgentCapabilities(ctx context.Context, identity string, capabilities []string) error {
	caps, err := marshalJSON(capabilities)
	if err != nil {
		return fmt.Errorf("store: marshal capabilities: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET capabilities = $1 WHERE identity = $2`, caps, identity)
	if err != nil {
		return fmt.Errorf("store: update agent capabilities: %w", err)
	}
	return requireRow(res, "agent", identity)
}

// DeregisterAgent removes an agent row
func (s *Store) DeregisterAgent(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("store: deregister agent: %w", err)
	}
	return requireRow(res, "agent", identity)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("%s '%s' not found", kind, id), nil)
	}
	return nil
}

// ============================================
// KNOWLEDGE BASES
// ============================================

// RegisterKB inserts a new KB row
func (s *Store) RegisterKB(ctx context.Context, rec *types.KBRecord) error {
	ops, err := marshalJSON(rec.Operations)
	if err != nil {
		return fmt.Errorf("store: marshal operations: %w", err)
	}
	schema, err := marshalJSON(rec.Schema)
	if err != nil {
		return fmt.Errorf("store: marshal kb schema: %w", err)
	}
	creds, err := marshalJSON(rec.Credentials)
	if err != nil {
		return fmt.Errorf("store: marshal credentials: %w", err)
	}
	meta, err := marshalJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_bases (
			kb_id, kb_type, endpoint, operations, kb_schema,
			credentials, status, registered_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.KBID, rec.KBType, rec.Endpoint, ops, schema,
		creds, string(rec.Status), rec.RegisteredAt, meta,
	)
	if err != nil {
		if isDuplicate(err) {
			return types.NewMeshError(types.CodeDuplicate,
				fmt.Sprintf("KB '%s' is already registered", rec.KBID), err)
		}
		return fmt.Errorf("store: insert kb: %w", err)
	}
	return nil
}

const kbColumns = `kb_id, kb_type, endpoint, operations, kb_schema,
		credentials, status, registered_at, last_health_check, metadata`

func scanKB(scanner interface{ Scan(...interface{}) error }) (*types.KBRecord, error) {
	var rec types.KBRecord
	var ops, schema, creds, meta []byte
	var status string
	var lastCheck sql.NullTime

	err := scanner.Scan(
		&rec.KBID, &rec.KBType, &rec.Endpoint, &ops, &schema,
		&creds, &status, &rec.RegisteredAt, &lastCheck, &meta,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = types.HealthStatus(status)
	if lastCheck.Valid {
		t := lastCheck.Time
		rec.LastHealthCheck = &t
	}
	_ = json.Unmarshal(ops, &rec.Operations)
	_ = json.Unmarshal(schema, &rec.Schema)
	_ = json.Unmarshal(creds, &rec.Credentials)
	_ = json.Unmarshal(meta, &rec.Metadata)
	return &rec, nil
}

// GetKB returns the KB with the given id, or nil when absent
func (s *Store) GetKB(ctx context.Context, kbID string) (*types.KBRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE kb_id = $1`, kbID)
	rec, err := scanKB(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get kb: %w", err)
	}
	return rec, nil
}

// ListKBs returns KBs matching the filter, newest first
func (s *Store) ListKBs(ctx context.Context, f RegistryFilter) ([]types.KBRecord, error) {
	query := `SELECT ` + kbColumns + ` FROM knowledge_bases WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if f.KBType != "" {
		query += fmt.Sprintf(" AND kb_type = $%d", argIndex)
		args = append(args, f.KBType)
		argIndex++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, f.Status)
	}
	query += " ORDER BY registered_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list kbs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var kbs []types.KBRecord
	for rows.Next() {
		rec, err := scanKB(rows)
		if err != nil {
			s.logger.ErrorErr("", "failed to scan kb row", err, nil)
			continue
		}
		kbs = append(kbs, *rec)
	}
	return kbs, rows.Err()
}

// UpdateKBStatus changes a KB's lifecycle status and records the probe time
func (s *Store) UpdateKBStatus(ctx context.Context, kbID string, status types.HealthStatus, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_bases SET status = $1, last_health_check = $2 WHERE kb_id = $3`,
		string(status), checkedAt, kbID)
	if err != nil {
		return fmt.Errorf("store: update kb status: %w", err)
	}
	return requireRow(res, "KB", kbID)
}

// UpdateKBOperations replaces a KB's operation set
func (s *Store) UpdateKBOperations(ctx context.Context, kbID string, operations []string) error {
	ops, err := marshalJSON(operations)
	if err != nil {
		return fmt.Errorf("store: marshal operations: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_bases SET operations = $1 WHERE kb_id = $2`, ops, kbID)
	if err != nil {
		return fmt.Errorf("store: update kb operations: %w", err)
	}
	return requireRow(res, "KB", kbID)
}

// DeregisterKB removes a KB row
func (s *Store) DeregisterKB(ctx context.Context, kbID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE kb_id = $1`, kbID)
	if err != nil {
		return fmt.Errorf("store: deregister kb: %w", err)
	}
	return requireRow(res, "KB", kbID)
}

// ============================================
// POLICIES
// ============================================

// SavePolicy upserts a policy document; concurrent uploads of the same id
// are last-writer-wins, atomic per document
func (s *Store) SavePolicy(ctx context.Context, rec *types.PolicyRecord) error {
	meta, err := marshalJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (policy_id, body, precedence, active, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (policy_id) DO UPDATE SET
			body = EXCLUDED.body,
			precedence = EXCLUDED.precedence,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at,
			metadata = EXCLUDED.metadata`,
		rec.PolicyID, rec.Body, rec.Precedence, rec.Active, rec.CreatedAt, rec.UpdatedAt, meta,
	)
	if err != nil {
		return fmt.Errorf("store: save policy: %w", err)
	}
	return nil
}

// GetPolicy returns the policy with the given id, or nil when absent
func (s *Store) GetPolicy(ctx context.Context, policyID string) (*types.PolicyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT policy_id, body, precedence, active, created_at, updated_at, metadata
		FROM policies WHERE policy_id = $1`, policyID)

	var rec types.PolicyRecord
	var meta []byte
	err := row.Scan(&rec.PolicyID, &rec.Body, &rec.Precedence, &rec.Active,
		&rec.CreatedAt, &rec.UpdatedAt, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get policy: %w", err)
	}
	_ = json.Unmarshal(meta, &rec.Metadata)
	return &rec, nil
}

// ListPolicies returns all stored policies ordered by precedence
func (s *Store) ListPolicies(ctx context.Context) ([]types.PolicyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, body, precedence, active, created_at, updated_at, metadata
		FROM policies ORDER BY precedence, policy_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []types.PolicyRecord
	for rows.Next() {
		var rec types.PolicyRecord
		var meta []byte
		if err := rows.Scan(&rec.PolicyID, &rec.Body, &rec.Precedence, &rec.Active,
			&rec.CreatedAt, &rec.UpdatedAt, &meta); err != nil {
			s.logger.ErrorErr("", "failed to scan policy row", err, nil)
			continue
		}
		_ = json.Unmarshal(meta, &rec.Metadata)
		policies = append(policies, rec)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy row
func (s *Store) DeletePolicy(ctx context.Context, policyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE policy_id = $1`, policyID)
	if err != nil {
		return fmt.Errorf("store: delete policy: %w", err)
	}
	return requireRow(res, "policy", policyID)
}

// ============================================
// AUDIT LOG (append-only)
// ============================================

// AppendAuditEvent writes one audit row. Rows are never updated or deleted.
func (s *Store) AppendAuditEvent(ctx context.Context, ev *types.AuditEvent) error {
	reqMeta, err := marshalJSON(ev.RequestMetadata)
	if err != nil {
		return fmt.Errorf("store: marshal request metadata: %w", err)
	}
	decision, err := marshalJSON(ev.PolicyDecision)
	if err != nil {
		return fmt.Errorf("store: marshal policy decision: %w", err)
	}
	masked, err := marshalJSON(ev.MaskedFields)
	if err != nil {
		return fmt.Errorf("store: marshal masked fields: %w", err)
	}
	fullReq, err := marshalJSON(ev.FullRequest)
	if err != nil {
		return fmt.Errorf("store: marshal full request: %w", err)
	}
	fullResp, err := marshalJSON(ev.FullResponse)
	if err != nil {
		return fmt.Errorf("store: marshal full response: %w", err)
	}
	prov, err := marshalJSON(ev.ProvenanceChain)
	if err != nil {
		return fmt.Errorf("store: marshal provenance chain: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, event_type, source_id, target_id, outcome, timestamp,
			request_metadata, policy_decision, masked_fields,
			full_request, full_response, provenance_chain
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, string(ev.EventType), ev.SourceID, nullString(ev.TargetID),
		string(ev.Outcome), ev.Timestamp,
		reqMeta, decision, masked, fullReq, fullResp, prov,
	)
	if err != nil {
		return fmt.Errorf("store: append audit event: %w", err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func buildAuditWhere(f AuditFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	add := func(clause string, val interface{}) {
		where += fmt.Sprintf(" AND "+clause, argIndex)
		args = append(args, val)
		argIndex++
	}

	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.SourceID != "" {
		add("source_id = $%d", f.SourceID)
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	if f.StartTime != nil {
		add("timestamp >= $%d", *f.StartTime)
	}
	if f.EndTime != nil {
		add("timestamp <= $%d", *f.EndTime)
	}
	return where, args
}

// QueryAuditEvents returns matching rows (newest first, capped at Limit)
// plus the total number of rows the filter matched.
func (s *Store) QueryAuditEvents(ctx context.Context, f AuditFilter) ([]types.AuditEvent, int, error) {
	where, args := buildAuditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count audit events: %w", err)
	}

	if f.Limit == 0 {
		return []types.AuditEvent{}, total, nil
	}

	query := `
		SELECT id, event_type, source_id, target_id, outcome, timestamp,
			request_metadata, policy_decision, masked_fields,
			full_request, full_response, provenance_chain
		FROM audit_logs` + where + ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []types.AuditEvent{}
	for rows.Next() {
		var ev types.AuditEvent
		var eventType, outcome string
		var targetID sql.NullString
		var reqMeta, decision, masked, fullReq, fullResp, prov []byte

		err := rows.Scan(&ev.ID, &eventType, &ev.SourceID, &targetID, &outcome,
			&ev.Timestamp, &reqMeta, &decision, &masked, &fullReq, &fullResp, &prov)
		if err != nil {
			s.logger.ErrorErr("", "failed to scan audit row", err, nil)
			continue
		}

		ev.EventType = types.AuditEventType(eventType)
		ev.Outcome = types.AuditOutcome(outcome)
		if targetID.Valid {
			ev.TargetID = targetID.String
		}
		_ = json.Unmarshal(reqMeta, &ev.RequestMetadata)
		_ = json.Unmarshal(decision, &ev.PolicyDecision)
		_ = json.Unmarshal(masked, &ev.MaskedFields)
		_ = json.Unmarshal(fullReq, &ev.FullRequest)
		_ = json.Unmarshal(fullResp, &ev.FullResponse)
		_ = json.Unmarshal(prov, &ev.ProvenanceChain)
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// ============================================
// INVOCATIONS
// ============================================

// InsertInvocation records a new invocation in the queued state
func (s *Store) InsertInvocation(ctx context.Context, rec *types.InvocationRecord) error {
	payload, err := marshalJSON(rec.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invocations (
			tracking_id, source_agent_id, target_agent_id, operation,
			payload, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.TrackingID, rec.SourceAgentID, rec.TargetAgentID, rec.Operation,
		payload, string(rec.Status), rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert invocation: %w", err)
	}
	return nil
}

// UpdateInvocation advances an invocation's lifecycle state
func (s *Store) UpdateInvocation(ctx context.Context, trackingID string, status types.InvocationStatus, completedAt *time.Time, result interface{}, errMsg string) error {
	res, err := marshalJSON(result)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}
	out, err := s.db.ExecContext(ctx, `
		UPDATE invocations SET status = $1, completed_at = $2, result = $3, error = $4
		WHERE tracking_id = $5`,
		string(status), completedAt, res, nullString(errMsg), trackingID,
	)
	if err != nil {
		return fmt.Errorf("store: update invocation: %w", err)
	}
	return requireRow(out, "invocation", trackingID)
}

// GetInvocation returns an invocation record, or nil when absent
func (s *Store) GetInvocation(ctx context.Context, trackingID string) (*types.InvocationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tracking_id, source_agent_id, target_agent_id, operation,
			payload, status, started_at, completed_at, result, error
		FROM invocations WHERE tracking_id = $1`, trackingID)

	var rec types.InvocationRecord
	var payload, result []byte
	var status string
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(&rec.TrackingID, &rec.SourceAgentID, &rec.TargetAgentID,
		&rec.Operation, &payload, &status, &rec.StartedAt, &completedAt, &result, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get invocation: %w", err)
	}

	rec.Status = types.InvocationStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	_ = json.Unmarshal(payload, &rec.Payload)
	_ = json.Unmarshal(result, &rec.Result)
	return &rec, nil
}
