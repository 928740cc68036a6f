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
	"context"
	"fmt"
	"time"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
)

// PolicyStore is the subset of the persistence layer the admin needs
type PolicyStore interface {
	SavePolicy(ctx context.Context, rec *types.PolicyRecord) error
	GetPolicy(ctx context.Context, policyID string) (*types.PolicyRecord, error)
	ListPolicies(ctx context.Context) ([]types.PolicyRecord, error)
	DeletePolicy(ctx context.Context, policyID string) error
}

// Evaluator is the subset of the client the admin drives
type Evaluator interface {
	Upload(ctx context.Context, policyID, body string, persist bool) (string, error)
	Delete(ctx context.Context, policyID string) error
}

// Admin manages the policy catalog: evaluator upload, database row, and
// disk mirror move together.
type Admin struct {
	evaluator Evaluator
	store     PolicyStore
	logger    *logger.Logger
	now       func() time.Time
}

// NewAdmin creates the policy admin service
func NewAdmin(evaluator Evaluator, store PolicyStore) *Admin {
	return &Admin{
		evaluator: evaluator,
		store:     store,
		logger:    logger.New("policy-admin"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Upload pushes a policy to the evaluator, persists the record, and mirrors
// the body to disk. The evaluator write happens first; if it fails nothing
// is persisted.
func (a *Admin) Upload(ctx context.Context, policyID, body string, precedence int, metadata map[string]interface{}) (*types.PolicyRecord, error) {
	if policyID == "" {
		return nil, types.NewMeshError(types.CodeValidation, "policy_id is required", nil)
	}
	if body == "" {
		return nil, types.NewMeshError(types.CodeValidation, "policy body is required", nil)
	}

	if _, err := a.evaluator.Upload(ctx, policyID, body, true); err != nil {
		return nil, fmt.Errorf("upload to evaluator failed: %w", err)
	}

	now := a.now()
	rec := &types.PolicyRecord{
		PolicyID:   policyID,
		Body:       body,
		Precedence: precedence,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   metadata,
	}
	if existing, err := a.store.GetPolicy(ctx, policyID); err == nil && existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := a.store.SavePolicy(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist policy record failed: %w", err)
	}

	a.logger.Info("", "policy uploaded", map[string]interface{}{
		"policy_id":  policyID,
		"precedence": precedence,
	})
	return rec, nil
}

// Get returns one stored policy record
func (a *Admin) Get(ctx context.Context, policyID string) (*types.PolicyRecord, error) {
	rec, err := a.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("policy '%s' not found", policyID), nil)
	}
	return rec, nil
}

// List returns every stored policy record
func (a *Admin) List(ctx context.Context) ([]types.PolicyRecord, error) {
	return a.store.ListPolicies(ctx)
}

// Delete removes a policy from the evaluator, the database, and the mirror
func (a *Admin) Delete(ctx context.Context, policyID string) error {
	if err := a.evaluator.Delete(ctx, policyID); err != nil {
		return err
	}
	if err := a.store.DeletePolicy(ctx, policyID); err != nil {
		return err
	}
	a.logger.Info("", "policy deleted", map[string]interface{}{"policy_id": policyID})
	return nil
}
