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

package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"agentmesh/platform/shared/types"
)

// newAdminHandler builds the operator-facing HTTP surface: policy admin,
// health, token provisioning, and Prometheus metrics.
func (s *Service) newAdminHandler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.httpHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.bearerAuth)
	api.HandleFunc("/policies", s.httpUploadPolicy).Methods(http.MethodPost)
	api.HandleFunc("/policies", s.httpListPolicies).Methods(http.MethodGet)
	api.HandleFunc("/policies/{id}", s.httpGetPolicy).Methods(http.MethodGet)
	api.HandleFunc("/policies/{id}", s.httpDeletePolicy).Methods(http.MethodDelete)
	api.HandleFunc("/tokens", s.httpIssueToken).Methods(http.MethodPost)

	return cors.Default().Handler(r)
}

// bearerAuth verifies the Authorization header carries a token signed with
// the mesh secret
func (s *Service) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.TokenSecret), nil
		})
		if err != nil || !token.Valid {
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) httpHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]bool{
		"store":     s.store.Ping(ctx) == nil,
		"evaluator": s.policyClient.Healthy(ctx),
	}
	status := http.StatusOK
	overall := "healthy"
	for _, ok := range components {
		if !ok {
			status = http.StatusServiceUnavailable
			overall = "degraded"
			break
		}
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}

type uploadPolicyRequest struct {
	PolicyID   string                 `json:"policy_id"`
	Body       string                 `json:"body"`
	Precedence int                    `json:"precedence"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Service) httpUploadPolicy(w http.ResponseWriter, r *http.Request) {
	var req uploadPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rec, err := s.policyAdmin.Upload(r.Context(), req.PolicyID, req.Body, req.Precedence, req.Metadata)
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Service) httpListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.policyAdmin.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies":    policies,
		"total_count": len(policies),
	})
}

func (s *Service) httpGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.policyAdmin.Get(r.Context(), id)
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) httpDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.policyAdmin.Delete(r.Context(), id); err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

type issueTokenRequest struct {
	Identity string `json:"identity"`
	TTL      string `json:"ttl,omitempty"`
}

func (s *Service) httpIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		writeJSONError(w, http.StatusBadRequest, "identity is required")
		return
	}

	ttl := 24 * time.Hour
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid ttl: "+err.Error())
			return
		}
		ttl = parsed
	}

	token, err := s.connections.IssueToken(req.Identity, ttl)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"identity": req.Identity,
		"token":    token,
	})
}

func statusForError(err error) int {
	switch types.CodeOf(err) {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeUnknownResource:
		return http.StatusNotFound
	case types.CodeDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
