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

package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"agentmesh/platform/shared/logger"
	"agentmesh/platform/shared/types"
)

// globalSubjects are the broadcast subjects every connected agent may
// subscribe to
var globalSubjects = []string{
	types.SubjectDirectoryUpdate,
	types.SubjectCompletion,
}

// session tracks one connected agent
type session struct {
	agentID       string
	endpoint      string
	connectedAt   time.Time
	lastHeartbeat time.Time
}

// Service handles agent connections to the mesh: token verification,
// agent id assignment, and private-subject allocation. Connection state is
// session-scoped and in memory; durable identity lives in the registry.
type Service struct {
	secret []byte
	mu     sync.RWMutex
	agents map[string]*session
	logger *logger.Logger
	now    func() time.Time
}

// New creates the connection service. secret verifies HS256 connection
// tokens.
func New(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		agents: make(map[string]*session),
		logger: logger.New("connection"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Connect validates the token and assigns the agent its private subject
func (s *Service) Connect(ctx context.Context, req *types.ConnectRequest) (*types.ConnectResponse, error) {
	if req.Token == "" {
		return nil, types.NewMeshError(types.CodeValidation, "token is required", nil)
	}
	if err := s.verifyToken(req.Token); err != nil {
		return nil, types.NewMeshError(types.CodeValidation, "invalid connection token", err)
	}

	agentID := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	s.agents[agentID] = &session{
		agentID:       agentID,
		endpoint:      req.Endpoint,
		connectedAt:   now,
		lastHeartbeat: now,
	}
	s.mu.Unlock()

	s.logger.Info("", "agent connected", map[string]interface{}{
		"agent_id": agentID,
		"endpoint": req.Endpoint,
	})

	return &types.ConnectResponse{
		AgentID:        agentID,
		PrivateSubject: types.AgentSubject(agentID),
		GlobalSubjects: globalSubjects,
		ConnectedAt:    now,
	}, nil
}

func (s *Service) verifyToken(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}

// IssueToken mints a connection token for an agent identity; used by
// operators to provision agents.
func (s *Service) IssueToken(identity string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": identity,
		"iat": s.now().Unix(),
	}
	if ttl > 0 {
		claims["exp"] = s.now().Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Heartbeat refreshes a connected agent's liveness timestamp
func (s *Service) Heartbeat(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.agents[agentID]
	if !ok {
		return types.NewMeshError(types.CodeUnknownResource,
			fmt.Sprintf("agent '%s' is not connected", agentID), nil)
	}
	sess.lastHeartbeat = s.now()
	return nil
}

// Disconnect removes a connected agent's session
func (s *Service) Disconnect(agentID string) {
	s.mu.Lock()
	delete(s.agents, agentID)
	s.mu.Unlock()
	s.logger.Info("", "agent disconnected", map[string]interface{}{"agent_id": agentID})
}

// ConnectedCount reports how many agents hold live sessions
func (s *Service) ConnectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}
