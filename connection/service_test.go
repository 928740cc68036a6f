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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/platform/shared/types"
)

func TestConnectWithValidToken(t *testing.T) {
	svc := New("mesh-secret")

	token, err := svc.IssueToken("sales-agent-1", time.Hour)
	require.NoError(t, err)

	resp, err := svc.Connect(context.Background(), &types.ConnectRequest{
		Token:    token,
		Endpoint: "http://localhost:8001",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AgentID)
	assert.Equal(t, "agent."+resp.AgentID, resp.PrivateSubject)
	assert.Contains(t, resp.GlobalSubjects, types.SubjectDirectoryUpdate)
	assert.Equal(t, 1, svc.ConnectedCount())
}

func TestConnectRejectsBadToken(t *testing.T) {
	svc := New("mesh-secret")

	_, err := svc.Connect(context.Background(), &types.ConnectRequest{Token: "not-a-jwt"})
	require.Error(t, err)
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}

func TestConnectRejectsTokenFromOtherSecret(t *testing.T) {
	other := New("other-secret")
	token, err := other.IssueToken("intruder", time.Hour)
	require.NoError(t, err)

	svc := New("mesh-secret")
	_, err = svc.Connect(context.Background(), &types.ConnectRequest{Token: token})
	require.Error(t, err)
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}

func TestConnectRejectsMissingToken(t *testing.T) {
	svc := New("mesh-secret")
	_, err := svc.Connect(context.Background(), &types.ConnectRequest{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "token is required"))
}

func TestHeartbeatAndDisconnect(t *testing.T) {
	svc := New("mesh-secret")
	token, _ := svc.IssueToken("sales-agent-1", time.Hour)
	resp, err := svc.Connect(context.Background(), &types.ConnectRequest{Token: token})
	require.NoError(t, err)

	require.NoError(t, svc.Heartbeat(resp.AgentID))

	svc.Disconnect(resp.AgentID)
	assert.Equal(t, 0, svc.ConnectedCount())

	err = svc.Heartbeat(resp.AgentID)
	require.Error(t, err)
	assert.Equal(t, types.CodeUnknownResource, types.CodeOf(err))
}
