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

package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/platform/shared/logger"
)

func newMockBackend(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Backend{db: db, logger: logger.New("postgres-backend")}, mock
}

func TestSQLQueryReturnsRows(t *testing.T) {
	b, mock := newMockBackend(t)

	rows := sqlmock.NewRows([]string{"name", "customer_email"}).
		AddRow("Acme", "ceo@acme.com").
		AddRow([]byte("Globex"), "cfo@globex.com")
	mock.ExpectQuery("SELECT name, customer_email FROM customers").WillReturnRows(rows)

	result, err := b.sqlQuery(context.Background(), map[string]interface{}{
		"query": "SELECT name, customer_email FROM customers",
	})
	require.NoError(t, err)

	payload := result.(map[string]interface{})
	assert.Equal(t, 2, payload["row_count"])
	resultRows := payload["rows"].([]map[string]interface{})
	assert.Equal(t, "Acme", resultRows[0]["name"])
	// []byte columns come back as strings
	assert.Equal(t, "Globex", resultRows[1]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLQueryRequiresQueryParam(t *testing.T) {
	b, _ := newMockBackend(t)
	_, err := b.sqlQuery(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'query' parameter")
}

func TestExecuteSQLReturnsRowsAffected(t *testing.T) {
	b, mock := newMockBackend(t)

	mock.ExpectExec("UPDATE customers SET tier").
		WillReturnResult(sqlmock.NewResult(0, 3))

	result, err := b.executeSQL(context.Background(), map[string]interface{}{
		"sql": "UPDATE customers SET tier='gold' WHERE region='west'",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.(map[string]interface{})["rows_affected"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchemaGroupsByTable(t *testing.T) {
	b, mock := newMockBackend(t)

	rows := sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
		AddRow("customers", "name", "text").
		AddRow("customers", "customer_email", "text").
		AddRow("orders", "id", "integer")
	mock.ExpectQuery("SELECT table_name, column_name, data_type").WillReturnRows(rows)

	result, err := b.getSchema(context.Background(), nil)
	require.NoError(t, err)

	tables := result.(map[string]interface{})["tables"].(map[string][]map[string]interface{})
	assert.Len(t, tables["customers"], 2)
	assert.Len(t, tables["orders"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
