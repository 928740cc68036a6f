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

package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"agentmesh/platform/adapters/base"
	"agentmesh/platform/shared/logger"
)

// Backend fronts one MySQL database for an adapter worker
type Backend struct {
	db     *sql.DB
	logger *logger.Logger
}

// New creates an unconnected MySQL backend
func New() *Backend {
	return &Backend{logger: logger.New("mysql-backend")}
}

// Connect opens the connection pool and verifies connectivity. The
// endpoint is a DSN in go-sql-driver format (user:pass@tcp(host:port)/db).
func (b *Backend) Connect(ctx context.Context, endpoint string, credentials map[string]string) error {
	db, err := sql.Open("mysql", endpoint)
	if err != nil {
		return fmt.Errorf("mysql: failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql: failed to ping database: %w", err)
	}

	b.db = db
	b.logger.Info("", "connected to mysql", nil)
	return nil
}

// Close releases the pool
func (b *Backend) Close(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Ping verifies connectivity
func (b *Backend) Ping(ctx context.Context) error {
	if b.db == nil {
		return fmt.Errorf("mysql: not connected")
	}
	return b.db.PingContext(ctx)
}

// Type returns the kb_type this backend serves
func (b *Backend) Type() string { return "mysql" }

// Ops is the static operation registry for mysql KBs
func (b *Backend) Ops() map[string]base.OpFunc {
	return map[string]base.OpFunc{
		"sql_query":   b.sqlQuery,
		"execute_sql": b.executeSQL,
		"get_schema":  b.getSchema,
	}
}

func (b *Backend) sqlQuery(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	statement, ok := params["query"].(string)
	if !ok || statement == "" {
		return nil, fmt.Errorf("sql_query requires a 'query' parameter")
	}

	rows, err := b.db.QueryContext(ctx, statement, positionalArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"rows": results, "row_count": len(results)}, nil
}

func (b *Backend) executeSQL(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	statement, ok := params["sql"].(string)
	if !ok || statement == "" {
		if statement, ok = params["query"].(string); !ok || statement == "" {
			return nil, fmt.Errorf("execute_sql requires a 'sql' parameter")
		}
	}

	result, err := b.db.ExecContext(ctx, statement, positionalArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("command execution failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	return map[string]interface{}{"rows_affected": affected}, nil
}

func (b *Backend) getSchema(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION`)
	if err != nil {
		return nil, fmt.Errorf("schema introspection failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make(map[string][]map[string]interface{})
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, err
		}
		tables[table] = append(tables[table], map[string]interface{}{
			"column": column,
			"type":   dataType,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"tables": tables}, nil
}

func positionalArgs(params map[string]interface{}) []interface{} {
	raw, ok := params["params"].([]interface{})
	if !ok {
		return nil
	}
	return raw
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
