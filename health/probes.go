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

package health

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"agentmesh/platform/shared/types"
)

// DefaultKBProbes wires the driver pings for the kb_types the mesh ships
// adapters for. Each probe opens a short-lived connection; adapter workers
// keep their own pools and are not involved.
func DefaultKBProbes() map[string]KBProbe {
	return map[string]KBProbe{
		"postgres": sqlProbe("postgres"),
		"mysql":    sqlProbe("mysql"),
		"mongodb":  mongoProbe,
	}
}

func sqlProbe(driver string) KBProbe {
	return func(ctx context.Context, kb *types.KBRecord) error {
		db, err := sql.Open(driver, kb.Endpoint)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return db.PingContext(ctx)
	}
}

func mongoProbe(ctx context.Context, kb *types.KBRecord) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(kb.Endpoint))
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()
	return client.Ping(ctx, readpref.Primary())
}
