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

package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"agentmesh/platform/adapters/base"
	"agentmesh/platform/shared/logger"
)

// Backend fronts one MongoDB database for an adapter worker
type Backend struct {
	client   *mongo.Client
	database string
	logger   *logger.Logger
}

// New creates an unconnected MongoDB backend for the named database
func New(database string) *Backend {
	return &Backend{
		database: database,
		logger:   logger.New("mongodb-backend"),
	}
}

// Connect dials the cluster and verifies connectivity
func (b *Backend) Connect(ctx context.Context, endpoint string, credentials map[string]string) error {
	opts := options.Client().ApplyURI(endpoint)
	if username, ok := credentials["username"]; ok {
		opts.SetAuth(options.Credential{
			Username: username,
			Password: credentials["password"],
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("mongodb: failed to connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb: failed to ping: %w", err)
	}

	b.client = client
	b.logger.Info("", "connected to mongodb", map[string]interface{}{"database": b.database})
	return nil
}

// Close disconnects from the cluster
func (b *Backend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(ctx)
}

// Ping verifies connectivity
func (b *Backend) Ping(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("mongodb: not connected")
	}
	return b.client.Ping(ctx, readpref.Primary())
}

// Type returns the kb_type this backend serves
func (b *Backend) Type() string { return "mongodb" }

// Ops is the static operation registry for mongodb KBs
func (b *Backend) Ops() map[string]base.OpFunc {
	return map[string]base.OpFunc{
		"find":            b.find,
		"insert":          b.insert,
		"aggregate":       b.aggregate,
		"get_collections": b.getCollections,
	}
}

func (b *Backend) collection(params map[string]interface{}) (*mongo.Collection, error) {
	name, ok := params["collection"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("a 'collection' parameter is required")
	}
	return b.client.Database(b.database).Collection(name), nil
}

func (b *Backend) find(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	coll, err := b.collection(params)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	if raw, ok := params["filter"].(map[string]interface{}); ok {
		filter = bson.M(raw)
	}

	findOpts := options.Find()
	if limit, ok := params["limit"].(float64); ok && limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find failed: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []map[string]interface{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cursor iteration failed: %w", err)
	}
	if docs == nil {
		docs = []map[string]interface{}{}
	}
	return map[string]interface{}{"documents": docs, "count": len(docs)}, nil
}

func (b *Backend) insert(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	coll, err := b.collection(params)
	if err != nil {
		return nil, err
	}

	doc, ok := params["document"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("insert requires a 'document' parameter")
	}

	result, err := coll.InsertOne(ctx, bson.M(doc))
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}
	return map[string]interface{}{"inserted_id": fmt.Sprint(result.InsertedID)}, nil
}

func (b *Backend) aggregate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	coll, err := b.collection(params)
	if err != nil {
		return nil, err
	}

	rawPipeline, ok := params["pipeline"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("aggregate requires a 'pipeline' parameter")
	}
	pipeline := make(mongo.Pipeline, 0, len(rawPipeline))
	for _, stage := range rawPipeline {
		m, ok := stage.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("pipeline stages must be objects")
		}
		doc := bson.D{}
		for k, v := range m {
			doc = append(doc, bson.E{Key: k, Value: v})
		}
		pipeline = append(pipeline, doc)
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate failed: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []map[string]interface{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cursor iteration failed: %w", err)
	}
	if docs == nil {
		docs = []map[string]interface{}{}
	}
	return map[string]interface{}{"documents": docs, "count": len(docs)}, nil
}

func (b *Backend) getCollections(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	names, err := b.client.Database(b.database).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections failed: %w", err)
	}
	return map[string]interface{}{"collections": names}, nil
}
