//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoTransfer.
//
// GoTransfer is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoTransfer is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoTransfer. If not, see https://www.gnu.org/licenses/.

package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/gotransfer/core"
)

// MongoStoreError wraps monitoring collection failures with the operation.
type MongoStoreError struct {
	Op  string
	Err error
}

func (e *MongoStoreError) Error() string {
	return fmt.Sprintf("mongo monitoring %s: %v", e.Op, e.Err)
}

func (e *MongoStoreError) Unwrap() error {
	return e.Err
}

// mongoRow is the stored document shape.
type mongoRow struct {
	GraphName    string    `bson:"graph_name"`
	Task         string    `bson:"task"`
	RunTimestamp time.Time `bson:"run_timestamp"`
	RunID        string    `bson:"run_id"`
	Entity       string    `bson:"entity"`
	RecordKey    string    `bson:"record_key,omitempty"`
	Position     int       `bson:"position"`
	Outcome      string    `bson:"outcome,omitempty"`
	ErrorNum     int       `bson:"error_num,omitempty"`
	Reason       string    `bson:"reason,omitempty"`
	Payload      string    `bson:"payload,omitempty"`
	Location     string    `bson:"location,omitempty"`
	Info         string    `bson:"info,omitempty"`
}

func toMongoRow(r Row) mongoRow {
	return mongoRow{
		GraphName:    r.GraphName,
		Task:         r.Task,
		RunTimestamp: r.RunTimestamp.UTC(),
		RunID:        r.RunID,
		Entity:       string(r.Entity),
		RecordKey:    r.RecordKey,
		Position:     r.Position,
		Outcome:      string(r.Outcome),
		ErrorNum:     int(r.ErrorNum),
		Reason:       r.Reason,
		Payload:      r.Payload,
		Location:     r.Location,
		Info:         r.Info,
	}
}

func (m mongoRow) row() Row {
	return Row{
		GraphName:    m.GraphName,
		Task:         m.Task,
		RunTimestamp: m.RunTimestamp,
		RunID:        m.RunID,
		Entity:       EntityType(m.Entity),
		RecordKey:    m.RecordKey,
		Position:     m.Position,
		Outcome:      core.OutcomeStatus(m.Outcome),
		ErrorNum:     core.ErrorNum(m.ErrorNum),
		Reason:       m.Reason,
		Payload:      m.Payload,
		Location:     m.Location,
		Info:         m.Info,
	}
}

// MongoStore keeps monitoring rows in a MongoDB collection named by the
// monitoring dataset (database) and table (collection).
type MongoStore struct {
	uri        string
	database   string
	collection string
	timeout    time.Duration

	mu     sync.Mutex
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore validates the location; the client connects on first use.
func NewMongoStore(uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, &MongoStoreError{Op: "validate", Err: fmt.Errorf("uri is required")}
	}
	if database == "" || collection == "" {
		return nil, &MongoStoreError{Op: "validate", Err: fmt.Errorf("database and collection are required")}
	}
	return &MongoStore{uri: uri, database: database, collection: collection, timeout: 30 * time.Second}, nil
}

func (s *MongoStore) connect(ctx context.Context) (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll != nil {
		return s.coll, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri).SetConnectTimeout(s.timeout))
	if err != nil {
		return nil, &MongoStoreError{Op: "connect", Err: err}
	}
	s.client = client
	s.coll = client.Database(s.database).Collection(s.collection)
	return s.coll, nil
}

func (s *MongoStore) Append(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	coll, err := s.connect(ctx)
	if err != nil {
		return err
	}
	docs := make([]interface{}, len(rows))
	for i, r := range rows {
		docs[i] = toMongoRow(r)
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return &MongoStoreError{Op: "insert", Err: err}
	}
	return nil
}

func (s *MongoStore) Markers(ctx context.Context, graph string) ([]Row, error) {
	filter := bson.M{
		"graph_name": graph,
		"entity":     bson.M{"$in": bson.A{string(EntityRun), string(EntityRetry)}},
	}
	return s.find(ctx, "markers", filter, bson.D{{Key: "run_timestamp", Value: 1}})
}

func (s *MongoStore) Records(ctx context.Context, graph, runID string, outcome core.OutcomeStatus) ([]Row, error) {
	filter := bson.M{
		"graph_name": graph,
		"run_id":     runID,
		"entity":     string(EntityRecord),
		"outcome":    string(outcome),
	}
	return s.find(ctx, "records", filter, bson.D{{Key: "location", Value: 1}, {Key: "position", Value: 1}})
}

func (s *MongoStore) ProcessedRanges(ctx context.Context, graph, task string, ts time.Time) ([]Range, error) {
	filter := bson.M{
		"graph_name":    graph,
		"task":          task,
		"entity":        string(EntityBlob),
		"run_timestamp": ts.UTC(),
	}
	rows, err := s.find(ctx, "processed_ranges", filter, bson.D{{Key: "position", Value: 1}})
	if err != nil {
		return nil, err
	}
	out := make([]Range, 0, len(rows))
	for _, r := range rows {
		out = append(out, rangeFromRow(r))
	}
	return out, nil
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, graph string, cutoff time.Time) (int64, error) {
	coll, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	filter := bson.M{"run_timestamp": bson.M{"$lt": cutoff.UTC()}}
	if graph != "" {
		filter["graph_name"] = graph
	}
	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, &MongoStoreError{Op: "delete", Err: err}
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.client.Disconnect(ctx)
	s.client, s.coll = nil, nil
	return err
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M, sort bson.D) ([]Row, error) {
	coll, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, &MongoStoreError{Op: op, Err: err}
	}
	defer cursor.Close(ctx)

	var docs []mongoRow
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &MongoStoreError{Op: op, Err: err}
	}
	out := make([]Row, len(docs))
	for i, d := range docs {
		out[i] = d.row()
	}
	return out, nil
}
