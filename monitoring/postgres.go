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
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/singleflight"

	"github.com/aaronlmathis/gotransfer/core"
)

// PostgresStoreError wraps monitoring table failures with the operation.
type PostgresStoreError struct {
	Op  string
	Err error
}

func (e *PostgresStoreError) Error() string {
	return fmt.Sprintf("postgres monitoring %s: %v", e.Op, e.Err)
}

func (e *PostgresStoreError) Unwrap() error {
	return e.Err
}

// PostgresStoreOptions configures the PostgreSQL monitoring table.
type PostgresStoreOptions struct {
	DSN             string        // PostgreSQL connection string
	Schema          string        // Schema holding the table (monitoring dataset)
	Table           string        // Monitoring table name
	CreateTable     bool          // Create schema and table on first use
	MaxOpenConns    int           // Max open connections
	MaxIdleConns    int           // Max idle connections
	ConnMaxLifetime time.Duration // Max connection lifetime
	ConnMaxIdleTime time.Duration // Max idle connection time
	QueryTimeout    time.Duration // Timeout applied to every statement
}

// PostgresStoreOption represents a configuration function for PostgresStoreOptions.
type PostgresStoreOption func(*PostgresStoreOptions)

func WithPostgresDSN(dsn string) PostgresStoreOption {
	return func(o *PostgresStoreOptions) { o.DSN = dsn }
}

func WithPostgresTable(schema, table string) PostgresStoreOption {
	return func(o *PostgresStoreOptions) {
		o.Schema = schema
		o.Table = table
	}
}

func WithPostgresCreateTable(create bool) PostgresStoreOption {
	return func(o *PostgresStoreOptions) { o.CreateTable = create }
}

func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) PostgresStoreOption {
	return func(o *PostgresStoreOptions) {
		o.MaxOpenConns = maxOpen
		o.MaxIdleConns = maxIdle
		o.ConnMaxLifetime = maxLifetime
		o.ConnMaxIdleTime = maxIdleTime
	}
}

func WithPostgresQueryTimeout(timeout time.Duration) PostgresStoreOption {
	return func(o *PostgresStoreOptions) { o.QueryTimeout = timeout }
}

func (o *PostgresStoreOptions) withDefaults() *PostgresStoreOptions {
	if o.QueryTimeout == 0 {
		o.QueryTimeout = 30 * time.Second
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	if o.ConnMaxIdleTime == 0 {
		o.ConnMaxIdleTime = time.Minute
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 5
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 2
	}
	return o
}

// PostgresStore keeps monitoring rows in a PostgreSQL table. The connection
// is opened lazily; the table is bootstrapped once on first use.
type PostgresStore struct {
	db      *sql.DB
	opts    PostgresStoreOptions
	table   string
	group   singleflight.Group
	mu      sync.Mutex
	ensured bool
}

// NewPostgresStore validates options and prepares a connection pool.
func NewPostgresStore(options ...PostgresStoreOption) (*PostgresStore, error) {
	opts := (&PostgresStoreOptions{CreateTable: true}).withDefaults()
	for _, opt := range options {
		opt(opts)
	}
	if opts.DSN == "" {
		return nil, &PostgresStoreError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}
	if opts.Table == "" {
		return nil, &PostgresStoreError{Op: "validate", Err: fmt.Errorf("table name is required")}
	}

	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, &PostgresStoreError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	return &PostgresStore{
		db:    db,
		opts:  *opts,
		table: qualifiedTable(opts.Schema, opts.Table),
	}, nil
}

func qualifiedTable(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

const monitoringColumns = "graph_name, task, run_timestamp, run_id, entity, record_key, position, outcome, error_num, reason, payload, location, info"

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	graph_name    TEXT        NOT NULL,
	task          TEXT        NOT NULL DEFAULT '',
	run_timestamp TIMESTAMPTZ NOT NULL,
	run_id        TEXT        NOT NULL DEFAULT '',
	entity        TEXT        NOT NULL,
	record_key    TEXT        NOT NULL DEFAULT '',
	position      BIGINT      NOT NULL DEFAULT 0,
	outcome       TEXT        NOT NULL DEFAULT '',
	error_num     INTEGER     NOT NULL DEFAULT 0,
	reason        TEXT        NOT NULL DEFAULT '',
	payload       TEXT        NOT NULL DEFAULT '',
	location      TEXT        NOT NULL DEFAULT '',
	info          TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
}

func insertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)", table, monitoringColumns)
}

func deleteSQL(table, graph string) (string, []interface{}) {
	if graph == "" {
		return fmt.Sprintf("DELETE FROM %s WHERE run_timestamp < $1", table), nil
	}
	return fmt.Sprintf("DELETE FROM %s WHERE run_timestamp < $1 AND graph_name = $2", table), []interface{}{graph}
}

// ensureTable creates the schema and table once. Concurrent callers share
// one bootstrap.
func (s *PostgresStore) ensureTable(ctx context.Context) error {
	s.mu.Lock()
	done := s.ensured
	s.mu.Unlock()
	if done || !s.opts.CreateTable {
		return nil
	}

	_, err, _ := s.group.Do("ensure", func() (interface{}, error) {
		if s.opts.Schema != "" {
			if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(s.opts.Schema)); err != nil {
				return nil, err
			}
		}
		if _, err := s.db.ExecContext(ctx, createTableSQL(s.table)); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.ensured = true
		s.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return &PostgresStoreError{Op: "create_table", Err: err}
	}
	return nil
}

// Append writes rows in a single transaction.
func (s *PostgresStore) Append(ctx context.Context, rows []Row) (err error) {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PostgresStoreError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL(s.table))
	if err != nil {
		return &PostgresStoreError{Op: "prepare", Err: err}
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx,
			r.GraphName, r.Task, r.RunTimestamp.UTC(), r.RunID, string(r.Entity), r.RecordKey,
			r.Position, string(r.Outcome), int(r.ErrorNum), r.Reason, r.Payload, r.Location, r.Info,
		); err != nil {
			return &PostgresStoreError{Op: "insert", Err: err}
		}
	}
	if err = tx.Commit(); err != nil {
		return &PostgresStoreError{Op: "commit", Err: err}
	}
	return nil
}

func (s *PostgresStore) Markers(ctx context.Context, graph string) ([]Row, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE graph_name = $1 AND entity IN ($2, $3) ORDER BY run_timestamp", monitoringColumns, s.table)
	return s.query(ctx, "markers", q, graph, string(EntityRun), string(EntityRetry))
}

func (s *PostgresStore) Records(ctx context.Context, graph, runID string, outcome core.OutcomeStatus) ([]Row, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE graph_name = $1 AND run_id = $2 AND entity = $3 AND outcome = $4 ORDER BY location, position", monitoringColumns, s.table)
	return s.query(ctx, "records", q, graph, runID, string(EntityRecord), string(outcome))
}

func (s *PostgresStore) ProcessedRanges(ctx context.Context, graph, task string, ts time.Time) ([]Range, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE graph_name = $1 AND task = $2 AND entity = $3 AND run_timestamp = $4 ORDER BY position", monitoringColumns, s.table)
	rows, err := s.query(ctx, "processed_ranges", q, graph, task, string(EntityBlob), ts.UTC())
	if err != nil {
		return nil, err
	}
	out := make([]Range, 0, len(rows))
	for _, r := range rows {
		out = append(out, rangeFromRow(r))
	}
	return out, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, graph string, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	if err := s.ensureTable(ctx); err != nil {
		return 0, err
	}
	q, extra := deleteSQL(s.table, graph)
	res, err := s.db.ExecContext(ctx, q, append([]interface{}{cutoff.UTC()}, extra...)...)
	if err != nil {
		return 0, &PostgresStoreError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &PostgresStoreError{Op: "delete", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) query(ctx context.Context, op, q string, args ...interface{}) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &PostgresStoreError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r        Row
			entity   string
			outcome  string
			errorNum int
		)
		if err := rows.Scan(&r.GraphName, &r.Task, &r.RunTimestamp, &r.RunID, &entity, &r.RecordKey,
			&r.Position, &outcome, &errorNum, &r.Reason, &r.Payload, &r.Location, &r.Info); err != nil {
			return nil, &PostgresStoreError{Op: op + "_scan", Err: err}
		}
		r.Entity = EntityType(entity)
		r.Outcome = core.OutcomeStatus(outcome)
		r.ErrorNum = core.ErrorNum(errorNum)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &PostgresStoreError{Op: op, Err: err}
	}
	return out, nil
}
