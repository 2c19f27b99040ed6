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

package hooks

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/gotransfer/core"
)

// WarehouseConfig holds the validated params of a warehouse table source.
type WarehouseConfig struct {
	DSN            string
	Dataset        string
	Table          string
	SelectedFields []string
	KeyColumn      string
	QueryTimeout   time.Duration
}

// DBOpener opens the warehouse connection.
type DBOpener func(dsn string) (*sql.DB, error)

func openPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

func parseWarehouseConfig(params Params) (WarehouseConfig, error) {
	r := newParamReader(string(SourceWarehouseTable), params)
	var cfg WarehouseConfig
	var err error

	if cfg.DSN, err = r.required("warehouse_dsn"); err != nil {
		return cfg, err
	}
	if cfg.Dataset, err = r.required("warehouse_dataset_id"); err != nil {
		return cfg, err
	}
	if cfg.Table, err = r.required("warehouse_table_id"); err != nil {
		return cfg, err
	}
	if cfg.SelectedFields, err = r.list("warehouse_selected_fields"); err != nil {
		return cfg, err
	}
	if cfg.KeyColumn, err = r.optional("warehouse_key_column", ""); err != nil {
		return cfg, err
	}
	seconds, err := r.integer("warehouse_query_timeout_seconds", 300)
	if err != nil {
		return cfg, err
	}
	if seconds <= 0 {
		return cfg, r.fail("warehouse_query_timeout_seconds", "must be positive")
	}
	cfg.QueryTimeout = time.Duration(seconds) * time.Second
	return cfg, nil
}

// Query builds the SELECT statement for the table. Identifiers are quoted.
func (c WarehouseConfig) Query() string {
	fields := "*"
	if len(c.SelectedFields) > 0 {
		quoted := make([]string, len(c.SelectedFields))
		for i, f := range c.SelectedFields {
			quoted[i] = pq.QuoteIdentifier(f)
		}
		fields = strings.Join(quoted, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s.%s", fields,
		pq.QuoteIdentifier(c.Dataset), pq.QuoteIdentifier(c.Table))
	if c.KeyColumn != "" {
		query += " ORDER BY " + pq.QuoteIdentifier(c.KeyColumn)
	}
	return query
}

// WarehouseStats holds statistics about the source's progress.
type WarehouseStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	NullValueCounts map[string]int64
}

// WarehouseSource streams the rows of one table. Records are keyed by the
// key column's value when configured, otherwise by row index.
type WarehouseSource struct {
	cfg    WarehouseConfig
	openDB DBOpener

	db          *sql.DB
	rows        *sql.Rows
	cancel      context.CancelFunc
	columnNames []string
	columnTypes []*sql.ColumnType
	values      []interface{}
	scanBuffer  []interface{}
	position    int
	finished    bool
	stats       WarehouseStats
}

// NewWarehouseSource validates params. The connection is opened on the
// first Read.
func NewWarehouseSource(params Params, opener DBOpener) (*WarehouseSource, error) {
	cfg, err := parseWarehouseConfig(params)
	if err != nil {
		return nil, err
	}
	if opener == nil {
		opener = openPostgres
	}
	return &WarehouseSource{
		cfg:    cfg,
		openDB: opener,
		stats:  WarehouseStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Config returns the validated configuration.
func (w *WarehouseSource) Config() WarehouseConfig {
	return w.cfg
}

// Read implements core.Readable.
func (w *WarehouseSource) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.SourceReadError{Op: "read", Err: err}
	}
	if w.finished {
		return nil, io.EOF
	}
	if w.rows == nil {
		if err := w.executeQuery(ctx); err != nil {
			return nil, err
		}
	}

	if !w.rows.Next() {
		if err := w.rows.Err(); err != nil {
			return nil, &core.SourceReadError{Op: "read", Err: err}
		}
		w.finished = true
		return nil, io.EOF
	}
	if err := w.rows.Scan(w.scanBuffer...); err != nil {
		return nil, &core.SourceReadError{Op: "scan", Err: err}
	}

	record := w.convertRowToRecord()
	key := fmt.Sprintf("%s:%d", w.Location(), w.position)
	if w.cfg.KeyColumn != "" {
		if v, ok := record[w.cfg.KeyColumn]; ok && v != nil {
			key = fmt.Sprintf("%s:%v", w.Location(), v)
		}
	}
	w.position++
	w.stats.RecordsRead++
	return record.WithKey(key), nil
}

// Location implements core.Located.
func (w *WarehouseSource) Location() string {
	return w.cfg.Dataset + "." + w.cfg.Table
}

// Stats returns source statistics.
func (w *WarehouseSource) Stats() WarehouseStats {
	return w.stats
}

// Close releases all resources held by the source.
func (w *WarehouseSource) Close() error {
	var errs []string
	if w.rows != nil {
		if err := w.rows.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("closing rows: %v", err))
		}
		w.rows = nil
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("closing database: %v", err))
		}
		w.db = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("warehouse close: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (w *WarehouseSource) executeQuery(ctx context.Context) error {
	if w.db == nil {
		db, err := w.openDB(w.cfg.DSN)
		if err != nil {
			return &core.SourceReadError{Op: "connect", Err: err}
		}
		w.db = db
	}

	start := time.Now()
	queryCtx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	rows, err := w.db.QueryContext(queryCtx, w.cfg.Query())
	if err != nil {
		cancel()
		return &core.SourceReadError{Op: "query", Err: err}
	}
	w.cancel = cancel
	w.rows = rows
	w.stats.QueryDuration = time.Since(start)

	if w.columnNames, err = rows.Columns(); err != nil {
		return &core.SourceReadError{Op: "columns", Err: err}
	}
	if w.columnTypes, err = rows.ColumnTypes(); err != nil {
		return &core.SourceReadError{Op: "column_types", Err: err}
	}

	w.values = make([]interface{}, len(w.columnNames))
	w.scanBuffer = make([]interface{}, len(w.columnNames))
	for i := range w.scanBuffer {
		w.scanBuffer[i] = &w.values[i]
	}
	return nil
}

// convertRowToRecord converts the scanned values. NULL columns are omitted.
func (w *WarehouseSource) convertRowToRecord() core.Record {
	record := make(core.Record, len(w.columnNames))
	for i, name := range w.columnNames {
		if w.values[i] == nil {
			w.stats.NullValueCounts[name]++
			continue
		}
		var dbType string
		if i < len(w.columnTypes) {
			dbType = w.columnTypes[i].DatabaseTypeName()
		}
		record[name] = convertSQLValue(w.values[i], dbType)
	}
	return record
}

// convertSQLValue converts SQL driver values to appropriate Go types.
func convertSQLValue(value interface{}, dbType string) interface{} {
	if b, ok := value.([]byte); ok {
		switch dbType {
		case "BYTEA":
			return b
		default:
			return string(b)
		}
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string:
		return v
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32:
			return rv.Float()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}
