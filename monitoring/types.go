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

// Package monitoring records per-run outcomes so failed records can be
// replayed and old rows can be expired.
//
// Rows are append-only. A row is never updated, only superseded by rows of
// a later run and eventually removed by retention cleanup.
package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/aaronlmathis/gotransfer/core"
)

// EntityType tags what a row describes.
type EntityType string

const (
	// EntityRun marks the start of a main run. Its RunID names the run.
	EntityRun EntityType = "run"
	// EntityRetry marks a completed replay. Info holds the replayed RunID.
	EntityRetry EntityType = "retry"
	// EntityBlob records a processed position range. Position is the first
	// position and Info the number of records.
	EntityBlob EntityType = "blob"
	// EntityRecord holds one record's outcome.
	EntityRecord EntityType = "record"
)

// Row is one persisted monitoring tuple.
type Row struct {
	GraphName    string
	Task         string
	RunTimestamp time.Time
	RunID        string
	Entity       EntityType
	RecordKey    string
	Position     int
	Outcome      core.OutcomeStatus
	ErrorNum     core.ErrorNum
	Reason       string
	Payload      string
	Location     string
	Info         string
}

// Range is a run of consecutive positions already written.
type Range struct {
	Location string
	Start    int
	Count    int
}

// Contains reports whether position falls inside the range.
func (r Range) Contains(position int) bool {
	return position >= r.Start && position < r.Start+r.Count
}

// BlobRow builds the row recording a processed range.
func BlobRow(graph, task string, ts time.Time, runID string, r Range) Row {
	return Row{
		GraphName:    graph,
		Task:         task,
		RunTimestamp: ts,
		RunID:        runID,
		Entity:       EntityBlob,
		Position:     r.Start,
		Location:     r.Location,
		Info:         strconv.Itoa(r.Count),
	}
}

func rangeFromRow(row Row) Range {
	n, _ := strconv.Atoi(row.Info)
	return Range{Location: row.Location, Start: row.Position, Count: n}
}

// Store is the monitoring table collaborator. Implementations must be safe
// for concurrent Append across graphs.
type Store interface {
	// Append writes rows; it never modifies existing rows.
	Append(ctx context.Context, rows []Row) error
	// Markers returns the run and retry markers of graph ordered by run
	// timestamp.
	Markers(ctx context.Context, graph string) ([]Row, error)
	// Records returns the record rows of one run with the given outcome,
	// ordered by location then position.
	Records(ctx context.Context, graph, runID string, outcome core.OutcomeStatus) ([]Row, error)
	// ProcessedRanges returns the ranges a task already wrote for a run
	// timestamp.
	ProcessedRanges(ctx context.Context, graph, task string, ts time.Time) ([]Range, error)
	// DeleteOlderThan removes rows with a run timestamp before cutoff. An
	// empty graph matches every graph.
	DeleteOlderThan(ctx context.Context, graph string, cutoff time.Time) (int64, error)
	Close() error
}
