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

// retry.go - replay of the previous run's failed records
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/logging"
	"github.com/aaronlmathis/gotransfer/metrics"
	"github.com/aaronlmathis/gotransfer/monitoring"
	"github.com/aaronlmathis/gotransfer/readers"
)

// Reserved fields set on replayed records whose stored payload could not be
// decoded. Such records are failed with ErrReplayDecode without being sent.
const (
	replayErrorField = "_replay_error"
	replayRawField   = "_replay_raw"
)

// Replay is the Readable over one pending run's failed records, in the
// order they were first written.
type Replay struct {
	Pending monitoring.PendingRun
	records []core.Record
	next    int
}

// Read implements core.Readable.
func (r *Replay) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.next >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.next]
	r.next++
	return rec, nil
}

// Close implements core.Readable.
func (r *Replay) Close() error { return nil }

// Len returns the number of records to replay.
func (r *Replay) Len() int { return len(r.records) }

// RetryCoordinator builds the replay input of a graph from its monitoring
// rows. Only the failures of the most recent unreplayed main run are read.
type RetryCoordinator struct {
	store monitoring.Store
	graph string
}

// NewRetryCoordinator creates a coordinator for graph.
func NewRetryCoordinator(store monitoring.Store, graph string) *RetryCoordinator {
	return &RetryCoordinator{store: store, graph: graph}
}

// Source returns the replay of the pending run, or nil when there is no
// pending run or it recorded no failures.
func (rc *RetryCoordinator) Source(ctx context.Context) (*Replay, error) {
	pending, ok, err := monitoring.PendingRetry(ctx, rc.store, rc.graph)
	if err != nil {
		return nil, &core.SourceReadError{Op: "replay", Err: err}
	}
	if !ok {
		return nil, nil
	}

	rows, err := rc.store.Records(ctx, rc.graph, pending.RunID, core.StatusFailure)
	if err != nil {
		return nil, &core.SourceReadError{Op: "replay", Err: fmt.Errorf("read failures of run %s: %w", pending.RunID, err)}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	replay := &Replay{Pending: pending, records: make([]core.Record, 0, len(rows))}
	for _, row := range rows {
		rec, err := readers.DecodeJSONRecord([]byte(row.Payload))
		if err != nil {
			rec = core.Record{
				replayErrorField: fmt.Sprintf("stored payload not decodable: %v", err),
				replayRawField:   row.Payload,
			}
		}
		replay.records = append(replay.records, rec.WithKey(row.RecordKey))
	}
	return replay, nil
}

// MarkReplayed appends the retry marker naming the replayed run, so a later
// retry with no new main run in between has nothing to do.
func (rc *RetryCoordinator) MarkReplayed(ctx context.Context, replay *Replay, task string, ts time.Time, runID string) error {
	err := rc.store.Append(ctx, []monitoring.Row{{
		GraphName:    rc.graph,
		Task:         task,
		RunTimestamp: ts,
		RunID:        runID,
		Entity:       monitoring.EntityRetry,
		Info:         replay.Pending.RunID,
	}})
	if err != nil {
		return &core.MonitoringWriteError{Op: "retry_marker", Err: err}
	}
	return nil
}

// RetryTask replays the failures of the previous main run through a fresh
// destination hook. It is a successful no-op when nothing is pending.
type RetryTask struct {
	baseTask
	coordinator *RetryCoordinator
	connector   *ConnectorTask
}

// NewRetryTask creates the retry task of a graph. cfg.Store must be the
// store the coordinator reads.
func NewRetryTask(id string, coordinator *RetryCoordinator, cfg ConnectorConfig, sink WritableFactory, opts ...TaskOption) *RetryTask {
	t := &RetryTask{
		baseTask:    newBaseTask(id, TaskTypeRetry, nil),
		coordinator: coordinator,
		connector:   NewConnectorTask(id, cfg, nil, sink),
	}
	applyOptions(t, opts)
	return t
}

// State returns the state of the most recent replay.
func (t *RetryTask) State() ConnectorState {
	return t.connector.State()
}

// Execute implements Task.
func (t *RetryTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	log := logging.FromContext(ctx).With("graph", t.coordinator.graph, "task", t.id)

	replay, err := t.coordinator.Source(ctx)
	if err != nil {
		return TaskOutput{}, err
	}
	if replay == nil {
		log.Info("nothing to replay")
		return TaskOutput{
			Context:  input.Context,
			Metadata: TaskResultMetadata{StartTime: start, EndTime: time.Now()},
		}, nil
	}

	log.Info("replaying failed records", "replayed_run_id", replay.Pending.RunID, "records", replay.Len())
	out, report, runErr := t.connector.run(ctx, input, replay, false)

	var policy *core.RunFailedError
	if runErr != nil && !errors.As(runErr, &policy) {
		return out, runErr
	}
	if err := t.coordinator.MarkReplayed(ctx, replay, t.id, report.RunTimestamp, report.RunID); err != nil {
		log.Warn("monitoring write failed", "error", err)
		metrics.MonitoringWriteErrors.WithLabelValues(t.coordinator.graph).Inc()
	}
	return out, runErr
}
