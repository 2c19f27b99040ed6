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

// connector.go - ConnectorTask moves records from one source hook to one
// destination hook and records every outcome.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aaronlmathis/gotransfer/config"
	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/logging"
	"github.com/aaronlmathis/gotransfer/metrics"
	"github.com/aaronlmathis/gotransfer/monitoring"
)

// DefaultBatchSize applies when neither the graph nor the destination names
// a batch size.
const DefaultBatchSize = 500

// ConnectorState is the observable state of a connector run.
type ConnectorState string

const (
	StateIdle      ConnectorState = "idle"
	StateReading   ConnectorState = "reading"
	StateWriting   ConnectorState = "writing"
	StateReporting ConnectorState = "reporting"
	StateDone      ConnectorState = "done"
	StateFailed    ConnectorState = "failed"
)

// ReadableFactory builds a fresh source hook for one run.
type ReadableFactory func() (core.Readable, error)

// WritableFactory builds a fresh destination hook for one run.
type WritableFactory func() (core.Writable, error)

// ConnectorConfig holds the graph-level settings a connector run needs.
// A nil Store disables monitoring.
type ConnectorConfig struct {
	Graph        string
	Store        monitoring.Store
	BatchSize    int
	Policy       config.FailurePolicy
	ReturnReport bool
}

// ConnectorTask reads every record of a source, writes it to a destination
// and appends one monitoring row per outcome.
type ConnectorTask struct {
	baseTask
	cfg       ConnectorConfig
	newSource ReadableFactory
	newSink   WritableFactory

	mu    sync.Mutex
	state ConnectorState
}

// NewConnectorTask creates a connector. Hooks are built from the factories
// at the start of every run and closed at its end.
func NewConnectorTask(id string, cfg ConnectorConfig, source ReadableFactory, sink WritableFactory, opts ...TaskOption) *ConnectorTask {
	t := &ConnectorTask{
		baseTask:  newBaseTask(id, TaskTypeConnector, nil),
		cfg:       cfg,
		newSource: source,
		newSink:   sink,
		state:     StateIdle,
	}
	applyOptions(t, opts)
	return t
}

// State returns the current run state.
func (c *ConnectorTask) State() ConnectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ConnectorTask) setState(s ConnectorState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Execute implements Task.
func (c *ConnectorTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	c.setState(StateIdle)
	source, err := c.newSource()
	if err != nil {
		c.setState(StateFailed)
		return TaskOutput{}, err
	}
	out, _, err := c.run(ctx, input, source, true)
	return out, err
}

// run drives one pass over source. writeMarker is false for replays, which
// are identified by a retry marker instead.
func (c *ConnectorTask) run(ctx context.Context, input TaskInput, source core.Readable, writeMarker bool) (TaskOutput, core.RunReport, error) {
	start := time.Now()
	defer source.Close()

	ts := input.RunTimestamp()
	if ts.IsZero() {
		ts = start.UTC()
	}

	r := &connectorRun{
		task: c,
		ts:   ts,
		log:  logging.FromContext(ctx).With("graph", c.cfg.Graph, "task", c.id, "run_timestamp", ts),
	}

	sink, err := c.newSink()
	if err != nil {
		c.setState(StateFailed)
		return TaskOutput{}, core.RunReport{}, err
	}
	defer sink.Close()
	r.sink = sink
	r.batchSize = c.batchSize(sink)

	r.begin(ctx, writeMarker)
	r.log = r.log.With("run_id", r.runID)

	readErr := r.stream(ctx, source)
	r.flush(ctx)

	report := r.report
	report.Graph = c.cfg.Graph
	report.Task = c.id
	report.RunTimestamp = ts
	report.RunID = r.runID

	out := TaskOutput{
		Context: input.Context,
		Metadata: TaskResultMetadata{
			StartTime:  start,
			EndTime:    time.Now(),
			RecordsIn:  int64(report.Total + report.Skipped),
			RecordsOut: int64(report.Succeeded),
			Report:     &report,
		},
	}
	if c.cfg.ReturnReport {
		out.Report = &report
	}
	metrics.RunDuration.WithLabelValues(c.cfg.Graph, c.id).Observe(time.Since(start).Seconds())

	if readErr != nil {
		c.setState(StateFailed)
		metrics.RunsTotal.WithLabelValues(c.cfg.Graph, c.id, string(StateFailed)).Inc()
		r.log.Error("source read failed", "error", readErr, "written", report.Total)
		return out, report, readErr
	}

	r.log.Info("run finished", "total", report.Total, "succeeded", report.Succeeded,
		"failed", report.Failed, "skipped", report.Skipped)

	if c.cfg.Policy.Violated(report.Total, report.Failed) {
		c.setState(StateFailed)
		metrics.RunsTotal.WithLabelValues(c.cfg.Graph, c.id, string(StateFailed)).Inc()
		return out, report, &core.RunFailedError{
			Graph:  c.cfg.Graph,
			Policy: string(c.cfg.Policy),
			Failed: report.Failed,
			Total:  report.Total,
		}
	}

	c.setState(StateDone)
	metrics.RunsTotal.WithLabelValues(c.cfg.Graph, c.id, string(StateDone)).Inc()
	return out, report, nil
}

// batchSize is the graph batch size capped by the destination maximum.
func (c *ConnectorTask) batchSize(sink core.Writable) int {
	size := c.cfg.BatchSize
	if bw, ok := sink.(core.BatchWritable); ok {
		if limit := bw.MaxBatchSize(); limit > 0 && (size <= 0 || size > limit) {
			size = limit
		}
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	return size
}

type pendingRecord struct {
	record   core.Record
	position int
	location string
}

// connectorRun is the state of a single pass.
type connectorRun struct {
	task      *ConnectorTask
	log       *slog.Logger
	ts        time.Time
	runID     string
	sink      core.Writable
	batchSize int
	processed []monitoring.Range
	pending   []pendingRecord
	report    core.RunReport
}

func (r *connectorRun) store() monitoring.Store {
	return r.task.cfg.Store
}

// begin assigns the run id, resuming an interrupted run of the same
// timestamp when its marker exists, and loads the ranges already written.
func (r *connectorRun) begin(ctx context.Context, writeMarker bool) {
	store := r.store()
	if store == nil {
		r.runID = ulid.Make().String()
		return
	}
	graph, task := r.task.cfg.Graph, r.task.id

	if writeMarker {
		marker, found, err := monitoring.FindRunMarker(ctx, store, graph, task, r.ts)
		if err != nil {
			r.monitoringFailed("find_marker", err)
		} else if found {
			r.runID = marker.RunID
			r.log.Info("resuming run", "run_id", r.runID)
		}
	}
	if r.runID == "" {
		r.runID = ulid.Make().String()
		if writeMarker {
			r.append(ctx, "run_marker", []monitoring.Row{{
				GraphName:    graph,
				Task:         task,
				RunTimestamp: r.ts,
				RunID:        r.runID,
				Entity:       monitoring.EntityRun,
			}})
		}
	}

	ranges, err := store.ProcessedRanges(ctx, graph, task, r.ts)
	if err != nil {
		r.monitoringFailed("processed_ranges", err)
		return
	}
	r.processed = ranges
}

func (r *connectorRun) stream(ctx context.Context, source core.Readable) error {
	located, _ := source.(core.Located)
	location := ""
	position := 0

	for {
		if err := ctx.Err(); err != nil {
			return &core.SourceReadError{Op: "read", Err: err}
		}
		r.task.setState(StateReading)
		record, err := source.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var srcErr *core.SourceReadError
			if errors.As(err, &srcErr) {
				return err
			}
			return &core.SourceReadError{Op: "read", Err: err}
		}

		loc := ""
		if located != nil {
			loc = located.Location()
		}
		if loc != location {
			location = loc
			position = 0
		}
		pos := position
		position++

		if r.alreadyProcessed(loc, pos) {
			r.report.Skipped++
			metrics.RecordsTotal.WithLabelValues(r.task.cfg.Graph, "skipped").Inc()
			continue
		}
		if n := len(r.pending); n > 0 {
			last := r.pending[n-1]
			if last.location != loc || last.position+1 != pos {
				r.flush(ctx)
			}
		}
		r.pending = append(r.pending, pendingRecord{record: record, position: pos, location: loc})
		if len(r.pending) >= r.batchSize {
			r.flush(ctx)
		}
	}
}

func (r *connectorRun) alreadyProcessed(location string, position int) bool {
	for _, rg := range r.processed {
		if rg.Location == location && rg.Contains(position) {
			return true
		}
	}
	return false
}

// flush writes the pending batch and reports its outcomes.
func (r *connectorRun) flush(ctx context.Context) {
	if len(r.pending) == 0 {
		return
	}
	batch := r.pending
	r.pending = nil

	r.task.setState(StateWriting)
	outcomes := r.write(ctx, batch)

	r.task.setState(StateReporting)
	r.record(ctx, batch, outcomes)
}

func (r *connectorRun) write(ctx context.Context, batch []pendingRecord) []core.Outcome {
	outcomes := make([]core.Outcome, len(batch))
	send := make([]core.Record, 0, len(batch))
	index := make([]int, 0, len(batch))
	for i, p := range batch {
		if reason, ok := p.record[replayErrorField].(string); ok {
			outcomes[i] = core.Failure(core.ErrReplayDecode, reason)
			continue
		}
		send = append(send, p.record)
		index = append(index, i)
	}
	if len(send) == 0 {
		return outcomes
	}

	var results []core.Outcome
	if bw, ok := r.sink.(core.BatchWritable); ok {
		results = normalizeOutcomes(bw.WriteBatch(ctx, send), len(send))
	} else {
		results = make([]core.Outcome, len(send))
		for i, rec := range send {
			results[i] = r.sink.Write(ctx, rec)
		}
	}
	for j, i := range index {
		outcomes[i] = results[j]
	}
	return outcomes
}

// normalizeOutcomes pads or truncates a destination result to n entries.
func normalizeOutcomes(outcomes []core.Outcome, n int) []core.Outcome {
	if len(outcomes) == n {
		return outcomes
	}
	out := make([]core.Outcome, n)
	copy(out, outcomes)
	for i := len(outcomes); i < n; i++ {
		out[i] = core.Failure(core.ErrEventNotSent, "destination returned no outcome for record")
	}
	return out
}

func (r *connectorRun) record(ctx context.Context, batch []pendingRecord, outcomes []core.Outcome) {
	graph, task := r.task.cfg.Graph, r.task.id
	store := r.store()

	var rows []monitoring.Row
	for i, p := range batch {
		o := outcomes[i]
		key := p.record.Key()
		r.report.Total++
		if o.Succeeded() {
			r.report.Succeeded++
			metrics.RecordsTotal.WithLabelValues(graph, "success").Inc()
		} else {
			r.report.Failed++
			r.report.Failures = append(r.report.Failures, core.FailureDetail{Key: key, ErrorNum: o.ErrorNum, Reason: o.Reason})
			metrics.RecordsTotal.WithLabelValues(graph, "failure").Inc()
			r.log.Debug("record failed", "key", key, "error_num", int(o.ErrorNum), "reason", o.Reason)
		}
		if store == nil {
			continue
		}

		row := monitoring.Row{
			GraphName:    graph,
			Task:         task,
			RunTimestamp: r.ts,
			RunID:        r.runID,
			Entity:       monitoring.EntityRecord,
			RecordKey:    key,
			Position:     p.position,
			Outcome:      o.Status,
			ErrorNum:     o.ErrorNum,
			Reason:       o.Reason,
			Location:     p.location,
		}
		if !o.Succeeded() {
			row.Payload = r.encodePayload(p.record)
		}
		rows = append(rows, row)
	}
	if store == nil {
		return
	}

	rows = append(rows, monitoring.BlobRow(graph, task, r.ts, r.runID, monitoring.Range{
		Location: batch[0].location,
		Start:    batch[0].position,
		Count:    len(batch),
	}))
	r.append(ctx, "append", rows)
}

func (r *connectorRun) encodePayload(rec core.Record) string {
	if raw, ok := rec[replayRawField].(string); ok {
		return raw
	}
	data, err := json.Marshal(rec.Payload())
	if err != nil {
		r.log.Debug("payload not encodable", "key", rec.Key(), "error", err)
		return ""
	}
	return string(data)
}

func (r *connectorRun) append(ctx context.Context, op string, rows []monitoring.Row) {
	if err := r.store().Append(ctx, rows); err != nil {
		r.monitoringFailed(op, err)
	}
}

// monitoringFailed logs and counts a monitoring error. It never fails the
// run.
func (r *connectorRun) monitoringFailed(op string, err error) {
	werr := &core.MonitoringWriteError{Op: op, Err: err}
	r.log.Warn("monitoring write failed", "error", werr)
	metrics.MonitoringWriteErrors.WithLabelValues(r.task.cfg.Graph).Inc()
}
