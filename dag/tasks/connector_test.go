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

package tasks

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gotransfer/config"
	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/monitoring"
)

var runTS = time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)

func inputAt(ts time.Time) TaskInput {
	return TaskInput{Context: map[string]interface{}{RunTimestampKey: ts}}
}

func records(keys ...string) []core.Record {
	out := make([]core.Record, len(keys))
	for i, k := range keys {
		out[i] = core.Record{"id": k}.WithKey(k)
	}
	return out
}

// sliceSource yields records and fails with a parse error when next
// reaches failAt. locations, when set, names the blob of each record.
type sliceSource struct {
	records   []core.Record
	locations []string
	failAt    int
	next      int
	location  string
	closed    bool
}

func newSliceSource(recs []core.Record) *sliceSource {
	return &sliceSource{records: recs, failAt: -1}
}

func (s *sliceSource) Read(ctx context.Context) (core.Record, error) {
	if s.failAt >= 0 && s.next == s.failAt {
		return nil, &core.SourceReadError{Op: "parse", Err: errors.New("corrupt blob")}
	}
	if s.next >= len(s.records) {
		return nil, io.EOF
	}
	if s.locations != nil {
		s.location = s.locations[s.next]
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}

func (s *sliceSource) Location() string { return s.location }

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type recordingSink struct {
	fail    map[string]bool
	written []string
	closed  bool
}

func (s *recordingSink) Write(ctx context.Context, rec core.Record) core.Outcome {
	s.written = append(s.written, rec.Key())
	if s.fail[rec.Key()] {
		return core.Failure(core.ErrEventNotSent, "rejected by destination")
	}
	return core.Success()
}

func (s *recordingSink) Close() error { s.closed = true; return nil }

type batchSink struct {
	recordingSink
	max     int
	short   bool
	batches []int
}

func (s *batchSink) WriteBatch(ctx context.Context, recs []core.Record) []core.Outcome {
	s.batches = append(s.batches, len(recs))
	out := make([]core.Outcome, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.Write(ctx, rec))
	}
	if s.short {
		out = out[:len(out)-1]
	}
	return out
}

func (s *batchSink) MaxBatchSize() int { return s.max }

type failingStore struct {
	*monitoring.MemoryStore
}

func (f failingStore) Append(ctx context.Context, rows []monitoring.Row) error {
	return errors.New("monitoring table unavailable")
}

func sourceOf(src core.Readable) ReadableFactory {
	return func() (core.Readable, error) { return src, nil }
}

func sinkOf(sink core.Writable) WritableFactory {
	return func() (core.Writable, error) { return sink, nil }
}

func rowsOf(rows []monitoring.Row, entity monitoring.EntityType) []monitoring.Row {
	var out []monitoring.Row
	for _, r := range rows {
		if r.Entity == entity {
			out = append(out, r)
		}
	}
	return out
}

func TestConnector_RecordsEveryOutcome(t *testing.T) {
	store := monitoring.NewMemoryStore()
	src := newSliceSource(records("r1", "r2", "r3"))
	sink := &recordingSink{fail: map[string]bool{"r2": true}}
	task := NewConnectorTask("g1_task", ConnectorConfig{Graph: "g1", Store: store, ReturnReport: true},
		sourceOf(src), sinkOf(sink))

	out, err := task.Execute(context.Background(), inputAt(runTS))
	require.NoError(t, err)
	assert.Equal(t, StateDone, task.State())
	assert.True(t, src.closed)
	assert.True(t, sink.closed)

	require.NotNil(t, out.Report)
	assert.Equal(t, 3, out.Report.Total)
	assert.Equal(t, 2, out.Report.Succeeded)
	assert.Equal(t, 1, out.Report.Failed)
	assert.Equal(t, []core.FailureDetail{{Key: "r2", ErrorNum: core.ErrEventNotSent, Reason: "rejected by destination"}}, out.Report.Failures)

	rows := store.Rows()
	markers := rowsOf(rows, monitoring.EntityRun)
	require.Len(t, markers, 1)
	assert.Equal(t, out.Report.RunID, markers[0].RunID)

	recs := rowsOf(rows, monitoring.EntityRecord)
	require.Len(t, recs, 3)
	for i, want := range []struct {
		key     string
		outcome core.OutcomeStatus
	}{{"r1", core.StatusSuccess}, {"r2", core.StatusFailure}, {"r3", core.StatusSuccess}} {
		assert.Equal(t, want.key, recs[i].RecordKey)
		assert.Equal(t, want.outcome, recs[i].Outcome)
		assert.Equal(t, i, recs[i].Position)
		assert.True(t, recs[i].RunTimestamp.Equal(runTS))
	}
	assert.Empty(t, recs[0].Payload)
	assert.JSONEq(t, `{"id":"r2"}`, recs[1].Payload)
	assert.Equal(t, "rejected by destination", recs[1].Reason)

	blobs := rowsOf(rows, monitoring.EntityBlob)
	require.Len(t, blobs, 1)
	assert.Equal(t, "3", blobs[0].Info)
}

func TestConnector_ReportOnlyWhenRequested(t *testing.T) {
	task := NewConnectorTask("t", ConnectorConfig{Graph: "g"},
		sourceOf(newSliceSource(records("a"))), sinkOf(&recordingSink{}))
	out, err := task.Execute(context.Background(), inputAt(runTS))
	require.NoError(t, err)
	assert.Nil(t, out.Report)
	require.NotNil(t, out.Metadata.Report)
	assert.Equal(t, 1, out.Metadata.Report.Succeeded)
}

func TestConnector_SourceErrorMidStream(t *testing.T) {
	store := monitoring.NewMemoryStore()
	src := newSliceSource(records("r1", "r2", "r3"))
	src.failAt = 2
	sink := &recordingSink{}
	task := NewConnectorTask("t", ConnectorConfig{Graph: "g", Store: store}, sourceOf(src), sinkOf(sink))

	_, err := task.Execute(context.Background(), inputAt(runTS))
	var readErr *core.SourceReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "parse", readErr.Op)
	assert.Equal(t, StateFailed, task.State())
	assert.Equal(t, []string{"r1", "r2"}, sink.written)
	assert.Len(t, rowsOf(store.Rows(), monitoring.EntityRecord), 2)
}

func TestConnector_PlainSourceErrorIsWrapped(t *testing.T) {
	src := core.ReadableFunc(func(ctx context.Context) (core.Record, error) {
		return nil, errors.New("connection reset")
	})
	task := NewConnectorTask("t", ConnectorConfig{Graph: "g"}, sourceOf(src), sinkOf(&recordingSink{}))
	_, err := task.Execute(context.Background(), inputAt(runTS))
	var readErr *core.SourceReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "read", readErr.Op)
}

func TestConnector_MonitoringFailureIsNotFatal(t *testing.T) {
	store := failingStore{monitoring.NewMemoryStore()}
	sink := &recordingSink{fail: map[string]bool{"b": true}}
	task := NewConnectorTask("t", ConnectorConfig{Graph: "g", Store: store, ReturnReport: true},
		sourceOf(newSliceSource(records("a", "b"))), sinkOf(sink))

	out, err := task.Execute(context.Background(), inputAt(runTS))
	require.NoError(t, err)
	assert.Equal(t, StateDone, task.State())
	assert.Equal(t, 2, out.Report.Total)
	assert.NotEmpty(t, out.Report.RunID)
}

func TestConnector_ResumeSkipsProcessedRanges(t *testing.T) {
	store := monitoring.NewMemoryStore()
	cfg := ConnectorConfig{Graph: "g", Store: store, BatchSize: 1, ReturnReport: true}

	first := newSliceSource(records("r1", "r2", "r3"))
	first.failAt = 2
	_, err := NewConnectorTask("t", cfg, sourceOf(first), sinkOf(&recordingSink{})).
		Execute(context.Background(), inputAt(runTS))
	require.Error(t, err)

	sink := &recordingSink{}
	out, err := NewConnectorTask("t", cfg, sourceOf(newSliceSource(records("r1", "r2", "r3"))), sinkOf(sink)).
		Execute(context.Background(), inputAt(runTS))
	require.NoError(t, err)

	assert.Equal(t, []string{"r3"}, sink.written)
	assert.Equal(t, 2, out.Report.Skipped)
	assert.Equal(t, 1, out.Report.Total)

	markers := rowsOf(store.Rows(), monitoring.EntityRun)
	require.Len(t, markers, 1, "a resumed run keeps its marker")
	assert.Equal(t, markers[0].RunID, out.Report.RunID)
}

func TestConnector_PositionsRestartPerLocation(t *testing.T) {
	store := monitoring.NewMemoryStore()
	src := newSliceSource(records("a0", "a1", "b0"))
	src.locations = []string{"s3://bkt/a.json", "s3://bkt/a.json", "s3://bkt/b.json"}
	task := NewConnectorTask("t", ConnectorConfig{Graph: "g", Store: store}, sourceOf(src), sinkOf(&recordingSink{}))

	_, err := task.Execute(context.Background(), inputAt(runTS))
	require.NoError(t, err)

	recs := rowsOf(store.Rows(), monitoring.EntityRecord)
	require.Len(t, recs, 3)
	assert.Equal(t, 0, recs[2].Position)
	assert.Equal(t, "s3://bkt/b.json", recs[2].Location)

	ranges, err := store.ProcessedRanges(context.Background(), "g", "t", runTS)
	require.NoError(t, err)
	assert.ElementsMatch(t, []monitoring.Range{
		{Location: "s3://bkt/a.json", Start: 0, Count: 2},
		{Location: "s3://bkt/b.json", Start: 0, Count: 1},
	}, ranges)
}

func TestConnector_BatchSizeAndShortResults(t *testing.T) {
	sink := &batchSink{max: 2, short: true}
	task := NewConnectorTask("t", ConnectorConfig{Graph: "g", BatchSize: 10, ReturnReport: true},
		sourceOf(newSliceSource(records("a", "b", "c"))), sinkOf(sink))

	out, err := task.Execute(context.Background(), inputAt(runTS))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sink.batches)
	assert.Equal(t, 3, out.Report.Total)
	assert.Equal(t, 2, out.Report.Failed)
	for _, f := range out.Report.Failures {
		assert.Equal(t, core.ErrEventNotSent, f.ErrorNum)
	}
}

func TestConnector_FailurePolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  config.FailurePolicy
		fail    []string
		wantErr bool
	}{
		{"tolerate all failed", config.PolicyTolerate, []string{"a", "b", "c"}, false},
		{"all failed", config.PolicyFailOnAllFailed, []string{"a", "b", "c"}, true},
		{"two of three failed", config.PolicyFailOnAllFailed, []string{"a", "b"}, false},
		{"zero failures required", config.PolicyRequireZeroFailures, []string{"b"}, true},
		{"zero failures met", config.PolicyRequireZeroFailures, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := monitoring.NewMemoryStore()
			fail := map[string]bool{}
			for _, k := range tt.fail {
				fail[k] = true
			}
			task := NewConnectorTask("t", ConnectorConfig{Graph: "g", Store: store, Policy: tt.policy},
				sourceOf(newSliceSource(records("a", "b", "c"))), sinkOf(&recordingSink{fail: fail}))

			_, err := task.Execute(context.Background(), inputAt(runTS))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, StateDone, task.State())
				return
			}
			var runErr *core.RunFailedError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, len(tt.fail), runErr.Failed)
			assert.Equal(t, 3, runErr.Total)
			assert.Equal(t, StateFailed, task.State())
			assert.Len(t, rowsOf(store.Rows(), monitoring.EntityRecord), 3, "rows are written before the policy applies")
		})
	}
}

func TestConnector_HookFactoryError(t *testing.T) {
	task := NewConnectorTask("t", ConnectorConfig{Graph: "g"},
		func() (core.Readable, error) { return nil, &core.InvalidHookConfigError{Kind: "object_storage", Param: "s3_bucket", Err: errors.New("required")} },
		sinkOf(&recordingSink{}))
	_, err := task.Execute(context.Background(), inputAt(runTS))
	assert.True(t, core.IsConfigError(err))
	assert.Equal(t, StateFailed, task.State())
}

func TestNormalizeOutcomes(t *testing.T) {
	long := []core.Outcome{core.Success(), core.Success(), core.Success()}
	assert.Len(t, normalizeOutcomes(long, 2), 2)
	padded := normalizeOutcomes([]core.Outcome{core.Success()}, 2)
	assert.Equal(t, core.ErrEventNotSent, padded[1].ErrorNum)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&core.SourceReadError{Op: "list", Err: errors.New("timeout")}))
	assert.False(t, IsTransient(&core.RunFailedError{}))
	assert.False(t, IsTransient(&core.ConfigurationError{Graph: "g", Err: errors.New("x")}))
	assert.False(t, IsTransient(&core.MonitoringCleanupError{Op: core.CleanupOpRetention, Err: errors.New("got 0")}))
	assert.True(t, IsTransient(&core.MonitoringCleanupError{Op: core.CleanupOpDelete, Err: errors.New("connection reset by peer")}))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
