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

package dag

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/dag/tasks"
)

func emptySource() (core.Readable, error) {
	return core.ReadableFunc(func(ctx context.Context) (core.Record, error) {
		return nil, io.EOF
	}), nil
}

func acceptAll() (core.Writable, error) {
	return core.WritableFunc(func(ctx context.Context, rec core.Record) core.Outcome {
		return core.Success()
	}), nil
}

func okTask(id string, opts ...tasks.TaskOption) tasks.Task {
	return tasks.NewConnectorTask(id, tasks.ConnectorConfig{Graph: "g", ReturnReport: true}, emptySource, acceptAll, opts...)
}

// failingTask fails every attempt with err and counts the attempts.
func failingTask(id string, err error, attempts *int32, opts ...tasks.TaskOption) tasks.Task {
	source := func() (core.Readable, error) {
		atomic.AddInt32(attempts, 1)
		return nil, err
	}
	return tasks.NewConnectorTask(id, tasks.ConnectorConfig{Graph: "g"}, source, acceptAll, opts...)
}

func quietExecutor() *DAGExecutor {
	return NewDAGExecutor(WithBackoffStrategy(&tasks.FixedBackoff{}))
}

func TestBuild_Validation(t *testing.T) {
	_, err := NewDAG("g", "g").
		AddTask(okTask("a", tasks.WithDependencies("b"))).
		AddTask(okTask("b", tasks.WithDependencies("a"))).
		Build()
	assert.ErrorContains(t, err, "cycles")

	_, err = NewDAG("g", "g").AddTask(okTask("a", tasks.WithDependencies("missing"))).Build()
	assert.ErrorContains(t, err, "non-existent task missing")

	_, err = NewDAG("g", "g").AddTask(okTask("a")).AddTask(okTask("a")).Build()
	assert.ErrorContains(t, err, "duplicate task id a")

	_, err = NewDAG("g", "g").AddTask(okTask("a", tasks.WithTriggerRule("sometimes"))).Build()
	assert.ErrorContains(t, err, "unknown trigger rule")
}

func TestBuild_DefaultRetriesAndOrder(t *testing.T) {
	defaults := &tasks.RetryConfig{MaxRetries: 1, Backoff: 3 * time.Minute}
	own := &tasks.RetryConfig{MaxRetries: 0}
	d, err := NewDAG("g", "g").
		WithDefaultRetries(defaults).
		AddTask(okTask("main")).
		AddTask(okTask("retry", tasks.WithDependencies("main"), tasks.WithTriggerRule(TriggerAllDone))).
		AddTask(okTask("cleanup", tasks.WithRetryConfig(own))).
		Build()
	require.NoError(t, err)

	assert.Same(t, defaults, d.tasks["main"].Metadata().RetryConfig)
	assert.Same(t, own, d.tasks["cleanup"].Metadata().RetryConfig)

	order, err := d.GetExecutionOrder()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"main", "cleanup", "retry"}, order); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"retry"}, d.GetDownstreamTasks("main"))
	assert.Equal(t, 2, d.Summary()["max_depth"])

	var buf bytes.Buffer
	d.Describe(&buf)
	assert.Contains(t, buf.String(), "depends on: main (all_done)")
	assert.Contains(t, buf.String(), "Schedule: @once")
}

func TestExecute_FailureDoesNotAbortGraph(t *testing.T) {
	var attempts int32
	boom := &core.SourceReadError{Op: "list", Err: errors.New("bucket unreachable")}
	d, err := NewDAG("g", "g").
		AddTask(failingTask("main", boom, &attempts)).
		AddTask(okTask("retry", tasks.WithDependencies("main"), tasks.WithTriggerRule(TriggerAllDone))).
		AddTask(okTask("report", tasks.WithDependencies("main"))).
		AddTask(okTask("alert", tasks.WithDependencies("main"), tasks.WithTriggerRule(TriggerOneFailed))).
		AddTask(okTask("cleanup")).
		Build()
	require.NoError(t, err)

	result, err := quietExecutor().Execute(context.Background(), d)
	require.Error(t, err)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "main", taskErr.TaskID)
	assert.ErrorIs(t, err, boom)

	assert.False(t, result.Success)
	want := map[string]tasks.TaskStatus{
		"main":    tasks.StatusFailed,
		"retry":   tasks.StatusSucceeded,
		"report":  tasks.StatusSkipped,
		"alert":   tasks.StatusSucceeded,
		"cleanup": tasks.StatusSucceeded,
	}
	for id, status := range want {
		assert.Equal(t, status, result.Status(id), id)
	}
	assert.Equal(t, int32(1), attempts)
}

func TestExecute_SkipPropagatesUnderNoneFailed(t *testing.T) {
	var attempts int32
	d, err := NewDAG("g", "g").
		AddTask(failingTask("a", errors.New("x"), &attempts)).
		AddTask(okTask("b", tasks.WithDependencies("a"))).
		AddTask(okTask("c", tasks.WithDependencies("b"), tasks.WithTriggerRule(TriggerNoneFailed))).
		AddTask(okTask("d", tasks.WithDependencies("b"), tasks.WithTriggerRule(TriggerOneSuccess))).
		Build()
	require.NoError(t, err)

	result, _ := quietExecutor().Execute(context.Background(), d)
	assert.Equal(t, tasks.StatusSkipped, result.Status("b"))
	assert.Equal(t, tasks.StatusSucceeded, result.Status("c"))
	assert.Equal(t, tasks.StatusSkipped, result.Status("d"))
}

func TestExecute_Retries(t *testing.T) {
	var transient, final int32
	retryTransient := &tasks.RetryConfig{MaxRetries: 2, RetryIf: tasks.IsTransient}
	d, err := NewDAG("g", "g").
		AddTask(failingTask("flaky", &core.SourceReadError{Op: "read", Err: errors.New("reset")}, &transient,
			tasks.WithRetryConfig(retryTransient))).
		AddTask(failingTask("misconfigured", &core.MissingConfigError{Key: "s3_bucket"}, &final,
			tasks.WithRetryConfig(retryTransient))).
		Build()
	require.NoError(t, err)

	result, err := quietExecutor().Execute(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, int32(3), transient)
	assert.Equal(t, int32(1), final)
	assert.Equal(t, 3, result.TaskResults["flaky"].AttemptCount)
	assert.Equal(t, 1, result.TaskResults["misconfigured"].AttemptCount)
}

func TestExecute_RunTimestampReachesTasks(t *testing.T) {
	ts := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	d, err := NewDAG("g", "g").AddTask(okTask("main")).Build()
	require.NoError(t, err)
	d.SetGlobalContextValue(tasks.RunTimestampKey, ts)

	result, err := quietExecutor().Execute(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, result.Success)
	report := result.TaskResults["main"].Report
	require.NotNil(t, report)
	assert.True(t, report.RunTimestamp.Equal(ts))
}

func TestExecute_CancelledContext(t *testing.T) {
	d, err := NewDAG("g", "g").AddTask(okTask("main")).Build()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = quietExecutor().Execute(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_MaxWorkersBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	source := func() (core.Readable, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return emptySource()
	}
	builder := NewDAG("g", "g").WithMaxParallelism(3)
	for _, id := range []string{"a", "b", "c"} {
		builder.AddTask(tasks.NewConnectorTask(id, tasks.ConnectorConfig{Graph: "g"}, source, acceptAll))
	}
	d, err := builder.Build()
	require.NoError(t, err)
	assert.Equal(t, 3, d.GetTaskCount())

	executor := NewDAGExecutor(WithMaxWorkers(1), WithBackoffStrategy(&tasks.FixedBackoff{}))
	_, err = executor.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestExecute_DefaultTimeout(t *testing.T) {
	blocking := func() (core.Readable, error) {
		return core.ReadableFunc(func(ctx context.Context) (core.Record, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil
	}
	d, err := NewDAG("g", "g").
		WithDefaultTimeout(10*time.Millisecond).
		AddTask(tasks.NewConnectorTask("main", tasks.ConnectorConfig{Graph: "g"}, blocking, acceptAll)).
		Build()
	require.NoError(t, err)

	result, err := quietExecutor().Execute(context.Background(), d)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, tasks.StatusFailed, result.Status("main"))
}

func TestExponentialBackoff(t *testing.T) {
	b := &tasks.ExponentialBackoff{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(2))
}
