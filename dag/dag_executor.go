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

// dag_executor.go - DAG execution engine with topological sort
package dag

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/gotransfer/dag/tasks"
	"github.com/aaronlmathis/gotransfer/logging"
)

// DAGExecutor executes DAGs with topological sorting and parallelism
type DAGExecutor struct {
	maxWorkers   int
	retryBackoff tasks.BackoffStrategy
}

// DAGExecutorOption configures a DAGExecutor
type DAGExecutorOption func(*DAGExecutor)

// WithMaxWorkers sets the maximum number of concurrent workers
func WithMaxWorkers(workers int) DAGExecutorOption {
	return func(de *DAGExecutor) {
		if workers > 0 {
			de.maxWorkers = workers
		}
	}
}

// WithBackoffStrategy sets the backoff used by retry configs that name no
// delay of their own.
func WithBackoffStrategy(strategy tasks.BackoffStrategy) DAGExecutorOption {
	return func(de *DAGExecutor) {
		de.retryBackoff = strategy
	}
}

// NewDAGExecutor creates a new DAG executor with options
func NewDAGExecutor(opts ...DAGExecutorOption) *DAGExecutor {
	de := &DAGExecutor{
		maxWorkers: runtime.NumCPU(),
		retryBackoff: &tasks.ExponentialBackoff{
			BaseDelay: time.Second,
			MaxDelay:  time.Minute,
		},
	}

	for _, opt := range opts {
		opt(de)
	}

	return de
}

// TaskError names the task a failure came from.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// DAGResult contains the results of DAG execution
type DAGResult struct {
	Success     bool
	StartTime   time.Time
	EndTime     time.Time
	TaskResults map[string]tasks.TaskResultMetadata
	Error       error
}

// Status returns the terminal status of one task.
func (r *DAGResult) Status(taskID string) tasks.TaskStatus {
	return r.TaskResults[taskID].Status
}

// executionContext holds state during DAG execution
type executionContext struct {
	dag           *DAG
	taskResults   map[string]tasks.TaskResultMetadata
	globalContext map[string]interface{}
	mu            sync.RWMutex
}

// Execute runs every task of the DAG once. A failed task never aborts the
// graph: downstream tasks whose trigger rule is no longer satisfiable are
// marked skipped. The returned error joins every task failure.
func (de *DAGExecutor) Execute(ctx context.Context, dag *DAG) (*DAGResult, error) {
	sortedTasks, err := dag.topologicalSort()
	if err != nil {
		return nil, fmt.Errorf("topological sort failed: %w", err)
	}

	execCtx := &executionContext{
		dag:           dag,
		taskResults:   make(map[string]tasks.TaskResultMetadata),
		globalContext: make(map[string]interface{}),
	}
	for k, v := range dag.metadata.GlobalContext {
		execCtx.globalContext[k] = v
	}

	log := logging.FromContext(ctx).With("dag", dag.id)
	start := time.Now()

	for levelIdx, level := range de.groupTasksByLevel(dag, sortedTasks) {
		if err := ctx.Err(); err != nil {
			return &DAGResult{
				StartTime:   start,
				EndTime:     time.Now(),
				TaskResults: execCtx.taskResults,
				Error:       err,
			}, err
		}
		de.executeLevel(ctx, execCtx, level)
		log.Debug("completed level", "level", levelIdx, "tasks", len(level))
	}

	result := &DAGResult{
		Success:     true,
		StartTime:   start,
		EndTime:     time.Now(),
		TaskResults: execCtx.taskResults,
	}
	var failures []error
	for _, id := range dag.order {
		if res := execCtx.taskResults[id]; res.Status == tasks.StatusFailed {
			failures = append(failures, &TaskError{TaskID: id, Err: res.Error})
		}
	}
	if len(failures) > 0 {
		result.Success = false
		result.Error = errors.Join(failures...)
		return result, result.Error
	}
	return result, nil
}

// groupTasksByLevel groups tasks by their dependency level for parallel execution
func (de *DAGExecutor) groupTasksByLevel(dag *DAG, sortedTasks []string) [][]string {
	taskLevel := make(map[string]int, len(sortedTasks))
	maxLevel := 0
	for _, taskID := range sortedTasks {
		level := 0
		for _, dep := range dag.dependencies[taskID] {
			if depLevel, exists := taskLevel[dep]; exists && depLevel+1 > level {
				level = depLevel + 1
			}
		}
		taskLevel[taskID] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	result := make([][]string, maxLevel+1)
	for _, taskID := range sortedTasks {
		level := taskLevel[taskID]
		result[level] = append(result[level], taskID)
	}
	return result
}

// executeLevel executes all tasks in a level concurrently
func (de *DAGExecutor) executeLevel(ctx context.Context, execCtx *executionContext, taskIDs []string) {
	limit := de.maxWorkers
	if p := execCtx.dag.metadata.MaxParallelism; p > 0 && p < limit {
		limit = p
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, taskID := range taskIDs {
		g.Go(func() error {
			task := execCtx.dag.tasks[taskID]
			if !de.shouldExecuteTask(execCtx, task) {
				logging.FromContext(ctx).Info("task skipped", "dag", execCtx.dag.id, "task", taskID,
					"trigger_rule", task.Metadata().TriggerRule)
				now := time.Now()
				execCtx.setResult(taskID, tasks.TaskResultMetadata{
					StartTime: now,
					EndTime:   now,
					Status:    tasks.StatusSkipped,
				})
				return nil
			}
			de.executeTaskWithRetry(ctx, execCtx, taskID)
			return nil
		})
	}
	_ = g.Wait()
}

// executeTaskWithRetry executes a single task with retry logic
func (de *DAGExecutor) executeTaskWithRetry(ctx context.Context, execCtx *executionContext, taskID string) {
	task := execCtx.dag.tasks[taskID]
	metadata := task.Metadata()
	log := logging.FromContext(ctx).With("dag", execCtx.dag.id, "task", taskID)

	maxRetries := 0
	if metadata.RetryConfig != nil {
		maxRetries = metadata.RetryConfig.MaxRetries
	}
	timeout := metadata.Timeout
	if timeout == 0 {
		timeout = execCtx.dag.defaultTimeout()
	}

	start := time.Now()
	var (
		lastErr    error
		lastOutput tasks.TaskOutput
		attempts   int
	)

retry:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		output, err := de.executeOnce(ctx, task, de.prepareTaskInput(execCtx, task), timeout)
		if err == nil {
			meta := output.Metadata
			meta.Status = tasks.StatusSucceeded
			meta.AttemptCount = attempts
			if meta.StartTime.IsZero() {
				meta.StartTime = start
			}
			if meta.EndTime.IsZero() {
				meta.EndTime = time.Now()
			}
			if meta.Report == nil {
				meta.Report = output.Report
			}
			execCtx.mu.Lock()
			execCtx.taskResults[taskID] = meta
			for k, v := range output.Context {
				execCtx.globalContext[k] = v
			}
			execCtx.mu.Unlock()
			log.Debug("task succeeded", "attempts", attempts)
			return
		}

		lastErr = err
		lastOutput = output
		rc := metadata.RetryConfig
		if rc == nil || attempt >= maxRetries || !rc.ShouldRetry(err) {
			break
		}

		delay := de.retryDelay(rc, attempt)
		log.Warn("task attempt failed, retrying", "attempt", attempts, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		}
	}

	log.Error("task failed", "attempts", attempts, "error", lastErr)
	meta := lastOutput.Metadata
	meta.StartTime = start
	meta.EndTime = time.Now()
	meta.Status = tasks.StatusFailed
	meta.Error = lastErr
	meta.AttemptCount = attempts
	execCtx.setResult(taskID, meta)
}

func (de *DAGExecutor) executeOnce(ctx context.Context, task tasks.Task, input tasks.TaskInput, timeout time.Duration) (tasks.TaskOutput, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return task.Execute(ctx, input)
}

func (de *DAGExecutor) retryDelay(rc *tasks.RetryConfig, attempt int) time.Duration {
	if rc.Strategy != nil || rc.Backoff > 0 || de.retryBackoff == nil {
		return rc.GetDelay(attempt)
	}
	return de.retryBackoff.Delay(attempt)
}

// shouldExecuteTask checks if a task should execute based on its trigger rule
func (de *DAGExecutor) shouldExecuteTask(execCtx *executionContext, task tasks.Task) bool {
	dependencies := task.Dependencies()
	if len(dependencies) == 0 {
		return true
	}

	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	successCount, failureCount, doneCount := 0, 0, 0
	for _, depID := range dependencies {
		result, exists := execCtx.taskResults[depID]
		if !exists {
			continue
		}
		doneCount++
		switch result.Status {
		case tasks.StatusSucceeded:
			successCount++
		case tasks.StatusFailed:
			failureCount++
		}
	}

	switch task.Metadata().TriggerRule {
	case TriggerAllDone:
		return doneCount == len(dependencies)
	case TriggerOneFailed:
		return failureCount > 0
	case TriggerOneSuccess:
		return successCount > 0
	case TriggerNoneFailed:
		return failureCount == 0 && doneCount == len(dependencies)
	default:
		return successCount == len(dependencies)
	}
}

func (de *DAGExecutor) prepareTaskInput(execCtx *executionContext, task tasks.Task) tasks.TaskInput {
	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	globals := make(map[string]interface{}, len(execCtx.globalContext))
	for k, v := range execCtx.globalContext {
		globals[k] = v
	}
	upstream := make(map[string]tasks.TaskResultMetadata)
	for _, depID := range task.Dependencies() {
		if result, exists := execCtx.taskResults[depID]; exists {
			upstream[depID] = result
		}
	}

	return tasks.TaskInput{
		Context:  globals,
		Upstream: upstream,
	}
}

func (ec *executionContext) setResult(taskID string, meta tasks.TaskResultMetadata) {
	ec.mu.Lock()
	ec.taskResults[taskID] = meta
	ec.mu.Unlock()
}
