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

// base.go - Task interface and base types
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/aaronlmathis/gotransfer/core"
)

// TaskType represents the type of task
type TaskType string

const (
	TaskTypeConnector   TaskType = "connector"
	TaskTypeRetry       TaskType = "retry"
	TaskTypeCleanup     TaskType = "cleanup"
	TaskTypeErrorReport TaskType = "error_report"
)

// TriggerRule defines when a task should be triggered
type TriggerRule string

const (
	TriggerRuleAllSuccess TriggerRule = "all_success"
	TriggerRuleAllDone    TriggerRule = "all_done"
	TriggerRuleOneFailed  TriggerRule = "one_failed"
	TriggerRuleOneSuccess TriggerRule = "one_success"
	TriggerRuleNoneFailed TriggerRule = "none_failed"
)

// TaskStatus is the terminal state of a task within one graph run.
type TaskStatus string

const (
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// RunTimestampKey is the global context key carrying the run timestamp.
const RunTimestampKey = "run_timestamp"

// BackoffStrategy interface for advanced retry strategies
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

// RetryConfig defines retry behavior for tasks
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration   // Simple backoff duration
	Strategy   BackoffStrategy // Advanced backoff strategy (optional)
	// RetryIf limits retries to matching errors. Nil retries every error.
	RetryIf func(error) bool
}

// GetDelay returns the delay for a given attempt
func (rc *RetryConfig) GetDelay(attempt int) time.Duration {
	if rc.Strategy != nil {
		return rc.Strategy.Delay(attempt)
	}
	return rc.Backoff
}

// ShouldRetry reports whether err may be retried under rc.
func (rc *RetryConfig) ShouldRetry(err error) bool {
	if rc.RetryIf == nil {
		return true
	}
	return rc.RetryIf(err)
}

// ExponentialBackoff implements BackoffStrategy
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (eb *ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := eb.BaseDelay * time.Duration(1<<uint(attempt))
	if eb.MaxDelay > 0 && delay > eb.MaxDelay {
		delay = eb.MaxDelay
	}
	return delay
}

// FixedBackoff implements fixed delay backoff strategy
type FixedBackoff struct {
	FixedDelay time.Duration
}

func (fb *FixedBackoff) Delay(attempt int) time.Duration {
	return fb.FixedDelay
}

// IsTransient reports whether err is worth another attempt of the same run.
// Configuration errors, failure-policy violations and invalid retention
// windows are final. A failed cleanup delete is retried.
func IsTransient(err error) bool {
	if err == nil || core.IsConfigError(err) {
		return false
	}
	var policy *core.RunFailedError
	if errors.As(err, &policy) {
		return false
	}
	var cleanup *core.MonitoringCleanupError
	if errors.As(err, &cleanup) && cleanup.InvalidRetention() {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// TaskMetadata holds metadata about a task
type TaskMetadata struct {
	Name        string
	Description string
	TaskType    TaskType
	RetryConfig *RetryConfig
	Timeout     time.Duration
	TriggerRule TriggerRule
	Tags        []string
}

// TaskInput represents input data for task execution
type TaskInput struct {
	Context  map[string]interface{}
	Upstream map[string]TaskResultMetadata
}

// RunTimestamp returns the run timestamp carried in the global context, or
// the zero time.
func (in TaskInput) RunTimestamp() time.Time {
	if ts, ok := in.Context[RunTimestampKey].(time.Time); ok {
		return ts
	}
	return time.Time{}
}

// TaskOutput represents output data from task execution
type TaskOutput struct {
	Context  map[string]interface{}
	Report   *core.RunReport
	Metadata TaskResultMetadata
}

// TaskResultMetadata holds execution result metadata
type TaskResultMetadata struct {
	StartTime    time.Time
	EndTime      time.Time
	RecordsIn    int64
	RecordsOut   int64
	Status       TaskStatus
	Error        error
	AttemptCount int
	Report       *core.RunReport
}

// Succeeded reports whether the task finished successfully.
func (m TaskResultMetadata) Succeeded() bool {
	return m.Status == StatusSucceeded
}

// Task defines the interface that all tasks must implement
type Task interface {
	ID() string
	Dependencies() []string
	Execute(ctx context.Context, input TaskInput) (TaskOutput, error)
	Metadata() TaskMetadata
	SetRetryConfig(config *RetryConfig)
	SetTimeout(timeout time.Duration)
	SetTriggerRule(rule TriggerRule)
	SetDescription(description string)
	SetTags(tags ...string)
}

// baseTask carries the identity and settings shared by every task.
type baseTask struct {
	id           string
	dependencies []string
	metadata     TaskMetadata
}

func newBaseTask(id string, taskType TaskType, dependencies []string) baseTask {
	return baseTask{
		id:           id,
		dependencies: dependencies,
		metadata: TaskMetadata{
			Name:        id,
			TaskType:    taskType,
			TriggerRule: TriggerRuleAllSuccess,
		},
	}
}

func (b *baseTask) ID() string             { return b.id }
func (b *baseTask) Metadata() TaskMetadata { return b.metadata }

func (b *baseTask) Dependencies() []string {
	out := make([]string, len(b.dependencies))
	copy(out, b.dependencies)
	return out
}

func (b *baseTask) SetRetryConfig(config *RetryConfig)    { b.metadata.RetryConfig = config }
func (b *baseTask) SetTimeout(timeout time.Duration)      { b.metadata.Timeout = timeout }
func (b *baseTask) SetTriggerRule(rule TriggerRule)       { b.metadata.TriggerRule = rule }
func (b *baseTask) SetDescription(description string)     { b.metadata.Description = description }
func (b *baseTask) SetTags(tags ...string)                { b.metadata.Tags = append(b.metadata.Tags, tags...) }
func (b *baseTask) setDependencies(dependencies []string) { b.dependencies = dependencies }

// TaskOption is a functional option for configuring tasks
type TaskOption func(Task)

// WithRetries sets the retry configuration for a task
func WithRetries(maxRetries int, backoff time.Duration) TaskOption {
	return func(t Task) {
		t.SetRetryConfig(&RetryConfig{
			MaxRetries: maxRetries,
			Backoff:    backoff,
		})
	}
}

// WithRetryConfig sets the retry configuration for a task
func WithRetryConfig(config *RetryConfig) TaskOption {
	return func(t Task) {
		t.SetRetryConfig(config)
	}
}

// WithTimeout sets the timeout for a task
func WithTimeout(timeout time.Duration) TaskOption {
	return func(t Task) {
		t.SetTimeout(timeout)
	}
}

// WithTriggerRule sets the trigger rule for a task
func WithTriggerRule(rule TriggerRule) TaskOption {
	return func(t Task) {
		t.SetTriggerRule(rule)
	}
}

// WithDescription sets the description for a task
func WithDescription(description string) TaskOption {
	return func(t Task) {
		t.SetDescription(description)
	}
}

// WithTags adds tags to a task
func WithTags(tags ...string) TaskOption {
	return func(t Task) {
		t.SetTags(tags...)
	}
}

// WithDependencies sets the upstream task ids.
func WithDependencies(ids ...string) TaskOption {
	return func(t Task) {
		if d, ok := t.(interface{ setDependencies([]string) }); ok {
			d.setDependencies(ids)
		}
	}
}

func applyOptions(t Task, opts []TaskOption) {
	for _, opt := range opts {
		opt(t)
	}
}
