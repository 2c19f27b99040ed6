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

// dag_builder.go - Fluent API for DAG construction
package dag

import (
	"errors"
	"fmt"
	"time"

	"github.com/aaronlmathis/gotransfer/dag/tasks"
	"github.com/aaronlmathis/gotransfer/monitoring"
)

// DAGBuilder provides a fluent API for constructing DAGs
type DAGBuilder struct {
	dag  *DAG
	errs []error
}

// NewDAG creates a new DAG builder
func NewDAG(id, name string) *DAGBuilder {
	return &DAGBuilder{
		dag: &DAG{
			id:           id,
			name:         name,
			tasks:        make(map[string]tasks.Task),
			dependencies: make(map[string][]string),
			metadata: DAGMetadata{
				Schedule:       "@once",
				MaxParallelism: 4,
			},
		},
	}
}

// AddTask adds any task. Its upstream ids come from task.Dependencies.
func (db *DAGBuilder) AddTask(task tasks.Task) *DAGBuilder {
	id := task.ID()
	if _, exists := db.dag.tasks[id]; exists {
		db.errs = append(db.errs, fmt.Errorf("duplicate task id %s", id))
		return db
	}
	db.dag.tasks[id] = task
	db.dag.order = append(db.dag.order, id)
	if deps := task.Dependencies(); len(deps) > 0 {
		db.dag.dependencies[id] = deps
	}
	return db
}

// AddConnectorTask adds a task moving records from source to sink.
func (db *DAGBuilder) AddConnectorTask(id string, cfg tasks.ConnectorConfig, source tasks.ReadableFactory, sink tasks.WritableFactory, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewConnectorTask(id, cfg, source, sink, opts...))
}

// AddRetryTask adds a task replaying the previous run's failures.
func (db *DAGBuilder) AddRetryTask(id string, coordinator *tasks.RetryCoordinator, cfg tasks.ConnectorConfig, sink tasks.WritableFactory, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewRetryTask(id, coordinator, cfg, sink, opts...))
}

// AddCleanupTask adds a monitoring retention task.
func (db *DAGBuilder) AddCleanupTask(id string, store monitoring.Store, graph string, days int, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewCleanupTask(id, store, graph, days, opts...))
}

// AddConfigErrorTask adds the standing task reporting a build error.
func (db *DAGBuilder) AddConfigErrorTask(graph string, err error, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewConfigErrorTask(graph, err, opts...))
}

// WithDescription sets the DAG description
func (db *DAGBuilder) WithDescription(description string) *DAGBuilder {
	db.dag.metadata.Description = description
	return db
}

// WithSchedule sets the schedule cadence reported to the scheduler.
func (db *DAGBuilder) WithSchedule(schedule string) *DAGBuilder {
	db.dag.metadata.Schedule = schedule
	return db
}

// WithMaxParallelism sets the maximum number of concurrent tasks
func (db *DAGBuilder) WithMaxParallelism(max int) *DAGBuilder {
	db.dag.metadata.MaxParallelism = max
	return db
}

// WithDefaultTimeout sets the default timeout for all tasks
func (db *DAGBuilder) WithDefaultTimeout(timeout time.Duration) *DAGBuilder {
	db.dag.metadata.DefaultTimeout = timeout
	return db
}

// WithDefaultRetries sets the retry policy of tasks that have none.
func (db *DAGBuilder) WithDefaultRetries(config *tasks.RetryConfig) *DAGBuilder {
	db.dag.metadata.DefaultRetries = config
	return db
}

// Build validates and returns the constructed DAG
func (db *DAGBuilder) Build() (*DAG, error) {
	errs := append([]error{}, db.errs...)
	errs = append(errs, db.dag.ValidateDAGStructure()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid DAG %s: %w", db.dag.id, errors.Join(errs...))
	}

	if defaults := db.dag.metadata.DefaultRetries; defaults != nil {
		for _, id := range db.dag.order {
			task := db.dag.tasks[id]
			if task.Metadata().RetryConfig == nil {
				task.SetRetryConfig(defaults)
			}
		}
	}
	return db.dag, nil
}
