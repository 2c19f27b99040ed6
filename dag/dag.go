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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aaronlmathis/gotransfer/dag/tasks"
)

// GetTasks returns all tasks in the DAG
func (d *DAG) GetTasks() map[string]tasks.Task {
	return d.tasks
}

// GetTask returns one task by id.
func (d *DAG) GetTask(taskID string) (tasks.Task, bool) {
	t, ok := d.tasks[taskID]
	return t, ok
}

// TaskIDs returns the task ids in the order they were added.
func (d *DAG) TaskIDs() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// GetDependencies returns the dependencies for a specific task
func (d *DAG) GetDependencies(taskID string) []string {
	if deps, exists := d.dependencies[taskID]; exists {
		return deps
	}
	return []string{}
}

// GetTasksByType returns tasks filtered by type
func (d *DAG) GetTasksByType(taskType tasks.TaskType) map[string]tasks.Task {
	result := make(map[string]tasks.Task)
	for id, task := range d.tasks {
		if task.Metadata().TaskType == taskType {
			result[id] = task
		}
	}
	return result
}

// GetTaskCount returns the total number of tasks
func (d *DAG) GetTaskCount() int {
	return len(d.tasks)
}

// HasTask checks if a task exists in the DAG
func (d *DAG) HasTask(taskID string) bool {
	_, exists := d.tasks[taskID]
	return exists
}

// GetDownstreamTasks returns all tasks that depend on this task
func (d *DAG) GetDownstreamTasks(taskID string) []string {
	var downstream []string
	for _, id := range d.order {
		for _, dep := range d.dependencies[id] {
			if dep == taskID {
				downstream = append(downstream, id)
				break
			}
		}
	}
	return downstream
}

// GetMetadata returns the DAG's metadata
func (d *DAG) GetMetadata() DAGMetadata {
	return d.metadata
}

// GetID returns the DAG's unique identifier
func (d *DAG) GetID() string {
	return d.id
}

// GetName returns the DAG's name
func (d *DAG) GetName() string {
	return d.name
}

// GetSchedule returns the schedule cadence handed to the hosting scheduler.
func (d *DAG) GetSchedule() string {
	return d.metadata.Schedule
}

// GetDefaultRetries returns the default retry configuration
func (d *DAG) GetDefaultRetries() *tasks.RetryConfig {
	return d.metadata.DefaultRetries
}

// SetGlobalContextValue sets a value in the global context
func (d *DAG) SetGlobalContextValue(key string, value interface{}) {
	if d.metadata.GlobalContext == nil {
		d.metadata.GlobalContext = make(map[string]interface{})
	}
	d.metadata.GlobalContext[key] = value
}

// GetGlobalContextValue retrieves a value from the global context
func (d *DAG) GetGlobalContextValue(key string) (interface{}, bool) {
	if d.metadata.GlobalContext == nil {
		return nil, false
	}
	value, exists := d.metadata.GlobalContext[key]
	return value, exists
}

// Describe writes a human-readable outline of the DAG to w.
func (d *DAG) Describe(w io.Writer) {
	fmt.Fprintf(w, "DAG: %s (%s)", d.name, d.id)
	if d.metadata.Description != "" {
		fmt.Fprintf(w, " - %s", d.metadata.Description)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Schedule: %s\n", d.metadata.Schedule)
	if r := d.metadata.DefaultRetries; r != nil {
		fmt.Fprintf(w, "  Retries: %d every %v\n", r.MaxRetries, r.Backoff)
	}

	for _, id := range d.order {
		metadata := d.tasks[id].Metadata()
		fmt.Fprintf(w, "  %s [%s]\n", id, metadata.TaskType)
		if metadata.Description != "" {
			fmt.Fprintf(w, "    Description: %s\n", metadata.Description)
		}
		if deps := d.GetDependencies(id); len(deps) > 0 {
			fmt.Fprintf(w, "    depends on: %s (%s)\n", strings.Join(deps, ", "), metadata.TriggerRule)
		}
		if downstream := d.GetDownstreamTasks(id); len(downstream) > 0 {
			fmt.Fprintf(w, "    triggers: %s\n", strings.Join(downstream, ", "))
		}
		if metadata.Timeout > 0 {
			fmt.Fprintf(w, "    Timeout: %v\n", metadata.Timeout)
		}
	}
}

// Summary returns counts describing the DAG structure.
func (d *DAG) Summary() map[string]interface{} {
	return map[string]interface{}{
		"dag_id":          d.id,
		"dag_name":        d.name,
		"total_tasks":     len(d.tasks),
		"connector_tasks": len(d.GetTasksByType(tasks.TaskTypeConnector)),
		"retry_tasks":     len(d.GetTasksByType(tasks.TaskTypeRetry)),
		"cleanup_tasks":   len(d.GetTasksByType(tasks.TaskTypeCleanup)),
		"error_tasks":     len(d.GetTasksByType(tasks.TaskTypeErrorReport)),
		"max_depth":       d.calculateMaxDepth(),
		"execution_order": d.getExecutionOrderSafe(),
	}
}

// ValidateDAGStructure reports every structural problem found.
func (d *DAG) ValidateDAGStructure() []error {
	var errs []error

	for _, taskID := range d.order {
		for _, dep := range d.dependencies[taskID] {
			if !d.HasTask(dep) {
				errs = append(errs, fmt.Errorf("task %s depends on non-existent task %s", taskID, dep))
			}
		}
	}

	if d.hasCycle() {
		errs = append(errs, fmt.Errorf("DAG contains cycles"))
	}

	for _, taskID := range d.order {
		metadata := d.tasks[taskID].Metadata()
		if metadata.Timeout < 0 {
			errs = append(errs, fmt.Errorf("task %s has invalid negative timeout", taskID))
		}
		if metadata.RetryConfig != nil && metadata.RetryConfig.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("task %s has invalid negative retry count", taskID))
		}
		switch metadata.TriggerRule {
		case TriggerAllSuccess, TriggerAllDone, TriggerOneFailed, TriggerOneSuccess, TriggerNoneFailed:
		default:
			errs = append(errs, fmt.Errorf("task %s has unknown trigger rule %q", taskID, metadata.TriggerRule))
		}
	}

	return errs
}

// GetExecutionOrder returns tasks in topological execution order
func (d *DAG) GetExecutionOrder() ([]string, error) {
	return d.topologicalSort()
}

func (d *DAG) getExecutionOrderSafe() []string {
	if order, err := d.GetExecutionOrder(); err == nil {
		return order
	}
	return []string{}
}

func (d *DAG) hasCycle() bool {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, taskID := range d.order {
		if !visited[taskID] {
			if d.dfsHasCycle(taskID, visited, recStack) {
				return true
			}
		}
	}
	return false
}

func (d *DAG) dfsHasCycle(taskID string, visited, recStack map[string]bool) bool {
	visited[taskID] = true
	recStack[taskID] = true

	for _, dep := range d.dependencies[taskID] {
		if !visited[dep] {
			if d.dfsHasCycle(dep, visited, recStack) {
				return true
			}
		} else if recStack[dep] {
			return true
		}
	}

	recStack[taskID] = false
	return false
}

func (d *DAG) calculateMaxDepth() int {
	depths := make(map[string]int)
	visiting := make(map[string]bool)

	var calculateDepth func(taskID string) int
	calculateDepth = func(taskID string) int {
		if depth, exists := depths[taskID]; exists {
			return depth
		}
		if visiting[taskID] {
			return 0
		}
		visiting[taskID] = true

		maxDepth := 0
		for _, dep := range d.GetDependencies(taskID) {
			if depDepth := calculateDepth(dep); depDepth > maxDepth {
				maxDepth = depDepth
			}
		}

		depths[taskID] = maxDepth + 1
		return depths[taskID]
	}

	maxOverall := 0
	for _, taskID := range d.order {
		if depth := calculateDepth(taskID); depth > maxOverall {
			maxOverall = depth
		}
	}
	return maxOverall
}

// topologicalSort performs Kahn's algorithm. Ties keep insertion order.
func (d *DAG) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.order))
	for _, taskID := range d.order {
		inDegree[taskID] = len(d.dependencies[taskID])
	}

	queue := make([]string, 0, len(d.order))
	for _, taskID := range d.order {
		if inDegree[taskID] == 0 {
			queue = append(queue, taskID)
		}
	}

	result := make([]string, 0, len(d.order))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, taskID := range d.order {
			for _, dep := range d.dependencies[taskID] {
				if dep == current {
					inDegree[taskID]--
					if inDegree[taskID] == 0 {
						queue = append(queue, taskID)
					}
				}
			}
		}
	}

	if len(result) != len(d.order) {
		return nil, fmt.Errorf("DAG contains cycles")
	}
	return result, nil
}

// defaultTimeout returns the timeout applied to tasks without their own.
func (d *DAG) defaultTimeout() time.Duration {
	return d.metadata.DefaultTimeout
}
