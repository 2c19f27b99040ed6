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
	"time"

	"github.com/aaronlmathis/gotransfer/logging"
	"github.com/aaronlmathis/gotransfer/monitoring"
)

// CleanupTask deletes monitoring rows older than the retention window. An
// empty graph cleans every graph.
type CleanupTask struct {
	baseTask
	store monitoring.Store
	graph string
	days  int
}

func NewCleanupTask(id string, store monitoring.Store, graph string, days int, opts ...TaskOption) *CleanupTask {
	t := &CleanupTask{
		baseTask: newBaseTask(id, TaskTypeCleanup, nil),
		store:    store,
		graph:    graph,
		days:     days,
	}
	applyOptions(t, opts)
	return t
}

// Execute implements Task. The window is measured back from the run
// timestamp.
func (t *CleanupTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	now := input.RunTimestamp()
	if now.IsZero() {
		now = start.UTC()
	}

	deleted, err := monitoring.Cleanup(ctx, t.store, t.graph, t.days, now)
	if err != nil {
		return TaskOutput{}, err
	}
	logging.FromContext(ctx).Info("monitoring cleanup finished",
		"graph", t.graph, "task", t.id, "days_to_live", t.days, "deleted", deleted)

	return TaskOutput{
		Context: input.Context,
		Metadata: TaskResultMetadata{
			StartTime:  start,
			EndTime:    time.Now(),
			RecordsOut: deleted,
		},
	}, nil
}
