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

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/logging"
)

// ConfigErrorTaskID is the id of the standing task that replaces a graph
// whose configuration could not be built.
const ConfigErrorTaskID = "configuration_error"

// ConfigErrorTask always fails with the build error it captured. It never
// touches a source or destination.
type ConfigErrorTask struct {
	baseTask
	graph string
	err   error
}

func NewConfigErrorTask(graph string, err error, opts ...TaskOption) *ConfigErrorTask {
	var cerr *core.ConfigurationError
	if !errors.As(err, &cerr) {
		cerr = &core.ConfigurationError{Graph: graph, Err: err}
	}
	t := &ConfigErrorTask{
		baseTask: newBaseTask(ConfigErrorTaskID, TaskTypeErrorReport, nil),
		graph:    graph,
		err:      cerr,
	}
	applyOptions(t, opts)
	return t
}

// Err returns the captured configuration error.
func (t *ConfigErrorTask) Err() error { return t.err }

// Execute implements Task.
func (t *ConfigErrorTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	logging.FromContext(ctx).Error("graph is misconfigured", "graph", t.graph, "task", t.id, "error", t.err)
	return TaskOutput{}, t.err
}
