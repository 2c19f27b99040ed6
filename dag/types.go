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
	"time"

	"github.com/aaronlmathis/gotransfer/dag/tasks"
)

const (
	TriggerAllSuccess = tasks.TriggerRuleAllSuccess // All dependencies succeeded
	TriggerAllDone    = tasks.TriggerRuleAllDone    // All dependencies finished in any state
	TriggerOneFailed  = tasks.TriggerRuleOneFailed  // At least one dependency failed
	TriggerOneSuccess = tasks.TriggerRuleOneSuccess // At least one dependency succeeded
	TriggerNoneFailed = tasks.TriggerRuleNoneFailed // No dependency failed; skips allowed
)

// DAG represents a directed acyclic graph of tasks
type DAG struct {
	id           string
	name         string
	tasks        map[string]tasks.Task
	order        []string
	dependencies map[string][]string
	metadata     DAGMetadata
}

// DAGMetadata contains DAG-level configuration
type DAGMetadata struct {
	Description    string
	Schedule       string
	MaxParallelism int
	DefaultTimeout time.Duration
	DefaultRetries *tasks.RetryConfig
	GlobalContext  map[string]interface{}
}
