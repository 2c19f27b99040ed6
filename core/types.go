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

package core

import (
	"fmt"
	"strings"
	"time"
)

// Package core defines the core types for the GoTransfer library.
//
// GoTransfer moves record sets from storage and warehouse sources into
// advertising and analytics destinations, tracking every record's outcome so
// that failed records can be replayed by a later run.
//
// This file contains the record, outcome and run report types.

// KeyField is the reserved field carrying a record's stable key.
// Fields prefixed with ReservedPrefix are never sent to a destination.
const (
	ReservedPrefix = "_"
	KeyField       = "_record_key"
)

// Record represents a single data record in the pipeline.
// Each record is a map from field names to values, supporting heterogeneous data.
type Record map[string]interface{}

// Key returns the record's stable key, or "" if none was assigned.
func (r Record) Key() string {
	if k, ok := r[KeyField].(string); ok {
		return k
	}
	return ""
}

// WithKey returns a shallow copy of the record carrying key.
func (r Record) WithKey(key string) Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[KeyField] = key
	return out
}

// Payload returns a copy of the record without reserved fields.
func (r Record) Payload() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if strings.HasPrefix(k, ReservedPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// OutcomeStatus tags the result of writing one record.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailure OutcomeStatus = "failure"
)

// Outcome is the result of writing one Record. Exactly one Outcome is
// produced per record consumed in a run.
type Outcome struct {
	Status   OutcomeStatus
	Reason   string
	ErrorNum ErrorNum
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Status: StatusSuccess}
}

// Failure returns a failed outcome classified by num.
func Failure(num ErrorNum, reason string) Outcome {
	return Outcome{Status: StatusFailure, Reason: reason, ErrorNum: num}
}

// Failuref is Failure with a formatted reason.
func Failuref(num ErrorNum, format string, args ...interface{}) Outcome {
	return Failure(num, fmt.Sprintf(format, args...))
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// FailureDetail describes one failed record in a RunReport.
type FailureDetail struct {
	Key      string
	ErrorNum ErrorNum
	Reason   string
}

// RunReport summarizes one run of a connector task.
type RunReport struct {
	Graph        string
	Task         string
	RunTimestamp time.Time
	RunID        string
	Total        int
	Succeeded    int
	Failed       int
	Skipped      int
	Failures     []FailureDetail
}

// String renders the report as a single log-friendly line.
func (r RunReport) String() string {
	return fmt.Sprintf("graph=%s task=%s run=%s total=%d succeeded=%d failed=%d skipped=%d",
		r.Graph, r.Task, r.RunTimestamp.UTC().Format(time.RFC3339), r.Total, r.Succeeded, r.Failed, r.Skipped)
}
