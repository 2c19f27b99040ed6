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

package hooks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aaronlmathis/gotransfer/core"
)

// prepared is a record accepted by a destination's payload checks.
type prepared struct {
	payload interface{}
	group   string
}

// prepareFunc validates one record payload and converts it to the value
// sent to the destination. A non-nil Outcome rejects the record.
type prepareFunc func(core.Record) (prepared, *core.Outcome)

// packFunc splits accepted payloads into requests, returning index lists
// into payloads.
type packFunc func(payloads []interface{}) [][]int

// destination is the write path shared by every destination hook:
// validate each record, group accepted payloads, dispatch each group and
// map the results back to one Outcome per input record.
type destination struct {
	kind       DestinationKind
	dispatcher Dispatcher
	target     map[string]string
	groupKey   string // target key naming the group value
	maxBatch   int    // records per request; 0 sends a whole group at once
	// groupFailure, when set, classifies a failed dispatch and stops the
	// rest of the group.
	groupFailure core.ErrorNum
	prepare      prepareFunc
	pack         packFunc
}

// Write implements core.Writable.
func (d *destination) Write(ctx context.Context, record core.Record) core.Outcome {
	return d.WriteBatch(ctx, []core.Record{record})[0]
}

// MaxBatchSize implements core.BatchWritable.
func (d *destination) MaxBatchSize() int {
	if d.maxBatch <= 0 {
		return 1000
	}
	return d.maxBatch
}

// Close implements core.Writable.
func (d *destination) Close() error {
	return nil
}

// WriteBatch implements core.BatchWritable.
func (d *destination) WriteBatch(ctx context.Context, records []core.Record) []core.Outcome {
	outcomes := make([]core.Outcome, len(records))
	payloads := make([]interface{}, len(records))
	groups := make(map[string][]int)
	var order []string

	for i, rec := range records {
		p, rejected := d.prepare(rec.Payload())
		if rejected != nil {
			outcomes[i] = *rejected
			continue
		}
		payloads[i] = p.payload
		if _, ok := groups[p.group]; !ok {
			order = append(order, p.group)
		}
		groups[p.group] = append(groups[p.group], i)
	}

	for _, group := range order {
		d.dispatchGroup(ctx, group, groups[group], payloads, outcomes)
	}
	return outcomes
}

func (d *destination) dispatchGroup(ctx context.Context, group string, idx []int, payloads []interface{}, outcomes []core.Outcome) {
	groupPayloads := make([]interface{}, len(idx))
	for j, i := range idx {
		groupPayloads[j] = payloads[i]
	}

	var requests [][]int
	if d.pack != nil {
		requests = d.pack(groupPayloads)
	} else {
		requests = chunk(len(idx), d.maxBatch)
	}

	for n, req := range requests {
		batch := make([]interface{}, len(req))
		for j, k := range req {
			batch[j] = groupPayloads[k]
		}

		res, err := d.dispatcher.Dispatch(ctx, DispatchRequest{
			Destination: string(d.kind),
			Target:      d.targetFor(group),
			Records:     batch,
		})
		if err != nil && d.groupFailure != core.ErrNone {
			for _, rest := range requests[n:] {
				for _, k := range rest {
					outcomes[idx[k]] = core.Failure(d.groupFailure, err.Error())
				}
			}
			return
		}
		for j, o := range outcomesFor(len(req), res, err) {
			outcomes[idx[req[j]]] = o
		}
	}
}

func (d *destination) targetFor(group string) map[string]string {
	out := make(map[string]string, len(d.target)+1)
	for k, v := range d.target {
		out[k] = v
	}
	if d.groupKey != "" && group != "" {
		out[d.groupKey] = group
	}
	return out
}

// chunk splits n indexes into runs of at most size. size <= 0 yields one run.
func chunk(n, size int) [][]int {
	if n == 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	var out [][]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		run := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			run = append(run, i)
		}
		out = append(out, run)
	}
	return out
}

func rejectf(num core.ErrorNum, format string, args ...interface{}) *core.Outcome {
	o := core.Failuref(num, format, args...)
	return &o
}

// toString renders scalar values without exponent notation.
func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
