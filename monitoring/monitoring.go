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

package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/metrics"
)

// TimestampPrecision is the coarsest run timestamp precision kept by any
// backend. Mongo stores milliseconds.
const TimestampPrecision = time.Millisecond

// NormalizeTimestamp returns ts in UTC truncated to TimestampPrecision, the
// form every backend stores and compares.
func NormalizeTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(TimestampPrecision)
}

// Cleanup deletes rows of graph whose run timestamp is more than days old
// relative to now. An empty graph cleans every graph. The delete is by
// predicate, so repeating it removes nothing new.
func Cleanup(ctx context.Context, store Store, graph string, days int, now time.Time) (int64, error) {
	if days < 1 {
		return 0, &core.MonitoringCleanupError{Op: core.CleanupOpRetention, Err: fmt.Errorf("retention must be at least 1 day, got %d", days)}
	}
	cutoff := now.AddDate(0, 0, -days)
	n, err := store.DeleteOlderThan(ctx, graph, cutoff)
	if err != nil {
		return 0, &core.MonitoringCleanupError{Op: core.CleanupOpDelete, Err: err}
	}
	label := graph
	if label == "" {
		label = "*"
	}
	metrics.MonitoringRowsDeleted.WithLabelValues(label).Add(float64(n))
	return n, nil
}

// PendingRun identifies the main run a retry should replay.
type PendingRun struct {
	RunID        string
	RunTimestamp time.Time
	Task         string
}

// PendingRetry returns the most recent main run of graph that has no retry
// marker naming it. ok is false when there is nothing to replay.
func PendingRetry(ctx context.Context, store Store, graph string) (run PendingRun, ok bool, err error) {
	markers, err := store.Markers(ctx, graph)
	if err != nil {
		return PendingRun{}, false, fmt.Errorf("read markers of %s: %w", graph, err)
	}

	var latest *Row
	for i := range markers {
		m := &markers[i]
		if m.Entity != EntityRun {
			continue
		}
		if latest == nil || !m.RunTimestamp.Before(latest.RunTimestamp) {
			latest = m
		}
	}
	if latest == nil {
		return PendingRun{}, false, nil
	}
	for _, m := range markers {
		if m.Entity == EntityRetry && m.Info == latest.RunID {
			return PendingRun{}, false, nil
		}
	}
	return PendingRun{RunID: latest.RunID, RunTimestamp: latest.RunTimestamp, Task: latest.Task}, true, nil
}

// FindRunMarker returns the run marker a task already wrote for ts, used to
// resume an interrupted run under its original RunID.
func FindRunMarker(ctx context.Context, store Store, graph, task string, ts time.Time) (Row, bool, error) {
	markers, err := store.Markers(ctx, graph)
	if err != nil {
		return Row{}, false, err
	}
	for _, m := range markers {
		if m.Entity == EntityRun && m.Task == task && NormalizeTimestamp(m.RunTimestamp).Equal(NormalizeTimestamp(ts)) {
			return m, true, nil
		}
	}
	return Row{}, false, nil
}
