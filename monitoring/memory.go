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
	"sort"
	"sync"
	"time"

	"github.com/aaronlmathis/gotransfer/core"
)

// MemoryStore keeps rows in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Row
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *MemoryStore) Markers(ctx context.Context, graph string) ([]Row, error) {
	out := m.filter(func(r Row) bool {
		return r.GraphName == graph && (r.Entity == EntityRun || r.Entity == EntityRetry)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].RunTimestamp.Before(out[j].RunTimestamp) })
	return out, nil
}

func (m *MemoryStore) Records(ctx context.Context, graph, runID string, outcome core.OutcomeStatus) ([]Row, error) {
	out := m.filter(func(r Row) bool {
		return r.GraphName == graph && r.RunID == runID && r.Entity == EntityRecord && r.Outcome == outcome
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (m *MemoryStore) ProcessedRanges(ctx context.Context, graph, task string, ts time.Time) ([]Range, error) {
	rows := m.filter(func(r Row) bool {
		return r.GraphName == graph && r.Task == task && r.Entity == EntityBlob && r.RunTimestamp.Equal(ts)
	})
	out := make([]Range, 0, len(rows))
	for _, r := range rows {
		out = append(out, rangeFromRow(r))
	}
	return out, nil
}

func (m *MemoryStore) DeleteOlderThan(ctx context.Context, graph string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var deleted int64
	for _, r := range m.rows {
		if (graph == "" || r.GraphName == graph) && r.RunTimestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return deleted, nil
}

// Rows returns a snapshot of every stored row.
func (m *MemoryStore) Rows() []Row {
	return m.filter(func(Row) bool { return true })
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) filter(keep func(Row) bool) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Row
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
