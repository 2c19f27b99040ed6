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
	"context"
)

// Package core defines the capability interfaces implemented by hooks.
//
// A hook exposes exactly one of two capabilities: Readable for sources and
// Writable for destinations. A hook instance belongs to a single run.

// Readable yields a lazy, finite sequence of records.
type Readable interface {
	// Read returns the next record or io.EOF when no more records are available.
	// Any other error aborts the run; reads are never retried mid-stream.
	Read(ctx context.Context) (Record, error)
	// Close releases any resources held by the source.
	Close() error
}

// Writable accepts one record at a time and classifies the write.
type Writable interface {
	// Write sends a single record and returns its outcome. Failures are
	// reported through the Outcome, never as a panic or error.
	Write(ctx context.Context, record Record) Outcome
	// Close releases any resources held by the destination.
	Close() error
}

// BatchWritable is implemented by destinations that send records in groups.
// WriteBatch must return one Outcome per input record, in input order.
type BatchWritable interface {
	Writable
	WriteBatch(ctx context.Context, records []Record) []Outcome
	MaxBatchSize() int
}

// Located is implemented by sources that can name the blob or table the
// most recently read record came from.
type Located interface {
	Location() string
}

// ReadableFunc adapts a function to Readable. Close is a no-op.
type ReadableFunc func(ctx context.Context) (Record, error)

// Read implements Readable.
func (f ReadableFunc) Read(ctx context.Context) (Record, error) { return f(ctx) }

// Close implements Readable.
func (f ReadableFunc) Close() error { return nil }

// WritableFunc adapts a function to Writable. Close is a no-op.
type WritableFunc func(ctx context.Context, record Record) Outcome

// Write implements Writable.
func (f WritableFunc) Write(ctx context.Context, record Record) Outcome { return f(ctx, record) }

// Close implements Writable.
func (f WritableFunc) Close() error { return nil }
