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
	"errors"
	"fmt"
)

// Package core defines the error handling types for the GoTransfer library.
//
// Configuration errors are fatal at build time and never retried. Source
// errors abort a run. Sink errors are recorded per record. Monitoring errors
// are logged only.

// ErrorNum classifies a per-record failure. The value is persisted with
// monitoring rows.
type ErrorNum int

const (
	ErrNone                    ErrorNum = 0
	ErrRetriableEventNotSent   ErrorNum = 10
	ErrEventNotSent            ErrorNum = 11
	ErrRetriableHTTP           ErrorNum = 20
	ErrInvalidPayload          ErrorNum = 50
	ErrPayloadTooLarge         ErrorNum = 51
	ErrMissingField            ErrorNum = 52
	ErrInvalidFieldValue       ErrorNum = 53
	ErrDestinationUnauthorized ErrorNum = 60
	ErrReplayDecode            ErrorNum = 90
)

var errorNumNames = map[ErrorNum]string{
	ErrNone:                    "none",
	ErrRetriableEventNotSent:   "retriable event not sent",
	ErrEventNotSent:            "event not sent",
	ErrRetriableHTTP:           "retriable http error",
	ErrInvalidPayload:          "invalid payload",
	ErrPayloadTooLarge:         "payload too large",
	ErrMissingField:            "missing required field",
	ErrInvalidFieldValue:       "invalid field value",
	ErrDestinationUnauthorized: "destination authentication error",
	ErrReplayDecode:            "replay decode error",
}

func (n ErrorNum) String() string {
	if s, ok := errorNumNames[n]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(n))
}

// MissingConfigError is returned when a key resolves to nothing and no
// fallback was supplied.
type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("config resolve: missing value for %q", e.Key)
}

// ConfigTypeError is returned when a resolved value (or the supplied
// fallback) does not have the expected type.
type ConfigTypeError struct {
	Key      string
	Expected string
	Actual   string
	Err      error
}

func (e *ConfigTypeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config resolve: %q expected %s, got %s: %v", e.Key, e.Expected, e.Actual, e.Err)
	}
	return fmt.Sprintf("config resolve: %q expected %s, got %s", e.Key, e.Expected, e.Actual)
}

func (e *ConfigTypeError) Unwrap() error {
	return e.Err
}

// UnsupportedHookError is returned for a hook kind outside the registry.
type UnsupportedHookError struct {
	Kind string
}

func (e *UnsupportedHookError) Error() string {
	return fmt.Sprintf("hook registry: unsupported hook kind %q", e.Kind)
}

// InvalidHookConfigError is returned by a hook constructor whose params fail
// validation.
type InvalidHookConfigError struct {
	Kind  string
	Param string
	Err   error
}

func (e *InvalidHookConfigError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s hook config: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s hook config %s: %v", e.Kind, e.Param, e.Err)
}

func (e *InvalidHookConfigError) Unwrap() error {
	return e.Err
}

// SourceReadError aborts a run.
type SourceReadError struct {
	Op  string
	Err error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}

// SinkWriteError describes a single failed record. It is recorded and never
// aborts a run.
type SinkWriteError struct {
	Key      string
	ErrorNum ErrorNum
	Reason   string
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink write %s: %s (%s)", e.Key, e.Reason, e.ErrorNum)
}

// MonitoringWriteError is logged and never fails a run.
type MonitoringWriteError struct {
	Op  string
	Err error
}

func (e *MonitoringWriteError) Error() string {
	return fmt.Sprintf("monitoring %s: %v", e.Op, e.Err)
}

func (e *MonitoringWriteError) Unwrap() error {
	return e.Err
}

// Cleanup operations reported by MonitoringCleanupError.
const (
	CleanupOpRetention = "retention"
	CleanupOpDelete    = "delete"
)

// MonitoringCleanupError is returned for an invalid retention window
// (Op retention) or a failed delete (Op delete).
type MonitoringCleanupError struct {
	Op  string
	Err error
}

func (e *MonitoringCleanupError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("monitoring cleanup: %v", e.Err)
	}
	return fmt.Sprintf("monitoring cleanup %s: %v", e.Op, e.Err)
}

// InvalidRetention reports whether the error rejects the retention window
// rather than a store operation.
func (e *MonitoringCleanupError) InvalidRetention() bool {
	return e.Op == CleanupOpRetention
}

func (e *MonitoringCleanupError) Unwrap() error {
	return e.Err
}

// RunFailedError is returned when a run's outcomes violate the graph's
// failure policy.
type RunFailedError struct {
	Graph  string
	Policy string
	Failed int
	Total  int
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run of %s failed policy %s: %d of %d records failed", e.Graph, e.Policy, e.Failed, e.Total)
}

// ConfigurationError wraps any build-time error surfaced by the standing
// configuration error task.
type ConfigurationError struct {
	Graph string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Graph, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err belongs to the configuration class.
func IsConfigError(err error) bool {
	var (
		missing     *MissingConfigError
		typed       *ConfigTypeError
		unsupported *UnsupportedHookError
		invalid     *InvalidHookConfigError
		wrapped     *ConfigurationError
	)
	return errors.As(err, &missing) ||
		errors.As(err, &typed) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &invalid) ||
		errors.As(err, &wrapped)
}
