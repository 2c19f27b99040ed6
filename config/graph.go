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

package config

import (
	"fmt"

	"github.com/aaronlmathis/gotransfer/core"
)

// FailurePolicy decides whether a run's record failures fail the run.
type FailurePolicy string

const (
	// PolicyTolerate marks a run Done even when every record failed.
	PolicyTolerate FailurePolicy = "tolerate"
	// PolicyFailOnAllFailed fails a non-empty run with zero successes.
	PolicyFailOnAllFailed FailurePolicy = "fail_on_all_failed"
	// PolicyRequireZeroFailures fails a run with any failed record.
	PolicyRequireZeroFailures FailurePolicy = "require_zero_failures"
)

// Violated reports whether a run with the given counts breaks the policy.
func (p FailurePolicy) Violated(total, failed int) bool {
	switch p {
	case PolicyFailOnAllFailed:
		return total > 0 && failed == total
	case PolicyRequireZeroFailures:
		return failed > 0
	default:
		return false
	}
}

// Monitoring backends.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Defaults applied when a graph leaves a key unset.
const (
	DefaultSchedule      = "@once"
	DefaultRetentionDays = 50
)

// MonitoringConfig locates the monitoring table.
type MonitoringConfig struct {
	Backend string
	DSN     string
	Dataset string
	Table   string
}

// GraphConfig is the immutable, fully resolved configuration of one
// transfer. It is built once at graph-build time.
type GraphConfig struct {
	Name            string
	Task            string
	SourceKind      string
	DestinationKind string
	Params          map[string]interface{}

	Schedule                string
	IsRun                   bool
	IsRetry                 bool
	EnableRunReport         bool
	EnableMonitoring        bool
	EnableMonitoringCleanup bool
	RetentionDays           int
	FailurePolicy           FailurePolicy
	BatchSize               int
	Monitoring              MonitoringConfig
}

// HookParams returns a copy of the hook params.
func (g GraphConfig) HookParams() map[string]interface{} {
	out := make(map[string]interface{}, len(g.Params))
	for k, v := range g.Params {
		out[k] = v
	}
	return out
}

// LoadGraphConfig resolves every graph variable and hook parameter named by
// def. Resolution happens once; the returned value is never mutated.
func LoadGraphConfig(r *Resolver, def Definition) (GraphConfig, error) {
	g := GraphConfig{
		Name:            def.Name,
		Task:            def.TaskID(),
		SourceKind:      def.Source,
		DestinationKind: def.Destination,
		Params:          make(map[string]interface{}, len(def.Params)),
	}
	name := def.Name
	var err error

	if g.Schedule, err = r.String(name, "schedule", WithFallback(DefaultSchedule)); err != nil {
		return GraphConfig{}, err
	}
	if g.IsRun, err = r.Bool(name, "is_run", WithFallback(true)); err != nil {
		return GraphConfig{}, err
	}
	if g.IsRetry, err = r.Bool(name, "is_retry", WithFallback(false)); err != nil {
		return GraphConfig{}, err
	}
	if g.EnableRunReport, err = r.Bool(name, "enable_run_report", WithFallback(false)); err != nil {
		return GraphConfig{}, err
	}
	if g.EnableMonitoring, err = r.Bool(name, "enable_monitoring", WithFallback(true)); err != nil {
		return GraphConfig{}, err
	}
	if g.EnableMonitoringCleanup, err = r.Bool(name, "enable_monitoring_cleanup", WithFallback(false)); err != nil {
		return GraphConfig{}, err
	}
	if g.RetentionDays, err = r.Int(name, "monitoring_data_days_to_live", WithFallback(DefaultRetentionDays)); err != nil {
		return GraphConfig{}, err
	}
	if g.BatchSize, err = r.Int(name, "batch_size", WithFallback(0)); err != nil {
		return GraphConfig{}, err
	}

	policy, err := r.String(name, "failure_policy", WithFallback(string(PolicyTolerate)))
	if err != nil {
		return GraphConfig{}, err
	}
	switch FailurePolicy(policy) {
	case PolicyTolerate, PolicyFailOnAllFailed, PolicyRequireZeroFailures:
		g.FailurePolicy = FailurePolicy(policy)
	default:
		return GraphConfig{}, &core.ConfigTypeError{
			Key:      "failure_policy",
			Expected: "tolerate|fail_on_all_failed|require_zero_failures",
			Actual:   policy,
		}
	}

	if g.EnableMonitoring {
		if g.Monitoring, err = loadMonitoring(r, name); err != nil {
			return GraphConfig{}, err
		}
	}
	if g.IsRetry && !g.EnableMonitoring {
		return GraphConfig{}, &core.ConfigurationError{
			Graph: name,
			Err:   fmt.Errorf("retry requires monitoring to be enabled"),
		}
	}

	for _, p := range def.Params {
		opts := []ResolveOption{}
		if d, ok := def.Defaults[p]; ok {
			opts = append(opts, WithFallback(d))
		}
		v, err := r.Resolve(name, p, opts...)
		if err != nil {
			return GraphConfig{}, err
		}
		g.Params[p] = v
	}

	return g, nil
}

// LoadMonitoringConfig resolves the monitoring table location shared by all
// graphs. Used by the standalone cleanup graph.
func LoadMonitoringConfig(r *Resolver, graph string) (MonitoringConfig, error) {
	return loadMonitoring(r, graph)
}

func loadMonitoring(r *Resolver, name string) (MonitoringConfig, error) {
	var m MonitoringConfig
	var err error
	if m.Backend, err = r.String(name, "monitoring_backend", WithFallback(BackendPostgres)); err != nil {
		return m, err
	}
	switch m.Backend {
	case BackendPostgres, BackendMongo, BackendMemory:
	default:
		return m, &core.ConfigTypeError{Key: "monitoring_backend", Expected: "postgres|mongo|memory", Actual: m.Backend}
	}
	if m.Dataset, err = r.String(name, "monitoring_dataset"); err != nil {
		return m, err
	}
	if m.Table, err = r.String(name, "monitoring_table"); err != nil {
		return m, err
	}
	if m.Backend != BackendMemory {
		if m.DSN, err = r.String(name, "monitoring_dsn"); err != nil {
			return m, err
		}
	}
	return m, nil
}
