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

package gotransfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aaronlmathis/gotransfer/config"
	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/dag"
	"github.com/aaronlmathis/gotransfer/dag/tasks"
	"github.com/aaronlmathis/gotransfer/hooks"
	"github.com/aaronlmathis/gotransfer/monitoring"
)

// Package gotransfer assembles batch transfers into schedulable units.
//
// A transfer definition names a source hook kind, a destination hook kind
// and the parameters both need. The Assembler resolves every parameter
// once, validates the hooks and emits a fixed topology:
//
//   - the main connector task, when is_run is set
//   - "{task}_retry_task", when is_retry is set, running after the main task
//     whatever its outcome and replaying only the failures of the previous run
//   - "monitoring_cleanup_task", when enable_monitoring_cleanup is set,
//     independent of the other two
//
// A definition that cannot be built still yields a unit: it holds a single
// "configuration_error" task that always fails with the build error.
//
// Example usage:
//
//   store, _ := config.LoadFileStore("variables.yaml")
//   defs, _ := config.LoadDefinitions("transfers.hcl")
//   assembler := gotransfer.NewAssembler(config.NewResolver(store))
//   defer assembler.Close()
//   for _, def := range defs {
//       unit := assembler.Assemble(def)
//       if _, err := unit.Run(ctx, time.Now()); err != nil { log.Println(err) }
//   }

// Graph-level policy applied to every unit. These are not configurable per
// graph.
const (
	DAGRetries        = 1
	DAGRetryDelay     = 3 * time.Minute
	DAGSchedule       = "@once"
	DAGMaxParallelism = 3
)

// Task ids.
const (
	RetryTaskSuffix  = "_retry_task"
	CleanupTaskID    = "monitoring_cleanup_task"
	CleanupGraphName = "monitoring_cleanup"
)

// StoreOpener opens the monitoring store at a location.
type StoreOpener func(cfg config.MonitoringConfig) (monitoring.Store, error)

// Assembler builds Units from transfer definitions. Monitoring stores are
// opened once per location and shared by every unit that names it.
type Assembler struct {
	resolver    *config.Resolver
	registry    *hooks.Registry
	openStore   StoreOpener
	executor    *dag.DAGExecutor
	logger      *slog.Logger
	retryDelay  time.Duration
	taskTimeout time.Duration

	mu     sync.Mutex
	stores map[config.MonitoringConfig]monitoring.Store
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithRegistry sets the hook registry.
func WithRegistry(r *hooks.Registry) AssemblerOption {
	return func(a *Assembler) {
		a.registry = r
	}
}

// WithStoreOpener replaces monitoring.Open.
func WithStoreOpener(open StoreOpener) AssemblerOption {
	return func(a *Assembler) {
		a.openStore = open
	}
}

// WithExecutor sets the executor units run on.
func WithExecutor(e *dag.DAGExecutor) AssemblerOption {
	return func(a *Assembler) {
		a.executor = e
	}
}

// WithLogger sets the logger build errors are reported to.
func WithLogger(l *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = l
	}
}

// WithTaskTimeout bounds each attempt of every task. Zero means no bound.
func WithTaskTimeout(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		a.taskTimeout = d
	}
}

// NewAssembler creates an Assembler reading variables through resolver.
func NewAssembler(resolver *config.Resolver, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		resolver:   resolver,
		registry:   hooks.NewRegistry(),
		openStore:  monitoring.Open,
		executor:   dag.NewDAGExecutor(),
		logger:     slog.Default(),
		retryDelay: DAGRetryDelay,
		stores:     make(map[config.MonitoringConfig]monitoring.Store),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the unit of def. It never fails: any configuration,
// hook or monitoring error produces a configuration-error unit.
func (a *Assembler) Assemble(def config.Definition) *Unit {
	unit, err := a.assemble(def)
	if err != nil {
		return a.configErrorUnit(def.Name, err)
	}
	return unit
}

// AssembleAll builds one unit per definition, in order.
func (a *Assembler) AssembleAll(defs []config.Definition) []*Unit {
	units := make([]*Unit, 0, len(defs))
	for _, def := range defs {
		units = append(units, a.Assemble(def))
	}
	return units
}

// AssembleCleanup builds the standalone unit that expires monitoring rows of
// every graph. Its variables are resolved under name.
func (a *Assembler) AssembleCleanup(name string) *Unit {
	unit, err := a.assembleCleanup(name)
	if err != nil {
		return a.configErrorUnit(name, err)
	}
	return unit
}

func (a *Assembler) assemble(def config.Definition) (*Unit, error) {
	g, err := config.LoadGraphConfig(a.resolver, def)
	if err != nil {
		return nil, err
	}
	if err := a.validateHooks(g); err != nil {
		return nil, err
	}
	if g.EnableMonitoringCleanup {
		if !g.EnableMonitoring {
			return nil, &core.ConfigurationError{Graph: g.Name, Err: errors.New("monitoring cleanup requires monitoring to be enabled")}
		}
		if g.RetentionDays < 1 {
			return nil, &core.MonitoringCleanupError{Op: core.CleanupOpRetention, Err: fmt.Errorf("retention must be at least 1 day, got %d", g.RetentionDays)}
		}
	}

	var store monitoring.Store
	if g.EnableMonitoring {
		if store, err = a.store(g.Monitoring); err != nil {
			return nil, err
		}
	}

	source := func() (core.Readable, error) {
		return a.registry.CreateReadable(g.SourceKind, g.HookParams())
	}
	sink := func() (core.Writable, error) {
		return a.registry.CreateWritable(g.DestinationKind, g.HookParams())
	}
	cfg := tasks.ConnectorConfig{
		Graph:        g.Name,
		Store:        store,
		BatchSize:    g.BatchSize,
		Policy:       g.FailurePolicy,
		ReturnReport: g.EnableRunReport,
	}

	builder := a.newBuilder(g.Name, g.Schedule).WithDescription(def.Description)
	if g.IsRun {
		builder.AddConnectorTask(g.Task, cfg, source, sink,
			tasks.WithDescription(fmt.Sprintf("%s to %s", g.SourceKind, g.DestinationKind)))
	}
	if g.IsRetry {
		opts := []tasks.TaskOption{
			tasks.WithTriggerRule(dag.TriggerAllDone),
			tasks.WithDescription("replay failed records of the previous run"),
		}
		if g.IsRun {
			opts = append(opts, tasks.WithDependencies(g.Task))
		}
		builder.AddRetryTask(g.Task+RetryTaskSuffix, tasks.NewRetryCoordinator(store, g.Name), cfg, sink, opts...)
	}
	if g.EnableMonitoringCleanup {
		builder.AddCleanupTask(CleanupTaskID, store, g.Name, g.RetentionDays,
			tasks.WithDescription(fmt.Sprintf("delete monitoring rows older than %d days", g.RetentionDays)))
	}

	d, err := builder.Build()
	if err != nil {
		return nil, &core.ConfigurationError{Graph: g.Name, Err: err}
	}
	return &Unit{Name: g.Name, Config: &g, DAG: d, executor: a.executor}, nil
}

func (a *Assembler) assembleCleanup(name string) (*Unit, error) {
	m, err := config.LoadMonitoringConfig(a.resolver, name)
	if err != nil {
		return nil, err
	}
	days, err := a.resolver.Int(name, "monitoring_data_days_to_live", config.WithFallback(config.DefaultRetentionDays))
	if err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, &core.MonitoringCleanupError{Op: core.CleanupOpRetention, Err: fmt.Errorf("retention must be at least 1 day, got %d", days)}
	}
	schedule, err := a.resolver.String(name, "schedule", config.WithFallback(DAGSchedule))
	if err != nil {
		return nil, err
	}
	store, err := a.store(m)
	if err != nil {
		return nil, err
	}

	d, err := a.newBuilder(name, schedule).
		WithDescription("monitoring retention for every graph").
		AddCleanupTask(CleanupTaskID, store, "", days).
		Build()
	if err != nil {
		return nil, &core.ConfigurationError{Graph: name, Err: err}
	}
	return &Unit{Name: name, DAG: d, executor: a.executor}, nil
}

func (a *Assembler) newBuilder(name, schedule string) *dag.DAGBuilder {
	return dag.NewDAG(name, name).
		WithSchedule(schedule).
		WithMaxParallelism(DAGMaxParallelism).
		WithDefaultTimeout(a.taskTimeout).
		WithDefaultRetries(&tasks.RetryConfig{
			MaxRetries: DAGRetries,
			Backoff:    a.retryDelay,
			RetryIf:    tasks.IsTransient,
		})
}

// validateHooks constructs both hooks once so bad kinds and params surface
// at build time. Constructors perform no I/O.
func (a *Assembler) validateHooks(g config.GraphConfig) error {
	src, err := a.registry.CreateReadable(g.SourceKind, g.HookParams())
	if err != nil {
		return err
	}
	src.Close()
	dst, err := a.registry.CreateWritable(g.DestinationKind, g.HookParams())
	if err != nil {
		return err
	}
	dst.Close()
	return nil
}

func (a *Assembler) store(cfg config.MonitoringConfig) (monitoring.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.stores[cfg]; ok {
		return s, nil
	}
	s, err := a.openStore(cfg)
	if err != nil {
		return nil, &core.ConfigurationError{Err: fmt.Errorf("open monitoring store: %w", err)}
	}
	a.stores[cfg] = s
	return s, nil
}

func (a *Assembler) configErrorUnit(name string, err error) *Unit {
	a.logger.Error("transfer misconfigured", "graph", name, "error", err)
	d, buildErr := dag.NewDAG(name, name).
		WithSchedule(DAGSchedule).
		AddConfigErrorTask(name, err).
		Build()
	if buildErr != nil {
		panic(fmt.Sprintf("configuration error unit for %s: %v", name, buildErr))
	}
	return &Unit{Name: name, DAG: d, executor: a.executor, configErr: err}
}

// Close closes every monitoring store the assembler opened.
func (a *Assembler) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for cfg, s := range a.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(a.stores, cfg)
	}
	return errors.Join(errs...)
}

// Unit is one assembled graph ready to run.
type Unit struct {
	Name   string
	Config *config.GraphConfig
	DAG    *dag.DAG

	executor  *dag.DAGExecutor
	configErr error
}

// ConfigError returns the build error of a configuration-error unit, or nil.
func (u *Unit) ConfigError() error {
	return u.configErr
}

// Run executes every task of the unit once with the given run timestamp.
// The timestamp is normalised to monitoring precision so a resumed attempt
// finds the markers its first attempt wrote.
func (u *Unit) Run(ctx context.Context, runTimestamp time.Time) (*dag.DAGResult, error) {
	u.DAG.SetGlobalContextValue(tasks.RunTimestampKey, monitoring.NormalizeTimestamp(runTimestamp))
	return u.executor.Execute(ctx, u.DAG)
}
