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

// Package metrics exposes Prometheus collectors for transfer runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "gotransfer"

var (
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records processed by outcome.",
		},
		[]string{"graph", "outcome"},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Task runs by final status.",
		},
		[]string{"graph", "task", "status"},
	)
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Task run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"graph", "task"},
	)
	MonitoringWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitoring_write_errors_total",
			Help:      "Monitoring appends that failed and were skipped.",
		},
		[]string{"graph"},
	)
	MonitoringRowsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitoring_rows_deleted_total",
			Help:      "Monitoring rows removed by retention cleanup.",
		},
		[]string{"graph"},
	)
	DispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_requests_total",
			Help:      "Destination dispatch requests by HTTP status class.",
		},
		[]string{"destination", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsTotal,
		RunsTotal,
		RunDuration,
		MonitoringWriteErrors,
		MonitoringRowsDeleted,
		DispatchRequests,
	)
}
