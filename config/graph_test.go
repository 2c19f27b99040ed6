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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gotransfer/core"
)

const sampleDefinitions = `
transfer "tcrm_bq_to_ga" {
  task        = "bq_to_ga"
  source      = "warehouse_table"
  destination = "google_analytics"
  params      = ["warehouse_table_id", "ga_tracking_id"]
  defaults    = { ga_tracking_id = env.GA_ID }
}

transfer "tcrm_gcs_to_uac" {
  source      = "object_storage"
  destination = "ads_app_campaign"
}
`

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleDefinitions), "defs.hcl", []string{"GA_ID=UA-12-3"})
	require.NoError(t, err)

	want := []Definition{
		{
			Name:        "tcrm_bq_to_ga",
			Task:        "bq_to_ga",
			Source:      "warehouse_table",
			Destination: "google_analytics",
			Params:      []string{"warehouse_table_id", "ga_tracking_id"},
			Defaults:    map[string]string{"ga_tracking_id": "UA-12-3"},
		},
		{
			Name:        "tcrm_gcs_to_uac",
			Source:      "object_storage",
			Destination: "ads_app_campaign",
		},
	}
	if diff := cmp.Diff(want, defs); diff != "" {
		t.Errorf("definitions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "tcrm_gcs_to_uac", defs[1].TaskID())
}

func TestParseDefinitions_Errors(t *testing.T) {
	_, err := ParseDefinitions([]byte(`transfer "a" { source = "object_storage" }`), "x.hcl", nil)
	assert.Error(t, err, "destination is required")

	dup := `
transfer "a" {
  source      = "object_storage"
  destination = "google_analytics"
}
transfer "a" {
  source      = "object_storage"
  destination = "google_analytics"
}`
	_, err = ParseDefinitions([]byte(dup), "x.hcl", nil)
	assert.ErrorContains(t, err, "duplicate transfer")
}

func TestLoadGraphConfig(t *testing.T) {
	store := MapStore{
		"tcrm_bq_to_ga_is_retry":           "1",
		"tcrm_bq_to_ga_failure_policy":     "fail_on_all_failed",
		"monitoring_dataset":               "ops",
		"monitoring_table":                 "transfer_monitoring",
		"monitoring_dsn":                   "postgres://localhost/ops",
		"tcrm_bq_to_ga_warehouse_table_id": "events",
	}
	def := Definition{
		Name:        "tcrm_bq_to_ga",
		Task:        "bq_to_ga",
		Source:      "warehouse_table",
		Destination: "google_analytics",
		Params:      []string{"warehouse_table_id", "ga_tracking_id"},
		Defaults:    map[string]string{"ga_tracking_id": "UA-1-1"},
	}

	g, err := LoadGraphConfig(NewResolver(store), def)
	require.NoError(t, err)

	assert.Equal(t, "bq_to_ga", g.Task)
	assert.Equal(t, DefaultSchedule, g.Schedule)
	assert.True(t, g.IsRun)
	assert.True(t, g.IsRetry)
	assert.True(t, g.EnableMonitoring)
	assert.Equal(t, DefaultRetentionDays, g.RetentionDays)
	assert.Equal(t, PolicyFailOnAllFailed, g.FailurePolicy)
	assert.Equal(t, MonitoringConfig{
		Backend: BackendPostgres,
		DSN:     "postgres://localhost/ops",
		Dataset: "ops",
		Table:   "transfer_monitoring",
	}, g.Monitoring)
	assert.Equal(t, map[string]interface{}{"warehouse_table_id": "events", "ga_tracking_id": "UA-1-1"}, g.HookParams())
}

func TestLoadGraphConfig_Errors(t *testing.T) {
	def := Definition{Name: "g", Source: "object_storage", Destination: "google_analytics", Params: []string{"s3_bucket"}}

	_, err := LoadGraphConfig(NewResolver(MapStore{"enable_monitoring": "0"}), def)
	var missing *core.MissingConfigError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "g_s3_bucket", missing.Key)

	_, err = LoadGraphConfig(NewResolver(MapStore{"enable_monitoring": "0", "is_retry": "1", "s3_bucket": "b"}), def)
	assert.True(t, core.IsConfigError(err))
	assert.ErrorContains(t, err, "retry requires monitoring")

	_, err = LoadGraphConfig(NewResolver(MapStore{"enable_monitoring": "0", "failure_policy": "sometimes", "s3_bucket": "b"}), def)
	var typeErr *core.ConfigTypeError
	assert.True(t, errors.As(err, &typeErr))

	_, err = LoadGraphConfig(NewResolver(MapStore{"s3_bucket": "b", "monitoring_backend": "memory", "monitoring_dataset": "d"}), def)
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "g_monitoring_table", missing.Key)
}

func TestFailurePolicy_Violated(t *testing.T) {
	assert.False(t, PolicyTolerate.Violated(3, 3))
	assert.True(t, PolicyFailOnAllFailed.Violated(3, 3))
	assert.False(t, PolicyFailOnAllFailed.Violated(3, 2))
	assert.False(t, PolicyFailOnAllFailed.Violated(0, 0))
	assert.True(t, PolicyRequireZeroFailures.Violated(3, 1))
	assert.False(t, PolicyRequireZeroFailures.Violated(3, 0))
}
