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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gotransfer/core"
)

func TestResolve_PrefixPrecedence(t *testing.T) {
	r := NewResolver(MapStore{
		"g1_ga_tracking_id": "UA-1-1",
		"ga_tracking_id":    "UA-9-9",
	})

	v, err := r.Resolve("g1", "ga_tracking_id")
	require.NoError(t, err)
	assert.Equal(t, "UA-1-1", v)

	v, err = r.Resolve("g2", "ga_tracking_id")
	require.NoError(t, err)
	assert.Equal(t, "UA-9-9", v)
}

func TestResolve_FallbackAndMissing(t *testing.T) {
	r := NewResolver(MapStore{})

	v, err := r.Resolve("g1", "schedule", WithFallback("@daily"))
	require.NoError(t, err)
	assert.Equal(t, "@daily", v)

	_, err = r.Resolve("g1", "schedule")
	var missing *core.MissingConfigError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "g1_schedule", missing.Key)
}

func TestResolve_ConvertsStoredStrings(t *testing.T) {
	r := NewResolver(MapStore{
		"g1_retries":  "3",
		"g1_is_retry": "1",
		"g1_fields":   "a, b,,c",
		"g1_extra":    `{"v":"1"}`,
	})

	n, err := r.Int("g1", "retries")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	b, err := r.Bool("g1", "is_retry")
	require.NoError(t, err)
	assert.True(t, b)

	list, err := r.StringList("g1", "fields")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	m, err := r.Resolve("g1", "extra", WithExpected(KindMap))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"v": "1"}, m)
}

func TestResolve_TypeErrors(t *testing.T) {
	r := NewResolver(MapStore{"g1_retries": "3", "g1_name": "abc"})

	// An explicit but wrongly typed fallback is rejected even though the key
	// is present.
	_, err := r.Resolve("g1", "retries", WithExpected(KindInt), WithFallback("5"))
	var typeErr *core.ConfigTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "int", typeErr.Expected)

	v, err := r.Resolve("g1", "retries", WithExpected(KindInt), WithFallback(5))
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = r.Int("g1", "name")
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "g1_name", typeErr.Key)

	_, err = r.Resolve("g1", "missing", WithExpected(KindBool), WithFallback("true"))
	require.True(t, errors.As(err, &typeErr))
}

func TestResolve_NoExpectedReturnsRaw(t *testing.T) {
	r := NewResolver(MapStore{"limit": 7})
	v, err := r.Resolve("g1", "limit")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestChainStore(t *testing.T) {
	t.Setenv("GT_G1_SCHEDULE", "@hourly")
	store := ChainStore{MapStore{"g1_is_run": "0"}, EnvStore{Prefix: "GT_"}}
	r := NewResolver(store)

	s, err := r.String("g1", "schedule")
	require.NoError(t, err)
	assert.Equal(t, "@hourly", s)

	run, err := r.Bool("g1", "is_run")
	require.NoError(t, err)
	assert.False(t, run)
}

func TestParseFileStore(t *testing.T) {
	store, err := ParseFileStore([]byte("g1_is_retry: 1\nmonitoring_table: runs\nfields:\n  - a\n  - b\n"))
	require.NoError(t, err)
	r := NewResolver(store)

	retry, err := r.Bool("g1", "is_retry")
	require.NoError(t, err)
	assert.True(t, retry)

	fields, err := r.StringList("g1", "fields")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, fields)
}
