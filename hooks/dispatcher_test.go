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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/gotransfer/core"
)

func TestHTTPDispatcherSuccess(t *testing.T) {
	var got DispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"rejected":[{"index":1,"reason":"bad gclid"}]}`))
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, WithDispatchToken("secret"))
	res, err := d.Dispatch(context.Background(), DispatchRequest{
		Destination: "campaign_manager",
		Target:      map[string]string{"profile_id": "1"},
		Records:     []interface{}{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "campaign_manager", got.Destination)
	assert.Equal(t, "1", got.Target["profile_id"])
	assert.Len(t, got.Records, 2)
	assert.Equal(t, []Rejection{{Index: 1, Reason: "bad gclid"}}, res.Rejected)
}

func TestHTTPDispatcherRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, WithDispatchRetries(3, time.Millisecond))
	_, err := d.Dispatch(context.Background(), DispatchRequest{Records: []interface{}{1}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPDispatcherStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantCalls int32
		wantNum   core.ErrorNum
	}{
		{http.StatusBadRequest, 1, core.ErrEventNotSent},
		{http.StatusUnauthorized, 1, core.ErrDestinationUnauthorized},
		{http.StatusForbidden, 1, core.ErrDestinationUnauthorized},
		{http.StatusTooManyRequests, 3, core.ErrRetriableHTTP},
		{http.StatusInternalServerError, 3, core.ErrRetriableHTTP},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d := NewHTTPDispatcher(srv.URL, WithDispatchRetries(2, time.Millisecond))
			_, err := d.Dispatch(context.Background(), DispatchRequest{Records: []interface{}{1}})

			var de *DispatchError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.status, de.StatusCode)
			assert.Equal(t, tt.wantNum, errorNumFor(err))
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestHTTPDispatcherBadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewHTTPDispatcher(srv.URL).Dispatch(context.Background(), DispatchRequest{})
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "decode", de.Op)
	assert.Equal(t, core.ErrEventNotSent, de.ErrorNum())
}

func TestOutcomesFor(t *testing.T) {
	out := outcomesFor(3, DispatchResult{Rejected: []Rejection{
		{Index: 0, Reason: "nope"},
		{Index: 2, Reason: "too big", ErrorNum: int(core.ErrPayloadTooLarge)},
		{Index: 7, Reason: "ignored"},
	}}, nil)
	require.Len(t, out, 3)
	assert.Equal(t, core.Failure(core.ErrEventNotSent, "nope"), out[0])
	assert.True(t, out[1].Succeeded())
	assert.Equal(t, core.ErrPayloadTooLarge, out[2].ErrorNum)

	out = outcomesFor(2, DispatchResult{}, context.Canceled)
	for _, o := range out {
		assert.Equal(t, core.ErrRetriableEventNotSent, o.ErrorNum)
	}

	out = outcomesFor(1, DispatchResult{}, errors.New("boom"))
	assert.Equal(t, core.ErrEventNotSent, out[0].ErrorNum)
}

func TestDispatcherFromParams(t *testing.T) {
	d, err := dispatcherFromParams(newParamReader("x", Params{"dispatch_dry_run": "true"}), nil)
	require.NoError(t, err)
	assert.IsType(t, DryRunDispatcher{}, d)

	_, err = dispatcherFromParams(newParamReader("x", Params{}), nil)
	var ierr *core.InvalidHookConfigError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "dispatch_endpoint", ierr.Param)

	_, err = dispatcherFromParams(newParamReader("x", Params{"dispatch_endpoint": "http://x", "dispatch_retries": -1}), nil)
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "dispatch_retries", ierr.Param)

	d, err = dispatcherFromParams(newParamReader("x", Params{"dispatch_endpoint": "http://x"}), nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPDispatcher{}, d)
}
