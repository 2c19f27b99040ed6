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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/logging"
	"github.com/aaronlmathis/gotransfer/metrics"
)

// DispatchRequest is one group of accepted payloads for a destination.
type DispatchRequest struct {
	Destination string            `json:"destination"`
	Target      map[string]string `json:"target,omitempty"`
	Records     []interface{}     `json:"records"`
}

// Rejection marks one payload of a request as not sent.
type Rejection struct {
	Index    int    `json:"index"`
	Reason   string `json:"reason"`
	ErrorNum int    `json:"error_num,omitempty"`
}

// DispatchResult lists the payloads the destination rejected. Every other
// payload was accepted.
type DispatchResult struct {
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Dispatcher delivers payloads to a destination API.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// DispatchError provides structured error information for a failed dispatch.
type DispatchError struct {
	Op         string // Operation that failed (e.g., "request", "status_check", "decode")
	StatusCode int    // HTTP status code if applicable
	URL        string // Endpoint being called
	Err        error  // Underlying error
}

func (e *DispatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("dispatch %s [%d] %s: %v", e.Op, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("dispatch %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the request may succeed if sent again.
func (e *DispatchError) Retriable() bool {
	if e.Op == "request" {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrorNum classifies the failure for every payload of the request.
func (e *DispatchError) ErrorNum() core.ErrorNum {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return core.ErrDestinationUnauthorized
	case e.Retriable():
		return core.ErrRetriableHTTP
	default:
		return core.ErrEventNotSent
	}
}

// errorNumFor classifies an error returned by a Dispatcher.
func errorNumFor(err error) core.ErrorNum {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.ErrorNum()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.ErrRetriableEventNotSent
	}
	return core.ErrEventNotSent
}

// outcomesFor maps a dispatch result onto n payloads. A dispatch error
// fails all of them.
func outcomesFor(n int, res DispatchResult, err error) []core.Outcome {
	out := make([]core.Outcome, n)
	if err != nil {
		num := errorNumFor(err)
		for i := range out {
			out[i] = core.Failure(num, err.Error())
		}
		return out
	}
	for i := range out {
		out[i] = core.Success()
	}
	for _, rej := range res.Rejected {
		if rej.Index < 0 || rej.Index >= n {
			continue
		}
		num := core.ErrEventNotSent
		if rej.ErrorNum != 0 {
			num = core.ErrorNum(rej.ErrorNum)
		}
		out[rej.Index] = core.Failure(num, rej.Reason)
	}
	return out
}

// HTTPDispatcherOptions configures the HTTP dispatcher.
type HTTPDispatcherOptions struct {
	Token           string        // Bearer token
	Timeout         time.Duration // Request timeout
	RetryAttempts   int           // Number of retry attempts
	RetryDelay      time.Duration // Base delay between retries
	MaxResponseSize int64         // Maximum response size in bytes
	UserAgent       string        // User agent string
	CustomClient    *http.Client  // Custom HTTP client
}

// DispatcherOption is a functional option for HTTPDispatcherOptions.
type DispatcherOption func(*HTTPDispatcherOptions)

func WithDispatchToken(token string) DispatcherOption {
	return func(opts *HTTPDispatcherOptions) { opts.Token = token }
}

func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(opts *HTTPDispatcherOptions) { opts.Timeout = timeout }
}

func WithDispatchRetries(attempts int, delay time.Duration) DispatcherOption {
	return func(opts *HTTPDispatcherOptions) {
		opts.RetryAttempts = attempts
		opts.RetryDelay = delay
	}
}

func WithDispatchClient(client *http.Client) DispatcherOption {
	return func(opts *HTTPDispatcherOptions) { opts.CustomClient = client }
}

// HTTPDispatcher POSTs requests as JSON to a single endpoint.
type HTTPDispatcher struct {
	endpoint string
	client   *http.Client
	opts     *HTTPDispatcherOptions
}

// NewHTTPDispatcher creates a dispatcher for endpoint.
func NewHTTPDispatcher(endpoint string, options ...DispatcherOption) *HTTPDispatcher {
	opts := &HTTPDispatcherOptions{
		Timeout:         30 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      time.Second,
		MaxResponseSize: 10 * 1024 * 1024,
		UserAgent:       "GoTransfer-Dispatcher/1.0",
	}
	for _, option := range options {
		option(opts)
	}

	client := opts.CustomClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPDispatcher{endpoint: endpoint, client: client, opts: opts}
}

// Dispatch implements Dispatcher. 429 and 5xx responses and transport
// errors are retried with exponential backoff.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return DispatchResult{}, &DispatchError{Op: "encode", URL: d.endpoint, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= d.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := d.opts.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return DispatchResult{}, ctx.Err()
			}
			logging.FromContext(ctx).Debug("retrying dispatch",
				"destination", req.Destination, "attempt", attempt, "error", lastErr)
		}

		res, err := d.execute(ctx, req.Destination, body)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var de *DispatchError
		if errors.As(err, &de) && de.Retriable() {
			continue
		}
		break
	}
	return DispatchResult{}, lastErr
}

func (d *HTTPDispatcher) execute(ctx context.Context, destination string, body []byte) (DispatchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return DispatchResult{}, &DispatchError{Op: "create_request", URL: d.endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", d.opts.UserAgent)
	if d.opts.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.opts.Token)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		metrics.DispatchRequests.WithLabelValues(destination, "error").Inc()
		if ctx.Err() != nil {
			return DispatchResult{}, ctx.Err()
		}
		return DispatchResult{}, &DispatchError{Op: "request", URL: d.endpoint, Err: err}
	}
	defer resp.Body.Close()
	metrics.DispatchRequests.WithLabelValues(destination, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxResponseSize))
	if err != nil {
		return DispatchResult{}, &DispatchError{Op: "read_response", URL: d.endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DispatchResult{}, &DispatchError{
			Op:         "status_check",
			StatusCode: resp.StatusCode,
			URL:        d.endpoint,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	var res DispatchResult
	if len(bytes.TrimSpace(data)) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return DispatchResult{}, &DispatchError{Op: "decode", StatusCode: resp.StatusCode, URL: d.endpoint, Err: err}
	}
	return res, nil
}

// DryRunDispatcher accepts every payload without sending it.
type DryRunDispatcher struct{}

// Dispatch implements Dispatcher.
func (DryRunDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	logging.FromContext(ctx).Debug("dry run dispatch",
		"destination", req.Destination, "records", len(req.Records))
	return DispatchResult{}, nil
}

// dispatcherFromParams builds the dispatcher a destination hook sends
// through: a dry run when dispatch_dry_run is set, otherwise HTTP to
// dispatch_endpoint.
func dispatcherFromParams(r paramReader, client *http.Client) (Dispatcher, error) {
	dryRun, err := r.boolean("dispatch_dry_run", false)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return DryRunDispatcher{}, nil
	}
	endpoint, err := r.required("dispatch_endpoint")
	if err != nil {
		return nil, err
	}
	token, err := r.optional("dispatch_token", "")
	if err != nil {
		return nil, err
	}
	retries, err := r.integer("dispatch_retries", 3)
	if err != nil {
		return nil, err
	}
	if retries < 0 {
		return nil, r.fail("dispatch_retries", "must not be negative")
	}
	delayMS, err := r.integer("dispatch_retry_delay_ms", 1000)
	if err != nil {
		return nil, err
	}
	opts := []DispatcherOption{
		WithDispatchToken(token),
		WithDispatchRetries(retries, time.Duration(delayMS)*time.Millisecond),
	}
	if client != nil {
		opts = append(opts, WithDispatchClient(client))
	}
	return NewHTTPDispatcher(endpoint, opts...), nil
}
