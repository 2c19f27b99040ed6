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
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/aaronlmathis/gotransfer/config"
	"github.com/aaronlmathis/gotransfer/core"
)

// Measurement Protocol limits.
const (
	gaMaxHitBytes   = 8192
	gaMaxBatchHits  = 20
	gaMaxBatchBytes = 16384
)

var gaTrackingIDPattern = regexp.MustCompile(`^UA-\d+-\d+$`)

var gaHitTypes = map[string]bool{
	"pageview": true, "screenview": true, "event": true, "transaction": true,
	"item": true, "social": true, "exception": true, "timing": true,
}

// gaHook encodes records as Measurement Protocol hits.
type gaHook struct {
	trackingID string
	hitType    string
	baseParams url.Values
}

func newGAHook(params Params, dispatcher Dispatcher) (*destination, error) {
	r := newParamReader(string(DestinationGoogleAnalytics), params)

	trackingID, err := r.required("ga_tracking_id")
	if err != nil {
		return nil, err
	}
	if !gaTrackingIDPattern.MatchString(trackingID) {
		return nil, r.fail("ga_tracking_id", "%q does not match UA-XXXX-Y", trackingID)
	}
	hitType, err := r.optional("ga_hit_type", "event")
	if err != nil {
		return nil, err
	}
	if !gaHitTypes[hitType] {
		return nil, r.fail("ga_hit_type", "unsupported hit type %q", hitType)
	}
	base, err := gaBaseParams(r)
	if err != nil {
		return nil, err
	}

	h := &gaHook{trackingID: trackingID, hitType: hitType, baseParams: base}
	return &destination{
		kind:       DestinationGoogleAnalytics,
		dispatcher: dispatcher,
		target:     map[string]string{"tracking_id": trackingID},
		maxBatch:   gaMaxBatchHits,
		prepare:    h.prepare,
		pack:       packGAHits,
	}, nil
}

// gaBaseParams accepts either a query string or a map.
func gaBaseParams(r paramReader) (url.Values, error) {
	raw, ok := r.raw("ga_base_params")
	if !ok {
		return url.Values{}, nil
	}
	if s, isStr := raw.(string); isStr && !strings.HasPrefix(strings.TrimSpace(s), "{") {
		v, err := url.ParseQuery(strings.TrimSpace(s))
		if err != nil {
			return nil, r.fail("ga_base_params", "%v", err)
		}
		return v, nil
	}
	m, err := config.Convert(raw, config.KindMap)
	if err != nil {
		return nil, r.fail("ga_base_params", "%v", err)
	}
	v := url.Values{}
	for k, item := range m.(map[string]interface{}) {
		v.Set(k, fmt.Sprint(item))
	}
	return v, nil
}

func (h *gaHook) prepare(rec core.Record) (prepared, *core.Outcome) {
	if !hasValue(rec, "cid") && !hasValue(rec, "uid") {
		return prepared{}, rejectf(core.ErrMissingField, "hit needs cid or uid")
	}

	hit := url.Values{}
	for k, v := range h.baseParams {
		hit[k] = append([]string(nil), v...)
	}
	hit.Set("v", "1")
	hit.Set("tid", h.trackingID)
	hit.Set("t", h.hitType)
	for k, v := range rec {
		if v == nil {
			continue
		}
		hit.Set(k, toString(v))
	}

	encoded := hit.Encode()
	if len(encoded) > gaMaxHitBytes {
		return prepared{}, rejectf(core.ErrPayloadTooLarge, "hit is %d bytes, limit %d", len(encoded), gaMaxHitBytes)
	}
	return prepared{payload: encoded}, nil
}

// packGAHits fills batches greedily up to the hit and byte limits. Hits in
// a batch are joined by newlines.
func packGAHits(payloads []interface{}) [][]int {
	var out [][]int
	var current []int
	size := 0
	for i, p := range payloads {
		n := len(p.(string))
		extra := n
		if len(current) > 0 {
			extra++
		}
		if len(current) == gaMaxBatchHits || (len(current) > 0 && size+extra > gaMaxBatchBytes) {
			out = append(out, current)
			current, size, extra = nil, 0, n
		}
		current = append(current, i)
		size += extra
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

func hasValue(rec core.Record, field string) bool {
	v, ok := rec[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}
