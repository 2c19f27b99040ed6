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
	"encoding/json"
	"fmt"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/readers"
	"github.com/aaronlmathis/gotransfer/validators"
)

const (
	ga4PayloadGtag     = "gtag"
	ga4PayloadFirebase = "firebase"
	ga4MaxBatch        = 25
)

type ga4Hook struct {
	idField string
}

func newGA4Hook(params Params, dispatcher Dispatcher) (*destination, error) {
	r := newParamReader(string(DestinationGoogleAnalytics4), params)

	secret, err := r.required("ga4_api_secret")
	if err != nil {
		return nil, err
	}
	payloadType, err := r.required("ga4_payload_type")
	if err != nil {
		return nil, err
	}
	target := map[string]string{"api_secret": secret, "payload_type": payloadType}
	h := &ga4Hook{}

	switch payloadType {
	case ga4PayloadGtag:
		if r.has("ga4_firebase_app_id") {
			return nil, r.fail("ga4_firebase_app_id", "not allowed with payload type gtag")
		}
		id, err := r.required("ga4_measurement_id")
		if err != nil {
			return nil, err
		}
		target["measurement_id"] = id
		h.idField = "client_id"
	case ga4PayloadFirebase:
		if r.has("ga4_measurement_id") {
			return nil, r.fail("ga4_measurement_id", "not allowed with payload type firebase")
		}
		id, err := r.required("ga4_firebase_app_id")
		if err != nil {
			return nil, err
		}
		target["firebase_app_id"] = id
		h.idField = "app_instance_id"
	default:
		return nil, r.fail("ga4_payload_type", "must be gtag or firebase, got %q", payloadType)
	}

	return &destination{
		kind:       DestinationGoogleAnalytics4,
		dispatcher: dispatcher,
		target:     target,
		maxBatch:   ga4MaxBatch,
		prepare:    h.prepare,
	}, nil
}

func (h *ga4Hook) prepare(rec core.Record) (prepared, *core.Outcome) {
	payload, err := ga4Payload(rec)
	if err != nil {
		return prepared{}, rejectf(core.ErrInvalidPayload, "invalid JSON payload: %v", err)
	}

	if ferr := validators.Validate(payload,
		validators.Required(h.idField),
		validators.Required("events"),
		validators.OfType("events", validators.FieldTypeList),
		validators.Custom("events", validateGA4Events),
		validators.OfType("user_id", validators.FieldTypeString),
		validators.OfType("timestamp_micros", validators.FieldTypeInt),
		validators.OfType("non_personalized_ads", validators.FieldTypeBool),
		validators.OfType("user_properties", validators.FieldTypeObject),
	); ferr != nil {
		o := ferr.Outcome()
		return prepared{}, &o
	}
	return prepared{payload: map[string]interface{}(payload)}, nil
}

// ga4Payload returns the event body. A "payload" field holding a JSON
// string or object is used as the body; otherwise the record itself is.
func ga4Payload(rec core.Record) (core.Record, error) {
	raw, ok := rec["payload"]
	if !ok {
		return rec, nil
	}
	switch v := raw.(type) {
	case string:
		return readers.DecodeJSONRecord([]byte(v))
	case map[string]interface{}:
		return core.Record(v), nil
	case []byte:
		return readers.DecodeJSONRecord(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return readers.DecodeJSONRecord(data)
	}
}

func validateGA4Events(v interface{}) error {
	events, _ := v.([]interface{})
	if len(events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for i, e := range events {
		event, ok := e.(map[string]interface{})
		if !ok {
			return fmt.Errorf("events[%d] is not an object", i)
		}
		name, ok := event["name"].(string)
		if !ok || name == "" {
			return fmt.Errorf("events[%d] has no name", i)
		}
		if params, ok := event["params"]; ok {
			if _, isObj := params.(map[string]interface{}); !isObj {
				return fmt.Errorf("events[%d].params is not an object", i)
			}
		}
	}
	return nil
}
