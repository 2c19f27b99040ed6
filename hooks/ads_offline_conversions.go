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
	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/validators"
)

const offlineConversionsMaxBatch = 2000

type offlineConversionsHook struct {
	creds AdsCredentials
}

func newOfflineConversionsHook(params Params, dispatcher Dispatcher) (*destination, error) {
	r := newParamReader(string(DestinationAdsOfflineConversions), params)
	creds, err := parseAdsCredentials(r)
	if err != nil {
		return nil, err
	}
	h := &offlineConversionsHook{creds: creds}
	return &destination{
		kind:       DestinationAdsOfflineConversions,
		dispatcher: dispatcher,
		target:     creds.target(),
		groupKey:   "customer_id",
		maxBatch:   offlineConversionsMaxBatch,
		prepare:    h.prepare,
	}, nil
}

func (h *offlineConversionsHook) prepare(rec core.Record) (prepared, *core.Outcome) {
	if ferr := validators.Validate(rec,
		validators.Required("gclid"),
		validators.Required("conversion_action"),
		validators.Required("conversion_date_time"),
		validators.Required("conversion_value"),
		validators.OfType("conversion_value", validators.FieldTypeFloat),
	); ferr != nil {
		o := ferr.Outcome()
		return prepared{}, &o
	}

	value, _ := validators.ToFloat64(rec["conversion_value"])
	return prepared{
		payload: map[string]interface{}{
			"gclid":              stringValue(rec, "gclid"),
			"conversionAction":   stringValue(rec, "conversion_action"),
			"conversionDateTime": stringValue(rec, "conversion_date_time"),
			"conversionValue":    value,
		},
		group: h.creds.customerGroup(rec),
	}, nil
}
