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
	"strings"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/validators"
)

const appCampaignMaxBatch = 100

var appEventTypes = []interface{}{
	"first_open", "session_start", "in_app_purchase", "view_item_list",
	"view_item", "view_search_results", "add_to_cart", "ecommerce_purchase",
	"custom",
}

var appCampaignFields = []string{
	"link_id", "app_event_type", "rdid", "id_type", "lat",
	"app_version", "os_version", "sdk_version", "timestamp",
}

type appCampaignHook struct {
	defaultLinkID string
}

func newAppCampaignHook(params Params, dispatcher Dispatcher) (*destination, error) {
	r := newParamReader(string(DestinationAdsAppCampaign), params)
	linkID, err := r.optional("uac_link_id", "")
	if err != nil {
		return nil, err
	}
	h := &appCampaignHook{defaultLinkID: linkID}
	return &destination{
		kind:       DestinationAdsAppCampaign,
		dispatcher: dispatcher,
		maxBatch:   appCampaignMaxBatch,
		prepare:    h.prepare,
	}, nil
}

func (h *appCampaignHook) prepare(rec core.Record) (prepared, *core.Outcome) {
	if !hasValue(rec, "link_id") && h.defaultLinkID != "" {
		rec["link_id"] = h.defaultLinkID
	}
	if rdid, ok := rec["rdid"].(string); ok {
		rec["rdid"] = strings.ToLower(strings.TrimSpace(rdid))
	}

	checks := append(validators.RequiredFields(appCampaignFields...),
		validators.OneOf("app_event_type", appEventTypes...),
		validators.UUIDv4("rdid"),
		validators.OneOf("id_type", "advertisingid", "idfa"),
		validators.OneOf("lat", 0, 1),
		validators.Custom("app_event_name", func(interface{}) error {
			if rec["app_event_type"] != "custom" {
				return fmt.Errorf("app_event_name requires app_event_type custom")
			}
			return nil
		}),
		validators.OfType("app_event_data", validators.FieldTypeObject),
	)
	if ferr := validators.Validate(rec, checks...); ferr != nil {
		o := ferr.Outcome()
		return prepared{}, &o
	}

	payload := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		payload[k] = v
	}
	return prepared{payload: payload}, nil
}
