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
	"regexp"
	"strconv"

	"github.com/aaronlmathis/gotransfer/core"
	"github.com/aaronlmathis/gotransfer/validators"
)

const (
	campaignManagerMaxBatch     = 1000
	customVariableMaxValueChars = 50
	customVariableMaxIndex      = 100
)

var (
	numericID          = regexp.MustCompile(`^\d+$`)
	customVariableType = regexp.MustCompile(`^[Uu](\d+)$`)
	cmIdentifiers      = []string{"gclid", "dclid", "encryptedUserId", "mobileDeviceId", "matchId"}
)

type campaignManagerHook struct {
	activityID      string
	configurationID string
}

func newCampaignManagerHook(params Params, dispatcher Dispatcher) (*destination, error) {
	r := newParamReader(string(DestinationCampaignManager), params)

	profileID, err := r.required("cm_profile_id")
	if err != nil {
		return nil, err
	}
	if !numericID.MatchString(profileID) {
		return nil, r.fail("cm_profile_id", "must be numeric, got %q", profileID)
	}
	activityID, err := r.required("cm_floodlight_activity_id")
	if err != nil {
		return nil, err
	}
	configurationID, err := r.required("cm_floodlight_configuration_id")
	if err != nil {
		return nil, err
	}

	h := &campaignManagerHook{activityID: activityID, configurationID: configurationID}
	return &destination{
		kind:       DestinationCampaignManager,
		dispatcher: dispatcher,
		target:     map[string]string{"profile_id": profileID},
		maxBatch:   campaignManagerMaxBatch,
		prepare:    h.prepare,
	}, nil
}

func (h *campaignManagerHook) prepare(rec core.Record) (prepared, *core.Outcome) {
	if ferr := validators.Validate(rec,
		validators.Required("ordinal"),
		validators.OfType("customVariables", validators.FieldTypeList),
		validators.Custom("customVariables", validateCustomVariables),
	); ferr != nil {
		o := ferr.Outcome()
		return prepared{}, &o
	}

	found := false
	for _, id := range cmIdentifiers {
		if hasValue(rec, id) {
			found = true
			break
		}
	}
	if !found {
		return prepared{}, rejectf(core.ErrMissingField, "conversion needs one of %v", cmIdentifiers)
	}

	conversion := make(map[string]interface{}, len(rec)+3)
	for k, v := range rec {
		conversion[k] = v
	}
	conversion["kind"] = "dfareporting#conversion"
	conversion["floodlightActivityId"] = h.activityID
	conversion["floodlightConfigurationId"] = h.configurationID
	return prepared{payload: conversion}, nil
}

// validateCustomVariables checks each entry has a type U1..U100 and a
// value of at most 50 characters.
func validateCustomVariables(v interface{}) error {
	vars, _ := v.([]interface{})
	for i, item := range vars {
		cv, ok := item.(map[string]interface{})
		if !ok {
			return fmt.Errorf("customVariables[%d] is not an object", i)
		}
		typ, _ := cv["type"].(string)
		m := customVariableType.FindStringSubmatch(typ)
		if m == nil {
			return fmt.Errorf("customVariables[%d] type %q is not U1..U%d", i, typ, customVariableMaxIndex)
		}
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > customVariableMaxIndex {
			return fmt.Errorf("customVariables[%d] type %q is not U1..U%d", i, typ, customVariableMaxIndex)
		}
		if value := toString(cv["value"]); len([]rune(value)) > customVariableMaxValueChars {
			return fmt.Errorf("customVariables[%d] value exceeds %d characters", i, customVariableMaxValueChars)
		}
	}
	return nil
}
