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
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/aaronlmathis/gotransfer/core"
)

// Customer Match upload key types.
const (
	UploadKeyContactInfo         = "CONTACT_INFO"
	UploadKeyCRMID               = "CRM_ID"
	UploadKeyMobileAdvertisingID = "MOBILE_ADVERTISING_ID"
)

const (
	cmMaxLifespanDays       = 540
	cmUnlimitedLifespanDays = 10000
	cmDefaultLifespanDays   = 8
)

var phoneCleaner = regexp.MustCompile(`[^\d+]`)

type customerMatchHook struct {
	creds         AdsCredentials
	uploadKeyType string
}

func newCustomerMatchHook(params Params, dispatcher Dispatcher) (*destination, error) {
	r := newParamReader(string(DestinationAdsCustomerMatch), params)

	creds, err := parseAdsCredentials(r)
	if err != nil {
		return nil, err
	}
	listName, err := r.required("ads_cm_user_list_name")
	if err != nil {
		return nil, err
	}
	keyType, err := r.required("ads_upload_key_type")
	if err != nil {
		return nil, err
	}
	switch keyType {
	case UploadKeyContactInfo, UploadKeyCRMID, UploadKeyMobileAdvertisingID:
	default:
		return nil, r.fail("ads_upload_key_type", "unsupported upload key type %q", keyType)
	}
	lifespan, err := r.integer("ads_cm_membership_lifespan", cmDefaultLifespanDays)
	if err != nil {
		return nil, err
	}
	if (lifespan < 0 || lifespan > cmMaxLifespanDays) && lifespan != cmUnlimitedLifespanDays {
		return nil, r.fail("ads_cm_membership_lifespan", "must be 0..%d or %d, got %d",
			cmMaxLifespanDays, cmUnlimitedLifespanDays, lifespan)
	}
	createList, err := r.boolean("ads_cm_create_list", true)
	if err != nil {
		return nil, err
	}
	appID, err := r.optional("ads_cm_app_id", "")
	if err != nil {
		return nil, err
	}
	if keyType == UploadKeyMobileAdvertisingID && createList && appID == "" {
		return nil, r.fail("ads_cm_app_id", "required to create a %s list", keyType)
	}

	target := creds.target()
	target["user_list_name"] = listName
	target["upload_key_type"] = keyType
	target["membership_lifespan"] = strconv.Itoa(lifespan)
	target["create_list"] = strconv.FormatBool(createList)
	if appID != "" {
		target["app_id"] = appID
	}

	h := &customerMatchHook{creds: creds, uploadKeyType: keyType}
	return &destination{
		kind:         DestinationAdsCustomerMatch,
		dispatcher:   dispatcher,
		target:       target,
		groupKey:     "customer_id",
		groupFailure: core.ErrRetriableEventNotSent,
		prepare:      h.prepare,
	}, nil
}

func (h *customerMatchHook) prepare(rec core.Record) (prepared, *core.Outcome) {
	group := h.creds.customerGroup(rec)
	switch h.uploadKeyType {
	case UploadKeyCRMID:
		if !hasValue(rec, "third_party_user_id") {
			return prepared{}, rejectf(core.ErrMissingField, "third_party_user_id is required")
		}
		return prepared{payload: map[string]interface{}{"thirdPartyUserId": stringValue(rec, "third_party_user_id")}, group: group}, nil
	case UploadKeyMobileAdvertisingID:
		if !hasValue(rec, "mobile_id") {
			return prepared{}, rejectf(core.ErrMissingField, "mobile_id is required")
		}
		return prepared{payload: map[string]interface{}{"mobileId": stringValue(rec, "mobile_id")}, group: group}, nil
	default:
		payload := contactInfoPayload(rec)
		if len(payload) == 0 {
			return prepared{}, rejectf(core.ErrMissingField, "contact info needs an email, phone number or full address")
		}
		return prepared{payload: payload, group: group}, nil
	}
}

// contactInfoPayload normalises and hashes contact fields. Pre-hashed
// fields are passed through.
func contactInfoPayload(rec core.Record) map[string]interface{} {
	out := make(map[string]interface{})
	hashed := func(raw, hashedField, outField string, normalize func(string) string) {
		if hasValue(rec, hashedField) {
			out[outField] = stringValue(rec, hashedField)
		} else if hasValue(rec, raw) {
			out[outField] = hashSHA256(normalize(stringValue(rec, raw)))
		}
	}

	hashed("email", "hashedEmail", "hashedEmail", normalizeEmail)
	hashed("phone_number", "hashedPhoneNumber", "hashedPhoneNumber", normalizePhone)

	address := make(map[string]interface{})
	if hasValue(rec, "hashedFirstName") || hasValue(rec, "first_name") {
		hashed("first_name", "hashedFirstName", "hashedFirstName", normalizeName)
		hashed("last_name", "hashedLastName", "hashedLastName", normalizeName)
		if _, ok := out["hashedLastName"]; ok && hasValue(rec, "country_code") && hasValue(rec, "postal_code") {
			address["hashedFirstName"] = out["hashedFirstName"]
			address["hashedLastName"] = out["hashedLastName"]
			address["countryCode"] = strings.ToUpper(stringValue(rec, "country_code"))
			address["postalCode"] = stringValue(rec, "postal_code")
		}
		delete(out, "hashedFirstName")
		delete(out, "hashedLastName")
	}
	if len(address) > 0 {
		out["addressInfo"] = address
	}
	return out
}

func hashSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizePhone(s string) string {
	return phoneCleaner.ReplaceAllString(strings.TrimSpace(s), "")
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func stringValue(rec core.Record, field string) string {
	switch v := rec[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(toString(v))
	}
}
