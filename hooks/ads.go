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
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// AdsCredentials is the google-ads.yaml style credential blob passed in
// the ads_credentials param.
type AdsCredentials struct {
	DeveloperToken   string `yaml:"developer_token"`
	ClientCustomerID string `yaml:"client_customer_id"`
	LoginCustomerID  string `yaml:"login_customer_id"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	RefreshToken     string `yaml:"refresh_token"`
}

var nonDigits = regexp.MustCompile(`\D`)

// parseAdsCredentials decodes and checks the credentials blob. Customer
// ids are normalised to digits only.
func parseAdsCredentials(r paramReader) (AdsCredentials, error) {
	blob, err := r.required("ads_credentials")
	if err != nil {
		return AdsCredentials{}, err
	}
	var creds AdsCredentials
	if err := yaml.Unmarshal([]byte(blob), &creds); err != nil {
		return AdsCredentials{}, r.fail("ads_credentials", "invalid YAML: %v", err)
	}
	if strings.TrimSpace(creds.DeveloperToken) == "" {
		return AdsCredentials{}, r.fail("ads_credentials", "developer_token is required")
	}
	creds.ClientCustomerID = normalizeCustomerID(creds.ClientCustomerID)
	if creds.ClientCustomerID == "" {
		return AdsCredentials{}, r.fail("ads_credentials", "client_customer_id is required")
	}
	creds.LoginCustomerID = normalizeCustomerID(creds.LoginCustomerID)
	return creds, nil
}

func normalizeCustomerID(id string) string {
	return nonDigits.ReplaceAllString(id, "")
}

// target returns the dispatch target fields shared by Ads destinations.
func (c AdsCredentials) target() map[string]string {
	t := map[string]string{"developer_token": c.DeveloperToken}
	if c.LoginCustomerID != "" {
		t["login_customer_id"] = c.LoginCustomerID
	}
	return t
}

// customerGroup returns the record's customer_id, falling back to the
// credentials' client customer.
func (c AdsCredentials) customerGroup(rec map[string]interface{}) string {
	if v, ok := rec["customer_id"]; ok && v != nil {
		if id := normalizeCustomerID(toString(v)); id != "" {
			return id
		}
	}
	return c.ClientCustomerID
}
