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

// Package config resolves per-graph parameters from a variable store and
// loads transfer definitions.
//
// Stores are read-only: nothing in this package writes a variable.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VariableStore is the process-wide key/value collaborator consulted only
// through a Resolver.
type VariableStore interface {
	Lookup(key string) (interface{}, bool)
}

// MapStore is an in-memory VariableStore.
type MapStore map[string]interface{}

// Lookup implements VariableStore.
func (m MapStore) Lookup(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

// LoadFileStore reads a flat YAML mapping of variables.
func LoadFileStore(path string) (MapStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variables %s: %w", path, err)
	}
	return ParseFileStore(data)
}

// ParseFileStore decodes a flat YAML mapping of variables.
func ParseFileStore(data []byte) (MapStore, error) {
	store := MapStore{}
	if err := yaml.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("parse variables: %w", err)
	}
	return store, nil
}

// EnvStore looks keys up in the process environment. The key is prefixed
// and upper-cased, so "g1_is_retry" with prefix "GOTRANSFER_" reads
// GOTRANSFER_G1_IS_RETRY.
type EnvStore struct {
	Prefix string
}

// Lookup implements VariableStore.
func (e EnvStore) Lookup(key string) (interface{}, bool) {
	v, ok := os.LookupEnv(strings.ToUpper(e.Prefix + key))
	if !ok {
		return nil, false
	}
	return v, true
}

// ChainStore consults each store in order; the first hit wins.
type ChainStore []VariableStore

// Lookup implements VariableStore.
func (c ChainStore) Lookup(key string) (interface{}, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return nil, false
}
