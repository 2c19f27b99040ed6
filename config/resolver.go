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

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aaronlmathis/gotransfer/core"
)

// Kind is the declared type a caller expects from a resolution.
type Kind int

const (
	// KindAny returns the stored value unconverted.
	KindAny Kind = iota
	KindString
	KindInt
	KindBool
	KindStringList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindStringList:
		return "string list"
	case KindMap:
		return "map"
	default:
		return "any"
	}
}

// ResolveOptions configures a single resolution.
type ResolveOptions struct {
	Expected    Kind
	Fallback    interface{}
	HasFallback bool
}

// ResolveOption is a functional option for Resolve.
type ResolveOption func(*ResolveOptions)

// WithExpected declares the type the value must have.
func WithExpected(kind Kind) ResolveOption {
	return func(o *ResolveOptions) { o.Expected = kind }
}

// WithFallback supplies the value returned when neither the prefixed nor
// the bare key is set.
func WithFallback(v interface{}) ResolveOption {
	return func(o *ResolveOptions) {
		o.Fallback = v
		o.HasFallback = true
	}
}

// Resolver turns a (graph, key) pair into a typed value.
type Resolver struct {
	store VariableStore
}

// NewResolver creates a Resolver over store.
func NewResolver(store VariableStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up "{graph}_{key}", then "{key}", then the fallback.
// A fallback whose type differs from the expected kind is a
// ConfigTypeError whether or not it would have been used.
func (r *Resolver) Resolve(graph, key string, opts ...ResolveOption) (interface{}, error) {
	o := ResolveOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.HasFallback && o.Expected != KindAny && !matchesKind(o.Fallback, o.Expected) {
		return nil, &core.ConfigTypeError{
			Key:      key,
			Expected: o.Expected.String(),
			Actual:   fmt.Sprintf("fallback of type %T", o.Fallback),
		}
	}

	name := key
	raw, ok := r.lookup(graph + "_" + key)
	if ok {
		name = graph + "_" + key
	} else {
		raw, ok = r.lookup(key)
	}
	if !ok {
		if o.HasFallback {
			return o.Fallback, nil
		}
		return nil, &core.MissingConfigError{Key: graph + "_" + key}
	}

	if o.Expected == KindAny {
		return raw, nil
	}
	v, err := convert(raw, o.Expected)
	if err != nil {
		return nil, &core.ConfigTypeError{
			Key:      name,
			Expected: o.Expected.String(),
			Actual:   fmt.Sprintf("%T", raw),
			Err:      err,
		}
	}
	return v, nil
}

func (r *Resolver) lookup(key string) (interface{}, bool) {
	if r.store == nil {
		return nil, false
	}
	return r.store.Lookup(key)
}

// String resolves a string value.
func (r *Resolver) String(graph, key string, opts ...ResolveOption) (string, error) {
	v, err := r.Resolve(graph, key, append(opts, WithExpected(KindString))...)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Int resolves an int value.
func (r *Resolver) Int(graph, key string, opts ...ResolveOption) (int, error) {
	v, err := r.Resolve(graph, key, append(opts, WithExpected(KindInt))...)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Bool resolves a bool value. "1", "true" and "yes" are true.
func (r *Resolver) Bool(graph, key string, opts ...ResolveOption) (bool, error) {
	v, err := r.Resolve(graph, key, append(opts, WithExpected(KindBool))...)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// StringList resolves a list of strings. A comma-separated string is split.
func (r *Resolver) StringList(graph, key string, opts ...ResolveOption) ([]string, error) {
	v, err := r.Resolve(graph, key, append(opts, WithExpected(KindStringList))...)
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func matchesKind(v interface{}, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		_, ok := v.(int)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindStringList:
		_, ok := v.([]string)
		return ok
	case KindMap:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func convert(raw interface{}, kind Kind) (interface{}, error) {
	switch kind {
	case KindString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case KindInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		}
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
		case string:
			return parseBool(v)
		}
	case KindStringList:
		switch v := raw.(type) {
		case []string:
			return v, nil
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("list item %v is not a string", item)
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			return splitList(v), nil
		}
	case KindMap:
		switch v := raw.(type) {
		case map[string]interface{}:
			return v, nil
		case string:
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", raw, kind)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Convert applies the resolver's conversion rules to an already resolved
// value. KindAny returns raw unchanged.
func Convert(raw interface{}, kind Kind) (interface{}, error) {
	if kind == KindAny {
		return raw, nil
	}
	return convert(raw, kind)
}
