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

	"github.com/aaronlmathis/gotransfer/config"
	"github.com/aaronlmathis/gotransfer/core"
)

// Params holds the resolved hook parameters of one graph.
type Params map[string]interface{}

// paramReader converts params and reports problems as
// InvalidHookConfigError for one hook kind.
type paramReader struct {
	kind   string
	params Params
}

func newParamReader(kind string, params Params) paramReader {
	return paramReader{kind: kind, params: params}
}

func (r paramReader) fail(param string, format string, args ...interface{}) error {
	return &core.InvalidHookConfigError{Kind: r.kind, Param: param, Err: fmt.Errorf(format, args...)}
}

func (r paramReader) raw(key string) (interface{}, bool) {
	v, ok := r.params[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

func (r paramReader) convert(key string, kind config.Kind) (interface{}, bool, error) {
	v, ok := r.raw(key)
	if !ok {
		return nil, false, nil
	}
	out, err := config.Convert(v, kind)
	if err != nil {
		return nil, true, &core.InvalidHookConfigError{Kind: r.kind, Param: key, Err: err}
	}
	return out, true, nil
}

func (r paramReader) required(key string) (string, error) {
	v, ok, err := r.convert(key, config.KindString)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", r.fail(key, "required parameter is missing")
	}
	return strings.TrimSpace(v.(string)), nil
}

func (r paramReader) optional(key, def string) (string, error) {
	v, ok, err := r.convert(key, config.KindString)
	if err != nil || !ok {
		return def, err
	}
	return strings.TrimSpace(v.(string)), nil
}

func (r paramReader) boolean(key string, def bool) (bool, error) {
	v, ok, err := r.convert(key, config.KindBool)
	if err != nil || !ok {
		return def, err
	}
	return v.(bool), nil
}

func (r paramReader) integer(key string, def int) (int, error) {
	v, ok, err := r.convert(key, config.KindInt)
	if err != nil || !ok {
		return def, err
	}
	return v.(int), nil
}

func (r paramReader) list(key string) ([]string, error) {
	v, ok, err := r.convert(key, config.KindStringList)
	if err != nil || !ok {
		return nil, err
	}
	return v.([]string), nil
}

func (r paramReader) has(key string) bool {
	_, ok := r.raw(key)
	return ok
}
