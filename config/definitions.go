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
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Definition declares one transfer: which source feeds which destination
// and which parameters the hooks need.
//
//	transfer "tcrm_gcs_to_ads_oc" {
//	  task        = "gcs_to_ads_oc"
//	  source      = "object_storage"
//	  destination = "ads_offline_conversions"
//	  params      = ["s3_bucket", "s3_content_type", "ads_credentials"]
//	  defaults    = { s3_content_type = "JSON" }
//	}
type Definition struct {
	Name        string            `hcl:"name,label"`
	Task        string            `hcl:"task,optional"`
	Description string            `hcl:"description,optional"`
	Source      string            `hcl:"source"`
	Destination string            `hcl:"destination"`
	Params      []string          `hcl:"params,optional"`
	Defaults    map[string]string `hcl:"defaults,optional"`
}

// TaskID returns the main task id, defaulting to the graph name.
func (d Definition) TaskID() string {
	if d.Task != "" {
		return d.Task
	}
	return d.Name
}

type definitionsFile struct {
	Transfers []*Definition `hcl:"transfer,block"`
	Remain    hcl.Body      `hcl:",remain"`
}

// LoadDefinitions parses an HCL definitions file. Expressions may read the
// process environment through env.NAME.
func LoadDefinitions(path string) ([]Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions %s: %w", path, err)
	}
	return ParseDefinitions(src, path, os.Environ())
}

// ParseDefinitions parses HCL definitions from src. environ is a list of
// KEY=VALUE pairs exposed as env.KEY.
func ParseDefinitions(src []byte, filename string, environ []string) ([]Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse definitions %s: %w", filename, diags)
	}

	var parsed definitionsFile
	diags = gohcl.DecodeBody(file.Body, evalContext(environ), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode definitions %s: %w", filename, diags)
	}

	seen := make(map[string]bool, len(parsed.Transfers))
	defs := make([]Definition, 0, len(parsed.Transfers))
	for _, t := range parsed.Transfers {
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate transfer %q in %s", t.Name, filename)
		}
		seen[t.Name] = true
		defs = append(defs, *t)
	}
	return defs, nil
}

func evalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}
