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

// Package validators checks destination payload fields and classifies
// failures with the error numbers persisted in monitoring rows.
package validators

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aaronlmathis/gotransfer/core"
)

// FieldDataType represents expected data types for validation.
type FieldDataType string

const (
	FieldTypeString FieldDataType = "string"
	FieldTypeInt    FieldDataType = "int"
	FieldTypeFloat  FieldDataType = "float"
	FieldTypeBool   FieldDataType = "bool"
	FieldTypeList   FieldDataType = "list"
	FieldTypeObject FieldDataType = "object"
	FieldTypeUUID   FieldDataType = "uuid"
	FieldTypeAny    FieldDataType = ""
)

// FieldValidator defines validation rules for one field.
type FieldValidator struct {
	Field         string
	Required      bool                    // Absent or empty string fails with ErrMissingField
	DataType      FieldDataType           // Expected data type
	Pattern       *regexp.Regexp          // Regex pattern for string fields
	MinValue      *int64                  // Minimum value for integer fields
	MaxValue      *int64                  // Maximum value for integer fields
	AllowedValues []interface{}           // Whitelist, compared by string form
	CustomFunc    func(interface{}) error // Custom validation function
}

// FieldError describes the first rule a record violated.
type FieldError struct {
	Field    string
	ErrorNum core.ErrorNum
	Reason   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// Outcome converts the error into a failed core.Outcome.
func (e *FieldError) Outcome() core.Outcome {
	return core.Failure(e.ErrorNum, e.Error())
}

func Required(field string) FieldValidator {
	return FieldValidator{Field: field, Required: true}
}

func Regex(field string, pattern *regexp.Regexp) FieldValidator {
	return FieldValidator{Field: field, DataType: FieldTypeString, Pattern: pattern}
}

func OneOf(field string, values ...interface{}) FieldValidator {
	return FieldValidator{Field: field, AllowedValues: values}
}

func IntRange(field string, min, max int64) FieldValidator {
	return FieldValidator{Field: field, DataType: FieldTypeInt, MinValue: &min, MaxValue: &max}
}

func UUIDv4(field string) FieldValidator {
	return FieldValidator{Field: field, DataType: FieldTypeUUID}
}

func Custom(field string, fn func(interface{}) error) FieldValidator {
	return FieldValidator{Field: field, CustomFunc: fn}
}

// OfType checks the field's type when present.
func OfType(field string, dataType FieldDataType) FieldValidator {
	return FieldValidator{Field: field, DataType: dataType}
}

// RequiredFields is shorthand for a list of Required validators.
func RequiredFields(fields ...string) []FieldValidator {
	out := make([]FieldValidator, len(fields))
	for i, f := range fields {
		out[i] = Required(f)
	}
	return out
}

// Validate runs validators in order and returns the first violation, or nil.
// Optional fields that are absent pass every non-required rule.
func Validate(record core.Record, validators ...FieldValidator) *FieldError {
	for _, v := range validators {
		if err := v.validate(record); err != nil {
			return err
		}
	}
	return nil
}

func (v FieldValidator) validate(record core.Record) *FieldError {
	value, exists := record[v.Field]
	if !exists || value == nil || value == "" {
		if v.Required {
			return &FieldError{Field: v.Field, ErrorNum: core.ErrMissingField, Reason: "missing required field"}
		}
		return nil
	}

	invalid := func(format string, args ...interface{}) *FieldError {
		return &FieldError{Field: v.Field, ErrorNum: core.ErrInvalidFieldValue, Reason: fmt.Sprintf(format, args...)}
	}

	if !validateDataType(value, v.DataType) {
		return invalid("invalid type %T, expected %s", value, v.DataType)
	}

	if v.Pattern != nil {
		str, ok := value.(string)
		if !ok {
			return invalid("expected string, got %T", value)
		}
		if !v.Pattern.MatchString(strings.TrimSpace(str)) {
			return invalid("value %q does not match %s", str, v.Pattern)
		}
	}

	if v.MinValue != nil || v.MaxValue != nil {
		n, ok := ToInt64(value)
		if !ok {
			return invalid("value %v is not an integer", value)
		}
		if v.MinValue != nil && n < *v.MinValue {
			return invalid("value %d below minimum %d", n, *v.MinValue)
		}
		if v.MaxValue != nil && n > *v.MaxValue {
			return invalid("value %d above maximum %d", n, *v.MaxValue)
		}
	}

	if len(v.AllowedValues) > 0 {
		got := fmt.Sprint(value)
		valid := false
		for _, allowed := range v.AllowedValues {
			if got == fmt.Sprint(allowed) {
				valid = true
				break
			}
		}
		if !valid {
			return invalid("value %q not in allowed values", got)
		}
	}

	if v.CustomFunc != nil {
		if err := v.CustomFunc(value); err != nil {
			return invalid("%v", err)
		}
	}
	return nil
}

// validateDataType checks if a value matches the expected data type.
// Strings decoded from CSV are accepted for numeric and boolean types when
// they parse.
func validateDataType(value interface{}, expectedType FieldDataType) bool {
	switch expectedType {
	case FieldTypeAny:
		return true
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeInt:
		_, ok := ToInt64(value)
		return ok
	case FieldTypeFloat:
		_, ok := ToFloat64(value)
		return ok
	case FieldTypeBool:
		switch t := value.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(t)
			return err == nil
		}
		return false
	case FieldTypeList:
		_, ok := value.([]interface{})
		return ok
	case FieldTypeObject:
		_, ok := value.(map[string]interface{})
		return ok
	case FieldTypeUUID:
		str, ok := value.(string)
		if !ok {
			return false
		}
		id, err := uuid.Parse(str)
		return err == nil && id.Version() == 4
	default:
		return true
	}
}

// ToInt64 converts integral numbers and decimal strings.
func ToInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// ToFloat64 converts numeric types and numeric strings to float64.
func ToFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		n, ok := ToInt64(v)
		return float64(n), ok
	}
}
