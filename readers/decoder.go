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

package readers

import (
	"fmt"
	"io"
	"strings"

	"github.com/aaronlmathis/gotransfer/core"
)

// Format names the content type of a blob.
type Format string

const (
	FormatJSON    Format = "JSON"
	FormatCSV     Format = "CSV"
	FormatParquet Format = "PARQUET"
)

// ParseFormat accepts a content type name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToUpper(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported content type %q", s)
	}
}

// NewDecoder returns a Readable over r for the given format. The decoder
// owns r and closes it.
func NewDecoder(format Format, r io.ReadCloser) (core.Readable, error) {
	switch format {
	case FormatJSON:
		return NewJSONReader(r), nil
	case FormatCSV:
		return NewCSVReader(r)
	case FormatParquet:
		return NewParquetReader(r)
	default:
		r.Close()
		return nil, fmt.Errorf("unsupported content type %q", format)
	}
}
