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

package monitoring

import (
	"fmt"

	"github.com/aaronlmathis/gotransfer/config"
)

// Open builds the Store selected by cfg.Backend.
func Open(cfg config.MonitoringConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendMongo:
		return NewMongoStore(cfg.DSN, cfg.Dataset, cfg.Table)
	case config.BackendPostgres, "":
		return NewPostgresStore(
			WithPostgresDSN(cfg.DSN),
			WithPostgresTable(cfg.Dataset, cfg.Table),
		)
	default:
		return nil, fmt.Errorf("unknown monitoring backend %q", cfg.Backend)
	}
}
