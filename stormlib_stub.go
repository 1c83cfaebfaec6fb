// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

//go:build !cgo || !stormlib

package mpq

import "log/slog"

// stormLibAvailable reports whether the native StormLib is linked in.
const stormLibAvailable = false

// UseStormLib selects the native StormLib library. This build does not
// link it, so Open and Create fail with ErrStormLibUnavailable.
func UseStormLib() Option {
	return func(c *config) {
		c.newEngine = func(*slog.Logger) (engine, error) {
			return nil, ErrStormLibUnavailable
		}
	}
}
