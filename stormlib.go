// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

//go:build cgo && stormlib

package mpq

import (
	"log/slog"

	"github.com/suprsokr/go-mpq/v2/internal/cstorm"
)

// stormLibAvailable reports whether the native StormLib is linked in.
const stormLibAvailable = true

var _ engine = (*cstorm.Engine)(nil)

// UseStormLib makes the archive use the native StormLib library instead of
// the pure-Go engine.
func UseStormLib() Option {
	return func(c *config) {
		c.newEngine = func(logger *slog.Logger) (engine, error) {
			return cstorm.New(cstorm.WithLogger(logger)), nil
		}
	}
}
