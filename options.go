// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"log/slog"

	"golang.org/x/text/encoding"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

// Option configures Open, Create and OpenPatchChain.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	names     encoding.Encoding
	newEngine func(logger *slog.Logger) (engine, error)
}

func newConfig(opts []Option) *config {
	cfg := &config{
		logger:    slog.New(slog.DiscardHandler),
		newEngine: pureEngine,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func pureEngine(logger *slog.Logger) (engine, error) {
	return storm.New(storm.WithLogger(logger)), nil
}

// WithLogger sets the logger for handle lifecycle diagnostics. The engine
// logs through the same logger. Records are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNameEncoding sets the encoding of file names stored in the archive.
// Names passed to the archive are encoded with it and names reported by
// Search are decoded with it. Without this option names are passed
// through as raw bytes, which suits UTF-8 archives.
//
// Older Warcraft III maps store names in Windows-1252:
//
//	a, err := mpq.Open(path, mpq.OpenReadOnly, mpq.WithNameEncoding(charmap.Windows1252))
func WithNameEncoding(enc encoding.Encoding) Option {
	return func(c *config) {
		c.names = enc
	}
}

// withEngine makes the archive use e instead of a fresh pure-Go engine.
func withEngine(e engine) Option {
	return func(c *config) {
		c.newEngine = func(*slog.Logger) (engine, error) { return e, nil }
	}
}
