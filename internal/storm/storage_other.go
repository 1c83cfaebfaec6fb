// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

//go:build !unix

package storm

import (
	"errors"
	"io"
	"os"
)

var errLocked = errors.New("archive is locked by another writer")

// lockFile is a no-op where flock is unavailable.
func lockFile(f *os.File) (func() error, error) {
	return func() error { return nil }, nil
}

// mapFile reads the entire file when mmap is not available.
func mapFile(f *os.File) ([]byte, func() error, error) {
	data, err := io.ReadAll(io.NewSectionReader(f, 0, 1<<62))
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
