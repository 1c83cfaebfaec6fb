// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"strings"
	"unicode/utf8"
)

// hostPath validates a path on the host file system.
func hostPath(op, path string) (string, error) {
	if strings.IndexByte(path, 0) >= 0 {
		return "", &PathError{Op: op, Path: path, Reason: "contains NUL byte"}
	}
	if !utf8.ValidString(path) {
		return "", &PathError{Op: op, Path: path, Reason: "not valid UTF-8"}
	}
	return path, nil
}

// encodeName converts an archive-internal name to the bytes the engine
// hashes and stores.
func (c *config) encodeName(op, name string) ([]byte, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return nil, &PathError{Op: op, Path: name, Reason: "contains NUL byte"}
	}
	if c.names == nil {
		return []byte(name), nil
	}
	b, err := c.names.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, &PathError{Op: op, Path: name, Reason: "not representable in archive name encoding"}
	}
	return b, nil
}

// decodeName converts a name reported by the engine back to UTF-8. Names
// that fail to decode are returned unchanged.
func (c *config) decodeName(raw string) string {
	if c.names == nil {
		return raw
	}
	s, err := c.names.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return s
}
