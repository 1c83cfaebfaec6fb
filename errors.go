// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

var (
	// ErrInvalidPath is returned when a host path or an archive name cannot be
	// passed to the engine. No engine call is made in that case.
	ErrInvalidPath = errors.New("mpq: invalid path")

	// ErrArchiveClosed is returned when a File or Search is used after the
	// Archive it was opened from has been closed.
	ErrArchiveClosed = errors.New("mpq: archive is closed")

	// ErrClosed is returned when a value is used after its own Close.
	ErrClosed = errors.New("mpq: already closed")

	// ErrStormLibUnavailable is returned by Open and Create when UseStormLib
	// was requested in a build without the stormlib tag or without cgo.
	ErrStormLibUnavailable = errors.New("mpq: StormLib not available (build with cgo and -tags stormlib)")
)

// PathError records a path that was rejected before reaching the engine.
type PathError struct {
	Op     string
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("mpq: %s %q: invalid path: %s", e.Op, e.Path, e.Reason)
}

func (e *PathError) Unwrap() error { return ErrInvalidPath }

// ErrorCode is a status reported by the archive engine. The value is kept
// exactly as the engine returned it, so codes without a name below are
// still distinguishable.
type ErrorCode uint32

// Engine status codes. They match the Win32 error codes StormLib reports.
const (
	Success             = ErrorCode(storm.Success)
	ErrFileNotFound     = ErrorCode(storm.ErrFileNotFound)
	ErrAccessDenied     = ErrorCode(storm.ErrAccessDenied)
	ErrInvalidHandle    = ErrorCode(storm.ErrInvalidHandle)
	ErrNotEnoughMemory  = ErrorCode(storm.ErrNotEnoughMemory)
	ErrBadFormat        = ErrorCode(storm.ErrBadFormat)
	ErrNoMoreFiles      = ErrorCode(storm.ErrNoMoreFiles)
	ErrChecksum         = ErrorCode(storm.ErrChecksum)
	ErrSharingViolation = ErrorCode(storm.ErrSharingViolation)
	ErrHandleEOF        = ErrorCode(storm.ErrHandleEOF)
	ErrNotSupported     = ErrorCode(storm.ErrNotSupported)
	ErrInvalidParameter = ErrorCode(storm.ErrInvalidParameter)
	ErrDiskFull         = ErrorCode(storm.ErrDiskFull)
	ErrBusy             = ErrorCode(storm.ErrBusy)
	ErrAlreadyExists    = ErrorCode(storm.ErrAlreadyExists)
	ErrCanNotComplete   = ErrorCode(storm.ErrCanNotComplete)
	ErrCancelled        = ErrorCode(storm.ErrCancelled)
	ErrFileCorrupt      = ErrorCode(storm.ErrFileCorrupt)
)

func (c ErrorCode) Error() string {
	return storm.Status(c).String()
}

// EngineError reports a non-success status from the engine. It unwraps to
// its Code, so errors.Is(err, ErrFileNotFound) works.
type EngineError struct {
	Op   string
	Path string
	Code ErrorCode
}

func (e *EngineError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("mpq: %s: %s (%d)", e.Op, e.Code.Error(), uint32(e.Code))
	}
	return fmt.Sprintf("mpq: %s %q: %s (%d)", e.Op, e.Path, e.Code.Error(), uint32(e.Code))
}

func (e *EngineError) Unwrap() error { return e.Code }

// check turns a status into an error.
func check(op, path string, st storm.Status) error {
	if st == storm.Success {
		return nil
	}
	return &EngineError{Op: op, Path: path, Code: ErrorCode(st)}
}
