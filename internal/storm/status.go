// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Status is the numeric result of an engine call. The values follow the
// Win32 error codes StormLib reports through GetLastError.
type Status uint32

const (
	Success             Status = 0
	ErrFileNotFound     Status = 2
	ErrAccessDenied     Status = 5
	ErrInvalidHandle    Status = 6
	ErrNotEnoughMemory  Status = 8
	ErrBadFormat        Status = 11
	ErrNoMoreFiles      Status = 18
	ErrChecksum         Status = 23
	ErrSharingViolation Status = 32
	ErrHandleEOF        Status = 38
	ErrNotSupported     Status = 50
	ErrInvalidParameter Status = 87
	ErrDiskFull         Status = 112
	ErrBusy             Status = 170
	ErrAlreadyExists    Status = 183
	ErrCanNotComplete   Status = 1003
	ErrCancelled        Status = 1223
	ErrFileCorrupt      Status = 1392
)

var statusNames = map[Status]string{
	Success:             "success",
	ErrFileNotFound:     "file not found",
	ErrAccessDenied:     "access denied",
	ErrInvalidHandle:    "invalid handle",
	ErrNotEnoughMemory:  "not enough memory",
	ErrBadFormat:        "bad format",
	ErrNoMoreFiles:      "no more files",
	ErrChecksum:         "checksum error",
	ErrSharingViolation: "sharing violation",
	ErrHandleEOF:        "end of file",
	ErrNotSupported:     "not supported",
	ErrInvalidParameter: "invalid parameter",
	ErrDiskFull:         "disk full",
	ErrBusy:             "busy",
	ErrAlreadyExists:    "already exists",
	ErrCanNotComplete:   "can not complete",
	ErrCancelled:        "cancelled",
	ErrFileCorrupt:      "file corrupt",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status %d", uint32(s))
}

// statusFromOS maps an error from the os package to the closest status.
func statusFromOS(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, fs.ErrNotExist):
		return ErrFileNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return ErrAccessDenied
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	case errors.Is(err, syscall.ENOMEM):
		return ErrNotEnoughMemory
	}
	return ErrCanNotComplete
}
