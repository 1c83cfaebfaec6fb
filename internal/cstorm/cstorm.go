// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

//go:build cgo && stormlib

// Package cstorm binds the native StormLib library behind the same handle
// and status API as the pure-Go engine in internal/storm.
//
// Build with -tags stormlib and make StormLib.h and libstorm visible to the
// C toolchain, for example through CGO_CFLAGS and CGO_LDFLAGS.
package cstorm

/*
#cgo LDFLAGS: -lstorm -lz -lbz2 -lstdc++

#include <stdlib.h>
#include <stdbool.h>
#include "StormLib.h"

extern void goCompactCallback(void* userData, DWORD workType, ULONGLONG processed, ULONGLONG total);
*/
import "C"

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

// Engine forwards every call to StormLib. StormLib keeps its own handle
// table, so the Engine only tracks registered compact callbacks.
type Engine struct {
	log *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// New returns an Engine bound to the linked StormLib.
func New(opts ...Option) *Engine {
	e := &Engine{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	callbacksMu sync.Mutex
	callbacks   = make(map[uintptr]storm.CompactCallback)
)

//export goCompactCallback
func goCompactCallback(userData unsafe.Pointer, workType C.DWORD, processed, total C.ULONGLONG) {
	callbacksMu.Lock()
	cb := callbacks[uintptr(userData)]
	callbacksMu.Unlock()
	if cb != nil {
		// StormLib has no way to abort a running compaction; the result is
		// ignored.
		cb(storm.CompactWork(workType), uint64(processed), uint64(total))
	}
}

func handle(h storm.Handle) C.HANDLE {
	return C.HANDLE(unsafe.Pointer(uintptr(h)))
}

func fromHandle(h C.HANDLE) storm.Handle {
	return storm.Handle(uintptr(unsafe.Pointer(h)))
}

func lastStatus() storm.Status {
	return statusOf(C.GetLastError())
}

// statusOf maps StormLib error codes, which are errno values on POSIX
// builds, to engine statuses.
func statusOf(code C.DWORD) storm.Status {
	switch code {
	case C.ERROR_SUCCESS:
		return storm.Success
	case C.ERROR_FILE_NOT_FOUND:
		return storm.ErrFileNotFound
	case C.ERROR_ACCESS_DENIED:
		return storm.ErrAccessDenied
	case C.ERROR_INVALID_HANDLE:
		return storm.ErrInvalidHandle
	case C.ERROR_NOT_ENOUGH_MEMORY:
		return storm.ErrNotEnoughMemory
	case C.ERROR_BAD_FORMAT:
		return storm.ErrBadFormat
	case C.ERROR_NO_MORE_FILES:
		return storm.ErrNoMoreFiles
	case C.ERROR_HANDLE_EOF:
		return storm.ErrHandleEOF
	case C.ERROR_NOT_SUPPORTED:
		return storm.ErrNotSupported
	case C.ERROR_INVALID_PARAMETER:
		return storm.ErrInvalidParameter
	case C.ERROR_DISK_FULL:
		return storm.ErrDiskFull
	case C.ERROR_ALREADY_EXISTS:
		return storm.ErrAlreadyExists
	case C.ERROR_CAN_NOT_COMPLETE:
		return storm.ErrCanNotComplete
	case C.ERROR_FILE_CORRUPT:
		return storm.ErrFileCorrupt
	case C.ERROR_CHECKSUM_ERROR:
		return storm.ErrChecksum
	}
	return storm.Status(code)
}

func cstring(b []byte) *C.char {
	return C.CString(string(b))
}

func (e *Engine) OpenArchive(path string, flags uint32) (storm.Handle, storm.Status) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var h C.HANDLE
	if !C.SFileOpenArchive(cpath, 0, C.DWORD(flags), &h) {
		st := lastStatus()
		e.log.Debug("SFileOpenArchive failed", slog.String("path", path), slog.Any("status", st))
		return 0, st
	}
	return fromHandle(h), storm.Success
}

func (e *Engine) CreateArchive(path string, flags, maxFileCount uint32) (storm.Handle, storm.Status) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var h C.HANDLE
	if !C.SFileCreateArchive(cpath, C.DWORD(flags), C.DWORD(maxFileCount), &h) {
		st := lastStatus()
		e.log.Debug("SFileCreateArchive failed", slog.String("path", path), slog.Any("status", st))
		return 0, st
	}
	return fromHandle(h), storm.Success
}

func (e *Engine) CloseArchive(h storm.Handle) storm.Status {
	callbacksMu.Lock()
	delete(callbacks, uintptr(h))
	callbacksMu.Unlock()
	if !C.SFileCloseArchive(handle(h)) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) FlushArchive(h storm.Handle) storm.Status {
	if !C.SFileFlushArchive(handle(h)) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) CompactArchive(h storm.Handle) storm.Status {
	if !C.SFileCompactArchive(handle(h), nil, false) {
		return lastStatus()
	}
	return storm.Success
}

// SetCompactCallback registers cb for h. The archive handle itself is the
// user data passed back by StormLib.
func (e *Engine) SetCompactCallback(h storm.Handle, cb storm.CompactCallback) storm.Status {
	callbacksMu.Lock()
	if cb == nil {
		delete(callbacks, uintptr(h))
	} else {
		callbacks[uintptr(h)] = cb
	}
	callbacksMu.Unlock()

	var fn C.SFILE_COMPACT_CALLBACK
	if cb != nil {
		fn = C.SFILE_COMPACT_CALLBACK(unsafe.Pointer(C.goCompactCallback))
	}
	if !C.SFileSetCompactCallback(handle(h), fn, unsafe.Pointer(handle(h))) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) HasFile(h storm.Handle, name []byte) storm.Status {
	cname := cstring(name)
	defer C.free(unsafe.Pointer(cname))
	if !C.SFileHasFile(handle(h), cname) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) RemoveFile(h storm.Handle, name []byte) storm.Status {
	cname := cstring(name)
	defer C.free(unsafe.Pointer(cname))
	if !C.SFileRemoveFile(handle(h), cname, 0) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) CreateFile(h storm.Handle, name []byte, mtime uint64, size, locale, flags uint32) (storm.Handle, storm.Status) {
	cname := cstring(name)
	defer C.free(unsafe.Pointer(cname))

	var fh C.HANDLE
	if !C.SFileCreateFile(handle(h), cname, C.ULONGLONG(mtime), C.DWORD(size), C.LCID(locale), C.DWORD(flags), &fh) {
		return 0, lastStatus()
	}
	return fromHandle(fh), storm.Success
}

func (e *Engine) WriteFile(fh storm.Handle, data []byte, compression uint32) storm.Status {
	if len(data) == 0 {
		return storm.Success
	}
	cdata := C.CBytes(data)
	defer C.free(cdata)
	if !C.SFileWriteFile(handle(fh), cdata, C.DWORD(len(data)), C.DWORD(compression)) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) FinishFile(fh storm.Handle) storm.Status {
	if !C.SFileFinishFile(handle(fh)) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) OpenFile(h storm.Handle, name []byte) (storm.Handle, storm.Status) {
	cname := cstring(name)
	defer C.free(unsafe.Pointer(cname))

	var fh C.HANDLE
	if !C.SFileOpenFileEx(handle(h), cname, 0, &fh) {
		return 0, lastStatus()
	}
	return fromHandle(fh), storm.Success
}

func (e *Engine) CloseFile(fh storm.Handle) storm.Status {
	if !C.SFileCloseFile(handle(fh)) {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) GetFileSize(fh storm.Handle) (low, high uint32, st storm.Status) {
	var hi C.DWORD
	lo := C.SFileGetFileSize(handle(fh), &hi)
	if uint32(lo) == storm.InvalidSize {
		return storm.InvalidSize, 0, lastStatus()
	}
	return uint32(lo), uint32(hi), storm.Success
}

func (e *Engine) SetFilePointer(fh storm.Handle, offset int64) storm.Status {
	if offset < 0 {
		return storm.ErrInvalidParameter
	}
	hi := C.LONG(offset >> 32)
	if C.SFileSetFilePointer(handle(fh), C.LONG(int32(offset)), &hi, C.FILE_BEGIN) == C.SFILE_INVALID_POS {
		return lastStatus()
	}
	return storm.Success
}

func (e *Engine) ReadFile(fh storm.Handle, buf []byte) (uint32, storm.Status) {
	if len(buf) == 0 {
		return 0, storm.Success
	}
	cbuf := C.malloc(C.size_t(len(buf)))
	defer C.free(cbuf)

	var read C.DWORD
	ok := C.SFileReadFile(handle(fh), cbuf, C.DWORD(len(buf)), &read, nil)
	copy(buf, unsafe.Slice((*byte)(cbuf), int(read)))
	if !ok {
		return uint32(read), lastStatus()
	}
	return uint32(read), storm.Success
}

func findData(d *C.SFILE_FIND_DATA) storm.FindData {
	name := C.GoString(&d.cFileName[0])
	plain := name
	if d.szPlainName != nil {
		plain = C.GoString(d.szPlainName)
	}
	return storm.FindData{
		FileName:   name,
		PlainName:  plain,
		HashIndex:  uint32(d.dwHashIndex),
		BlockIndex: uint32(d.dwBlockIndex),
		FileSize:   uint32(d.dwFileSize),
		FileFlags:  uint32(d.dwFileFlags),
		CompSize:   uint32(d.dwCompSize),
		FileTimeLo: uint32(d.dwFileTimeLo),
		FileTimeHi: uint32(d.dwFileTimeHi),
		Locale:     uint32(d.lcLocale),
	}
}

func (e *Engine) FindFirstFile(h storm.Handle, mask []byte) (storm.FindData, storm.Handle, storm.Status) {
	cmask := cstring(mask)
	defer C.free(unsafe.Pointer(cmask))

	d := (*C.SFILE_FIND_DATA)(C.calloc(1, C.size_t(unsafe.Sizeof(C.SFILE_FIND_DATA{}))))
	defer C.free(unsafe.Pointer(d))

	fh := C.SFileFindFirstFile(handle(h), cmask, d, nil)
	if fh == nil {
		return storm.FindData{}, 0, lastStatus()
	}
	return findData(d), fromHandle(fh), storm.Success
}

func (e *Engine) FindNextFile(fh storm.Handle) (storm.FindData, storm.Status) {
	d := (*C.SFILE_FIND_DATA)(C.calloc(1, C.size_t(unsafe.Sizeof(C.SFILE_FIND_DATA{}))))
	defer C.free(unsafe.Pointer(d))

	if !C.SFileFindNextFile(handle(fh), d) {
		return storm.FindData{}, lastStatus()
	}
	return findData(d), storm.Success
}

func (e *Engine) FindClose(fh storm.Handle) storm.Status {
	if !C.SFileFindClose(handle(fh)) {
		return lastStatus()
	}
	return storm.Success
}
