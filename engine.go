// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "github.com/suprsokr/go-mpq/v2/internal/storm"

// engine is the handle and status API an Archive drives. The pure-Go
// storm.Engine implements it, and so does the StormLib binding.
type engine interface {
	OpenArchive(path string, flags uint32) (storm.Handle, storm.Status)
	CreateArchive(path string, flags, maxFileCount uint32) (storm.Handle, storm.Status)
	CloseArchive(h storm.Handle) storm.Status
	FlushArchive(h storm.Handle) storm.Status
	CompactArchive(h storm.Handle) storm.Status
	SetCompactCallback(h storm.Handle, cb storm.CompactCallback) storm.Status

	HasFile(h storm.Handle, name []byte) storm.Status
	RemoveFile(h storm.Handle, name []byte) storm.Status

	CreateFile(h storm.Handle, name []byte, mtime uint64, size, locale, flags uint32) (storm.Handle, storm.Status)
	WriteFile(fh storm.Handle, data []byte, compression uint32) storm.Status
	FinishFile(fh storm.Handle) storm.Status

	OpenFile(h storm.Handle, name []byte) (storm.Handle, storm.Status)
	CloseFile(fh storm.Handle) storm.Status
	GetFileSize(fh storm.Handle) (low, high uint32, st storm.Status)
	SetFilePointer(fh storm.Handle, offset int64) storm.Status
	ReadFile(fh storm.Handle, buf []byte) (uint32, storm.Status)

	FindFirstFile(h storm.Handle, mask []byte) (storm.FindData, storm.Handle, storm.Status)
	FindNextFile(fh storm.Handle) (storm.FindData, storm.Status)
	FindClose(fh storm.Handle) storm.Status
}

var _ engine = (*storm.Engine)(nil)
