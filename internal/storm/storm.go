// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package storm is an in-process MPQ archive engine with a StormLib-shaped
// API: every resource is an opaque Handle and every call reports a Status
// instead of a Go error.
//
// Handles are scoped to the Engine that issued them and are never reused
// within it. Closing an archive invalidates every file and find handle that
// was opened through it.
package storm

import (
	"log/slog"
	"sync"
)

// Handle identifies an archive, file or find resource. The zero Handle is
// never issued.
type Handle uintptr

// InvalidSize is returned by GetFileSize in the low half on failure.
const InvalidSize = 0xFFFFFFFF

// Archive open flags.
const (
	StreamProviderFlat    = 0x00000000
	StreamProviderPartial = 0x00000010
	StreamProviderMPQE    = 0x00000020
	StreamProviderBlock4  = 0x00000030
	StreamProviderMask    = 0x000000F0

	BaseProviderFile = 0x00000000
	BaseProviderMap  = 0x00000001
	BaseProviderHTTP = 0x00000002
	BaseProviderMask = 0x0000000F

	StreamFlagReadOnly   = 0x00000100
	StreamFlagWriteShare = 0x00000200
	StreamFlagUseBitmap  = 0x00000400

	OpenNoListfile     = 0x00010000
	OpenNoAttributes   = 0x00020000
	OpenNoHeaderSearch = 0x00040000
	OpenForceMPQV1     = 0x00080000
	OpenCheckSectorCRC = 0x00100000
)

// Archive create flags.
const (
	CreateListfile   = 0x00100000
	CreateAttributes = 0x00200000
	CreateSignature  = 0x00400000
	CreateArchiveV1  = 0x00000000
	CreateArchiveV2  = 0x01000000
	CreateArchiveV3  = 0x02000000
	CreateArchiveV4  = 0x03000000
	createVersion    = 0x0F000000
)

// File flags, used both for CreateFile and in FindData.FileFlags.
const (
	FileImplode         = 0x00000100
	FileCompress        = 0x00000200
	FileEncrypted       = 0x00010000
	FileFixKey          = 0x00020000
	FilePatchFile       = 0x00100000
	FileSingleUnit      = 0x01000000
	FileDeleteMarker    = 0x02000000
	FileSectorCRC       = 0x04000000
	FileExists          = 0x80000000
	FileReplaceExisting = 0x80000000
)

// Compression method bits written as the first byte of a compressed sector.
const (
	CompressionHuffman     = 0x01
	CompressionZlib        = 0x02
	CompressionPKWare      = 0x08
	CompressionBzip2       = 0x10
	CompressionSparse      = 0x20
	CompressionADPCMMono   = 0x40
	CompressionADPCMStereo = 0x80
	CompressionLZMA        = 0x12
)

// CompactWork tells a compact callback which phase is running.
type CompactWork uint32

const (
	CompactCheckingFiles     CompactWork = 1
	CompactCheckingHashTable CompactWork = 2
	CompactCopyingNonMPQData CompactWork = 3
	CompactCompactingFiles   CompactWork = 4
	CompactClosingArchive    CompactWork = 5
)

// CompactCallback receives compaction progress. Returning false aborts the
// compaction, which then reports ErrCancelled.
type CompactCallback func(work CompactWork, processed, total uint64) bool

// FindData describes one archive entry returned by FindFirstFile and
// FindNextFile.
type FindData struct {
	FileName   string
	PlainName  string
	HashIndex  uint32
	BlockIndex uint32
	FileSize   uint32
	FileFlags  uint32
	CompSize   uint32
	FileTimeLo uint32
	FileTimeHi uint32
	Locale     uint32
}

// Engine owns the handle table. It is safe for concurrent use; calls on a
// single archive are serialized by that archive.
type Engine struct {
	mu      sync.Mutex
	next    Handle
	objects map[Handle]any
	log     *slog.Logger
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

// New returns an Engine with an empty handle table.
func New(opts ...Option) *Engine {
	e := &Engine{
		objects: make(map[Handle]any),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) register(obj any) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.objects[e.next] = obj
	return e.next
}

func (e *Engine) release(h Handle) {
	e.mu.Lock()
	delete(e.objects, h)
	e.mu.Unlock()
}

func (e *Engine) lookup(h Handle) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objects[h]
}

func (e *Engine) archive(h Handle) (*archive, Status) {
	a, ok := e.lookup(h).(*archive)
	if !ok {
		return nil, ErrInvalidHandle
	}
	return a, Success
}

// acquire returns the archive behind h with its lock held. An archive that
// was closed after the handle lookup is reported as an invalid handle.
func (e *Engine) acquire(h Handle) (*archive, Status) {
	a, st := e.archive(h)
	if st != Success {
		return nil, st
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrInvalidHandle
	}
	return a, Success
}

func (e *Engine) file(h Handle) (*file, Status) {
	f, ok := e.lookup(h).(*file)
	if !ok {
		return nil, ErrInvalidHandle
	}
	return f, Success
}

func (e *Engine) find(h Handle) (*finder, Status) {
	f, ok := e.lookup(h).(*finder)
	if !ok {
		return nil, ErrInvalidHandle
	}
	return f, Success
}

// Handles reports how many handles are currently live.
func (e *Engine) Handles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.objects)
}
