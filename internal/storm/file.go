// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"fmt"
	"hash/adler32"
	"log/slog"
)

// file is the engine-side state behind a file handle. A handle is either
// open for reading or, when pending is set, being created.
type file struct {
	a          *archive
	name       string
	hashIndex  uint32
	blockIndex uint32
	block      blockEntry
	key        uint32
	pos        uint64

	offsets   []uint32 // sector offset table, loaded on first use
	crcs      []uint32
	single    []byte // decoded single-unit data
	singleOK  bool
	cacheIdx  int64
	cacheData []byte

	pending *pendingFile
}

func newFile(a *archive, name string, hashIndex, blockIndex uint32) *file {
	f := &file{
		a:          a,
		name:       name,
		hashIndex:  hashIndex,
		blockIndex: blockIndex,
		block:      a.blockTable[blockIndex],
		cacheIdx:   -1,
	}
	if f.block.Flags&FileEncrypted != 0 {
		f.key = fileKey(name, f.block.Pos, f.block.FileSize, f.block.Flags)
	}
	return f
}

// OpenFile opens name for reading.
func (e *Engine) OpenFile(h Handle, name []byte) (Handle, Status) {
	a, st := e.acquire(h)
	if st != Success {
		return 0, st
	}
	defer a.mu.Unlock()

	hashIndex, blockIndex, ok := a.lookup(string(name))
	if !ok {
		return 0, ErrFileNotFound
	}
	if a.blockTable[blockIndex].Flags&FileImplode != 0 {
		return 0, ErrNotSupported
	}
	a.learn(string(name), hashIndex, blockIndex)
	f := newFile(a, string(name), hashIndex, blockIndex)
	fh := e.register(f)
	a.children[fh] = struct{}{}
	a.openFiles++
	return fh, Success
}

// CloseFile releases a file handle. A file still being created is
// discarded.
func (e *Engine) CloseFile(fh Handle) Status {
	f, st := e.file(fh)
	if st != Success {
		return st
	}
	e.release(fh)
	f.a.mu.Lock()
	defer f.a.mu.Unlock()
	if f.a.children != nil {
		delete(f.a.children, fh)
	}
	if f.pending == nil {
		f.a.openFiles--
	} else {
		e.log.Debug("discarding unfinished file", slog.String("name", f.pending.name))
	}
	return Success
}

// GetFileSize returns the uncompressed size split into 32-bit halves. On
// failure low is InvalidSize.
func (e *Engine) GetFileSize(fh Handle) (low, high uint32, st Status) {
	f, st := e.file(fh)
	if st != Success {
		return InvalidSize, 0, st
	}
	f.a.mu.Lock()
	defer f.a.mu.Unlock()
	if f.a.closed {
		return InvalidSize, 0, ErrInvalidHandle
	}
	if f.pending != nil {
		return f.pending.size, 0, Success
	}
	size := uint64(f.block.FileSize)
	return uint32(size), uint32(size >> 32), Success
}

// SetFilePointer moves the read position to offset from the start.
func (e *Engine) SetFilePointer(fh Handle, offset int64) Status {
	f, st := e.file(fh)
	if st != Success {
		return st
	}
	if offset < 0 {
		return ErrInvalidParameter
	}
	f.a.mu.Lock()
	f.pos = uint64(offset)
	f.a.mu.Unlock()
	return Success
}

// ReadFile reads up to len(buf) bytes at the current position. When fewer
// bytes are available it returns the count read together with
// ErrHandleEOF.
func (e *Engine) ReadFile(fh Handle, buf []byte) (uint32, Status) {
	f, st := e.file(fh)
	if st != Success {
		return 0, st
	}
	f.a.mu.Lock()
	defer f.a.mu.Unlock()
	if f.a.closed {
		return 0, ErrInvalidHandle
	}
	if f.pending != nil {
		return 0, ErrAccessDenied
	}
	n, st, err := f.read(buf)
	if err != nil {
		e.log.Debug("read file", slog.String("name", f.name), slog.Any("error", err))
	}
	return uint32(n), st
}

func (f *file) read(buf []byte) (int, Status, error) {
	size := uint64(f.block.FileSize)
	if f.pos >= size {
		if len(buf) == 0 {
			return 0, Success, nil
		}
		return 0, ErrHandleEOF, nil
	}
	want := uint64(len(buf))
	if remaining := size - f.pos; want > remaining {
		want = remaining
	}

	var n uint64
	if f.block.Flags&FileSingleUnit != 0 {
		data, st, err := f.loadSingle()
		if st != Success {
			return 0, st, err
		}
		if f.pos < uint64(len(data)) {
			n = uint64(copy(buf[:want], data[f.pos:]))
		}
	} else {
		ss := uint64(f.a.sectorSize())
		for n < want {
			idx := (f.pos + n) / ss
			sector, st, err := f.sector(uint32(idx))
			if st != Success {
				return int(n), st, err
			}
			off := (f.pos + n) % ss
			if off >= uint64(len(sector)) {
				break
			}
			c := uint64(copy(buf[n:want], sector[off:]))
			n += c
			if uint64(len(sector)) < f.expectedSectorSize(uint32(idx)) {
				break // truncated
			}
		}
	}

	f.pos += n
	if n < uint64(len(buf)) {
		return int(n), ErrHandleEOF, nil
	}
	return int(n), Success, nil
}

func (f *file) compressed() bool {
	return f.block.Flags&FileCompress != 0
}

func (f *file) sectorCount() uint32 {
	ss := f.a.sectorSize()
	return (f.block.FileSize + ss - 1) / ss
}

func (f *file) expectedSectorSize(idx uint32) uint64 {
	ss := f.a.sectorSize()
	if idx == f.sectorCount()-1 {
		return uint64(f.block.FileSize - idx*ss)
	}
	return uint64(ss)
}

// loadSingle decodes a single-unit file. A truncated compressed unit yields
// no data.
func (f *file) loadSingle() ([]byte, Status, error) {
	if f.singleOK {
		return f.single, Success, nil
	}
	raw := make([]byte, f.block.CompressedSize)
	n, _ := f.a.readAt(raw, f.block.Pos)
	truncated := n < len(raw)
	raw = raw[:n]

	if f.block.Flags&FileEncrypted != 0 {
		decryptBytes(raw, f.key)
	}
	data := raw
	if f.compressed() && f.block.CompressedSize < f.block.FileSize {
		if truncated {
			data = nil
		} else {
			out, st, err := decompressSector(raw, f.block.FileSize)
			if st != Success {
				return nil, st, fmt.Errorf("decompress %s: %w", f.name, err)
			}
			data = out
		}
	}
	f.single, f.singleOK = data, true
	return data, Success, nil
}

func (f *file) loadOffsets() (Status, error) {
	if f.offsets != nil {
		return Success, nil
	}
	n := f.sectorCount()
	count := n + 1
	if f.block.Flags&FileSectorCRC != 0 {
		count++
	}
	raw := make([]byte, count*4)
	if got, _ := f.a.readAt(raw, f.block.Pos); got < len(raw) {
		return ErrHandleEOF, fmt.Errorf("sector offset table of %s truncated", f.name)
	}
	offsets := bytesToWords(raw)
	if f.block.Flags&FileEncrypted != 0 {
		decryptBlock(offsets, f.key-1)
	}
	for i := uint32(0); i < n; i++ {
		if offsets[i] > offsets[i+1] || offsets[i+1] > f.block.CompressedSize {
			return ErrFileCorrupt, fmt.Errorf("invalid sector offsets in %s: %d-%d", f.name, offsets[i], offsets[i+1])
		}
	}
	f.offsets = offsets
	return Success, nil
}

// loadCRCs reads the sector checksum block that follows the last sector.
// Missing or unreadable checksums disable verification.
func (f *file) loadCRCs() {
	n := f.sectorCount()
	if f.crcs != nil || len(f.offsets) < int(n)+2 {
		return
	}
	start, end := f.offsets[n], f.offsets[n+1]
	f.crcs = []uint32{}
	if end <= start || end > f.block.CompressedSize {
		return
	}
	raw := make([]byte, end-start)
	if got, _ := f.a.readAt(raw, f.block.Pos+uint64(start)); got < len(raw) {
		return
	}
	if uint32(len(raw)) < n*4 {
		out, st, _ := decompressSector(raw, n*4)
		if st != Success {
			return
		}
		raw = out
	}
	if uint32(len(raw)) >= n*4 {
		f.crcs = bytesToWords(raw[:n*4])
	}
}

// sector returns the decoded data of sector idx. A sector cut short by the
// end of the host file is returned as far as it can be decoded.
func (f *file) sector(idx uint32) ([]byte, Status, error) {
	if f.cacheIdx == int64(idx) {
		return f.cacheData, Success, nil
	}
	ss := f.a.sectorSize()
	expected := f.expectedSectorSize(idx)

	var start, length uint32
	if f.compressed() {
		st, err := f.loadOffsets()
		if st == ErrHandleEOF {
			return nil, Success, nil
		}
		if st != Success {
			return nil, st, err
		}
		start, length = f.offsets[idx], f.offsets[idx+1]-f.offsets[idx]
	} else {
		start, length = idx*ss, uint32(expected)
	}

	raw := make([]byte, length)
	n, _ := f.a.readAt(raw, f.block.Pos+uint64(start))
	if n < len(raw) {
		if f.compressed() && uint64(length) < expected {
			return nil, Success, nil
		}
		raw = raw[:n]
	}

	if f.block.Flags&FileEncrypted != 0 {
		decryptBytes(raw, f.key+idx)
	}

	if f.compressed() && f.block.Flags&FileSectorCRC != 0 && f.a.flags&OpenCheckSectorCRC != 0 {
		f.loadCRCs()
		if int(idx) < len(f.crcs) && f.crcs[idx] != 0 && adler32.Checksum(raw) != f.crcs[idx] {
			return nil, ErrChecksum, fmt.Errorf("sector %d of %s fails its checksum", idx, f.name)
		}
	}

	data := raw
	if f.compressed() && uint64(len(raw)) < expected {
		out, st, err := decompressSector(raw, uint32(expected))
		if st != Success {
			return nil, st, fmt.Errorf("decompress sector %d of %s: %w", idx, f.name, err)
		}
		data = out
	}
	f.cacheIdx, f.cacheData = int64(idx), data
	return data, Success, nil
}
