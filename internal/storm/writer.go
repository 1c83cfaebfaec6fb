// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"fmt"
	"hash/adler32"
	"log/slog"
)

// pendingFile collects the data of a file between CreateFile and
// FinishFile.
type pendingFile struct {
	name        string
	mtime       uint64
	size        uint32
	flags       uint32
	locale      uint16
	compression uint32
	written     bool
	data        []byte
}

// CreateFile starts a new file of the given size. The data must then be
// supplied with WriteFile and committed with FinishFile.
func (e *Engine) CreateFile(h Handle, name []byte, mtime uint64, size, locale, flags uint32) (Handle, Status) {
	a, st := e.acquire(h)
	if st != Success {
		return 0, st
	}
	defer a.mu.Unlock()

	if a.readOnly {
		return 0, ErrAccessDenied
	}
	switch {
	case len(name) == 0:
		return 0, ErrInvalidParameter
	case flags&FileImplode != 0 && flags&FileCompress != 0:
		return 0, ErrInvalidParameter
	case flags&FileImplode != 0:
		return 0, ErrNotSupported
	case flags&FileFixKey != 0 && flags&FileEncrypted == 0:
		return 0, ErrInvalidParameter
	}

	if _, _, ok := a.lookup(string(name)); ok {
		if flags&FileReplaceExisting == 0 {
			return 0, ErrAlreadyExists
		}
	} else if _, ok := a.freeHashSlot(string(name)); !ok || uint32(len(a.blockTable)) >= a.header.HashTableSize && a.freeBlockSlot() < 0 {
		return 0, ErrDiskFull
	}

	f := &file{
		a:        a,
		name:     string(name),
		cacheIdx: -1,
		pending: &pendingFile{
			name:   string(name),
			mtime:  mtime,
			size:   size,
			flags:  flags,
			locale: uint16(locale),
			data:   make([]byte, 0, size),
		},
	}
	fh := e.register(f)
	a.children[fh] = struct{}{}
	return fh, Success
}

// WriteFile appends data to a file being created. The compression of the
// first call applies to the whole file.
func (e *Engine) WriteFile(fh Handle, data []byte, compression uint32) Status {
	f, st := e.file(fh)
	if st != Success {
		return st
	}
	f.a.mu.Lock()
	defer f.a.mu.Unlock()
	if f.a.closed {
		return ErrInvalidHandle
	}
	p := f.pending
	if p == nil {
		return ErrAccessDenied
	}
	if st := checkCompression(compression); st != Success {
		return st
	}
	if uint64(len(p.data))+uint64(len(data)) > uint64(p.size) {
		return ErrInvalidParameter
	}
	if !p.written {
		p.compression, p.written = compression, true
	}
	p.data = append(p.data, data...)
	return Success
}

// FinishFile commits a file being created and releases its handle, whether
// or not the commit succeeds.
func (e *Engine) FinishFile(fh Handle) Status {
	f, st := e.file(fh)
	if st != Success {
		return st
	}
	e.release(fh)

	a := f.a
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrInvalidHandle
	}
	delete(a.children, fh)

	p := f.pending
	if p == nil {
		return ErrAccessDenied
	}
	if uint32(len(p.data)) != p.size {
		return ErrCanNotComplete
	}
	st, err := a.storeFile(p.name, p.data, p.flags, p.compression, p.mtime, p.locale)
	if err != nil {
		e.log.Debug("finish file", slog.String("name", p.name), slog.Any("error", err))
	}
	return st
}

// storeFile encodes data and appends it at the end of the file data,
// replacing an existing entry of the same name in place.
func (a *archive) storeFile(name string, data []byte, flags, compression uint32, mtime uint64, locale uint16) (Status, error) {
	hashIndex, blockIndex, exists := a.lookup(name)
	if !exists {
		var ok bool
		if hashIndex, ok = a.freeHashSlot(name); !ok {
			return ErrDiskFull, fmt.Errorf("hash table full")
		}
		if idx := a.freeBlockSlot(); idx >= 0 {
			blockIndex = uint32(idx)
		} else if uint32(len(a.blockTable)) < a.header.HashTableSize {
			blockIndex = uint32(len(a.blockTable))
			a.blockTable = append(a.blockTable, blockEntry{})
		} else {
			return ErrDiskFull, fmt.Errorf("block table full")
		}
	}

	pos := a.dataEnd
	flags = flags&^FileReplaceExisting | FileExists
	raw, flags, err := a.encode(name, data, flags, compression, pos)
	if err != nil {
		return ErrCanNotComplete, err
	}
	if err := a.writeAt(raw, pos); err != nil {
		return statusFromOS(err), fmt.Errorf("write %s: %w", name, err)
	}

	a.blockTable[blockIndex] = blockEntry{
		Pos:            pos,
		CompressedSize: uint32(len(raw)),
		FileSize:       uint32(len(data)),
		Flags:          flags,
	}
	if !exists {
		a.hashTable[hashIndex] = hashEntry{
			HashA:      hashString(name, hashTypeNameA),
			HashB:      hashString(name, hashTypeNameB),
			Locale:     locale,
			Platform:   0,
			BlockIndex: blockIndex,
		}
	}
	a.names[blockIndex] = name
	a.crcs[blockIndex] = checksum(data)
	a.fileTimes[blockIndex] = mtime
	a.dataEnd = pos + uint64(len(raw))
	a.dirty = true
	return Success, nil
}

func (a *archive) freeHashSlot(name string) (uint32, bool) {
	size := uint32(len(a.hashTable))
	start := hashString(name, hashTypeTableOffset) % size
	for i := uint32(0); i < size; i++ {
		idx := (start + i) % size
		if b := a.hashTable[idx].BlockIndex; b == hashTableEmpty || b == hashTableDeleted {
			return idx, true
		}
	}
	return 0, false
}

// freeBlockSlot returns the index of an unused block entry or -1.
func (a *archive) freeBlockSlot() int {
	for i := range a.blockTable {
		b := &a.blockTable[i]
		if b.Flags == 0 && b.CompressedSize == 0 && !a.blockReferenced(uint32(i)) {
			return i
		}
	}
	return -1
}

func (a *archive) blockReferenced(blockIndex uint32) bool {
	for _, entry := range a.hashTable {
		if entry.BlockIndex == blockIndex {
			return true
		}
	}
	return false
}

// encode produces the on-disk form of data: single unit or sectored, with
// optional compression, encryption and sector checksums. It returns the
// flags actually stored.
func (a *archive) encode(name string, data []byte, flags, compression uint32, pos uint64) ([]byte, uint32, error) {
	var key uint32
	encrypted := flags&FileEncrypted != 0
	if encrypted {
		key = fileKey(name, pos, uint32(len(data)), flags)
	}
	compress := flags&FileCompress != 0

	if flags&FileSingleUnit != 0 || len(data) == 0 {
		out := append([]byte(nil), data...)
		if compress && compression != 0 && len(data) > 0 {
			c, err := compressSector(data, compression)
			if err != nil {
				return nil, 0, err
			}
			if len(c) < len(data) {
				out = c
			}
		}
		if encrypted {
			encryptBytes(out, key)
		}
		return out, flags &^ FileSectorCRC, nil
	}

	ss := int(a.sectorSize())
	n := (len(data) + ss - 1) / ss

	if !compress {
		out := append([]byte(nil), data...)
		if encrypted {
			for i := 0; i < n; i++ {
				encryptBytes(out[i*ss:min((i+1)*ss, len(out))], key+uint32(i))
			}
		}
		return out, flags &^ FileSectorCRC, nil
	}

	withCRC := flags&FileSectorCRC != 0
	tableLen := n + 1
	if withCRC {
		tableLen++
	}
	offsets := make([]uint32, tableLen)
	crcs := make([]uint32, n)
	body := make([]byte, 0, len(data))
	base := tableLen * 4

	for i := 0; i < n; i++ {
		chunk := data[i*ss : min((i+1)*ss, len(data))]
		sector := append([]byte(nil), chunk...)
		if compression != 0 {
			c, err := compressSector(chunk, compression)
			if err != nil {
				return nil, 0, err
			}
			if len(c) < len(chunk) {
				sector = c
			}
		}
		crcs[i] = adler32.Checksum(sector)
		if encrypted {
			encryptBytes(sector, key+uint32(i))
		}
		offsets[i] = uint32(base + len(body))
		body = append(body, sector...)
	}
	offsets[n] = uint32(base + len(body))
	if withCRC {
		body = append(body, wordsToBytes(crcs)...)
		offsets[n+1] = uint32(base + len(body))
	}

	table := append([]uint32(nil), offsets...)
	if encrypted {
		encryptBlock(table, key-1)
	}
	return append(wordsToBytes(table), body...), flags, nil
}
