// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

var errCancelled = errors.New("compaction cancelled by callback")

// CompactArchive rewrites the archive without the space left behind by
// removed and replaced files. It is refused while files are open for
// reading, since their data moves.
func (e *Engine) CompactArchive(h Handle) Status {
	a, st := e.acquire(h)
	if st != Success {
		return st
	}
	defer a.mu.Unlock()
	if a.readOnly {
		return ErrAccessDenied
	}
	if a.openFiles > 0 {
		return ErrBusy
	}
	st, err := a.compact()
	if err != nil {
		e.log.Debug("compact archive", slog.String("path", a.path), slog.Any("error", err))
	}
	return st
}

func (a *archive) compact() (Status, error) {
	report := func(work CompactWork, processed, total uint64) bool {
		if a.compactCB == nil {
			return true
		}
		return a.compactCB(work, processed, total)
	}

	// Internal files are regenerated by the flush at the end
	skip := make(map[uint32]bool)
	for _, name := range []string{listfileName, attributesName} {
		if _, blockIndex, ok := a.lookup(name); ok {
			if (name == listfileName && a.writeListfile) || (name == attributesName && a.writeAttributes) {
				skip[blockIndex] = true
			}
		}
	}

	if !report(CompactCheckingFiles, 0, uint64(len(a.blockTable))) {
		return ErrCancelled, errCancelled
	}
	var total uint64
	for i := range a.blockTable {
		b := &a.blockTable[i]
		if !b.exists() || skip[uint32(i)] {
			continue
		}
		if b.Flags&FileEncrypted != 0 && b.Flags&FileFixKey != 0 && a.names[uint32(i)] == "" {
			return ErrCanNotComplete, fmt.Errorf("block %d is key-adjusted and has no known name", i)
		}
		total += uint64(b.CompressedSize)
	}
	if !report(CompactCheckingHashTable, 0, uint64(len(a.hashTable))) {
		return ErrCancelled, errCancelled
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.path), "mpq_*.tmp")
	if err != nil {
		return statusFromOS(err), fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if info, err := os.Stat(a.path); err == nil {
		tmp.Chmod(info.Mode().Perm())
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if a.offset > 0 {
		if !report(CompactCopyingNonMPQData, 0, uint64(a.offset)) {
			return ErrCancelled, errCancelled
		}
		if _, err := io.Copy(tmp, io.NewSectionReader(a.store, 0, a.offset)); err != nil {
			return statusFromOS(err), fmt.Errorf("copy user data: %w", err)
		}
		if !report(CompactCopyingNonMPQData, uint64(a.offset), uint64(a.offset)) {
			return ErrCancelled, errCancelled
		}
	}

	remap := make(map[uint32]uint32)
	blocks := make([]blockEntry, 0, len(a.blockTable))
	pos := uint64(a.header.HeaderSize)
	var done uint64
	for i := range a.blockTable {
		b := a.blockTable[i]
		if !b.exists() || skip[uint32(i)] {
			continue
		}
		raw := make([]byte, b.CompressedSize)
		if n, _ := a.readAt(raw, b.Pos); n < len(raw) {
			return ErrFileCorrupt, fmt.Errorf("block %d is truncated", i)
		}
		if b.Flags&FileEncrypted != 0 && b.Flags&FileFixKey != 0 {
			if st, err := a.rekey(raw, b, a.names[uint32(i)], pos); st != Success {
				return st, err
			}
		}
		if _, err := tmp.WriteAt(raw, a.offset+int64(pos)); err != nil {
			return statusFromOS(err), fmt.Errorf("write block %d: %w", i, err)
		}
		remap[uint32(i)] = uint32(len(blocks))
		b.Pos = pos
		blocks = append(blocks, b)
		pos += uint64(len(raw))
		done += uint64(len(raw))
		if !report(CompactCompactingFiles, done, total) {
			return ErrCancelled, errCancelled
		}
	}

	hashTable := make([]hashEntry, len(a.hashTable))
	for i, entry := range a.hashTable {
		if entry.BlockIndex < hashTableDeleted {
			if nb, ok := remap[entry.BlockIndex]; ok {
				entry.BlockIndex = nb
			} else {
				entry = hashEntry{HashA: 0xFFFFFFFF, HashB: 0xFFFFFFFF, Locale: 0xFFFF, Platform: 0xFF, BlockIndex: hashTableDeleted}
			}
		}
		hashTable[i] = entry
	}
	names := make(map[uint32]string, len(remap))
	crcs := make(map[uint32]uint32, len(remap))
	fileTimes := make(map[uint32]uint64, len(remap))
	for old, nb := range remap {
		if name, ok := a.names[old]; ok {
			names[nb] = name
		}
		if v, ok := a.crcs[old]; ok {
			crcs[nb] = v
		}
		if v, ok := a.fileTimes[old]; ok {
			fileTimes[nb] = v
		}
	}

	if !report(CompactClosingArchive, 0, 0) {
		return ErrCancelled, errCancelled
	}
	if err := tmp.Close(); err != nil {
		return statusFromOS(err), fmt.Errorf("close temp file: %w", err)
	}

	// From here on the old file is gone; the archive state follows the
	// new one.
	if err := a.store.Close(); err != nil {
		return statusFromOS(err), fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		return statusFromOS(err), fmt.Errorf("replace archive: %w", err)
	}
	committed = true
	store, err := openStorage(a.path, false, false, a.flags&StreamFlagWriteShare != 0)
	if err != nil {
		return storageStatus(err), fmt.Errorf("reopen archive: %w", err)
	}
	a.store = store

	a.hashTable = hashTable
	a.blockTable = blocks
	a.names, a.crcs, a.fileTimes = names, crcs, fileTimes
	a.dataEnd = pos
	a.dirty = true
	return a.flush()
}

// rekey moves a key-adjusted encrypted entry from its old position to pos
// by decrypting with the old key and encrypting with the new one.
func (a *archive) rekey(raw []byte, b blockEntry, name string, pos uint64) (Status, error) {
	oldKey := fileKey(name, b.Pos, b.FileSize, b.Flags)
	newKey := fileKey(name, pos, b.FileSize, b.Flags)

	if b.Flags&FileSingleUnit != 0 || b.FileSize == 0 {
		decryptBytes(raw, oldKey)
		encryptBytes(raw, newKey)
		return Success, nil
	}

	ss := a.sectorSize()
	n := (b.FileSize + ss - 1) / ss
	if b.Flags&FileCompress == 0 {
		for i := uint32(0); i < n; i++ {
			sector := raw[min(i*ss, uint32(len(raw))):min((i+1)*ss, uint32(len(raw)))]
			decryptBytes(sector, oldKey+i)
			encryptBytes(sector, newKey+i)
		}
		return Success, nil
	}

	tableLen := n + 1
	if b.Flags&FileSectorCRC != 0 {
		tableLen++
	}
	if uint32(len(raw)) < tableLen*4 {
		return ErrFileCorrupt, fmt.Errorf("%s: sector table truncated", name)
	}
	table := bytesToWords(raw[:tableLen*4])
	decryptBlock(table, oldKey-1)
	for i := uint32(0); i < n; i++ {
		start, end := table[i], table[i+1]
		if start > end || end > uint32(len(raw)) {
			return ErrFileCorrupt, fmt.Errorf("%s: invalid sector offsets %d-%d", name, start, end)
		}
		decryptBytes(raw[start:end], oldKey+i)
		encryptBytes(raw[start:end], newKey+i)
	}
	encryptBlock(table, newKey-1)
	putWords(raw, table)
	return Success, nil
}
