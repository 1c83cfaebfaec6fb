// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"encoding/binary"
	"fmt"
)

// flush writes the internal files, then the hash, block and hi-block
// tables after the file data, then the header. Nothing is written when the
// archive has no pending changes.
func (a *archive) flush() (Status, error) {
	if !a.dirty {
		return Success, nil
	}
	if st, err := a.writeInternalFiles(); st != Success {
		return st, err
	}
	if st, err := a.writeTables(); st != Success {
		return st, err
	}
	if err := a.store.Sync(); err != nil {
		return statusFromOS(err), fmt.Errorf("sync: %w", err)
	}
	a.dirty = false
	return Success, nil
}

func (a *archive) writeInternalFiles() (Status, error) {
	if a.writeListfile {
		if st, err := a.storeFile(listfileName, a.buildListfile(), FileCompress, CompressionZlib, 0, localeNeutral); st != Success {
			return st, fmt.Errorf("write listfile: %w", err)
		}
	}
	if a.writeAttributes {
		// The attributes cover every block including their own, so the
		// entry must exist before its content is built.
		if _, _, ok := a.lookup(attributesName); !ok {
			if st, err := a.storeFile(attributesName, nil, FileCompress, CompressionZlib, 0, localeNeutral); st != Success {
				return st, fmt.Errorf("reserve attributes: %w", err)
			}
		}
		_, self, _ := a.lookup(attributesName)
		if st, err := a.storeFile(attributesName, a.buildAttributes(self), FileCompress, CompressionZlib, 0, localeNeutral); st != Success {
			return st, fmt.Errorf("write attributes: %w", err)
		}
	}
	return Success, nil
}

func (a *archive) writeTables() (Status, error) {
	pos := a.dataEnd

	hashWords := encodeHashTable(a.hashTable)
	encryptBlock(hashWords, keyHashTable)
	hashData := wordsToBytes(hashWords)
	if err := a.writeAt(hashData, pos); err != nil {
		return statusFromOS(err), fmt.Errorf("write hash table: %w", err)
	}
	a.header.setHashTableOffset(pos)
	pos += uint64(len(hashData))

	blockWords, hi, needHi := encodeBlockTable(a.blockTable)
	encryptBlock(blockWords, keyBlockTable)
	blockData := wordsToBytes(blockWords)
	if err := a.writeAt(blockData, pos); err != nil {
		return statusFromOS(err), fmt.Errorf("write block table: %w", err)
	}
	a.header.setBlockTableOffset(pos)
	pos += uint64(len(blockData))

	if a.header.FormatVersion < formatVersion2 && (needHi || pos > 0xFFFFFFFF) {
		return ErrDiskFull, fmt.Errorf("archive exceeds 4GB, which needs format V2")
	}
	if a.header.FormatVersion >= formatVersion2 {
		a.header.HiBlockTableOffset64 = 0
		if needHi {
			hiData := make([]byte, len(hi)*2)
			for i, v := range hi {
				binary.LittleEndian.PutUint16(hiData[i*2:], v)
			}
			if err := a.writeAt(hiData, pos); err != nil {
				return statusFromOS(err), fmt.Errorf("write hi-block table: %w", err)
			}
			a.header.HiBlockTableOffset64 = pos
			pos += uint64(len(hiData))
		}
	}

	a.header.HashTableSize = uint32(len(a.hashTable))
	a.header.BlockTableSize = uint32(len(a.blockTable))
	a.header.ArchiveSize = uint32(pos)
	if err := writeHeader(a.store, a.offset, &a.header); err != nil {
		return statusFromOS(err), fmt.Errorf("write header: %w", err)
	}
	if err := a.store.Truncate(a.offset + int64(pos)); err != nil {
		return statusFromOS(err), fmt.Errorf("truncate: %w", err)
	}
	return Success, nil
}
