// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"encoding/binary"
	"io"
)

// MPQ format constants
const (
	// "MPQ\x1A" and "MPQ\x1B" in little-endian
	mpqMagic      = 0x1A51504D
	userDataMagic = 0x1B51504D

	formatVersion1 = 0 // Original format (up to 4GB)
	formatVersion2 = 1 // Extended format (Burning Crusade+)

	headerSizeV1 = 0x20
	headerSizeV2 = 0x2C

	// Headers are searched on 512-byte boundaries
	headerAlignment = 0x200

	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	localeNeutral = 0

	// 512 << 3 = 4096 byte sectors
	defaultSectorSizeShift = 3

	minHashTableSize = 16
	maxHashTableSize = 0x80000
)

// baseHeader is the V1 header (32 bytes).
type baseHeader struct {
	Magic            uint32
	HeaderSize       uint32
	ArchiveSize      uint32
	FormatVersion    uint16
	SectorSizeShift  uint16
	HashTableOffset  uint32
	BlockTableOffset uint32
	HashTableSize    uint32
	BlockTableSize   uint32
}

// extendedHeader holds the V2 fields (12 bytes).
type extendedHeader struct {
	HiBlockTableOffset64 uint64
	HashTableOffsetHi    uint16
	BlockTableOffsetHi   uint16
}

type archiveHeader struct {
	baseHeader
	extendedHeader
}

func (h *archiveHeader) hashTableOffset() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.HashTableOffset) | uint64(h.HashTableOffsetHi)<<32
	}
	return uint64(h.HashTableOffset)
}

func (h *archiveHeader) blockTableOffset() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.BlockTableOffset) | uint64(h.BlockTableOffsetHi)<<32
	}
	return uint64(h.BlockTableOffset)
}

func (h *archiveHeader) setHashTableOffset(offset uint64) {
	h.HashTableOffset = uint32(offset)
	h.HashTableOffsetHi = uint16(offset >> 32)
}

func (h *archiveHeader) setBlockTableOffset(offset uint64) {
	h.BlockTableOffset = uint32(offset)
	h.BlockTableOffsetHi = uint16(offset >> 32)
}

func (h *archiveHeader) sectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

type hashEntry struct {
	HashA      uint32
	HashB      uint32
	Locale     uint16
	Platform   uint16
	BlockIndex uint32
}

func emptyHashEntry() hashEntry {
	return hashEntry{
		HashA:      0xFFFFFFFF,
		HashB:      0xFFFFFFFF,
		Locale:     0xFFFF,
		Platform:   0xFF,
		BlockIndex: hashTableEmpty,
	}
}

// blockEntry is a block table entry with the hi-block bits folded in.
type blockEntry struct {
	Pos            uint64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
}

func (b *blockEntry) exists() bool {
	return b.Flags&FileExists != 0
}

func readHeader(r io.ReaderAt, offset int64, forceV1 bool) (*archiveHeader, error) {
	h := &archiveHeader{}
	sr := io.NewSectionReader(r, offset, headerSizeV2)
	if err := binary.Read(sr, binary.LittleEndian, &h.baseHeader); err != nil {
		return nil, err
	}
	if forceV1 {
		h.FormatVersion = formatVersion1
		h.HeaderSize = headerSizeV1
		return h, nil
	}
	if h.FormatVersion >= formatVersion2 && h.HeaderSize >= headerSizeV2 {
		if err := binary.Read(sr, binary.LittleEndian, &h.extendedHeader); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func writeHeader(w io.WriterAt, offset int64, h *archiveHeader) error {
	buf := make([]byte, 0, headerSizeV2)
	buf = binary.LittleEndian.AppendUint32(buf, h.Magic)
	buf = binary.LittleEndian.AppendUint32(buf, h.HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.ArchiveSize)
	buf = binary.LittleEndian.AppendUint16(buf, h.FormatVersion)
	buf = binary.LittleEndian.AppendUint16(buf, h.SectorSizeShift)
	buf = binary.LittleEndian.AppendUint32(buf, h.HashTableOffset)
	buf = binary.LittleEndian.AppendUint32(buf, h.BlockTableOffset)
	buf = binary.LittleEndian.AppendUint32(buf, h.HashTableSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.BlockTableSize)
	if h.FormatVersion >= formatVersion2 {
		buf = binary.LittleEndian.AppendUint64(buf, h.HiBlockTableOffset64)
		buf = binary.LittleEndian.AppendUint16(buf, h.HashTableOffsetHi)
		buf = binary.LittleEndian.AppendUint16(buf, h.BlockTableOffsetHi)
	}
	_, err := w.WriteAt(buf, offset)
	return err
}

// userDataHeader precedes the real header in maps and replays.
type userDataHeader struct {
	Magic          uint32
	UserDataSize   uint32
	HeaderOffset   uint32
	UserDataHeader uint32
}

// locateHeader finds the archive start within a host file of the given size.
func locateHeader(r io.ReaderAt, size int64, search bool) (int64, Status) {
	var magic [4]byte
	for off := int64(0); off+headerSizeV1 <= size; off += headerAlignment {
		if _, err := r.ReadAt(magic[:], off); err != nil {
			return 0, ErrBadFormat
		}
		switch binary.LittleEndian.Uint32(magic[:]) {
		case mpqMagic:
			return off, Success
		case userDataMagic:
			var ud userDataHeader
			if err := binary.Read(io.NewSectionReader(r, off, 16), binary.LittleEndian, &ud); err != nil {
				return 0, ErrBadFormat
			}
			target := off + int64(ud.HeaderOffset)
			if target+headerSizeV1 <= size {
				if _, err := r.ReadAt(magic[:], target); err == nil && binary.LittleEndian.Uint32(magic[:]) == mpqMagic {
					return target, Success
				}
			}
		}
		if !search {
			break
		}
	}
	return 0, ErrBadFormat
}

func decodeHashTable(words []uint32) []hashEntry {
	table := make([]hashEntry, len(words)/4)
	for i := range table {
		table[i] = hashEntry{
			HashA:      words[i*4],
			HashB:      words[i*4+1],
			Locale:     uint16(words[i*4+2] & 0xFFFF),
			Platform:   uint16(words[i*4+2] >> 16),
			BlockIndex: words[i*4+3],
		}
	}
	return table
}

func encodeHashTable(table []hashEntry) []uint32 {
	words := make([]uint32, len(table)*4)
	for i, entry := range table {
		words[i*4] = entry.HashA
		words[i*4+1] = entry.HashB
		words[i*4+2] = uint32(entry.Locale) | uint32(entry.Platform)<<16
		words[i*4+3] = entry.BlockIndex
	}
	return words
}

func decodeBlockTable(words []uint32, hi []uint16) []blockEntry {
	table := make([]blockEntry, len(words)/4)
	for i := range table {
		table[i] = blockEntry{
			Pos:            uint64(words[i*4]),
			CompressedSize: words[i*4+1],
			FileSize:       words[i*4+2],
			Flags:          words[i*4+3],
		}
		if i < len(hi) {
			table[i].Pos |= uint64(hi[i]) << 32
		}
	}
	return table
}

func encodeBlockTable(table []blockEntry) (words []uint32, hi []uint16, needHi bool) {
	words = make([]uint32, len(table)*4)
	hi = make([]uint16, len(table))
	for i, entry := range table {
		words[i*4] = uint32(entry.Pos)
		words[i*4+1] = entry.CompressedSize
		words[i*4+2] = entry.FileSize
		words[i*4+3] = entry.Flags
		hi[i] = uint16(entry.Pos >> 32)
		if hi[i] != 0 {
			needHi = true
		}
	}
	return words, hi, needHi
}

func bytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

func wordsToBytes(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
