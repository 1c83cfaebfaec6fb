// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"encoding/binary"
	"hash/crc32"
	"sort"
	"strings"
)

const (
	attributesVersion = 100

	attributeCRC32    = 0x00000001
	attributeFileTime = 0x00000002
	attributeMD5      = 0x00000004
	attributePatchBit = 0x00000008
)

// loadAttributes reads CRC32 and FILETIME values from (attributes). MD5 and
// patch bits are skipped. Short or malformed data is ignored.
func (a *archive) loadAttributes() {
	data, st, _ := a.readWhole(attributesName)
	if st != Success || len(data) < 8 {
		return
	}
	if binary.LittleEndian.Uint32(data[0:4]) != attributesVersion {
		return
	}
	flags := binary.LittleEndian.Uint32(data[4:8])
	count := len(a.blockTable)
	data = data[8:]

	if flags&attributeCRC32 != 0 {
		if len(data) < count*4 {
			return
		}
		for i := 0; i < count; i++ {
			if v := binary.LittleEndian.Uint32(data[i*4:]); v != 0 {
				a.crcs[uint32(i)] = v
			}
		}
		data = data[count*4:]
	}
	if flags&attributeFileTime != 0 {
		if len(data) < count*8 {
			return
		}
		for i := 0; i < count; i++ {
			if v := binary.LittleEndian.Uint64(data[i*8:]); v != 0 {
				a.fileTimes[uint32(i)] = v
			}
		}
	}
}

// buildAttributes serializes CRC32 and FILETIME for every block. The entry
// of the (attributes) block itself is left zero.
func (a *archive) buildAttributes(self uint32) []byte {
	count := len(a.blockTable)
	data := make([]byte, 8+count*12)
	binary.LittleEndian.PutUint32(data[0:4], attributesVersion)
	binary.LittleEndian.PutUint32(data[4:8], attributeCRC32|attributeFileTime)

	crcs := data[8 : 8+count*4]
	times := data[8+count*4:]
	for i := 0; i < count; i++ {
		if uint32(i) == self {
			continue
		}
		binary.LittleEndian.PutUint32(crcs[i*4:], a.crcs[uint32(i)])
		binary.LittleEndian.PutUint64(times[i*8:], a.fileTimes[uint32(i)])
	}
	return data
}

func checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// splitListfile splits listfile content on line breaks and semicolons.
func splitListfile(data []byte) []string {
	fields := strings.FieldsFunc(string(data), func(r rune) bool {
		return r == '\r' || r == '\n' || r == ';'
	})
	names := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			names = append(names, f)
		}
	}
	return names
}

// buildListfile lists every named entry except the internal files, sorted
// case-insensitively.
func (a *archive) buildListfile() []byte {
	names := make([]string, 0, len(a.names))
	for blockIndex, name := range a.names {
		if isInternal(name) || !a.blockTable[blockIndex].exists() {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToUpper(names[i]) < strings.ToUpper(names[j])
	})
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

func isInternal(name string) bool {
	return name == listfileName || name == attributesName || name == signatureName
}
