// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import "encoding/binary"

// Hash types for hashString
const (
	hashTypeTableOffset = 0
	hashTypeNameA       = 1
	hashTypeNameB       = 2
	hashTypeFileKey     = 3
)

var (
	keyHashTable  = hashString("(hash table)", hashTypeFileKey)
	keyBlockTable = hashString("(block table)", hashTypeFileKey)
)

var cryptTable = func() [0x500]uint32 {
	var table [0x500]uint32
	seed := uint32(0x00100001)
	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			table[index2] = temp1 | temp2
			index2 += 0x100
		}
	}
	return table
}()

// hashString computes the MPQ hash of a name. Case and slash direction are
// ignored.
func hashString(s string, hashType uint32) uint32 {
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)

	for i := 0; i < len(s); i++ {
		ch := uint32(s[i])
		if ch >= 'a' && ch <= 'z' {
			ch -= 0x20
		}
		if ch == '/' {
			ch = '\\'
		}

		seed1 = cryptTable[hashType*0x100+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}

	return seed1
}

func encryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)
	for i := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := data[i]
		data[i] = plain ^ (key + seed)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
	}
}

func decryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)
	for i := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := data[i] ^ (key + seed)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
		data[i] = plain
	}
}

// encryptBytes encrypts the whole dwords of data in place. Trailing bytes
// are left as they are, which is what every MPQ implementation does.
func encryptBytes(data []byte, key uint32) {
	words := bytesToWords(data)
	encryptBlock(words, key)
	putWords(data, words)
}

func decryptBytes(data []byte, key uint32) {
	words := bytesToWords(data)
	decryptBlock(words, key)
	putWords(data, words)
}

func putWords(dst []byte, words []uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(dst[i*4:], w)
	}
}

// fileKey computes the encryption key of a file from its plain name, and for
// fix-key files from its position and size as well.
func fileKey(name string, pos uint64, fileSize, flags uint32) uint32 {
	key := hashString(plainName(name), hashTypeFileKey)
	if flags&FileFixKey != 0 {
		key = (key + uint32(pos)) ^ fileSize
	}
	return key
}

// plainName strips the directory part of an archive name.
func plainName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '\\' || name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}
