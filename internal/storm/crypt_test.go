// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	// Table keys defined in StormLib.h
	assert.Equal(t, uint32(0xC3AF3770), hashString("(hash table)", hashTypeFileKey))
	assert.Equal(t, uint32(0xEC83B3A3), hashString("(block table)", hashTypeFileKey))
	assert.Equal(t, uint32(0xC3AF3770), keyHashTable)
	assert.Equal(t, uint32(0xEC83B3A3), keyBlockTable)
}

// Values from the HashVals data in StormLib's StormTest.cpp.
func TestHashStringNameVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"backslashes", "ReplaceableTextures\\CommandButtons\\BTNHaboss79.blp"},
		{"forward slashes", "ReplaceableTextures/CommandButtons/BTNHaboss79.blp"},
		{"lowercase", "replaceabletextures\\commandbuttons\\btnhaboss79.blp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, uint32(0x8bd6929a), hashString(tt.input, hashTypeNameA))
			assert.Equal(t, uint32(0xfd55129b), hashString(tt.input, hashTypeNameB))
		})
	}
}

func TestCryptTable(t *testing.T) {
	require.Len(t, cryptTable, 0x500)

	seed := uint32(0x00100001)
	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10
			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF
			require.Equal(t, temp1|temp2, cryptTable[index2], "cryptTable[0x%03X]", index2)
			index2 += 0x100
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []uint32
		key  uint32
	}{
		{"hash table key", []uint32{0x12345678, 0xDEADBEEF, 0xCAFEBABE, 0xF00DF00D}, keyHashTable},
		{"block table key", []uint32{0x11111111, 0x22222222, 0x33333333, 0x44444444}, keyBlockTable},
		{"single value", []uint32{0xABCDEF01}, keyHashTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]uint32(nil), tt.data...)
			encryptBlock(data, tt.key)
			assert.NotEqual(t, tt.data, data)
			decryptBlock(data, tt.key)
			assert.Equal(t, tt.data, data)
		})
	}
}

func TestEncryptBytesKeepsTail(t *testing.T) {
	data := []byte("0123456789")
	encryptBytes(data, 0x1234)
	assert.Equal(t, []byte("89"), data[8:])
	decryptBytes(data, 0x1234)
	assert.Equal(t, []byte("0123456789"), data)
}

func TestFileKey(t *testing.T) {
	base := fileKey("Units\\Human\\Footman.mdx", 0x100, 500, FileEncrypted)
	assert.Equal(t, hashString("Footman.mdx", hashTypeFileKey), base)

	fixed := fileKey("Units\\Human\\Footman.mdx", 0x100, 500, FileEncrypted|FileFixKey)
	assert.Equal(t, (base+0x100)^500, fixed)
}

func TestPlainName(t *testing.T) {
	assert.Equal(t, "war3map.j", plainName("war3map.j"))
	assert.Equal(t, "Footman.mdx", plainName("Units\\Human\\Footman.mdx"))
	assert.Equal(t, "Footman.mdx", plainName("Units/Human/Footman.mdx"))
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"*.mdx", "Units\\Human\\Footman.mdx", true},
		{"*.MDX", "units\\human\\footman.mdx", true},
		{"units/*", "Units\\Orc\\Grunt.mdx", true},
		{"war3map.?", "war3map.j", true},
		{"war3map.?", "war3map.wts", false},
		{"*human*", "Units\\Human\\Footman.mdx", true},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
		{"", "x", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchWildcard(tt.pattern, tt.name), "%q vs %q", tt.pattern, tt.name)
	}
}
