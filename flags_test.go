// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagValues(t *testing.T) {
	assert.Equal(t, OpenArchiveFlags(0x30000), OpenNoListfile|OpenNoAttributes)
	assert.Equal(t, CreateArchiveFlags(0x1100000), CreateArchiveV2|CreateListfile)
	assert.Equal(t, CreateFileFlags(0x80000200), FileCompress|FileReplaceExisting)
	assert.Equal(t, CompressionFlags(0x12), CompressionZlib|CompressionBzip2)
}

func TestFlagsHas(t *testing.T) {
	f := FileCompress | FileEncrypted | FileExists
	assert.True(t, f.Has(FileCompress))
	assert.True(t, f.Has(FileCompress|FileEncrypted))
	assert.False(t, f.Has(FileCompress|FileFixKey))
	assert.True(t, f.Has(0))

	assert.True(t, (OpenReadOnly | OpenNoListfile).Has(OpenReadOnly))
	assert.False(t, OpenReadOnly.Has(OpenWriteShare))
	assert.True(t, (CreateArchiveV2 | CreateAttributes).Has(CreateAttributes))
	assert.True(t, CompressionLZMA.Has(CompressionZlib))
}

func TestFlagsString(t *testing.T) {
	tests := []struct {
		flags interface{ String() string }
		want  string
	}{
		{OpenArchiveFlags(0), "0"},
		{OpenReadOnly | OpenNoListfile | OpenNoAttributes, "ReadOnly|NoListfile|NoAttributes"},
		{OpenStreamMPQE | OpenBaseMap, "StreamMPQE|BaseMap"},
		{OpenArchiveFlags(0x8000000), "0x8000000"},
		{CreateListfile | CreateArchiveV2, "Listfile|ArchiveV2"},
		{CreateArchiveV4, "ArchiveV4"},
		{FileCompress | FileSectorCRC | FileExists, "Compress|SectorCRC|Exists"},
		{CompressionZlib, "Zlib"},
		{CompressionLZMA, "LZMA"},
		{CompressionHuffman | CompressionADPCMMono, "Huffman|ADPCMMono"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.flags.String())
	}
}
