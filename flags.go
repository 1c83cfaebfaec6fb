// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"strings"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

// OpenArchiveFlags select how Open reads an archive. Combine with |.
type OpenArchiveFlags uint32

const (
	// Stream providers: a plain file, a partial file from the WoW trial,
	// an encrypted MPQE or a split Block4 archive.
	OpenStreamFlat    OpenArchiveFlags = storm.StreamProviderFlat
	OpenStreamPartial OpenArchiveFlags = storm.StreamProviderPartial
	OpenStreamMPQE    OpenArchiveFlags = storm.StreamProviderMPQE
	OpenStreamBlock4  OpenArchiveFlags = storm.StreamProviderBlock4

	// Base providers: local file, memory-mapped local file, or HTTP.
	OpenBaseFile OpenArchiveFlags = storm.BaseProviderFile
	OpenBaseMap  OpenArchiveFlags = storm.BaseProviderMap
	OpenBaseHTTP OpenArchiveFlags = storm.BaseProviderHTTP

	OpenReadOnly OpenArchiveFlags = storm.StreamFlagReadOnly
	// OpenWriteShare lets several writers open the archive at once. Two
	// writers modifying it at the same time corrupt it.
	OpenWriteShare OpenArchiveFlags = storm.StreamFlagWriteShare
	OpenUseBitmap  OpenArchiveFlags = storm.StreamFlagUseBitmap

	OpenNoListfile     OpenArchiveFlags = storm.OpenNoListfile
	OpenNoAttributes   OpenArchiveFlags = storm.OpenNoAttributes
	OpenNoHeaderSearch OpenArchiveFlags = storm.OpenNoHeaderSearch
	OpenForceMPQV1     OpenArchiveFlags = storm.OpenForceMPQV1
	OpenCheckSectorCRC OpenArchiveFlags = storm.OpenCheckSectorCRC
)

// CreateArchiveFlags select the layout of a new archive.
type CreateArchiveFlags uint32

const (
	CreateListfile   CreateArchiveFlags = storm.CreateListfile
	CreateAttributes CreateArchiveFlags = storm.CreateAttributes
	CreateSignature  CreateArchiveFlags = storm.CreateSignature

	CreateArchiveV1 CreateArchiveFlags = storm.CreateArchiveV1
	CreateArchiveV2 CreateArchiveFlags = storm.CreateArchiveV2
	CreateArchiveV3 CreateArchiveFlags = storm.CreateArchiveV3
	CreateArchiveV4 CreateArchiveFlags = storm.CreateArchiveV4
)

// CreateFileFlags select how a file is stored. The same bits are reported
// in DirectoryEntry.Flags.
type CreateFileFlags uint32

const (
	FileImplode         CreateFileFlags = storm.FileImplode
	FileCompress        CreateFileFlags = storm.FileCompress
	FileEncrypted       CreateFileFlags = storm.FileEncrypted
	FileFixKey          CreateFileFlags = storm.FileFixKey
	FilePatchFile       CreateFileFlags = storm.FilePatchFile
	FileSingleUnit      CreateFileFlags = storm.FileSingleUnit
	FileDeleteMarker    CreateFileFlags = storm.FileDeleteMarker
	FileSectorCRC       CreateFileFlags = storm.FileSectorCRC
	FileReplaceExisting CreateFileFlags = storm.FileReplaceExisting

	// FileExists shares its bit with FileReplaceExisting. It only appears
	// in DirectoryEntry.Flags.
	FileExists CreateFileFlags = storm.FileExists
)

// CompressionFlags select the compression methods of a file.
type CompressionFlags uint32

const (
	CompressionHuffman     CompressionFlags = storm.CompressionHuffman
	CompressionZlib        CompressionFlags = storm.CompressionZlib
	CompressionPKWare      CompressionFlags = storm.CompressionPKWare
	CompressionBzip2       CompressionFlags = storm.CompressionBzip2
	CompressionSparse      CompressionFlags = storm.CompressionSparse
	CompressionADPCMMono   CompressionFlags = storm.CompressionADPCMMono
	CompressionADPCMStereo CompressionFlags = storm.CompressionADPCMStereo
	CompressionLZMA        CompressionFlags = storm.CompressionLZMA
)

// Has reports whether every bit of other is set in f.
func (f OpenArchiveFlags) Has(other OpenArchiveFlags) bool { return f&other == other }

// Has reports whether every bit of other is set in f.
func (f CreateArchiveFlags) Has(other CreateArchiveFlags) bool { return f&other == other }

// Has reports whether every bit of other is set in f.
func (f CreateFileFlags) Has(other CreateFileFlags) bool { return f&other == other }

// Has reports whether every bit of other is set in f.
func (f CompressionFlags) Has(other CompressionFlags) bool { return f&other == other }

// flagName names a value within mask. Single bits use the bit as mask.
type flagName struct {
	bits, mask uint32
	name       string
}

func bit(v uint32, name string) flagName { return flagName{v, v, name} }

var openArchiveNames = []flagName{
	{storm.StreamProviderPartial, storm.StreamProviderMask, "StreamPartial"},
	{storm.StreamProviderMPQE, storm.StreamProviderMask, "StreamMPQE"},
	{storm.StreamProviderBlock4, storm.StreamProviderMask, "StreamBlock4"},
	{storm.BaseProviderMap, storm.BaseProviderMask, "BaseMap"},
	{storm.BaseProviderHTTP, storm.BaseProviderMask, "BaseHTTP"},
	bit(storm.StreamFlagReadOnly, "ReadOnly"),
	bit(storm.StreamFlagWriteShare, "WriteShare"),
	bit(storm.StreamFlagUseBitmap, "UseBitmap"),
	bit(storm.OpenNoListfile, "NoListfile"),
	bit(storm.OpenNoAttributes, "NoAttributes"),
	bit(storm.OpenNoHeaderSearch, "NoHeaderSearch"),
	bit(storm.OpenForceMPQV1, "ForceMPQV1"),
	bit(storm.OpenCheckSectorCRC, "CheckSectorCRC"),
}

const createVersionMask = 0x0F000000

var createArchiveNames = []flagName{
	bit(storm.CreateListfile, "Listfile"),
	bit(storm.CreateAttributes, "Attributes"),
	bit(storm.CreateSignature, "Signature"),
	{storm.CreateArchiveV2, createVersionMask, "ArchiveV2"},
	{storm.CreateArchiveV3, createVersionMask, "ArchiveV3"},
	{storm.CreateArchiveV4, createVersionMask, "ArchiveV4"},
}

var createFileNames = []flagName{
	bit(storm.FileImplode, "Implode"),
	bit(storm.FileCompress, "Compress"),
	bit(storm.FileEncrypted, "Encrypted"),
	bit(storm.FileFixKey, "FixKey"),
	bit(storm.FilePatchFile, "PatchFile"),
	bit(storm.FileSingleUnit, "SingleUnit"),
	bit(storm.FileDeleteMarker, "DeleteMarker"),
	bit(storm.FileSectorCRC, "SectorCRC"),
	bit(storm.FileExists, "Exists"),
}

// LZMA reuses the zlib and bzip2 bits, so it is matched first.
var compressionNames = []flagName{
	bit(storm.CompressionLZMA, "LZMA"),
	bit(storm.CompressionHuffman, "Huffman"),
	bit(storm.CompressionZlib, "Zlib"),
	bit(storm.CompressionPKWare, "PKWare"),
	bit(storm.CompressionBzip2, "Bzip2"),
	bit(storm.CompressionSparse, "Sparse"),
	bit(storm.CompressionADPCMMono, "ADPCMMono"),
	bit(storm.CompressionADPCMStereo, "ADPCMStereo"),
}

func formatFlags(v uint32, names []flagName) string {
	var parts []string
	for _, n := range names {
		if v&n.mask == n.bits {
			parts = append(parts, n.name)
			v &^= n.mask
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", v))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

func (f OpenArchiveFlags) String() string   { return formatFlags(uint32(f), openArchiveNames) }
func (f CreateArchiveFlags) String() string { return formatFlags(uint32(f), createArchiveNames) }
func (f CreateFileFlags) String() string    { return formatFlags(uint32(f), createFileNames) }
func (f CompressionFlags) String() string   { return formatFlags(uint32(f), compressionNames) }
