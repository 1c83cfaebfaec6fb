// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createArchive(t *testing.T, e *Engine, flags, maxFiles uint32) (Handle, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mpq")
	h, st := e.CreateArchive(path, flags, maxFiles)
	require.Equal(t, Success, st)
	return h, path
}

func addFile(t *testing.T, e *Engine, h Handle, name string, data []byte, flags, compression uint32) {
	t.Helper()
	fh, st := e.CreateFile(h, []byte(name), 0, uint32(len(data)), 0, flags)
	require.Equal(t, Success, st, "create %s", name)
	if len(data) > 0 {
		require.Equal(t, Success, e.WriteFile(fh, data, compression), "write %s", name)
	}
	require.Equal(t, Success, e.FinishFile(fh), "finish %s", name)
}

func readFile(t *testing.T, e *Engine, h Handle, name string) ([]byte, Status) {
	t.Helper()
	fh, st := e.OpenFile(h, []byte(name))
	if st != Success {
		return nil, st
	}
	defer e.CloseFile(fh)
	lo, hi, st := e.GetFileSize(fh)
	require.Equal(t, Success, st)
	require.Zero(t, hi)
	buf := make([]byte, lo)
	n, st := e.ReadFile(fh, buf)
	return buf[:n], st
}

func reopen(t *testing.T, e *Engine, path string, flags uint32) Handle {
	t.Helper()
	h, st := e.OpenArchive(path, flags)
	require.Equal(t, Success, st)
	t.Cleanup(func() { e.CloseArchive(h) })
	return h
}

// payload returns deterministic data; text compresses well, noise does not.
func payload(size int, text bool) []byte {
	if text {
		line := []byte("function InitCustomTriggers takes nothing returns nothing\r\n")
		return bytes.Repeat(line, size/len(line)+1)[:size]
	}
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return data
}

func TestCreateWriteRead(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile|CreateAttributes, 10)

	hello := []byte("Hello, MPQ!")
	addFile(t, e, h, "test.txt", hello, FileCompress, CompressionZlib)
	assert.Equal(t, Success, e.HasFile(h, []byte("test.txt")))
	assert.Equal(t, Success, e.CloseArchive(h))
	assert.Zero(t, e.Handles())

	h = reopen(t, e, path, 0)
	got, st := readFile(t, e, h, "test.txt")
	require.Equal(t, Success, st)
	assert.Equal(t, hello, got)
	assert.Equal(t, Success, e.HasFile(h, []byte("TEST.TXT")))
	assert.Equal(t, ErrFileNotFound, e.HasFile(h, []byte("missing.txt")))
	assert.Equal(t, Success, e.HasFile(h, []byte("(listfile)")))
	assert.Equal(t, Success, e.HasFile(h, []byte("(attributes)")))
}

func TestHeaderSizes(t *testing.T) {
	tests := []struct {
		name       string
		flags      uint32
		headerSize uint32
		version    uint16
	}{
		{"v1", CreateArchiveV1, headerSizeV1, formatVersion1},
		{"v2", CreateArchiveV2, headerSizeV2, formatVersion2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			h, path := createArchive(t, e, tt.flags, 4)
			addFile(t, e, h, "a.txt", []byte("a"), 0, 0)
			require.Equal(t, Success, e.CloseArchive(h))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, uint32(mpqMagic), binary.LittleEndian.Uint32(raw[0:4]))
			assert.Equal(t, tt.headerSize, binary.LittleEndian.Uint32(raw[4:8]))
			assert.Equal(t, uint32(len(raw)), binary.LittleEndian.Uint32(raw[8:12]))
			assert.Equal(t, tt.version, binary.LittleEndian.Uint16(raw[12:14]))
		})
	}
}

func TestCreateArchiveRejects(t *testing.T) {
	e := New()
	dir := t.TempDir()

	_, st := e.CreateArchive(filepath.Join(dir, "v3.mpq"), CreateArchiveV3, 4)
	assert.Equal(t, ErrNotSupported, st)
	_, st = e.CreateArchive(filepath.Join(dir, "sig.mpq"), CreateSignature, 4)
	assert.Equal(t, ErrNotSupported, st)

	for _, maxFiles := range []uint32{maxHashTableSize, math.MaxUint32 - 1, math.MaxUint32} {
		huge := filepath.Join(dir, "huge.mpq")
		_, st = e.CreateArchive(huge, CreateArchiveV2|CreateListfile|CreateAttributes, maxFiles)
		assert.Equal(t, ErrInvalidParameter, st, "max files %d", maxFiles)
		assert.NoFileExists(t, huge)
	}

	existing := filepath.Join(dir, "existing.mpq")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))
	_, st = e.CreateArchive(existing, CreateArchiveV2, 4)
	assert.Equal(t, ErrAlreadyExists, st)

	h, st := e.CreateArchive(filepath.Join(dir, "nested", "dir", "new.mpq"), CreateArchiveV1, 0)
	require.Equal(t, Success, st)
	assert.Equal(t, Success, e.CloseArchive(h))
}

func TestOpenArchiveRejects(t *testing.T) {
	e := New()
	dir := t.TempDir()

	_, st := e.OpenArchive(filepath.Join(dir, "missing.mpq"), 0)
	assert.Equal(t, ErrFileNotFound, st)

	junk := filepath.Join(dir, "junk.bin")
	require.NoError(t, os.WriteFile(junk, payload(4096, false), 0o644))
	_, st = e.OpenArchive(junk, StreamFlagReadOnly)
	assert.Equal(t, ErrBadFormat, st)

	h, path := createArchive(t, e, CreateArchiveV2, 4)
	require.Equal(t, Success, e.CloseArchive(h))
	_, st = e.OpenArchive(path, StreamProviderPartial)
	assert.Equal(t, ErrNotSupported, st)
	_, st = e.OpenArchive(path, BaseProviderHTTP)
	assert.Equal(t, ErrNotSupported, st)
}

func TestStorageLayouts(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		text        bool
		flags       uint32
		compression uint32
	}{
		{"empty", 0, true, FileCompress, CompressionZlib},
		{"single unit zlib", 9000, true, FileCompress | FileSingleUnit, CompressionZlib},
		{"single unit stored", 9000, false, FileSingleUnit, 0},
		{"sectored zlib", 50000, true, FileCompress, CompressionZlib},
		{"sectored bzip2", 50000, true, FileCompress, CompressionBzip2},
		{"sectored incompressible", 20000, false, FileCompress, CompressionZlib},
		{"sectored stored", 20000, false, 0, 0},
		{"sector crc", 30000, true, FileCompress | FileSectorCRC, CompressionZlib},
		{"encrypted sectored", 30000, true, FileCompress | FileEncrypted, CompressionZlib},
		{"encrypted stored", 10001, false, FileEncrypted, 0},
		{"encrypted single unit", 5000, true, FileCompress | FileSingleUnit | FileEncrypted, CompressionZlib},
		{"fix key", 30000, true, FileCompress | FileEncrypted | FileFixKey | FileSectorCRC, CompressionZlib},
		{"sector boundary", 8192, true, FileCompress, CompressionZlib},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			h, path := createArchive(t, e, CreateArchiveV2|CreateListfile|CreateAttributes, 8)
			data := payload(tt.size, tt.text)
			name := "Data\\" + tt.name + ".bin"
			addFile(t, e, h, name, data, tt.flags, tt.compression)
			require.Equal(t, Success, e.CloseArchive(h))

			h = reopen(t, e, path, OpenCheckSectorCRC)
			got, st := readFile(t, e, h, name)
			require.Equal(t, Success, st)
			assert.Equal(t, data, got)
		})
	}
}

func TestReadPositions(t *testing.T) {
	e := New()
	h, _ := createArchive(t, e, CreateArchiveV2, 4)
	data := payload(10000, true)
	addFile(t, e, h, "chunks.bin", data, FileCompress, CompressionZlib)

	fh, st := e.OpenFile(h, []byte("chunks.bin"))
	require.Equal(t, Success, st)

	var out []byte
	buf := make([]byte, 3000)
	for {
		n, st := e.ReadFile(fh, buf)
		out = append(out, buf[:n]...)
		if st == ErrHandleEOF {
			break
		}
		require.Equal(t, Success, st)
	}
	assert.Equal(t, data, out)

	n, st := e.ReadFile(fh, buf)
	assert.Equal(t, ErrHandleEOF, st)
	assert.Zero(t, n)

	require.Equal(t, Success, e.SetFilePointer(fh, 4090))
	n, st = e.ReadFile(fh, buf[:12])
	require.Equal(t, Success, st)
	assert.Equal(t, data[4090:4102], buf[:n])
	assert.Equal(t, ErrInvalidParameter, e.SetFilePointer(fh, -1))

	require.Equal(t, Success, e.CloseFile(fh))
	require.Equal(t, Success, e.CloseArchive(h))
}

func TestSectorChecksumMismatch(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2, 4)
	data := payload(10000, true)
	addFile(t, e, h, "crc.bin", data, FileCompress|FileSectorCRC, CompressionZlib)
	require.Equal(t, Success, e.CloseArchive(h))

	// Three sectors plus the end and checksum offsets
	const tableLen = 5 * 4
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[headerSizeV2+tableLen+5] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	h = reopen(t, e, path, OpenCheckSectorCRC)
	_, st := readFile(t, e, h, "crc.bin")
	assert.Equal(t, ErrChecksum, st)
}

func TestCreateFileErrors(t *testing.T) {
	e := New()
	h, _ := createArchive(t, e, CreateArchiveV2, 4)
	addFile(t, e, h, "dup.txt", []byte("first"), 0, 0)

	_, st := e.CreateFile(h, []byte("dup.txt"), 0, 1, 0, 0)
	assert.Equal(t, ErrAlreadyExists, st)
	_, st = e.CreateFile(h, nil, 0, 1, 0, 0)
	assert.Equal(t, ErrInvalidParameter, st)
	_, st = e.CreateFile(h, []byte("imploded"), 0, 1, 0, FileImplode)
	assert.Equal(t, ErrNotSupported, st)
	_, st = e.CreateFile(h, []byte("fixkey"), 0, 1, 0, FileFixKey)
	assert.Equal(t, ErrInvalidParameter, st)

	addFile(t, e, h, "dup.txt", []byte("second"), FileReplaceExisting, 0)
	got, st := readFile(t, e, h, "dup.txt")
	require.Equal(t, Success, st)
	assert.Equal(t, []byte("second"), got)

	fh, st := e.CreateFile(h, []byte("short.txt"), 0, 10, 0, FileCompress)
	require.Equal(t, Success, st)
	assert.Equal(t, ErrNotSupported, e.WriteFile(fh, []byte("abc"), CompressionPKWare))
	assert.Equal(t, ErrInvalidParameter, e.WriteFile(fh, []byte("abc"), CompressionADPCMMono|CompressionADPCMStereo))
	assert.Equal(t, ErrInvalidParameter, e.WriteFile(fh, []byte("abc"), 0x04))
	assert.Equal(t, ErrInvalidParameter, e.WriteFile(fh, payload(11, true), CompressionZlib))
	require.Equal(t, Success, e.WriteFile(fh, []byte("abc"), CompressionZlib))
	assert.Equal(t, ErrCanNotComplete, e.FinishFile(fh))
	assert.Equal(t, ErrFileNotFound, e.HasFile(h, []byte("short.txt")))
	assert.Equal(t, ErrInvalidHandle, e.FinishFile(fh))

	fh, st = e.CreateFile(h, []byte("abandoned.txt"), 0, 3, 0, 0)
	require.Equal(t, Success, st)
	require.Equal(t, Success, e.CloseFile(fh))
	assert.Equal(t, ErrFileNotFound, e.HasFile(h, []byte("abandoned.txt")))

	require.Equal(t, Success, e.CloseArchive(h))
}

func TestTableFull(t *testing.T) {
	e := New()
	h, _ := createArchive(t, e, CreateArchiveV2, 1)
	for i := 0; i < minHashTableSize; i++ {
		addFile(t, e, h, fmt.Sprintf("file%02d.txt", i), []byte{byte(i)}, 0, 0)
	}
	_, st := e.CreateFile(h, []byte("overflow.txt"), 0, 1, 0, 0)
	assert.Equal(t, ErrDiskFull, st)
	require.Equal(t, Success, e.CloseArchive(h))
}

func TestRemoveFile(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile, 8)
	addFile(t, e, h, "keep.txt", []byte("keep"), 0, 0)
	addFile(t, e, h, "drop.txt", []byte("drop"), 0, 0)

	require.Equal(t, Success, e.RemoveFile(h, []byte("drop.txt")))
	assert.Equal(t, ErrFileNotFound, e.RemoveFile(h, []byte("drop.txt")))
	assert.Equal(t, ErrFileNotFound, e.HasFile(h, []byte("drop.txt")))

	// The freed slot is reused
	addFile(t, e, h, "new.txt", []byte("new"), 0, 0)
	require.Equal(t, Success, e.CloseArchive(h))

	h = reopen(t, e, path, 0)
	assert.Equal(t, Success, e.HasFile(h, []byte("keep.txt")))
	assert.Equal(t, Success, e.HasFile(h, []byte("new.txt")))
	assert.Equal(t, ErrFileNotFound, e.HasFile(h, []byte("drop.txt")))

	listfile, st := readFile(t, e, h, "(listfile)")
	require.Equal(t, Success, st)
	assert.Equal(t, "keep.txt\r\nnew.txt\r\n", string(listfile))
}

func TestCompact(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile|CreateAttributes, 8)
	keep := payload(6000, true)
	secret := payload(12000, true)
	addFile(t, e, h, "keep.txt", keep, FileCompress, CompressionZlib)
	addFile(t, e, h, "big.bin", payload(40000, false), 0, 0)
	addFile(t, e, h, "Scripts\\secret.j", secret, FileCompress|FileEncrypted|FileFixKey, CompressionZlib)
	require.Equal(t, Success, e.RemoveFile(h, []byte("big.bin")))
	require.Equal(t, Success, e.FlushArchive(h))

	before, err := os.Stat(path)
	require.NoError(t, err)

	var phases []CompactWork
	require.Equal(t, Success, e.SetCompactCallback(h, func(work CompactWork, processed, total uint64) bool {
		if len(phases) == 0 || phases[len(phases)-1] != work {
			phases = append(phases, work)
		}
		return true
	}))
	require.Equal(t, Success, e.CompactArchive(h))
	assert.Equal(t, []CompactWork{CompactCheckingFiles, CompactCheckingHashTable, CompactCompactingFiles, CompactClosingArchive}, phases)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size()-30000)

	got, st := readFile(t, e, h, "keep.txt")
	require.Equal(t, Success, st)
	assert.Equal(t, keep, got)
	got, st = readFile(t, e, h, "Scripts\\secret.j")
	require.Equal(t, Success, st)
	assert.Equal(t, secret, got)
	require.Equal(t, Success, e.CloseArchive(h))

	h = reopen(t, e, path, OpenCheckSectorCRC)
	got, st = readFile(t, e, h, "Scripts\\secret.j")
	require.Equal(t, Success, st)
	assert.Equal(t, secret, got)
	assert.Equal(t, ErrFileNotFound, e.HasFile(h, []byte("big.bin")))
}

func TestCompactCancelled(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile, 8)
	addFile(t, e, h, "a.txt", payload(5000, true), FileCompress, CompressionZlib)
	addFile(t, e, h, "b.txt", payload(5000, false), 0, 0)
	require.Equal(t, Success, e.RemoveFile(h, []byte("a.txt")))
	require.Equal(t, Success, e.FlushArchive(h))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, Success, e.SetCompactCallback(h, func(work CompactWork, _, _ uint64) bool {
		return work != CompactCompactingFiles
	}))
	assert.Equal(t, ErrCancelled, e.CompactArchive(h))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")

	got, st := readFile(t, e, h, "b.txt")
	require.Equal(t, Success, st)
	assert.Equal(t, payload(5000, false), got)
	require.Equal(t, Success, e.CloseArchive(h))
}

func TestCompactBusy(t *testing.T) {
	e := New()
	h, _ := createArchive(t, e, CreateArchiveV2, 4)
	addFile(t, e, h, "a.txt", []byte("a"), 0, 0)
	fh, st := e.OpenFile(h, []byte("a.txt"))
	require.Equal(t, Success, st)
	assert.Equal(t, ErrBusy, e.CompactArchive(h))
	require.Equal(t, Success, e.CloseFile(fh))
	assert.Equal(t, Success, e.CompactArchive(h))
	require.Equal(t, Success, e.CloseArchive(h))
}

func TestFind(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile, 8)
	addFile(t, e, h, "Units\\Human\\Footman.mdx", []byte("footman"), 0, 0)
	addFile(t, e, h, "Units\\Orc\\Grunt.mdx", []byte("grunt"), 0, 0)
	addFile(t, e, h, "war3map.j", []byte("script"), 0, 0)
	require.Equal(t, Success, e.CloseArchive(h))
	h = reopen(t, e, path, 0)

	find := func(mask string) []FindData {
		data, fh, st := e.FindFirstFile(h, []byte(mask))
		if st == ErrNoMoreFiles {
			assert.Zero(t, fh)
			return nil
		}
		require.Equal(t, Success, st)
		found := []FindData{data}
		for {
			data, st := e.FindNextFile(fh)
			if st == ErrNoMoreFiles {
				break
			}
			require.Equal(t, Success, st)
			found = append(found, data)
		}
		require.Equal(t, Success, e.FindClose(fh))
		return found
	}
	names := func(entries []FindData) []string {
		var out []string
		for _, d := range entries {
			out = append(out, d.FileName)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"Units\\Human\\Footman.mdx", "Units\\Orc\\Grunt.mdx"}, names(find("*.mdx")))
	assert.ElementsMatch(t, []string{"Units\\Human\\Footman.mdx", "Units\\Orc\\Grunt.mdx"}, names(find("units/*")))
	assert.ElementsMatch(t, []string{"war3map.j", "Units\\Human\\Footman.mdx", "Units\\Orc\\Grunt.mdx", "(listfile)"}, names(find("*")))
	assert.ElementsMatch(t, names(find("*")), names(find("")))
	assert.Empty(t, find("nothing*"))

	footman := find("*footman*")
	require.Len(t, footman, 1)
	assert.Equal(t, "Footman.mdx", footman[0].PlainName)
	assert.Equal(t, uint32(len("footman")), footman[0].FileSize)
	assert.NotZero(t, footman[0].FileFlags&FileExists)
}

func TestFindUnnamed(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2, 4)
	addFile(t, e, h, "hidden.txt", []byte("hidden"), 0, 0)
	require.Equal(t, Success, e.CloseArchive(h))

	h = reopen(t, e, path, 0)
	data, fh, st := e.FindFirstFile(h, []byte("*"))
	require.Equal(t, Success, st)
	assert.Equal(t, fmt.Sprintf("File%08d.xxx", data.BlockIndex), data.FileName)
	require.Equal(t, Success, e.FindClose(fh))

	got, st := readFile(t, e, h, data.FileName)
	require.Equal(t, Success, st)
	assert.Equal(t, []byte("hidden"), got)
}

func TestLookupRecordsName(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2, 4)
	addFile(t, e, h, "named.txt", []byte("named"), 0, 0)
	addFile(t, e, h, "opened.txt", []byte("opened"), 0, 0)
	require.Equal(t, Success, e.CloseArchive(h))

	h = reopen(t, e, path, StreamFlagReadOnly)
	_, _, st := e.FindFirstFile(h, []byte("named.txt"))
	require.Equal(t, ErrNoMoreFiles, st)

	require.Equal(t, Success, e.HasFile(h, []byte("NAMED.TXT")))
	data, fh, st := e.FindFirstFile(h, []byte("named.txt"))
	require.Equal(t, Success, st)
	require.Equal(t, Success, e.FindClose(fh))
	assert.Equal(t, "NAMED.TXT", data.FileName)

	got, st := readFile(t, e, h, "opened.txt")
	require.Equal(t, Success, st)
	assert.Equal(t, []byte("opened"), got)
	data, fh, st = e.FindFirstFile(h, []byte("opened.txt"))
	require.Equal(t, Success, st)
	require.Equal(t, Success, e.FindClose(fh))
	assert.Equal(t, "opened.txt", data.FileName)

	// Pseudo names resolve but are not recorded.
	pseudo := fmt.Sprintf("File%08d.xxx", data.BlockIndex)
	require.Equal(t, Success, e.HasFile(h, []byte(pseudo)))
	a, st := e.archive(h)
	require.Equal(t, Success, st)
	assert.Equal(t, "opened.txt", a.names[data.BlockIndex])
}

func TestAttributesRoundTrip(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile|CreateAttributes, 4)
	mtime := uint64(0x01D9_1234_5678_9ABC)
	fh, st := e.CreateFile(h, []byte("timed.txt"), mtime, 5, 0, 0)
	require.Equal(t, Success, st)
	require.Equal(t, Success, e.WriteFile(fh, []byte("timed"), 0))
	require.Equal(t, Success, e.FinishFile(fh))
	require.Equal(t, Success, e.CloseArchive(h))

	h = reopen(t, e, path, 0)
	data, fh, st := e.FindFirstFile(h, []byte("timed.txt"))
	require.Equal(t, Success, st)
	require.Equal(t, Success, e.FindClose(fh))
	assert.Equal(t, uint32(mtime), data.FileTimeLo)
	assert.Equal(t, uint32(mtime>>32), data.FileTimeHi)

	a, st := e.archive(h)
	require.Equal(t, Success, st)
	assert.Equal(t, checksum([]byte("timed")), a.crcs[data.BlockIndex])
}

// buildWar3Map writes a map the way the World Editor does: a 512-byte HM3W
// header followed by the archive.
func buildWar3Map(t *testing.T, e *Engine, script []byte) string {
	t.Helper()
	h, path := createArchive(t, e, CreateArchiveV1|CreateListfile|CreateAttributes, 16)
	addFile(t, e, h, "war3map.j", script, FileCompress, CompressionZlib)
	require.Equal(t, Success, e.CloseArchive(h))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	prefix := make([]byte, 512)
	copy(prefix, "HM3W")
	copy(prefix[8:], "Just another Warcraft III map\x00")
	mapPath := filepath.Join(filepath.Dir(path), "test_tft.w3x")
	require.NoError(t, os.WriteFile(mapPath, append(prefix, body...), 0o644))
	return mapPath
}

func TestWar3MapPrefix(t *testing.T) {
	e := New()
	script := payload(14115, true)
	mapPath := buildWar3Map(t, e, script)

	h, st := e.OpenArchive(mapPath, 0)
	require.Equal(t, Success, st)
	got, st := readFile(t, e, h, "war3map.j")
	require.Equal(t, Success, st)
	assert.Len(t, got, 14115)
	assert.Equal(t, script, got)

	addFile(t, e, h, "war3map.wts", []byte("STRING 1\r\n{\r\nHello\r\n}\r\n"), FileCompress, CompressionZlib)
	require.Equal(t, Success, e.RemoveFile(h, []byte("war3map.wts")))
	require.Equal(t, Success, e.CompactArchive(h))
	require.Equal(t, Success, e.CloseArchive(h))

	raw, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("HM3W"), raw[:4])
	assert.Equal(t, uint32(mpqMagic), binary.LittleEndian.Uint32(raw[512:516]))

	_, st = e.OpenArchive(mapPath, OpenNoHeaderSearch|StreamFlagReadOnly)
	assert.Equal(t, ErrBadFormat, st)

	h = reopen(t, e, mapPath, StreamFlagReadOnly)
	got, st = readFile(t, e, h, "war3map.j")
	require.Equal(t, Success, st)
	assert.Equal(t, script, got)
}

func TestUserDataHeader(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2, 4)
	addFile(t, e, h, "replay.dat", []byte("replay"), 0, 0)
	require.Equal(t, Success, e.CloseArchive(h))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	prefix := make([]byte, 1024)
	binary.LittleEndian.PutUint32(prefix[0:], userDataMagic)
	binary.LittleEndian.PutUint32(prefix[4:], 512)
	binary.LittleEndian.PutUint32(prefix[8:], 1024)
	binary.LittleEndian.PutUint32(prefix[12:], 16)
	replay := filepath.Join(filepath.Dir(path), "replay.w3g")
	require.NoError(t, os.WriteFile(replay, append(prefix, body...), 0o644))

	h = reopen(t, e, replay, StreamFlagReadOnly)
	got, st := readFile(t, e, h, "replay.dat")
	require.Equal(t, Success, st)
	assert.Equal(t, []byte("replay"), got)
}

func TestForceV1(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile, 4)
	addFile(t, e, h, "a.txt", []byte("alpha"), FileCompress, CompressionZlib)
	require.Equal(t, Success, e.CloseArchive(h))

	h = reopen(t, e, path, OpenForceMPQV1|StreamFlagReadOnly)
	got, st := readFile(t, e, h, "a.txt")
	require.Equal(t, Success, st)
	assert.Equal(t, []byte("alpha"), got)
}

func TestReadOnlyAndMapped(t *testing.T) {
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2|CreateListfile, 4)
	data := payload(20000, true)
	addFile(t, e, h, "mapped.bin", data, FileCompress, CompressionZlib)
	require.Equal(t, Success, e.CloseArchive(h))

	for _, flags := range []uint32{StreamFlagReadOnly, BaseProviderMap} {
		h := reopen(t, e, path, flags)
		got, st := readFile(t, e, h, "mapped.bin")
		require.Equal(t, Success, st)
		assert.Equal(t, data, got)

		_, st = e.CreateFile(h, []byte("new.txt"), 0, 1, 0, 0)
		assert.Equal(t, ErrAccessDenied, st)
		assert.Equal(t, ErrAccessDenied, e.RemoveFile(h, []byte("mapped.bin")))
		assert.Equal(t, ErrAccessDenied, e.FlushArchive(h))
		assert.Equal(t, ErrAccessDenied, e.CompactArchive(h))
	}
}

func TestSharingViolation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("advisory locks are not taken on this platform")
	}
	e := New()
	h, path := createArchive(t, e, CreateArchiveV2, 4)
	_, st := e.OpenArchive(path, 0)
	assert.Equal(t, ErrSharingViolation, st)

	ro, st := e.OpenArchive(path, StreamFlagReadOnly)
	require.Equal(t, Success, st)
	shared, st := e.OpenArchive(path, StreamFlagWriteShare)
	require.Equal(t, Success, st)

	assert.Equal(t, Success, e.CloseArchive(shared))
	assert.Equal(t, Success, e.CloseArchive(ro))
	assert.Equal(t, Success, e.CloseArchive(h))

	h = reopen(t, e, path, 0)
	assert.NotZero(t, h)
}

func TestHandleLifetime(t *testing.T) {
	e := New()
	h, _ := createArchive(t, e, CreateArchiveV2, 4)
	addFile(t, e, h, "a.txt", []byte("a"), 0, 0)

	fh, st := e.OpenFile(h, []byte("a.txt"))
	require.Equal(t, Success, st)
	_, find, st := e.FindFirstFile(h, []byte("*"))
	require.Equal(t, Success, st)
	pending, st := e.CreateFile(h, []byte("b.txt"), 0, 1, 0, 0)
	require.Equal(t, Success, st)
	assert.Equal(t, 4, e.Handles())

	require.Equal(t, Success, e.CloseArchive(h))
	assert.Zero(t, e.Handles())

	assert.Equal(t, ErrInvalidHandle, e.CloseArchive(h))
	assert.Equal(t, ErrInvalidHandle, e.CloseFile(fh))
	assert.Equal(t, ErrInvalidHandle, e.WriteFile(pending, []byte("b"), 0))
	assert.Equal(t, ErrInvalidHandle, e.FindClose(find))
	_, st = e.FindNextFile(find)
	assert.Equal(t, ErrInvalidHandle, st)
	_, _, st = e.GetFileSize(fh)
	assert.Equal(t, ErrInvalidHandle, st)
	_, st = e.ReadFile(fh, make([]byte, 1))
	assert.Equal(t, ErrInvalidHandle, st)
	assert.Equal(t, ErrInvalidHandle, e.HasFile(h, []byte("a.txt")))

	// A file handle is not an archive handle and vice versa
	h2, _ := createArchive(t, e, CreateArchiveV2, 4)
	assert.Equal(t, ErrInvalidHandle, e.CloseFile(h2))
	assert.Equal(t, Success, e.CloseArchive(h2))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "file not found", ErrFileNotFound.String())
	assert.Equal(t, "status 4242", Status(4242).String())
	assert.Equal(t, ErrFileNotFound, statusFromOS(os.ErrNotExist))
	assert.Equal(t, Success, statusFromOS(nil))
}
