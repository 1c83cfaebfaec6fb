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
	"strconv"
	"strings"
	"sync"
)

const (
	listfileName   = "(listfile)"
	attributesName = "(attributes)"
	signatureName  = "(signature)"
)

// archive is the engine-side state behind an archive handle.
type archive struct {
	mu sync.Mutex

	path     string
	store    *storage
	readOnly bool
	flags    uint32
	offset   int64 // archive start within the host file

	header     archiveHeader
	hashTable  []hashEntry
	blockTable []blockEntry

	// Per-block metadata: names from the listfile or from creation,
	// CRC32 and FILETIME from (attributes).
	names     map[uint32]string
	crcs      map[uint32]uint32
	fileTimes map[uint32]uint64

	writeListfile   bool
	writeAttributes bool

	dataEnd   uint64 // next free data position, relative to offset
	dirty     bool
	openFiles int
	compactCB CompactCallback
	closed    bool

	children map[Handle]struct{}
}

func newArchive(path string) *archive {
	return &archive{
		path:      path,
		names:     make(map[uint32]string),
		crcs:      make(map[uint32]uint32),
		fileTimes: make(map[uint32]uint64),
		children:  make(map[Handle]struct{}),
	}
}

func (a *archive) sectorSize() uint32 {
	return a.header.sectorSize()
}

func (a *archive) readAt(p []byte, pos uint64) (int, error) {
	return a.store.ReadAt(p, a.offset+int64(pos))
}

func (a *archive) writeAt(p []byte, pos uint64) error {
	_, err := a.store.WriteAt(p, a.offset+int64(pos))
	return err
}

// OpenArchive opens an existing archive at path.
func (e *Engine) OpenArchive(path string, flags uint32) (Handle, Status) {
	if flags&StreamProviderMask != StreamProviderFlat {
		return 0, ErrNotSupported
	}
	base := flags & BaseProviderMask
	if base != BaseProviderFile && base != BaseProviderMap {
		return 0, ErrNotSupported
	}
	readOnly := flags&StreamFlagReadOnly != 0 || base == BaseProviderMap

	store, err := openStorage(path, readOnly, base == BaseProviderMap, flags&StreamFlagWriteShare != 0)
	if err != nil {
		e.log.Debug("open archive storage", slog.String("path", path), slog.Any("error", err))
		return 0, storageStatus(err)
	}

	a := newArchive(path)
	a.store = store
	a.readOnly = readOnly
	a.flags = flags
	if st, err := a.load(); st != Success {
		e.log.Debug("load archive", slog.String("path", path), slog.Any("error", err))
		store.Close()
		return 0, st
	}

	h := e.register(a)
	e.log.Debug("archive opened", slog.String("path", path), slog.Uint64("handle", uint64(h)))
	return h, Success
}

// CreateArchive creates a new, empty archive at path. The file must not
// already exist.
func (e *Engine) CreateArchive(path string, flags, maxFileCount uint32) (Handle, Status) {
	var formatVer uint16
	var headerSize uint32
	switch flags & createVersion {
	case CreateArchiveV1:
		formatVer, headerSize = formatVersion1, headerSizeV1
	case CreateArchiveV2:
		formatVer, headerSize = formatVersion2, headerSizeV2
	case CreateArchiveV3, CreateArchiveV4:
		return 0, ErrNotSupported
	default:
		return 0, ErrInvalidParameter
	}
	if flags&CreateSignature != 0 {
		return 0, ErrNotSupported
	}

	// Room for the internal files on top of what the caller asked for
	reserved := uint32(0)
	if flags&CreateListfile != 0 {
		reserved++
	}
	if flags&CreateAttributes != 0 {
		reserved++
	}
	wanted := (uint64(maxFileCount) + uint64(reserved)) * 3 / 2
	if wanted > maxHashTableSize {
		return 0, ErrInvalidParameter
	}
	hashTableSize := nextPowerOf2(uint32(wanted))
	if hashTableSize < minHashTableSize {
		hashTableSize = minHashTableSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, statusFromOS(err)
	}
	store, err := createStorage(path)
	if err != nil {
		e.log.Debug("create archive storage", slog.String("path", path), slog.Any("error", err))
		return 0, storageStatus(err)
	}

	a := newArchive(path)
	a.store = store
	a.header = archiveHeader{
		baseHeader: baseHeader{
			Magic:           mpqMagic,
			HeaderSize:      headerSize,
			FormatVersion:   formatVer,
			SectorSizeShift: defaultSectorSizeShift,
			HashTableSize:   hashTableSize,
		},
	}
	a.hashTable = make([]hashEntry, hashTableSize)
	for i := range a.hashTable {
		a.hashTable[i] = emptyHashEntry()
	}
	a.dataEnd = uint64(headerSize)
	a.writeListfile = flags&CreateListfile != 0
	a.writeAttributes = flags&CreateAttributes != 0
	a.dirty = true

	if st, err := a.flush(); st != Success {
		e.log.Debug("write new archive", slog.String("path", path), slog.Any("error", err))
		store.Close()
		os.Remove(path)
		return 0, st
	}

	h := e.register(a)
	e.log.Debug("archive created", slog.String("path", path), slog.Uint64("handle", uint64(h)))
	return h, Success
}

// CloseArchive flushes pending changes and releases the archive along with
// every file and find handle still open on it. The handle is released even
// when the flush fails.
func (e *Engine) CloseArchive(h Handle) Status {
	a, st := e.archive(h)
	if st != Success {
		return st
	}
	e.release(h)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrInvalidHandle
	}
	a.closed = true

	for child := range a.children {
		e.release(child)
	}
	a.children = nil

	st = Success
	if !a.readOnly {
		var err error
		if st, err = a.flush(); st != Success {
			e.log.Warn("flush on close", slog.String("path", a.path), slog.Any("error", err))
		}
	}
	if err := a.store.Close(); err != nil && st == Success {
		st = statusFromOS(err)
	}
	e.log.Debug("archive closed", slog.String("path", a.path), slog.Uint64("handle", uint64(h)))
	return st
}

// FlushArchive writes the tables and internal files to disk.
func (e *Engine) FlushArchive(h Handle) Status {
	a, st := e.acquire(h)
	if st != Success {
		return st
	}
	defer a.mu.Unlock()
	if a.readOnly {
		return ErrAccessDenied
	}
	st, err := a.flush()
	if err != nil {
		e.log.Debug("flush archive", slog.String("path", a.path), slog.Any("error", err))
	}
	return st
}

// HasFile reports Success when name exists and ErrFileNotFound when it
// does not.
func (e *Engine) HasFile(h Handle, name []byte) Status {
	a, st := e.acquire(h)
	if st != Success {
		return st
	}
	defer a.mu.Unlock()
	hashIndex, blockIndex, ok := a.lookup(string(name))
	if !ok {
		return ErrFileNotFound
	}
	a.learn(string(name), hashIndex, blockIndex)
	return Success
}

// RemoveFile deletes name from the archive. Its data stays in place until
// the archive is compacted.
func (e *Engine) RemoveFile(h Handle, name []byte) Status {
	a, st := e.acquire(h)
	if st != Success {
		return st
	}
	defer a.mu.Unlock()
	if a.readOnly {
		return ErrAccessDenied
	}
	hashIndex, blockIndex, ok := a.lookup(string(name))
	if !ok {
		return ErrFileNotFound
	}
	switch a.names[blockIndex] {
	case listfileName:
		a.writeListfile = false
	case attributesName:
		a.writeAttributes = false
	}
	a.freeBlock(blockIndex)
	a.hashTable[hashIndex] = hashEntry{
		HashA:      0xFFFFFFFF,
		HashB:      0xFFFFFFFF,
		Locale:     0xFFFF,
		Platform:   0xFF,
		BlockIndex: hashTableDeleted,
	}
	a.dirty = true
	return Success
}

// SetCompactCallback registers cb for later CompactArchive calls. A nil cb
// removes the registration.
func (e *Engine) SetCompactCallback(h Handle, cb CompactCallback) Status {
	a, st := e.acquire(h)
	if st != Success {
		return st
	}
	defer a.mu.Unlock()
	a.compactCB = cb
	return Success
}

// load reads the header, the tables and, unless disabled by the open flags,
// the listfile and attributes.
func (a *archive) load() (Status, error) {
	size, err := a.store.Size()
	if err != nil {
		return statusFromOS(err), err
	}
	offset, st := locateHeader(a.store, size, a.flags&OpenNoHeaderSearch == 0)
	if st != Success {
		return st, fmt.Errorf("no MPQ header in %s", a.path)
	}
	a.offset = offset

	header, err := readHeader(a.store, offset, a.flags&OpenForceMPQV1 != 0)
	if err != nil {
		return ErrBadFormat, fmt.Errorf("read header: %w", err)
	}
	if header.FormatVersion > formatVersion2 {
		return ErrNotSupported, fmt.Errorf("unsupported MPQ format version: %d", header.FormatVersion)
	}
	a.header = *header

	avail := uint64(size - offset)
	if uint64(header.HashTableSize)*16 > avail || uint64(header.BlockTableSize)*16 > avail {
		return ErrFileCorrupt, fmt.Errorf("table sizes exceed archive size")
	}

	hashData := make([]byte, header.HashTableSize*16)
	if _, err := a.readAt(hashData, header.hashTableOffset()); err != nil {
		return ErrFileCorrupt, fmt.Errorf("read hash table: %w", err)
	}
	hashWords := bytesToWords(hashData)
	decryptBlock(hashWords, keyHashTable)
	a.hashTable = decodeHashTable(hashWords)

	blockData := make([]byte, header.BlockTableSize*16)
	if _, err := a.readAt(blockData, header.blockTableOffset()); err != nil {
		return ErrFileCorrupt, fmt.Errorf("read block table: %w", err)
	}
	blockWords := bytesToWords(blockData)
	decryptBlock(blockWords, keyBlockTable)

	var hi []uint16
	if header.FormatVersion >= formatVersion2 && header.HiBlockTableOffset64 != 0 {
		hiData := make([]byte, header.BlockTableSize*2)
		if _, err := a.readAt(hiData, header.HiBlockTableOffset64); err != nil {
			return ErrFileCorrupt, fmt.Errorf("read hi-block table: %w", err)
		}
		hi = make([]uint16, header.BlockTableSize)
		for i := range hi {
			hi[i] = uint16(hiData[i*2]) | uint16(hiData[i*2+1])<<8
		}
	}
	a.blockTable = decodeBlockTable(blockWords, hi)

	a.dataEnd = uint64(header.HeaderSize)
	for i := range a.blockTable {
		b := &a.blockTable[i]
		if b.exists() && b.Pos+uint64(b.CompressedSize) > a.dataEnd {
			a.dataEnd = b.Pos + uint64(b.CompressedSize)
		}
	}

	if a.flags&OpenNoListfile == 0 {
		if _, _, ok := a.lookup(listfileName); ok {
			a.writeListfile = true
			a.loadListfile()
		}
	}
	if a.flags&OpenNoAttributes == 0 {
		if _, _, ok := a.lookup(attributesName); ok {
			a.writeAttributes = true
			a.loadAttributes()
		}
	}
	for _, name := range []string{listfileName, attributesName, signatureName} {
		if _, blockIndex, ok := a.lookup(name); ok {
			a.names[blockIndex] = name
		}
	}
	return Success, nil
}

// lookup finds the hash entry for name, preferring the neutral locale.
func (a *archive) lookup(name string) (hashIndex, blockIndex uint32, ok bool) {
	size := uint32(len(a.hashTable))
	if size == 0 {
		return 0, 0, false
	}
	hashA := hashString(name, hashTypeNameA)
	hashB := hashString(name, hashTypeNameB)
	start := hashString(name, hashTypeTableOffset) % size

	found := false
	for i := uint32(0); i < size; i++ {
		idx := (start + i) % size
		entry := &a.hashTable[idx]
		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted || entry.HashA != hashA || entry.HashB != hashB {
			continue
		}
		if entry.BlockIndex >= uint32(len(a.blockTable)) || !a.blockTable[entry.BlockIndex].exists() {
			continue
		}
		if !found || entry.Locale == localeNeutral {
			hashIndex, blockIndex, found = idx, entry.BlockIndex, true
		}
		if entry.Locale == localeNeutral {
			break
		}
	}
	if found {
		return hashIndex, blockIndex, true
	}
	return a.lookupPseudo(name)
}

// learn records name for an entry found by hash, so later finds report it
// under that name. Pseudo names are never recorded.
func (a *archive) learn(name string, hashIndex, blockIndex uint32) {
	if _, named := a.names[blockIndex]; named {
		return
	}
	entry := &a.hashTable[hashIndex]
	if entry.HashA != hashString(name, hashTypeNameA) || entry.HashB != hashString(name, hashTypeNameB) {
		return
	}
	a.names[blockIndex] = name
}

// lookupPseudo resolves the "File00000012.xxx" names given to entries
// without a listfile name.
func (a *archive) lookupPseudo(name string) (uint32, uint32, bool) {
	lower := strings.ToLower(name)
	if len(lower) != len("file00000000.xxx") || !strings.HasPrefix(lower, "file") || !strings.HasSuffix(lower, ".xxx") {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(lower[4:12], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	blockIndex := uint32(n)
	if blockIndex >= uint32(len(a.blockTable)) || !a.blockTable[blockIndex].exists() {
		return 0, 0, false
	}
	for i, entry := range a.hashTable {
		if entry.BlockIndex == blockIndex {
			return uint32(i), blockIndex, true
		}
	}
	return 0, 0, false
}

func (a *archive) freeBlock(blockIndex uint32) {
	a.blockTable[blockIndex] = blockEntry{}
	delete(a.names, blockIndex)
	delete(a.crcs, blockIndex)
	delete(a.fileTimes, blockIndex)
}

// readWhole decodes an entire entry; used for the internal files.
func (a *archive) readWhole(name string) ([]byte, Status, error) {
	hashIndex, blockIndex, ok := a.lookup(name)
	if !ok {
		return nil, ErrFileNotFound, fmt.Errorf("%s not found", name)
	}
	f := newFile(a, name, hashIndex, blockIndex)
	buf := make([]byte, f.block.FileSize)
	n, st, err := f.read(buf)
	if st != Success && st != ErrHandleEOF {
		return nil, st, err
	}
	return buf[:n], Success, nil
}

func (a *archive) loadListfile() {
	data, st, _ := a.readWhole(listfileName)
	if st != Success {
		return
	}
	for _, name := range splitListfile(data) {
		if _, blockIndex, ok := a.lookup(name); ok {
			if _, named := a.names[blockIndex]; !named {
				a.names[blockIndex] = name
			}
		}
	}
}

func storageStatus(err error) Status {
	if errors.Is(err, errLocked) {
		return ErrSharingViolation
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrFileCorrupt
	}
	return statusFromOS(err)
}
