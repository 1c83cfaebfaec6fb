// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

// Archive is an open MPQ archive. Files and searches opened from it are
// released when it closes, and report ErrArchiveClosed afterwards.
//
// Close should be deferred right after Create or Open. An Archive dropped
// without Close has its handle released by the garbage collector at some
// later point, which also writes pending changes, and a warning is logged.
//
// Methods of an Archive may be called from several goroutines.
type Archive struct {
	eng  engine
	cfg  *config
	log  *slog.Logger
	path string
	h    storm.Handle

	mu       sync.Mutex // serializes archive calls and guards children
	closed   atomic.Bool
	children map[child]struct{}
	cleanup  runtime.Cleanup
}

// leaked is what the cleanup of an unclosed Archive needs to release its
// handle. It must not point back at the Archive.
type leaked struct {
	eng engine
	h   storm.Handle
	log *slog.Logger
}

func releaseLeaked(l leaked) {
	l.log.Warn("archive was not closed", slog.Uint64("handle", uint64(l.h)))
	if st := l.eng.CloseArchive(l.h); st != storm.Success {
		l.log.Warn("archive handle release failed", slog.Any("error", ErrorCode(st)))
	}
}

// child is a File or Search whose engine handle the archive releases
// before its own.
type child interface {
	release() error
}

// CreateFileOptions describes a file written by Archive.CreateFile.
type CreateFileOptions struct {
	// Name is the path inside the archive, usually with '\' separators.
	Name string
	Data []byte
	// Flags select storage. FileCompress is needed for Compression to
	// apply.
	Flags       CreateFileFlags
	Compression CompressionFlags
	// MTime is stored in the (attributes) file. The zero time stores none.
	MTime  time.Time
	Locale uint16
}

// CompactWork identifies the phase reported to a CompactCallback.
type CompactWork uint32

const (
	CompactCheckingFiles     = CompactWork(storm.CompactCheckingFiles)
	CompactCheckingHashTable = CompactWork(storm.CompactCheckingHashTable)
	CompactCopyingNonMPQData = CompactWork(storm.CompactCopyingNonMPQData)
	CompactCompactingFiles   = CompactWork(storm.CompactCompactingFiles)
	CompactClosingArchive    = CompactWork(storm.CompactClosingArchive)
)

func (w CompactWork) String() string {
	switch w {
	case CompactCheckingFiles:
		return "checking files"
	case CompactCheckingHashTable:
		return "checking hash table"
	case CompactCopyingNonMPQData:
		return "copying non-MPQ data"
	case CompactCompactingFiles:
		return "compacting files"
	case CompactClosingArchive:
		return "closing archive"
	}
	return fmt.Sprintf("CompactWork(%d)", uint32(w))
}

// CompactCallback receives compaction progress. processed and total count
// bytes or entries depending on the phase. Returning false asks the engine
// to stop. The pure-Go engine then fails the compaction with ErrCancelled
// and leaves the archive untouched; StormLib ignores the result.
type CompactCallback func(work CompactWork, processed, total uint64) bool

// Create creates a new archive at path with room for maxFileCount entries.
// The path must not exist yet.
func Create(path string, flags CreateArchiveFlags, maxFileCount uint32, opts ...Option) (*Archive, error) {
	path, err := hostPath("create", path)
	if err != nil {
		return nil, err
	}
	cfg := newConfig(opts)
	eng, err := cfg.newEngine(cfg.logger)
	if err != nil {
		return nil, err
	}
	h, st := eng.CreateArchive(path, uint32(flags), maxFileCount)
	if err := check("create", path, st); err != nil {
		return nil, err
	}
	return newArchive(eng, cfg, path, h), nil
}

// Open opens an existing archive.
func Open(path string, flags OpenArchiveFlags, opts ...Option) (*Archive, error) {
	path, err := hostPath("open", path)
	if err != nil {
		return nil, err
	}
	cfg := newConfig(opts)
	eng, err := cfg.newEngine(cfg.logger)
	if err != nil {
		return nil, err
	}
	h, st := eng.OpenArchive(path, uint32(flags))
	if err := check("open", path, st); err != nil {
		return nil, err
	}
	return newArchive(eng, cfg, path, h), nil
}

func newArchive(eng engine, cfg *config, path string, h storm.Handle) *Archive {
	a := &Archive{
		eng:      eng,
		cfg:      cfg,
		log:      cfg.logger.With(slog.String("archive", path)),
		path:     path,
		h:        h,
		children: make(map[child]struct{}),
	}
	a.cleanup = runtime.AddCleanup(a, releaseLeaked, leaked{eng: eng, h: h, log: a.log})
	a.log.Debug("archive handle acquired", slog.Uint64("handle", uint64(h)))
	return a
}

// Path returns the path the archive was opened or created with.
func (a *Archive) Path() string {
	return a.path
}

// lock serializes an archive call. It fails once the archive is closed.
func (a *Archive) lock() error {
	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (a *Archive) adopt(c child) {
	a.children[c] = struct{}{}
}

func (a *Archive) forget(c child) {
	a.mu.Lock()
	delete(a.children, c)
	a.mu.Unlock()
}

// Close releases every open File and Search, then the archive itself.
// Pending changes are written first. Closing twice returns ErrClosed.
func (a *Archive) Close() error {
	if err := a.lock(); err != nil {
		return err
	}
	a.closed.Store(true)
	a.cleanup.Stop()
	children := slices.Collect(maps.Keys(a.children))
	clear(a.children)
	a.mu.Unlock()

	for _, c := range children {
		if err := c.release(); err != nil {
			a.log.Warn("release on archive close", slog.Any("error", err))
		}
	}
	err := check("close", a.path, a.eng.CloseArchive(a.h))
	if err != nil {
		a.log.Warn("archive handle release failed", slog.Any("error", err))
		return err
	}
	a.log.Debug("archive handle released", slog.Uint64("handle", uint64(a.h)))
	return nil
}

// Flush writes pending changes to disk. Close flushes as well.
func (a *Archive) Flush() error {
	if err := a.lock(); err != nil {
		return err
	}
	defer a.mu.Unlock()
	return check("flush", a.path, a.eng.FlushArchive(a.h))
}

// Compact rewrites the archive without the space left by removed and
// replaced files. It fails with ErrBusy while files are open. cb may be
// nil.
//
// The callback is unregistered again only when compaction succeeds.
func (a *Archive) Compact(cb CompactCallback) error {
	if err := a.lock(); err != nil {
		return err
	}
	defer a.mu.Unlock()

	if cb != nil {
		wrapped := func(work storm.CompactWork, processed, total uint64) bool {
			return cb(CompactWork(work), processed, total)
		}
		if err := check("set compact callback", a.path, a.eng.SetCompactCallback(a.h, wrapped)); err != nil {
			return err
		}
	}
	if err := check("compact", a.path, a.eng.CompactArchive(a.h)); err != nil {
		return err
	}
	if cb != nil {
		return check("set compact callback", a.path, a.eng.SetCompactCallback(a.h, nil))
	}
	return nil
}

// HasFile reports whether name exists in the archive. Only a missing file
// yields false with a nil error.
func (a *Archive) HasFile(name string) (bool, error) {
	raw, err := a.cfg.encodeName("has file", name)
	if err != nil {
		return false, err
	}
	if err := a.lock(); err != nil {
		return false, err
	}
	defer a.mu.Unlock()

	st := a.eng.HasFile(a.h, raw)
	if st == storm.ErrFileNotFound {
		return false, nil
	}
	if err := check("has file", name, st); err != nil {
		return false, err
	}
	return true, nil
}

// CreateFile adds a file in one step: the entry is allocated, the data is
// written with the requested compression, and the entry is committed.
// A failed call leaves no usable entry behind.
func (a *Archive) CreateFile(opts *CreateFileOptions) error {
	if opts == nil {
		return &EngineError{Op: "create file", Code: ErrInvalidParameter}
	}
	size, ok := fileSize(uint64(len(opts.Data)))
	if !ok {
		return &EngineError{Op: "create file", Path: opts.Name, Code: ErrInvalidParameter}
	}
	raw, err := a.cfg.encodeName("create file", opts.Name)
	if err != nil {
		return err
	}
	if err := a.lock(); err != nil {
		return err
	}
	defer a.mu.Unlock()

	fh, st := a.eng.CreateFile(a.h, raw, toFiletime(opts.MTime), size, uint32(opts.Locale), uint32(opts.Flags))
	if err := check("create file", opts.Name, st); err != nil {
		return err
	}
	if st := a.eng.WriteFile(fh, opts.Data, uint32(opts.Compression)); st != storm.Success {
		if cst := a.eng.CloseFile(fh); cst != storm.Success {
			a.log.Warn("discard unfinished file", slog.String("name", opts.Name), slog.Any("status", cst))
		}
		return check("write file", opts.Name, st)
	}
	return check("finish file", opts.Name, a.eng.FinishFile(fh))
}

// fileSize converts a data length to the 32-bit size stored in the block
// table.
func fileSize(n uint64) (uint32, bool) {
	if n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// OpenFile opens name for reading. The File must be closed before the
// archive can be compacted.
func (a *Archive) OpenFile(name string) (*File, error) {
	raw, err := a.cfg.encodeName("open file", name)
	if err != nil {
		return nil, err
	}
	if err := a.lock(); err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	fh, st := a.eng.OpenFile(a.h, raw)
	if err := check("open file", name, st); err != nil {
		return nil, err
	}
	f := &File{a: a, name: name, h: fh}
	a.adopt(f)
	a.log.Debug("file handle acquired", slog.String("name", name), slog.Uint64("handle", uint64(fh)))
	return f, nil
}

// RemoveFile deletes name from the archive. A missing file yields false
// with a nil error. The space is reclaimed by Compact.
func (a *Archive) RemoveFile(name string) (bool, error) {
	raw, err := a.cfg.encodeName("remove file", name)
	if err != nil {
		return false, err
	}
	if err := a.lock(); err != nil {
		return false, err
	}
	defer a.mu.Unlock()

	st := a.eng.RemoveFile(a.h, raw)
	if st == storm.ErrFileNotFound {
		return false, nil
	}
	if err := check("remove file", name, st); err != nil {
		return false, err
	}
	return true, nil
}

// Search returns a cursor over the entries matching filter, a pattern of
// '*' and '?' wildcards compared without regard to case. An empty filter
// matches every entry. Nothing is read until the first call to Next.
func (a *Archive) Search(filter string) (*Search, error) {
	if filter == "" {
		filter = "*"
	}
	raw, err := a.cfg.encodeName("search", filter)
	if err != nil {
		return nil, err
	}
	if err := a.lock(); err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	s := &Search{a: a, filter: filter, mask: raw}
	a.adopt(s)
	return s, nil
}

// Stat returns the directory entry of name. A missing file is reported as
// ErrFileNotFound. The name is resolved by hash first, so entries missing
// from the listfile are found as well.
func (a *Archive) Stat(name string) (DirectoryEntry, error) {
	found, err := a.HasFile(name)
	if err != nil {
		return DirectoryEntry{}, err
	}
	if !found {
		return DirectoryEntry{}, &EngineError{Op: "stat", Path: name, Code: ErrFileNotFound}
	}
	s, err := a.Search(name)
	if err != nil {
		return DirectoryEntry{}, err
	}
	defer s.Close()

	want := normalizeName(name)
	for s.Next() {
		if e := s.Entry(); normalizeName(e.Name) == want {
			return e, nil
		}
	}
	if err := s.Err(); err != nil {
		return DirectoryEntry{}, err
	}
	return DirectoryEntry{}, &EngineError{Op: "stat", Path: name, Code: ErrFileNotFound}
}

// ListFiles returns the names of all entries in the archive.
func (a *Archive) ListFiles() ([]string, error) {
	s, err := a.Search("*")
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var names []string
	for e, err := range s.All() {
		if err != nil {
			return nil, err
		}
		names = append(names, e.Name)
	}
	return names, nil
}

// AddFile adds a file from disk, zlib compressed. Forward slashes in
// name are stored as backslashes, and an existing entry is replaced.
func (a *Archive) AddFile(srcPath, name string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	return a.CreateFile(&CreateFileOptions{
		Name:        strings.ReplaceAll(name, "/", "\\"),
		Data:        data,
		Flags:       FileCompress | FileReplaceExisting,
		Compression: CompressionZlib,
		MTime:       info.ModTime(),
	})
}

// ExtractFile writes the content of name to destPath, creating parent
// directories as needed.
func (a *Archive) ExtractFile(name, destPath string) error {
	f, err := a.OpenFile(name)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := f.ReadAll()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// normalizeName folds a name the way the archive compares names: ASCII
// case is ignored and '/' equals '\'.
func normalizeName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c == '/':
			b[i] = '\\'
		case 'a' <= c && c <= 'z':
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
