// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

// DirectoryEntry describes one archive entry reported by a Search.
type DirectoryEntry struct {
	// Name is the full path inside the archive. Entries whose name is not
	// known are reported as File00000012.xxx, after their block index.
	Name           string
	PlainName      string
	HashIndex      uint32
	BlockIndex     uint32
	FileSize       uint32
	CompressedSize uint32
	Flags          CreateFileFlags
	// FileTime comes from the (attributes) file and is zero when absent.
	FileTime time.Time
	Locale   uint16
}

// Search is a cursor over the entries matching a filter. Once Next returns
// false the cursor stays exhausted; create a new Search to start over.
//
//	s, err := a.Search("*.mdx")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	for s.Next() {
//		fmt.Println(s.Entry().Name)
//	}
//	return s.Err()
type Search struct {
	a      *Archive
	filter string
	mask   []byte

	mu       sync.Mutex
	h        storm.Handle
	started  bool
	done     bool
	released bool
	closed   bool
	entry    DirectoryEntry
	err      error
}

// Next advances to the next entry and reports whether there is one.
func (s *Search) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		s.err = ErrClosed
		return false
	case s.a.closed.Load():
		s.err = ErrArchiveClosed
		return false
	case s.done:
		return false
	}

	var (
		fd storm.FindData
		st storm.Status
	)
	if !s.started {
		s.started = true
		var h storm.Handle
		fd, h, st = s.a.eng.FindFirstFile(s.a.h, s.mask)
		if st == storm.Success {
			s.h = h
			s.a.log.Debug("find handle acquired", slog.String("filter", s.filter), slog.Uint64("handle", uint64(h)))
		}
	} else {
		fd, st = s.a.eng.FindNextFile(s.h)
	}

	switch st {
	case storm.Success:
		s.entry = s.a.entry(fd)
		return true
	case storm.ErrNoMoreFiles, storm.ErrFileNotFound:
	default:
		s.err = check("search", s.filter, st)
	}
	s.done = true
	s.entry = DirectoryEntry{}
	return false
}

// Entry returns the entry Next advanced to.
func (s *Search) Entry() DirectoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// Err returns the error that stopped the search, if any.
func (s *Search) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// All returns an iterator over the remaining entries. An error ends the
// sequence as its last element.
func (s *Search) All() iter.Seq2[DirectoryEntry, error] {
	return func(yield func(DirectoryEntry, error) bool) {
		for s.Next() {
			if !yield(s.Entry(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(DirectoryEntry{}, err)
		}
	}
}

func (s *Search) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Search) releaseLocked() error {
	if s.released {
		return nil
	}
	s.released = true
	if s.h == 0 {
		return nil
	}
	if err := check("close search", s.filter, s.a.eng.FindClose(s.h)); err != nil {
		return err
	}
	s.a.log.Debug("find handle released", slog.String("filter", s.filter), slog.Uint64("handle", uint64(s.h)))
	return nil
}

// Close releases the search. It returns ErrClosed when called again.
func (s *Search) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	err := s.releaseLocked()
	s.mu.Unlock()

	s.a.forget(s)
	return err
}

func (a *Archive) entry(fd storm.FindData) DirectoryEntry {
	return DirectoryEntry{
		Name:           a.cfg.decodeName(fd.FileName),
		PlainName:      a.cfg.decodeName(fd.PlainName),
		HashIndex:      fd.HashIndex,
		BlockIndex:     fd.BlockIndex,
		FileSize:       fd.FileSize,
		CompressedSize: fd.CompSize,
		Flags:          CreateFileFlags(fd.FileFlags),
		FileTime:       fromFiletime(uint64(fd.FileTimeHi)<<32 | uint64(fd.FileTimeLo)),
		Locale:         uint16(fd.Locale),
	}
}

// Windows FILETIME counts 100ns intervals since 1601-01-01 UTC.
const filetimeUnixEpoch = 116444736000000000

func toFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ft := t.UnixNano()/100 + filetimeUnixEpoch
	if ft < 0 {
		return 0
	}
	return uint64(ft)
}

func fromFiletime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	return time.Unix(0, (int64(ft)-filetimeUnixEpoch)*100).UTC()
}
