// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import "fmt"

// finder holds the snapshot of matching entries behind a find handle.
type finder struct {
	a       *archive
	entries []FindData
	next    int
}

// FindFirstFile starts an enumeration of the entries whose names match
// mask. Entries without a known name are reported as File%08d.xxx. When
// nothing matches no handle is issued and ErrNoMoreFiles is returned.
func (e *Engine) FindFirstFile(h Handle, mask []byte) (FindData, Handle, Status) {
	a, st := e.acquire(h)
	if st != Success {
		return FindData{}, 0, st
	}
	defer a.mu.Unlock()

	pattern := string(mask)
	if pattern == "" {
		pattern = "*"
	}
	entries := a.collect(pattern)
	if len(entries) == 0 {
		return FindData{}, 0, ErrNoMoreFiles
	}
	fd := &finder{a: a, entries: entries, next: 1}
	fh := e.register(fd)
	a.children[fh] = struct{}{}
	return entries[0], fh, Success
}

// FindNextFile returns the next entry, or ErrNoMoreFiles once the
// enumeration is exhausted.
func (e *Engine) FindNextFile(fh Handle) (FindData, Status) {
	fd, st := e.find(fh)
	if st != Success {
		return FindData{}, st
	}
	fd.a.mu.Lock()
	defer fd.a.mu.Unlock()
	if fd.a.closed {
		return FindData{}, ErrInvalidHandle
	}
	if fd.next >= len(fd.entries) {
		return FindData{}, ErrNoMoreFiles
	}
	entry := fd.entries[fd.next]
	fd.next++
	return entry, Success
}

// FindClose releases a find handle.
func (e *Engine) FindClose(fh Handle) Status {
	fd, st := e.find(fh)
	if st != Success {
		return st
	}
	e.release(fh)
	fd.a.mu.Lock()
	if fd.a.children != nil {
		delete(fd.a.children, fh)
	}
	fd.a.mu.Unlock()
	return Success
}

// collect walks the hash table in order and returns one entry per live
// block whose name matches pattern.
func (a *archive) collect(pattern string) []FindData {
	var entries []FindData
	seen := make(map[uint32]bool)
	for i, entry := range a.hashTable {
		blockIndex := entry.BlockIndex
		if blockIndex >= uint32(len(a.blockTable)) || seen[blockIndex] {
			continue
		}
		b := &a.blockTable[blockIndex]
		if !b.exists() {
			continue
		}
		name, ok := a.names[blockIndex]
		if !ok {
			name = fmt.Sprintf("File%08d.xxx", blockIndex)
		}
		if !matchWildcard(pattern, name) {
			continue
		}
		seen[blockIndex] = true
		ft := a.fileTimes[blockIndex]
		entries = append(entries, FindData{
			FileName:   name,
			PlainName:  plainName(name),
			HashIndex:  uint32(i),
			BlockIndex: blockIndex,
			FileSize:   b.FileSize,
			FileFlags:  b.Flags,
			CompSize:   b.CompressedSize,
			FileTimeLo: uint32(ft),
			FileTimeHi: uint32(ft >> 32),
			Locale:     uint32(entry.Locale),
		})
	}
	return entries
}

// matchWildcard matches name against a pattern of '*' and '?' wildcards.
// Case is ignored and '/' equals '\'.
func matchWildcard(pattern, name string) bool {
	p := normalizeName(pattern)
	n := normalizeName(name)

	// Greedy match with single-star backtracking
	pi, ni := 0, 0
	star, mark := -1, 0
	for ni < len(n) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == n[ni]):
			pi++
			ni++
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, ni
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ni = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// normalizeName folds ASCII case and slashes the same way hashString does.
// Other bytes are compared as they are.
func normalizeName(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 0x20
		case c == '/':
			b[i] = '\\'
		}
	}
	return string(b)
}
