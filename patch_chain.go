// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

// PatchChain represents a prioritized list of MPQ archives.
type PatchChain struct {
	archives   []*Archive
	fileMap    map[string]int // cache: normalized filename -> archive index
	cacheBuilt bool
}

// OpenPatchChain opens multiple MPQ archives read-only in order of
// increasing priority. The last archive in the list has the highest
// priority.
func OpenPatchChain(paths []string, opts ...Option) (*PatchChain, error) {
	archives := make([]*Archive, 0, len(paths))
	for _, path := range paths {
		archive, err := Open(path, OpenReadOnly, opts...)
		if err != nil {
			for _, opened := range archives {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open archive %s: %w", path, err)
		}
		archives = append(archives, archive)
	}

	chain := &PatchChain{
		archives: archives,
		fileMap:  make(map[string]int),
	}
	// A failed build is retried on the first lookup.
	_ = chain.rebuildFileMap()
	return chain, nil
}

// Close closes all archives in the patch chain.
func (p *PatchChain) Close() error {
	var firstErr error
	for _, archive := range p.archives {
		if err := archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ArchiveCount returns the number of archives in the chain.
func (p *PatchChain) ArchiveCount() int {
	return len(p.archives)
}

// resolve finds the archive holding the highest-priority version of name.
// ok is false when no archive has it or the winning entry is a delete
// marker. Archives above the cached one are still asked by hash, since the
// map only knows names that a listfile or search reported.
func (p *PatchChain) resolve(name string) (archive *Archive, ok bool, err error) {
	if !p.cacheBuilt {
		if err := p.rebuildFileMap(); err != nil {
			return nil, false, err
		}
	}
	key := normalizeName(name)
	cached, found := p.fileMap[key]
	if !found {
		cached = 0
	}
	for i := len(p.archives) - 1; i >= cached; i-- {
		entry, err := p.archives[i].Stat(name)
		if errors.Is(err, ErrFileNotFound) {
			if found && i == cached {
				// Removed since the map was built.
				p.cacheBuilt = false
			}
			continue
		}
		if err != nil {
			return nil, false, err
		}
		p.fileMap[key] = i
		if entry.Flags.Has(FileDeleteMarker) {
			return nil, false, nil
		}
		return p.archives[i], true, nil
	}
	return nil, false, nil
}

// HasFile reports whether any archive contains name. A delete marker in a
// higher-priority archive hides the file.
func (p *PatchChain) HasFile(name string) (bool, error) {
	_, ok, err := p.resolve(name)
	return ok, err
}

// ReadFile returns the highest-priority version of name.
func (p *PatchChain) ReadFile(name string) ([]byte, error) {
	archive, ok, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &EngineError{Op: "read file", Path: name, Code: ErrFileNotFound}
	}
	f, err := archive.OpenFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadAll()
}

// ExtractFile writes the highest-priority version of name to destPath.
func (p *PatchChain) ExtractFile(name, destPath string) error {
	archive, ok, err := p.resolve(name)
	if err != nil {
		return err
	}
	if !ok {
		return &EngineError{Op: "extract file", Path: name, Code: ErrFileNotFound}
	}
	return archive.ExtractFile(name, destPath)
}

// ListFiles returns the union of entry names across the chain, without
// files hidden by delete markers.
func (p *PatchChain) ListFiles() ([]string, error) {
	if !p.cacheBuilt {
		if err := p.rebuildFileMap(); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]struct{})
	var result []string
	for i := len(p.archives) - 1; i >= 0; i-- {
		files, err := p.archives[i].ListFiles()
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			key := normalizeName(file)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if ok, err := p.HasFile(file); err != nil {
				return nil, err
			} else if ok {
				result = append(result, file)
			}
		}
	}
	return result, nil
}

// HasPatchFile checks if a file is marked as a patch file in any archive.
func (p *PatchChain) HasPatchFile(name string) (bool, error) {
	for i := len(p.archives) - 1; i >= 0; i-- {
		entry, err := p.archives[i].Stat(name)
		if errors.Is(err, ErrFileNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if entry.Flags.Has(FilePatchFile) {
			return true, nil
		}
	}
	return false, nil
}

// rebuildFileMap maps every entry name to the highest-priority archive
// that has it, delete markers included.
func (p *PatchChain) rebuildFileMap() error {
	p.fileMap = make(map[string]int)
	for i := len(p.archives) - 1; i >= 0; i-- {
		s, err := p.archives[i].Search("*")
		if err != nil {
			return err
		}
		for entry, err := range s.All() {
			if err != nil {
				s.Close()
				return err
			}
			key := normalizeName(entry.Name)
			if _, exists := p.fileMap[key]; !exists {
				p.fileMap[key] = i
			}
		}
		s.Close()
	}
	p.cacheBuilt = true
	return nil
}
