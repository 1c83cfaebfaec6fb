// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
	"log/slog"
	"sync"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

// File is a file opened for reading from an Archive. It is valid until it
// or its archive is closed.
type File struct {
	a    *Archive
	name string

	mu         sync.Mutex
	h          storm.Handle
	released   bool
	closed     bool
	size       uint64
	sized      bool
	needsReset bool
}

var _ io.ReadCloser = (*File)(nil)

// Name returns the name the file was opened with.
func (f *File) Name() string {
	return f.name
}

func (f *File) live() error {
	if f.closed {
		return ErrClosed
	}
	if f.a.closed.Load() {
		return ErrArchiveClosed
	}
	return nil
}

// Size returns the uncompressed size. The first successful result is
// cached for the life of the File.
func (f *File) Size() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live(); err != nil {
		return 0, err
	}
	return f.sizeLocked()
}

func (f *File) sizeLocked() (uint64, error) {
	if f.sized {
		return f.size, nil
	}
	low, high, st := f.a.eng.GetFileSize(f.h)
	if low == storm.InvalidSize && st == storm.Success {
		st = storm.ErrInvalidHandle
	}
	if err := check("file size", f.name, st); err != nil {
		return 0, err
	}
	f.size, f.sized = uint64(high)<<32|uint64(low), true
	return f.size, nil
}

// ReadAll returns the whole content of the file, however much of it was
// read before. If the archive holds less data than the size promises, the
// data that could be read is returned without an error.
func (f *File) ReadAll() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live(); err != nil {
		return nil, err
	}
	size, err := f.sizeLocked()
	if err != nil {
		return nil, err
	}
	if f.needsReset {
		if err := check("seek", f.name, f.a.eng.SetFilePointer(f.h, 0)); err != nil {
			return nil, err
		}
	}
	f.needsReset = true

	buf := make([]byte, size)
	n, st := f.a.eng.ReadFile(f.h, buf)
	if st != storm.ErrHandleEOF {
		if err := check("read", f.name, st); err != nil {
			return nil, err
		}
	}
	return buf[:n], nil
}

// Read implements io.Reader on the engine's read position. A later ReadAll
// starts over from the beginning.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.live(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	f.needsReset = true

	n, st := f.a.eng.ReadFile(f.h, p)
	switch st {
	case storm.Success:
		return int(n), nil
	case storm.ErrHandleEOF:
		if n == 0 {
			return 0, io.EOF
		}
		return int(n), nil
	}
	return int(n), check("read", f.name, st)
}

// release frees the engine handle once. The archive calls it on close.
func (f *File) release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releaseLocked()
}

func (f *File) releaseLocked() error {
	if f.released {
		return nil
	}
	f.released = true
	if err := check("close file", f.name, f.a.eng.CloseFile(f.h)); err != nil {
		return err
	}
	f.a.log.Debug("file handle released", slog.String("name", f.name), slog.Uint64("handle", uint64(f.h)))
	return nil
}

// Close releases the file. It returns ErrClosed when called again. Closing
// a File whose archive is already closed is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.closed = true
	err := f.releaseLocked()
	f.mu.Unlock()

	f.a.forget(f)
	return err
}
