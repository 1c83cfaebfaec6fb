// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"errors"
	"io"
	"os"
)

var errReadOnly = errors.New("storage is read-only")

// storage is the host file behind an archive. Read-only archives opened
// with BaseProviderMap read from a memory mapping instead of the file.
type storage struct {
	f      *os.File
	mapped []byte
	unmap  func() error
	unlock func() error
}

func openStorage(path string, readOnly, mapped, share bool) (*storage, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	s := &storage{f: f}
	if !readOnly && !share {
		unlock, err := lockFile(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		s.unlock = unlock
	}
	if mapped {
		data, unmap, err := mapFile(f)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.mapped, s.unmap = data, unmap
	}
	return s, nil
}

// createStorage creates a new host file; it fails if the file exists.
func createStorage(path string) (*storage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	unlock, err := lockFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &storage{f: f, unlock: unlock}, nil
}

func (s *storage) ReadAt(p []byte, off int64) (int, error) {
	if s.mapped != nil {
		if off >= int64(len(s.mapped)) {
			return 0, io.EOF
		}
		n := copy(p, s.mapped[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
	return s.f.ReadAt(p, off)
}

func (s *storage) WriteAt(p []byte, off int64) (int, error) {
	if s.mapped != nil {
		return 0, errReadOnly
	}
	return s.f.WriteAt(p, off)
}

func (s *storage) Size() (int64, error) {
	if s.mapped != nil {
		return int64(len(s.mapped)), nil
	}
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *storage) Truncate(size int64) error {
	return s.f.Truncate(size)
}

func (s *storage) Sync() error {
	return s.f.Sync()
}

// Close releases the mapping, the lock and the file, in that order.
func (s *storage) Close() error {
	var errs []error
	if s.unmap != nil {
		errs = append(errs, s.unmap())
		s.unmap, s.mapped = nil, nil
	}
	if s.unlock != nil {
		errs = append(errs, s.unlock())
		s.unlock = nil
	}
	if s.f != nil {
		errs = append(errs, s.f.Close())
		s.f = nil
	}
	return errors.Join(errs...)
}
