// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/suprsokr/go-mpq/v2/internal/storm"
)

// fakeEngine scripts the engine results the pure-Go engine never
// produces. Calls it does not implement panic through the nil embedded
// interface.
type fakeEngine struct {
	engine

	mu      sync.Mutex
	calls   []string
	hasFile storm.Status
	compact storm.Status

	// sizes are returned by successive GetFileSize calls, the last one
	// repeating.
	sizes     []storm.Status
	size      uint64
	sizeCalls int

	// content is served by ReadFile, cut short after limit bytes when
	// limit is positive.
	content []byte
	limit   int
	pos     int
}

func (e *fakeEngine) record(format string, args ...any) {
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
}

func (e *fakeEngine) OpenArchive(string, uint32) (storm.Handle, storm.Status) {
	return 1, storm.Success
}

func (e *fakeEngine) CloseArchive(storm.Handle) storm.Status { return storm.Success }

func (e *fakeEngine) HasFile(storm.Handle, []byte) storm.Status { return e.hasFile }

func (e *fakeEngine) SetCompactCallback(_ storm.Handle, cb storm.CompactCallback) storm.Status {
	if cb == nil {
		e.record("SetCompactCallback(nil)")
	} else {
		e.record("SetCompactCallback(set)")
	}
	return storm.Success
}

func (e *fakeEngine) CompactArchive(storm.Handle) storm.Status {
	e.record("CompactArchive")
	return e.compact
}

func (e *fakeEngine) OpenFile(storm.Handle, []byte) (storm.Handle, storm.Status) {
	return 2, storm.Success
}

func (e *fakeEngine) CloseFile(storm.Handle) storm.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("CloseFile")
	return storm.Success
}

func (e *fakeEngine) GetFileSize(storm.Handle) (uint32, uint32, storm.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := storm.Success
	if len(e.sizes) > 0 {
		st = e.sizes[min(e.sizeCalls, len(e.sizes)-1)]
	}
	e.sizeCalls++
	if st != storm.Success {
		return storm.InvalidSize, 0, st
	}
	return uint32(e.size), uint32(e.size >> 32), storm.Success
}

func (e *fakeEngine) SetFilePointer(_ storm.Handle, offset int64) storm.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("SetFilePointer(%d)", offset)
	e.pos = int(offset)
	return storm.Success
}

func (e *fakeEngine) ReadFile(_ storm.Handle, buf []byte) (uint32, storm.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("ReadFile(%d)", len(buf))
	end := len(e.content)
	if e.limit > 0 {
		end = min(end, e.limit)
	}
	n := 0
	if e.pos < end {
		n = copy(buf, e.content[e.pos:end])
	}
	e.pos += n
	if n < len(buf) {
		return uint32(n), storm.ErrHandleEOF
	}
	return uint32(n), storm.Success
}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
