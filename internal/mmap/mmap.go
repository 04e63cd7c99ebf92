// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides access to memory-mapped TLB windows.
package mmap // import "github.com/go-lpc/l2cpu/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed    = errors.New("mmap: closed")
	errAlignment = errors.New("mmap: unaligned 32-bit access")
)

// Handle is a memory-mapped window of device memory.
type Handle struct {
	data  []byte
	unmap func([]byte) error
}

// Map maps size bytes of the file descriptor fd, starting at offset.
func Map(fd int, offset int64, size int) (*Handle, error) {
	data, err := unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %d bytes at offset 0x%x: %w", size, offset, err)
	}
	if len(data) != size {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(data))
	}
	h := &Handle{data: data, unmap: unix.Munmap}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// HandleFrom wraps an already allocated byte slice.
// Closing the returned handle does not unmap anything.
func HandleFrom(data []byte) *Handle {
	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	if h.unmap == nil {
		return nil
	}
	return h.unmap(data)
}

// Len returns the length of the underlying memory-mapped window.
func (h *Handle) Len() int {
	return len(h.data)
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// ReadU32 performs a single aligned 32-bit load at off.
// Uncached register windows must be accessed this way: a byte-wise copy
// is split into several bus transactions.
func (h *Handle) ReadU32(off int64) (uint32, error) {
	p, err := h.word(off)
	if err != nil {
		return 0, fmt.Errorf("mmap: invalid ReadU32 offset %d: %w", off, err)
	}
	return atomic.LoadUint32(p), nil
}

// WriteU32 performs a single aligned 32-bit store at off.
func (h *Handle) WriteU32(off int64, v uint32) error {
	p, err := h.word(off)
	if err != nil {
		return fmt.Errorf("mmap: invalid WriteU32 offset %d: %w", off, err)
	}
	atomic.StoreUint32(p, v)
	return nil
}

func (h *Handle) word(off int64) (*uint32, error) {
	if h == nil {
		return nil, os.ErrInvalid
	}
	if h.data == nil {
		return nil, errClosed
	}
	if off < 0 || int64(len(h.data)) < off+4 {
		return nil, io.ErrUnexpectedEOF
	}
	p := unsafe.Pointer(&h.data[off])
	if uintptr(p)%4 != 0 {
		return nil, errAlignment
	}
	return (*uint32)(p), nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
