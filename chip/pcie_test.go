// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chip

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/l2cpu/internal/kmd"
	"github.com/go-lpc/l2cpu/internal/mmap"
)

// fakeKMD hands out TLB windows backed by plain memory.
type fakeKMD struct {
	next    uint32
	live    map[uint32]bool
	mem     map[int64][]byte
	allocs  int
	configs []kmd.Config
	closed  bool

	errConfigure error
}

func newFakeKMD() *fakeKMD {
	return &fakeKMD{
		live: make(map[uint32]bool),
		mem:  make(map[int64][]byte),
	}
}

func (dev *fakeKMD) Name() string   { return "/dev/tenstorrent/0" }
func (dev *fakeKMD) Info() kmd.Info { return kmd.Info{DeviceID: kmd.BlackholeID} }
func (dev *fakeKMD) Fd() int        { return 3 }

func (dev *fakeKMD) Close() error {
	dev.closed = true
	return nil
}

func (dev *fakeKMD) Reset(flags uint32) (uint32, error) { return 0, nil }

func (dev *fakeKMD) AllocateTLB(size uint64) (kmd.TLB, error) {
	id := dev.next
	dev.next++
	dev.allocs++
	dev.live[id] = true
	off := int64(id) * 2 * tlbSize
	return kmd.TLB{ID: id, Size: size, OffsetUC: off, OffsetWC: off + tlbSize}, nil
}

func (dev *fakeKMD) FreeTLB(id uint32) error {
	if !dev.live[id] {
		return errors.New("unknown tlb")
	}
	delete(dev.live, id)
	return nil
}

func (dev *fakeKMD) ConfigureTLB(id uint32, cfg kmd.Config) error {
	if dev.errConfigure != nil {
		return dev.errConfigure
	}
	dev.configs = append(dev.configs, cfg)
	return nil
}

func (dev *fakeKMD) mmap(fd int, offset int64, size int) (*mmap.Handle, error) {
	buf, ok := dev.mem[offset]
	if !ok {
		buf = make([]byte, size)
		dev.mem[offset] = buf
	}
	return mmap.HandleFrom(buf), nil
}

func newTestPCIe(t *testing.T) (*PCIe, *fakeKMD) {
	t.Helper()
	orig := mapWindow
	t.Cleanup(func() { mapWindow = orig })

	dev := newFakeKMD()
	mapWindow = dev.mmap
	return newPCIe(dev), dev
}

func TestPCIeWindowReuse(t *testing.T) {
	c, dev := newTestPCIe(t)
	if got, want := c.Arch(), Blackhole; got != want {
		t.Fatalf("invalid arch: got=%v, want=%v", got, want)
	}

	const addr = 0x80020514
	for i := 0; i < 70; i++ {
		err := c.AXIWrite32(addr, uint32(i))
		if err != nil {
			t.Fatalf("could not write: %+v", err)
		}
		v, err := c.AXIRead32(addr)
		if err != nil {
			t.Fatalf("could not read: %+v", err)
		}
		if v != uint32(i) {
			t.Fatalf("invalid read-back: got=%d, want=%d", v, i)
		}
	}
	if dev.allocs != 1 || len(dev.configs) != 1 {
		t.Fatalf("invalid window use: allocs=%d configs=%d", dev.allocs, len(dev.configs))
	}
	if got, want := dev.configs[0].Addr, uint64(0x80000000); got != want {
		t.Fatalf("invalid window base: got=0x%x, want=0x%x", got, want)
	}

	// same tile, other aperture: the window moves.
	_, err := c.AXIRead32(0x80030014 + tlbSize)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if dev.allocs != 1 || len(dev.configs) != 2 {
		t.Fatalf("invalid window use: allocs=%d configs=%d", dev.allocs, len(dev.configs))
	}

	// other tile: a second window.
	err = c.NOCWrite32(0, 8, 3, 0x2010008, 0xf)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if dev.allocs != 2 || len(dev.configs) != 3 {
		t.Fatalf("invalid window use: allocs=%d configs=%d", dev.allocs, len(dev.configs))
	}
	if cfg := dev.configs[2]; cfg.XEnd != 8 || cfg.YEnd != 3 {
		t.Fatalf("invalid window target: (%d,%d)", cfg.XEnd, cfg.YEnd)
	}

	// bulk writes use short-lived write-combined windows.
	err = c.NOCWrite(0, 8, 3, tlbSize-4, make([]byte, 8))
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if dev.allocs != 4 || len(dev.live) != 2 {
		t.Fatalf("invalid window use: allocs=%d live=%d", dev.allocs, len(dev.live))
	}

	err = c.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}
	if len(dev.live) != 0 {
		t.Fatalf("%d windows not released", len(dev.live))
	}
	if !dev.closed {
		t.Fatalf("device node not closed")
	}

	_, err = c.AXIRead32(addr)
	if !errors.Is(err, errClosed) {
		t.Fatalf("invalid error: %+v", err)
	}
	err = c.Close()
	if err != nil {
		t.Fatalf("could not close twice: %+v", err)
	}
}

func TestPCIeResetMovesWindows(t *testing.T) {
	c, dev := newTestPCIe(t)

	orig := PCIDir
	defer func() { PCIDir = orig }()
	PCIDir = t.TempDir()

	dir := filepath.Join(PCIDir, c.BDF())
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		t.Fatalf("could not create device dir: %+v", err)
	}
	err = os.WriteFile(filepath.Join(dir, "config"), []byte{0xe, 0x1e, 0x40, 0xb1, 0x04, 0x00}, 0644)
	if err != nil {
		t.Fatalf("could not create config space: %+v", err)
	}

	_, err = c.AXIRead32(0x80020514)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	err = c.Reset(5 * time.Millisecond)
	if err != nil {
		t.Fatalf("could not reset: %+v", err)
	}
	_, err = c.AXIRead32(0x80020514)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if dev.allocs != 1 || len(dev.configs) != 2 {
		t.Fatalf("invalid window use after reset: allocs=%d configs=%d", dev.allocs, len(dev.configs))
	}
}

func TestPCIeAccessErrorWrappedOnce(t *testing.T) {
	c, dev := newTestPCIe(t)
	dev.errConfigure = errors.New("eio")

	for _, tc := range []struct {
		name string
		fn   func() error
		op   string
	}{
		{"axi-write32", func() error { return c.AXIWrite32(0x80030014, 1) }, "noc-write32"},
		{"axi-read32", func() error { _, err := c.AXIRead32(0x80030014); return err }, "noc-read32"},
		{"axi-write", func() error { return c.AXIWrite(0x80020514, make([]byte, 4)) }, "noc-write32"},
		{"axi-read", func() error { return c.AXIRead(0x80020514, make([]byte, 4)) }, "noc-read32"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			var aerr *AccessError
			if !errors.As(err, &aerr) {
				t.Fatalf("invalid error: %+v", err)
			}
			if aerr.Op != tc.op {
				t.Fatalf("invalid op: got=%q, want=%q", aerr.Op, tc.op)
			}
			if got := strings.Count(err.Error(), "chip:"); got != 1 {
				t.Fatalf("error wrapped %d times: %v", got, err)
			}
			if errors.As(aerr.Err, new(*AccessError)) {
				t.Fatalf("nested access error: %v", err)
			}
		})
	}
}
