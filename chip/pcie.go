// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/go-lpc/l2cpu/internal/kmd"
	"github.com/go-lpc/l2cpu/internal/mmap"
)

const (
	tlbSize = 1 << 21 // 2 MiB windows

	// AXI accesses are routed over NOC0 to the ARC tile.
	arcX = 8
	arcY = 0

	arcScratchRAM  = 0x80030400
	telemDataAddr  = arcScratchRAM + 12*4
	telemTableAddr = arcScratchRAM + 13*4

	tagEnabledGDDR  = 36
	tagEnabledL2CPU = 37

	maxTelemEntries = 256
)

var (
	errNoTag  = errors.New("telemetry tag not found")
	errClosed = errors.New("chip closed")
)

// kmdDevice is the TT-KMD device node of a chip.
type kmdDevice interface {
	Name() string
	Info() kmd.Info
	Fd() int
	Close() error
	Reset(flags uint32) (uint32, error)
	AllocateTLB(size uint64) (kmd.TLB, error)
	FreeTLB(id uint32) error
	ConfigureTLB(id uint32, cfg kmd.Config) error
}

var mapWindow = mmap.Map

// tile is a NOC endpoint.
type tile struct {
	noc  int
	x, y uint8
}

// window is a mapped TLB window.
type window struct {
	id   uint32
	h    *mmap.Handle
	base uint64
	ok   bool // configured at base
}

// PCIe is a Blackhole chip reached through TT-KMD.
//
// Register accesses go through one uncached TLB window per tile, kept
// for the lifetime of the handle and moved when an access falls outside
// of its 2 MiB aperture.
type PCIe struct {
	dev  kmdDevice
	arch Arch

	mu  sync.Mutex
	ucs map[tile]*window
}

// Open opens the TT-KMD device node at path.
func Open(path string) (*PCIe, error) {
	v, err := kmd.DriverVersion()
	if err != nil {
		return nil, fmt.Errorf("chip: could not check driver version: %w", err)
	}
	if v.Less(kmd.MinVersion) {
		return nil, fmt.Errorf("chip: driver version %v is older than %v", v, kmd.MinVersion)
	}

	dev, err := kmd.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chip: could not open %q: %w", path, err)
	}

	return newPCIe(dev), nil
}

func newPCIe(dev kmdDevice) *PCIe {
	return &PCIe{
		dev:  dev,
		arch: archOf(dev.Info().DeviceID),
		ucs:  make(map[tile]*window),
	}
}

func archOf(id uint16) Arch {
	switch id {
	case kmd.WormholeID:
		return Wormhole
	case kmd.BlackholeID:
		return Blackhole
	default:
		return Unknown
	}
}

// Arch returns the family of the chip.
func (c *PCIe) Arch() Arch { return c.arch }

// Name returns the device node of the chip.
func (c *PCIe) Name() string { return c.dev.Name() }

// BDF returns the PCI address of the chip.
func (c *PCIe) BDF() string { return c.dev.Info().BDF() }

// Close releases the TLB windows of the chip and closes its device node.
func (c *PCIe) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return nil
	}

	var err error
	for k, w := range c.ucs {
		e := c.release(w)
		if e != nil && err == nil {
			err = e
		}
		delete(c.ucs, k)
	}
	e := c.dev.Close()
	if e != nil && err == nil {
		err = e
	}
	c.dev = nil
	return err
}

func (c *PCIe) allocate(wc bool) (*window, error) {
	tlb, err := c.dev.AllocateTLB(tlbSize)
	if err != nil {
		return nil, err
	}

	offset := tlb.OffsetUC
	if wc {
		offset = tlb.OffsetWC
	}
	h, err := mapWindow(c.dev.Fd(), offset, tlbSize)
	if err != nil {
		_ = c.dev.FreeTLB(tlb.ID)
		return nil, err
	}
	return &window{id: tlb.ID, h: h}, nil
}

func (c *PCIe) release(w *window) error {
	err := w.h.Close()
	e := c.dev.FreeTLB(w.id)
	if err == nil {
		err = e
	}
	return err
}

// move points w at the 2 MiB aperture of t holding addr.
func (c *PCIe) move(w *window, t tile, addr uint64) error {
	base := addr &^ (tlbSize - 1)
	if w.ok && w.base == base {
		return nil
	}
	w.ok = false
	err := c.dev.ConfigureTLB(w.id, kmd.Config{
		Addr:     base,
		XEnd:     uint16(t.x),
		YEnd:     uint16(t.y),
		NOC:      uint8(t.noc),
		Ordering: kmd.OrderingStrict,
	})
	if err != nil {
		return err
	}
	w.base = base
	w.ok = true
	return nil
}

// uncached calls f with the uncached window of t covering addr and the
// offset of addr inside it.
func (c *PCIe) uncached(t tile, addr uint64, f func(h *mmap.Handle, off int64) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return errClosed
	}

	w, ok := c.ucs[t]
	if !ok {
		var err error
		w, err = c.allocate(false)
		if err != nil {
			return err
		}
		if c.ucs == nil {
			c.ucs = make(map[tile]*window)
		}
		c.ucs[t] = w
	}

	err := c.move(w, t, addr)
	if err != nil {
		return err
	}
	return f(w.h, int64(addr-w.base))
}

func (c *PCIe) NOCRead32(noc int, x, y uint8, addr uint64) (uint32, error) {
	if addr%4 != 0 {
		return 0, &AccessError{Op: "noc-read32", Addr: addr, X: x, Y: y, Err: errUnaligned}
	}
	var v uint32
	err := c.uncached(tile{noc, x, y}, addr, func(h *mmap.Handle, off int64) error {
		var err error
		v, err = h.ReadU32(off)
		return err
	})
	if err != nil {
		return 0, &AccessError{Op: "noc-read32", Addr: addr, X: x, Y: y, Err: err}
	}
	return v, nil
}

func (c *PCIe) NOCWrite32(noc int, x, y uint8, addr uint64, v uint32) error {
	if addr%4 != 0 {
		return &AccessError{Op: "noc-write32", Addr: addr, X: x, Y: y, Err: errUnaligned}
	}
	err := c.uncached(tile{noc, x, y}, addr, func(h *mmap.Handle, off int64) error {
		return h.WriteU32(off, v)
	})
	if err != nil {
		return &AccessError{Op: "noc-write32", Addr: addr, X: x, Y: y, Err: err}
	}
	return nil
}

// writeCombined writes p at addr of t through a write-combined window
// released once done. p must not cross a 2 MiB boundary.
func (c *PCIe) writeCombined(t tile, addr uint64, p []byte) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return errClosed
	}

	w, err := c.allocate(true)
	if err != nil {
		return err
	}
	defer func() {
		e := c.release(w)
		if e != nil && err == nil {
			err = e
		}
	}()

	err = c.move(w, t, addr)
	if err != nil {
		return err
	}
	_, err = w.h.WriteAt(p, int64(addr-w.base))
	return err
}

// NOCWrite writes p through write-combined windows, one 2 MiB chunk at a time.
func (c *PCIe) NOCWrite(noc int, x, y uint8, addr uint64, p []byte) error {
	for len(p) > 0 {
		n := tlbSize - int(addr&(tlbSize-1))
		if n > len(p) {
			n = len(p)
		}
		err := c.writeCombined(tile{noc, x, y}, addr, p[:n])
		if err != nil {
			return &AccessError{Op: "noc-write", Addr: addr, X: x, Y: y, Err: err}
		}
		p = p[n:]
		addr += uint64(n)
	}
	return nil
}

func (c *PCIe) nocRead(noc int, x, y uint8, addr uint64, p []byte) error {
	for i := 0; i < len(p); i += 4 {
		v, err := c.NOCRead32(noc, x, y, addr+uint64(i))
		if err != nil {
			return err
		}
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], v)
		copy(p[i:], w[:])
	}
	return nil
}

func (c *PCIe) AXIRead(addr uint64, p []byte) error {
	if addr%4 != 0 {
		return &AccessError{Op: "axi-read", Addr: addr, Err: errUnaligned}
	}
	return c.nocRead(0, arcX, arcY, addr, p)
}

func (c *PCIe) AXIWrite(addr uint64, p []byte) error {
	if addr%4 != 0 || len(p)%4 != 0 {
		return &AccessError{Op: "axi-write", Addr: addr, Err: errUnaligned}
	}
	for i := 0; i < len(p); i += 4 {
		err := c.NOCWrite32(0, arcX, arcY, addr+uint64(i), binary.LittleEndian.Uint32(p[i:]))
		if err != nil {
			return err
		}
	}
	return nil
}

// AXIRead32 reads a 32-bit word at addr. AXI accesses are reported as
// NOC accesses to the ARC tile.
func (c *PCIe) AXIRead32(addr uint64) (uint32, error) {
	return c.NOCRead32(0, arcX, arcY, addr)
}

func (c *PCIe) AXIWrite32(addr uint64, v uint32) error {
	return c.NOCWrite32(0, arcX, arcY, addr, v)
}

// Telemetry reads the ENABLED_L2CPU and ENABLED_GDDR tags from the
// ARC telemetry table.
func (c *PCIe) Telemetry() (Telemetry, error) {
	tm, err := ReadTelemetry(c)
	if err != nil {
		return tm, &AccessError{Op: "telemetry", Addr: telemTableAddr, Err: err}
	}
	return tm, nil
}

// ReadTelemetry decodes the ARC telemetry table through AXI accesses.
//
// The table starts with a version word and an entry count, followed by
// one word per entry holding the tag (low 16 bits) and the offset of its
// value in the data block, in words (high 16 bits).
func ReadTelemetry(dev Device) (Telemetry, error) {
	var tm Telemetry

	table, err := dev.AXIRead32(telemTableAddr)
	if err != nil {
		return tm, fmt.Errorf("could not read telemetry table address: %w", err)
	}
	data, err := dev.AXIRead32(telemDataAddr)
	if err != nil {
		return tm, fmt.Errorf("could not read telemetry data address: %w", err)
	}

	n, err := dev.AXIRead32(uint64(table) + 4)
	if err != nil {
		return tm, fmt.Errorf("could not read telemetry entry count: %w", err)
	}
	if n > maxTelemEntries {
		return tm, fmt.Errorf("invalid telemetry entry count %d", n)
	}

	offsets := make(map[uint16]uint16, n)
	for i := uint32(0); i < n; i++ {
		v, err := dev.AXIRead32(uint64(table) + 8 + 4*uint64(i))
		if err != nil {
			return tm, fmt.Errorf("could not read telemetry entry %d: %w", i, err)
		}
		offsets[uint16(v)] = uint16(v >> 16)
	}

	value := func(tag uint16) (uint32, error) {
		off, ok := offsets[tag]
		if !ok {
			return 0, fmt.Errorf("tag=%d: %w", tag, errNoTag)
		}
		return dev.AXIRead32(uint64(data) + 4*uint64(off))
	}

	tm.EnabledL2CPU, err = value(tagEnabledL2CPU)
	if err != nil {
		return tm, fmt.Errorf("could not read enabled L2CPU bitmap: %w", err)
	}
	tm.EnabledGDDR, err = value(tagEnabledGDDR)
	if err != nil {
		return tm, fmt.Errorf("could not read enabled GDDR bitmap: %w", err)
	}
	return tm, nil
}

var errUnaligned = errors.New("unaligned access")

var _ Device = (*PCIe)(nil)
