// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakechip holds an in-memory chip.Device recording every access.
package fakechip // import "github.com/go-lpc/l2cpu/internal/fakechip"

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-lpc/l2cpu/chip"
)

// Kind is the kind of a recorded access.
type Kind int

const (
	AXIRead Kind = iota
	AXIWrite
	NOCRead32
	NOCWrite32
	NOCWrite
	Telemetry
)

func (k Kind) String() string {
	switch k {
	case AXIRead:
		return "axi-read"
	case AXIWrite:
		return "axi-write"
	case NOCRead32:
		return "noc-read32"
	case NOCWrite32:
		return "noc-write32"
	case NOCWrite:
		return "noc-write"
	case Telemetry:
		return "telemetry"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsWrite reports whether the access modifies the chip.
func (k Kind) IsWrite() bool {
	return k == AXIWrite || k == NOCWrite32 || k == NOCWrite
}

// Op is a recorded access.
type Op struct {
	Kind Kind
	X, Y uint8
	Addr uint64
	Data []byte
}

// Word returns the first 32-bit little-endian word of the access data.
func (op Op) Word() uint32 {
	if len(op.Data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(op.Data)
}

type key struct {
	x, y uint8
	addr uint64
}

// Chip is an in-memory chip.
// AXI space is addressed as tile (255,255).
type Chip struct {
	mu  sync.Mutex
	mem map[key]byte
	ops []Op

	Telem chip.Telemetry

	// Fail, when set, is consulted before each access; a non-nil
	// error aborts the access and is returned wrapped in a chip.AccessError.
	Fail func(op Op) error
}

const axiTile = 255

// New returns an empty chip reporting all L2CPUs and GDDRs as enabled.
func New() *Chip {
	return &Chip{
		mem:   make(map[key]byte),
		Telem: chip.Telemetry{EnabledL2CPU: 0xf, EnabledGDDR: 0xff},
	}
}

// Ops returns a copy of the access journal.
func (c *Chip) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]Op, len(c.ops))
	copy(ops, c.ops)
	return ops
}

// Writes returns the journal entries that modified the chip.
func (c *Chip) Writes() []Op {
	var ops []Op
	for _, op := range c.Ops() {
		if op.Kind.IsWrite() {
			ops = append(ops, op)
		}
	}
	return ops
}

// Reset clears the access journal, keeping the memory content.
func (c *Chip) Reset() {
	c.mu.Lock()
	c.ops = nil
	c.mu.Unlock()
}

// SetAXI32 presets a 32-bit AXI register without recording an access.
func (c *Chip) SetAXI32(addr uint64, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(axiTile, axiTile, addr, u32(v))
}

// AXI32 returns the current value of a 32-bit AXI register.
func (c *Chip) AXI32(addr uint64) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.LittleEndian.Uint32(c.load(axiTile, axiTile, addr, 4))
}

// Mem returns n bytes of tile (x,y) memory at addr.
func (c *Chip) Mem(x, y uint8, addr uint64, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(x, y, addr, n)
}

func (c *Chip) record(op Op) error {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	fail := c.Fail
	c.mu.Unlock()
	if fail == nil {
		return nil
	}
	err := fail(op)
	if err != nil {
		return &chip.AccessError{Op: op.Kind.String(), Addr: op.Addr, X: op.X, Y: op.Y, Err: err}
	}
	return nil
}

func (c *Chip) store(x, y uint8, addr uint64, p []byte) {
	for i, v := range p {
		c.mem[key{x, y, addr + uint64(i)}] = v
	}
}

func (c *Chip) load(x, y uint8, addr uint64, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = c.mem[key{x, y, addr + uint64(i)}]
	}
	return p
}

func (c *Chip) AXIRead(addr uint64, p []byte) error {
	err := c.record(Op{Kind: AXIRead, Addr: addr})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(p, c.load(axiTile, axiTile, addr, len(p)))
	return nil
}

func (c *Chip) AXIWrite(addr uint64, p []byte) error {
	err := c.record(Op{Kind: AXIWrite, Addr: addr, Data: clone(p)})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(axiTile, axiTile, addr, p)
	return nil
}

func (c *Chip) AXIRead32(addr uint64) (uint32, error) {
	var p [4]byte
	err := c.AXIRead(addr, p[:])
	return binary.LittleEndian.Uint32(p[:]), err
}

func (c *Chip) AXIWrite32(addr uint64, v uint32) error {
	return c.AXIWrite(addr, u32(v))
}

func (c *Chip) NOCRead32(noc int, x, y uint8, addr uint64) (uint32, error) {
	err := c.record(Op{Kind: NOCRead32, X: x, Y: y, Addr: addr})
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.LittleEndian.Uint32(c.load(x, y, addr, 4)), nil
}

func (c *Chip) NOCWrite32(noc int, x, y uint8, addr uint64, v uint32) error {
	p := u32(v)
	err := c.record(Op{Kind: NOCWrite32, X: x, Y: y, Addr: addr, Data: p})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(x, y, addr, p)
	return nil
}

func (c *Chip) NOCWrite(noc int, x, y uint8, addr uint64, p []byte) error {
	err := c.record(Op{Kind: NOCWrite, X: x, Y: y, Addr: addr, Data: clone(p)})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(x, y, addr, p)
	return nil
}

func (c *Chip) Telemetry() (chip.Telemetry, error) {
	err := c.record(Op{Kind: Telemetry})
	if err != nil {
		return chip.Telemetry{}, err
	}
	return c.Telem, nil
}

func (c *Chip) Close() error { return nil }

func u32(v uint32) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, v)
	return p
}

func clone(p []byte) []byte {
	o := make([]byte, len(p))
	copy(o, p)
	return o
}

var _ chip.Device = (*Chip)(nil)
