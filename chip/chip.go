// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chip provides register access to a Blackhole accelerator,
// over its local AXI bus and over the NOC mesh interconnect.
package chip // import "github.com/go-lpc/l2cpu/chip"

import (
	"fmt"
)

// Device is the register-level access to a single chip.
//
// All accesses are synchronous. Failures are reported as *AccessError.
type Device interface {
	// AXIRead reads len(p) bytes at the AXI address addr.
	AXIRead(addr uint64, p []byte) error
	// AXIWrite writes p at the AXI address addr.
	AXIWrite(addr uint64, p []byte) error
	AXIRead32(addr uint64) (uint32, error)
	AXIWrite32(addr uint64, v uint32) error

	// NOCRead32 reads a 32-bit word from tile (x,y) on the given NOC.
	NOCRead32(noc int, x, y uint8, addr uint64) (uint32, error)
	// NOCWrite32 writes a 32-bit word to tile (x,y) on the given NOC.
	NOCWrite32(noc int, x, y uint8, addr uint64, v uint32) error
	// NOCWrite writes a block of bytes to tile (x,y) on the given NOC.
	NOCWrite(noc int, x, y uint8, addr uint64, p []byte) error

	// Telemetry returns the harvesting state reported by the ARC firmware.
	Telemetry() (Telemetry, error)

	Close() error
}

// Arch is a chip family.
type Arch int

const (
	Unknown Arch = iota
	Wormhole
	Blackhole
)

func (arch Arch) String() string {
	switch arch {
	case Wormhole:
		return "wormhole"
	case Blackhole:
		return "blackhole"
	default:
		return fmt.Sprintf("Arch(%d)", int(arch))
	}
}

// Telemetry holds the subset of the ARC telemetry used to decide
// whether an L2CPU can be booted.
type Telemetry struct {
	EnabledL2CPU uint32 // bit i set when L2CPU i is not harvested
	EnabledGDDR  uint32 // bit i set when GDDR controller i is not harvested
}

// AccessError reports a failed register access.
type AccessError struct {
	Op   string // "axi-read", "noc-write32", "telemetry", ...
	Addr uint64
	X, Y uint8 // tile coordinates, for NOC accesses
	Err  error
}

func (e *AccessError) Error() string {
	switch {
	case e.X != 0 || e.Y != 0:
		return fmt.Sprintf("chip: %s (%d,%d) 0x%x: %v", e.Op, e.X, e.Y, e.Addr, e.Err)
	default:
		return fmt.Sprintf("chip: %s 0x%x: %v", e.Op, e.Addr, e.Err)
	}
}

func (e *AccessError) Unwrap() error { return e.Err }
