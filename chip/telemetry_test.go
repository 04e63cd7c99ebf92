// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chip_test

import (
	"errors"
	"testing"

	"github.com/go-lpc/l2cpu/chip"
	"github.com/go-lpc/l2cpu/internal/fakechip"
)

const (
	scratch13 = 0x80030434
	scratch12 = 0x80030430
	tableAddr = 0x10000
	dataAddr  = 0x20000
)

func fillTelemetry(dev *fakechip.Chip, tags map[uint16]uint32) {
	dev.SetAXI32(scratch13, tableAddr)
	dev.SetAXI32(scratch12, dataAddr)
	dev.SetAXI32(tableAddr, 1) // version
	dev.SetAXI32(tableAddr+4, uint32(len(tags)))
	i := uint32(0)
	for tag, v := range tags {
		off := 2*i + 1
		dev.SetAXI32(tableAddr+8+4*uint64(i), off<<16|uint32(tag))
		dev.SetAXI32(dataAddr+4*uint64(off), v)
		i++
	}
}

func TestReadTelemetry(t *testing.T) {
	dev := fakechip.New()
	fillTelemetry(dev, map[uint16]uint32{
		1:  0xdead, // board id
		36: 0xef,   // enabled GDDR
		37: 0xb,    // enabled L2CPU
	})

	tm, err := chip.ReadTelemetry(dev)
	if err != nil {
		t.Fatalf("could not read telemetry: %+v", err)
	}

	if got, want := tm.EnabledL2CPU, uint32(0xb); got != want {
		t.Fatalf("invalid enabled-l2cpu: got=0x%x, want=0x%x", got, want)
	}
	if got, want := tm.EnabledGDDR, uint32(0xef); got != want {
		t.Fatalf("invalid enabled-gddr: got=0x%x, want=0x%x", got, want)
	}

	if got := len(dev.Writes()); got != 0 {
		t.Fatalf("telemetry should not write to the chip: %d writes", got)
	}
}

func TestReadTelemetryMissingTag(t *testing.T) {
	dev := fakechip.New()
	fillTelemetry(dev, map[uint16]uint32{36: 0xff})

	_, err := chip.ReadTelemetry(dev)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestReadTelemetryAccessError(t *testing.T) {
	dev := fakechip.New()
	fillTelemetry(dev, map[uint16]uint32{36: 0xff, 37: 0xf})
	ebus := errors.New("bus error")
	dev.Fail = func(op fakechip.Op) error {
		if op.Addr == scratch12 {
			return ebus
		}
		return nil
	}

	_, err := chip.ReadTelemetry(dev)
	if !errors.Is(err, ebus) {
		t.Fatalf("invalid error: %+v", err)
	}
	var aerr *chip.AccessError
	if !errors.As(err, &aerr) {
		t.Fatalf("error should be an access error: %+v", err)
	}
	if got, want := aerr.Addr, uint64(scratch12); got != want {
		t.Fatalf("invalid error address: got=0x%x, want=0x%x", got, want)
	}
}

func TestAccessError(t *testing.T) {
	for _, tc := range []struct {
		err  *chip.AccessError
		want string
	}{
		{
			err:  &chip.AccessError{Op: "axi-read", Addr: 0x80020514, Err: errors.New("eio")},
			want: "chip: axi-read 0x80020514: eio",
		},
		{
			err:  &chip.AccessError{Op: "noc-write32", Addr: 0x2010008, X: 8, Y: 3, Err: errors.New("eio")},
			want: "chip: noc-write32 (8,3) 0x2010008: eio",
		},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("invalid error message:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}
}
