// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

// NumCores is the number of L2CPU clusters on a Blackhole chip.
const NumCores = 4

var tiles = [NumCores]struct{ x, y uint8 }{
	{8, 3},
	{8, 9},
	{8, 5},
	{8, 7},
}

// GDDR controller owning the DRAM of each L2CPU.
var gddrBits = [NumCores]uint{
	5, // tt_gddr6_ss_even_inst[2]
	6, // tt_gddr6_ss_odd_inst[3]
	7, // tt_gddr6_ss_even_inst[3]
	7, // tt_gddr6_ss_even_inst[3]
}

// Tile returns the NOC coordinates of L2CPU core.
// It panics if core is not in [0, NumCores).
func Tile(core int) (x, y uint8) {
	t := tiles[core]
	return t.x, t.y
}

// GDDRBit returns the bit of the enabled-GDDR bitmap covering the
// memory attached to L2CPU core.
// It panics if core is not in [0, NumCores).
func GDDRBit(core int) uint {
	return gddrBits[core]
}
