// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/platinasystems/fdt"
)

const (
	baseBootArgs = "rw console=hvc0 earlycon=sbi"
	fdtMagic     = 0xd00dfeed
)

// flattened device tree tokens.
const (
	fdtBeginNode = 0x1
	fdtEndNode   = 0x2
	fdtProp      = 0x3
	fdtNop       = 0x4
	fdtEnd       = 0x9

	fdtHeaderSize = 40
	fdtRsvSize    = 16
)

// BootArgs returns the kernel command line booting from device.
// For "initramfs", the initrd location is taken from the placed rootfs.
func BootArgs(device string, rootfs uint64, size int) (string, error) {
	switch {
	case strings.HasPrefix(device, "vda"):
		return baseBootArgs + " root=/dev/" + device, nil
	case device == "initramfs":
		return fmt.Sprintf("%s initrd=0x%x,%d", baseBootArgs, rootfs, size), nil
	default:
		return "", &ConfigError{
			Field:  "boot-device",
			Reason: fmt.Sprintf("unsupported root device %q", device),
		}
	}
}

// PatchBootArgs returns a copy of the flattened device tree dtb with
// /chosen/bootargs set to args. The /chosen node is created if needed.
//
// Only the bootargs property (and, when missing, the /chosen node) is
// touched: the memory reservation map, the order of nodes and the order
// of properties are kept as they are in dtb.
func PatchBootArgs(dtb []byte, args string) (out []byte, err error) {
	if len(dtb) < fdtHeaderSize || binary.BigEndian.Uint32(dtb) != fdtMagic {
		return nil, fmt.Errorf("boot: invalid device tree blob")
	}
	defer func() {
		if e := recover(); e != nil {
			out = nil
			err = fmt.Errorf("boot: could not parse device tree: %v", e)
		}
	}()

	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	err = t.Parse(dtb)
	if err != nil {
		return nil, fmt.Errorf("boot: could not parse device tree: %w", err)
	}
	if t.RootNode == nil {
		return nil, fmt.Errorf("boot: device tree has no root node")
	}
	if t.Version < 17 {
		return nil, fmt.Errorf("boot: unsupported device tree version %d", t.Version)
	}

	var (
		size  = int(t.TotalSize)
		rsv   = int(t.OffMemRsvmap)
		beg   = int(t.OffDtStruct)
		strs  = int(t.OffDtStrings)
		nstrs = int(t.SizeDtStrings)
		nblk  = int(t.SizeDtStruct)
	)
	if size > len(dtb) || beg+nblk > size || strs+nstrs > size || rsv > size {
		return nil, fmt.Errorf("boot: device tree blocks out of bounds")
	}

	rsvmap, err := reserveMap(dtb[rsv:size])
	if err != nil {
		return nil, err
	}
	var (
		blk   = dtb[beg : beg+nblk]
		names = append([]byte(nil), dtb[strs:strs+nstrs]...)
	)

	loc, err := locateBootArgs(blk, names)
	if err != nil {
		return nil, err
	}

	name, ok := findString(names, "bootargs")
	if !ok {
		name = len(names)
		names = append(names, "bootargs\x00"...)
	}
	prop := fdtProperty(uint32(name), []byte(args+"\x00"))

	var st []byte
	switch {
	case loc.prop[1] > 0:
		st = splice(blk, loc.prop[0], loc.prop[1], prop)
	case loc.chosen > 0:
		st = splice(blk, loc.chosen, loc.chosen, prop)
	default:
		node := fdtNode("chosen", prop)
		st = splice(blk, loc.root, loc.root, node)
	}

	out = make([]byte, fdtHeaderSize, fdtHeaderSize+len(rsvmap)+len(st)+len(names)+4)
	out = append(out, rsvmap...)
	offStruct := len(out)
	out = append(out, st...)
	offStrings := len(out)
	out = append(out, names...)
	out = pad4(out)

	be := binary.BigEndian
	be.PutUint32(out[0:], fdtMagic)
	be.PutUint32(out[4:], uint32(len(out)))
	be.PutUint32(out[8:], uint32(offStruct))
	be.PutUint32(out[12:], uint32(offStrings))
	be.PutUint32(out[16:], fdtHeaderSize)
	be.PutUint32(out[20:], t.Version)
	be.PutUint32(out[24:], t.LastCompatibleVersion)
	be.PutUint32(out[28:], t.BootCpuidPhys)
	be.PutUint32(out[32:], uint32(len(names)))
	be.PutUint32(out[36:], uint32(len(st)))

	return out, nil
}

// reserveMap returns the memory reservation entries of p, terminator
// included.
func reserveMap(p []byte) ([]byte, error) {
	for i := 0; i+fdtRsvSize <= len(p); i += fdtRsvSize {
		addr := binary.BigEndian.Uint64(p[i:])
		size := binary.BigEndian.Uint64(p[i+8:])
		if addr == 0 && size == 0 {
			return p[:i+fdtRsvSize], nil
		}
	}
	return nil, fmt.Errorf("boot: unterminated device tree reservation map")
}

// bootArgsLoc holds offsets into a structure block.
type bootArgsLoc struct {
	root   int    // end of the root node properties
	chosen int    // end of the /chosen properties, 0 if no /chosen
	prop   [2]int // extent of /chosen/bootargs, zero if missing
}

func locateBootArgs(blk, strs []byte) (bootArgsLoc, error) {
	var (
		loc    bootArgsLoc
		be     = binary.BigEndian
		depth  = 0
		chosen = false
		seen   = false
	)
	loc.root = -1
	loc.chosen = -1

	for off := 0; off+4 <= len(blk); {
		tok := be.Uint32(blk[off:])
		next := off + 4
		switch tok {
		case fdtBeginNode:
			n := bytes.IndexByte(blk[next:], 0)
			if n < 0 {
				return loc, fmt.Errorf("boot: unterminated device tree node name")
			}
			name := string(blk[next : next+n])
			next = align4(next + n + 1)
			if depth == 1 && loc.root < 0 {
				loc.root = off
			}
			if depth == 2 && chosen && loc.chosen < 0 {
				loc.chosen = off
			}
			if depth == 1 && name == "chosen" && !seen {
				chosen = true
				seen = true
			}
			depth++

		case fdtEndNode:
			if depth == 1 && loc.root < 0 {
				loc.root = off
			}
			if depth == 2 && chosen {
				if loc.chosen < 0 {
					loc.chosen = off
				}
				chosen = false
			}
			depth--
			if depth < 0 {
				return loc, fmt.Errorf("boot: unbalanced device tree nodes")
			}

		case fdtProp:
			if next+8 > len(blk) {
				return loc, fmt.Errorf("boot: truncated device tree property")
			}
			sz := int(be.Uint32(blk[next:]))
			nameoff := int(be.Uint32(blk[next+4:]))
			next = align4(next + 8 + sz)
			if next > len(blk) {
				return loc, fmt.Errorf("boot: truncated device tree property")
			}
			if depth == 2 && chosen && stringAt(strs, nameoff) == "bootargs" {
				loc.prop = [2]int{off, next}
			}

		case fdtNop:

		case fdtEnd:
			if depth != 0 || loc.root < 0 {
				return loc, fmt.Errorf("boot: unbalanced device tree nodes")
			}
			if loc.chosen < 0 {
				loc.chosen = 0
			}
			return loc, nil

		default:
			return loc, fmt.Errorf("boot: invalid device tree token 0x%x at 0x%x", tok, off)
		}
		off = next
	}
	return loc, fmt.Errorf("boot: device tree structure block not terminated")
}

func stringAt(strs []byte, off int) string {
	if off < 0 || off >= len(strs) {
		return ""
	}
	n := bytes.IndexByte(strs[off:], 0)
	if n < 0 {
		return ""
	}
	return string(strs[off : off+n])
}

// findString returns the offset of the string s in the strings block.
func findString(strs []byte, s string) (int, bool) {
	for off := 0; off < len(strs); {
		n := bytes.IndexByte(strs[off:], 0)
		if n < 0 {
			break
		}
		if string(strs[off:off+n]) == s {
			return off, true
		}
		off += n + 1
	}
	return 0, false
}

func fdtProperty(name uint32, v []byte) []byte {
	o := make([]byte, 12, 12+len(v)+3)
	binary.BigEndian.PutUint32(o[0:], fdtProp)
	binary.BigEndian.PutUint32(o[4:], uint32(len(v)))
	binary.BigEndian.PutUint32(o[8:], name)
	return pad4(append(o, v...))
}

func fdtNode(name string, body []byte) []byte {
	o := make([]byte, 4)
	binary.BigEndian.PutUint32(o, fdtBeginNode)
	o = pad4(append(o, name+"\x00"...))
	o = append(o, body...)
	return binary.BigEndian.AppendUint32(o, fdtEndNode)
}

func splice(p []byte, beg, end int, v []byte) []byte {
	o := make([]byte, 0, len(p)-(end-beg)+len(v))
	o = append(o, p[:beg]...)
	o = append(o, v...)
	return append(o, p[end:]...)
}

func align4(n int) int {
	return (n + 3) &^ 3
}
