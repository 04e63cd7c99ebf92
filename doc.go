// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package l2cpu holds tools to boot the L2CPU RISC-V clusters of
// Blackhole accelerators.
//
// The clock transition controller lives in package pll, the boot
// sequencer in package boot and the chip transport in package chip.
package l2cpu // import "github.com/go-lpc/l2cpu"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of l2cpu and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/l2cpu"
	if b.Main.Path == root {
		return moduleVersion(&b.Main)
	}
	for _, m := range b.Deps {
		if m.Path == root {
			return moduleVersion(m)
		}
	}
	return "", ""
}

func moduleVersion(m *debug.Module) (version, sum string) {
	if m.Replace != nil {
		switch {
		case m.Replace.Version != "" && m.Replace.Path != "":
			return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
		case m.Replace.Version != "":
			return m.Replace.Version, m.Replace.Sum
		case m.Replace.Path != "":
			return m.Replace.Path, m.Replace.Sum
		default:
			return m.Version + "*", ""
		}
	}
	return m.Version, m.Sum
}
