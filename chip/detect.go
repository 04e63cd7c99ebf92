// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chip

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// DevDir is the directory holding the TT-KMD device nodes.
var DevDir = "/dev/tenstorrent"

// ErrNoChip is returned when no chip of the requested family is present.
var ErrNoChip = errors.New("chip: no chip found")

var openChip = func(path string) (*PCIe, error) { return Open(path) }

// Detect opens every TT-KMD device node, in node order.
// Nodes are probed concurrently.
func Detect() ([]*PCIe, error) {
	paths, err := filepath.Glob(filepath.Join(DevDir, "*"))
	if err != nil {
		return nil, fmt.Errorf("chip: could not list %q: %w", DevDir, err)
	}
	sort.Slice(paths, func(i, j int) bool {
		return nodeIndex(paths[i]) < nodeIndex(paths[j])
	})

	var (
		grp  errgroup.Group
		devs = make([]*PCIe, len(paths))
	)
	for i := range paths {
		i := i
		grp.Go(func() error {
			dev, err := openChip(paths[i])
			if err != nil {
				return err
			}
			devs[i] = dev
			return nil
		})
	}

	err = grp.Wait()
	if err != nil {
		for _, dev := range devs {
			if dev != nil {
				_ = dev.Close()
			}
		}
		return nil, fmt.Errorf("chip: could not detect chips: %w", err)
	}

	return devs, nil
}

// OpenFirst returns the first detected chip of the given family and
// closes all the others.
func OpenFirst(arch Arch) (*PCIe, error) {
	devs, err := Detect()
	if err != nil {
		return nil, err
	}

	var sel *PCIe
	for _, dev := range devs {
		if sel == nil && dev.Arch() == arch {
			sel = dev
			continue
		}
		_ = dev.Close()
	}
	if sel == nil {
		return nil, fmt.Errorf("%w (arch=%v)", ErrNoChip, arch)
	}
	return sel, nil
}

func nodeIndex(path string) int {
	i, err := strconv.Atoi(filepath.Base(path))
	if err != nil {
		return -1
	}
	return i
}

// Select opens the Blackhole chip at the device node path, or the first
// detected Blackhole chip when path is empty.
func Select(path string) (*PCIe, error) {
	if path == "" {
		return OpenFirst(Blackhole)
	}

	dev, err := openChip(path)
	if err != nil {
		return nil, err
	}
	if dev.Arch() != Blackhole {
		_ = dev.Close()
		return nil, fmt.Errorf("chip: %q is a %v chip, not a %v one", path, dev.Arch(), Blackhole)
	}
	return dev, nil
}
