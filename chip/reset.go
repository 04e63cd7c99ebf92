// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chip

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-lpc/l2cpu/internal/kmd"
)

// PCIDir is the sysfs directory holding the PCI devices.
var PCIDir = "/sys/bus/pci/devices"

// Reset resets the ASIC and waits up to timeout for it to come back.
//
// The device is considered back once the memory-space enable bit of its
// PCI command register reads as cleared.
func (c *PCIe) Reset(timeout time.Duration) error {
	if c.arch != Blackhole {
		return fmt.Errorf("chip: reset of %v chips not supported", c.arch)
	}

	_, err := c.dev.Reset(kmd.ResetConfigWrite)
	if err != nil {
		return fmt.Errorf("chip: could not reset %s: %w", c.BDF(), err)
	}

	err = waitReset(filepath.Join(PCIDir, c.BDF(), "config"), timeout)
	if err != nil {
		return fmt.Errorf("chip: could not reset %s: %w", c.BDF(), err)
	}

	_, err = c.dev.Reset(kmd.ResetRestoreState)
	if err != nil {
		return fmt.Errorf("chip: could not restore state of %s: %w", c.BDF(), err)
	}

	c.mu.Lock()
	for _, w := range c.ucs {
		w.ok = false
	}
	c.mu.Unlock()
	return nil
}

// waitReset polls the PCI command register in the config space file
// fname until its bit 1 clears.
func waitReset(fname string, timeout time.Duration) error {
	f, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		buf      = make([]byte, 1)
		deadline = time.Now().Add(timeout)
	)
	for {
		_, err = f.ReadAt(buf, 4)
		if err != nil {
			return fmt.Errorf("could not read PCI command register: %w", err)
		}
		if (buf[0]>>1)&1 == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout after %v waiting for the ASIC", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
