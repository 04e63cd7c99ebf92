// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"errors"
	"fmt"

	"github.com/go-lpc/l2cpu/chip"
)

// CoreStatus is the harvesting state of an L2CPU.
type CoreStatus struct {
	Core int
	Err  *HarvestedError // nil when the core can be booted
}

// Available reports whether the core and its memory are enabled.
func (st CoreStatus) Available() bool { return st.Err == nil }

func (st CoreStatus) String() string {
	if st.Available() {
		return "Available"
	}
	return "Harvested"
}

// Status reads the harvesting state of every L2CPU of dev.
func Status(dev chip.Device) ([NumCores]CoreStatus, error) {
	var out [NumCores]CoreStatus
	tm, err := dev.Telemetry()
	if err != nil {
		return out, fmt.Errorf("boot: could not read telemetry: %w", err)
	}
	for core := range out {
		out[core].Core = core
		var herr *HarvestedError
		if errors.As(checkHarvest(tm, core), &herr) {
			out[core].Err = herr
		}
	}
	return out, nil
}
