// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"log"
	"time"
)

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger reporting boot progress.
func WithLogger(msg *log.Logger) Option {
	return func(s *Sequencer) {
		s.msg = msg
	}
}

// WithLoader sets the loader used to read images.
func WithLoader(ldr Loader) Option {
	return func(s *Sequencer) {
		s.ldr = ldr
	}
}

// WithSettle sets the pause after each single-step PLL register write.
func WithSettle(d time.Duration) Option {
	return func(s *Sequencer) {
		s.settle = d
	}
}

// WithDeassert makes the reset cycle clear the reset bits it has set,
// while the PLL still runs at the safe frequency.
func WithDeassert() Option {
	return func(s *Sequencer) {
		s.deassert = true
	}
}

// WithTelemetryDelay sets the pause before reading the harvesting
// bitmaps. Telemetry may not be available right after a chip reset.
func WithTelemetryDelay(d time.Duration) Option {
	return func(s *Sequencer) {
		s.tdelay = d
	}
}

// WithBootArgs sets the root device written into /chosen/bootargs of
// every placed device tree: "vda", "vdaN" or "initramfs".
func WithBootArgs(device string) Option {
	return func(s *Sequencer) {
		s.bootdev = device
	}
}
