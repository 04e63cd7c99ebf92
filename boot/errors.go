// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"errors"
	"fmt"

	"github.com/go-lpc/l2cpu/chip"
	"github.com/go-lpc/l2cpu/pll"
)

// Kind classifies the errors returned by a Sequencer.
type Kind int

const (
	KindUnknown    Kind = iota
	KindConfig          // invalid request, detected before any chip write
	KindHarvested       // requested core or its memory is fused off
	KindChipAccess      // a register access failed
	KindIO              // an image could not be loaded
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindHarvested:
		return "harvested"
	case KindChipAccess:
		return "chip-access"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	var (
		cerr *ConfigError
		ferr *pll.FrequencyError
		herr *HarvestedError
		ierr *ImageError
		aerr *chip.AccessError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &herr):
		return KindHarvested
	case errors.As(err, &cerr), errors.As(err, &ferr):
		return KindConfig
	case errors.As(err, &ierr):
		return KindIO
	case errors.As(err, &aerr):
		return KindChipAccess
	default:
		return KindUnknown
	}
}

// ConfigError reports an invalid boot request.
type ConfigError struct {
	Field  string // offending request field
	Want   int    // expected number of values
	Got    int    // provided number of values
	Reason string // set when the error is not a count mismatch
}

func (e *ConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("boot: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("boot: invalid %s: got %d values, want %d", e.Field, e.Got, e.Want)
}

// Resource is a harvestable part of an L2CPU.
type Resource int

const (
	Core   Resource = iota // the L2CPU itself
	Memory                 // the GDDR controller backing its DRAM
)

// HarvestedError reports a request for a core that is fused off,
// or whose memory is.
type HarvestedError struct {
	Core     int
	Resource Resource
}

// Alt returns the sibling core of e.Core worth trying instead.
// There is none when the sibling is attached to the same harvested DRAM.
func (e *HarvestedError) Alt() (int, bool) {
	alt := e.Core ^ 1
	if e.Resource == Memory && GDDRBit(alt) == GDDRBit(e.Core) {
		return 0, false
	}
	return alt, true
}

func (e *HarvestedError) Error() string {
	alt, ok := e.Alt()
	switch {
	case e.Resource == Memory && !ok:
		return fmt.Sprintf("boot: DRAM attached to L2CPU %d is harvested", e.Core)
	case e.Resource == Memory:
		return fmt.Sprintf(
			"boot: DRAM attached to L2CPU %d is harvested, try booting L2CPU %d",
			e.Core, alt,
		)
	default:
		return fmt.Sprintf(
			"boot: L2CPU %d is harvested, try booting L2CPU %d",
			e.Core, alt,
		)
	}
}

// ImageError reports an image that could not be loaded.
type ImageError struct {
	Kind ImageKind
	Path string
	Err  error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("boot: could not load %v image %q: %v", e.Kind, e.Path, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }
