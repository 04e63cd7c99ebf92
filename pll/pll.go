// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pll reprograms the L2CPU clock generator (PLL4).
//
// Divider values are only ever changed one step at a time: a larger jump
// may leave the PLL out of lock, or make an output overshoot its target
// frequency.
package pll // import "github.com/go-lpc/l2cpu/pll"

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/l2cpu/chip"
)

const (
	PLL4Base = 0x80020500 // PLL4 clocks the L2CPUs

	offCntl1 = 0x4  // refdiv, postdiv, fbdiv
	offCntl5 = 0x14 // post-dividers
)

// Frequency is a supported L2CPU operating point.
type Frequency int

const (
	Safe Frequency = iota // 200 MHz, used while toggling reset
	Run                   // 1750 MHz
)

var solutions = [...]struct {
	mhz   int
	fbdiv uint16
	post  PostDividers
}{
	Safe: {mhz: 200, fbdiv: 128, post: PostDividers{15, 15, 15, 15}},
	Run:  {mhz: 1750, fbdiv: 140, post: PostDividers{1, 1, 1, 1}},
}

// Lookup returns the operating point running at mhz.
func Lookup(mhz int) (Frequency, error) {
	for i, sol := range solutions {
		if sol.mhz == mhz {
			return Frequency(i), nil
		}
	}
	return 0, &FrequencyError{MHz: mhz}
}

func (f Frequency) valid() bool { return f >= 0 && int(f) < len(solutions) }

// MHz returns the frequency of the operating point, or 0 if f is not
// a supported operating point.
func (f Frequency) MHz() int {
	if !f.valid() {
		return 0
	}
	return solutions[f].mhz
}

// FBDiv returns the feedback divider of the operating point.
func (f Frequency) FBDiv() uint16 {
	if !f.valid() {
		return 0
	}
	return solutions[f].fbdiv
}

// PostDividers returns the post-dividers of the operating point.
func (f Frequency) PostDividers() PostDividers {
	if !f.valid() {
		return PostDividers{}
	}
	return solutions[f].post
}

func (f Frequency) String() string {
	if !f.valid() {
		return fmt.Sprintf("Frequency(%d)", int(f))
	}
	return fmt.Sprintf("%d MHz", f.MHz())
}

// FrequencyError is returned for a frequency outside of the supported
// operating points.
type FrequencyError struct {
	MHz   int
	Point Frequency // invalid operating point, when MHz is zero
}

func (e *FrequencyError) Error() string {
	if e.MHz == 0 && e.Point != 0 {
		return fmt.Sprintf("pll: unsupported operating point %d", int(e.Point))
	}
	return fmt.Sprintf("pll: unsupported frequency: %d MHz", e.MHz)
}

// Controller drives the PLL registers of a chip.
type Controller struct {
	dev    chip.Device
	msg    *log.Logger
	base   uint64
	settle time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithSettle sets the pause after each single-step register write.
// A zero duration disables the pause.
func WithSettle(d time.Duration) Option {
	return func(c *Controller) {
		c.settle = d
	}
}

// WithBase sets the base address of the PLL register block.
func WithBase(addr uint64) Option {
	return func(c *Controller) {
		c.base = addr
	}
}

// WithLogger sets the logger reporting frequency transitions.
func WithLogger(msg *log.Logger) Option {
	return func(c *Controller) {
		c.msg = msg
	}
}

// New returns a controller for the L2CPU PLL of dev.
func New(dev chip.Device, opts ...Option) *Controller {
	c := &Controller{
		dev:    dev,
		msg:    log.New(os.Stdout, "pll: ", 0),
		base:   PLL4Base,
		settle: time.Nanosecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reads back the current divider registers.
func (c *Controller) State() (PostDividers, FeedbackDivider, error) {
	var (
		buf  = make([]byte, 4)
		post PostDividers
		fb   FeedbackDivider
	)

	err := c.dev.AXIRead(c.base+offCntl5, buf)
	if err != nil {
		return post, fb, fmt.Errorf("pll: could not read post-dividers: %w", err)
	}
	post, err = DecodePostDividers(buf)
	if err != nil {
		return post, fb, err
	}

	err = c.dev.AXIRead(c.base+offCntl1, buf)
	if err != nil {
		return post, fb, fmt.Errorf("pll: could not read feedback divider: %w", err)
	}
	fb = DecodeFeedbackDivider(buf)

	return post, fb, nil
}

// SetMHz moves the PLL to the operating point running at mhz.
// Unsupported frequencies are rejected before any register access.
func (c *Controller) SetMHz(mhz int) error {
	f, err := Lookup(mhz)
	if err != nil {
		return err
	}
	return c.SetFrequency(f)
}

// SetFrequency moves the PLL to the operating point f.
//
// Post-dividers that increase are stepped first, then the feedback
// divider, then the post-dividers that decrease. The output frequency
// thus never exceeds the larger of the initial and final frequencies.
// A failed write aborts the transition and leaves the registers where
// the last successful write put them.
func (c *Controller) SetFrequency(f Frequency) error {
	if !f.valid() {
		return &FrequencyError{Point: f}
	}

	post, fb, err := c.State()
	if err != nil {
		return err
	}

	type step struct {
		field  int
		target Div
	}
	var (
		target = f.PostDividers()
		incs   []step
		decs   []step
	)
	for i, v := range target {
		switch {
		case v > post[i]:
			incs = append(incs, step{i, v})
		case v < post[i]:
			decs = append(decs, step{i, v})
		}
	}

	c.msg.Printf("setting L2CPU PLL to %v (fbdiv %d -> %d)", f, fb.FBDiv, f.FBDiv())

	for _, s := range incs {
		err = c.stepPostDivider(&post, s.target, s.field)
		if err != nil {
			return fmt.Errorf("pll: could not set %v: %w", f, err)
		}
	}

	err = c.stepFeedbackDivider(&fb, f.FBDiv())
	if err != nil {
		return fmt.Errorf("pll: could not set %v: %w", f, err)
	}

	for _, s := range decs {
		err = c.stepPostDivider(&post, s.target, s.field)
		if err != nil {
			return fmt.Errorf("pll: could not set %v: %w", f, err)
		}
	}

	return nil
}

// stepPostDivider moves one post-divider field to target, one unit at a time,
// writing the whole PLL_CNTL_5 register after each step.
func (c *Controller) stepPostDivider(regs *PostDividers, target Div, field int) error {
	for regs[field] != target {
		if target > regs[field] {
			regs[field]++
		} else {
			regs[field]--
		}
		err := c.dev.AXIWrite(c.base+offCntl5, regs.Bytes())
		if err != nil {
			return fmt.Errorf("could not step post-divider %d to %d: %w", field, regs[field], err)
		}
		c.pause()
	}
	return nil
}

// stepFeedbackDivider moves the feedback divider to target, one unit at a time,
// writing the whole PLL_CNTL_1 register after each step.
func (c *Controller) stepFeedbackDivider(reg *FeedbackDivider, target uint16) error {
	for reg.FBDiv != target {
		if target > reg.FBDiv {
			reg.FBDiv++
		} else {
			reg.FBDiv--
		}
		err := c.dev.AXIWrite(c.base+offCntl1, reg.Bytes())
		if err != nil {
			return fmt.Errorf("could not step feedback divider to %d: %w", reg.FBDiv, err)
		}
		c.pause()
	}
	return nil
}

func (c *Controller) pause() {
	if c.settle > 0 {
		time.Sleep(c.settle)
	}
}
