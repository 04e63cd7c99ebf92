// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package boot places firmware images into the memory of Blackhole L2CPU
// clusters and brings them out of reset.
//
// A boot request goes through five phases:
//   - validate: check the request and the harvesting state of the chip,
//   - load: read and pad the images,
//   - place: enable the L3 cache, write the images and the reset vectors,
//   - reset cycle: toggle reset while the PLL runs at its safe frequency,
//   - prefetch: configure the L2 prefetchers.
//
// No chip register is written before validation succeeds.
package boot // import "github.com/go-lpc/l2cpu/boot"

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/l2cpu/chip"
	"github.com/go-lpc/l2cpu/pll"
)

const (
	noc = 0

	l3RegBase  = 0x02010000
	l3WayMask  = l3RegBase + 8
	l3AllWays  = 0xf
	resetUnit  = 0x80030000
	resetL2CPU = resetUnit + 0x14

	resetVectorBase = 0xfffff7fefff10000
	numResetVectors = 4

	prefetchBase = 0x02030000
	prefetchCtl0 = 0x15811
	prefetchCtl1 = 0x38c84e
)

var prefetchOffsets = [...]uint64{0x0000, 0x2000, 0x4000, 0x6000}

// Sequencer boots L2CPU clusters of a chip.
type Sequencer struct {
	dev chip.Device
	msg *log.Logger
	ldr Loader

	settle   time.Duration
	deassert bool
	tdelay   time.Duration
	bootdev  string
}

// New returns a sequencer driving dev.
func New(dev chip.Device, opts ...Option) *Sequencer {
	s := &Sequencer{
		dev:    dev,
		msg:    log.New(os.Stdout, "boot: ", 0),
		ldr:    FileLoader,
		settle: time.Nanosecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Placement records an image written to L2CPU memory.
type Placement struct {
	Core int
	Kind ImageKind
	Addr uint64
	Size int
}

// Report summarizes a boot request.
type Report struct {
	Cores      []int
	Placements []Placement
	Reset      bool // reset cycle performed
}

func (rep Report) String() string {
	cores := make([]string, len(rep.Cores))
	for i, core := range rep.Cores {
		cores[i] = fmt.Sprintf("L2CPU %d", core)
	}
	if rep.Reset {
		return fmt.Sprintf("%s: images placed, reset cycle done", strings.Join(cores, ", "))
	}
	return fmt.Sprintf("%s: images placed, core left in reset", strings.Join(cores, ", "))
}

// Boot runs all the phases of cfg.
// The reset cycle is skipped unless cfg.Boot is set.
func (s *Sequencer) Boot(cfg Config) (Report, error) {
	rep, err := s.Stage(cfg)
	if err != nil {
		return rep, err
	}
	err = s.Start(cfg, &rep)
	if err != nil {
		return rep, err
	}
	return rep, nil
}

// Stage validates cfg, loads its images and places them.
func (s *Sequencer) Stage(cfg Config) (Report, error) {
	rep := Report{Cores: cfg.Cores}

	err := s.Validate(cfg)
	if err != nil {
		return rep, err
	}

	imgs, err := s.load(cfg)
	if err != nil {
		return rep, err
	}

	for i, core := range cfg.Cores {
		err = s.place(core, i, cfg, imgs, &rep)
		if err != nil {
			return rep, fmt.Errorf("boot: could not place images on L2CPU %d: %w", core, err)
		}
	}
	return rep, nil
}

// Start runs the reset cycle, when cfg.Boot is set, then configures the
// prefetchers of the requested cores.
func (s *Sequencer) Start(cfg Config, rep *Report) error {
	if cfg.Boot {
		err := s.ResetCycle(cfg.Cores)
		if err != nil {
			return err
		}
		rep.Reset = true
	} else {
		s.msg.Printf("not booting, L2CPU %v left in reset", cfg.Cores)
	}

	for _, core := range cfg.Cores {
		err := s.Prefetch(core)
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks cfg and the harvesting state of the requested cores.
// The chip is only accessed once cfg is found consistent, and never written.
func (s *Sequencer) Validate(cfg Config) error {
	err := cfg.Validate()
	if err != nil {
		return err
	}
	if s.bootdev != "" && cfg.DTB.present() {
		if s.bootdev == "initramfs" && !cfg.RootFS.present() {
			return &ConfigError{Field: "boot-device", Reason: "initramfs requires a rootfs image"}
		}
		_, err = BootArgs(s.bootdev, 0, 0)
		if err != nil {
			return err
		}
	}

	if s.tdelay > 0 {
		s.msg.Printf("waiting %v for telemetry...", s.tdelay)
		time.Sleep(s.tdelay)
	}
	tm, err := s.dev.Telemetry()
	if err != nil {
		return fmt.Errorf("boot: could not read telemetry: %w", err)
	}
	for _, core := range cfg.Cores {
		err = checkHarvest(tm, core)
		if err != nil {
			return err
		}
	}
	return nil
}

func checkHarvest(tm chip.Telemetry, core int) error {
	if (tm.EnabledL2CPU>>uint(core))&1 == 0 {
		return &HarvestedError{Core: core, Resource: Core}
	}
	if (tm.EnabledGDDR>>GDDRBit(core))&1 == 0 {
		return &HarvestedError{Core: core, Resource: Memory}
	}
	return nil
}

func (s *Sequencer) load(cfg Config) (payload, error) {
	imgs, err := load(s.ldr, cfg)
	if err != nil {
		return imgs, err
	}
	if s.bootdev == "" || imgs[DTB] == nil {
		return imgs, nil
	}

	for i, core := range cfg.Cores {
		var (
			rootfs uint64
			size   int
		)
		if imgs[RootFS] != nil {
			rootfs = cfg.RootFS.Dsts[i]
			size = len(imgs[RootFS][i])
		}
		args, err := BootArgs(s.bootdev, rootfs, size)
		if err != nil {
			return imgs, err
		}
		dtb, err := PatchBootArgs(imgs[DTB][i], args)
		if err != nil {
			return imgs, &ImageError{Kind: DTB, Path: cfg.DTB.path(i), Err: err}
		}
		s.msg.Printf("L2CPU %d: bootargs=%q", core, args)
		imgs[DTB][i] = dtb
	}
	return imgs, nil
}

// place writes the images of the i-th requested core, then points its
// reset vectors at the primary firmware.
func (s *Sequencer) place(core, i int, cfg Config, imgs payload, rep *Report) error {
	x, y := Tile(core)

	err := s.dev.NOCWrite32(noc, x, y, l3WayMask, l3AllWays)
	if err != nil {
		return fmt.Errorf("could not enable L3 cache: %w", err)
	}
	_, err = s.dev.NOCRead32(noc, x, y, l3WayMask)
	if err != nil {
		return fmt.Errorf("could not read back L3 way mask: %w", err)
	}

	images := cfg.images()
	for kind := range images {
		if imgs[kind] == nil {
			continue
		}
		var (
			addr = images[kind].Dsts[i]
			data = imgs[kind][i]
		)
		s.msg.Printf("L2CPU %d: writing %d bytes of %v to 0x%x", core, len(data), ImageKind(kind), addr)
		err = s.dev.NOCWrite(noc, x, y, addr, data)
		if err != nil {
			return fmt.Errorf("could not write %v: %w", ImageKind(kind), err)
		}
		rep.Placements = append(rep.Placements, Placement{
			Core: core,
			Kind: ImageKind(kind),
			Addr: addr,
			Size: len(data),
		})
	}

	entry := cfg.OpenSBI.Dsts[i]
	for j := 0; j < numResetVectors; j++ {
		slot := resetVectorBase + 8*uint64(j)
		err = s.dev.NOCWrite32(noc, x, y, slot, uint32(entry))
		if err != nil {
			return fmt.Errorf("could not write reset vector %d: %w", j, err)
		}
		err = s.dev.NOCWrite32(noc, x, y, slot+4, uint32(entry>>32))
		if err != nil {
			return fmt.Errorf("could not write reset vector %d: %w", j, err)
		}
	}
	return nil
}

func resetMask(cores []int) uint32 {
	var mask uint32
	for _, core := range cores {
		mask |= 1 << uint(core+4)
	}
	return mask
}

// ResetCycle drops the L2CPU PLL to its safe frequency, sets the reset
// bits of all cores in a single write, and raises the PLL back to its
// run frequency.
//
// Unless WithDeassert was given, the reset bits are left set.
func (s *Sequencer) ResetCycle(cores []int) error {
	ctl := pll.New(s.dev,
		pll.WithSettle(s.settle),
		pll.WithLogger(log.New(s.msg.Writer(), "pll: ", s.msg.Flags())),
	)

	err := ctl.SetFrequency(pll.Safe)
	if err != nil {
		return fmt.Errorf("boot: could not lower L2CPU clock: %w", err)
	}

	mask := resetMask(cores)
	err = s.rmwReset(func(v uint32) uint32 { return v | mask })
	if err != nil {
		return fmt.Errorf("boot: could not assert L2CPU reset: %w", err)
	}

	if s.deassert {
		err = s.rmwReset(func(v uint32) uint32 { return v &^ mask })
		if err != nil {
			return fmt.Errorf("boot: could not deassert L2CPU reset: %w", err)
		}
	} else {
		s.msg.Printf("reset bits 0x%x set, not explicitly deasserted", mask)
	}

	err = ctl.SetFrequency(pll.Run)
	if err != nil {
		return fmt.Errorf("boot: could not raise L2CPU clock: %w", err)
	}
	return nil
}

// rmwReset applies f to the L2CPU reset register and reads it back.
func (s *Sequencer) rmwReset(f func(v uint32) uint32) error {
	v, err := s.dev.AXIRead32(resetL2CPU)
	if err != nil {
		return err
	}
	err = s.dev.AXIWrite32(resetL2CPU, f(v))
	if err != nil {
		return err
	}
	_, err = s.dev.AXIRead32(resetL2CPU)
	return err
}

// Prefetch configures the four L2 prefetchers of core.
func (s *Sequencer) Prefetch(core int) error {
	x, y := Tile(core)
	for _, off := range prefetchOffsets {
		addr := prefetchBase + off
		err := s.dev.NOCWrite32(noc, x, y, addr, prefetchCtl0)
		if err != nil {
			return fmt.Errorf("boot: could not configure prefetcher of L2CPU %d: %w", core, err)
		}
		err = s.dev.NOCWrite32(noc, x, y, addr+4, prefetchCtl1)
		if err != nil {
			return fmt.Errorf("boot: could not configure prefetcher of L2CPU %d: %w", core, err)
		}
	}
	return nil
}
