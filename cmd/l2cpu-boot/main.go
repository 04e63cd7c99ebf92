// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command l2cpu-boot places OpenSBI, a kernel, a rootfs and a device tree
// into the memory of Blackhole L2CPUs, and optionally boots them.
package main // import "github.com/go-lpc/l2cpu/cmd/l2cpu-boot"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/l2cpu"
	"github.com/go-lpc/l2cpu/boot"
	"github.com/go-lpc/l2cpu/chip"
)

func main() {
	log.SetPrefix("l2cpu-boot: ")
	log.SetFlags(0)

	var (
		cores   = intList{0}
		sbiDst  hexList
		fsDst   hexList
		kDst    hexList
		dtbBin  strList
		dtbDst  hexList
		doBoot  = flag.Bool("boot", false, "boot the cores after placing the images")
		sbiBin  = flag.String("opensbi-bin", "", "path to the OpenSBI binary")
		fsBin   = flag.String("rootfs-bin", "", "path to the rootfs image")
		kBin    = flag.String("kernel-bin", "", "path to the kernel image")
		bootDev = flag.String("boot-device", "", "root device written into the dtb bootargs (vda, vdaN or initramfs)")
		devPath = flag.String("dev", "", "path to the TT-KMD device node (default: first Blackhole)")
		settle  = flag.Duration("settle", time.Nanosecond, "pause after each PLL divider step")
		unreset = flag.Bool("deassert", false, "explicitly deassert the L2CPU reset bits")
		tdelay  = flag.Duration("telemetry-delay", 1*time.Second, "pause before reading the harvesting telemetry")
		doReset = flag.Bool("reset", false, "reset the chip before placing the images")
		vers    = flag.Bool("version", false, "print version and exit")
	)
	flag.Var(&cores, "l2cpu", "comma-separated list of L2CPUs to boot")
	flag.Var(&sbiDst, "opensbi-dst", "comma-separated OpenSBI destination addresses, one per L2CPU")
	flag.Var(&fsDst, "rootfs-dst", "comma-separated rootfs destination addresses, one per L2CPU")
	flag.Var(&kDst, "kernel-dst", "comma-separated kernel destination addresses, one per L2CPU")
	flag.Var(&dtbBin, "dtb-bin", "comma-separated device tree paths, one per L2CPU")
	flag.Var(&dtbDst, "dtb-dst", "comma-separated device tree destination addresses, one per L2CPU")

	flag.Usage = func() {
		fmt.Printf(`l2cpu-boot places images into the memory of Blackhole L2CPUs.

Usage: l2cpu-boot [OPTIONS]

Example:

 $> l2cpu-boot -boot -l2cpu=0 \
      -opensbi-bin=fw_jump.bin -opensbi-dst=0x400030000000 \
      -kernel-bin=Image        -kernel-dst=0x400030200000 \
      -dtb-bin=x280.dtb        -dtb-dst=0x400030100000 \
      -boot-device=vda

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *vers {
		v, sum := l2cpu.Version()
		fmt.Printf("l2cpu-boot %s %s\n", v, sum)
		return
	}

	cfg := boot.Config{
		Cores:   cores,
		OpenSBI: image(*sbiBin, sbiDst),
		RootFS:  image(*fsBin, fsDst),
		Kernel:  image(*kBin, kDst),
		DTB:     boot.Image{Paths: dtbBin, Dsts: dtbDst},
		Boot:    *doBoot,
	}

	opts := []boot.Option{
		boot.WithSettle(*settle),
		boot.WithTelemetryDelay(*tdelay),
	}
	if *unreset {
		opts = append(opts, boot.WithDeassert())
	}
	if *bootDev != "" {
		opts = append(opts, boot.WithBootArgs(*bootDev))
	}

	var reset time.Duration
	if *doReset {
		reset = 2 * time.Second
	}

	err := run(os.Stdout, *devPath, reset, cfg, opts...)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func image(path string, dsts []uint64) boot.Image {
	var img boot.Image
	if path != "" {
		img.Paths = []string{path}
	}
	img.Dsts = dsts
	return img
}

var openDevice = func(path string) (chip.Device, error) {
	return chip.Select(path)
}

type resetter interface {
	Reset(timeout time.Duration) error
}

// run places the images of cfg, after resetting the chip when reset
// is a non-zero timeout.
func run(w io.Writer, path string, reset time.Duration, cfg boot.Config, opts ...boot.Option) error {
	err := cfg.Validate()
	if err != nil {
		return err
	}

	dev, err := openDevice(path)
	if err != nil {
		return fmt.Errorf("could not open chip: %w", err)
	}
	defer dev.Close()

	if reset > 0 {
		rst, ok := dev.(resetter)
		if !ok {
			return fmt.Errorf("chip %T can not be reset", dev)
		}
		fmt.Fprintf(w, "Waiting for up to %v for the ASIC to come back after reset\n", reset)
		err = rst.Reset(reset)
		if err != nil {
			return err
		}
	}

	rep, err := boot.New(dev, opts...).Boot(cfg)
	if err != nil {
		return fmt.Errorf("could not boot %v: %w", cfg.Cores, err)
	}

	if !cfg.Boot {
		fmt.Fprintf(w, "Not booting (you didn't pass -boot)\n")
	}
	fmt.Fprintf(w, "%v\n", rep)

	err = dev.Close()
	if err != nil {
		return fmt.Errorf("could not close chip: %w", err)
	}
	return nil
}
