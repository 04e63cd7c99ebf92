// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command l2cpu-clk sets the frequency of the Blackhole L2CPU PLL.
package main // import "github.com/go-lpc/l2cpu/cmd/l2cpu-clk"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-lpc/l2cpu/chip"
	"github.com/go-lpc/l2cpu/pll"
)

func main() {
	log.SetPrefix("l2cpu-clk: ")
	log.SetFlags(0)

	var (
		devPath = flag.String("dev", "", "path to the TT-KMD device node (default: first Blackhole)")
		settle  = flag.Duration("settle", time.Nanosecond, "pause after each PLL divider step")
	)

	flag.Usage = func() {
		fmt.Printf(`l2cpu-clk sets the frequency of the Blackhole L2CPU PLL.

Usage: l2cpu-clk [OPTIONS] MHZ

Supported frequencies: 200, 1750.

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing target frequency")
	}

	mhz, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		log.Fatalf("invalid frequency %q: %+v", flag.Arg(0), err)
	}

	err = run(os.Stdout, *devPath, mhz, *settle)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var openDevice = func(path string) (chip.Device, error) {
	return chip.Select(path)
}

func run(w io.Writer, path string, mhz int, settle time.Duration) error {
	f, err := pll.Lookup(mhz)
	if err != nil {
		return err
	}

	dev, err := openDevice(path)
	if err != nil {
		return fmt.Errorf("could not open chip: %w", err)
	}
	defer dev.Close()

	ctl := pll.New(dev,
		pll.WithSettle(settle),
		pll.WithLogger(log.New(w, "pll: ", 0)),
	)

	err = dump(w, "before", ctl)
	if err != nil {
		return err
	}

	err = ctl.SetFrequency(f)
	if err != nil {
		return err
	}

	err = dump(w, "after", ctl)
	if err != nil {
		return err
	}

	err = dev.Close()
	if err != nil {
		return fmt.Errorf("could not close chip: %w", err)
	}
	return nil
}

func dump(w io.Writer, label string, ctl *pll.Controller) error {
	post, fb, err := ctl.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-6s refdiv=%d postdiv=%d fbdiv=%d postdivs=%v\n",
		label+":", fb.RefDiv, fb.PostDiv, fb.FBDiv, post,
	)
	return nil
}
