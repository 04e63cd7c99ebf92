// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command l2cpu-ctl is an interactive console to inspect and drive the
// L2CPUs of a Blackhole chip.
package main // import "github.com/go-lpc/l2cpu/cmd/l2cpu-ctl"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/l2cpu/boot"
	"github.com/go-lpc/l2cpu/chip"
	"github.com/go-lpc/l2cpu/pll"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("l2cpu-ctl: ")
	log.SetFlags(0)

	var (
		devPath = flag.String("dev", "", "path to the TT-KMD device node (default: first Blackhole)")
		settle  = flag.Duration("settle", time.Nanosecond, "pause after each PLL divider step")
	)

	flag.Parse()

	err := run(*devPath, *settle)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var openDevice = func(path string) (chip.Device, error) {
	return chip.Select(path)
}

func run(path string, settle time.Duration) error {
	dev, err := openDevice(path)
	if err != nil {
		return fmt.Errorf("could not open chip: %w", err)
	}
	defer dev.Close()

	con := newConsole(os.Stdout, dev, settle)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(con.complete)

	hist := historyFile()
	if f, err := os.Open(hist); err == nil {
		_, _ = ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = ln.WriteHistory(f)
	}()

	for {
		line, err := ln.Prompt("l2cpu> ")
		switch {
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)

		quit, err := con.exec(line)
		if err != nil {
			log.Printf("%+v", err)
		}
		if quit {
			return nil
		}
	}
}

func historyFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".l2cpu-ctl.history")
}

type console struct {
	w   io.Writer
	dev chip.Device
	pll *pll.Controller
}

func newConsole(w io.Writer, dev chip.Device, settle time.Duration) *console {
	return &console{
		w:   w,
		dev: dev,
		pll: pll.New(dev, pll.WithSettle(settle), pll.WithLogger(log.New(w, "pll: ", 0))),
	}
}

var commands = []struct {
	name string
	args string
	help string
}{
	{"clk", "MHZ", "set the L2CPU PLL frequency"},
	{"pll", "", "display the L2CPU PLL dividers"},
	{"status", "", "display the harvesting state of the L2CPUs"},
	{"rd32", "X Y ADDR", "read a 32-bit word from NOC tile (X,Y)"},
	{"wr32", "X Y ADDR VALUE", "write a 32-bit word to NOC tile (X,Y)"},
	{"axird", "ADDR", "read a 32-bit word from the AXI bus"},
	{"help", "", "display this help"},
	{"quit", "", "leave the console"},
}

func (con *console) complete(line string) []string {
	var o []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd.name, line) {
			o = append(o, cmd.name)
		}
	}
	return o
}

func (con *console) exec(line string) (quit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	switch cmd, args := args[0], args[1:]; cmd {
	case "quit", "exit":
		return true, nil

	case "help":
		for _, cmd := range commands {
			fmt.Fprintf(con.w, "  %-6s %-16s %s\n", cmd.name, cmd.args, cmd.help)
		}
		return false, nil

	case "clk":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: clk MHZ")
		}
		mhz, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid frequency %q: %w", args[0], err)
		}
		return false, con.pll.SetMHz(mhz)

	case "pll":
		post, fb, err := con.pll.State()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(con.w, "refdiv=%d postdiv=%d fbdiv=%d postdivs=%v\n",
			fb.RefDiv, fb.PostDiv, fb.FBDiv, post,
		)
		return false, nil

	case "status":
		status, err := boot.Status(con.dev)
		if err != nil {
			return false, err
		}
		for _, st := range status {
			fmt.Fprintf(con.w, "L2CPU %d: %v\n", st.Core, st)
		}
		return false, nil

	case "rd32":
		vs, err := parseArgs(args, 3, "usage: rd32 X Y ADDR")
		if err != nil {
			return false, err
		}
		v, err := con.dev.NOCRead32(0, uint8(vs[0]), uint8(vs[1]), vs[2])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(con.w, "0x%08x\n", v)
		return false, nil

	case "wr32":
		vs, err := parseArgs(args, 4, "usage: wr32 X Y ADDR VALUE")
		if err != nil {
			return false, err
		}
		return false, con.dev.NOCWrite32(0, uint8(vs[0]), uint8(vs[1]), vs[2], uint32(vs[3]))

	case "axird":
		vs, err := parseArgs(args, 1, "usage: axird ADDR")
		if err != nil {
			return false, err
		}
		v, err := con.dev.AXIRead32(vs[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(con.w, "0x%08x\n", v)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// parseArgs parses n integers, in decimal or 0x-prefixed hexadecimal.
func parseArgs(args []string, n int, usage string) ([]uint64, error) {
	if len(args) != n {
		return nil, errors.New(usage)
	}
	vs := make([]uint64, n)
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", arg, err)
		}
		vs[i] = v
	}
	return vs, nil
}
