// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command l2cpu-status reports which L2CPUs of a Blackhole chip can be
// booted, and which ones already run a console.
package main // import "github.com/go-lpc/l2cpu/cmd/l2cpu-status"

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-lpc/l2cpu/boot"
	"github.com/go-lpc/l2cpu/chip"
)

func main() {
	log.SetPrefix("l2cpu-status: ")
	log.SetFlags(0)

	var (
		devPath = flag.String("dev", "", "path to the TT-KMD device node (default: first Blackhole)")
		console = flag.String("console", "tt-bh-linux", "name of the console process attached to a running L2CPU")
	)

	flag.Parse()

	err := run(os.Stdout, *devPath, *console)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var (
	openDevice = func(path string) (chip.Device, error) {
		return chip.Select(path)
	}
	procDir = "/proc"
)

func run(w io.Writer, path, console string) error {
	dev, err := openDevice(path)
	if err != nil {
		return fmt.Errorf("could not open chip: %w", err)
	}
	defer dev.Close()

	status, err := boot.Status(dev)
	if err != nil {
		return err
	}
	running := runningCores(console)

	fmt.Fprintf(w, "L2CPU Status:\n")
	for _, st := range status {
		state := st.String()
		if st.Available() && running[st.Core] {
			state = "Running"
		}
		fmt.Fprintf(w, "  L2CPU %d: %s\n", st.Core, state)
	}
	return nil
}

// runningCores returns the L2CPUs passed as "--l2cpu N" to a running
// console process.
func runningCores(console string) map[int]bool {
	running := make(map[int]bool)
	cmdlines, err := filepath.Glob(filepath.Join(procDir, "[0-9]*", "cmdline"))
	if err != nil {
		return running
	}
	for _, fname := range cmdlines {
		raw, err := os.ReadFile(fname)
		if err != nil {
			continue
		}
		args := bytes.Split(bytes.TrimRight(raw, "\x00"), []byte{0})
		if len(args) == 0 || filepath.Base(string(args[0])) != console {
			continue
		}
		for i, arg := range args[:len(args)-1] {
			if string(arg) != "--l2cpu" {
				continue
			}
			core, err := strconv.Atoi(string(args[i+1]))
			if err != nil {
				continue
			}
			running[core] = true
		}
	}
	return running
}
