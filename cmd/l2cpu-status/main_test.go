// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/l2cpu/chip"
	"github.com/go-lpc/l2cpu/internal/fakechip"
)

func TestRun(t *testing.T) {
	origOpen, origProc := openDevice, procDir
	defer func() {
		openDevice, procDir = origOpen, origProc
	}()

	procDir = t.TempDir()
	for pid, cmdline := range map[string]string{
		"1":    "/sbin/init\x00",
		"42":   "/usr/bin/tt-bh-linux\x00--l2cpu\x000\x00",
		"43":   "tt-bh-linux\x00--l2cpu\x002\x00", // harvested
		"self": "tt-bh-linux\x00--l2cpu\x003\x00", // not a pid
	} {
		dir := filepath.Join(procDir, pid)
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			t.Fatalf("could not create %s: %+v", dir, err)
		}
		err = os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0644)
		if err != nil {
			t.Fatalf("could not create cmdline: %+v", err)
		}
	}

	dev := fakechip.New()
	dev.Telem.EnabledL2CPU = 0xb
	openDevice = func(path string) (chip.Device, error) { return dev, nil }

	out := new(bytes.Buffer)
	err := run(out, "", "tt-bh-linux")
	if err != nil {
		t.Fatalf("could not run: %+v", err)
	}

	want := `L2CPU Status:
  L2CPU 0: Running
  L2CPU 1: Available
  L2CPU 2: Harvested
  L2CPU 3: Available
`
	if got := out.String(); got != want {
		t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
