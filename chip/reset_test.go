// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chip

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitReset(t *testing.T) {
	tmp := t.TempDir()
	for _, tc := range []struct {
		name string
		cmd  byte
		err  bool
	}{
		{"done", 0x04, false},
		{"pending", 0x06, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(tmp, tc.name)
			err := os.WriteFile(fname, []byte{0xe, 0x1e, 0x40, 0xb1, tc.cmd, 0x00}, 0644)
			if err != nil {
				t.Fatalf("could not create config space: %+v", err)
			}
			err = waitReset(fname, 5*time.Millisecond)
			switch {
			case tc.err && err == nil:
				t.Fatalf("expected a timeout")
			case !tc.err && err != nil:
				t.Fatalf("could not wait for reset: %+v", err)
			}
		})
	}

	err := waitReset(filepath.Join(tmp, "missing"), time.Millisecond)
	if err == nil {
		t.Fatalf("expected an error")
	}

	short := filepath.Join(tmp, "short")
	err = os.WriteFile(short, []byte{0, 1}, 0644)
	if err != nil {
		t.Fatalf("could not create config space: %+v", err)
	}
	err = waitReset(short, time.Millisecond)
	if err == nil {
		t.Fatalf("expected an error on a truncated config space")
	}
}

func TestResetWormhole(t *testing.T) {
	dev := &PCIe{arch: Wormhole}
	err := dev.Reset(time.Millisecond)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
