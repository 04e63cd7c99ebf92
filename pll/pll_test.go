// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pll

import (
	"errors"
	"fmt"
	"io"
	"log"
	"reflect"
	"testing"

	"github.com/go-lpc/l2cpu/internal/fakechip"
)

func newTestController(dev *fakechip.Chip) *Controller {
	return New(dev, WithSettle(0), WithLogger(log.New(io.Discard, "", 0)))
}

func preset(dev *fakechip.Chip, post PostDividers, fb FeedbackDivider) {
	dev.SetAXI32(PLL4Base+offCntl5, le32(post.Bytes()))
	dev.SetAXI32(PLL4Base+offCntl1, le32(fb.Bytes()))
}

func le32(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func TestRegisterRoundTrip(t *testing.T) {
	for _, post := range []PostDividers{
		{0, 0, 0, 0},
		{1, 2, 3, 4},
		{15, 15, 15, 15},
		{15, 0, 7, 1},
	} {
		got, err := DecodePostDividers(post.Bytes())
		if err != nil {
			t.Fatalf("could not decode %v: %+v", post, err)
		}
		if got != post {
			t.Fatalf("invalid round-trip: got=%v, want=%v", got, post)
		}
	}

	for _, fb := range []FeedbackDivider{
		{RefDiv: 2, PostDiv: 0, FBDiv: 128},
		{RefDiv: 1, PostDiv: 3, FBDiv: 0xbeef},
	} {
		if got := DecodeFeedbackDivider(fb.Bytes()); got != fb {
			t.Fatalf("invalid round-trip: got=%+v, want=%+v", got, fb)
		}
	}
}

func TestFeedbackDividerLayout(t *testing.T) {
	fb := FeedbackDivider{RefDiv: 0x02, PostDiv: 0x03, FBDiv: 0x018c}
	if got, want := fb.Bytes(), []byte{0x02, 0x03, 0x8c, 0x01}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid layout: got=%v, want=%v", got, want)
	}
}

func TestDiv(t *testing.T) {
	for v := 0; v <= 255; v++ {
		_, err := NewDiv(uint8(v))
		switch {
		case v <= MaxDiv && err != nil:
			t.Fatalf("could not create div=%d: %+v", v, err)
		case v > MaxDiv && err == nil:
			t.Fatalf("div=%d should have been rejected", v)
		}
	}

	_, err := DecodePostDividers([]byte{1, 2, 16, 4})
	if err == nil {
		t.Fatalf("expected an error decoding an out-of-range field")
	}
}

func TestDecodeShortInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic")
		}
	}()
	DecodeFeedbackDivider([]byte{1, 2, 3})
}

func TestLookup(t *testing.T) {
	for _, tc := range []struct {
		mhz   int
		fbdiv uint16
		post  PostDividers
	}{
		{200, 128, PostDividers{15, 15, 15, 15}},
		{1750, 140, PostDividers{1, 1, 1, 1}},
	} {
		t.Run(fmt.Sprintf("%d", tc.mhz), func(t *testing.T) {
			f, err := Lookup(tc.mhz)
			if err != nil {
				t.Fatalf("could not lookup: %+v", err)
			}
			if got, want := f.FBDiv(), tc.fbdiv; got != want {
				t.Fatalf("invalid fbdiv: got=%d, want=%d", got, want)
			}
			if got, want := f.PostDividers(), tc.post; got != want {
				t.Fatalf("invalid post-dividers: got=%v, want=%v", got, want)
			}
			if got, want := f.MHz(), tc.mhz; got != want {
				t.Fatalf("invalid mhz: got=%d, want=%d", got, want)
			}
		})
	}

	for _, mhz := range []int{0, 199, 1000, 1751} {
		_, err := Lookup(mhz)
		var ferr *FrequencyError
		if !errors.As(err, &ferr) {
			t.Fatalf("mhz=%d: invalid error: %+v", mhz, err)
		}
		if ferr.MHz != mhz {
			t.Fatalf("invalid error payload: got=%d, want=%d", ferr.MHz, mhz)
		}
	}
}

func TestSetMHzUnsupported(t *testing.T) {
	dev := fakechip.New()
	ctl := newTestController(dev)

	err := ctl.SetMHz(1000)
	var ferr *FrequencyError
	if !errors.As(err, &ferr) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got := len(dev.Ops()); got != 0 {
		t.Fatalf("chip was accessed %d times", got)
	}
}

func TestSetFrequencyInvalid(t *testing.T) {
	for _, f := range []Frequency{-1, Frequency(len(solutions)), 42} {
		t.Run(fmt.Sprintf("%d", int(f)), func(t *testing.T) {
			dev := fakechip.New()
			ctl := newTestController(dev)

			err := ctl.SetFrequency(f)
			var ferr *FrequencyError
			if !errors.As(err, &ferr) {
				t.Fatalf("invalid error: %+v", err)
			}
			if ferr.Point != f {
				t.Fatalf("invalid error payload: got=%d, want=%d", ferr.Point, f)
			}
			if got, want := err.Error(), fmt.Sprintf("pll: unsupported operating point %d", int(f)); got != want {
				t.Fatalf("invalid error message: got=%q, want=%q", got, want)
			}
			if got := len(dev.Ops()); got != 0 {
				t.Fatalf("chip was accessed %d times", got)
			}

			if f.MHz() != 0 || f.FBDiv() != 0 || f.PostDividers() != (PostDividers{}) {
				t.Fatalf("invalid operating point has a solution")
			}
			if got, want := f.String(), fmt.Sprintf("Frequency(%d)", int(f)); got != want {
				t.Fatalf("invalid string: got=%q, want=%q", got, want)
			}
		})
	}
}

func TestStepPostDivider(t *testing.T) {
	for _, tc := range []struct {
		init   Div
		target Div
	}{
		{0, 15},
		{15, 0},
		{1, 15},
		{7, 7},
		{15, 14},
	} {
		for field := 0; field < 4; field++ {
			t.Run(fmt.Sprintf("field=%d-%d->%d", field, tc.init, tc.target), func(t *testing.T) {
				dev := fakechip.New()
				ctl := newTestController(dev)
				var regs PostDividers
				regs[field] = tc.init

				err := ctl.stepPostDivider(&regs, tc.target, field)
				if err != nil {
					t.Fatalf("could not step: %+v", err)
				}
				if got, want := regs[field], tc.target; got != want {
					t.Fatalf("invalid field value: got=%d, want=%d", got, want)
				}

				want := int(tc.init) - int(tc.target)
				if want < 0 {
					want = -want
				}
				writes := dev.Writes()
				if got := len(writes); got != want {
					t.Fatalf("invalid number of writes: got=%d, want=%d", got, want)
				}

				prev := int(tc.init)
				for i, w := range writes {
					if w.Addr != PLL4Base+offCntl5 {
						t.Fatalf("write %d: invalid address 0x%x", i, w.Addr)
					}
					cur := int(w.Data[field])
					if d := cur - prev; d != 1 && d != -1 {
						t.Fatalf("write %d: non-unit step %d -> %d", i, prev, cur)
					}
					prev = cur
				}
			})
		}
	}
}

func TestStepFeedbackDivider(t *testing.T) {
	dev := fakechip.New()
	ctl := newTestController(dev)
	reg := FeedbackDivider{RefDiv: 2, PostDiv: 5, FBDiv: 140}

	err := ctl.stepFeedbackDivider(&reg, 128)
	if err != nil {
		t.Fatalf("could not step: %+v", err)
	}
	writes := dev.Writes()
	if got, want := len(writes), 12; got != want {
		t.Fatalf("invalid number of writes: got=%d, want=%d", got, want)
	}
	for i, w := range writes {
		got := DecodeFeedbackDivider(w.Data)
		if got.RefDiv != 2 || got.PostDiv != 5 {
			t.Fatalf("write %d: refdiv/postdiv not preserved: %+v", i, got)
		}
		if want := uint16(140 - i - 1); got.FBDiv != want {
			t.Fatalf("write %d: invalid fbdiv: got=%d, want=%d", i, got.FBDiv, want)
		}
	}
}

// transition replays the register writes of a SetFrequency call and
// returns the phases (inc, fb, dec) of each write, along with the
// relative output frequency after each write.
func transition(t *testing.T, init PostDividers, fb FeedbackDivider, writes []fakechip.Op) (phases []string, freqs [][4]float64) {
	t.Helper()
	post := init
	for _, w := range writes {
		switch w.Addr {
		case PLL4Base + offCntl5:
			next, err := DecodePostDividers(w.Data)
			if err != nil {
				t.Fatalf("invalid post-divider write: %+v", err)
			}
			phase := "dec"
			for i := range next {
				if next[i] > post[i] {
					phase = "inc"
				}
			}
			phases = append(phases, phase)
			post = next
		case PLL4Base + offCntl1:
			phases = append(phases, "fb")
			fb = DecodeFeedbackDivider(w.Data)
		default:
			t.Fatalf("unexpected write at 0x%x", w.Addr)
		}
		var fs [4]float64
		for i := range fs {
			fs[i] = float64(fb.FBDiv) / float64(post[i]+1)
		}
		freqs = append(freqs, fs)
	}
	return phases, freqs
}

func TestSetFrequency(t *testing.T) {
	for _, tc := range []struct {
		name string
		post PostDividers
		fb   uint16
		mhz  int
	}{
		{"run-to-safe", PostDividers{1, 1, 1, 1}, 140, 200},
		{"safe-to-run", PostDividers{15, 15, 15, 15}, 128, 1750},
		{"mixed-to-run", PostDividers{0, 15, 1, 3}, 100, 1750},
		{"mixed-to-safe", PostDividers{0, 15, 1, 3}, 150, 200},
		{"noop", PostDividers{1, 1, 1, 1}, 140, 1750},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := fakechip.New()
			init := FeedbackDivider{RefDiv: 2, PostDiv: 0, FBDiv: tc.fb}
			preset(dev, tc.post, init)
			ctl := newTestController(dev)

			err := ctl.SetMHz(tc.mhz)
			if err != nil {
				t.Fatalf("could not set frequency: %+v", err)
			}

			f, _ := Lookup(tc.mhz)
			post, fb, err := ctl.State()
			if err != nil {
				t.Fatalf("could not read back state: %+v", err)
			}
			if got, want := post, f.PostDividers(); got != want {
				t.Fatalf("invalid post-dividers: got=%v, want=%v", got, want)
			}
			if got, want := fb, (FeedbackDivider{RefDiv: 2, FBDiv: f.FBDiv()}); got != want {
				t.Fatalf("invalid feedback divider: got=%+v, want=%+v", got, want)
			}

			writes := dev.Writes()
			steps := int(absDiff(int(tc.fb), int(f.FBDiv())))
			for i := range post {
				steps += int(absDiff(int(tc.post[i]), int(f.PostDividers()[i])))
			}
			if got := len(writes); got != steps {
				t.Fatalf("invalid number of writes: got=%d, want=%d", got, steps)
			}

			phases, freqs := transition(t, tc.post, init, writes)
			order := map[string]int{"inc": 0, "fb": 1, "dec": 2}
			for i := 1; i < len(phases); i++ {
				if order[phases[i]] < order[phases[i-1]] {
					t.Fatalf("write %d: phase %q after %q", i, phases[i], phases[i-1])
				}
			}

			for out := 0; out < 4; out++ {
				start := float64(tc.fb) / float64(tc.post[out]+1)
				end := float64(f.FBDiv()) / float64(f.PostDividers()[out]+1)
				max := start
				if end > max {
					max = end
				}
				for i, fs := range freqs {
					if fs[out] > max {
						t.Fatalf("write %d: output %d overshoots: %v > %v", i, out, fs[out], max)
					}
				}
			}
		})
	}
}

func TestSetFrequencyAbort(t *testing.T) {
	dev := fakechip.New()
	preset(dev, PostDividers{1, 1, 1, 1}, FeedbackDivider{RefDiv: 2, FBDiv: 140})
	ctl := newTestController(dev)

	eio := errors.New("eio")
	n := 0
	dev.Fail = func(op fakechip.Op) error {
		if !op.Kind.IsWrite() {
			return nil
		}
		n++
		if n == 5 {
			return eio
		}
		return nil
	}

	err := ctl.SetMHz(200)
	if !errors.Is(err, eio) {
		t.Fatalf("invalid error: %+v", err)
	}

	// 4 successful steps of post-divider 0, the 5th write failed.
	post, _, err := func() (PostDividers, FeedbackDivider, error) {
		dev.Fail = nil
		return ctl.State()
	}()
	if err != nil {
		t.Fatalf("could not read back state: %+v", err)
	}
	if got, want := post, (PostDividers{5, 1, 1, 1}); got != want {
		t.Fatalf("invalid post-dividers after abort: got=%v, want=%v", got, want)
	}
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
