// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pll

import (
	"encoding/binary"
	"fmt"
)

// MaxDiv is the largest value of a 4-bit post-divider field.
const MaxDiv = 15

// Div is a 4-bit post-divider value.
type Div uint8

// NewDiv returns v as a post-divider, rejecting values wider than 4 bits.
func NewDiv(v uint8) (Div, error) {
	if v > MaxDiv {
		return 0, fmt.Errorf("pll: post-divider value %d out of range [0,%d]", v, MaxDiv)
	}
	return Div(v), nil
}

// PostDividers is the content of PLL_CNTL_5: one divider per PLL output.
type PostDividers [4]Div

// DecodePostDividers decodes the 4 bytes of PLL_CNTL_5.
// It panics if p holds fewer than 4 bytes.
func DecodePostDividers(p []byte) (PostDividers, error) {
	var regs PostDividers
	_ = p[3]
	for i := range regs {
		v, err := NewDiv(p[i])
		if err != nil {
			return regs, fmt.Errorf("pll: invalid PLL_CNTL_5 field %d: %w", i, err)
		}
		regs[i] = v
	}
	return regs, nil
}

// Bytes returns the wire layout of PLL_CNTL_5.
func (regs PostDividers) Bytes() []byte {
	return []byte{byte(regs[0]), byte(regs[1]), byte(regs[2]), byte(regs[3])}
}

// FeedbackDivider is the content of PLL_CNTL_1.
type FeedbackDivider struct {
	RefDiv  uint8
	PostDiv uint8
	FBDiv   uint16
}

// DecodeFeedbackDivider decodes the 4 bytes of PLL_CNTL_1.
// It panics if p holds fewer than 4 bytes.
func DecodeFeedbackDivider(p []byte) FeedbackDivider {
	_ = p[3]
	return FeedbackDivider{
		RefDiv:  p[0],
		PostDiv: p[1],
		FBDiv:   binary.LittleEndian.Uint16(p[2:4]),
	}
}

// Bytes returns the wire layout of PLL_CNTL_1.
func (reg FeedbackDivider) Bytes() []byte {
	p := make([]byte, 4)
	p[0] = reg.RefDiv
	p[1] = reg.PostDiv
	binary.LittleEndian.PutUint16(p[2:], reg.FBDiv)
	return p
}
