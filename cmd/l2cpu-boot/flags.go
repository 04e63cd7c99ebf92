// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"
)

// hexList is a comma-separated list of addresses, one per L2CPU.
type hexList []uint64

func (l *hexList) String() string {
	if l == nil {
		return ""
	}
	o := make([]string, len(*l))
	for i, v := range *l {
		o[i] = fmt.Sprintf("0x%x", v)
	}
	return strings.Join(o, ",")
}

func (l *hexList) Set(s string) error {
	var o hexList
	for _, v := range split(s) {
		addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(v), "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", v, err)
		}
		o = append(o, addr)
	}
	*l = o
	return nil
}

// intList is a comma-separated list of L2CPU indices.
type intList []int

func (l *intList) String() string {
	if l == nil {
		return ""
	}
	o := make([]string, len(*l))
	for i, v := range *l {
		o[i] = strconv.Itoa(v)
	}
	return strings.Join(o, ",")
}

func (l *intList) Set(s string) error {
	var o intList
	for _, v := range split(s) {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid L2CPU index %q: %w", v, err)
		}
		o = append(o, i)
	}
	*l = o
	return nil
}

// strList is a comma-separated list of paths.
type strList []string

func (l *strList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *strList) Set(s string) error {
	*l = split(s)
	return nil
}

func split(s string) []string {
	var o []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		o = append(o, v)
	}
	return o
}
