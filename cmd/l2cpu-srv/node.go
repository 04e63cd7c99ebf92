// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-lpc/l2cpu/boot"
	"github.com/go-lpc/l2cpu/chip"
)

// request is the JSON boot request of a node.
type request struct {
	Dev     string `json:"dev"`
	Cores   []int  `json:"l2cpu"`
	OpenSBI image  `json:"opensbi"`
	RootFS  image  `json:"rootfs"`
	Kernel  image  `json:"kernel"`
	DTB     image  `json:"dtb"`

	Boot       bool   `json:"boot"`
	BootDevice string `json:"boot-device"`
	Deassert   bool   `json:"deassert"`
	Settle     string `json:"settle"`
	Telemetry  string `json:"telemetry-delay"`
}

type image struct {
	Paths []string `json:"bin"`
	Dsts  []string `json:"dst"` // hexadecimal addresses
}

func (img image) decode(kind string) (boot.Image, error) {
	o := boot.Image{Paths: img.Paths}
	for _, v := range img.Dsts {
		addr, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return o, fmt.Errorf("invalid %s destination %q: %w", kind, v, err)
		}
		o.Dsts = append(o.Dsts, addr)
	}
	return o, nil
}

func parseRequest(raw []byte) (boot.Config, []boot.Option, string, error) {
	var (
		req  request
		cfg  boot.Config
		opts []boot.Option
		err  error
	)
	err = json.Unmarshal(raw, &req)
	if err != nil {
		return cfg, nil, "", fmt.Errorf("could not decode boot request: %w", err)
	}

	cfg.Cores = req.Cores
	cfg.Boot = req.Boot
	for _, v := range []struct {
		kind string
		src  image
		dst  *boot.Image
	}{
		{"opensbi", req.OpenSBI, &cfg.OpenSBI},
		{"rootfs", req.RootFS, &cfg.RootFS},
		{"kernel", req.Kernel, &cfg.Kernel},
		{"dtb", req.DTB, &cfg.DTB},
	} {
		*v.dst, err = v.src.decode(v.kind)
		if err != nil {
			return cfg, nil, "", err
		}
	}

	if req.Settle != "" {
		d, err := time.ParseDuration(req.Settle)
		if err != nil {
			return cfg, nil, "", fmt.Errorf("invalid settle duration: %w", err)
		}
		opts = append(opts, boot.WithSettle(d))
	}
	if req.Telemetry != "" {
		d, err := time.ParseDuration(req.Telemetry)
		if err != nil {
			return cfg, nil, "", fmt.Errorf("invalid telemetry delay: %w", err)
		}
		opts = append(opts, boot.WithTelemetryDelay(d))
	}
	if req.Deassert {
		opts = append(opts, boot.WithDeassert())
	}
	if req.BootDevice != "" {
		opts = append(opts, boot.WithBootArgs(req.BootDevice))
	}

	return cfg, opts, req.Dev, nil
}

var openDevice = func(path string) (chip.Device, error) {
	return chip.Select(path)
}

var errNotStaged = errors.New("images not placed (missing /init?)")

type node struct {
	fname string

	dev  chip.Device
	cfg  boot.Config
	opts []boot.Option

	seq *boot.Sequencer
	rep boot.Report
}

func newNode(fname string) *node {
	return &node{fname: fname}
}

func (dev *node) configure() error {
	raw, err := os.ReadFile(dev.fname)
	if err != nil {
		return fmt.Errorf("could not read boot request: %w", err)
	}
	cfg, opts, path, err := parseRequest(raw)
	if err != nil {
		return err
	}
	err = cfg.Validate()
	if err != nil {
		return err
	}

	err = dev.close()
	if err != nil {
		return err
	}
	dev.dev, err = openDevice(path)
	if err != nil {
		return fmt.Errorf("could not open chip: %w", err)
	}
	dev.cfg = cfg
	dev.opts = opts
	return nil
}

func (dev *node) stage(msg *log.Logger) error {
	if dev.dev == nil {
		return fmt.Errorf("chip not opened (missing /config?)")
	}
	opts := append([]boot.Option{boot.WithLogger(msg)}, dev.opts...)
	dev.seq = boot.New(dev.dev, opts...)

	rep, err := dev.seq.Stage(dev.cfg)
	if err != nil {
		dev.seq = nil
		return err
	}
	dev.rep = rep
	return nil
}

func (dev *node) start(ctx context.Context) error {
	if dev.seq == nil {
		return errNotStaged
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := dev.seq.Start(dev.cfg, &dev.rep)
	if err != nil {
		return err
	}
	dev.seq = nil
	return nil
}

func (dev *node) reset() {
	dev.seq = nil
	dev.rep = boot.Report{}
}

func (dev *node) close() error {
	dev.reset()
	if dev.dev == nil {
		return nil
	}
	err := dev.dev.Close()
	dev.dev = nil
	return err
}
