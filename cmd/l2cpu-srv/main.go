// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command l2cpu-srv starts a TDAQ node booting Blackhole L2CPUs.
//
// The boot request is read from the JSON file given as first argument:
//   - /config loads the request and opens the chip,
//   - /init validates the request and places the images,
//   - /start runs the reset cycle and configures the prefetchers.
package main // import "github.com/go-lpc/l2cpu/cmd/l2cpu-srv"

import (
	"bytes"
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) != 1 {
		log.Fatalf("l2cpu-srv: missing path to boot request file")
	}

	dev := newNode(cmd.Args[0])

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := dev.configure()
	if err != nil {
		ctx.Msg.Errorf("could not configure: %+v", err)
		return err
	}
	return nil
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := dev.stage(logger(ctx))
	if err != nil {
		ctx.Msg.Errorf("could not place images: %+v", err)
		return err
	}
	return nil
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.reset()
	return nil
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := dev.start(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not start L2CPUs: %+v", err)
		return err
	}
	ctx.Msg.Infof("%v", dev.rep)
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := dev.close()
	if err != nil {
		ctx.Msg.Errorf("could not close chip: %+v", err)
		return err
	}
	return nil
}

type infoer interface {
	Infof(format string, args ...interface{})
}

// msgWriter forwards log lines to a TDAQ message stream.
type msgWriter struct {
	msg infoer
}

func (w msgWriter) Write(p []byte) (int, error) {
	w.msg.Infof("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}

func logger(ctx tdaq.Context) *log.Logger {
	return log.New(msgWriter{ctx.Msg}, "", 0)
}
