// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"fmt"
	"os"
)

// ImageKind identifies an image placed in L2CPU memory.
// Images are placed in the order of their kind.
type ImageKind int

const (
	OpenSBI ImageKind = iota // primary firmware, target of the reset vectors
	RootFS
	Kernel
	DTB

	numKinds
)

func (k ImageKind) String() string {
	switch k {
	case OpenSBI:
		return "opensbi"
	case RootFS:
		return "rootfs"
	case Kernel:
		return "kernel"
	case DTB:
		return "dtb"
	default:
		return fmt.Sprintf("ImageKind(%d)", int(k))
	}
}

// Image describes where to find an image and where to place it.
//
// Paths holds either a single path, shared by all requested cores, or one
// path per requested core. Dsts holds one destination address per
// requested core.
type Image struct {
	Paths []string
	Dsts  []uint64
}

func (img Image) present() bool {
	return len(img.Paths) > 0 || len(img.Dsts) > 0
}

func (img Image) path(i int) string {
	if len(img.Paths) == 1 {
		return img.Paths[0]
	}
	return img.Paths[i]
}

// Config is a boot request.
type Config struct {
	Cores []int // logical L2CPU indices, in placement order

	OpenSBI Image
	RootFS  Image
	Kernel  Image
	DTB     Image

	Boot bool // run the reset cycle once images are placed
}

func (cfg Config) images() [numKinds]Image {
	return [numKinds]Image{
		OpenSBI: cfg.OpenSBI,
		RootFS:  cfg.RootFS,
		Kernel:  cfg.Kernel,
		DTB:     cfg.DTB,
	}
}

// Validate checks the request for consistency, without touching any chip.
func (cfg Config) Validate() error {
	if len(cfg.Cores) == 0 {
		return &ConfigError{Field: "l2cpu", Reason: "no core requested"}
	}
	var seen [NumCores]bool
	for _, core := range cfg.Cores {
		if core < 0 || core >= NumCores {
			return &ConfigError{
				Field:  "l2cpu",
				Reason: fmt.Sprintf("core index %d out of range [0,%d)", core, NumCores),
			}
		}
		if seen[core] {
			return &ConfigError{
				Field:  "l2cpu",
				Reason: fmt.Sprintf("core index %d requested twice", core),
			}
		}
		seen[core] = true
	}

	n := len(cfg.Cores)
	for kind, img := range cfg.images() {
		kind := ImageKind(kind)
		if !img.present() {
			if kind == OpenSBI {
				return &ConfigError{Field: "opensbi-bin", Reason: "missing primary firmware"}
			}
			continue
		}
		switch {
		case len(img.Paths) == 0:
			return &ConfigError{Field: kind.String() + "-bin", Reason: "missing image path"}
		case len(img.Paths) != 1 && len(img.Paths) != n:
			return &ConfigError{Field: kind.String() + "-bin", Want: n, Got: len(img.Paths)}
		case len(img.Dsts) != n:
			return &ConfigError{Field: kind.String() + "-dst", Want: n, Got: len(img.Dsts)}
		}
		for i, dst := range img.Dsts {
			if dst%4 != 0 {
				return &ConfigError{
					Field:  kind.String() + "-dst",
					Reason: fmt.Sprintf("destination 0x%x of L2CPU %d is not 4-byte aligned", dst, cfg.Cores[i]),
				}
			}
		}
	}
	return nil
}

// Loader reads the content of an image.
type Loader interface {
	Load(path string) ([]byte, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) ([]byte, error)

func (f LoaderFunc) Load(path string) ([]byte, error) { return f(path) }

// FileLoader loads images from the local filesystem.
var FileLoader Loader = LoaderFunc(os.ReadFile)

// pad4 returns p extended with zeros to a multiple of 4 bytes.
func pad4(p []byte) []byte {
	n := len(p) % 4
	if n == 0 {
		return p
	}
	o := make([]byte, len(p)+4-n)
	copy(o, p)
	return o
}

// payload holds the padded images of each requested core, indexed by
// kind then by position in the request.
type payload [numKinds][][]byte

// load reads every image of cfg. Images shared by several cores are
// read once.
func load(ldr Loader, cfg Config) (payload, error) {
	var (
		out   payload
		cache = make(map[string][]byte)
	)
	for kind, img := range cfg.images() {
		if !img.present() {
			continue
		}
		out[kind] = make([][]byte, len(cfg.Cores))
		for i := range cfg.Cores {
			path := img.path(i)
			data, ok := cache[path]
			if !ok {
				raw, err := ldr.Load(path)
				if err != nil {
					return out, &ImageError{Kind: ImageKind(kind), Path: path, Err: err}
				}
				data = pad4(raw)
				cache[path] = data
			}
			out[kind][i] = data
		}
	}
	return out, nil
}
