// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kmd talks to the Tenstorrent kernel-mode driver (TT-KMD)
// through its /dev/tenstorrent/N character devices.
package kmd // import "github.com/go-lpc/l2cpu/internal/kmd"

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ioctlMagic = 0xfa

	ioctlGetDeviceInfo = ioctlMagic<<8 | 0
	ioctlResetDevice   = ioctlMagic<<8 | 6
	ioctlAllocateTLB   = ioctlMagic<<8 | 11
	ioctlFreeTLB       = ioctlMagic<<8 | 12
	ioctlConfigureTLB  = ioctlMagic<<8 | 13
)

const (
	WormholeID  = 0x401e
	BlackholeID = 0xb140
)

// MinVersion is the oldest driver providing the TLB allocation ioctls.
var MinVersion = Version{Major: 1, Minor: 34}

// VersionFile holds the version of the loaded driver module.
var VersionFile = "/sys/module/tenstorrent/version"

// Flags for Device.Reset.
const (
	ResetRestoreState = 0
	ResetPCIeLink     = 1
	ResetConfigWrite  = 2
)

// Ordering values for Config.Ordering.
const (
	OrderingRelaxed = 0
	OrderingStrict  = 1
	OrderingPosted  = 2
)

type deviceInfoIn struct {
	OutputSize uint32
}

type deviceInfoOut struct {
	OutputSize        uint32
	VendorID          uint16
	DeviceID          uint16
	SubsystemVendorID uint16
	SubsystemID       uint16
	BusDevFn          uint16
	MaxDMABufSizeLog2 uint16
	PCIDomain         uint16
}

type deviceInfo struct {
	in  deviceInfoIn
	out deviceInfoOut
}

type resetDevice struct {
	in struct {
		OutputSize uint32
		Flags      uint32
	}
	out struct {
		OutputSize uint32
		Result     uint32
	}
}

type allocateTLB struct {
	in struct {
		Size     uint64
		Reserved uint64
	}
	out struct {
		ID           uint32
		Reserved0    uint32
		MmapOffsetUC uint64
		MmapOffsetWC uint64
		Reserved1    uint64
	}
}

type freeTLB struct {
	in struct {
		ID uint32
	}
}

// Config is the NOC endpoint a TLB window points at.
type Config struct {
	Addr      uint64
	XEnd      uint16
	YEnd      uint16
	XStart    uint16
	YStart    uint16
	NOC       uint8
	Mcast     uint8
	Ordering  uint8
	Linked    uint8
	StaticVC  uint8
	reserved0 [3]uint8
	reserved1 [2]uint32
}

type configureTLB struct {
	in struct {
		ID     uint32
		Config Config
	}
	out struct {
		Reserved uint64
	}
}

// Info describes a PCIe device as reported by the driver.
type Info struct {
	VendorID  uint16
	DeviceID  uint16
	Domain    uint16
	Bus       uint16
	Device    uint16
	Function  uint16
	MaxDMALog uint16
}

// BDF returns the PCI domain:bus:device.function of the device.
func (info Info) BDF() string {
	return fmt.Sprintf("%04x:%02x:%02x.%d", info.Domain, info.Bus, info.Device, info.Function)
}

// Version is a driver module version.
type Version struct {
	Major, Minor int
}

func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// ParseVersion parses the content of the driver's version file,
// e.g. "1.34" or "2.0.0".
func ParseVersion(s string) (Version, error) {
	var (
		v  Version
		ts = strings.Split(strings.TrimSpace(s), ".")
	)
	if len(ts) < 2 {
		return v, fmt.Errorf("kmd: invalid driver version %q", s)
	}
	var err error
	v.Major, err = strconv.Atoi(ts[0])
	if err != nil {
		return v, fmt.Errorf("kmd: invalid driver major version %q: %w", s, err)
	}
	v.Minor, err = strconv.Atoi(ts[1])
	if err != nil {
		return v, fmt.Errorf("kmd: invalid driver minor version %q: %w", s, err)
	}
	return v, nil
}

// DriverVersion reads the version of the loaded driver module.
func DriverVersion() (Version, error) {
	raw, err := os.ReadFile(VersionFile)
	if err != nil {
		return Version{}, fmt.Errorf("kmd: could not read driver version: %w", err)
	}
	return ParseVersion(string(raw))
}

// Device is an open handle to a /dev/tenstorrent/N node.
type Device struct {
	f    *os.File
	info Info
}

// Open opens the device node at path and queries its PCIe identity.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("kmd: could not open %q: %w", path, err)
	}
	dev := &Device{f: f}

	info, err := dev.queryInfo()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("kmd: could not query device info of %q: %w", path, err)
	}
	dev.info = info

	return dev, nil
}

// Name returns the path of the device node.
func (dev *Device) Name() string { return dev.f.Name() }

// Info returns the PCIe identity of the device.
func (dev *Device) Info() Info { return dev.info }

// Fd returns the file descriptor of the device node, for mmap.
func (dev *Device) Fd() int { return int(dev.f.Fd()) }

// Close closes the device node.
func (dev *Device) Close() error {
	return dev.f.Close()
}

func (dev *Device) queryInfo() (Info, error) {
	var arg deviceInfo
	arg.in.OutputSize = uint32(unsafe.Sizeof(arg.out))
	err := dev.ioctl(ioctlGetDeviceInfo, unsafe.Pointer(&arg))
	if err != nil {
		return Info{}, err
	}
	out := arg.out
	return Info{
		VendorID:  out.VendorID,
		DeviceID:  out.DeviceID,
		Domain:    out.PCIDomain,
		Bus:       out.BusDevFn >> 8,
		Device:    (out.BusDevFn >> 3) & 0x1f,
		Function:  out.BusDevFn & 0x07,
		MaxDMALog: out.MaxDMABufSizeLog2,
	}, nil
}

// Reset asks the driver to reset the device with the given flags.
func (dev *Device) Reset(flags uint32) (uint32, error) {
	var arg resetDevice
	arg.in.OutputSize = uint32(unsafe.Sizeof(arg.out))
	arg.in.Flags = flags
	err := dev.ioctl(ioctlResetDevice, unsafe.Pointer(&arg))
	if err != nil {
		return 0, fmt.Errorf("kmd: could not reset device: %w", err)
	}
	return arg.out.Result, nil
}

// TLB is an inbound PCIe TLB window allocated from the driver.
type TLB struct {
	ID       uint32
	Size     uint64
	OffsetUC int64 // mmap offset of the uncached mapping
	OffsetWC int64 // mmap offset of the write-combined mapping
}

// AllocateTLB reserves a TLB window of the given size.
func (dev *Device) AllocateTLB(size uint64) (TLB, error) {
	var arg allocateTLB
	arg.in.Size = size
	err := dev.ioctl(ioctlAllocateTLB, unsafe.Pointer(&arg))
	if err != nil {
		return TLB{}, fmt.Errorf("kmd: could not allocate TLB (size=0x%x): %w", size, err)
	}
	return TLB{
		ID:       arg.out.ID,
		Size:     size,
		OffsetUC: int64(arg.out.MmapOffsetUC),
		OffsetWC: int64(arg.out.MmapOffsetWC),
	}, nil
}

// FreeTLB releases a TLB window.
func (dev *Device) FreeTLB(id uint32) error {
	var arg freeTLB
	arg.in.ID = id
	err := dev.ioctl(ioctlFreeTLB, unsafe.Pointer(&arg))
	if err != nil {
		return fmt.Errorf("kmd: could not free TLB %d: %w", id, err)
	}
	return nil
}

// ConfigureTLB points the TLB window id at the given NOC endpoint.
func (dev *Device) ConfigureTLB(id uint32, cfg Config) error {
	var arg configureTLB
	arg.in.ID = id
	arg.in.Config = cfg
	err := dev.ioctl(ioctlConfigureTLB, unsafe.Pointer(&arg))
	if err != nil {
		return fmt.Errorf("kmd: could not configure TLB %d: %w", id, err)
	}
	return nil
}

func (dev *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
