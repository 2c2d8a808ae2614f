// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/platformfw/fwupdate/pkg/subprocess"
	"github.com/platformfw/fwupdate/pkg/tracer"
)

// Flash addresses of the two runtime banks.
const (
	imageAAddr = 0x20080000
	imageBAddr = 0x22480000
)

// Intel platform updater configuration.
var (
	FwPrintenvCmd = "fw_printenv"
	FwSetenvCmd   = "fw_setenv"

	intelMTDWhole  = "/dev/mtd0"
	intelMTDImageA = "/dev/mtd/image-a"
	intelMTDImageB = "/dev/mtd/image-b"
	intelMTDUBoot  = "/dev/mtd/u-boot"

	// units that keep the flash drive busy
	flashDriveUnits = []string{
		"rotate-event-logs.timer",
		"rotate-event-logs.service",
		"logrotate.timer",
		"logrotate.service",
		"nv-sync.service",
	}
)

const wholeImageName = "image-mtd"

var intelImage = regexp.MustCompile(`^image-(mtd|runtime|u-boot)$`)

// unitStopper is the D-Bus surface the Intel updater needs.
type unitStopper interface {
	StopUnit(name string) error
}

// Intel updates the BMC flash of Intel reference platforms. The
// runtime firmware lives in two banks; the inactive one is written and
// the boot environment flipped to it, so a failed update leaves the
// running bank intact.
type Intel struct {
	base
	bus unitStopper
}

func NewIntel(bus unitStopper, tmpdir string) *Intel {
	u := &Intel{base: base{name: "intel", tmpdir: tmpdir}, bus: bus}
	u.base.hooks = u
	return u
}

func (u *Intel) flashable(name string) bool {
	return intelImage.MatchString(name)
}

// Add rejects bundles that mix the whole-device image with anything
// else of this class; flashing both would write the same areas twice.
func (u *Intel) Add(path string) (bool, error) {
	name := filepath.Base(path)
	if !u.flashable(name) {
		return false, nil
	}
	if u.holds(wholeImageName) || (name == wholeImageName && len(u.files) > 0) {
		return false, errors.New("overlapped parts")
	}
	return u.base.Add(path)
}

func (u *Intel) holds(name string) bool {
	for _, f := range u.files {
		if filepath.Base(f) == name {
			return true
		}
	}
	return false
}

// bootEnv is the deciphered boot bank selection. Older environments
// encode the bank as a load address in bootcmd, newer ones name the
// side in a bootside variable.
type bootEnv struct {
	addr  uint32
	named bool
}

// parseBootAddress extracts the load address from a
// "bootcmd=bootm <addr>" line. Unknown layouts yield zero.
func parseBootAddress(bootcmd string) uint32 {
	const prefix = "bootcmd=bootm"
	if !strings.HasPrefix(bootcmd, prefix) {
		return 0
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(bootcmd[len(prefix):]), 16, 32)
	if err != nil {
		return 0
	}
	return uint32(addr)
}

// parseBootSide maps a "bootside=a|b" line to the bank address.
func parseBootSide(bootside string) uint32 {
	switch strings.TrimSpace(strings.TrimPrefix(bootside, "bootside=")) {
	case "a":
		return imageAAddr
	case "b":
		return imageBAddr
	}
	return 0
}

func (u *Intel) readBootEnv() (bootEnv, error) {
	out, err := subprocess.Run(FwPrintenvCmd, "bootcmd")
	if err == nil {
		if addr := parseBootAddress(strings.TrimSpace(out)); addr != 0 {
			return bootEnv{addr: addr}, nil
		}
	}

	out, err = subprocess.Run(FwPrintenvCmd, "bootside")
	if err == nil {
		if addr := parseBootSide(strings.TrimSpace(out)); addr != 0 {
			return bootEnv{addr: addr, named: true}, nil
		}
	}
	return bootEnv{}, nil
}

// writeBootEnv points the boot environment at the bank holding addr,
// using the same scheme the environment already uses.
func (u *Intel) writeBootEnv(env bootEnv, addr uint32) error {
	if env.named {
		side := "a"
		if addr == imageBAddr {
			side = "b"
		}
		_, err := subprocess.Run(FwSetenvCmd, "bootside", side)
		return err
	}
	_, err := subprocess.Run(FwSetenvCmd, "bootcmd", fmt.Sprintf("bootm %08x", addr))
	return err
}

// releaseFlashDrive stops every service using the flash and unmounts
// its partitions.
func (u *Intel) releaseFlashDrive() error {
	return tracer.Run("Release flash drive", func() error {
		for _, unit := range flashDriveUnits {
			if err := u.bus.StopUnit(unit); err != nil {
				return err
			}
		}
		// best effort, the mounts may not exist
		subprocess.Run("umount", "mtd:rwfs")
		subprocess.Run("umount", "mtd:sofs")
		return nil
	})
}

func (u *Intel) Reset() error {
	env, err := u.readBootEnv()
	if err != nil {
		return err
	}
	if err := u.releaseFlashDrive(); err != nil {
		return err
	}

	return tracer.Run("Clear writable partitions", func() error {
		for _, dev := range []string{"/dev/mtd/rwfs", "/dev/mtd/sofs", "/dev/mtd/u-boot-env"} {
			if _, err := subprocess.Run(FlashEraseCmd, dev, "0", "0"); err != nil {
				return err
			}
		}
		// erasing u-boot-env reverts the boot selection to bank A;
		// restore it when B was active
		if env.addr == imageBAddr {
			return u.writeBootEnv(env, env.addr)
		}
		return nil
	})
}

func (u *Intel) beforeInstall(reset bool) error { return nil }

func (u *Intel) writeImage(path string) error {
	name := filepath.Base(path)

	var mtd string
	var flip bool
	var env bootEnv
	var bootaddr uint32

	switch name {
	case wholeImageName:
		mtd = intelMTDWhole
		if err := u.releaseFlashDrive(); err != nil {
			return err
		}

	case "image-runtime":
		var err error
		env, err = u.readBootEnv()
		if err != nil {
			return err
		}
		switch env.addr {
		case imageAAddr:
			bootaddr, mtd = imageBAddr, intelMTDImageB
		case imageBAddr:
			bootaddr, mtd = imageAAddr, intelMTDImageA
		default:
			return errors.New("Unable to determine boot address")
		}
		flip = true

	case "image-u-boot":
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if fi.Size() == 0 {
			// typically present in the bundle as an empty file,
			// nothing to flash
			return nil
		}
		mtd = intelMTDUBoot
	}

	// flashcp prints its own progress, let it through
	fmt.Printf("Writing %s to %s\n", name, mtd)
	if err := subprocess.RunInteractive(FlashcpCmd, "-v", path, mtd); err != nil {
		return err
	}

	if flip {
		return u.writeBootEnv(env, bootaddr)
	}
	return nil
}

func (u *Intel) afterInstall(reset bool) (bool, error) {
	if reset {
		if err := u.Reset(); err != nil {
			return false, err
		}
	}
	// the new bank takes over on the next BMC boot
	return true, nil
}
