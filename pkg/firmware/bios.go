// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"

	"github.com/platformfw/fwupdate/pkg/hwio"
	"github.com/platformfw/fwupdate/pkg/nvm"
	"github.com/platformfw/fwupdate/pkg/subprocess"
	"github.com/platformfw/fwupdate/pkg/tracer"
)

// BIOS updater configuration.
var (
	BIOSMTDDevice = "/dev/mtd/bios"

	FlashcpCmd    = "flashcp"
	NanddumpCmd   = "nanddump"
	NandwriteCmd  = "nandwrite"
	FlashEraseCmd = "flash_erase"

	spiDriver    = "aspeed-smc"
	spiDevice    = "1e631000.spi"
	gpioPCHPower = "PWRGD_DSW_PWROK"
	gpioBIOSSel  = "MIO_BIOS_SEL"
	gpioConsumer = "fwupdate"

	// time the ME needs to come back after PCH power is restored
	meBootDelay = 10 * time.Second
)

const (
	biosNVRAMOffset = 0x01000000
	biosNVRAMSize   = 0x00080000
	nvramDumpName   = "nvram.bin"
	gbeDumpName     = "gbe.bin"

	mtdEraseBlock = 0x10000
)

// BIOS updates the host BIOS flash of Intel C62x based boards. The
// flash is normally owned by the host; taking it over means powering
// down the PCH, flipping the BIOS select strap and rebinding the BMC
// SPI controller.
type BIOS struct {
	base
	bus biosBus

	// GbeOnly limits the install to the 10GBE region of the image.
	GbeOnly bool

	locked   bool
	pchPower *gpiocdev.Line
	biosSel  *gpiocdev.Line
}

// biosBus is the D-Bus surface the BIOS updater needs: the chassis
// power state and the FRU records holding the 10GBE MAC addresses.
type biosBus interface {
	IsChassisOn() (bool, error)
	fruBus
}

func NewBIOS(bus biosBus, tmpdir string) *BIOS {
	u := &BIOS{base: base{name: "bios", tmpdir: tmpdir}, bus: bus}
	u.base.hooks = u
	return u
}

func (u *BIOS) flashable(name string) bool {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) == "vegman" && (ext == ".bin" || ext == ".img")
}

func (u *BIOS) Reset() error {
	// not supported yet
	return nil
}

func (u *BIOS) Lock() error {
	if len(u.files) == 0 {
		return nil
	}
	return u.acquire()
}

func (u *BIOS) Unlock() error {
	return u.release()
}

// acquire takes the BIOS flash away from the host.
func (u *BIOS) acquire() error {
	on, err := u.bus.IsChassisOn()
	if err != nil {
		return err
	}
	if on {
		return errors.New("The host is running now, operation cancelled")
	}

	err = tracer.Run("Shutting down PCH", func() error {
		line, err := hwio.RequestOutput(gpioPCHPower, gpioConsumer, 0)
		if err != nil {
			return err
		}
		u.pchPower = line
		u.locked = true
		return nil
	})
	if err != nil {
		return err
	}

	return tracer.Run("Get access to BIOS flash", func() error {
		// reinit the driver, it may be attached with wrong data on
		// hosts equipped with an em100
		if err := hwio.UnbindDriver(spiDriver, spiDevice); err != nil {
			return err
		}
		line, err := hwio.RequestOutput(gpioBIOSSel, gpioConsumer, 1)
		if err != nil {
			return err
		}
		u.biosSel = line
		return hwio.BindDriver(spiDriver, spiDevice)
	})
}

// release hands the BIOS flash back to the host.
func (u *BIOS) release() error {
	if !u.locked {
		return nil
	}

	err := tracer.Run("Return back BIOS flash control to host", func() error {
		if err := hwio.UnbindDriver(spiDriver, spiDevice); err != nil {
			return err
		}
		if err := hwio.ReleaseLine(u.biosSel); err != nil {
			return err
		}
		u.biosSel = nil
		return nil
	})
	if err != nil {
		return err
	}

	return tracer.Run("Restoring PCH power", func() error {
		if err := hwio.ReleaseLine(u.pchPower); err != nil {
			return err
		}
		u.pchPower = nil

		// wait for the ME to boot
		time.Sleep(meBootDelay)
		u.locked = false
		return nil
	})
}

func (u *BIOS) nvramDump() string {
	return filepath.Join(u.tmpdir, nvramDumpName)
}

func (u *BIOS) beforeInstall(reset bool) error {
	if u.GbeOnly || reset {
		return nil
	}
	fmt.Println("Preserving UEFI settings...")
	_, err := subprocess.Run(NanddumpCmd,
		"--startaddress", strconv.Itoa(biosNVRAMOffset),
		"--length", strconv.Itoa(biosNVRAMSize),
		"--file", u.nvramDump(), BIOSMTDDevice)
	if err != nil {
		return err
	}
	if !fileExists(u.nvramDump()) {
		return errors.New("Error reading NVRAM")
	}
	return nil
}

// setImageMacs writes the MAC addresses recorded in the FRU into the
// 10GBE region of the image file before it is flashed. The image is
// left untouched when the FRU has no usable records.
func (u *BIOS) setImageMacs(path string) error {
	macs, err := macsFromFRU(u.bus)
	if err != nil {
		logrus.WithError(err).Warn("keeping the MAC addresses shipped in the image")
		return nil
	}
	return tracer.Run("Set 10GBE MAC addresses", func() error {
		img, err := nvm.Open(path)
		if err != nil {
			return err
		}
		defer img.Close()
		return img.SetMacs(macs)
	})
}

func (u *BIOS) writeImage(path string) error {
	if err := u.setImageMacs(path); err != nil {
		return err
	}
	if u.GbeOnly {
		return u.writeGbeRegion(path)
	}

	// flashcp prints its own progress, let it through
	fmt.Printf("Writing %s to %s\n", filepath.Base(path), BIOSMTDDevice)
	return subprocess.RunInteractive(FlashcpCmd, "-v", path, BIOSMTDDevice)
}

// writeGbeRegion carves the 10GBE region out of the image and flashes
// only that part, leaving the BIOS code untouched.
func (u *BIOS) writeGbeRegion(path string) error {
	region := filepath.Join(u.tmpdir, gbeDumpName)
	err := tracer.Run("Extract 10GBE region", func() error {
		return extractRange(path, region, nvm.RegionOffset, nvm.RegionSize)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Writing 10GBE region to %s\n", BIOSMTDDevice)
	_, err = subprocess.Run(FlashEraseCmd, BIOSMTDDevice,
		strconv.Itoa(nvm.RegionOffset), strconv.Itoa(eraseBlocks(nvm.RegionSize)))
	if err != nil {
		return err
	}
	_, err = subprocess.Run(NandwriteCmd,
		"--start", strconv.Itoa(nvm.RegionOffset), BIOSMTDDevice, region)
	return err
}

func (u *BIOS) afterInstall(reset bool) (bool, error) {
	if !u.GbeOnly && !reset {
		if !fileExists(u.nvramDump()) {
			return false, errors.New("NVRAM dump not found")
		}

		fmt.Println("Preparing NVRAM partition...")
		_, err := subprocess.Run(FlashEraseCmd, BIOSMTDDevice,
			strconv.Itoa(biosNVRAMOffset), strconv.Itoa(eraseBlocks(biosNVRAMSize)))
		if err != nil {
			return false, err
		}

		fmt.Println("Restoring UEFI settings...")
		_, err = subprocess.Run(NandwriteCmd,
			"--start", strconv.Itoa(biosNVRAMOffset), BIOSMTDDevice, u.nvramDump())
		if err != nil {
			return false, err
		}
	}
	// host firmware, no BMC reboot needed
	return false, nil
}

// ReadNvram dumps the UEFI NVRAM region of the BIOS flash into file.
// Standalone maintenance operation, takes and releases the flash on
// its own.
func (u *BIOS) ReadNvram(file string) error {
	if err := u.acquire(); err != nil {
		return err
	}
	defer u.release()

	_, err := subprocess.Run(NanddumpCmd,
		"--startaddress", strconv.Itoa(biosNVRAMOffset),
		"--length", strconv.Itoa(biosNVRAMSize),
		"--file", file, BIOSMTDDevice)
	return err
}

// WriteNvram flashes a previously dumped UEFI NVRAM region back.
// Standalone maintenance operation.
func (u *BIOS) WriteNvram(file string) error {
	if !fileExists(file) {
		return errors.Errorf("%s not found", file)
	}
	if err := u.acquire(); err != nil {
		return err
	}
	defer u.release()

	_, err := subprocess.Run(FlashEraseCmd, BIOSMTDDevice,
		strconv.Itoa(biosNVRAMOffset), strconv.Itoa(eraseBlocks(biosNVRAMSize)))
	if err != nil {
		return err
	}
	_, err = subprocess.Run(NandwriteCmd,
		"--start", strconv.Itoa(biosNVRAMOffset), BIOSMTDDevice, file)
	return err
}

func eraseBlocks(size int) int {
	return (size + mtdEraseBlock - 1) / mtdEraseBlock
}

// extractRange copies length bytes starting at offset from src into a
// new file at dst.
func extractRange(src, dst string, offset, length int64) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open image")
	}
	defer in.Close()
	if _, err := in.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek image")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "create region file")
	}
	if _, err := io.CopyN(out, in, length); err != nil {
		out.Close()
		return errors.Wrap(err, "copy region")
	}
	return errors.Wrap(out.Close(), "copy region")
}
