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

	"github.com/platformfw/fwupdate/pkg/tracer"
)

// OpenBMC updater configuration.
var (
	OpenBMCFlashDir  = "/run/initramfs"
	OpenBMCWhitelist = "whitelist"

	// setting openbmconce=factory-reset makes the next boot wipe the
	// read-write overlay
	factoryResetUnit = `obmc-flash-bmc-setenv@openbmconce\x3dfactory\x2dreset.service`
)

var openbmcImage = regexp.MustCompile(`^image-(bmc|kernel|rofs|rwfs|u-boot)$`)

// OpenBMC stages BMC firmware images in the initramfs directory where
// the shutdown path flashes them during reboot.
type OpenBMC struct {
	base
	bus unitStarter
}

type unitStarter interface {
	StartUnit(name string) error
}

func NewOpenBMC(bus unitStarter, tmpdir string) *OpenBMC {
	u := &OpenBMC{base: base{name: "openbmc", tmpdir: tmpdir}, bus: bus}
	u.base.hooks = u
	return u
}

func (u *OpenBMC) flashable(name string) bool {
	return openbmcImage.MatchString(name)
}

func (u *OpenBMC) Reset() error {
	return tracer.Run("Enable the BMC clean", func() error {
		return u.bus.StartUnit(factoryResetUnit)
	})
}

func (u *OpenBMC) beforeInstall(reset bool) error { return nil }

func (u *OpenBMC) writeImage(path string) error {
	name := filepath.Base(path)
	return tracer.Run(fmt.Sprintf("Install %s", name), func() error {
		dst := filepath.Join(OpenBMCFlashDir, name)
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		return copyFile(path, dst)
	})
}

func (u *OpenBMC) afterInstall(reset bool) (bool, error) {
	if reset {
		err := tracer.Run("Cleaning whitelist", func() error {
			whitelist := filepath.Join(OpenBMCFlashDir, OpenBMCWhitelist)
			if _, err := os.Stat(whitelist); err != nil {
				return nil
			}
			return os.Truncate(whitelist, 0)
		})
		if err != nil {
			return false, err
		}
	}
	// the staged images are applied by the reboot
	return true, nil
}
