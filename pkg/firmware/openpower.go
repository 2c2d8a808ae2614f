// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/platformfw/fwupdate/pkg/subprocess"
	"github.com/platformfw/fwupdate/pkg/tracer"
)

// OpenPOWER updater configuration.
var (
	PflashCmd = "pflash"

	hiomapdPath  = "/xyz/openbmc_project/Hiomapd"
	hiomapdIface = "xyz.openbmc_project.Hiomapd.Control"
)

// pnorPreserve lists the PNOR partitions whose content survives an
// update.
var pnorPreserve = []string{"NVRAM"}

// hostBus is the D-Bus surface the OpenPOWER updater needs.
type hostBus interface {
	IsChassisOn() (bool, error)
	GetObject(path string, ifaces []string) (map[string][]string, error)
	ByteProperty(service, path, iface, name string) (byte, error)
	Call(service, path, iface, method string, args ...interface{}) error
}

// OpenPower flashes the host PNOR with pflash while the hiomapd flash
// access daemon is suspended.
type OpenPower struct {
	base
	bus     hostBus
	service string // cached hiomapd bus name
	locked  bool
}

func NewOpenPower(bus hostBus, tmpdir string) *OpenPower {
	u := &OpenPower{base: base{name: "openpower", tmpdir: tmpdir}, bus: bus}
	u.base.hooks = u
	return u
}

func (u *OpenPower) flashable(name string) bool {
	return strings.HasSuffix(name, ".pnor")
}

// hiomapd resolves and caches the bus name of the hiomapd service.
func (u *OpenPower) hiomapd() (string, error) {
	if u.service != "" {
		return u.service, nil
	}
	objs, err := u.bus.GetObject(hiomapdPath, []string{hiomapdIface})
	if err != nil || len(objs) == 0 {
		return "", errors.New("No hiomapd service found")
	}
	for service := range objs {
		u.service = service
		break
	}
	return u.service, nil
}

func (u *OpenPower) Lock() error {
	task := tracer.Begin("Suspending HIOMAPD")
	defer task.Close()

	on, err := u.bus.IsChassisOn()
	if err != nil {
		return err
	}
	if on {
		return errors.New("The host is running now, operation cancelled")
	}

	service, err := u.hiomapd()
	if err != nil {
		return err
	}
	state, err := u.bus.ByteProperty(service, hiomapdPath, hiomapdIface, "DaemonState")
	if err != nil {
		return err
	}
	if state != 0 {
		return errors.New("HIOMAPD already suspended")
	}
	if err := u.bus.Call(service, hiomapdPath, hiomapdIface, "Suspend"); err != nil {
		return err
	}
	u.locked = true
	task.Done()
	return nil
}

func (u *OpenPower) Unlock() error {
	if !u.locked {
		return nil
	}
	return tracer.Run("Resuming HIOMAPD", func() error {
		service, err := u.hiomapd()
		if err != nil {
			return err
		}
		if err := u.bus.Call(service, hiomapdPath, hiomapdIface, "Resume", true); err != nil {
			return err
		}
		u.locked = false
		return nil
	})
}

// pnorPartition is one entry of the pflash partition table.
type pnorPartition struct {
	name string
	ecc  bool
}

// Each line looks like
//
//	ID=06 MVPD 0x0012d000..0x001bd000 (actual=0x00090000) [E--P--F-C-]
//
// Flag 'F' marks a partition to clear on reprovision, flag 'E' means
// it carries ECC and needs a clear instead of an erase.
var pnorPartInfo = regexp.MustCompile(`^ID=\d+\s+(\w+)\s.*\[([^\]]+)\]$`)

func parsePnorParts(info string) []pnorPartition {
	var parts []pnorPartition
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		m := pnorPartInfo.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		name, flags := m[1], m[2]
		if strings.ContainsRune(flags, 'F') {
			parts = append(parts, pnorPartition{
				name: name,
				ecc:  strings.ContainsRune(flags, 'E'),
			})
		}
	}
	return parts
}

func (u *OpenPower) Reset() error {
	info, err := subprocess.Run(PflashCmd, "-i")
	if err != nil {
		return err
	}
	parts := parsePnorParts(info)
	if len(parts) == 0 {
		logrus.Warn("no partitions found on the PNOR flash")
	}

	for _, p := range parts {
		mode := "Erase"
		flag := "-e"
		if p.ecc {
			mode = "ECC"
			flag = "-c"
		}
		err := tracer.Run(fmt.Sprintf("Clear %s partition [%s]", p.name, mode), func() error {
			_, err := subprocess.Run(PflashCmd, "-P", p.name, flag, "-f")
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *OpenPower) partFile(part string) string {
	return filepath.Join(u.tmpdir, part)
}

func (u *OpenPower) beforeInstall(reset bool) error {
	if reset {
		return nil
	}
	for _, part := range pnorPreserve {
		task := tracer.Begin("Preserve %s configuration", part)
		_, err := subprocess.Run(PflashCmd, "-P", part, "-r", u.partFile(part))
		if err != nil || !fileExists(u.partFile(part)) {
			task.Fail()
			// not fatal, the update proceeds with default settings
			logrus.Warnf("preserving %s failed, default settings will be used", part)
			continue
		}
		task.Done()
	}
	return nil
}

func (u *OpenPower) writeImage(path string) error {
	// pflash prints its own progress, let it through
	fmt.Printf("Writing %s ... \n", filepath.Base(path))
	return subprocess.RunInteractive(PflashCmd, "-f", "-E", "-p", path)
}

func (u *OpenPower) afterInstall(reset bool) (bool, error) {
	if !reset {
		for _, part := range pnorPreserve {
			if !fileExists(u.partFile(part)) {
				continue
			}
			err := tracer.Run(fmt.Sprintf("Recover %s configuration", part), func() error {
				_, err := subprocess.Run(PflashCmd, "-f", "-e", "-P", part, "-p", u.partFile(part))
				return err
			})
			if err != nil {
				return false, err
			}
		}
	}
	// host firmware, no BMC reboot needed
	return false, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
