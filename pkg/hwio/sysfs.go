// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package hwio

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// DriversRoot is the sysfs platform driver directory. A var so tests
// can point it at a scratch tree.
var DriversRoot = "/sys/bus/platform/drivers"

// Driver state changes are not instant; poll for the device node to
// appear or vanish.
var (
	bindChecks = 100
	bindDelay  = 20 * time.Millisecond
)

// DriverBound reports whether the device is currently bound to the
// driver.
func DriverBound(driver, device string) bool {
	_, err := os.Stat(filepath.Join(DriversRoot, driver, device))
	return err == nil
}

// BindDriver binds the device to the driver and waits for the binding
// to settle. Already bound is a no-op.
func BindDriver(driver, device string) error {
	return setDriverBound(driver, device, true)
}

// UnbindDriver detaches the device from the driver and waits for the
// unbinding to settle. Already unbound is a no-op.
func UnbindDriver(driver, device string) error {
	return setDriverBound(driver, device, false)
}

func setDriverBound(driver, device string, bind bool) error {
	if DriverBound(driver, device) == bind {
		return nil
	}

	node := "unbind"
	if bind {
		node = "bind"
	}
	if err := os.WriteFile(filepath.Join(DriversRoot, driver, node), []byte(device), 0200); err != nil {
		return errors.Wrapf(err, "unable to %s %s", node, device)
	}

	for i := 0; i < bindChecks; i++ {
		if DriverBound(driver, device) == bind {
			return nil
		}
		time.Sleep(bindDelay)
	}
	return errors.Errorf("the driver %s of %s timed out", node, device)
}
