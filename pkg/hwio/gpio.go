// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package hwio covers the low level hardware plumbing the BIOS updater
// needs: GPIO strapping via the character device and platform driver
// bind/unbind through sysfs.
package hwio

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// RequestOutput takes control of the GPIO line with the given name and
// drives it to value. The line is looked up across all chips.
func RequestOutput(name, consumer string, value int) (*gpiocdev.Line, error) {
	chip, offset, err := gpiocdev.FindLine(name)
	if err != nil {
		return nil, errors.Errorf("GPIO line %s not found", name)
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(value), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to request GPIO %s", name)
	}
	return line, nil
}

// ReleaseLine returns the line to its default input state and gives up
// control. A nil line is a no-op so the caller can release
// unconditionally.
func ReleaseLine(line *gpiocdev.Line) error {
	if line == nil {
		return nil
	}
	if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
		line.Close()
		return errors.Wrap(err, "unable to release GPIO")
	}
	return errors.Wrap(line.Close(), "unable to release GPIO")
}
