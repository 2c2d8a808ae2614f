// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package sysbus

import (
	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// UnitExists reports whether systemd knows a loaded unit by that name.
func (c *Conn) UnitExists(name string) bool {
	call := c.bus.Object(systemdBusName, systemdPath).
		Call(systemdIface+".GetUnit", 0, name)
	return call.Err == nil
}

// StartUnit queues a start job for the unit and returns without
// waiting for it.
func (c *Conn) StartUnit(name string) error {
	call := c.bus.Object(systemdBusName, systemdPath).
		Call(systemdIface+".StartUnit", 0, name, "replace")
	return errors.Wrapf(call.Err, "start unit %s", name)
}

// StopUnit stops the unit and waits for its job to finish. A unit
// systemd does not know is not an error.
func (c *Conn) StopUnit(name string) error {
	if !c.UnitExists(name) {
		return nil
	}

	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(systemdIface),
		dbus.WithMatchMember("JobRemoved"),
		dbus.WithMatchObjectPath(systemdPath),
	}
	if err := c.bus.AddMatchSignal(opts...); err != nil {
		return errors.Wrap(err, "subscribe to JobRemoved")
	}
	defer c.bus.RemoveMatchSignal(opts...)

	signals := make(chan *dbus.Signal, 16)
	c.bus.Signal(signals)
	defer c.bus.RemoveSignal(signals)

	if err := c.Call(systemdBusName, systemdPath, systemdIface, "Subscribe"); err != nil {
		return err
	}
	defer c.Call(systemdBusName, systemdPath, systemdIface, "Unsubscribe")

	call := c.bus.Object(systemdBusName, systemdPath).
		Call(systemdIface+".StopUnit", 0, name, "replace")
	if call.Err != nil {
		return errors.Wrapf(call.Err, "stop unit %s", name)
	}

	// JobRemoved carries (id uint32, job path, unit string, result string)
	for sig := range signals {
		if len(sig.Body) != 4 {
			continue
		}
		unit, _ := sig.Body[2].(string)
		result, _ := sig.Body[3].(string)
		if unit == name && result == "done" {
			return nil
		}
	}
	return errors.Errorf("lost signal stream waiting for %s to stop", name)
}
