// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package sysbus is a thin shim over the system D-Bus: the OpenBMC
// object mapper, systemd unit control and the handful of property
// reads the updaters need.
package sysbus

import (
	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	mapperBusName = "xyz.openbmc_project.ObjectMapper"
	mapperPath    = "/xyz/openbmc_project/object_mapper"
	mapperIface   = "xyz.openbmc_project.ObjectMapper"

	systemdBusName = "org.freedesktop.systemd1"
	systemdPath    = "/org/freedesktop/systemd1"
	systemdIface   = "org.freedesktop.systemd1.Manager"

	propsIface = "org.freedesktop.DBus.Properties"

	chassisPath    = "/xyz/openbmc_project/state/chassis0"
	chassisIface   = "xyz.openbmc_project.State.Chassis"
	chassisStateOn = "xyz.openbmc_project.State.Chassis.PowerState.On"
)

// Conn wraps a connection to the system message bus.
type Conn struct {
	bus *dbus.Conn
}

// System connects to the system message bus.
func System() (*Conn, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to system bus")
	}
	return &Conn{bus: bus}, nil
}

// GetObject asks the mapper which services implement the given
// interfaces on path. The result maps service name to the interfaces
// it implements there.
func (c *Conn) GetObject(path string, ifaces []string) (map[string][]string, error) {
	var res map[string][]string
	err := c.bus.Object(mapperBusName, mapperPath).
		Call(mapperIface+".GetObject", 0, dbus.ObjectPath(path), ifaces).
		Store(&res)
	if err != nil {
		return nil, errors.Wrap(err, "mapper GetObject")
	}
	return res, nil
}

// GetSubTree maps every object below path implementing the given
// interfaces to the services hosting it.
func (c *Conn) GetSubTree(path string, depth int32, ifaces []string) (map[string]map[string][]string, error) {
	var res map[string]map[string][]string
	err := c.bus.Object(mapperBusName, mapperPath).
		Call(mapperIface+".GetSubTree", 0, dbus.ObjectPath(path), depth, ifaces).
		Store(&res)
	if err != nil {
		return nil, errors.Wrap(err, "mapper GetSubTree")
	}
	return res, nil
}

// Property reads a single D-Bus property.
func (c *Conn) Property(service, path, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := c.bus.Object(service, dbus.ObjectPath(path)).
		Call(propsIface+".Get", 0, iface, name).
		Store(&v)
	if err != nil {
		return v, errors.Wrapf(err, "get property %s", name)
	}
	return v, nil
}

// StringProperty reads a property expected to hold a string.
func (c *Conn) StringProperty(service, path, iface, name string) (string, error) {
	v, err := c.Property(service, path, iface, name)
	if err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", errors.Errorf("property %s is not a string", name)
	}
	return s, nil
}

// ByteProperty reads a property expected to hold a byte.
func (c *Conn) ByteProperty(service, path, iface, name string) (byte, error) {
	v, err := c.Property(service, path, iface, name)
	if err != nil {
		return 0, err
	}
	b, ok := v.Value().(byte)
	if !ok {
		return 0, errors.Errorf("property %s is not a byte", name)
	}
	return b, nil
}

// AllProperties reads every property an object exposes on iface.
func (c *Conn) AllProperties(service, path, iface string) (map[string]dbus.Variant, error) {
	var res map[string]dbus.Variant
	err := c.bus.Object(service, dbus.ObjectPath(path)).
		Call(propsIface+".GetAll", 0, iface).
		Store(&res)
	if err != nil {
		return nil, errors.Wrap(err, "get all properties")
	}
	return res, nil
}

// Call invokes a method on the given object and discards the reply
// payload.
func (c *Conn) Call(service, path, iface, method string, args ...interface{}) error {
	call := c.bus.Object(service, dbus.ObjectPath(path)).Call(iface+"."+method, 0, args...)
	return errors.Wrapf(call.Err, "call %s.%s", iface, method)
}

// IsChassisOn reports whether the host chassis is powered.
func (c *Conn) IsChassisOn() (bool, error) {
	objs, err := c.GetObject(chassisPath, []string{chassisIface})
	if err != nil {
		return false, err
	}
	for service := range objs {
		state, err := c.StringProperty(service, chassisPath, chassisIface, "CurrentPowerState")
		if err != nil {
			return false, err
		}
		return state == chassisStateOn, nil
	}
	return false, errors.New("no chassis state service found")
}
