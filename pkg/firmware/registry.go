// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"github.com/platformfw/fwupdate/pkg/sysbus"
)

// Constructor builds an updater bound to the engine's scratch
// directory.
type Constructor func(tmpdir string) Updater

type registryEntry struct {
	name string
	ctor Constructor
}

// Registry is the ordered list of updater classes known at build time.
// Instantiation, installation and unlocking follow registration order;
// locking walks the list backwards so classes registered later get
// locked first.
type Registry struct {
	entries []registryEntry
}

// Register appends an updater class to the registry.
func (r *Registry) Register(name string, ctor Constructor) {
	r.entries = append(r.entries, registryEntry{name: name, ctor: ctor})
}

// Create instantiates every registered class in registration order.
func (r *Registry) Create(tmpdir string) []Updater {
	updaters := make([]Updater, 0, len(r.entries))
	for _, e := range r.entries {
		updaters = append(updaters, e.ctor(tmpdir))
	}
	return updaters
}

// Default returns the registry with all platform updater classes in
// their canonical order: host firmware first, BMC firmware last.
func Default(bus *sysbus.Conn, opts Options) *Registry {
	r := new(Registry)
	r.Register("openpower", func(tmpdir string) Updater {
		return NewOpenPower(bus, tmpdir)
	})
	r.Register("bios", func(tmpdir string) Updater {
		u := NewBIOS(bus, tmpdir)
		u.GbeOnly = opts.GbeOnly
		return u
	})
	r.Register("openbmc", func(tmpdir string) Updater {
		return NewOpenBMC(bus, tmpdir)
	})
	r.Register("intel", func(tmpdir string) Updater {
		return NewIntel(bus, tmpdir)
	})
	return r
}
