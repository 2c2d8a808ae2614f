// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package firmware holds the updater contract, the registry of updater
// classes and the engine that drives a complete update run.
package firmware

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/platformfw/fwupdate/pkg/signature"
	"github.com/platformfw/fwupdate/pkg/tracer"
)

// Updater flashes one class of firmware files.
type Updater interface {
	// Name identifies the updater class in messages.
	Name() string
	// Add claims the file if it belongs to this class.
	Add(path string) (bool, error)
	// Verify checks the detached signature of every claimed file.
	Verify(publicKey, hashFunc string) error
	// Lock takes exclusive control of the target flash device.
	Lock() error
	// Unlock releases whatever Lock took. Safe to call when nothing
	// is held.
	Unlock() error
	// Reset restores manufacturing defaults for this class.
	Reset() error
	// Install writes the claimed files. With reset set, preserved
	// configuration is dropped instead of restored. The returned
	// flag tells whether a BMC reboot is needed to apply the
	// update.
	Install(reset bool) (bool, error)
}

// hooks are the class specific steps of an installation, supplied by
// each concrete updater.
type hooks interface {
	flashable(name string) bool
	beforeInstall(reset bool) error
	writeImage(path string) error
	afterInstall(reset bool) (bool, error)
}

// base carries the shared state and behavior of every updater class.
type base struct {
	name   string
	tmpdir string
	files  []string
	hooks  hooks
}

func (b *base) Name() string { return b.name }

func (b *base) Add(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false, nil
	}
	if !b.hooks.flashable(filepath.Base(path)) {
		return false, nil
	}
	b.files = append(b.files, path)
	return true, nil
}

func (b *base) Verify(publicKey, hashFunc string) error {
	for _, file := range b.files {
		name := filepath.Base(file)
		err := tracer.Run(fmt.Sprintf("Check signature for %s", name), func() error {
			ok, err := signature.Verify(publicKey, hashFunc, file)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("The %s signature verification failed", name)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *base) Lock() error   { return nil }
func (b *base) Unlock() error { return nil }

func (b *base) Install(reset bool) (bool, error) {
	if len(b.files) == 0 {
		// nothing claimed for this class
		return false, nil
	}
	if err := b.hooks.beforeInstall(reset); err != nil {
		return false, err
	}
	for _, file := range b.files {
		if err := b.hooks.writeImage(file); err != nil {
			return false, err
		}
	}
	return b.hooks.afterInstall(reset)
}

// copyFile copies src over dst, replacing whatever was there.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "create destination")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", filepath.Base(src))
	}
	return errors.Wrapf(out.Close(), "copy %s", filepath.Base(src))
}
