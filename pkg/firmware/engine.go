// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/platformfw/fwupdate/pkg/archive"
	"github.com/platformfw/fwupdate/pkg/signature"
	"github.com/platformfw/fwupdate/pkg/subprocess"
	"github.com/platformfw/fwupdate/pkg/tags"
	"github.com/platformfw/fwupdate/pkg/tracer"
)

// Build time configuration defaults. Package vars so tests can point
// them at scratch locations.
var (
	ManifestFileName   = "MANIFEST"
	SignedConfDir      = "/etc/activationdata"
	OSReleaseFile      = "/etc/os-release"
	RebootGuardEnable  = "reboot-guard-enable.service"
	RebootGuardDisable = "reboot-guard-disable.service"
	RebootCmd          = "/sbin/reboot"
)

// Options control a single engine run.
type Options struct {
	File             string // path to the firmware bundle or a bare image file
	Reset            bool   // restore manufacturing defaults
	SkipSignCheck    bool   // skip signature verification
	SkipMachineCheck bool   // skip the target machine comparison
	Force            bool   // do not lock flash devices
	Yes              bool   // assume yes, never prompt
	GbeOnly          bool   // write only the 10GBE region of a BIOS image
}

// Engine states. Transitions that are not listed for an event are
// structural errors, so an install can never run before the lock.
const (
	StateCreated   = "created"
	StateUnpacked  = "unpacked"
	StateVerified  = "verified"
	StateLocked    = "locked"
	StateInstalled = "installed"
	StateUnlocked  = "unlocked"
	StateDone      = "done"
)

// Engine events.
const (
	EventUnpack  = "unpack"
	EventVerify  = "verify"
	EventLock    = "lock"
	EventInstall = "install"
	EventReset   = "reset"
	EventUnlock  = "unlock"
	EventReboot  = "reboot"
)

// Bus is the D-Bus surface the engine itself relies on.
type Bus interface {
	StartUnit(name string) error
	UnitExists(name string) bool
}

// Engine drives one firmware update or factory reset run.
type Engine struct {
	fsm      *fsm.FSM
	bus      Bus
	opts     Options
	tmpdir   string
	updaters []Updater

	guarded      bool
	rebootNeeded bool
}

// New builds an engine over the given registry. The scratch directory
// and all updater instances are created up front; Run releases them.
func New(reg *Registry, bus Bus, opts Options) (*Engine, error) {
	tmpdir, err := os.MkdirTemp("", "fwupdate")
	if err != nil {
		return nil, errors.Wrap(err, "create temporary directory")
	}

	e := &Engine{
		bus:      bus,
		opts:     opts,
		tmpdir:   tmpdir,
		updaters: reg.Create(tmpdir),
	}
	e.fsm = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: EventUnpack, Src: []string{StateCreated}, Dst: StateUnpacked},
			{Name: EventVerify, Src: []string{StateUnpacked}, Dst: StateVerified},
			{Name: EventLock, Src: []string{StateCreated, StateUnpacked, StateVerified}, Dst: StateLocked},
			{Name: EventInstall, Src: []string{StateLocked}, Dst: StateInstalled},
			{Name: EventReset, Src: []string{StateLocked}, Dst: StateInstalled},
			{Name: EventUnlock, Src: []string{StateLocked, StateInstalled}, Dst: StateUnlocked},
			{Name: EventReboot, Src: []string{StateUnlocked}, Dst: StateDone},
		},
		fsm.Callbacks{
			"before_" + EventUnpack:  e.onUnpack,
			"before_" + EventVerify:  e.onVerify,
			"before_" + EventLock:    e.onLock,
			"before_" + EventInstall: e.onInstall,
			"before_" + EventReset:   e.onReset,
			"before_" + EventUnlock:  e.onUnlock,
			"before_" + EventReboot:  e.onReboot,
		},
	)
	return e, nil
}

// step fires one event and unwraps the callback error from the fsm
// cancellation envelope.
func (e *Engine) step(ctx context.Context, event string) error {
	err := e.fsm.Event(ctx, event)
	var canceled fsm.CanceledError
	if errors.As(err, &canceled) {
		return canceled.Err
	}
	return errors.Wrapf(err, "event %s", event)
}

func (e *Engine) interactive() bool { return !e.opts.Yes }

// Run performs the requested operation from start to finish. The
// scratch directory and any taken locks are released on every exit
// path; a teardown failure never masks the run's original error.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer e.cleanup(&err)

	switch {
	case e.opts.File != "":
		if e.interactive() && !e.confirmInstall() {
			return nil
		}
		if err = e.step(ctx, EventUnpack); err != nil {
			return err
		}
		if !e.opts.SkipMachineCheck {
			if err = e.checkMachineType(); err != nil {
				return err
			}
		}
		if !e.opts.SkipSignCheck {
			if err = e.step(ctx, EventVerify); err != nil {
				return err
			}
		}
		if err = e.step(ctx, EventLock); err != nil {
			return err
		}
		if err = e.step(ctx, EventInstall); err != nil {
			return err
		}

	case e.opts.Reset:
		warn := "WARNING: All settings will be restored to manufacturing default values."
		if e.interactive() && !tracer.Confirm(warn) {
			return nil
		}
		if err = e.step(ctx, EventLock); err != nil {
			return err
		}
		if err = e.step(ctx, EventReset); err != nil {
			return err
		}

	default:
		return errors.New("nothing to do")
	}

	if err = e.step(ctx, EventUnlock); err != nil {
		return err
	}
	return e.step(ctx, EventReboot)
}

func (e *Engine) confirmInstall() bool {
	title := "WARNING: Firmware will be updated.\n"
	if e.opts.Reset {
		title += "All settings will be restored to manufacture default values.\n"
	}
	title += "Please do not turn off the system during update!"
	return tracer.Confirm(title)
}

// addFile offers the file to every updater. Signature files and
// non-regular entries are never claimed.
func (e *Engine) addFile(path string) (bool, error) {
	if strings.HasSuffix(path, signature.Suffix) {
		return false, nil
	}
	claimed := false
	for _, up := range e.updaters {
		ok, err := up.Add(path)
		if err != nil {
			return false, err
		}
		if ok {
			claimed = true
		}
	}
	return claimed, nil
}

func (e *Engine) onUnpack(ctx context.Context, ev *fsm.Event) {
	if _, err := os.Stat(e.opts.File); err != nil {
		ev.Cancel(errors.New("Firmware package not found"))
		return
	}

	// a bare firmware file may be passed instead of a bundle
	claimed, err := e.addFile(e.opts.File)
	if err != nil {
		ev.Cancel(err)
		return
	}
	if claimed {
		return
	}

	err = tracer.Run("Unpack firmware package", func() error {
		if err := archive.Extract(e.opts.File, e.tmpdir); err != nil {
			return err
		}
		entries, err := os.ReadDir(e.tmpdir)
		if err != nil {
			return errors.Wrap(err, "read unpacked bundle")
		}
		for _, entry := range entries {
			if _, err := e.addFile(filepath.Join(e.tmpdir, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		ev.Cancel(err)
	}
}

// fwFile returns the path of a bundle metadata file, which must exist.
func (e *Engine) fwFile(name string) (string, error) {
	path := filepath.Join(e.tmpdir, name)
	if _, err := os.Stat(path); err != nil {
		return "", errors.Errorf("%s not found", name)
	}
	return path, nil
}

func (e *Engine) checkMachineType() error {
	current, err := tags.Get(OSReleaseFile, "OPENBMC_TARGET_MACHINE")
	if err != nil || current == "" {
		// an old firmware has no machine name to compare against
		logrus.Warn("current machine name is undefined, the check is skipped")
		return nil
	}

	return tracer.Run("Check target machine type", func() error {
		manifest, err := e.fwFile(ManifestFileName)
		if err != nil {
			return err
		}
		target, err := tags.Get(manifest, "MachineName")
		if err != nil {
			return err
		}
		if current != target {
			return errors.Errorf(
				"Firmware package is not compatible with this system.\n"+
					"Expected target machine type :  %s\n"+
					"Actual target machine type   :  %s", target, current)
		}
		return nil
	})
}

func (e *Engine) onVerify(ctx context.Context, ev *fsm.Event) {
	manifest, err := e.fwFile(ManifestFileName)
	if err != nil {
		ev.Cancel(err)
		return
	}
	publicKey, err := e.fwFile(signature.KeyFileName)
	if err != nil {
		ev.Cancel(err)
		return
	}

	err = tracer.Run("Check signature of firmware package", func() error {
		return signature.SystemLevelVerify(SignedConfDir, manifest, publicKey)
	})
	if err != nil {
		ev.Cancel(err)
		return
	}

	hashFunc, err := tags.Get(manifest, "HashType")
	if err != nil {
		ev.Cancel(err)
		return
	}
	for _, up := range e.updaters {
		if err := up.Verify(publicKey, hashFunc); err != nil {
			ev.Cancel(err)
			return
		}
	}
}

func (e *Engine) onLock(ctx context.Context, ev *fsm.Event) {
	if e.opts.Force {
		// forced runs flash with the devices unguarded
		return
	}

	if e.bus.UnitExists(RebootGuardEnable) {
		err := tracer.Run("Locking BMC reboot", func() error {
			return e.bus.StartUnit(RebootGuardEnable)
		})
		if err != nil {
			ev.Cancel(err)
			return
		}
		e.guarded = true
	}

	for i := len(e.updaters) - 1; i >= 0; i-- {
		if err := e.updaters[i].Lock(); err != nil {
			ev.Cancel(err)
			return
		}
	}
}

func (e *Engine) onInstall(ctx context.Context, ev *fsm.Event) {
	for _, up := range e.updaters {
		reboot, err := up.Install(e.opts.Reset)
		if err != nil {
			ev.Cancel(err)
			return
		}
		if reboot {
			e.rebootNeeded = true
		}
	}
}

func (e *Engine) onReset(ctx context.Context, ev *fsm.Event) {
	for _, up := range e.updaters {
		if err := up.Reset(); err != nil {
			ev.Cancel(err)
			return
		}
	}
	e.rebootNeeded = true
}

func (e *Engine) onUnlock(ctx context.Context, ev *fsm.Event) {
	if err := e.unlockAll(); err != nil {
		ev.Cancel(err)
	}
}

// unlockAll releases the updater locks in registration order and the
// reboot guard last. Every failure is reported, the first one wins.
func (e *Engine) unlockAll() error {
	var first error
	for _, up := range e.updaters {
		if err := up.Unlock(); err != nil {
			logrus.WithError(err).Warnf("unlock %s failed", up.Name())
			if first == nil {
				first = err
			}
		}
	}

	if e.guarded {
		err := tracer.Run("Unlocking BMC reboot", func() error {
			return e.bus.StartUnit(RebootGuardDisable)
		})
		if err != nil {
			logrus.WithError(err).Warn("disabling the reboot guard failed")
			if first == nil {
				first = err
			}
		} else {
			e.guarded = false
		}
	}
	return first
}

func (e *Engine) onReboot(ctx context.Context, ev *fsm.Event) {
	if !e.rebootNeeded {
		return
	}

	manual := false
	if e.interactive() && !tracer.Confirm("The BMC system will be rebooted to apply changes.") {
		manual = true
	}
	if !manual {
		err := tracer.Run("Reboot BMC system", func() error {
			_, err := subprocess.Run(RebootCmd)
			return err
		})
		if err != nil {
			manual = true
		}
	}
	if manual {
		ev.Cancel(errors.New("The BMC needs to be manually rebooted."))
	}
}

// cleanup releases everything the run acquired. It never replaces an
// error the run already produced.
func (e *Engine) cleanup(errp *error) {
	switch e.fsm.Current() {
	case StateLocked, StateInstalled:
		if err := e.unlockAll(); err != nil && *errp == nil {
			*errp = err
		}
	}
	if e.tmpdir != "" {
		if err := os.RemoveAll(e.tmpdir); err != nil {
			logrus.WithError(err).Warn("removing the scratch directory failed")
		}
		e.tmpdir = ""
	}
}
