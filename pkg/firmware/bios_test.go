// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBIOSFlashable(t *testing.T) {
	u := NewBIOS(nil, t.TempDir())
	for name, want := range map[string]bool{
		"vegman.bin":   true,
		"vegman.img":   true,
		"vegman.pnor":  false,
		"vegman":       false,
		"firmware.bin": false,
		"image-bmc":    false,
	} {
		if got := u.flashable(name); got != want {
			t.Errorf("flashable(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestBIOSBeforeInstallReset(t *testing.T) {
	u := NewBIOS(nil, t.TempDir())
	calls := recordCommands(t, nil)

	// a reset run never dumps the UEFI settings
	if err := u.beforeInstall(true); err != nil {
		t.Fatalf("beforeInstall(true) error = %v", err)
	}
	if len(*calls) != 0 {
		t.Errorf("commands run on reset = %v, want none", *calls)
	}

	reboot, err := u.afterInstall(true)
	if err != nil {
		t.Fatalf("afterInstall(true) error = %v", err)
	}
	if reboot {
		t.Error("host firmware install must not request a BMC reboot")
	}
	if len(*calls) != 0 {
		t.Errorf("commands run on reset = %v, want none", *calls)
	}
}

func TestBIOSBeforeInstallGbeOnly(t *testing.T) {
	u := NewBIOS(nil, t.TempDir())
	u.GbeOnly = true
	calls := recordCommands(t, nil)

	if err := u.beforeInstall(false); err != nil {
		t.Fatalf("beforeInstall(false) error = %v", err)
	}
	if len(*calls) != 0 {
		t.Errorf("commands run in GbE-only mode = %v, want none", *calls)
	}
}

func TestBIOSBeforeInstallDumpFailure(t *testing.T) {
	u := NewBIOS(nil, t.TempDir())
	// the stub never creates the dump, reading the NVRAM failed
	calls := recordCommands(t, nil)

	if err := u.beforeInstall(false); err == nil {
		t.Fatal("beforeInstall(false) must fail without an NVRAM dump")
	}
	if len(*calls) != 1 {
		t.Errorf("commands run = %v, want the nanddump call only", *calls)
	}
}

func TestBIOSPreserveRestore(t *testing.T) {
	u := NewBIOS(nil, t.TempDir())
	calls := recordCommands(t, func(arg []string) {
		// fake a successful nanddump by producing the requested file
		for i, a := range arg {
			if a == "--file" && i+1 < len(arg) {
				if err := os.WriteFile(arg[i+1], []byte("nvram"), 0644); err != nil {
					t.Fatal(err)
				}
			}
		}
	})

	if err := u.beforeInstall(false); err != nil {
		t.Fatalf("beforeInstall(false) error = %v", err)
	}
	reboot, err := u.afterInstall(false)
	if err != nil {
		t.Fatalf("afterInstall(false) error = %v", err)
	}
	if reboot {
		t.Error("host firmware install must not request a BMC reboot")
	}

	// dump, erase, write back
	want := []string{NanddumpCmd, FlashEraseCmd, NandwriteCmd}
	if len(*calls) != len(want) {
		t.Fatalf("calls = %v, want %d commands", *calls, len(want))
	}
	for i, name := range want {
		if got := strings.Fields((*calls)[i])[0]; got != name {
			t.Errorf("calls[%d] = %q, want a %s call", i, (*calls)[i], name)
		}
	}
}

func TestBIOSAfterInstallMissingDump(t *testing.T) {
	u := NewBIOS(nil, t.TempDir())
	recordCommands(t, nil)

	if _, err := u.afterInstall(false); err == nil {
		t.Fatal("afterInstall(false) must fail when the NVRAM dump is gone")
	}
}

func TestEraseBlocks(t *testing.T) {
	tests := []struct {
		size, want int
	}{
		{0x10000, 1},
		{0x10001, 2},
		{0x80000, 8},
		{1, 1},
	}
	for _, tt := range tests {
		if got := eraseBlocks(tt.size); got != tt.want {
			t.Errorf("eraseBlocks(%#x) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestExtractRange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "image")
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "region")
	if err := extractRange(src, dst, 16, 32); err != nil {
		t.Fatalf("extractRange() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data[16:48]) {
		t.Errorf("extracted %x, want %x", got, data[16:48])
	}
}

func TestExtractRangeShortSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "image")
	if err := os.WriteFile(src, make([]byte, 8), 0644); err != nil {
		t.Fatal(err)
	}
	if err := extractRange(src, filepath.Join(dir, "region"), 0, 64); err == nil {
		t.Fatal("extractRange() expected an error for a short source")
	}
}
