// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseBootAddress(t *testing.T) {
	tests := []struct {
		line string
		want uint32
	}{
		{"bootcmd=bootm 20080000", imageAAddr},
		{"bootcmd=bootm 22480000", imageBAddr},
		{"bootcmd=bootm 20080000 1000", 0},
		{"bootcmd=run bootspi", 0},
		{"bootdelay=2", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseBootAddress(tt.line); got != tt.want {
			t.Errorf("parseBootAddress(%q) = %#x, want %#x", tt.line, got, tt.want)
		}
	}
}

func TestParseBootSide(t *testing.T) {
	tests := []struct {
		line string
		want uint32
	}{
		{"bootside=a", imageAAddr},
		{"bootside=b", imageBAddr},
		{"bootside=c", 0},
		{"bootside=", 0},
	}
	for _, tt := range tests {
		if got := parseBootSide(tt.line); got != tt.want {
			t.Errorf("parseBootSide(%q) = %#x, want %#x", tt.line, got, tt.want)
		}
	}
}

func TestIntelFlashable(t *testing.T) {
	u := NewIntel(nil, t.TempDir())
	for name, want := range map[string]bool{
		"image-mtd":     true,
		"image-runtime": true,
		"image-u-boot":  true,
		"image-bmc":     false,
		"image-rwfs":    false,
		"firmware.pnor": false,
	} {
		if got := u.flashable(name); got != want {
			t.Errorf("flashable(%q) = %v, want %v", name, got, want)
		}
	}
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("image"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIntelAddOverlap(t *testing.T) {
	dir := t.TempDir()
	mtd := touch(t, dir, "image-mtd")
	runtime := touch(t, dir, "image-runtime")
	uboot := touch(t, dir, "image-u-boot")

	t.Run("whole image after parts", func(t *testing.T) {
		u := NewIntel(nil, t.TempDir())
		if ok, err := u.Add(runtime); !ok || err != nil {
			t.Fatalf("Add(image-runtime) = %v, %v", ok, err)
		}
		if _, err := u.Add(mtd); err == nil {
			t.Fatal("Add(image-mtd) after image-runtime must fail")
		}
	})

	t.Run("parts after whole image", func(t *testing.T) {
		u := NewIntel(nil, t.TempDir())
		if ok, err := u.Add(mtd); !ok || err != nil {
			t.Fatalf("Add(image-mtd) = %v, %v", ok, err)
		}
		if _, err := u.Add(runtime); err == nil {
			t.Fatal("Add(image-runtime) after image-mtd must fail")
		}
	})

	t.Run("parts combine", func(t *testing.T) {
		u := NewIntel(nil, t.TempDir())
		if ok, err := u.Add(runtime); !ok || err != nil {
			t.Fatalf("Add(image-runtime) = %v, %v", ok, err)
		}
		if ok, err := u.Add(uboot); !ok || err != nil {
			t.Fatalf("Add(image-u-boot) = %v, %v", ok, err)
		}
	})

	t.Run("foreign file ignored", func(t *testing.T) {
		u := NewIntel(nil, t.TempDir())
		other := touch(t, dir, "image-bmc")
		if ok, err := u.Add(other); ok || err != nil {
			t.Fatalf("Add(image-bmc) = %v, %v, want unclaimed", ok, err)
		}
	})
}
