// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package nvm reads and writes the MAC address table of an Intel X722
// 10GBE NVM region, either as a standalone region dump or in place
// inside a whole BIOS image. The layout constants come from "Intel
// Ethernet Connection X722 - Programming MAC Addresses".
package nvm

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Region geometry of the 10GBE NVM inside a BIOS image.
const (
	RegionOffset = 0x00a36000
	RegionSize   = 0x005ba000
)

const (
	wordSize = 2
	bankSize = 0x10000

	controlWord = 0x0000
	bankValid   = 0x0249

	macOffsetPtr   = 0x0048
	macOffsetShift = 0x0018
	macHeaderWords = 0x0001

	checksumOffset = 0x003f
	checksumBase   = 0xbaba
	vpdOffsetPtr   = 0x002f
	vpdSize        = 1024
	pcieAltSize    = 1024
)

// MacCount is the number of PF MAC addresses kept in the NVM.
const MacCount = 4

// Mac is one 48 bit MAC address.
type Mac [6]byte

// MacAddresses is the full PF MAC address table.
type MacAddresses [MacCount]Mac

// Image is a memory mapped NVM region with the valid bank located.
type Image struct {
	data  []byte
	start int // byte offset of the valid bank
}

// Open maps the file and locates the valid NVM bank. The file is
// either a bare region dump (size == RegionSize) or a whole BIOS image
// with the region at RegionOffset. Banks are redundant; the first one
// whose control word carries the valid sentinel wins.
func Open(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open NVM image")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat NVM image")
	}
	size := int(st.Size())
	if size < RegionSize {
		return nil, errors.New("the image file is too small to contain a 10GBE region")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "mmap NVM image")
	}

	img := &Image{data: data}
	if size != RegionSize {
		img.start = RegionOffset
	}
	if !img.bankIsValid() {
		img.start += bankSize
		if !img.bankIsValid() {
			unix.Munmap(data)
			return nil, errors.New("no valid bank in 10GBE region")
		}
	}
	return img, nil
}

// Close unmaps the image.
func (img *Image) Close() error {
	return errors.Wrap(unix.Munmap(img.data), "munmap NVM image")
}

func (img *Image) bankIsValid() bool {
	w, err := img.word(controlWord)
	return err == nil && w == bankValid
}

// bytes returns n bytes of the active bank starting at the given word
// offset, bounds checked against the mapping.
func (img *Image) bytes(off, n int) ([]byte, error) {
	b := img.start + off*wordSize
	if b < 0 || b+n > len(img.data) {
		return nil, errors.New("invalid 10GBE NVM")
	}
	return img.data[b : b+n], nil
}

func (img *Image) word(off int) (uint16, error) {
	b, err := img.bytes(off, wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// macTable resolves the chained pointers leading to the PF MAC
// address section and returns its word offset.
func (img *Image) macTable() (int, error) {
	first, err := img.word(macOffsetPtr)
	if err != nil {
		return 0, err
	}
	off := int(first) + macOffsetShift
	second, err := img.word(off)
	if err != nil {
		return 0, err
	}
	return off + int(second), nil
}

// Macs returns the PF MAC addresses stored in the active bank.
func (img *Image) Macs() (MacAddresses, error) {
	var macs MacAddresses
	off, err := img.macTable()
	if err != nil {
		return macs, err
	}
	for i := range macs {
		off += macHeaderWords
		b, err := img.bytes(off, len(macs[i]))
		if err != nil {
			return macs, err
		}
		copy(macs[i][:], b)
		off += len(macs[i]) / wordSize
	}
	return macs, nil
}

// SetMacs stores the addresses in the active bank, refreshes the bank
// checksum and syncs the mapping back to the file.
func (img *Image) SetMacs(macs MacAddresses) error {
	off, err := img.macTable()
	if err != nil {
		return err
	}
	for i := range macs {
		off += macHeaderWords
		b, err := img.bytes(off, len(macs[i]))
		if err != nil {
			return err
		}
		copy(b, macs[i][:])
		off += len(macs[i]) / wordSize
	}

	sum, err := img.checksum()
	if err != nil {
		return err
	}
	b, err := img.bytes(checksumOffset, wordSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, sum)

	return errors.Wrap(unix.Msync(img.data, unix.MS_SYNC), "msync NVM image")
}

// checksum computes the bank checksum word: the 16 bit complement sum
// over the bank, skipping the checksum slot itself, the VPD module
// located through its pointer word and the PCIe ALT module that ends
// the bank.
func (img *Image) checksum() (uint16, error) {
	vpdStart, err := img.word(vpdOffsetPtr)
	if err != nil {
		return 0, err
	}

	var sum uint16
	for i := 0; i < bankSize/wordSize; i++ {
		if i == checksumOffset {
			continue
		}
		if i >= int(vpdStart) && i < int(vpdStart)+vpdSize/wordSize {
			continue
		}
		if i >= (bankSize-pcieAltSize)/wordSize {
			break
		}
		w, err := img.word(i)
		if err != nil {
			return 0, err
		}
		sum += w
	}
	return checksumBase - sum, nil
}
