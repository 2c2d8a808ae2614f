// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package firmware

import (
	"encoding/hex"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/platformfw/fwupdate/pkg/nvm"
)

const (
	fruPath  = "/xyz/openbmc_project/FruDevice"
	fruIface = "xyz.openbmc_project.FruDevice"

	// board records carrying additional MAC addresses
	boardInfoPrefix = "BOARD_INFO_AM"

	fruRecordMac  = 0x01 // record type: MAC address
	fruDesignX722 = 0x03 // designation: X722 10GBE controller
)

// boardInfo is one decoded BOARD_INFO_AM record: a type byte, an
// address byte packing designation and index, and the MAC itself.
type boardInfo struct {
	recordType byte
	addrType   byte
	mac        nvm.Mac
}

func (bi boardInfo) designation() byte { return bi.addrType >> 4 }
func (bi boardInfo) index() byte       { return bi.addrType & 0x0f }

// parseBoardInfo decodes the hex string stored in a BOARD_INFO_AM
// property.
func parseBoardInfo(s string) (boardInfo, error) {
	var bi boardInfo
	if len(s)%2 != 0 {
		return bi, errors.Errorf("odd FRU record length %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return bi, errors.Wrap(err, "decode FRU record")
	}
	if len(raw) < 2+len(bi.mac) {
		return bi, errors.Errorf("short FRU record: %d bytes", len(raw))
	}
	bi.recordType = raw[0]
	bi.addrType = raw[1]
	copy(bi.mac[:], raw[2:])
	return bi, nil
}

// fruBus is the D-Bus surface needed to read FRU records.
type fruBus interface {
	GetSubTree(path string, depth int32, ifaces []string) (map[string]map[string][]string, error)
	AllProperties(service, path, iface string) (map[string]dbus.Variant, error)
}

// macsFromFRU collects the X722 MAC addresses recorded on the
// motherboard FRU, indexed by the record's own port number.
func macsFromFRU(bus fruBus) (nvm.MacAddresses, error) {
	var macs nvm.MacAddresses

	tree, err := bus.GetSubTree(fruPath, 0, []string{fruIface})
	if err != nil {
		return macs, err
	}

	for path, services := range tree {
		if !strings.HasSuffix(path, "Motherboard") {
			continue
		}
		for service := range services {
			props, err := bus.AllProperties(service, path, fruIface)
			if err != nil {
				return macs, err
			}

			found := false
			for name, value := range props {
				if !strings.HasPrefix(name, boardInfoPrefix) {
					continue
				}
				s, ok := value.Value().(string)
				if !ok {
					continue
				}
				bi, err := parseBoardInfo(s)
				if err != nil {
					return macs, err
				}
				if bi.recordType != fruRecordMac || bi.designation() != fruDesignX722 {
					continue
				}
				if int(bi.index()) >= len(macs) {
					return macs, errors.New("invalid MAC index in FRU")
				}
				macs[bi.index()] = bi.mac
				found = true
			}
			if found {
				return macs, nil
			}
		}
	}
	return macs, errors.New("no MAC records found in FRU")
}
