// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Subpackages implement a firmware update tool for OpenBMC based
// service processors and the platforms they manage.
//
// A firmware bundle is a tar archive carrying one or more image files,
// a MANIFEST describing them, a public key and detached signatures.
// The tool unpacks the bundle into a scratch directory, authenticates
// it against the keys installed on the system, hands each image file
// to the updater class that recognizes it, takes the hardware locks
// needed for safe flashing, writes the images, restores preserved
// configuration and finally reboots the BMC when the installed images
// require it.
//
// Updater classes:
//
//    - openbmc: BMC firmware images staged for the initramfs to pick
//      up during reboot.
//    - openpower: host PNOR flash written with pflash while the
//      hiomapd daemon is suspended.
//    - bios: host BIOS flash on Intel C62x platforms, reached over
//      SPI after reconfiguring GPIO strapping; preserves the UEFI
//      NVRAM and the X722 10GBE MAC addresses across updates.
//    - intel: BMC flash on Intel reference platforms with A/B runtime
//      banks selected through the U-Boot environment.
//
// The cmd/fwupdate command wires these together behind a small CLI.
package fwupdate
