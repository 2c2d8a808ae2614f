// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package sysbus

import (
	"sort"
	"strings"
)

const (
	softwarePath         = "/xyz/openbmc_project/software"
	activationIface      = "xyz.openbmc_project.Software.Activation"
	versionIface         = "xyz.openbmc_project.Software.Version"
	extendedVersionIface = "xyz.openbmc_project.Software.ExtendedVersion"

	activationActive = activationIface + ".Activations.Active"
)

// Version describes one active software object.
type Version struct {
	ID       string
	Purpose  string // last component of the VersionPurpose enum value
	Version  string
	Extended []string // extended version entries, PNOR only
}

// ActiveVersions lists the versions of all active software objects,
// sorted by object ID for stable output.
func (c *Conn) ActiveVersions() ([]Version, error) {
	tree, err := c.GetSubTree(softwarePath, 0, []string{activationIface})
	if err != nil {
		return nil, err
	}

	var versions []Version
	for path, services := range tree {
		for service := range services {
			activation, err := c.StringProperty(service, path, activationIface, "Activation")
			if err != nil || activation != activationActive {
				continue
			}

			purpose, err := c.StringProperty(service, path, versionIface, "Purpose")
			if err != nil {
				return nil, err
			}
			version, err := c.StringProperty(service, path, versionIface, "Version")
			if err != nil {
				return nil, err
			}

			v := Version{
				ID:      path[strings.LastIndex(path, "/")+1:],
				Purpose: purpose[strings.LastIndex(purpose, ".")+1:],
				Version: version,
			}

			// only the PNOR object carries an extended version
			if ext, err := c.StringProperty(service, path, extendedVersionIface, "ExtendedVersion"); err == nil && ext != "" {
				v.Extended = strings.Split(ext, ",")
			}

			versions = append(versions, v)
			break
		}
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i].ID < versions[j].ID })
	return versions, nil
}
