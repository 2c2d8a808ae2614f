// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package tags reads simple `key = "value"` tag files such as the
// bundle MANIFEST, /etc/os-release and the activation key descriptors.
package tags

import (
	"bufio"
	"os"
	"regexp"

	"github.com/pkg/errors"
)

var tagLine = regexp.MustCompile(`(?i)^\s*([a-z0-9_]+)\s*=\s*"?([^"]+)"?\s*$`)

// Get returns the value of key from the given tag file. Quotes around
// the value are optional, the first matching line wins and a key that
// is not present yields an empty string.
func Get(path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open tag file")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := tagLine.FindStringSubmatch(sc.Text())
		if m != nil && m[1] == key {
			return m[2], nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return "", nil
}
