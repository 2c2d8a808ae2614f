// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package archive extracts firmware bundles. Bundles are tar archives,
// optionally gzip or xz compressed; the compression is detected from
// the file content rather than the name.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Extract unpacks the bundle at src into destDir. Entries that would
// escape destDir are rejected.
func Extract(src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open bundle")
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(xzMagic))

	var r io.Reader = br
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "read gzip stream")
		}
		defer gz.Close()
		r = gz
	case bytes.HasPrefix(magic, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "read xz stream")
		}
		r = xr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read archive %s", filepath.Base(src))
		}
		if err := extractEntry(tr, hdr, destDir); err != nil {
			return err
		}
	}
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, destDir string) error {
	name := filepath.Clean(hdr.Name)
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return errors.Errorf("unsafe path %q in archive", hdr.Name)
	}
	dest := filepath.Join(destDir, name)

	switch hdr.Typeflag {
	case tar.TypeDir:
		return errors.Wrap(os.MkdirAll(dest, hdr.FileInfo().Mode().Perm()), "create directory")
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return errors.Wrap(err, "create directory")
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return errors.Wrap(err, "create file")
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return errors.Wrapf(err, "extract %s", hdr.Name)
		}
		return errors.Wrapf(out.Close(), "extract %s", hdr.Name)
	default:
		// firmware bundles carry only plain files
		return nil
	}
}
