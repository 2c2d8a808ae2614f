// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package signature authenticates firmware files against detached RSA
// signatures, the kind produced by `openssl dgst -sign`.
package signature

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/platformfw/fwupdate/pkg/tags"
)

// Suffix is appended to a data file name to locate its detached
// signature.
const Suffix = ".sig"

// File names inside a key candidate directory and the bundle itself.
const (
	KeyFileName  = "publickey"
	hashFileName = "hashfunc"
)

var hashes = map[string]crypto.Hash{
	"md5":    crypto.MD5,
	"sha1":   crypto.SHA1,
	"sha224": crypto.SHA224,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

// digest resolves a manifest hash name such as "RSA-SHA256" to the
// hash it names.
func digest(hashName string) (crypto.Hash, error) {
	name := strings.ToLower(strings.TrimSpace(hashName))
	name = strings.TrimPrefix(name, "rsa-")
	h, ok := hashes[name]
	if !ok {
		return 0, errors.Errorf("unknown hash function %q", hashName)
	}
	return h, nil
}

func readPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read public key")
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.Errorf("no PEM data in %s", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "parse public key %s", path)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("%s is not an RSA public key", path)
	}
	return key, nil
}

// Verify checks the detached signature of file against the public key
// using the named hash. A well-formed but mismatching signature yields
// (false, nil); missing files, unparsable keys and unknown hash names
// are errors.
func Verify(keyFile, hashName, file string) (bool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return false, errors.Wrap(err, "read data file")
	}
	sig, err := os.ReadFile(file + Suffix)
	if err != nil {
		return false, errors.Wrap(err, "read signature file")
	}
	key, err := readPublicKey(keyFile)
	if err != nil {
		return false, err
	}
	hash, err := digest(hashName)
	if err != nil {
		return false, err
	}

	hw := hash.New()
	hw.Write(data)
	err = rsa.VerifyPKCS1v15(key, hash, hw.Sum(nil), sig)
	if errors.Is(err, rsa.ErrVerification) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "verify %s", filepath.Base(file))
	}
	return true, nil
}

// SystemLevelVerify authenticates the bundle manifest and the bundled
// public key against the key candidates installed under confDir. Each
// candidate directory holds a publickey and a hashfunc descriptor.
// Candidates are tried in turn and any candidate-internal failure just
// moves on to the next one; only running out of candidates is fatal.
func SystemLevelVerify(confDir, manifestFile, publicKeyFile string) error {
	entries, err := os.ReadDir(confDir)
	if err != nil {
		return errors.Errorf("System level verification failed")
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		keyFile := filepath.Join(confDir, e.Name(), KeyFileName)
		hashName, err := tags.Get(filepath.Join(confDir, e.Name(), hashFileName), "HashType")
		if err != nil {
			continue
		}
		ok, err := Verify(keyFile, hashName, manifestFile)
		if err != nil || !ok {
			continue
		}
		ok, err = Verify(keyFile, hashName, publicKeyFile)
		if err != nil || !ok {
			continue
		}
		return nil
	}
	return errors.Errorf("System level verification failed")
}
