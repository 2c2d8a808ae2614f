// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

// signer holds a generated key pair and helpers to lay out signed
// files the way a firmware bundle does.
type signer struct {
	t   *testing.T
	key *rsa.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return &signer{t: t, key: key}
}

func (s *signer) writeKey(path string) {
	s.t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		s.t.Fatal(err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0644); err != nil {
		s.t.Fatal(err)
	}
}

func (s *signer) writeSigned(path string, content []byte) {
	s.t.Helper()
	if err := os.WriteFile(path, content, 0644); err != nil {
		s.t.Fatal(err)
	}
	hw := crypto.SHA256.New()
	hw.Write(content)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, hw.Sum(nil))
	if err != nil {
		s.t.Fatal(err)
	}
	if err := os.WriteFile(path+Suffix, sig, 0644); err != nil {
		s.t.Fatal(err)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	s := newSigner(t)
	keyFile := filepath.Join(dir, "publickey")
	s.writeKey(keyFile)
	dataFile := filepath.Join(dir, "image-bmc")
	s.writeSigned(dataFile, []byte("firmware payload"))

	ok, err := Verify(keyFile, "RSA-SHA256", dataFile)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("valid signature rejected")
	}

	// plain hash names work too
	ok, err = Verify(keyFile, "sha256", dataFile)
	if err != nil || !ok {
		t.Errorf("sha256 alias: ok=%v err=%v", ok, err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	dir := t.TempDir()
	s := newSigner(t)
	keyFile := filepath.Join(dir, "publickey")
	s.writeKey(keyFile)
	dataFile := filepath.Join(dir, "image-bmc")
	s.writeSigned(dataFile, []byte("firmware payload"))

	// tamper with the payload after signing
	if err := os.WriteFile(dataFile, []byte("tampered payload"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, err := Verify(keyFile, "RSA-SHA256", dataFile)
	if err != nil {
		t.Fatalf("mismatch must not be an error: %v", err)
	}
	if ok {
		t.Error("tampered payload accepted")
	}
}

func TestVerifyErrors(t *testing.T) {
	dir := t.TempDir()
	s := newSigner(t)
	keyFile := filepath.Join(dir, "publickey")
	s.writeKey(keyFile)
	dataFile := filepath.Join(dir, "image-bmc")
	s.writeSigned(dataFile, []byte("payload"))

	if _, err := Verify(keyFile, "whirlpool", dataFile); err == nil {
		t.Error("unknown hash accepted")
	}
	if _, err := Verify(keyFile, "sha256", filepath.Join(dir, "absent")); err == nil {
		t.Error("missing data file accepted")
	}
	os.Remove(dataFile + Suffix)
	if _, err := Verify(keyFile, "sha256", dataFile); err == nil {
		t.Error("missing signature file accepted")
	}
	badKey := filepath.Join(dir, "badkey")
	os.WriteFile(badKey, []byte("not a key"), 0644)
	s.writeSigned(dataFile, []byte("payload"))
	if _, err := Verify(badKey, "sha256", dataFile); err == nil {
		t.Error("garbage key accepted")
	}
}

// writeCandidate lays out one key directory under the configuration
// root the way the activationdata tree does.
func writeCandidate(t *testing.T, confDir, name, hashType string, s *signer) {
	t.Helper()
	dir := filepath.Join(confDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	s.writeKey(filepath.Join(dir, "publickey"))
	hash := "HashType = \"" + hashType + "\"\n"
	if err := os.WriteFile(filepath.Join(dir, "hashfunc"), []byte(hash), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSystemLevelVerify(t *testing.T) {
	dir := t.TempDir()
	confDir := filepath.Join(dir, "activationdata")
	bundle := filepath.Join(dir, "bundle")
	if err := os.MkdirAll(bundle, 0755); err != nil {
		t.Fatal(err)
	}

	good := newSigner(t)
	stranger := newSigner(t)

	manifest := filepath.Join(bundle, "MANIFEST")
	bundleKey := filepath.Join(bundle, "publickey")
	good.writeSigned(manifest, []byte("MachineName = \"vegman\"\n"))
	// the bundle carries the signing public key, itself signed
	der, err := x509.MarshalPKIXPublicKey(&good.key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	good.writeSigned(bundleKey, keyPEM)

	// a foreign candidate first: it must be skipped, not fatal
	writeCandidate(t, confDir, "Stranger", "RSA-SHA256", stranger)
	writeCandidate(t, confDir, "OpenBMC", "RSA-SHA256", good)

	if err := SystemLevelVerify(confDir, manifest, bundleKey); err != nil {
		t.Fatalf("verification failed with a valid candidate present: %v", err)
	}

	// order independence: good candidate sorted first
	confDir2 := filepath.Join(dir, "activationdata2")
	writeCandidate(t, confDir2, "AAA-OpenBMC", "RSA-SHA256", good)
	writeCandidate(t, confDir2, "ZZZ-Stranger", "RSA-SHA256", stranger)
	if err := SystemLevelVerify(confDir2, manifest, bundleKey); err != nil {
		t.Fatalf("verification failed with candidate order reversed: %v", err)
	}
}

func TestSystemLevelVerifyNoWinner(t *testing.T) {
	dir := t.TempDir()
	confDir := filepath.Join(dir, "activationdata")
	bundle := filepath.Join(dir, "bundle")
	if err := os.MkdirAll(bundle, 0755); err != nil {
		t.Fatal(err)
	}

	good := newSigner(t)
	stranger := newSigner(t)
	manifest := filepath.Join(bundle, "MANIFEST")
	bundleKey := filepath.Join(bundle, "publickey")
	good.writeSigned(manifest, []byte("MachineName = \"vegman\"\n"))
	good.writeSigned(bundleKey, []byte("key material"))

	writeCandidate(t, confDir, "Stranger", "RSA-SHA256", stranger)
	// candidate with an unusable hash descriptor must be skipped too
	writeCandidate(t, confDir, "Broken", "no-such-hash", good)

	if err := SystemLevelVerify(confDir, manifest, bundleKey); err == nil {
		t.Error("verification passed without a matching candidate")
	}
	if err := SystemLevelVerify(filepath.Join(dir, "absent"), manifest, bundleKey); err == nil {
		t.Error("verification passed with a missing configuration root")
	}
}
