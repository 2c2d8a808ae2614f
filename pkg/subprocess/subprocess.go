// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package subprocess runs the external flash tools the updaters rely
// on and maps their wait status to errors.
package subprocess

import (
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// Command constructs the exec.Cmd used by Run. Tests replace it to
// avoid spawning real processes.
var Command = exec.Command

// Run executes the named program and returns its combined output with
// trailing newlines stripped. A non-zero exit or termination by signal
// is an error that includes the output.
func Run(name string, arg ...string) (string, error) {
	cmd := Command(name, arg...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimRight(string(out), "\n")
	if err != nil {
		return text, waitError(name, err, text)
	}
	return text, nil
}

// RunLine splits line into words following shell quoting rules and
// executes it.
func RunLine(line string) (string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return "", errors.Wrapf(err, "parse command %q", line)
	}
	if len(args) == 0 {
		return "", errors.New("empty command line")
	}
	return Run(args[0], args[1:]...)
}

// RunInteractive executes the program with stdio passed through.
// Used for the long-running flash tools whose own progress output
// should reach the operator.
func RunInteractive(name string, arg ...string) error {
	cmd := Command(name, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return waitError(name, err, "")
	}
	return nil
}

// waitError translates a child wait status into a descriptive error.
func waitError(name string, err error, output string) error {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return errors.Wrapf(err, "run %s", name)
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return errors.Errorf("%s killed by signal %d", name, ws.Signal())
	}
	if output != "" {
		return errors.Errorf("%s exited with status %d: %s", name, ee.ExitCode(), output)
	}
	return errors.Errorf("%s exited with status %d", name, ee.ExitCode())
}
