// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package tracer implements the operator console protocol: aligned
// task lines completed with an OK/FAIL status, and the yes/no
// confirmation prompt.
package tracer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const titleWidth = 40

// Out and In carry the operator dialog. Tests point them at buffers.
var (
	Out io.Writer = os.Stdout
	In  io.Reader = os.Stdin
)

// Task is a single traced operation. The title is printed immediately,
// the status once the task completes.
type Task struct {
	completed bool
}

// Begin prints the task title and leaves the line open for the status.
func Begin(format string, args ...interface{}) *Task {
	title := fmt.Sprintf(format, args...)
	pad := titleWidth - len(title)
	if pad < 3 {
		pad = 3
	}
	fmt.Fprintf(Out, "%s %-*s ", title, pad, "...")
	return &Task{}
}

// Done completes the task with an OK status.
func (t *Task) Done() {
	t.complete(" OK ")
}

// Fail completes the task with a FAIL status.
func (t *Task) Fail() {
	t.complete("FAIL")
}

// Close fails the task if no status was reported. Intended for defer.
func (t *Task) Close() {
	if !t.completed {
		t.Fail()
	}
}

func (t *Task) complete(status string) {
	if t.completed {
		return
	}
	fmt.Fprintf(Out, "[%s]\n", status)
	t.completed = true
}

// Run traces fn as one task, failing it when fn returns an error.
func Run(title string, fn func() error) error {
	t := Begin("%s", title)
	if err := fn(); err != nil {
		t.Fail()
		return err
	}
	t.Done()
	return nil
}

// Confirm prints the title and asks for a yes/no answer. Empty input,
// EOF and anything that is not a variant of "yes" mean no.
func Confirm(title string) bool {
	fmt.Fprintf(Out, "%s\n", title)
	sc := bufio.NewScanner(In)
	for {
		fmt.Fprint(Out, "Do you want to continue? [y/N]: ")
		if !sc.Scan() {
			return false
		}
		answer := strings.Fields(strings.ToLower(sc.Text()))
		if len(answer) == 0 {
			return false
		}
		switch answer[0] {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}
