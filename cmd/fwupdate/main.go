// Copyright (C) 2021-2026 the Fwupdate Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Command fwupdate installs firmware packages on OpenBMC based
// systems and restores manufacturing defaults.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platformfw/fwupdate/pkg/firmware"
	"github.com/platformfw/fwupdate/pkg/sysbus"
)

// version is set at build time from the package recipe.
var version = "unknown"

var opts struct {
	firmware.Options

	showVersion bool
	nvramRead   string
	nvramWrite  string
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fwupdate",
		Short: "OpenBMC/OpenPOWER firmware updater",
		Long: fmt.Sprintf("OpenBMC/OpenPOWER firmware updater ver %s\n\n"+
			"Installs firmware packages on the BMC and the host it manages,\n"+
			"or restores the whole system to manufacturing defaults.", version),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.File, "file", "f", "", "firmware package or a single image file to install")
	flags.BoolVarP(&opts.Reset, "reset", "r", false, "reset all settings to manufacturing defaults")
	flags.BoolVarP(&opts.SkipSignCheck, "no-sign", "s", false, "disable digital signature verification")
	flags.BoolVar(&opts.SkipMachineCheck, "no-machine-type", false, "disable target machine type check")
	flags.BoolVar(&opts.Force, "force", false, "flash without locking the devices")
	flags.BoolVarP(&opts.Yes, "yes", "y", false, "don't ask user for confirmation")
	flags.BoolVarP(&opts.showVersion, "version", "v", false, "print installed firmware versions and exit")
	flags.StringVar(&opts.nvramRead, "nvram-read", "", "save the UEFI NVRAM content to `FILE` and exit")
	flags.StringVar(&opts.nvramWrite, "nvram-write", "", "restore the UEFI NVRAM content from `FILE` and exit")
	flags.BoolVar(&opts.GbeOnly, "gbe", false, "write only the 10GBE region of the BIOS image")
	return cmd
}

func run(ctx context.Context) error {
	bus, err := sysbus.System()
	if err != nil {
		return err
	}

	switch {
	case opts.showVersion:
		return showVersions(bus)

	case opts.nvramRead != "":
		return firmware.NewBIOS(bus, "").ReadNvram(opts.nvramRead)

	case opts.nvramWrite != "":
		return firmware.NewBIOS(bus, "").WriteNvram(opts.nvramWrite)

	case opts.File == "" && !opts.Reset:
		return errors.New("one or both of --file/--reset options must be specified")
	}

	engine, err := firmware.New(firmware.Default(bus, opts.Options), bus, opts.Options)
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}

func showVersions(bus *sysbus.Conn) error {
	versions, err := bus.ActiveVersions()
	if err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Printf("%-6s  %s   [ID=%s]\n", v.Purpose, v.Version, v.ID)
		for _, ext := range v.Extended {
			fmt.Printf("        %s\n", ext)
		}
	}
	return nil
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
