// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/icebox/logging"
)

var log = logging.Named("MAIN")

var (
	version = "dev"
	commit  = "none"

	configPath string
	simulate   bool

	app = &cobra.Command{
		Use:           "icebox",
		Short:         "watch-only bitcoin wallet keyed by a hardware dongle",
		Long:          "icebox keeps an encrypted list of addresses derived from output descriptors, with the file key held by a Ledger dongle, and scans bitcoind for payments to them",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	app.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the TOML configuration file")
	app.PersistentFlags().BoolVar(&simulate, "simulate", false,
		"use the in-memory dongle simulator instead of a USB device")

	app.AddCommand(
		initCmd,
		importDescriptorCmd,
		getNewAddressCmd,
		listAddressesCmd,
		rescanCmd,
		infoCmd,
		signMessageCmd,
		getRandomCmd,
	)
}

func main() {
	err := app.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
