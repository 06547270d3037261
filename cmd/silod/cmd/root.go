// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cmd implements the silod command line.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/silo-systems/silod/internal/app/silod"
	"github.com/silo-systems/silod/internal/app/silod/pkg/config"
)

var rootCmdArgs struct {
	configFile  string
	siloRoot    string
	busAddress  string
	linkAddress string
	debug       bool
}

var rootCmd = &cobra.Command{
	Use:           "silod",
	Short:         "silod manages silos and supervises the privileged work on them",
	Version:       silod.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()

		if rootCmdArgs.configFile != "" {
			var err error

			if cfg, err = config.Load(rootCmdArgs.configFile); err != nil {
				return err
			}
		}

		if cmd.Flags().Changed("silo-root") {
			cfg.SiloRoot = rootCmdArgs.siloRoot
		}

		if cmd.Flags().Changed("bus-address") {
			cfg.BusAddress = rootCmdArgs.busAddress
		}

		if cmd.Flags().Changed("link-address") {
			cfg.LinkAddress = rootCmdArgs.linkAddress
		}

		if rootCmdArgs.debug {
			cfg.Debug = true
		}

		log, err := buildLogger(cfg.Debug)
		if err != nil {
			return err
		}

		defer log.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
		defer stop()

		return silod.Run(ctx, log, cfg)
	},
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

func init() {
	rootCmd.Flags().StringVar(&rootCmdArgs.configFile, "config", "", "path to the configuration file")
	rootCmd.Flags().StringVar(&rootCmdArgs.siloRoot, "silo-root", config.Default().SiloRoot, "directory holding the managed silos")
	rootCmd.Flags().StringVar(&rootCmdArgs.busAddress, "bus-address", "", "D-Bus address (default: system bus)")
	rootCmd.Flags().StringVar(&rootCmdArgs.linkAddress, "link-address", config.Default().LinkAddress, "varlink listen address")
	rootCmd.Flags().BoolVar(&rootCmdArgs.debug, "debug", false, "enable debug logging")
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n") //nolint:errcheck
		os.Exit(1)
	}
}
