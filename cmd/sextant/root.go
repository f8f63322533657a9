// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jllopis/sextant/pkg/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	ConfigPath string
	Profile    string
	JSON       bool
}

// cli carries state between the root command and its children.
type cli struct {
	flags globalFlags
	cfg   *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "sextant",
		Short:         "Capability orchestration agent over MCP providers",
		Long:          "sextant discovers capabilities across MCP providers on demand, routes each turn to the right model and learns from past runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.LoadWithProfile(c.flags.ConfigPath, c.profile())
			if err != nil {
				return NewConfigError(err, c.flags.ConfigPath)
			}
			c.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.ConfigPath, "config", "c", "", "Path to the YAML configuration file")
	pf.StringVar(&c.flags.Profile, "profile", "", "Configuration profile overlay (dev, prod)")
	pf.BoolVar(&c.flags.JSON, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		newVersionCmd(),
		newRunCmd(c),
		newChatCmd(c),
		newCapabilitiesCmd(c),
		newMemoryCmd(c),
		newHealthCmd(c),
	)
	return root
}

func (c *cli) profile() string {
	if c.flags.Profile != "" {
		return c.flags.Profile
	}
	return lookupEnv(config.ProfileEnv)
}

// open wires the application for a command. Logs go to the command's error
// stream.
func (c *cli) open(cmd *cobra.Command) (*app, error) {
	return newApp(cmd.Context(), c.cfg, cmd.ErrOrStderr())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "sextant", version)
		},
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func jsonOutput(root *cobra.Command) bool {
	v, err := root.PersistentFlags().GetBool("json")
	return err == nil && v
}
