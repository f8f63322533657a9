// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/governance"
)

func newCapabilitiesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "Search and inspect provider capabilities",
	}
	cmd.AddCommand(newCapabilitiesSearchCmd(c), newCapabilitiesSelectCmd(c))
	return cmd
}

func newCapabilitiesSearchCmd(c *cli) *cobra.Command {
	var (
		limit int
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank capabilities by keyword match",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := core.ParseMode(mode)
			if err != nil {
				return NewInvalidArgumentError("mode", err.Error())
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			a.sync(cmd.Context())

			spec := c.cfg.RoutingPolicy().Spec(m)
			filter := governance.NewModeFilter(c.cfg.Governance.Filter())
			results, err := a.registry.Find(strings.Join(args, " "), limit, filter.Predicate(cmd.Context(), spec))
			if err != nil {
				return err
			}
			return printDescriptors(cmd.OutOrStdout(), results, c.flags.JSON)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum number of results")
	cmd.Flags().StringVarP(&mode, "mode", "m", "general", "Apply the policy of this mode")
	return cmd
}

func newCapabilitiesSelectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "select <name>",
		Short: "Load and print the full schema of a capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			a.sync(cmd.Context())

			session := core.NewSessionState(core.ModeGeneral, c.cfg.RoutingPolicy())
			d, err := a.registry.Select(cmd.Context(), session, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.flags.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			fmt.Fprintf(out, "%s (%s)\n%s\n", d.Name, d.Provider, d.Summary)
			if d.MutatesState {
				fmt.Fprintln(out, "Changes remote state.")
			}
			if len(d.Schema) > 0 {
				fmt.Fprintf(out, "Parameters: %s\n", d.Schema)
			}
			if rules := a.registry.Knowledge(d.Name); rules != "" {
				fmt.Fprintln(out, rules)
			}
			return nil
		},
	}
}
