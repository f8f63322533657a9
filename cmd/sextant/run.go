// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/sextant/pkg/agent"
	"github.com/jllopis/sextant/pkg/core"
)

func newRunCmd(c *cli) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run [flags] <prompt>",
		Short: "Run a single prompt and print the answer",
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

			var extra []core.EventEmitter
			if !c.flags.JSON && isTerminal(cmd.ErrOrStderr()) {
				extra = append(extra, &progress{w: cmd.ErrOrStderr()})
			}
			ag, err := a.newAgent(c.cfg, extra...)
			if err != nil {
				return err
			}

			res, runErr := ag.Run(cmd.Context(), agent.RunInput{
				Message: strings.Join(args, " "),
				Mode:    m,
			})
			if res == nil {
				return runErr
			}
			if err := printResult(cmd.OutOrStdout(), res, runErr, c.flags.JSON); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "general", "Session mode: explore, plan or general")
	return cmd
}
