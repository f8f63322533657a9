// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
)

type healthOutput struct {
	Status     core.HealthStatus   `json:"status"`
	Components []core.HealthResult `json:"components"`
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check models, providers and the capability catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ag, err := a.newAgent(c.cfg)
			if err != nil {
				return err
			}
			results, status := core.CheckAll(cmd.Context(), a.healthCheckers(ag))
			sort.Slice(results, func(i, j int) bool { return results[i].Component < results[j].Component })

			out := cmd.OutOrStdout()
			if c.flags.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(healthOutput{Status: status, Components: results}); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					fmt.Fprintf(out, "%-10s %-28s %s\n", r.Status, r.Component, r.Message)
				}
				fmt.Fprintf(out, "overall: %s\n", status)
			}
			if status == core.HealthUnhealthy {
				return errors.New(errors.CodeConnection, "one or more components are unhealthy", nil)
			}
			return nil
		},
	}
}
