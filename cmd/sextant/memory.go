// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/sextant/pkg/memory"
)

func newMemoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain episodic memory",
	}
	cmd.AddCommand(
		newMemoryShowCmd(c),
		newMemoryRetrieveCmd(c),
		newMemoryPruneCmd(c),
		newMemoryDedupeCmd(c),
	)
	return cmd
}

func newMemoryShowCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List recorded episodes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			all := a.store.Episodes()
			newest := make([]memory.Episode, 0, len(all))
			for i := len(all) - 1; i >= 0 && (limit <= 0 || len(newest) < limit); i-- {
				newest = append(newest, all[i])
			}
			return printEpisodes(cmd.OutOrStdout(), newest, c.flags.JSON)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of episodes (0 for all)")
	return cmd
}

func newMemoryRetrieveCmd(c *cli) *cobra.Command {
	var (
		topK   int
		prompt bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <task>",
		Short: "Show the episodes most similar to a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			found := a.store.Retrieve(cmd.Context(), strings.Join(args, " "), topK)
			if prompt && !c.flags.JSON {
				if hint := memory.FormatForPrompt(found); hint != "" {
					fmt.Fprintln(cmd.OutOrStdout(), hint)
					return nil
				}
			}
			return printEpisodes(cmd.OutOrStdout(), found, c.flags.JSON)
		},
	}
	cmd.Flags().IntVarP(&topK, "top", "k", 3, "Number of episodes to return")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Render the hint exactly as the model sees it")
	return cmd
}

func newMemoryPruneCmd(c *cli) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove episodes older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxAge <= 0 {
				maxAge = c.cfg.Memory.MaxAge
			}
			if maxAge <= 0 {
				return NewInvalidArgumentError("max-age", "a positive duration is required")
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Prune(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d episodes\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Maximum episode age, e.g. 720h (defaults to memory.max_age)")
	return cmd
}

func newMemoryDedupeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Drop successful episodes superseded by a shorter chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Deduplicate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d episodes\n", n)
			return nil
		},
	}
}

func printEpisodes(w io.Writer, episodes []memory.Episode, asJSON bool) error {
	if asJSON {
		if episodes == nil {
			episodes = []memory.Episode{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(episodes)
	}
	if len(episodes) == 0 {
		fmt.Fprintln(w, "No episodes recorded.")
		return nil
	}
	for _, e := range episodes {
		fmt.Fprintf(w, "%s  %-15s  %q\n", e.Timestamp.Format(time.RFC3339), e.Outcome, e.Signature)
		if names := e.ChainNames(); len(names) > 0 {
			fmt.Fprintf(w, "    %s\n", strings.Join(names, " -> "))
		}
	}
	return nil
}
