// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/jllopis/sextant/pkg/agent"
	"github.com/jllopis/sextant/pkg/config"
	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
)

const chatHelp = `Commands:
  /mode <explore|plan|general>  switch mode (loaded capabilities are cleared)
  /loaded                       list capabilities loaded in this session
  /reset                        start a new session
  /exit                         quit`

func newChatCmd(c *cli) *cobra.Command {
	var (
		mode  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			out := cmd.OutOrStdout()
			var extra []core.EventEmitter
			if isTerminal(out) {
				extra = append(extra, &progress{w: cmd.ErrOrStderr()})
			}
			ag, err := a.newAgent(c.cfg, extra...)
			if err != nil {
				return err
			}
			var current atomic.Pointer[agent.Agent]
			current.Store(ag)

			if watch && c.flags.ConfigPath != "" {
				w, err := config.NewWatcher(c.flags.ConfigPath, c.profile(), config.WithWatchLogger(a.logger))
				if err != nil {
					return NewConfigError(err, c.flags.ConfigPath)
				}
				w.OnChange(func(cfg *config.Config) {
					next, err := a.newAgent(cfg, extra...)
					if err != nil {
						a.logger.Error("chat.reload.failed", slog.String("error", err.Error()))
						return
					}
					current.Store(next)
					fmt.Fprintln(cmd.ErrOrStderr(), "[config reloaded]")
				})
				if err := w.Start(); err != nil {
					return err
				}
				defer w.Stop()
			}

			s := &chatSession{mode: m, out: out}
			return s.loop(cmd, &current, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "general", "Initial session mode")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload agent settings when the config file changes")
	return cmd
}

// chatSession keeps the transcript and capability state across turns.
type chatSession struct {
	mode    core.Mode
	session *core.SessionState
	history []llm.Message
	out     io.Writer
}

func (s *chatSession) loop(cmd *cobra.Command, current *atomic.Pointer[agent.Agent], in io.Reader) error {
	interactive := isTerminal(s.out)
	if interactive {
		fmt.Fprintf(s.out, "sextant %s (%s mode). Type /help for commands.\n", version, s.mode)
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(s.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := s.command(line)
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		res, err := current.Load().Run(cmd.Context(), agent.RunInput{
			Message: line,
			Mode:    s.mode,
			Session: s.session,
			History: s.history,
		})
		if res == nil {
			return err
		}
		s.session = res.Session
		s.history = res.History
		_ = printResult(s.out, res, nil, false)
		if err != nil {
			if errors.HasCode(err, errors.CodeCancelled) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// command handles a slash command and reports whether to quit.
func (s *chatSession) command(line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	case "/mode":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /mode <explore|plan|general>")
		}
		m, err := core.ParseMode(fields[1])
		if err != nil {
			return false, err
		}
		s.mode = m
		fmt.Fprintf(s.out, "mode: %s\n", m)
	case "/loaded":
		if s.session == nil || len(s.session.Active()) == 0 {
			fmt.Fprintln(s.out, "no capabilities loaded")
			break
		}
		fmt.Fprintln(s.out, strings.Join(s.session.Active(), "\n"))
	case "/reset":
		s.session = nil
		s.history = nil
		fmt.Fprintln(s.out, "session reset")
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}
