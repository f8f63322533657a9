// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the sextant CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err, jsonOutput(root))
		stop()
		os.Exit(1)
	}
}
