// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// ballot runs one node of the hierarchical vote network: a client that casts
// and forwards votes, a relay that aggregates a branch, or the organizer that
// opens votings and computes tallies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cobra.Command{
		Use:          "ballot",
		Short:        "Runs a vote network node",
		RunE:         runFunc,
		SilenceUsage: true,
	}
	AddFlags(cmd.Flags())
	cmd.AddCommand(keygenCommand())

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
