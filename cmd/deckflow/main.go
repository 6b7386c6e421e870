// Package main is the entry point for the deckflow CLI, the terminal
// client for presentation generation jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/makeasinger/deckflow/cmd/deckflow/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
