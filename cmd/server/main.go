package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"coffeechain/pkg/app"
)

// main is a thin adapter for process managers that expect cmd/server.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args[1:], nil); err != nil {
		slog.Error("application stopped with error", "err", err)
		stop()
		os.Exit(1)
	}
}
