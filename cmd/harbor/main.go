// Command harbor runs consensus simulations and diagnostics tooling
// for the harbor consensus engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/harbor-bft/harbor/internal/hcli"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := hcli.NewRootCmd(logger, level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}
