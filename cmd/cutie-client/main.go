package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/richb-hanover/cutie/internal/config"
	"github.com/richb-hanover/cutie/internal/probestore"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	logger, err := config.NewClientLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cutie-client failed", "err", err)
		os.Exit(exitFailure)
	}
}

func run(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) error {
	var store *probestore.Store
	if cfg.RecordDB != "" {
		s, err := probestore.Open(cfg.RecordDB)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	switch {
	case cfg.ListRuns:
		runs, err := store.List(ctx, 0)
		if err != nil {
			return err
		}
		writeRuns(os.Stdout, runs)
		return nil
	case cfg.ReplayRun != "":
		return replay(ctx, cfg, store, os.Stdout, logger)
	}

	return collect(ctx, cfg, store, collectOutput{
		w:           os.Stdout,
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
	}, logger)
}
