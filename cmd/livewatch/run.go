package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livewatch/internal/app"
	"livewatch/internal/config"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the poll loop and the Telegram bot",
	Long: `Start livewatch. The config file is watched and valid changes are
applied without a restart. A missing poll.interval_seconds is written back
to the file with its default on first start.

Runs until interrupted (Ctrl+C) or SIGTERM.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("config", "c", "./config.json", "path to config file (.json, .jsonc, .yaml)")
}

func runRun(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	cfgm := config.NewConfigManager(path)
	if _, err := cfgm.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	wrote, err := cfgm.EnsureDefaults()
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(os.Stderr, "wrote default poll.interval_seconds=%d to %s\n", config.DefaultIntervalSeconds, path)
	}

	a, err := app.New(cfgm)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.Stop(sctx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
