package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/voenkogel/Nautilus/internal/log"
	"github.com/voenkogel/Nautilus/internal/scan"

	"github.com/spf13/cobra"
)

const pollInterval = 200 * time.Millisecond

// doScan drives one scan through the same coordinator the HTTP API uses,
// polling progress and mirroring new log lines to stdout. An interrupt
// requests a cooperative cancel; the loop keeps polling until the scan
// reports a terminal status.
func doScan(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("nautilus",
		slog.String("cmd", "scan"),
		slog.Int("pid", os.Getpid()),
	))

	params := map[string]any{}
	if flagRange != "" {
		params["range"] = flagRange
	}
	if flagIntensity >= 0 {
		params["intensity"] = flagIntensity
	}

	svc := scan.New(config.Scan, nil)
	if err := svc.Start(ctx, params); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	interrupted := ctx.Done()
	seen := 0
	for {
		p := svc.Progress()
		for _, line := range p.Logs[seen:] {
			fmt.Println(line)
		}
		seen = len(p.Logs)

		if p.Status.Terminal() {
			if p.Status == scan.StatusError {
				return errors.New(p.Error)
			}
			return nil
		}

		select {
		case <-interrupted:
			svc.Cancel()
			interrupted = nil // cancel once, keep polling for the terminal status
		case <-time.After(pollInterval):
		}
	}
}
