package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voenkogel/Nautilus/internal/api"
	"github.com/voenkogel/Nautilus/internal/history"
	"github.com/voenkogel/Nautilus/internal/log"
	"github.com/voenkogel/Nautilus/internal/scan"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func doServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("nautilus",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder scan.Recorder
	var hist *history.Store
	if config.Service.History != "" {
		h, err := history.Open(ctx, config.Service.History)
		if err != nil {
			return fmt.Errorf("opening scan history: %w", err)
		}
		defer func() {
			_ = h.Close()
		}()
		hist = h
		recorder = h
	}

	svc := scan.New(config.Scan, recorder)
	srv := &http.Server{
		Addr:    config.Service.Listen,
		Handler: api.New(svc, hist),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(gctx, "listening", "addr", srv.Addr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		// a scan still running keeps running, only the HTTP layer stops
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
