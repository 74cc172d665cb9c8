package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"muse/internal/app"
	"muse/internal/config"
	"muse/internal/server"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}
	defer a.Close()

	srv, err := server.New(cfg.Server, server.Deps{
		Catalog:    a.Catalog,
		Detector:   a.Detector,
		Controller: a.Controller,
		Store:      a.Store,
		Ledger:     a.Ledger,
		Bus:        a.Bus,
		Events:     a.Dispatcher,
		Registry:   a.Registry,
		Logger:     a.Logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartJanitor(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.Logger.Info("received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// Let dispatched jobs settle before the stores close.
	a.Controller.Wait()
	return nil
}
