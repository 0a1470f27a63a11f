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

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "highscores-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer cleanup()

	cfg := app.Config
	slog.Info("starting highscores server",
		"environment", cfg.Environment,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"metrics", cfg.Metrics.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	servers := []*http.Server{app.Server}
	if app.MetricsServer.Server != nil {
		servers = append(servers, app.MetricsServer.Server)
	}
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// websocket streams are hijacked and not tracked by Shutdown
		app.Hub.Close()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		app.Service.Close()
		app.Notifier.Close()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}
