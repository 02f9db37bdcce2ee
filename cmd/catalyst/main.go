package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/catalyst/internal/logging"
	"github.com/rendis/catalyst/internal/store"
	"github.com/rendis/catalyst/pkg/runtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		env       = flag.String("env", "prod", "runtime environment (dev|prod)")
		dataDir   = flag.String("data-dir", "", "directory for the file-based run store (dev)")
		dbPath    = flag.String("db", "", "libSQL database path, e.g. file:catalyst.db")
		scheduler = flag.Bool("scheduler", false, "enable the cron scheduler")
		logLevel  = flag.String("log-level", "info", "log level (debug|info|warn|error)")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	handler := logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger := slog.New(handler)

	var (
		st  store.Store
		err error
	)
	switch {
	case *dbPath != "":
		st, err = store.NewLibSQLStore(*dbPath)
	case *dataDir != "":
		st, err = store.NewFileStore(*dataDir)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	rt := runtime.New(runtime.Options{
		Logger:          logger,
		Store:           st,
		Environment:     runtime.Environment(*env),
		EnableScheduler: *scheduler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return rt.Stop(context.Background())
}
