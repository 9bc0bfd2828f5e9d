package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/andrenbrandao/ledger/pkg/config"
	"github.com/andrenbrandao/ledger/pkg/handlers"
	"github.com/andrenbrandao/ledger/pkg/logging"
	"github.com/andrenbrandao/ledger/pkg/repositories"
	"github.com/andrenbrandao/ledger/pkg/services"
	"github.com/andrenbrandao/ledger/pkg/telemetry"
)

const boltOpenTimeout = time.Second

// openStore connects the configured backend. The postgres schema is applied on every start.
func openStore(ctx context.Context, cfg config.Config) (repositories.LedgerStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		store, err := repositories.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, multierr.Append(err, store.Close())
		}
		return store, nil
	case config.StoreBolt:
		store, err := repositories.NewBoltStore(cfg.BoltPath, boltOpenTimeout)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		return repositories.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry, err := telemetry.Setup(cfg.ServiceName, logger)
	if err != nil {
		return fmt.Errorf("configure opentelemetry: %w", err)
	}
	defer shutdownTelemetry()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	engine, err := services.NewTransferEngine(store, logger)
	if err != nil {
		return err
	}
	retry := services.DefaultRetryPolicy()
	retry.MaxRetries = cfg.MaxRetries
	retry.BaseDelay = cfg.RetryBase
	ledger := services.NewLedger(store, engine, retry, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(ledger, logger, cfg.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening to requests", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}
}
