package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanbook/pkg/config"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/lock"
	"github.com/mcclellann/loanbook/pkg/logger"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("LOANBOOK_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "loanbook: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Initialize(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer storage.Close()

	opts, closeLocker, err := lockerOptions(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	defer closeLocker()

	server := NewServer(ledger.NewLedger(storage, opts...))
	httpServer := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      server.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", httpServer.Addr, "store", cfg.Store.Driver, "lock", cfg.Lock.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return store.OpenPostgresStore(ctx, cfg.DatabaseURL)
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// lockerOptions returns the ledger options for the configured lock driver
// and a func releasing whatever it opened.
func lockerOptions(ctx context.Context, cfg config.LockConfig) ([]ledger.Option, func(), error) {
	switch cfg.Driver {
	case "", "local":
		return nil, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("could not connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		opts := lock.DefaultOptions()
		opts.Expiry = cfg.Expiry()
		opts.Tries = cfg.Tries
		opts.RetryDelay = cfg.RetryDelay()
		locker, err := lock.NewRedisLocker(client, opts)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		logger.Info("using redis locker", "addr", cfg.RedisAddr)
		return []ledger.Option{ledger.WithLocker(locker)}, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock driver %q", cfg.Driver)
	}
}
