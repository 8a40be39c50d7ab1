package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"coffeechain/internal/journal"
	"coffeechain/pkg/batch"
	"coffeechain/pkg/config"
	"coffeechain/pkg/httpapi"
	"coffeechain/pkg/ledger"
	"coffeechain/pkg/observability"
	"coffeechain/pkg/storage"
	"coffeechain/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// Run composes the ledger client, the batch service, the journal and the HTTP server, and
// serves until ctx is cancelled. A nil logger is built from the configured level and format.
func Run(ctx context.Context, args []string, logger *slog.Logger) error {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if logger == nil {
		if logger, err = NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat); err != nil {
			return err
		}
	}

	if cfg.ShowVersion {
		logger.Info("coffeechain version", "version", version.Version())
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	telemetry, err := observability.New(ctx, observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version(),
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRatio,
		Insecure:       cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("unable to start telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	client, err := ledger.Dial(ctx, ledger.Config{
		URL:             cfg.Ledger.URL,
		ContractAddress: cfg.Ledger.ContractAddress,
		OwnerAddress:    cfg.Ledger.OwnerAddress,
		PrivateKey:      cfg.Ledger.PrivateKey,
		ChainID:         cfg.Ledger.ChainID,
	},
		ledger.WithTracer(telemetry.Tracer()),
		ledger.WithMeter(telemetry.Meter()),
		ledger.WithLogger(logger),
		ledger.WithReadRetries(cfg.Ledger.ReadRetries),
	)
	if err != nil {
		return fmt.Errorf("unable to connect to the ledger: %w", err)
	}
	defer client.Close()
	logger.Info("ledger connected",
		"url", cfg.Ledger.URL, "contract", client.ContractAddress().Hex(), "sender", client.Sender().Hex())

	opts := []batch.Option{batch.WithLogger(logger)}

	locker, closeLocker, err := newLocker(ctx, cfg.Lock, logger)
	if err != nil {
		return err
	}
	defer closeLocker()
	opts = append(opts, batch.WithLocker(locker))

	var transactions httpapi.TransactionLister
	if cfg.Journal.Driver != "none" {
		db, err := storage.Open(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("unable to open journal: %w", err)
		}
		defer db.Close()

		repo := journal.NewRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("unable to ensure journal schema: %w", err)
		}
		recorder := journal.NewRecorder(repo, 0, logger)
		defer recorder.Close()

		opts = append(opts, batch.WithJournal(recorder))
		transactions = recorder
	}

	api, err := httpapi.New(httpapi.Config{
		Service:        batch.NewService(client, opts...),
		Transactions:   transactions,
		Telemetry:      telemetry,
		Logger:         logger,
		AuthSecret:     cfg.API.AuthSecret,
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("unable to build http server: %w", err)
	}
	defer api.Close()

	if cfg.Domain != "" {
		logger.Info("starting HTTPS servers", "domain", cfg.Domain)
		return runDomainServers(ctx, cfg, api.Handler(), logger)
	}

	server := newHTTPServer(cfg.Address(), api.Handler(), cfg.RequestTimeout)
	logger.Info("coffeechain service is running", "addr", server.Addr, "version", version.Version())
	return serve(ctx, server, logger, server.ListenAndServe)
}

// NewLogger builds a text or JSON slog logger at level.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q must be text or json", format)
	}
}

// newLocker picks the distribute lock. The returned close function is never nil.
func newLocker(ctx context.Context, cfg config.LockConfig, logger *slog.Logger) (batch.Locker, func(), error) {
	switch cfg.Mode {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("distribute lock", "mode", "redis", "addr", cfg.RedisAddr, "ttl", cfg.TTL)
		return batch.NewRedisLocker(client, cfg.TTL, logger), func() { client.Close() }, nil
	case "none":
		logger.Warn("distribute lock disabled; concurrent distributes may race")
		return batch.NoLock{}, func() {}, nil
	default:
		return batch.NewKeyedMutex(), func() {}, nil
	}
}

// newHTTPServer keeps the write deadline past the request timeout so handlers can still
// answer a timed-out ledger call.
func newHTTPServer(addr string, handler http.Handler, requestTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: requestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serve runs listen until it fails or ctx is cancelled, then shuts server down.
func serve(ctx context.Context, server *http.Server, logger *slog.Logger, listen func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- listen() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "addr", server.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	}
	return nil
}
