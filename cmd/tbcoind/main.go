// Command tbcoind runs the token ledger and governance core behind its
// HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbcoin-labs/core/pkg/api"
	"github.com/tbcoin-labs/core/pkg/archive"
	"github.com/tbcoin-labs/core/pkg/config"
	"github.com/tbcoin-labs/core/pkg/eventlog"
	"github.com/tbcoin-labs/core/pkg/governance"
	"github.com/tbcoin-labs/core/pkg/orders"
	"github.com/tbcoin-labs/core/pkg/recovery"
	"github.com/tbcoin-labs/core/pkg/token"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlay")
	resumeOnStart := flag.Bool("resume", false, "replay failed events from the log before serving")
	flag.Parse()

	if err := run(*configPath, *resumeOnStart); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, resumeOnStart bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	events, err := eventlog.Open(cfg.EventLogFile, logger)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	sink, err := archive.Open(cfg.ArchiveFile, logger)
	if err != nil {
		return fmt.Errorf("open event archive: %w", err)
	}
	defer func() { _ = sink.Close() }()
	detach := sink.Attach(events)
	defer detach()

	ledger := token.NewLedger(token.Params{
		Mint:     cfg.MintAddress,
		Symbol:   cfg.TokenSymbol,
		Name:     cfg.TokenName,
		Decimals: cfg.Decimals,
	})
	book := orders.NewBook()
	engine := governance.NewEngine(governance.Config{
		UpdateAuthority: cfg.UpdateAuthority,
		Secret:          cfg.APIKey,
		DriftWindow:     cfg.DriftWindow,
	}, ledger, events, logger)
	coordinator := recovery.NewCoordinator(events, ledger, book, logger)

	if resumeOnStart {
		summary, err := coordinator.Resume(recovery.Options{OnlyFailed: true})
		if err != nil {
			return fmt.Errorf("resume on start: %w", err)
		}
		logger.Info("startup resume finished",
			"resumed", summary.ResumedOperations, "success_rate", summary.SuccessRate)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	server := api.NewServer(ledger, book, engine, events, coordinator, limiter, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
