// Command listen runs the poll scheduler with the HTTP API and live feed.
//
// Usage:
//
//	listen [--backend sqlite] [--interval 5m] [--http-addr :8080] [--once]
//
// Every flag can also be set in dealwatch.yaml or as DEALWATCH_* env vars.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"dealwatch/internal/api"
	"dealwatch/internal/app"
	"dealwatch/internal/config"
	"dealwatch/internal/feed"
	"dealwatch/internal/fetch"
	"dealwatch/internal/poller"
)

func main() {
	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	once := fs.Bool("once", false, "run a single poll cycle and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, logger, err := app.Bootstrap(fs)
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("listen failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, once bool) error {
	stores, err := app.OpenStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer stores.Close()

	mirror, closeMirror, err := app.OpenMirror(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		return err
	}
	defer closeMirror()

	fetcher := fetch.NewHTTPClient(cfg.Upstream.BaseURL,
		fetch.WithAPIKey(cfg.Upstream.APIKey),
		fetch.WithTimeout(cfg.Upstream.Timeout),
		fetch.WithMaxRetries(cfg.Upstream.MaxRetries),
	)

	hub := feed.NewHub(feed.WithLogger(logger))
	defer hub.Close()

	sinks := []poller.ChangeSink{poller.LogSink{Logger: logger}, hub}
	if mirror != nil {
		sinks = append(sinks, mirror)
	}

	sched := poller.New(poller.Options{
		Registry:        stores.Registry,
		Snapshots:       stores.Snapshots,
		Events:          stores.Events,
		Fetcher:         fetcher,
		Interval:        cfg.Poll.Interval,
		Concurrency:     cfg.Poll.Concurrency,
		FetchTimeout:    cfg.Poll.FetchTimeout,
		FloatTolerance:  cfg.Poll.FloatTolerance,
		ConflictRetries: cfg.Poll.ConflictRetries,
		Sinks:           sinks,
		Logger:          logger,
	})

	if once {
		res, err := sched.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("single cycle complete",
			slog.Int("watched", res.Watched),
			slog.Int("succeeded", res.Succeeded()),
			slog.Int("changes", len(res.Changes())))
		return nil
	}

	if cfg.HTTP.Addr != "" {
		apiOpts := api.Options{
			Stores:         stores,
			Feed:           hub,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Logger:         logger,
		}
		if mirror != nil {
			apiOpts.Stats = mirror
		}
		server := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.New(apiOpts),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server listening", slog.String("addr", cfg.HTTP.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server shutdown", slog.Any("error", err))
			}
		}()
	}

	logger.Info("listener started",
		slog.String("backend", cfg.Store.Backend),
		slog.Duration("interval", cfg.Poll.Interval),
		slog.Int("concurrency", cfg.Poll.Concurrency))

	if err := sched.Run(ctx); err != nil {
		return err
	}
	logger.Info("listener stopped")
	return nil
}
