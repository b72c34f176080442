package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transitmap/internal/config"
	"transitmap/internal/geocode"
	"transitmap/internal/handler"
	"transitmap/internal/metrics"
	"transitmap/internal/publisher"
	"transitmap/internal/realtime"
	"transitmap/internal/routedata"
	"transitmap/internal/server"
	"transitmap/internal/session"
	"transitmap/internal/transitapi"
)

const alertsInterval = time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("transit map failed", "error", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until it shuts down. Deferred cleanup
// always runs before main exits.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Transit backend base URL")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := newLogger(os.Stderr, cfg.LogFormat, level)

	// Cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(cfg.RefreshInterval)
	api := transitapi.NewClient(cfg.BackendURL, cfg.RequestTimeout, logger).WithObserver(collector)

	routeOpts := routedata.Options{
		InitialMaxAge:    cfg.InitialMaxAge,
		RefreshMaxAge:    cfg.RefreshMaxAge,
		RefreshInterval:  cfg.RefreshInterval,
		ProbeConcurrency: cfg.ProbeConcurrency,
		Metrics:          collector,
	}
	if cfg.NATSURL != "" {
		pub, err := publisher.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, collector, logger)
		if err != nil {
			// Fan-out is optional; the map works without it
			logger.Error("connecting to NATS", "url", cfg.NATSURL, "error", err)
		} else {
			defer pub.Close()
			routeOpts.Sink = pub
		}
	}

	sessions := session.NewStore(api, session.Options{
		TTL:               cfg.SessionTTL,
		Route:             routeOpts,
		ActiveProbeMaxAge: cfg.ActiveProbeMaxAge,
		ProbeConcurrency:  cfg.ProbeConcurrency,
		Metrics:           collector,
	}, logger)
	defer sessions.Close()
	go sessions.Run(ctx)

	// Start GTFS-RT service alerts fetcher
	var alerts *realtime.Store
	if cfg.AlertsFeedURL != "" {
		alerts = realtime.NewStore()
		go realtime.NewFetcher(cfg.AlertsFeedURL, alertsInterval, alerts, logger).Run(ctx)
	}

	var geo *geocode.Client
	if cfg.GeocodeURL != "" {
		geo = geocode.New(cfg.GeocodeURL, cfg.GeocodeUserAgent, cfg.RequestTimeout)
	}

	h := handler.New(api, alerts, geo, cfg, collector, logger)
	srv := server.New(cfg, h, sessions, collector.Handler(), logger)

	logger.Info("transit map configured",
		"backend", cfg.BackendURL,
		"refresh_interval", cfg.RefreshInterval,
		"alerts", cfg.AlertsFeedURL != "",
		"nats", routeOpts.Sink != nil,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("transit map stopped")
	return nil
}

// newLogger returns a text logger, or a JSON one for log shippers.
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
