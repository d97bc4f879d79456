package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nervix/observability/logging"
	telemetry "nervix/observability/otel"
	"nervix/services/escrow-mirror/config"
	"nervix/services/escrow-mirror/middleware"
	"nervix/services/escrow-mirror/models"
	"nervix/services/escrow-mirror/nodeclient"
	"nervix/services/escrow-mirror/preview"
	"nervix/services/escrow-mirror/server"
	"nervix/services/escrow-mirror/watcher"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("ESCROW_MIRROR_CONFIG"), "path to the mirror YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Observability.ServiceName, cfg.Log.Env, logging.Options{File: cfg.Log.File})
	logger.Info("escrow mirror starting",
		slog.String("network", cfg.Network),
		slog.String("database_driver", cfg.Database.Driver),
		logging.MaskField("database_dsn", cfg.Database.DSN),
		logging.Configured("node_token", cfg.Node.AuthToken),
		logging.Configured("jwt_secret", cfg.Auth.HMACSecret),
		logging.Configured("otlp_headers", cfg.Observability.OTLPHeaders))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Role:        telemetry.RoleMirror,
		Environment: cfg.Network,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Headers:     telemetry.ParseHeaders(cfg.Observability.OTLPHeaders),
		Insecure:    cfg.Observability.OTLPInsecure,
		Traces:      cfg.Observability.Tracing,
		Attributes:  map[string]string{"nervix.node_url": cfg.Node.URL},
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	fundBuffer, err := preview.ParseAmount(cfg.GasBuffers.Fund)
	if err != nil {
		logger.Error("parse fund gas buffer", "error", err)
		os.Exit(1)
	}
	defaultBuffer, err := preview.ParseAmount(cfg.GasBuffers.Default)
	if err != nil {
		logger.Error("parse default gas buffer", "error", err)
		os.Exit(1)
	}

	db, err := models.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}
	store := models.NewStore(db)

	node := nodeclient.New(cfg.Node.URL, cfg.Node.AuthToken, cfg.Node.Timeout)
	watch := watcher.New(node, store, watcher.Config{
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.Node.Timeout,
		Logger:       logger.With("component", "watcher"),
	})
	go watch.Run(ctx)

	limit := middleware.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}
	srv := server.New(server.Config{
		Network:       cfg.Network,
		Node:          node,
		Watcher:       watch,
		Store:         store,
		NodeTimeout:   cfg.Node.Timeout,
		FundBuffer:    fundBuffer,
		DefaultBuffer: defaultBuffer,
		PreviewAudit:  cfg.PreviewAudit,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"read": limit,
			"tx":   limit,
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       cfg.Observability.Metrics,
		}, logger),
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("escrow mirror listening", "addr", cfg.ListenAddress, "node", cfg.Node.URL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down escrow mirror")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
