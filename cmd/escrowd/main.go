package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nervix/config"
	"nervix/core"
	"nervix/core/genesis"
	"nervix/observability/logging"
	telemetry "nervix/observability/otel"
	"nervix/rpc"
	"nervix/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides the config)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		slog.Error("escrowd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile, genesisOverride string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(genesisOverride) != "" {
		cfg.GenesisFile = genesisOverride
	}
	logger := logging.Setup("escrowd", cfg.Log.Env, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.Info("escrowd starting",
		slog.String("network", cfg.NetworkName),
		slog.String("data_dir", cfg.DataDir),
		logging.Configured("rpc_auth_token", cfg.RPC.AuthToken))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Role:        telemetry.RoleLedger,
		Environment: cfg.NetworkName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		Attributes:  map[string]string{"nervix.rpc_address": cfg.RPCAddress},
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := ensureGenesis(cfg, db, logger); err != nil {
		return err
	}

	node, err := core.NewNode(db, core.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	rpcServer := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:          cfg.RPC.AuthToken,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeoutSeconds) * time.Second,
		MaxBodyBytes:       cfg.RPC.MaxBodyBytes,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		AllowedOrigins:     cfg.RPC.AllowedOrigins,
		Logger:             logger,
	})
	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.RPCAddress, err)
	}
	errCh := make(chan error, 2)
	go func() {
		if err := rpcServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", slog.String("addr", addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down escrowd")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return runErr
}

// ensureGenesis writes the genesis state on first start. An initialised ledger
// is left untouched.
func ensureGenesis(cfg *config.Config, db storage.Database, logger *slog.Logger) error {
	initialised, err := genesis.Initialised(db)
	if err != nil {
		return fmt.Errorf("inspect ledger: %w", err)
	}
	if initialised {
		return nil
	}
	spec, err := cfg.GenesisSpec()
	if err != nil {
		return fmt.Errorf("resolve genesis: %w", err)
	}
	if err := genesis.Apply(spec, db); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	logger.Info("genesis applied",
		slog.String("owner", spec.Owner),
		slog.String("treasury", spec.Treasury),
		slog.String("vault", spec.Vault))
	return nil
}
