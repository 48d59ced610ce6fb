package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nhbledger/internal/ledgernode"
	nodeconfig "nhbledger/config"
	"nhbledger/observability/logging"
	telemetry "nhbledger/observability/otel"
	"nhbledger/services/ledgerd/config"
	"nhbledger/services/ledgerd/server"
)

func main() {
	svcCfg, err := config.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load ledgerd env: %v", err)
	}
	flag.StringVar(&svcCfg.NodeConfigPath, "config", svcCfg.NodeConfigPath, "path to node config")
	flag.Parse()

	cfg, err := nodeconfig.Load(svcCfg.NodeConfigPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if svcCfg.ListenAddress != "" {
		cfg.ListenAddress = svcCfg.ListenAddress
	}

	logger, logCloser := logging.SetupWithFile("ledgerd", cfg.Environment, logging.FileOptions{Path: cfg.LogFile})
	defer logCloser.Close()

	otelCfg := cfg.Telemetry.OTel("ledgerd", cfg.Environment)
	otelCfg.Attributes = map[string]string{"ledger.quote_kind": cfg.Ledger.QuoteKind}
	if addr, err := cfg.Ledger.Address(); err == nil {
		otelCfg.Attributes["ledger.address"] = addr.String()
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		otelCfg.Endpoint = endpoint
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), otelCfg)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	node, err := ledgernode.Open(cfg, logger)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer node.Close()

	srv, err := server.New(server.Config{
		RequestsPerMinute: svcCfg.RequestsPerMinute,
		Burst:             svcCfg.Burst,
		Events:            node.Events,
	}, node.Ledger, logger)
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if svcCfg.AccrueInterval > 0 {
		go accrueLoop(ctx, srv, svcCfg.AccrueInterval, logger)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: svcCfg.ReadHeaderTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), svcCfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve http", "error", err)
			os.Exit(1)
		}
	}
}

// accrueLoop commits an empty cycle every interval until ctx ends.
func accrueLoop(ctx context.Context, srv *server.Server, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := srv.Accrue(ctx); err != nil {
				logger.Warn("accrual cycle failed", "error", err)
			}
		}
	}
}
