// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command magic-core runs the MAGIC gateway process: the Diameter peer
// listener, the DLM registration socket, and the policy/dataplane/session
// machinery behind them.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/dataplane"
	"skyloom.aero/magic-gateway/internal/gateway"
	"skyloom.aero/magic-gateway/internal/logging"
	"skyloom.aero/magic-gateway/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML-encoded GatewayConfig value")
	diameterAddr := flag.String("diameter-addr", ":3868", "address the Diameter peer listener binds to")
	metricsAddr := flag.String("metrics-addr", ":9468", "address the Prometheus /metrics endpoint binds to")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	log := logging.New(logging.Config{
		Level:           parseLevel(*logLevel),
		Output:          os.Stderr,
		ReportTimestamp: true,
	})
	logging.SetDefault(log)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("failed to load gateway config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics()
	if err := m.Register(reg); err != nil {
		log.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}

	orc, err := gateway.New(cfg, dataplane.NewLinuxApplier(), *diameterAddr, m, log)
	if err != nil {
		log.Error("failed to assemble gateway", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	metricsSrv := &http.Server{
		Addr:    *metricsAddr,
		Handler: promHandler(reg),
	}
	go func() {
		log.Info("metrics server listening", "addr", *metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "err", err)
		}
	}()

	log.Info("starting magic-core", "diameter_addr", *diameterAddr, "dlm_socket", cfg.DLMSocketPath)
	runErr := orc.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("gateway exited with error", "err", runErr)
		os.Exit(1)
	}
}

func promHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// loadConfig reads an already-assembled GatewayConfig from a YAML file on
// disk. The core itself never parses DatalinkProfile/ClientProfile/policy
// XML (that's an external collaborator's job); this only deserializes the
// value shape internal/config already defines.
func loadConfig(path string) (config.GatewayConfig, error) {
	if path == "" {
		return config.GatewayConfig{}, fmt.Errorf("magic-core: -config is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.GatewayConfig{}, fmt.Errorf("magic-core: reading config: %w", err)
	}
	var cfg config.GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config.GatewayConfig{}, fmt.Errorf("magic-core: parsing config: %w", err)
	}
	return cfg, nil
}
