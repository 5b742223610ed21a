// smartpoold runs a set of configured resource pools and exposes their
// health over a metrics endpoint.
//
// It exists for operating the pools as a sidecar-style process and for
// exercising a configuration end to end; most consumers embed the
// library packages directly instead.
//
// Usage:
//
//	smartpoold [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.smartpool/config.toml")
//	-metrics string
//	    Metrics listen address (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smartpool-go/smartpool/lib/config"
	"github.com/smartpool-go/smartpool/lib/metrics"
	"github.com/smartpool-go/smartpool/lib/pool"
	"github.com/smartpool-go/smartpool/lib/registry"
	"github.com/smartpool-go/smartpool/version"
)

// statsInterval is how often pool gauges are refreshed.
const statsInterval = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".smartpool", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	metricsAddr := flag.String("metrics", "", "Metrics listen address (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "smartpoold - bounded resource pool daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  smartpoold [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("smartpoold version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsAddr
	}
	if len(cfg.Pools) == 0 {
		logger.Error("no pools configured", "config", *configPath)
		return 1
	}

	reg := registry.New()
	if err := config.OpenPools(cfg, reg); err != nil {
		logger.Error("failed to open pools", "error", err)
		return 1
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("closing pools", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var httpServer *http.Server
	serverErr := make(chan error, 1)
	if cfg.Metrics.Enabled {
		metrics.RecordStartTime()
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		httpServer = &http.Server{
			Addr:    cfg.Metrics.Listen,
			Handler: mux,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	go statsLoop(ctx, reg, logger)

	logger.Info("smartpoold started",
		"pools", len(cfg.Pools), "version", version.Version)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-serverErr:
		logger.Error("metrics server failed", "error", err)
		return 1
	}

	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
			return 1
		}
	}

	logger.Info("smartpoold stopped")
	return 0
}

// statsLoop periodically refreshes pool gauges and logs a snapshot of
// every pool.
func statsLoop(ctx context.Context, reg *registry.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := pool.Stats{}
			for _, name := range reg.Names() {
				p, err := reg.Lookup(name)
				if err != nil {
					continue
				}
				s := p.Pool().Stats()
				logger.Debug("pool stats",
					"pool", s.Name, "total", s.Total,
					"idle", s.Idle, "in_use", s.InUse,
					"grants", s.Grants, "evictions", s.Evictions)
				total.MaxCount += s.MaxCount
				total.Total += s.Total
				total.Idle += s.Idle
				total.InUse += s.InUse
			}
			pool.UpdateMetrics(total)
		}
	}
}
