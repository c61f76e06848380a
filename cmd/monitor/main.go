package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"netmon/internal/config"
	"netmon/internal/database"
	"netmon/internal/export"
	"netmon/internal/logging"
	"netmon/internal/metrics"
	"netmon/internal/models"
	"netmon/internal/monitor"
	"netmon/internal/ping"
	"netmon/internal/report"
	"netmon/internal/speedtest"
	"netmon/internal/stats"
	"netmon/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netmon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse configuration
	opts := config.ParseFlags()
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	opts.Apply(&cfg)

	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	if opts.SpeedtestCheck {
		return speedtestCheck(cfg, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize database
	db, err := database.New(cfg.DatabasePath, database.Options{
		MaxAttempts: cfg.StoreMaxAttempts,
		RetryDelay:  cfg.StoreRetryDelay.Duration(),
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize schema
	if err := db.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	exportSnapshot := func(ctx context.Context, path string) error {
		snap, err := export.Build(ctx, db, cfg.DatasetList(), stats.Window{}, time.Now())
		if err != nil {
			return err
		}
		return export.WriteFile(path, snap)
	}

	ctx := context.Background()
	switch {
	case opts.ExportPath != "":
		if err := exportSnapshot(ctx, opts.ExportPath); err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}
		logger.Info("snapshot written", "path", opts.ExportPath)
		return nil
	case opts.ReportDir != "":
		dir, err := report.NewGenerator(db, logger).GenerateReport(ctx, opts.ReportDir, opts.Hours)
		if err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
		fmt.Println(dir)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize components
	binder := ping.ResolveBinding()
	ping.CheckTargets(binder, cfg.Targets, logger)

	var prober models.Prober
	switch cfg.ProbeMethod {
	case "icmp":
		prober = ping.NewICMP(binder)
	default:
		prober = ping.New(binder)
	}

	deps := monitor.Deps{
		Store:      db,
		Prober:     prober,
		Maintainer: db,
		Logger:     logger,
		Metrics:    m,
	}
	if cfg.ThroughputEnabled {
		deps.Tester = newTester(cfg, logger)
	}
	if cfg.ExportPath != "" {
		deps.Export = func(ctx context.Context) error {
			return exportSnapshot(ctx, cfg.ExportPath)
		}
	}
	mon := monitor.New(cfg, deps)
	logger.Info("monitor session", "session", mon.SessionID(), "targets", len(cfg.Targets), "probe_method", cfg.ProbeMethod)

	if opts.Once {
		mon.RunOnce(ctx)
		if deps.Export != nil {
			if err := deps.Export(ctx); err != nil {
				logger.Warn("snapshot export failed", logging.Err(err))
			}
		}
		return nil
	}

	var webServer *web.Server
	if cfg.WebEnabled {
		webServer = web.New(db, web.Options{
			Port:      cfg.Port,
			StaticDir: cfg.StaticDir,
			Datasets:  cfg.DatasetList(),
			Gatherer:  reg,
			Logger:    logger,
		})
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := mon.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	if webServer != nil {
		if err := webServer.Start(); err != nil {
			mon.Stop()
			mon.Wait()
			return fmt.Errorf("failed to start web server: %w", err)
		}
		logger.Info("web interface available", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
	}

	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	if webServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := webServer.Stop(shutdownCtx); err != nil {
			logger.Warn("web server shutdown", logging.Err(err))
		}
	}
	mon.Stop()
	mon.Wait()
	return nil
}

func newTester(cfg config.Config, logger *slog.Logger) *speedtest.Tester {
	return speedtest.New(speedtest.Options{
		Timeout:   cfg.ThroughputTimeout(),
		ServerID:  cfg.ThroughputServerID,
		Dataset:   cfg.ThroughputDataset,
		Interface: cfg.ThroughputInterface,
	}, logger)
}

// speedtestCheck runs one measurement and prints the result as JSON
func speedtestCheck(cfg config.Config, logger *slog.Logger) error {
	tester := newTester(cfg, logger)
	ctx := context.Background()

	cmd, err := tester.Command(ctx)
	if errors.Is(err, speedtest.ErrUnavailable) {
		return errors.New("no speed test tool found, install speedtest or speedtest-cli")
	}
	if err == nil {
		fmt.Fprintf(os.Stderr, "running: %s\n", cmd)
	}

	result, err := tester.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("speed test failed: %s", result.Error)
	}
	return nil
}
