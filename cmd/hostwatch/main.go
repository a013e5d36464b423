package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"hostwatch/internal/config"
	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/monitoring"
	"hostwatch/internal/notifications"
	"hostwatch/internal/web"
)

func main() {
	configFile := flag.StringP("config", "c", "config.yaml", "Configuration file path")
	version := flag.BoolP("version", "v", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("hostwatch %s\ncommit: %s\nbuilt: %s\n", web.Version, web.GitCommit, web.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"workers":     cfg.Monitoring.Workers,
		"interval":    cfg.Monitoring.Interval,
		"hosting":     len(cfg.Hosting),
	}).Info("Starting hostwatch")

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logrus.Fatalf("Failed to create data directory: %v", err)
	}
	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metricsCollector := metrics.NewCollector(store)

	notifier, err := notifications.NewService(&cfg.Notifications)
	if err != nil {
		logrus.Fatalf("Failed to initialize notifications: %v", err)
	}

	engine, err := monitoring.NewEngine(cfg, store, metricsCollector, notifier)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	webServer := web.NewServer(cfg, engine, metricsCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}
	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			reload(ctx, engine, *configFile)
			continue
		}
		logrus.WithField("signal", sig).Info("Received shutdown signal")
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown incomplete")
	}
	cancel()
	engine.Stop()

	logrus.Info("Shutdown complete")
}

// reload re-reads hosting records; other settings need a restart.
func reload(ctx context.Context, engine *monitoring.Engine, configFile string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		logrus.WithError(err).Error("Config reload failed, keeping current hosting records")
		return
	}
	if err := engine.RefreshConfig(ctx, cfg); err != nil {
		logrus.WithError(err).Error("Failed to apply reloaded hosting records")
		return
	}
	logrus.WithField("hosting", len(cfg.Hosting)).Info("Hosting records reloaded")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cfg.File != "" {
		logrus.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}))
	}
}
