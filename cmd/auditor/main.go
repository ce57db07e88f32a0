// Command auditor starts the control plane process: it loads configuration,
// wires every component via internal/app, starts the lifecycle manager, and
// blocks until SIGINT/SIGTERM triggers a graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/app"
	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config/env; defaults to :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "path to a YAML configuration file")
	envPath := flag.String("env", "", "path to a .env file")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "grace period for draining in-flight deployments on shutdown")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		cfg.Server.Addr = trimmed
	}
	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		cfg.Store.DSN = trimmed
	}

	logger := logging.New("auditor", logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})

	rootCtx := context.Background()
	application, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		log.Fatalf("initialize control plane: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start control plane: %v", err)
	}
	logger.WithFields(map[string]interface{}{"addr": cfg.Server.Addr}).Info("control plane started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
