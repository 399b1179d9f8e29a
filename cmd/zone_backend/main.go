package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/store"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zoneapi"
)

var (
	// Command-line flags
	httpAddr  = flag.String("http", getenv("ZONE_BACKEND_ADDR", ":8000"), "HTTP server address")
	dbPath    = flag.String("db", getenv("ZONE_DB_PATH", "data/db/zones.db"), "SQLite database path")
	publicURL = flag.String("public-url", getenv("ZONE_PUBLIC_URL", ""), "Base URL used in frame URLs (empty for relative URLs)")
	accessLog = flag.Bool("access-log", true, "Log every request")
	logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor  = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	st, err := store.Open(context.Background(), *dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	cfg := zoneapi.DefaultConfig()
	cfg.PublicURL = *publicURL
	cfg.AccessLog = *accessLog
	app := zoneapi.New(st, cfg)

	logger.Info("Main", "Zone backend listening on %s", *httpAddr)
	logger.Info("Main", "Database: %s", *dbPath)

	go func() {
		if err := app.Listen(*httpAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warn("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

func getenv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
