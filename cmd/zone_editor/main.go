package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/webmonitor"
)

func main() {
	cfg := webmonitor.DefaultConfig()

	var logLevel string
	var logColor bool

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Web assets directory")
	flag.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Zone backend base URL")
	flag.IntVar(&cfg.Session.Width, "width", cfg.Session.Width, "Canvas width in pixels")
	flag.IntVar(&cfg.Session.Height, "height", cfg.Session.Height, "Canvas height in pixels")
	flag.DurationVar(&cfg.Session.ThrottleInterval, "throttle", cfg.Session.ThrottleInterval, "Minimum interval between live drag updates")
	flag.DurationVar(&cfg.Session.PollInterval, "poll", cfg.Session.PollInterval, "Zone refresh interval (0 disables)")
	flag.DurationVar(&cfg.Session.FrameInterval, "frame-interval", cfg.Session.FrameInterval, "Background frame refresh interval (0 disables)")
	flag.DurationVar(&cfg.Session.RequestTimeout, "timeout", cfg.Session.RequestTimeout, "Backend request timeout")
	flag.Float64Var(&cfg.Session.Tolerance.Vertex, "vertex-radius", cfg.Session.Tolerance.Vertex, "Vertex pick radius in pixels")
	flag.Float64Var(&cfg.Session.Tolerance.Body, "body-tolerance", cfg.Session.Tolerance.Body, "Line body pick distance in pixels")
	flag.Float64Var(&cfg.Session.Tolerance.Close, "close-tolerance", cfg.Session.Tolerance.Close, "Polygon closing-click radius in pixels")
	flag.IntVar(&cfg.Session.JPEGQuality, "jpeg-quality", cfg.Session.JPEGQuality, "Canvas JPEG quality")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	client, err := backend.NewClient(cfg.BackendURL, cfg.Session.RequestTimeout)
	if err != nil {
		log.Fatalf("Invalid backend: %v", err)
	}

	m := metrics.New()
	server := webmonitor.NewServer(cfg, client, m)

	logger.Info("Main", "Zone editor listening on %s", cfg.Addr)
	logger.Info("Main", "Backend: %s", cfg.BackendURL)
	logger.Info("Main", "Canvas: %dx%d, throttle %s", cfg.Session.Width, cfg.Session.Height, cfg.Session.ThrottleInterval)
	logger.Info("Main", "Log level: %s", level)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	// Streams end once their sessions are closed.
	server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}
