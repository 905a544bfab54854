package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jdahl/transcoded/internal/api"
	"github.com/jdahl/transcoded/internal/config"
	"github.com/jdahl/transcoded/internal/ffmpeg"
	"github.com/jdahl/transcoded/internal/jobs"
	"github.com/jdahl/transcoded/internal/logger"
	"github.com/jdahl/transcoded/internal/store"
)

const version = "0.3.1"

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./config/transcoded.yaml)")
	port := flag.Int("port", 8080, "Port to listen on")
	outputPath := flag.String("output", "", "Override output directory from config")
	flag.Parse()

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/transcoded.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Init("info")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}

	logger.Init(cfg.LogLevel)

	// Environment and flag overrides
	if envOut := os.Getenv("OUTPUT_PATH"); envOut != "" {
		cfg.OutputPath = envOut
	}
	if *outputPath != "" {
		cfg.OutputPath = *outputPath
	}
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(cfg.OutputPath, 0755); err != nil {
			logger.Error("Could not create output directory", "path", cfg.OutputPath, "error", err)
			os.Exit(1)
		}
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		configDir := filepath.Dir(cfgPath)
		if configDir == "." {
			configDir = "config"
		}
		dbPath = filepath.Join(configDir, "transcoded.db")
	}

	jobStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("Failed to initialize job store", "error", err)
		os.Exit(1)
	}
	defer jobStore.Close()

	// Jobs still marked live in the database were cut off by the last
	// shutdown; their processes are gone.
	if n, err := jobStore.FailInterruptedJobs(); err != nil {
		logger.Warn("Failed to mark interrupted jobs", "error", err)
	} else if n > 0 {
		logger.Info("Marked interrupted jobs as failed", "count", n)
	}

	caps := ffmpeg.Capabilities{
		HardwareEncoder: cfg.HardwareEncoder,
		Threads:         cfg.Threads,
	}

	orch := jobs.NewOrchestrator(jobs.Options{
		Prober:       ffmpeg.NewProber(cfg.FFprobePath, cfg.ProbeTimeout()),
		Runner:       ffmpeg.NewRunner(cfg.FFmpegPath),
		Capabilities: caps,
		OutputDir:    cfg.OutputPath,
		StallTimeout: cfg.StallTimeout(),
		Store:        jobStore,
	})

	// Seed the registry with job history so past results stay queryable.
	history, err := jobStore.GetAllJobs()
	if err != nil {
		logger.Warn("Failed to load job history", "error", err)
	} else {
		orch.Restore(history)
	}

	handler := api.NewHandler(orch, caps)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("transcoded started",
		"version", version,
		"port", *port,
		"ffmpeg", cfg.FFmpegPath,
		"ffprobe", cfg.FFprobePath,
		"hardware", cfg.HardwareEncoder,
		"stall_timeout", cfg.StallTimeout(),
		"db", dbPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		orch.Stop()
		server.Close()
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		orch.Stop()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
