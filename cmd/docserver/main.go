package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ngoclaw/chatsync/internal/application"
	"github.com/ngoclaw/chatsync/internal/infrastructure/config"
	"github.com/ngoclaw/chatsync/internal/infrastructure/logger"
	"go.uber.org/zap"
)

const (
	appName    = "chatsync-docserver"
	appVersion = "0.3.0"
)

func main() {
	// Check for subcommand
	configPath := ""
	if len(os.Args) > 1 {
		switch arg := os.Args[1]; {
		case arg == "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case arg == "help" || arg == "--help" || arg == "-h":
			printUsage()
			return
		case strings.HasSuffix(arg, ".yaml") || strings.HasSuffix(arg, ".yml"):
			configPath = arg
		default:
			fmt.Fprintf(os.Stderr, "unknown argument %q\n\n", arg)
			printUsage()
			os.Exit(2)
		}
	}

	// Load config
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting chatsync document server",
		zap.String("name", appName),
		zap.String("version", appVersion),
		zap.String("driver", cfg.Remote.Driver),
	)
	if err := config.Bootstrap("", cfg, log); err != nil {
		log.Warn("Bootstrap failed", zap.Error(err))
	}

	// Create application context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := application.NewDocServer(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize document server", zap.Error(err))
	}
	if err := server.Start(ctx); err != nil {
		log.Fatal("Failed to start document server", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Document server stopped successfully")
}

// printUsage displays usage information
func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  docserver                 Serve remote.driver on server.host:server.port
  docserver <config.yaml>   Same, with an explicit config file
  docserver version         Show version
  docserver help            Show this help

Environment:
  CHATSYNC_*                Configuration overrides (CHATSYNC_REMOTE_DRIVER=postgres, ...)
`, appName, appVersion)
}
