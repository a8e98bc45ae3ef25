package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nightdesk/nightdesk/internal/application"
	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	"github.com/nightdesk/nightdesk/internal/infrastructure/logger"
	domainErrors "github.com/nightdesk/nightdesk/pkg/errors"
)

const (
	appName    = "nightdesk"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	// Load config
	cfg, v, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting NightDesk",
		zap.String("name", appName),
		zap.String("version", appVersion),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, v, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		// 会话锁被另一个实例持有时直接退出，交给 supervisor 处理
		if domainErrors.IsSessionConflict(err) {
			log.Error("Another instance holds the session lock", zap.Error(err))
			os.Exit(1)
		}
		log.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal or fatal transport event
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case reason := <-app.Fatal():
		// 会话不可恢复：凭证已清、锁已放，非零退出让 supervisor 重启
		log.Error("Unrecoverable session, exiting", zap.String("reason", reason))
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
	os.Exit(exitCode)
}

// printUsage displays usage information
func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  nightdesk           Start the messaging representative (default)
  nightdesk version   Show version
  nightdesk help      Show this help

Environment:
  NIGHTDESK_*         Configuration overrides (see config.yaml)
`, appName, appVersion)
}
