package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/config"
	"github.com/t77yq/biomed-maint/internal/logging"
	"github.com/t77yq/biomed-maint/internal/service"
	"github.com/t77yq/biomed-maint/internal/trigger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("BIOMED_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close services", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := svc.SeedRules(ctx); err != nil {
		logger.Fatal("Failed to seed escalation rules", zap.Error(err))
	}

	runner := trigger.NewRunner(logger, svc.Store.JobRuns(), cfg.Triggers.RunTimeout)
	if err := svc.RegisterJobs(runner); err != nil {
		logger.Fatal("Failed to register jobs", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runner.Start(ctx)
	for _, s := range runner.Schedules() {
		logger.Info("Job scheduled",
			zap.String("job", s.Name),
			zap.String("expression", s.Expression),
			zap.Timep("next_run", s.NextRunTime))
	}

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Let running jobs finish, bounded by the shutdown timeout. The job
	// context is cancelled only once that timeout passes.
	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if runner.Shutdown(timeout, cancel) {
		logger.Info("All jobs completed")
	}

	logger.Info("Server shutting down gracefully")
}
