package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phishguard/phishguard/internal/adapters/api"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/core"
	"github.com/phishguard/phishguard/internal/di"
	"github.com/phishguard/phishguard/internal/factory"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	pipeline *core.Pipeline,
	source core.MailSource,
	server *api.Server,
	stores *factory.Stores,
) error {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailCfg, err := cfg.GetMail()
	if err != nil {
		return err
	}

	// Start the API server
	if cfg.GetBool("api.enabled") {
		go func() {
			addr := cfg.GetString("api.listen_address")
			if err := server.Start(addr); err != nil {
				logger.Error("API server stopped", zap.Error(err))
			}
		}()
	}

	// Start the mail poll loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		pollLoop(ctx, pipeline, source, mailCfg, logger)
	}()

	logger.Info("Phishing pipeline started",
		zap.String("scorer", pipeline.Health().Scorer),
		zap.Duration("poll_interval", mailCfg.PollInterval))

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")
	cancel()
	<-done

	if err := server.Echo().Shutdown(context.Background()); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}

	if err := stores.Quarantine.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// pollLoop fetches new messages on every tick and drives them through the
// pipeline. One poll runs at a time; the pipeline bounds its own
// concurrency within a batch.
func pollLoop(ctx context.Context, pipeline *core.Pipeline, source core.MailSource, mailCfg config.MailConfig, logger *zap.Logger) {
	ticker := time.NewTicker(mailCfg.PollInterval)
	defer ticker.Stop()

	for {
		msgs, err := source.Fetch(ctx)
		if err != nil {
			logger.Error("Failed to fetch messages", zap.Error(err))
		} else if len(msgs) > 0 {
			outcomes := pipeline.ProcessBatch(ctx, msgs)
			quarantined := 0
			for _, o := range outcomes {
				if o != nil && o.Quarantined {
					quarantined++
				}
			}
			logger.Info("Processed batch",
				zap.Int("messages", len(msgs)),
				zap.Int("quarantined", quarantined))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
