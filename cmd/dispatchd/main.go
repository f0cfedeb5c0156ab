package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "embed"

	"go.uber.org/fx"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/engine/poller"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// embeddedConfig holds the application's YAML configuration.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// startPollLoop runs the reconciliation ticker for the daemon's lifetime. The
// poller itself stays on-demand and debounced; the ticker is just a caller.
func startPollLoop(lc fx.Lifecycle, p *poller.Poller, cfg *config.Config, appCtx context.Context) {
	interval := time.Duration(cfg.Dispatch.Poller.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in poll loop: %v", r)
					}
				}()

				logger.Infof("Starting job status poll loop with interval %v.", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				// Reconcile once at startup so jobs left over from a previous
				// run are picked up without waiting a full interval.
				if err := p.PollAllJobs(appCtx); err != nil {
					logger.Warnf("Initial poll pass finished with errors: %v", err)
				}

				for {
					select {
					case <-appCtx.Done():
						logger.Infof("Application context cancelled. Stopping poll loop.")
						return
					case <-ticker.C:
						if err := p.PollAllJobs(appCtx); err != nil {
							logger.Warnf("Poll pass finished with errors: %v", err)
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Poll loop stopping with application shutdown.")
			return nil
		},
	})
}

// main is the entry point of the dispatch daemon.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Shutting down.", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	fxApp := fx.New(GetApplicationOptions(ctx, envFilePath, embeddedConfig)...)
	fxApp.Run()
	if fxApp.Err() != nil {
		logger.Fatalf("Application run failed: %v", fxApp.Err())
	}
	os.Exit(0)
}
