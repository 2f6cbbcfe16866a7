//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/torosent/crankfeed/internal/runner"
)

// watchControlSignals pauses dispatch on SIGUSR1 and resumes it on SIGUSR2.
// In-flight items keep running while paused.
func watchControlSignals(ctx context.Context, limit *runner.Limit, logger *log.Logger) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-sigs:
				switch sig {
				case syscall.SIGUSR1:
					limit.Pause()
					logger.Info("dispatch paused")
				case syscall.SIGUSR2:
					limit.Resume()
					logger.Info("dispatch resumed", "concurrency", limit.Get())
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
