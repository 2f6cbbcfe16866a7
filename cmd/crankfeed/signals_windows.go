//go:build windows

package main

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/torosent/crankfeed/internal/runner"
)

// watchControlSignals is a no-op on Windows, which has no SIGUSR1/SIGUSR2.
// Use the dashboard to pause and resume.
func watchControlSignals(context.Context, *runner.Limit, *log.Logger) (stop func()) {
	return func() {}
}
