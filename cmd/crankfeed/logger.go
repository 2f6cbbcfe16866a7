package main

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/torosent/crankfeed/internal/source"
)

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
		Prefix:          "crankfeed",
	})
}

// failureLogger implements runner.FailureLogger. The full record is only
// logged at debug level.
type failureLogger struct {
	logger *log.Logger
}

func (l failureLogger) LogFailure(rec source.Record, err error) {
	if err == nil {
		return
	}
	l.logger.Error("item failed", "err", err, "fields", len(rec))
	l.logger.Debug("failed record", "record", map[string]string(rec))
}
