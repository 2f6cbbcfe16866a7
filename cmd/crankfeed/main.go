package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/torosent/crankfeed/internal/auth"
	"github.com/torosent/crankfeed/internal/config"
	"github.com/torosent/crankfeed/internal/dashboard"
	"github.com/torosent/crankfeed/internal/extractor"
	"github.com/torosent/crankfeed/internal/metrics"
	"github.com/torosent/crankfeed/internal/output"
	"github.com/torosent/crankfeed/internal/results"
	"github.com/torosent/crankfeed/internal/runner"
	"github.com/torosent/crankfeed/internal/source"
	"github.com/torosent/crankfeed/internal/threshold"
	"github.com/torosent/crankfeed/internal/tracing"
)

const (
	progressInterval          = time.Second
	defaultAuthRefreshLeeway  = 30 * time.Second
	tracingShutdownTimeout    = 5 * time.Second
	defaultWebSocketPoolLimit = 10
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(stderr, cfg.Verbose)

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	var src source.Source
	src, err = source.New(cfg.Source)
	if err != nil {
		return err
	}
	defer src.Close()
	paged, _ := src.(*source.HTTPSource)

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	authCfg := cfg.Auth
	if authCfg.RefreshBeforeExpiry <= 0 {
		authCfg.RefreshBeforeExpiry = defaultAuthRefreshLeeway
	}
	authProvider, err := auth.New(authCfg)
	if err != nil {
		return err
	}
	if authProvider != nil {
		defer authProvider.Close()
	}

	extract, err := extractor.Compile(cfg.Extractors, logger)
	if err != nil {
		return err
	}

	actor, closeActor, err := newActor(cfg, actorDeps{
		auth:      authProvider,
		extract:   extract,
		propagate: tp.ShouldPropagate(),
		echoOut:   stdout,
	})
	if err != nil {
		return err
	}
	defer closeActor()

	if tp.Enabled() {
		actor = tracing.WrapActor(actor, tp.Tracer(), string(cfg.Action.Type))
		src = tracing.WrapSource(src, tp.Tracer())
	}
	if cfg.LogErrors {
		actor = runner.WithLogging(actor, failureLogger{logger: logger})
	}
	if cfg.Retries > 0 {
		actor = runner.WithRetry(actor, newRetryPolicy(cfg.Retries))
	}

	collector := metrics.NewCollector()
	observers := []runner.Observer{collector}

	var resultsWriter *results.Writer
	if cfg.ResultsFile != "" {
		resultsWriter, err = results.Open(cfg.ResultsFile)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := resultsWriter.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		observers = append(observers, resultsWriter)
		logger.Info("writing results", "file", cfg.ResultsFile, "run", resultsWriter.RunID())
	}

	limit := runner.NewLimit(cfg.Concurrency)
	r := runner.New(runner.Options{
		Source:        src,
		Actor:         actor,
		Limit:         limit,
		BatchSize:     cfg.BatchSize,
		TotalItems:    cfg.Total,
		Duration:      cfg.Duration,
		RatePerSecond: cfg.Rate,
		ArrivalModel:  toRunnerArrivalModel(cfg.Arrival.Model),
		Observer:      runner.Observers(observers...),
	})

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	stopSignals := watchControlSignals(ctx, limit, logger)
	defer stopSignals()

	if cfg.Concurrency == 0 {
		logger.Warn("concurrency is 0; dispatch starts paused until resumed")
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(collector, dashboardConfig(cfg), dashboard.Controls{
			Pipeline: r.Stats,
			Limit:    limit,
			Shutdown: cancel,
		})
		if err != nil {
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, r.Stats, progressInterval, stderr)
		progress.Start()
	}

	logger.Debug("starting feed", "source", cfg.Source.Type, "action", cfg.Action.Type,
		"concurrency", cfg.Concurrency, "batch", cfg.BatchSize)

	// Mark the start just before running so rates exclude setup time.
	collector.Start()
	res, runErr := r.Run(ctx)

	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stderr)
	}

	stats := collector.Stats(res.Duration)
	report := output.Report{
		Stats:       stats,
		Interrupted: res.Interrupted,
		Thresholds:  threshold.NewEvaluator(thresholds).Evaluate(stats),
	}
	if runErr != nil {
		report.SourceError = runErr.Error()
	}
	if paged != nil {
		logger.Debug("source paging finished", "pages", paged.Pages())
	}
	if resultsWriter != nil {
		logger.Info("results written", "file", cfg.ResultsFile, "entries", resultsWriter.Count())
	}

	// Echo owns stdout so its JSON lines stay parseable.
	reportOut := stdout
	if cfg.Action.Type == config.ActionEcho {
		reportOut = stderr
	}
	if err := output.Write(reportOut, string(cfg.ReportFormat), report); err != nil {
		return err
	}

	switch {
	case runErr != nil:
		return runErr
	case !threshold.AllPassed(report.Thresholds):
		return fmt.Errorf("%d of %d thresholds failed", countFailed(report.Thresholds), len(report.Thresholds))
	case res.Failed > 0:
		return fmt.Errorf("%d items failed", res.Failed)
	}
	return nil
}

func countFailed(results []threshold.Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch strings.ToLower(string(model)) {
	case string(config.ArrivalModelPoisson):
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}

func dashboardConfig(cfg *config.Config) dashboard.RunConfig {
	src := string(cfg.Source.Type)
	if cfg.Source.Path != "" {
		src += " " + cfg.Source.Path
	} else if cfg.Source.URL != "" {
		src += " " + cfg.Source.URL
	}
	action := string(cfg.Action.Type)
	switch cfg.Action.Type {
	case config.ActionHTTP:
		action += " " + cfg.Action.Method + " " + cfg.Action.URL
	case config.ActionWebSocket:
		action += " " + cfg.Action.URL
	}
	return dashboard.RunConfig{
		Source:      src,
		Action:      action,
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
		Total:       cfg.Total,
		Rate:        cfg.Rate,
		Duration:    cfg.Duration,
		Timeout:     cfg.Timeout,
		Retries:     cfg.Retries,
		ConfigFile:  cfg.ConfigFile,
	}
}
