// Command bookwright generates a book with a crew of role-bound agents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dotcommander/bookwright/internal/agent"
	"github.com/dotcommander/bookwright/internal/config"
	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/output"
	"github.com/dotcommander/bookwright/internal/phase/fiction"
	"github.com/dotcommander/bookwright/internal/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bookwright: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("bookwright", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: search BOOKWRIGHT_CONFIG, XDG_CONFIG_HOME, ~/.config)")
	initPath := fs.String("init", "", "write a default config to this path and exit")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	logJSON := fs.Bool("log-json", false, "log as JSON")
	naming := fs.String("naming", "descriptive", "run directory naming: descriptive, timestamp or id")
	listRuns := fs.Bool("runs", false, "list earlier runs in the output directory and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(*logLevel, *logJSON)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if *initPath != "" {
		if err := config.Save(config.Default(), *initPath); err != nil {
			return err
		}
		logger.Info("config written", "path", *initPath)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	runCfg, err := cfg.RunConfig()
	if err != nil {
		return err
	}
	runNaming, err := storage.ParseRunNaming(*naming)
	if err != nil {
		return err
	}

	writer := output.NewWriter(storage.NewFileSystem(cfg.Output.Dir), output.WithNaming(runNaming), output.WithLogger(logger))
	if *listRuns {
		return printRuns(writer)
	}

	opts := []fiction.Option{fiction.WithLogger(logger), fiction.WithMaxTokens(cfg.AI.MaxTokens)}
	for role, t := range cfg.Temperatures() {
		opts = append(opts, fiction.WithTemperature(role, t))
	}
	metrics := core.NewMetrics("bookwright")
	orch, err := core.New(fiction.NewCrew(newGenerator(cfg, logger), opts...), runCfg,
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithChapterSink(writer))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Limits.TotalTimeout)
	defer cancel()

	logger.Info("run starting",
		"run_id", orch.RunID(),
		"provider", cfg.AI.Provider,
		"model", cfg.AI.Model,
		"chapters", runCfg.Chapters,
		"max_revisions", runCfg.MaxRevisions)
	report, runErr := orch.Run(ctx)

	if report != nil {
		// Output is written even for cancelled runs, so it gets a context of
		// its own.
		writeCtx, cancelWrite := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelWrite()
		files, err := writer.Write(writeCtx, report, runCfg.Brief, runCfg.OutputFormats)
		if err != nil {
			runErr = errors.Join(runErr, err)
		}
		fmt.Print(report.String())
		for _, f := range files {
			fmt.Printf("  wrote %s/%s\n", strings.TrimSuffix(cfg.Output.Dir, "/"), f)
		}
	}

	if cfg.Output.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.Output.MetricsFile, metrics.Registry()); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("writing metrics: %w", err))
		}
	}
	return runErr
}

func newLogger(level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func newGenerator(cfg *config.Config, logger *slog.Logger) agent.Generator {
	if cfg.AI.Provider == config.ProviderMock {
		logger.Warn("using scripted mock generator; output is placeholder text")
		return dryRun(cfg.Book.Chapters)
	}
	clientOpts := []agent.Option{
		agent.WithTimeout(cfg.AI.Timeout),
		agent.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize),
		agent.WithMaxPromptTokens(cfg.Limits.MaxPromptTokens),
		agent.WithLogger(logger),
	}
	gens := []agent.Generator{agent.NewClient(cfg.AI.APIKey,
		append(clientOpts, agent.WithModel(cfg.AI.Model), agent.WithBaseURL(cfg.AI.BaseURL))...)}
	for _, fb := range cfg.AI.Fallbacks {
		gens = append(gens, agent.NewClient(fb.APIKey,
			append(clientOpts, agent.WithModel(fb.Model), agent.WithBaseURL(fb.BaseURL))...))
	}

	var gen agent.Generator = gens[0]
	if len(gens) > 1 {
		gen = agent.NewFallback(logger, gens...)
	}
	// The breaker sits outside the fallback chain: it only opens when every
	// endpoint keeps failing.
	return agent.NewBreaker(gen, agent.BreakerConfig{
		FailureThreshold: cfg.Limits.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Limits.Breaker.OpenTimeout,
	}, logger)
}

func printRuns(writer *output.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runs, err := writer.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs yet")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %-30s %d/%d accepted  %s\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Title, r.Accepted, len(r.Chapters), r.Dir)
	}
	return nil
}
