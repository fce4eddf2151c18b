// Command collector scrapes bank product listings, normalizes every card
// into a typed record and writes the records as JSON lines. Pipeline events
// go to the log and, when configured, to NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bankscout/bankscout/engine/pipeline"
	"github.com/bankscout/bankscout/pkg/config"
	"github.com/bankscout/bankscout/pkg/metrics"
	"github.com/bankscout/bankscout/pkg/natsutil"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default: search ./bankscout.yaml, ./config, /etc/bankscout)")
	interval := flag.Duration("interval", 0, "polling interval (0 = one-shot)")
	sourceList := flag.String("sources", "", "comma-separated source names to run (default: all enabled)")
	natsURL := flag.String("nats", "", "NATS URL for pipeline events (overrides nats.url)")
	outputDir := flag.String("output-dir", "", "directory for JSONL record files (overrides output.dir; empty = stdout)")
	metricsPort := flag.Int("metrics-port", 0, "status server port (overrides metrics.port; -1 disables)")
	headless := flag.Bool("headless", true, "run the browser headless (overrides parsing.headless)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "nats":
			cfg.NATS.URL = *natsURL
		case "output-dir":
			cfg.Output.Dir = *outputDir
		case "metrics-port":
			cfg.Metrics.Port = max(*metricsPort, 0)
		case "headless":
			cfg.Parsing.Headless = *headless
		}
	})

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, *interval, splitList(*sourceList), logger); err != nil {
		logger.Error("collector exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, interval time.Duration, only []string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	met.CollectRuntime(ctx, "bankscout", 15*time.Second)
	lastRun := met.Gauge("bankscout_last_run_timestamp", "Unix time of the last completed collection.")

	sinks := pipeline.MultiSink{pipeline.LogSink{Log: logger}}
	if cfg.NATS.URL != "" {
		nc, err := natsutil.Connect(cfg.NATS.URL, "bankscout-collector", logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		sinks = append(sinks, pipeline.NATSSink{Conn: nc, Subject: cfg.NATS.Subject})
		logger.Info("publishing events to NATS", "subject", cfg.NATS.Subject+".>")
	}

	app, err := build(ctx, cfg, met, sinks, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	sources, err := buildSources(cfg, only, logger)
	if err != nil {
		return err
	}

	status := newStatus()
	if cfg.Metrics.Port > 0 {
		srv := serveStatus(cfg.Metrics.Port, status, met, logger)
		defer shutdown(srv, logger)
	}

	out := newOutput(cfg.Output.Dir, os.Stdout)

	collect := func() {
		start := time.Now()
		outcomes := app.controller.RunAll(ctx, sources)
		for _, o := range outcomes {
			status.record(o.Report)
			if err := out.write(o); err != nil {
				logger.Error("write records", "source", o.Report.Source, "err", err)
			}
		}
		lastRun.Set(float64(time.Now().Unix()))
		logger.Info("collection done", "sources", len(outcomes), "duration", time.Since(start).Round(time.Millisecond))
	}

	collect()
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			collect()
		}
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
