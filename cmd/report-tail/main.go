// Command report-tail follows collector pipeline events on NATS and prints
// each one as a JSON line on stdout. Run summaries are also logged to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/bankscout/bankscout/pkg/natsutil"
)

func main() {
	natsURL := flag.String("nats", envOr("BANKSCOUT_NATS_URL", nats.DefaultURL), "NATS URL")
	subject := flag.String("subject", "bankscout.pipeline", "event subject prefix")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*natsURL, *subject, os.Stdout, logger); err != nil {
		logger.Error("report-tail exited with error", "err", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(url, subject string, w io.Writer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := natsutil.Connect(url, "bankscout-report-tail", logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	t := &tailer{w: w, log: logger}
	sub, err := t.subscribe(nc, subject)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	logger.Info("tailing pipeline events", "subject", subject+".>")

	<-ctx.Done()
	return nil
}

// line is what gets printed for every event.
type line struct {
	Subject string          `json:"subject"`
	Event   json.RawMessage `json:"event"`
}

// finished is the part of a run.finished event worth logging.
type finished struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Report *struct {
		Status     string `json:"status"`
		Discovered int    `json:"discovered"`
		Normalized int    `json:"normalized"`
		Failed     int    `json:"failed"`
		Error      string `json:"error"`
	} `json:"report"`
}

type tailer struct {
	mu  sync.Mutex
	w   io.Writer
	log *slog.Logger
}

func (t *tailer) subscribe(nc *nats.Conn, subject string) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, subject+".>", t.handle, func(m *nats.Msg, err error) {
		t.log.Warn("undecodable event", "subject", m.Subject, "err", err)
	})
}

func (t *tailer) handle(_ context.Context, subject string, ev json.RawMessage) {
	t.mu.Lock()
	err := json.NewEncoder(t.w).Encode(line{Subject: subject, Event: ev})
	t.mu.Unlock()
	if err != nil {
		t.log.Warn("write event", "err", err)
	}

	var f finished
	if json.Unmarshal(ev, &f) == nil && f.Report != nil {
		t.log.Info("run finished", "run_id", f.RunID, "source", f.Source, "status", f.Report.Status,
			"discovered", f.Report.Discovered, "normalized", f.Report.Normalized, "failed", f.Report.Failed,
			"error", f.Report.Error)
	}
}
