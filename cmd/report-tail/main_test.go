package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/bankscout/bankscout/engine/pipeline"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestTailerPrintsEvents(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Shutdown()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	var out, logs syncBuffer
	tl := &tailer{w: &out, log: slog.New(slog.NewTextHandler(&logs, nil))}
	sub, err := tl.subscribe(nc, "bankscout.pipeline")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	sink := pipeline.NATSSink{Conn: nc, Subject: "bankscout.pipeline"}
	ctx := context.Background()
	if err := sink.Emit(ctx, pipeline.Event{Kind: pipeline.EventRunStarted, RunID: "r1", Source: "vtb-credit"}); err != nil {
		t.Fatal(err)
	}
	rep := &pipeline.Report{RunID: "r1", Source: "vtb-credit", Status: pipeline.StatusPartialFailure, Discovered: 3, Normalized: 2, Failed: 1}
	if err := sink.Emit(ctx, pipeline.Event{Kind: pipeline.EventRunFinished, RunID: "r1", Source: "vtb-credit", Report: rep}); err != nil {
		t.Fatal(err)
	}
	// Not JSON: reported, not printed.
	if err := nc.Publish("bankscout.pipeline.bogus", []byte("{")); err != nil {
		t.Fatal(err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(out.String(), "\n") < 2 || !strings.Contains(logs.String(), "undecodable") {
		if time.Now().After(deadline) {
			t.Fatalf("events not printed: out=%q logs=%q", out.String(), logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	sc := bufio.NewScanner(strings.NewReader(out.String()))
	var subjects []string
	for sc.Scan() {
		var l line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatal(err)
		}
		subjects = append(subjects, l.Subject)
	}
	if len(subjects) != 2 || subjects[0] != "bankscout.pipeline.run.started" || subjects[1] != "bankscout.pipeline.run.finished" {
		t.Fatalf("unexpected subjects: %v", subjects)
	}
	if !strings.Contains(logs.String(), "status=partial_failure") {
		t.Fatalf("summary not logged: %s", logs.String())
	}
}

func TestHandleIgnoresNonFinished(t *testing.T) {
	var out bytes.Buffer
	var logs bytes.Buffer
	tl := &tailer{w: &out, log: slog.New(slog.NewTextHandler(&logs, nil))}
	tl.handle(context.Background(), "bankscout.pipeline.item.failed", json.RawMessage(`{"kind":"item.failed","reason":"x"}`))

	if !strings.Contains(out.String(), `"subject":"bankscout.pipeline.item.failed"`) {
		t.Fatalf("unexpected output: %s", out.String())
	}
	if strings.Contains(logs.String(), "run finished") {
		t.Fatal("only run.finished should be summarized")
	}
}
