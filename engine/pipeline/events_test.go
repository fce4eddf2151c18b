package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankscout/bankscout/engine/browser/browsertest"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(3*time.Second), "nats not ready")
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestNATSSinkPublishesPerKind(t *testing.T) {
	nc := startNATS(t)
	ch := make(chan *nats.Msg, 32)
	sub, err := nc.ChanSubscribe("bankscout.pipeline.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	page := offersPage(card("A"))
	sink := NATSSink{Conn: nc, Subject: "bankscout.pipeline"}
	c := New(&browsertest.Launcher{Page: page}, okNormalizer(), testOptions(1), sink, nil, nil)
	out := c.Run(context.Background(), source())
	require.Equal(t, StatusSuccess, out.Report.Status)
	require.NoError(t, nc.Flush())

	subjects := map[string]bool{}
	var finished Event
	deadline := time.After(2 * time.Second)
	for !subjects["bankscout.pipeline."+EventRunFinished] {
		select {
		case m := <-ch:
			subjects[m.Subject] = true
			if m.Subject == "bankscout.pipeline."+EventRunFinished {
				require.NoError(t, json.Unmarshal(m.Data, &finished))
			}
		case <-deadline:
			t.Fatalf("run.finished not received, got %v", subjects)
		}
	}

	assert.True(t, subjects["bankscout.pipeline."+EventRunStarted])
	assert.True(t, subjects["bankscout.pipeline."+EventItemNormalized])
	require.NotNil(t, finished.Report)
	assert.Equal(t, out.Report.RunID, finished.RunID)
	assert.Equal(t, StatusSuccess, finished.Report.Status)
	assert.Equal(t, 1, finished.Report.Normalized)
}

func TestLogSinkWritesSummary(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rep := &Report{RunID: "r1", Source: "vtb-credit", Status: StatusSuccess, Discovered: 3, Normalized: 3, StartedAt: time.Now()}
	rep.FinishedAt = rep.StartedAt.Add(time.Second)

	idx := 2
	sink := LogSink{Log: log}
	require.NoError(t, sink.Emit(context.Background(), Event{Kind: EventCardFailed, RunID: "r1", Source: "vtb-credit", Index: &idx, Reason: "detached"}))
	require.NoError(t, sink.Emit(context.Background(), Event{Kind: EventRunFinished, RunID: "r1", Source: "vtb-credit", Report: rep}))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var card map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &card))
	assert.Equal(t, "WARN", card["level"])
	assert.EqualValues(t, 2, card["card_index"])

	var done map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &done))
	assert.Equal(t, "run finished", done["msg"])
	assert.Equal(t, "success", done["status"])
	assert.EqualValues(t, 3, done["normalized"])
}

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error { return errors.New("sink down") }

func TestMultiSinkJoinsErrorsAndKeepsGoing(t *testing.T) {
	rec := &recorder{}
	err := MultiSink{failingSink{}, rec}.Emit(context.Background(), Event{Kind: EventRunStarted})
	assert.EqualError(t, err, "sink down")
	assert.Equal(t, []string{EventRunStarted}, rec.kinds())

	// A failing sink never fails the run.
	page := offersPage(card("A"))
	c := New(&browsertest.Launcher{Page: page}, okNormalizer(), testOptions(1), failingSink{}, nil, nil)
	assert.Equal(t, StatusSuccess, c.Run(context.Background(), source()).Report.Status)
}
