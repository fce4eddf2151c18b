package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := Connect(srv.ClientURL(), "natsutil-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return srv, nc
}

type event struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	if c.Get("missing") != "" || c.Keys() != nil {
		t.Fatal("empty carrier should have no values")
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("got %q", got)
	}
	if len(c.Keys()) != 1 {
		t.Fatalf("keys = %v", c.Keys())
	}
}

func TestPublishWritesJSON(t *testing.T) {
	_, nc := startTestNATS(t)
	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("test.pub", ch)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.pub", event{Kind: "run.finished", Count: 3}); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-ch:
		var got event
		if err := json.Unmarshal(m.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Kind != "run.finished" || got.Count != 3 {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	_, nc := startTestNATS(t)
	got := make(chan event, 1)
	subjects := make(chan string, 1)
	sub, err := Subscribe(nc, "test.events.>", func(_ context.Context, subject string, e event) {
		subjects <- subject
		got <- e
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.events.item", event{Kind: "item.failed", Count: 1}); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-got:
		if e.Kind != "item.failed" {
			t.Fatalf("got %+v", e)
		}
		if s := <-subjects; s != "test.events.item" {
			t.Fatalf("subject %q", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeReportsMalformed(t *testing.T) {
	_, nc := startTestNATS(t)
	bad := make(chan error, 1)
	sub, err := Subscribe(nc, "test.bad", func(context.Context, string, event) {
		t.Error("handler should not be called for malformed data")
	}, func(_ *nats.Msg, err error) { bad <- err })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("test.bad", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-bad:
		if err == nil {
			t.Fatal("expected decode error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnectFails(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", "x", nil); err == nil {
		t.Fatal("expected connect error")
	}
}
