package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type payload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	carrier := (*natsHeaderCarrier)(&nats.Msg{})
	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	carrier.Set("traceparent", "00-abc-def-02")
	if got := carrier.Get("traceparent"); got != "00-abc-def-02" {
		t.Fatalf("expected overwritten traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestPublish(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("test.pub", ch)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.pub", payload{Name: "hello", Value: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		var p payload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Name != "hello" || p.Value != 1 {
			t.Fatalf("unexpected payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishMarshalError(t *testing.T) {
	nc := startTestNATS(t)
	if err := Publish(context.Background(), nc, "test.err", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestServeAndRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Serve(nc, "test.req", "workers", func(_ context.Context, req payload) payload {
		return payload{Name: req.Name + "-resp", Value: req.Value * 2}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := Request[payload, payload](context.Background(), nc, "test.req", payload{Name: "test", Value: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Name != "test-resp" || resp.Value != 10 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestServeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	sub, err := Serve(nc, "test.malformed", "", func(_ context.Context, p payload) payload {
		called <- struct{}{}
		return p
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := nc.RequestWithContext(ctx, "test.malformed", []byte("{bad")); err == nil {
		t.Fatal("expected no reply for malformed request")
	}
	select {
	case <-called:
		t.Fatal("handler should not be called for malformed data")
	default:
	}
}

func TestRequestRespectsContext(t *testing.T) {
	nc := startTestNATS(t)

	// No responder: NATS reports no responders or the deadline expires.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := Request[payload, payload](ctx, nc, "test.noreply", payload{Name: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("request should be bounded by ctx")
	}
}

func TestRequestUnmarshalError(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("test.badjson", func(msg *nats.Msg) {
		msg.Respond([]byte("{invalid"))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := Request[payload, payload](context.Background(), nc, "test.badjson", payload{Name: "x"}); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestRequestMarshalError(t *testing.T) {
	nc := startTestNATS(t)
	if _, err := Request[chan int, payload](context.Background(), nc, "test.err", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
