package embed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// stubEmbedder returns fixed vectors and counts calls.
type stubEmbedder struct {
	text  []float32
	image []float32
	err   error

	mu        sync.Mutex
	lastText  string
	lastImage []byte
	calls     atomic.Int64
}

func (s *stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastText = text
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.text, nil
}

func (s *stubEmbedder) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastImage = image
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.image, nil
}

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

func TestNATSRoundTrip(t *testing.T) {
	nc := startTestNATS(t)
	worker := &stubEmbedder{text: []float32{1, 0, 0}, image: []float32{0, 1, 0}}
	subs, err := ServeNATS(nc, "test.embed", "workers", worker)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}

	c := NewNATSClient(nc, "test.embed")
	ctx := context.Background()

	v, err := c.EmbedText(ctx, "blue sky")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 3 || v[0] != 1 {
		t.Fatalf("unexpected text vector %v", v)
	}

	img := []byte{0xff, 0xd8, 1, 2, 3}
	v, err = c.EmbedImage(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 3 || v[1] != 1 {
		t.Fatalf("unexpected image vector %v", v)
	}

	worker.mu.Lock()
	defer worker.mu.Unlock()
	if worker.lastText != "blue sky" || string(worker.lastImage) != string(img) {
		t.Fatalf("worker saw %q / %v", worker.lastText, worker.lastImage)
	}
}

func TestNATSWorkerError(t *testing.T) {
	nc := startTestNATS(t)
	if _, err := ServeNATS(nc, "test.fail", "", &stubEmbedder{err: errors.New("gpu on fire")}); err != nil {
		t.Fatal(err)
	}
	c := NewNATSClient(nc, "test.fail")
	_, err := c.EmbedText(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "gpu on fire") {
		t.Fatalf("expected worker error, got %v", err)
	}
}

func TestNATSNonFiniteReply(t *testing.T) {
	nc := startTestNATS(t)
	sub, err := nc.Subscribe("test.nan.text", func(m *nats.Msg) {
		m.Respond([]byte(`{"embedding":[1e309]}`))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	// 1e309 overflows float64 and fails decoding; either way no vector escapes.
	if _, err := NewNATSClient(nc, "test.nan").EmbedText(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNATSNoResponder(t *testing.T) {
	nc := startTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := NewNATSClient(nc, "test.none").EmbedImage(ctx, []byte{1}); err == nil {
		t.Fatal("expected error without responder")
	}
}

func TestNATSCheck(t *testing.T) {
	nc := startTestNATS(t)
	c := NewNATSClient(nc, "test.embed")
	// No deadline on ctx: Check must supply its own.
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Check(ctx); err != nil {
		t.Fatalf("expected healthy with deadline, got %v", err)
	}
	nc.Close()
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("expected error on closed connection")
	}
}
