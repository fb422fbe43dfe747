package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/imagesearch/pkg/resilience"
)

// concurrencyProbe records the peak number of simultaneous calls.
type concurrencyProbe struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (p *concurrencyProbe) enter() {
	n := p.active.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	p.active.Add(-1)
}

func (p *concurrencyProbe) EmbedText(context.Context, string) ([]float32, error) {
	p.enter()
	return []float32{1}, nil
}

func (p *concurrencyProbe) EmbedImage(context.Context, []byte) ([]float32, error) {
	p.enter()
	return []float32{1}, nil
}

func TestSerializeAdmitsOneCall(t *testing.T) {
	probe := &concurrencyProbe{}
	e := Serialize(probe)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				e.EmbedText(context.Background(), "q")
			} else {
				e.EmbedImage(context.Background(), []byte{1})
			}
		}(i)
	}
	wg.Wait()
	if got := probe.peak.Load(); got != 1 {
		t.Fatalf("expected at most 1 concurrent call, saw %d", got)
	}
}

func TestSerializeHonoursCancelledContext(t *testing.T) {
	stub := &stubEmbedder{text: []float32{1}}
	e := Serialize(stub)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.EmbedText(ctx, "q"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stub.calls.Load() != 0 {
		t.Fatal("inner embedder should not be called")
	}
}

// blockingEmbedder holds every call until release is closed.
type blockingEmbedder struct {
	stubEmbedder
	entered chan struct{}
	release chan struct{}
}

func (b *blockingEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	b.entered <- struct{}{}
	<-b.release
	return []float32{1}, nil
}

func TestSerializeWaiterHonoursDeadline(t *testing.T) {
	inner := &blockingEmbedder{entered: make(chan struct{}, 1), release: make(chan struct{})}
	e := Serialize(inner)

	done := make(chan error, 1)
	go func() {
		_, err := e.EmbedText(context.Background(), "hung")
		done <- err
	}()
	<-inner.entered

	start := time.Now()
	_, err := WithTimeout(e, 20*time.Millisecond).EmbedText(context.Background(), "queued")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("queued call waited past its deadline")
	}

	close(inner.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	// The slot is free again once the hung call returns.
	inner.release = make(chan struct{})
	close(inner.release)
	if _, err := e.EmbedText(context.Background(), "next"); err != nil {
		t.Fatal(err)
	}
}

func TestWithBreakerOpens(t *testing.T) {
	stub := &stubEmbedder{err: errors.New("down")}
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	e := WithBreaker(stub, b)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.EmbedText(ctx, "q"); err == nil {
			t.Fatal("expected error")
		}
	}
	if _, err := e.EmbedImage(ctx, []byte{1}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if stub.calls.Load() != 2 {
		t.Fatalf("open breaker should not reach the backend, calls=%d", stub.calls.Load())
	}
}

func TestWithBreakerPassesValues(t *testing.T) {
	stub := &stubEmbedder{text: []float32{3, 4}}
	e := WithBreaker(stub, resilience.NewBreaker(resilience.DefaultBreakerOpts))
	v, err := e.EmbedText(context.Background(), "q")
	if err != nil || len(v) != 2 || v[1] != 4 {
		t.Fatalf("unexpected %v / %v", v, err)
	}
}

type failingChecker struct{ stubEmbedder }

func (*failingChecker) Check(context.Context) error { return errors.New("not ready") }

func TestCheckDelegates(t *testing.T) {
	ctx := context.Background()
	if err := Check(ctx, &stubEmbedder{}); err != nil {
		t.Fatalf("embedder without Checker should be ready, got %v", err)
	}

	fc := &failingChecker{}
	if err := Check(ctx, fc); err == nil {
		t.Fatal("expected Check to delegate")
	}
	if err := Check(ctx, Serialize(fc)); err == nil {
		t.Fatal("Serialize should delegate Check")
	}
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	if err := Check(ctx, WithBreaker(fc, b)); err == nil {
		t.Fatal("WithBreaker should delegate Check")
	}
}

type slowEmbedder struct{ stubEmbedder }

func (s *slowEmbedder) EmbedText(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	e := WithTimeout(&slowEmbedder{}, 20*time.Millisecond)
	start := time.Now()
	if _, err := e.EmbedText(context.Background(), "q"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not applied")
	}

	stub := &stubEmbedder{image: []float32{1}}
	if WithTimeout(stub, 0) != Embedder(stub) {
		t.Fatal("zero timeout should return the embedder unchanged")
	}
	if _, err := WithTimeout(stub, time.Second).EmbedImage(context.Background(), []byte{1}); err != nil {
		t.Fatal(err)
	}
}
