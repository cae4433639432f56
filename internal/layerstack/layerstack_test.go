package layerstack

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReportsGrowthOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "l0.ctx")
	writeFile(t, path, "hello")

	w := NewWatcher(WatcherConfig{Interval: 10 * time.Millisecond, MaxDeltaBytes: 1024})
	w.Add(0, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case change := <-w.Events():
		if change.Delta != " world" {
			t.Fatalf("expected delta %q, got %q", " world", change.Delta)
		}
		if change.TotalSize != int64(len("hello world")) {
			t.Fatalf("unexpected total size %d", change.TotalSize)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a CtxChange event")
	}
}

func TestWatcherTruncationResetsBaselineWithoutEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "l0.ctx")
	writeFile(t, path, "a long initial transcript body")

	w := NewWatcher(WatcherConfig{Interval: 10 * time.Millisecond})
	w.Add(0, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, path, "short")

	select {
	case change := <-w.Events():
		t.Fatalf("expected no event on truncation, got %+v", change)
	case <-time.After(100 * time.Millisecond):
	}

	writeFile(t, path, "short tail")
	select {
	case change := <-w.Events():
		if change.Delta != " tail" {
			t.Fatalf("expected delta measured from reset baseline, got %q", change.Delta)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a CtxChange event after the reset baseline grows")
	}
}

func TestSafeByteBoundaryDropsPartialLeadingRune(t *testing.T) {
	full := []byte("hello \xe4\xb8\xad\xe6\x96\x87") // "hello 中文"
	// Slice starting one byte into the first multi-byte rune (中 is 3 bytes).
	cut := full[7:]
	if utf8.RuneStart(cut[0]) {
		t.Fatal("test setup invalid: cut should start mid-rune")
	}

	got := SafeByteBoundary(cut)
	if len(got) == 0 || !utf8.RuneStart(got[0]) {
		t.Fatalf("expected a non-empty safe suffix starting on a rune boundary, got %q", got)
	}
	if string(got) != "文" {
		t.Fatalf("expected the trailing whole rune %q, got %q", "文", got)
	}
}

type fakeRunner struct {
	calls int32
	delay time.Duration
	out   string
}

func (f *fakeRunner) RunTurn(ctx context.Context, layer int, delta string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	time.Sleep(f.delay)
	return f.out, nil
}

type recordingInjector struct {
	got chan string
}

func (r *recordingInjector) Inject(ctx context.Context, layer int, text string) error {
	r.got <- text
	return nil
}

func TestStackDropsDeltaWhenLayerBusy(t *testing.T) {
	dir := t.TempDir()
	l0 := filepath.Join(dir, "l0.ctx")
	writeFile(t, l0, "seed")

	runner := &fakeRunner{delay: 200 * time.Millisecond, out: "out"}
	stack := NewStack(StackConfig{Watcher: WatcherConfig{Interval: 10 * time.Millisecond}}, []LayerConfig{{Layer: 1, WatchPath: l0}}, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stack.Run(ctx)

	writeFile(t, l0, "seed one")
	time.Sleep(30 * time.Millisecond)
	writeFile(t, l0, "seed one two")
	time.Sleep(30 * time.Millisecond)
	writeFile(t, l0, "seed one two three")

	time.Sleep(400 * time.Millisecond)
	if atomic.LoadInt32(&runner.calls) >= 3 {
		t.Fatalf("expected at least one delta dropped while layer busy, got %d calls", runner.calls)
	}
}

func TestStackInjectsWhenCorrelationClearsThreshold(t *testing.T) {
	dir := t.TempDir()
	l0 := filepath.Join(dir, "l0.ctx")
	gateway := filepath.Join(dir, "gateway.ctx")
	writeFile(t, l0, "seed")
	writeFile(t, gateway, "investigate checkout payment timeout failure")

	runner := &fakeRunner{out: "checkout payment timeout failure observed again"}
	injector := &recordingInjector{got: make(chan string, 1)}
	cfg := StackConfig{
		Watcher:            WatcherConfig{Interval: 10 * time.Millisecond},
		GatewayTailPath:    gateway,
		GatewayTailBytes:   4096,
		InjectionThreshold: 0.1,
	}
	stack := NewStack(cfg, []LayerConfig{{Layer: 1, WatchPath: l0}}, runner, injector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stack.Run(ctx)

	writeFile(t, l0, "seed grown")

	select {
	case text := <-injector.got:
		if text != runner.out {
			t.Fatalf("unexpected injected text %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an injection")
	}
}

func TestCorrelationScoreIgnoresStopWordsAndShortTokens(t *testing.T) {
	a := "the checkout payment gateway timeout was not expected"
	b := "a new timeout on the payment gateway during checkout"
	score := CorrelationScore(a, b)
	if score <= 0 {
		t.Fatalf("expected positive correlation, got %f", score)
	}
	if score > 1 {
		t.Fatalf("expected score bounded by 1, got %f", score)
	}
}

func TestCorrelationScoreZeroForDisjointText(t *testing.T) {
	score := CorrelationScore("apples bananas oranges", "quantum telescope nebula")
	if score != 0 {
		t.Fatalf("expected zero correlation for disjoint text, got %f", score)
	}
}

func TestSelectSeedPreservesSourceOrder(t *testing.T) {
	text := "alpha beta gamma delta\n\nepsilon zeta eta theta iota kappa\n\nlambda mu nu\n\nxi omicron pi rho sigma tau upsilon"
	seed := SelectSeed(text, 4)
	if seed == "" {
		t.Fatal("expected a non-empty seed")
	}

	paras := paragraphs(text)
	var lastIndex = -1
	for _, p := range paragraphs(seed) {
		found := -1
		for i, full := range paras {
			if full == p {
				found = i
				break
			}
		}
		if found == -1 {
			t.Fatalf("seed paragraph %q not found in source", p)
		}
		if found <= lastIndex {
			t.Fatalf("expected paragraphs in original order, got %q out of order", p)
		}
		lastIndex = found
	}
}

func TestSelectSeedEmptyForBlankText(t *testing.T) {
	if got := SelectSeed("   \n\n   ", 100); got != "" {
		t.Fatalf("expected empty seed, got %q", got)
	}
}
