// Package layerstack drives the observation chain between consciousness
// layers: a poll-based watcher reports size growth on a lower layer's
// transcript, a capacity-1 semaphore per layer drops overlapping turns, and
// a correlation scorer decides when an inner layer's output is worth
// injecting back into the gateway layer's workspace.
package layerstack

import (
	"context"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is used when a WatcherConfig omits one.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultMaxDeltaBytes bounds how much of a single growth is ever reported;
// larger growths are reported from their tail only.
const DefaultMaxDeltaBytes = 64 * 1024

// CtxChange is one observed growth of a watched transcript.
type CtxChange struct {
	Layer     int
	Path      string
	Delta     string
	TotalSize int64
}

// Watch registers a single transcript path under a layer number.
type Watch struct {
	Layer int
	Path  string
}

// WatcherConfig configures polling cadence and delta bounds.
type WatcherConfig struct {
	Interval      time.Duration
	MaxDeltaBytes int
}

// DefaultWatcherConfig returns the package defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{Interval: DefaultPollInterval, MaxDeltaBytes: DefaultMaxDeltaBytes}
}

// Watcher polls a set of registered transcript files for size growth. An
// fsnotify watcher, when available, is wired as a secondary hint that wakes
// the poll loop early; the poll-and-stat comparison remains the
// authoritative source of truth, since fsnotify does not expose "bytes
// appended since last observation" on its own.
type Watcher struct {
	cfg WatcherConfig
	out chan CtxChange

	mu       sync.Mutex
	baseline map[string]int64
	watches  []Watch

	fsw  *fsnotify.Watcher
	wake chan struct{}
}

// NewWatcher builds a Watcher. fsnotify setup failure is non-fatal: the
// watcher falls back to poll-only operation.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxDeltaBytes <= 0 {
		cfg.MaxDeltaBytes = DefaultMaxDeltaBytes
	}

	w := &Watcher{
		cfg:      cfg,
		out:      make(chan CtxChange, 64),
		baseline: make(map[string]int64),
		wake:     make(chan struct{}, 1),
	}
	if fsw, err := fsnotify.NewWatcher(); err == nil {
		w.fsw = fsw
	}
	return w
}

// Events returns the channel of observed changes. Closed when Run returns.
func (w *Watcher) Events() <-chan CtxChange {
	return w.out
}

// Add registers path under layer, seeding the baseline at its current size
// so only growth after this call is ever reported.
func (w *Watcher) Add(layer int, path string) {
	w.mu.Lock()
	w.watches = append(w.watches, Watch{Layer: layer, Path: path})
	if info, err := os.Stat(path); err == nil {
		w.baseline[path] = info.Size()
	} else {
		w.baseline[path] = 0
	}
	w.mu.Unlock()

	if w.fsw != nil {
		_ = w.fsw.Add(path)
	}
}

// Run polls until ctx is cancelled, emitting a CtxChange for every observed
// growth. It closes Events() before returning.
func (w *Watcher) Run(ctx context.Context) error {
	if w.fsw != nil {
		defer w.fsw.Close()
		go w.fsnotifyPump(ctx)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	defer close(w.out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.pollAll()
		case <-w.wake:
			w.pollAll()
		}
	}
}

func (w *Watcher) fsnotifyPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) pollAll() {
	w.mu.Lock()
	watches := append([]Watch(nil), w.watches...)
	w.mu.Unlock()

	for _, target := range watches {
		w.pollOne(target)
	}
}

func (w *Watcher) pollOne(target Watch) {
	info, err := os.Stat(target.Path)
	if err != nil {
		return
	}
	size := info.Size()

	w.mu.Lock()
	last := w.baseline[target.Path]
	if size <= last {
		// Truncation resets the baseline; equal size is not growth.
		w.baseline[target.Path] = size
		w.mu.Unlock()
		return
	}
	w.baseline[target.Path] = size
	w.mu.Unlock()

	readFrom := last
	if max := int64(w.cfg.MaxDeltaBytes); max > 0 && size-last > max {
		readFrom = size - max
	}

	f, err := os.Open(target.Path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(readFrom, 0); err != nil {
		return
	}
	buf := make([]byte, size-readFrom)
	n, _ := f.Read(buf)
	delta := SafeByteBoundary(buf[:n])
	if len(delta) == 0 {
		return
	}

	select {
	case w.out <- CtxChange{Layer: target.Layer, Path: target.Path, Delta: string(delta), TotalSize: size}:
	default:
	}
}

// SafeByteBoundary drops any leading bytes that are the tail fragment of a
// multi-byte rune cut off by an arbitrary slice offset, returning the
// largest suffix of b that begins on a full UTF-8 rune boundary.
func SafeByteBoundary(b []byte) []byte {
	i := 0
	for i < len(b) && !utf8.RuneStart(b[i]) {
		i++
	}
	return b[i:]
}
