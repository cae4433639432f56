package layerstack

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/noema-systems/noema/internal/infra"
)

// TurnRunner executes one turn of an inner layer's agent on an observed
// delta, returning what it wrote to its own transcript.
type TurnRunner interface {
	RunTurn(ctx context.Context, layer int, delta string) (output string, err error)
}

// Injector receives a layer's output as an injection candidate destined for
// the gateway layer's workspace, once its correlation score clears the
// threshold.
type Injector interface {
	Inject(ctx context.Context, layer int, text string) error
}

// LayerConfig wires one inner layer's watch target to its own transcript.
type LayerConfig struct {
	Layer int
	// WatchPath is the lower layer's transcript this layer observes.
	WatchPath string
	// OutputPath is this layer's own transcript, read back for the
	// injection correlation score against the gateway layer's tail.
	OutputPath string
}

// StackConfig configures a Stack.
type StackConfig struct {
	Watcher WatcherConfig
	// GatewayTailPath is L0's transcript, whose tail is compared against
	// each inner layer's new output for the injection decision.
	GatewayTailPath string
	// GatewayTailBytes bounds how much of the gateway tail is read for
	// scoring.
	GatewayTailBytes int
	// InjectionThreshold is the minimum Jaccard-like score that triggers
	// an injection. Defaults to 0.15.
	InjectionThreshold float64
}

// DefaultStackConfig returns the package defaults.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		Watcher:            DefaultWatcherConfig(),
		GatewayTailBytes:   4096,
		InjectionThreshold: 0.15,
	}
}

// Stack wires a watcher, per-layer semaphores, and a TurnRunner together:
// each observed delta attempts to acquire its layer's semaphore, runs one
// turn if successful (dropping the delta otherwise), and scores the turn's
// output for injection back into the gateway layer.
type Stack struct {
	cfg     StackConfig
	watcher *Watcher
	runner  TurnRunner
	inject  Injector

	mu   sync.Mutex
	sems map[int]*infra.Semaphore
}

// NewStack builds a Stack. layers describes the observation chain in
// ascending order (L1 watching L0, L2 watching L1, ...).
func NewStack(cfg StackConfig, layers []LayerConfig, runner TurnRunner, inject Injector) *Stack {
	if cfg.Watcher.Interval <= 0 {
		cfg = DefaultStackConfig()
	}
	s := &Stack{
		cfg:     cfg,
		watcher: NewWatcher(cfg.Watcher),
		runner:  runner,
		inject:  inject,
		sems:    make(map[int]*infra.Semaphore),
	}
	for _, l := range layers {
		s.sems[l.Layer] = infra.NewSemaphore(1)
		s.watcher.Add(l.Layer, l.WatchPath)
	}
	return s
}

// Run drives the watcher and dispatches every observed delta to its
// layer's turn, blocking until ctx is cancelled.
func (s *Stack) Run(ctx context.Context) error {
	go func() { _ = s.watcher.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-s.watcher.Events():
			if !ok {
				return nil
			}
			go s.dispatch(ctx, change)
		}
	}
}

func (s *Stack) semaphoreFor(layer int) *infra.Semaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[layer]
	if !ok {
		sem = infra.NewSemaphore(1)
		s.sems[layer] = sem
	}
	return sem
}

// dispatch acquires the layer's capacity-1 semaphore without blocking; if
// the previous turn is still running, the delta is dropped, per the
// per-layer contract.
func (s *Stack) dispatch(ctx context.Context, change CtxChange) {
	sem := s.semaphoreFor(change.Layer)
	if !sem.TryAcquire(1) {
		return
	}
	defer sem.Release(1)

	output, err := s.runner.RunTurn(ctx, change.Layer, change.Delta)
	if err != nil || output == "" {
		return
	}

	if s.inject == nil || s.cfg.GatewayTailPath == "" {
		return
	}
	tail, err := readTail(s.cfg.GatewayTailPath, s.cfg.GatewayTailBytes)
	if err != nil {
		return
	}
	if CorrelationScore(tail, output) >= s.cfg.InjectionThreshold {
		_ = s.inject.Inject(ctx, change.Layer, output)
	}
}

func readTail(path string, maxBytes int) (string, error) {
	content, err := readFileTail(path, maxBytes)
	if err != nil {
		return "", err
	}
	return string(SafeByteBoundary(content)), nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "have": true, "has": true, "are": true,
	"was": true, "were": true, "been": true, "will": true, "would": true,
	"could": true, "should": true, "about": true, "into": true, "than": true,
	"then": true, "them": true, "they": true, "their": true, "there": true,
	"here": true, "when": true, "what": true, "which": true, "who": true,
	"whom": true, "does": true, "did": true, "not": true, "but": true,
	"you": true, "your": true, "its": true, "our": true,
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z]+`)

// significantTerms extracts the lower-cased set of tokens longer than two
// characters that are not in the stop-word list.
func significantTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		if len(tok) <= 2 {
			continue
		}
		lower := strings.ToLower(tok)
		if stopWords[lower] {
			continue
		}
		terms[lower] = true
	}
	return terms
}

// CorrelationScore is the bag-of-terms Jaccard-like correlation between two
// texts: |A ∩ B| / max(|A|, |B|), over the significant (length > 2,
// non-stop-word) token sets of each.
func CorrelationScore(a, b string) float64 {
	setA := significantTerms(a)
	setB := significantTerms(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for term := range setA {
		if setB[term] {
			intersection++
		}
	}

	denom := len(setA)
	if len(setB) > denom {
		denom = len(setB)
	}
	return float64(intersection) / float64(denom)
}
