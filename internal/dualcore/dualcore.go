// Package dualcore implements the two-core alternating growth/compaction
// pair that replaces a single L4 layer: while one core grows by sampling
// L3's deltas, the other compacts its accumulated context into a seed for
// its sibling, trading places once the growing core's estimated size
// crosses half the context budget.
package dualcore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/noema-systems/noema/internal/layerstack"
	"github.com/noema-systems/noema/internal/tokens"
)

// Phase is the closed set of states a core can be in.
type Phase string

const (
	PhaseGrowing    Phase = "growing"
	PhaseReady      Phase = "ready"
	PhaseCompacting Phase = "compacting"
	PhaseInfant     Phase = "infant"
	PhaseSeeded     Phase = "seeded"
)

// ReadyTimeout is how long a core may sit Ready with no peer Growing before
// it reverts to Growing itself.
const ReadyTimeout = 30 * time.Second

// CoreID names one of the pair.
type CoreID string

const (
	CoreA CoreID = "A"
	CoreB CoreID = "B"
)

func (c CoreID) other() CoreID {
	if c == CoreA {
		return CoreB
	}
	return CoreA
}

// State is one core's checkpointed condition.
type State struct {
	ID              CoreID    `json:"id"`
	Phase           Phase     `json:"phase"`
	EstimatedTokens int       `json:"estimated_tokens"`
	Samples         int       `json:"samples"`
	ReadySince      time.Time `json:"ready_since,omitempty"`
	LastCompaction  time.Time `json:"last_compaction_time,omitempty"`
}

// Sampler runs one turn of a core's agent on the bounded tail text and
// returns its output. An empty output with a nil error counts as a
// non-productive sample (does not advance estimated tokens or sample count).
type Sampler interface {
	Sample(ctx context.Context, core CoreID, tail string) (output string, err error)
}

// Pair manages the two cores' phases, sampling, compaction handshake, and
// checkpointing.
type Pair struct {
	mu sync.Mutex

	budget int
	sample Sampler

	states     map[CoreID]*State
	skipCount  map[CoreID]int
	workspaces map[CoreID]string

	checkpointPath string

	lastOutput map[CoreID]string
}

// Config configures a Pair.
type Config struct {
	// Budget is the context budget (spec: compaction triggers at budget/2).
	Budget int
	// WorkspaceA, WorkspaceB are directories where each core's seed file
	// is written/absorbed.
	WorkspaceA, WorkspaceB string
	// CheckpointPath is where Pair state is atomically persisted. Empty
	// disables persistence.
	CheckpointPath string
}

const seedFileName = "seed.md"

// NewPair builds a Pair with A Growing and B Infant, restoring checkpointed
// state if CheckpointPath exists.
func NewPair(cfg Config, sample Sampler) *Pair {
	p := &Pair{
		budget: cfg.Budget,
		sample: sample,
		states: map[CoreID]*State{
			CoreA: {ID: CoreA, Phase: PhaseGrowing},
			CoreB: {ID: CoreB, Phase: PhaseInfant},
		},
		skipCount:      map[CoreID]int{CoreA: 0, CoreB: 0},
		workspaces:     map[CoreID]string{CoreA: cfg.WorkspaceA, CoreB: cfg.WorkspaceB},
		checkpointPath: cfg.CheckpointPath,
		lastOutput:     map[CoreID]string{},
	}
	p.restore()
	return p
}

// State returns a copy of one core's current state.
func (p *Pair) State(core CoreID) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.states[core]
}

// OnDelta is called once per observed L3 delta. It applies phase-locked
// sampling (the smaller core samples every other delta; the larger always
// samples), runs absorption/ready/compaction checks, and checkpoints any
// state change.
func (p *Pair) OnDelta(ctx context.Context, tail string) error {
	p.mu.Lock()
	a, b := p.states[CoreA], p.states[CoreB]
	smaller, larger := CoreA, CoreB
	if b.EstimatedTokens < a.EstimatedTokens {
		smaller, larger = CoreB, CoreA
	}
	p.mu.Unlock()

	if err := p.maybeAbsorb(larger); err != nil {
		return err
	}
	if err := p.maybeAbsorb(smaller); err != nil {
		return err
	}

	if err := p.maybeSample(ctx, larger, tail, true); err != nil {
		return err
	}
	if err := p.maybeSample(ctx, smaller, tail, false); err != nil {
		return err
	}

	if err := p.checkReadyAndCompact(ctx); err != nil {
		return err
	}
	p.checkReadyTimeout()

	p.checkpoint()
	return nil
}

// maybeSample samples core if its phase allows it and, for the smaller
// core, its skip counter permits it this round.
func (p *Pair) maybeSample(ctx context.Context, core CoreID, tail string, always bool) error {
	p.mu.Lock()
	st := p.states[core]
	if st.Phase != PhaseGrowing && st.Phase != PhaseSeeded {
		p.mu.Unlock()
		return nil
	}
	if !always {
		skip := p.skipCount[core]
		p.skipCount[core]++
		if skip%2 == 1 {
			p.mu.Unlock()
			return nil
		}
	}
	p.mu.Unlock()

	output, err := p.sample.Sample(ctx, core, tail)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	st = p.states[core]
	if st.Phase == PhaseSeeded {
		st.Phase = PhaseGrowing
	}
	if output != "" {
		st.EstimatedTokens += tokens.EstimateString(output)
		st.Samples++
		p.lastOutput[core] = output
	}
	if st.Phase == PhaseGrowing && st.EstimatedTokens >= p.budget/2 {
		st.Phase = PhaseReady
		st.ReadySince = time.Now()
	}
	return nil
}

// checkReadyAndCompact runs the compaction handshake: if exactly one core
// is Ready and its peer Growing, the Ready core compacts. If both are
// Ready simultaneously, the one with fewer samples compacts and the other
// reverts to Growing.
func (p *Pair) checkReadyAndCompact(ctx context.Context) error {
	p.mu.Lock()
	a, b := p.states[CoreA], p.states[CoreB]

	var compactor, other CoreID
	switch {
	case a.Phase == PhaseReady && b.Phase == PhaseGrowing:
		compactor, other = CoreA, CoreB
	case b.Phase == PhaseReady && a.Phase == PhaseGrowing:
		compactor, other = CoreB, CoreA
	case a.Phase == PhaseReady && b.Phase == PhaseReady:
		if a.Samples <= b.Samples {
			compactor, other = CoreA, CoreB
		} else {
			compactor, other = CoreB, CoreA
		}
		p.states[other].Phase = PhaseGrowing
	default:
		p.mu.Unlock()
		return nil
	}
	seedSource := p.lastOutput[compactor]
	budget := p.budget
	workspace := p.workspaces[other]
	p.mu.Unlock()

	seed := layerstack.SelectSeed(seedSource, budget)
	if workspace != "" && seed != "" {
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return fmt.Errorf("dualcore: prepare workspace for %s: %w", other, err)
		}
		if err := os.WriteFile(filepath.Join(workspace, seedFileName), []byte(seed), 0o644); err != nil {
			return fmt.Errorf("dualcore: write seed for %s: %w", other, err)
		}
	}

	p.mu.Lock()
	now := time.Now()
	cs := p.states[compactor]
	cs.Phase = PhaseInfant
	cs.EstimatedTokens = 0
	cs.Samples = 0
	cs.ReadySince = time.Time{}
	cs.LastCompaction = now
	p.skipCount[compactor] = 0
	p.mu.Unlock()
	return nil
}

// checkReadyTimeout reverts a core stuck Ready for more than ReadyTimeout
// with no peer Growing back to Growing itself.
func (p *Pair) checkReadyTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range []CoreID{CoreA, CoreB} {
		st := p.states[id]
		if st.Phase != PhaseReady {
			continue
		}
		if time.Since(st.ReadySince) <= ReadyTimeout {
			continue
		}
		peer := p.states[id.other()]
		if peer.Phase != PhaseGrowing {
			st.Phase = PhaseGrowing
			st.ReadySince = time.Time{}
		}
	}
}

// maybeAbsorb checks core's workspace for a seed file left by its sibling's
// compaction; if found and core is Infant, it is absorbed and core
// transitions to Seeded.
func (p *Pair) maybeAbsorb(core CoreID) error {
	p.mu.Lock()
	st := p.states[core]
	if st.Phase != PhaseInfant {
		p.mu.Unlock()
		return nil
	}
	workspace := p.workspaces[core]
	p.mu.Unlock()

	if workspace == "" {
		return nil
	}
	seedPath := filepath.Join(workspace, seedFileName)
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	st = p.states[core]
	st.Phase = PhaseSeeded
	st.EstimatedTokens = tokens.EstimateString(string(data))
	p.mu.Unlock()

	_ = os.Remove(seedPath)
	return nil
}

type checkpointFile struct {
	A State `json:"a"`
	B State `json:"b"`
}

func (p *Pair) checkpoint() {
	if p.checkpointPath == "" {
		return
	}

	p.mu.Lock()
	out := checkpointFile{A: *p.states[CoreA], B: *p.states[CoreB]}
	p.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return
	}
	dir := filepath.Dir(p.checkpointPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp := p.checkpointPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, p.checkpointPath)
}

func (p *Pair) restore() {
	if p.checkpointPath == "" {
		return
	}
	data, err := os.ReadFile(p.checkpointPath)
	if err != nil {
		return
	}
	var in checkpointFile
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	a, b := in.A, in.B
	a.ID, b.ID = CoreA, CoreB
	p.states[CoreA] = &a
	p.states[CoreB] = &b
}
