package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noema-systems/noema/internal/config"
	"github.com/noema-systems/noema/internal/conductor"
	"github.com/noema-systems/noema/internal/dualcore"
	"github.com/noema-systems/noema/internal/ego"
	"github.com/noema-systems/noema/internal/infra"
	"github.com/noema-systems/noema/internal/layerstack"
	"github.com/noema-systems/noema/internal/llmclient"
	"github.com/noema-systems/noema/internal/loop"
	"github.com/noema-systems/noema/internal/observability"
	"github.com/noema-systems/noema/internal/session"
	"github.com/noema-systems/noema/internal/subagent"
	"github.com/noema-systems/noema/internal/toolcontract"
	"github.com/noema-systems/noema/internal/tools"
	"github.com/noema-systems/noema/internal/transcript"
	"github.com/noema-systems/noema/internal/workspace"
)

const innerLayerCount = 4 // L0 (gateway) .. L3

// Runtime ties the session store, consciousness loop, layer stack,
// dual-core pair, subagent registry, and conductor together into one
// running process against a single LLM client. Its lifetime is the
// process's lifetime: New does all the one-time setup (workspace bootstrap,
// transcript creation, client construction); Run drives every long-lived
// component until ctx is cancelled.
type Runtime struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics

	llm loop.LLMClient

	gatewaySession    *session.Session
	gatewayTools      *toolcontract.Registry
	gatewayTranscript string
	gateway           *loop.Loop

	stack     *layerstack.Stack
	dualWatch *layerstack.Watcher
	pair      *dualcore.Pair
	distiller *ego.Distiller

	registry   *subagent.Registry
	subagents  *SubagentRunner
	conductor  *conductor.Conductor
	conductEnb bool
}

// New builds a Runtime from a loaded configuration. It does not start any
// background work; call Run for that.
func New(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("runtime: nil config")
	}
	if logger == nil {
		logger = observability.MustNewLogger(observability.LogConfig{})
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	if _, err := workspace.EnsureLayeredWorkspace(cfg, false); err != nil {
		return nil, fmt.Errorf("runtime: bootstrap workspace: %w", err)
	}

	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	anthropicClient, err := llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
		APIKey:       apiKey,
		DefaultModel: cfg.Session.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: build llm client: %w", err)
	}
	llmClient := loop.NewRetryingLLMClient(anthropicClient)

	rt := &Runtime{cfg: cfg, logger: logger, metrics: metrics, llm: llmClient}

	if err := rt.setupGateway(); err != nil {
		return nil, err
	}
	if err := rt.setupLayerStack(); err != nil {
		return nil, err
	}
	if err := rt.setupDualCore(); err != nil {
		return nil, err
	}
	rt.setupSubagents()
	rt.setupConductor()

	return rt, nil
}

func (rt *Runtime) root() string {
	if rt.cfg.Workspace.Root == "" {
		return "."
	}
	return rt.cfg.Workspace.Root
}

// sessionRoot returns the directory holding a layer or core directory's own
// .ctx transcripts, nested under its configured app directory name.
func (rt *Runtime) sessionRoot(dirName string) string {
	return filepath.Join(rt.root(), dirName, rt.cfg.Workspace.AppDirName)
}

func (rt *Runtime) newTranscript(dirName string) (string, error) {
	root := rt.sessionRoot(dirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("runtime: create session dir %s: %w", root, err)
	}
	sessionID := newSessionID()
	return transcript.Create(root, sessionID, "")
}

func (rt *Runtime) setupGateway() error {
	dirName := workspace.LayerDirName(0)
	path, err := rt.newTranscript(dirName)
	if err != nil {
		return err
	}
	rt.gatewayTranscript = path

	rt.gatewaySession = session.New(session.Config{
		Model:             rt.cfg.Session.Model,
		SleepThresholdPct: rt.cfg.Session.SleepThresholdPct,
	})

	rt.gatewayTools = toolcontract.NewRegistry()
	if err := tools.RegisterDefaults(rt.gatewayTools, filepath.Join(rt.root(), dirName)); err != nil {
		return fmt.Errorf("runtime: register gateway tools: %w", err)
	}

	rt.gateway = loop.New(loop.Config{
		Session: rt.gatewaySession,
		Tools:   rt.gatewayTools,
		LLM:     rt.llm,
	})
	return nil
}

func (rt *Runtime) setupLayerStack() error {
	byLayer := map[int]config.LayerConfig{}
	for _, l := range rt.cfg.Layers.Inner {
		byLayer[l.Layer] = l
	}

	agent := &LayerAgent{
		LLM:            rt.llm,
		Sessions:       map[int]*session.Session{},
		TranscriptPath: map[int]string{},
	}
	toolsByLayer := map[int]toolcontract.Tool{}

	layers := make([]layerstack.LayerConfig, 0, innerLayerCount-1)
	var prevTranscript string
	if rt.gatewayTranscript != "" {
		prevTranscript = rt.gatewayTranscript
	}

	for layer := 1; layer < innerLayerCount; layer++ {
		dirName := workspace.LayerDirName(layer)
		path, err := rt.newTranscript(dirName)
		if err != nil {
			return err
		}

		systemPrompt := byLayer[layer].SystemPrompt
		agent.Sessions[layer] = session.New(session.Config{
			Model:             rt.cfg.Session.Model,
			SystemPrompt:      systemPrompt,
			SleepThresholdPct: rt.cfg.Session.SleepThresholdPct,
		})
		agent.TranscriptPath[layer] = path

		layerTools := toolcontract.NewRegistry()
		if err := tools.RegisterDefaults(layerTools, filepath.Join(rt.root(), dirName)); err != nil {
			return fmt.Errorf("runtime: register layer %d tools: %w", layer, err)
		}
		toolsByLayer[layer] = layerTools

		layers = append(layers, layerstack.LayerConfig{
			Layer:      layer,
			WatchPath:  prevTranscript,
			OutputPath: path,
		})
		prevTranscript = path
	}

	agent.Tools = toolsByLayer

	stackCfg := layerstack.StackConfig{
		Watcher: layerstack.WatcherConfig{
			Interval:      time.Duration(rt.cfg.Layers.PollInterval),
			MaxDeltaBytes: rt.cfg.Layers.MaxDeltaBytes,
		},
		GatewayTailPath:    rt.gatewayTranscript,
		GatewayTailBytes:   rt.cfg.Layers.GatewayTailBytes,
		InjectionThreshold: rt.cfg.Layers.InjectionThreshold,
	}
	injector := &GatewayInjector{Gateway: rt.gateway}
	rt.stack = layerstack.NewStack(stackCfg, layers, agent, injector)

	if len(layers) > 0 {
		rt.dualWatch = layerstack.NewWatcher(stackCfg.Watcher)
		rt.dualWatch.Add(3, layers[len(layers)-1].OutputPath)
	}
	return nil
}

func (rt *Runtime) setupDualCore() error {
	sampler := &DualCoreSampler{
		LLM:            rt.llm,
		Tools:          map[dualcore.CoreID]toolcontract.Tool{},
		Sessions:       map[dualcore.CoreID]*session.Session{},
		TranscriptPath: map[dualcore.CoreID]string{},
	}

	workspaces := map[dualcore.CoreID]string{}
	for i, dirName := range workspace.CoreDirNames {
		core := dualcore.CoreA
		if i == 1 {
			core = dualcore.CoreB
		}
		path, err := rt.newTranscript(dirName)
		if err != nil {
			return err
		}
		sampler.Sessions[core] = session.New(session.Config{Model: rt.cfg.Session.Model})
		sampler.TranscriptPath[core] = path

		coreTools := toolcontract.NewRegistry()
		if err := tools.RegisterDefaults(coreTools, filepath.Join(rt.root(), dirName)); err != nil {
			return fmt.Errorf("runtime: register %s tools: %w", dirName, err)
		}
		sampler.Tools[core] = coreTools
		workspaces[core] = filepath.Join(rt.root(), dirName)
	}

	rt.pair = dualcore.NewPair(dualcore.Config{
		Budget:         rt.cfg.DualCore.Budget,
		WorkspaceA:     workspaces[dualcore.CoreA],
		WorkspaceB:     workspaces[dualcore.CoreB],
		CheckpointPath: rt.cfg.DualCore.CheckpointPath,
	}, sampler)

	rt.distiller = &ego.Distiller{Summarizer: &TextSummarizer{LLM: rt.llm, Model: rt.cfg.Session.Model}}
	return nil
}

func (rt *Runtime) setupSubagents() {
	rt.registry = subagent.NewRegistry(subagent.Config{
		PersistPath:   rt.cfg.Subagent.PersistPath,
		SweepInterval: time.Duration(rt.cfg.Subagent.SweepInterval),
		GCAfter:       time.Duration(rt.cfg.Subagent.GCAfter),
	})
	rt.subagents = &SubagentRunner{
		llm:      rt.llm,
		model:    rt.cfg.Session.Model,
		root:     filepath.Join(rt.root(), "subagents"),
		registry: rt.registry,
	}
}

func (rt *Runtime) setupConductor() {
	rt.conductEnb = rt.cfg.Conductor.Enabled
	if !rt.conductEnb {
		return
	}
	rt.conductor = conductor.New(rt.registry, rt.subagents, rt.subagents, rt.subagents, slog.Default())
}

// Run starts every long-lived component (the gateway loop, the inner-layer
// stack watcher, the dual-core observation loop, and, if enabled, the
// conductor's stdin command loop) and blocks until ctx is cancelled or one
// of them returns an error.
func (rt *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.gateway.Run(ctx) })
	g.Go(func() error { return rt.stack.Run(ctx) })
	g.Go(func() error { rt.watchGatewaySleep(ctx); return nil })

	if rt.dualWatch != nil {
		g.Go(func() error { return rt.runDualCoreLoop(ctx) })
	}

	if rt.conductEnb && rt.conductor != nil {
		g.Go(func() error { return rt.conductor.Run(ctx, os.Stdin, os.Stdout) })
	}

	return g.Wait()
}

// runDualCoreLoop drives dualWatch and feeds every observed L3 delta into
// the dual-core pair's OnDelta, the external loop dualcore.Pair itself does
// not run.
func (rt *Runtime) runDualCoreLoop(ctx context.Context) error {
	go func() { _ = rt.dualWatch.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-rt.dualWatch.Events():
			if !ok {
				return nil
			}
			if err := rt.pair.OnDelta(ctx, change.Delta); err != nil {
				rt.logger.Error(ctx, "dual-core sample failed", "error", err)
			}
		}
	}
}

// watchGatewaySleep subscribes to the gateway's broadcast output and runs
// one ego distillation (L1 observing L0) each time the gateway session
// crosses its sleep threshold. It returns when ctx is cancelled.
func (rt *Runtime) watchGatewaySleep(ctx context.Context) {
	id, out := rt.gateway.Subscribe()
	defer rt.gateway.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-out:
			if !ok {
				return
			}
			if ev.Kind != loop.OutSleep {
				continue
			}
			tail := rt.gatewayTail()
			if err := rt.injectEgoOnSleep(ctx, 0, 1, tail); err != nil {
				rt.logger.Error(ctx, "ego distillation failed", "error", err)
			}
		}
	}
}

func (rt *Runtime) gatewayTail() string {
	data, err := os.ReadFile(rt.gatewayTranscript)
	if err != nil {
		return ""
	}
	max := rt.cfg.Layers.GatewayTailBytes
	if max <= 0 || max > len(data) {
		max = len(data)
	}
	return string(layerstack.SafeByteBoundary(data[len(data)-max:]))
}

// ShutdownCoordinator builds an infra.ShutdownCoordinator with the subagent
// registry's Stop registered in the Cleanup phase, for a caller (typically
// cmd/noema) to drive on SIGINT/SIGTERM. It registers no other component.
func (rt *Runtime) ShutdownCoordinator(defaultTimeout time.Duration) *infra.ShutdownCoordinator {
	sc := infra.NewShutdownCoordinator(defaultTimeout, slog.Default())
	sc.RegisterFunc("subagent-registry", infra.PhaseCleanup, func(context.Context) error {
		rt.registry.Stop()
		return nil
	})
	return sc
}

// injectEgoOnSleep distills the sleeping layer's identity from the watcher
// layer's tail and writes it into the watcher layer's directory.
// watchGatewaySleep calls it once for each OutSleep event the gateway loop
// broadcasts.
func (rt *Runtime) injectEgoOnSleep(ctx context.Context, sleeperLayer, watcherLayer int, watcherTail string) error {
	summary, err := rt.distiller.Distill(ctx, sleeperLayer, watcherLayer, watcherTail)
	if err != nil {
		return err
	}
	dirName := workspace.LayerDirName(watcherLayer)
	return ego.WriteEgo(filepath.Join(rt.root(), dirName), summary)
}
