// Package config loads and validates the runtime's YAML/JSON5 configuration
// file, resolving $include directives and environment variable expansion
// before decoding into the strongly-typed Config tree.
package config

import "time"

// Config is the root of the runtime's configuration tree. A zero Config is
// usable; every section carries its own defaults applied by Load.
type Config struct {
	// Version is the config schema version, checked against CurrentVersion.
	Version int `yaml:"version"`

	Workspace WorkspaceConfig `yaml:"workspace"`
	Session   SessionConfig   `yaml:"session"`
	Layers    LayersConfig    `yaml:"layers"`
	DualCore  DualCoreConfig  `yaml:"dual_core"`
	Subagent  SubagentConfig  `yaml:"subagent"`
	Conductor ConductorConfig `yaml:"conductor"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// WorkspaceConfig locates the runtime's workspace root and the per-layer
// bootstrap file names within it.
type WorkspaceConfig struct {
	// Root is the workspace directory. Defaults to the current directory.
	Root string `yaml:"root"`

	// AppDirName names the hidden per-session-store directory nested under
	// each layer directory (e.g. ".noema"), housing that layer's
	// sessions/*.ctx transcripts.
	AppDirName string `yaml:"app_dir_name"`

	// AgentsFile, SoulFile, ToolsFile, MemoryFile name the human-editable
	// bootstrap files seeded into each layer directory. Empty falls back
	// to the package defaults (AGENTS.md, SOUL.md, TOOLS.md, MEMORY.md).
	AgentsFile string `yaml:"agents_file"`
	SoulFile   string `yaml:"soul_file"`
	ToolsFile  string `yaml:"tools_file"`
	MemoryFile string `yaml:"memory_file"`
}

// SessionConfig controls per-layer session/transcript behavior shared by
// every layer and core workspace.
type SessionConfig struct {
	// Model names the LLM model used to estimate the context window and
	// sleep threshold for a layer's session (internal/tokens.Budget).
	Model string `yaml:"model"`

	// SleepThresholdPct is the fraction of the context window at which a
	// session is considered asleep and ready for ego distillation.
	SleepThresholdPct float64 `yaml:"sleep_threshold_pct"`
}

// LayerConfig configures one inner layer (L1-L3) of the consciousness
// stack: the system prompt it runs with. Each layer watches the layer
// directly below it; the watch target is not configurable here.
type LayerConfig struct {
	Layer        int    `yaml:"layer"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LayersConfig configures the layer watcher and the inner layers it drives.
type LayersConfig struct {
	// PollInterval is how often the watcher checks watched transcripts for
	// growth.
	PollInterval Duration `yaml:"poll_interval"`

	// MaxDeltaBytes bounds how much of a single observed growth is ever
	// reported to a layer; larger growths are reported from their tail.
	MaxDeltaBytes int `yaml:"max_delta_bytes"`

	// GatewayTailBytes bounds how much of L0's transcript tail is read for
	// injection-correlation scoring.
	GatewayTailBytes int `yaml:"gateway_tail_bytes"`

	// InjectionThreshold is the minimum Jaccard-like correlation score that
	// triggers an injection into L0's workspace. Defaults to 0.15.
	InjectionThreshold float64 `yaml:"injection_threshold"`

	// Inner lists configuration for layers L1-L3.
	Inner []LayerConfig `yaml:"inner"`
}

// DualCoreConfig configures the dual-core pair that replaces L4.
type DualCoreConfig struct {
	// Budget is the context token budget; compaction triggers at budget/2.
	Budget int `yaml:"budget"`

	// CheckpointPath is where core state is atomically persisted. Empty
	// disables persistence.
	CheckpointPath string `yaml:"checkpoint_path"`

	// ReadyTimeout bounds how long a core may stay Ready with no peer in
	// Growing before reverting. Defaults to 30s.
	ReadyTimeout Duration `yaml:"ready_timeout"`
}

// SubagentConfig configures the subagent registry.
type SubagentConfig struct {
	// PersistPath is where the registry is checkpointed. Empty disables
	// persistence.
	PersistPath string `yaml:"persist_path"`

	// SweepInterval is how often the background sweeper runs GC.
	SweepInterval Duration `yaml:"sweep_interval"`

	// GCAfter is the age past termination at which an entry is eligible
	// for collection.
	GCAfter Duration `yaml:"gc_after"`
}

// ConductorConfig configures the line-delimited JSON command surface.
type ConductorConfig struct {
	// Enabled turns on the conductor's stdin command loop. Defaults to
	// disabled: most deployments drive the registry only through the
	// layer stack and gateway, not an external supervisor.
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig maps onto observability.LogConfig.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TracingConfig maps onto observability.TraceConfig.
type TracingConfig struct {
	ServiceName    string            `yaml:"service_name"`
	Environment    string            `yaml:"environment"`
	Endpoint       string            `yaml:"endpoint"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Attributes     map[string]string `yaml:"attributes"`
	EnableInsecure bool              `yaml:"enable_insecure"`
}

// DefaultAppDirName is used when WorkspaceConfig.AppDirName is unset.
const DefaultAppDirName = ".noema"

// applyDefaults fills in zero-valued fields with the runtime's defaults,
// the same per-package DefaultConfig idiom each subsystem uses on its own,
// collapsed onto the single root Config.
func (c *Config) applyDefaults() {
	if c.Workspace.Root == "" {
		c.Workspace.Root = "."
	}
	if c.Workspace.AppDirName == "" {
		c.Workspace.AppDirName = DefaultAppDirName
	}
	if c.Workspace.AgentsFile == "" {
		c.Workspace.AgentsFile = "AGENTS.md"
	}
	if c.Workspace.SoulFile == "" {
		c.Workspace.SoulFile = "SOUL.md"
	}
	if c.Workspace.ToolsFile == "" {
		c.Workspace.ToolsFile = "TOOLS.md"
	}
	if c.Workspace.MemoryFile == "" {
		c.Workspace.MemoryFile = "MEMORY.md"
	}

	if c.Session.SleepThresholdPct <= 0 || c.Session.SleepThresholdPct > 1 {
		c.Session.SleepThresholdPct = 0.85
	}

	if c.Layers.PollInterval <= 0 {
		c.Layers.PollInterval = Duration(500 * time.Millisecond)
	}
	if c.Layers.MaxDeltaBytes <= 0 {
		c.Layers.MaxDeltaBytes = 64 * 1024
	}
	if c.Layers.GatewayTailBytes <= 0 {
		c.Layers.GatewayTailBytes = 4096
	}
	if c.Layers.InjectionThreshold <= 0 {
		c.Layers.InjectionThreshold = 0.15
	}

	if c.DualCore.ReadyTimeout <= 0 {
		c.DualCore.ReadyTimeout = Duration(30 * time.Second)
	}

	if c.Subagent.SweepInterval <= 0 {
		c.Subagent.SweepInterval = Duration(60 * time.Second)
	}
	if c.Subagent.GCAfter <= 0 {
		c.Subagent.GCAfter = Duration(time.Hour)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "noema"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Load reads and merges the config file at path (resolving $include
// directives and expanding environment variables), validates its version,
// decodes it into a Config, and fills in defaults.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}
