// Package config loads dome's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/martinemde/dome/checkpoint"
	"github.com/martinemde/dome/docgen"
	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/logging"
	"github.com/martinemde/dome/orchestrator"
	"github.com/martinemde/dome/research"
	"github.com/martinemde/dome/subagent"
	"github.com/martinemde/dome/tools"
)

// FileName is the config file looked up in the working directory.
const FileName = "dome.toml"

// Config is the full configuration.
type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Engine     EngineConfig     `toml:"engine"`
	Subagent   SubagentConfig   `toml:"subagent"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	HITL       HITLConfig       `toml:"hitl"`
	Store      StoreConfig      `toml:"store"`
	Docgen     DocgenConfig     `toml:"docgen"`
	Research   ResearchConfig   `toml:"research"`
	Log        logging.Config   `toml:"log"`
}

// LLMConfig selects the provider for the supervisor.
type LLMConfig struct {
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`
	APIKeyEnv   string   `toml:"api_key_env"`
	MaxTokens   int      `toml:"max_tokens"`
	Temperature *float64 `toml:"temperature"`
	// Retries enables transport retries at the provider layer.
	Retries        int      `toml:"retries"`
	RetryBaseDelay Duration `toml:"retry_base_delay"`
}

// EngineConfig tunes the supervisor loop.
type EngineConfig struct {
	MaxRounds    int    `toml:"max_rounds"`
	PayloadLimit int    `toml:"payload_limit"`
	Parallel     bool   `toml:"parallel"`
	MaxParallel  int    `toml:"max_parallel"`
	Stream       bool   `toml:"stream"`
	EventBuffer  int    `toml:"event_buffer"`
	Instructions string `toml:"instructions"`
}

// SubagentConfig tunes the subagent loops. Empty provider and model inherit
// from [llm].
type SubagentConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	MaxRounds  int    `toml:"max_rounds"`
	LoopWindow int    `toml:"loop_window"`
}

// CheckpointConfig bounds the in-memory thread store.
type CheckpointConfig struct {
	TTL           Duration `toml:"ttl"`
	MaxThreads    int      `toml:"max_threads"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// HITLConfig adds approval rules on top of the gated subagents. Entries are
// tool names or path.Match patterns.
type HITLConfig struct {
	Ask   []string `toml:"ask"`
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// StoreConfig locates the bbolt database.
type StoreConfig struct {
	Path string `toml:"path"`
}

type DocgenConfig struct {
	Dir        string   `toml:"dir"`
	ScriptsDir string   `toml:"scripts_dir"`
	Python     string   `toml:"python"`
	Soffice    string   `toml:"soffice"`
	Timeout    Duration `toml:"timeout"`
}

type ResearchConfig struct {
	Enabled   bool     `toml:"enabled"`
	SearchURL string   `toml:"search_url"`
	UserAgent string   `toml:"user_agent"`
	Timeout   Duration `toml:"timeout"`
	MaxBytes  int64    `toml:"max_bytes"`
}

// Duration decodes TOML strings such as "24h" or "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// New creates a config with defaults.
func New() *Config {
	eng := orchestrator.DefaultConfig()
	sub := subagent.DefaultConfig()
	doc := docgen.DefaultConfig()
	web := research.DefaultConfig()
	return &Config{
		LLM: LLMConfig{
			Provider:       "anthropic",
			MaxTokens:      4096,
			RetryBaseDelay: Duration{time.Second},
		},
		Engine: EngineConfig{
			MaxRounds:    eng.MaxRounds,
			PayloadLimit: eng.PayloadLimit,
			MaxParallel:  eng.MaxParallel,
			EventBuffer:  eng.EventBuffer,
		},
		Subagent: SubagentConfig{
			MaxRounds:  sub.MaxRounds,
			LoopWindow: sub.LoopWindow,
		},
		Checkpoint: CheckpointConfig{
			TTL:           Duration{24 * time.Hour},
			MaxThreads:    1000,
			SweepInterval: Duration{5 * time.Minute},
		},
		Store: StoreConfig{Path: "dome.db"},
		Docgen: DocgenConfig{
			Dir:        doc.Dir,
			ScriptsDir: doc.ScriptsDir,
			Python:     doc.Python,
			Soffice:    doc.Soffice,
			Timeout:    Duration{doc.Timeout},
		},
		Research: ResearchConfig{
			Enabled:   true,
			SearchURL: web.SearchURL,
			UserAgent: web.UserAgent,
			Timeout:   Duration{web.Timeout},
			MaxBytes:  web.MaxBytes,
		},
		Log: logging.Config{Level: "info", Format: "console"},
	}
}

// LoadFile loads configuration from a TOML file over the defaults.
func LoadFile(file string) (*Config, error) {
	cfg := New()
	md, err := toml.DecodeFile(file, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("failed to parse config: unknown key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads file when given. Otherwise it tries dome.toml in the working
// directory, then dome/config.toml under the user config directory, and
// falls back to the defaults.
func Load(file string) (*Config, error) {
	if file != "" {
		return LoadFile(file)
	}
	for _, candidate := range searchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return LoadFile(candidate)
		}
	}
	return New(), nil
}

func searchPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, FileName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "dome", "config.toml"))
	}
	return paths
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	if c.Engine.MaxRounds < 0 {
		errs = append(errs, errors.New("engine.max_rounds must not be negative"))
	}
	if c.Checkpoint.TTL.Duration < 0 {
		errs = append(errs, errors.New("checkpoint.ttl must not be negative"))
	}
	for _, pattern := range append(append(append([]string{}, c.HITL.Ask...), c.HITL.Allow...), c.HITL.Deny...) {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("hitl pattern %q: %w", pattern, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// EngineSettings returns the orchestrator configuration.
func (c *Config) EngineSettings() orchestrator.Config {
	return orchestrator.Config{
		Provider:     c.LLM.Provider,
		Model:        c.LLM.Model,
		MaxRounds:    c.Engine.MaxRounds,
		PayloadLimit: c.Engine.PayloadLimit,
		Parallel:     c.Engine.Parallel,
		MaxParallel:  c.Engine.MaxParallel,
		Stream:       c.Engine.Stream,
		EventBuffer:  c.Engine.EventBuffer,
		Instructions: c.Engine.Instructions,
		Temperature:  c.LLM.Temperature,
		MaxTokens:    positive(c.LLM.MaxTokens),
	}
}

// SubagentSettings returns the subagent loop configuration, inheriting the
// provider and model from [llm] when unset.
func (c *Config) SubagentSettings() subagent.Config {
	sub := subagent.DefaultConfig()
	sub.Provider = c.LLM.Provider
	sub.Model = c.LLM.Model
	if c.Subagent.Provider != "" {
		sub.Provider = c.Subagent.Provider
		sub.Model = ""
	}
	if c.Subagent.Model != "" {
		sub.Model = c.Subagent.Model
	}
	if c.Subagent.MaxRounds > 0 {
		sub.MaxRounds = c.Subagent.MaxRounds
	}
	sub.LoopWindow = c.Subagent.LoopWindow
	sub.PayloadLimit = c.Engine.PayloadLimit
	if sub.PayloadLimit <= 0 {
		sub.PayloadLimit = tools.DefaultPayloadLimit
	}
	sub.Temperature = c.LLM.Temperature
	sub.MaxTokens = positive(c.LLM.MaxTokens)
	return sub
}

// CheckpointOptions returns the in-memory store options.
func (c *Config) CheckpointOptions(logger *zap.Logger) []checkpoint.MemoryOption {
	return []checkpoint.MemoryOption{
		checkpoint.WithTTL(c.Checkpoint.TTL.Duration),
		checkpoint.WithMaxThreads(c.Checkpoint.MaxThreads),
		checkpoint.WithLogger(logger),
	}
}

// Policy builds the approval policy: the gated subagent tools ask, then the
// [hitl] rules apply in ask, allow, deny order. A later rule replaces an
// earlier one for the same pattern.
func (c *Config) Policy(specs []subagent.Spec) *hitl.Policy {
	p := hitl.NewPolicy(subagent.GatedToolNames(specs)...)
	for _, name := range c.HITL.Ask {
		p.Set(name, hitl.Ask)
	}
	for _, name := range c.HITL.Allow {
		p.Set(name, hitl.Allow)
	}
	for _, name := range c.HITL.Deny {
		p.Set(name, hitl.Deny)
	}
	return p
}

func (c *Config) DocgenSettings() docgen.Config {
	return docgen.Config{
		Dir:        c.Docgen.Dir,
		ScriptsDir: c.Docgen.ScriptsDir,
		Python:     c.Docgen.Python,
		Soffice:    c.Docgen.Soffice,
		Timeout:    c.Docgen.Timeout.Duration,
	}
}

func (c *Config) ResearchSettings() research.Config {
	return research.Config{
		SearchURL: c.Research.SearchURL,
		UserAgent: c.Research.UserAgent,
		Timeout:   c.Research.Timeout.Duration,
		MaxBytes:  c.Research.MaxBytes,
	}
}

func positive(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
