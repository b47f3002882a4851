package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/subagent"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewDefaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 25, cfg.Engine.MaxRounds)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.TTL.Duration)
	assert.Equal(t, "dome.db", cfg.Store.Path)
	assert.True(t, cfg.Research.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "openai"
model = "gpt-4o"
temperature = 0.2

[engine]
max_rounds = 8
parallel = true
instructions = "Answer in Spanish."

[subagent]
model = "gpt-4o-mini"
loop_window = 0

[checkpoint]
ttl = "90m"
max_threads = 10

[hitl]
ask = ["resource_delete"]
deny = ["call_data_agent"]

[docgen]
timeout = "30s"

[log]
level = "debug"
format = "json"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	eng := cfg.EngineSettings()
	assert.Equal(t, "openai", eng.Provider)
	assert.Equal(t, "gpt-4o", eng.Model)
	assert.Equal(t, 8, eng.MaxRounds)
	assert.True(t, eng.Parallel)
	assert.Equal(t, "Answer in Spanish.", eng.Instructions)
	require.NotNil(t, eng.Temperature)
	assert.InDelta(t, 0.2, *eng.Temperature, 1e-9)
	require.NotNil(t, eng.MaxTokens)
	assert.Equal(t, 4096, *eng.MaxTokens)

	sub := cfg.SubagentSettings()
	assert.Equal(t, "openai", sub.Provider)
	assert.Equal(t, "gpt-4o-mini", sub.Model)
	assert.Equal(t, 0, sub.LoopWindow)
	assert.Equal(t, 12, sub.MaxRounds)

	assert.Equal(t, 90*time.Minute, cfg.Checkpoint.TTL.Duration)
	assert.Equal(t, 30*time.Second, cfg.DocgenSettings().Timeout)
	assert.Equal(t, "python3", cfg.DocgenSettings().Python)
	assert.Equal(t, "debug", cfg.Log.Level)

	p := cfg.Policy(subagent.DefaultSpecs())
	assert.Equal(t, hitl.Ask, p.Decide("call_writer_agent"))
	assert.Equal(t, hitl.Deny, p.Decide("call_data_agent"))
	assert.Equal(t, hitl.Ask, p.Decide("resource_delete"))
	assert.Equal(t, hitl.Allow, p.Decide("call_research_agent"))
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `[checkpoint]
ttl = "forever"`))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = LoadFile(writeConfig(t, `[engine]
max_round = 3`))
	assert.ErrorContains(t, err, `unknown key "engine.max_round"`)

	_, err = LoadFile(writeConfig(t, `[llm]
provider = ""`))
	assert.ErrorContains(t, err, "llm.provider is required")

	_, err = LoadFile(writeConfig(t, `[hitl]
deny = ["["]`))
	assert.ErrorContains(t, err, "hitl pattern")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadFindsWorkingDirectoryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[store]\npath = \"x.db\"\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "x.db", cfg.Store.Path)
}

func TestSubagentProviderOverrideDropsInheritedModel(t *testing.T) {
	cfg := New()
	cfg.LLM.Model = "claude-sonnet-4-5"
	cfg.Subagent.Provider = "ollama"
	sub := cfg.SubagentSettings()
	assert.Equal(t, "ollama", sub.Provider)
	assert.Empty(t, sub.Model)
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	t.Setenv("CUSTOM_KEY", "c-key")

	cfg := New()
	assert.Equal(t, "a-key", cfg.GetAPIKey())

	cfg.LLM.APIKeyEnv = "CUSTOM_KEY"
	assert.Equal(t, "c-key", cfg.GetAPIKey())

	cfg.LLM.APIKeyEnv = ""
	cfg.LLM.Provider = "ollama"
	assert.Empty(t, cfg.GetAPIKey())
	assert.Equal(t, "GROQ_API_KEY", DefaultAPIKeyEnv("groq"))
}
