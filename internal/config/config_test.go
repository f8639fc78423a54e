package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uamm-go/uamm/internal/policy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "data/index.db", cfg.Storage.IndexDBPath)
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":9090"
	cfg.Embedding.Provider = "genai"
	cfg.Embedding.APIKey = "test-key"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", loaded.Server.Addr)
	assert.Equal(t, "genai", loaded.Embedding.Provider)
	assert.Equal(t, "test-key", loaded.Embedding.APIKey)
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("UAMM_ADDR", ":7000")
	t.Setenv("GEMINI_API_KEY", "env-gemini-key")

	cfg := DefaultConfig()
	cfg.Embedding.Provider = ""
	cfg.applyEnvOverrides()

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "env-gemini-key", cfg.Embedding.APIKey)
	assert.Equal(t, "genai", cfg.Embedding.Provider)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Embedding.Provider = "not-a-real-backend"
	assert.Error(t, cfg.Validate())

	cfg.Embedding.Provider = "genai"
	cfg.Embedding.APIKey = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.GetLatencyBudget().Seconds(), 0.0)
	assert.Greater(t, cfg.GetApprovalTTL().Minutes(), 0.0)

	cfg.Server.LatencyBudget = "not-a-duration"
	assert.Equal(t, time.Duration(0), cfg.GetLatencyBudget())
}

func TestPolicyConfig_ApplyOverridesOnlySetFields(t *testing.T) {
	base := policy.Defaults()
	threshold := 0.85
	p := PolicyConfig{AcceptThreshold: &threshold, ToolsAllowed: []string{"MATH_EVAL"}}

	applied := p.Apply(base)
	assert.Equal(t, 0.85, applied.AcceptThreshold)
	assert.Equal(t, []string{"MATH_EVAL"}, applied.ToolsAllowed)
	assert.Equal(t, base.BorderlineDelta, applied.BorderlineDelta)
}
