// Package config loads the server-wide YAML configuration: server address
// and budgets, storage paths, the default embedding backend,
// deployment-level policy defaults, and logging. It keeps
// the "YAML file + environment override + Validate" shape the teacher's own
// config loader uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uamm-go/uamm/internal/policy"
)

// Config holds the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Policy   PolicyConfig   `yaml:"policy"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	LatencyBudget string `yaml:"latency_budget"` // e.g. "20s"; "" disables the soft timeout
	ApprovalTTL   string `yaml:"approval_ttl"`   // e.g. "30m"
}

// StorageConfig configures where the index and workspace databases live.
type StorageConfig struct {
	IndexDBPath     string `yaml:"index_db_path"`
	WorkspaceDBPath string `yaml:"workspace_db_path"`
}

// EmbeddingConfig selects and configures the dense embedding backend.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "ollama", "genai", or "" (deterministic hash-based fallback engine)
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`  // ollama endpoint
	APIKey   string `yaml:"api_key"`   // genai API key
	TaskType string `yaml:"task_type"` // genai task type, e.g. "RETRIEVAL_DOCUMENT"
}

// PolicyConfig holds deployment-level policy defaults; Apply layers them over
// a base policy, and nil fields keep the base's own value. The server does
// not call Apply: each request's policy starts from policy.Defaults() plus
// the workspace overlay.
type PolicyConfig struct {
	AcceptThreshold         *float64 `yaml:"accept_threshold,omitempty"`
	BorderlineDelta         *float64 `yaml:"borderline_delta,omitempty"`
	MaxRefinements          *int     `yaml:"max_refinements,omitempty"`
	ToolBudgetPerTurn       *int     `yaml:"tool_budget_per_turn,omitempty"`
	ToolBudgetPerRefinement *int     `yaml:"tool_budget_per_refinement,omitempty"`
	ToolsAllowed            []string `yaml:"tools_allowed,omitempty"`
	ToolsRequiringApproval  []string `yaml:"tools_requiring_approval,omitempty"`
}

// Apply layers the YAML-configured defaults over policy.Defaults(), the same
// way a policy.Overlay layers over a workspace.
func (p PolicyConfig) Apply(base policy.WorkspacePolicy) policy.WorkspacePolicy {
	if p.AcceptThreshold != nil {
		base.AcceptThreshold = *p.AcceptThreshold
	}
	if p.BorderlineDelta != nil {
		base.BorderlineDelta = *p.BorderlineDelta
	}
	if p.MaxRefinements != nil {
		base.MaxRefinements = *p.MaxRefinements
	}
	if p.ToolBudgetPerTurn != nil {
		base.ToolBudgetPerTurn = *p.ToolBudgetPerTurn
	}
	if p.ToolBudgetPerRefinement != nil {
		base.ToolBudgetPerRefinement = *p.ToolBudgetPerRefinement
	}
	if p.ToolsAllowed != nil {
		base.ToolsAllowed = p.ToolsAllowed
	}
	if p.ToolsRequiringApproval != nil {
		base.ToolsRequiringApproval = p.ToolsRequiringApproval
	}
	return base
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			LatencyBudget: "20s",
			ApprovalTTL:   "30m",
		},
		Storage: StorageConfig{
			IndexDBPath:     "data/index.db",
			WorkspaceDBPath: "data/workspace.db",
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "embeddinggemma",
			BaseURL:  "http://localhost:11434",
			TaskType: "RETRIEVAL_DOCUMENT",
		},
		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating its directory if
// needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides, matching the
// teacher's priority-ordered key lookup.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("UAMM_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("UAMM_INDEX_DB"); path != "" {
		c.Storage.IndexDBPath = path
	}
	if path := os.Getenv("UAMM_WORKSPACE_DB"); path != "" {
		c.Storage.WorkspaceDBPath = path
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if url := os.Getenv("OLLAMA_HOST"); url != "" {
		c.Embedding.BaseURL = url
	}
}

// GetLatencyBudget returns the server's soft wall-clock budget, or 0 if
// disabled or unparseable.
func (c *Config) GetLatencyBudget() time.Duration {
	d, err := time.ParseDuration(c.Server.LatencyBudget)
	if err != nil {
		return 0
	}
	return d
}

// GetApprovalTTL returns the default approval lifetime, falling back to
// approvals.DefaultTTL's value when unset or unparseable.
func (c *Config) GetApprovalTTL() time.Duration {
	d, err := time.ParseDuration(c.Server.ApprovalTTL)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ValidEmbeddingProviders lists supported embedding backends.
var ValidEmbeddingProviders = []string{"", "ollama", "genai"}

// Validate checks the configuration for obvious misconfiguration before the
// server starts.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidEmbeddingProviders {
		if c.Embedding.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid embedding provider: %s (valid: ollama, genai, \"\")", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding provider genai requires an api_key (or GEMINI_API_KEY)")
	}
	if c.Storage.IndexDBPath == "" {
		return fmt.Errorf("storage.index_db_path is required")
	}
	return nil
}
