// Package config loads the host's YAML configuration: MCP server
// definitions (stdio and SSE), LLM provider credentials, the sampling
// security policy, default roots, the HITL policy, and the HTTP surface's
// own settings. ${VAR}/${VAR:-default} expansion and .env loading follow
// the pkg/config/env.go pattern used elsewhere in this codebase;
// SetDefaults/Validate follow the same per-section config style.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chrisyu/mcphost/pkg/hitl"
	"github.com/chrisyu/mcphost/pkg/risk"
	"github.com/chrisyu/mcphost/pkg/sampling"
)

// StdioServerConfig describes one child-process MCP server.
type StdioServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// SSEServerConfig describes one SSE MCP server endpoint.
type SSEServerConfig struct {
	URL            string `yaml:"url"`
	PostURL        string `yaml:"post_url"`
	Auth           string `yaml:"auth"` // none, bearer, api_key, custom
	AuthHeaderName string `yaml:"auth_header_name"`
	AuthValue      string `yaml:"auth_value"`
}

// ServersConfig is the full set of configured MCP servers, keyed by
// server_key.
type ServersConfig struct {
	Stdio map[string]StdioServerConfig `yaml:"stdio"`
	SSE   map[string]SSEServerConfig   `yaml:"sse"`
}

// ProviderConfig configures one LLM provider credential/endpoint set.
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig is the set of configured LLM providers and the default one.
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// RootConfig declares one default filesystem root applied globally.
type RootConfig struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
	Type string `yaml:"type"` // project, workspace, resource, custom
}

// RootsConfig is the global roots section.
type RootsConfig struct {
	Global     []RootConfig `yaml:"global"`
	StrictMode bool         `yaml:"strict_mode"`
}

// HITLPolicyConfig mirrors pkg/hitl.Policy in YAML-friendly form.
type HITLPolicyConfig struct {
	TimeoutSeconds        int  `yaml:"timeout_seconds"`
	AllowModification     bool `yaml:"allow_modification"`
	DoubleConfirmCritical bool `yaml:"double_confirm_critical"`
	AuditLogCapacity      int  `yaml:"audit_log_capacity"`
}

// RiskPolicyConfig mirrors pkg/risk.Policy in YAML-friendly form.
type RiskPolicyConfig struct {
	NeedsConfirmation []string `yaml:"needs_confirmation"` // subset of low/medium/high/critical
	AllowList         []string `yaml:"allow_list"`
	DenyList          []string `yaml:"deny_list"`
}

// SamplingPolicyConfig mirrors pkg/sampling.Policy in YAML-friendly form.
type SamplingPolicyConfig struct {
	BlockedServers       []string `yaml:"blocked_servers"`
	AllowedServers       []string `yaml:"allowed_servers"`
	GlobalRatePerMinute  int      `yaml:"global_rate_per_minute"`
	ServerRatePerMinute  int      `yaml:"server_rate_per_minute"`
	MaxTokensLimit       int      `yaml:"max_tokens_limit"`
	DefaultMaxTokens     int      `yaml:"default_max_tokens"`
	ContentFilterEnabled bool     `yaml:"content_filter_enabled"`
	BlockedKeywords      []string `yaml:"blocked_keywords"`
	RequireApproval      bool     `yaml:"require_approval"`
	AutoApproveThreshold int      `yaml:"auto_approve_threshold"`
	ApprovalTimeoutSecs  int      `yaml:"approval_timeout_seconds"`
	DefaultModel         string   `yaml:"default_model"`
	DefaultProvider      string   `yaml:"default_provider"`
}

// HTTPConfig configures the inbound HTTP surface.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// TracingConfig controls the OpenTelemetry span emission around the ReAct
// loop and MCP tool dispatch.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Config is the root configuration document.
type Config struct {
	LogLevel string               `yaml:"log_level"`
	HTTP     HTTPConfig           `yaml:"http"`
	Tracing  TracingConfig        `yaml:"tracing"`
	Servers  ServersConfig        `yaml:"servers"`
	LLM      LLMConfig            `yaml:"llm"`
	Roots    RootsConfig          `yaml:"roots"`
	HITL     HITLPolicyConfig     `yaml:"hitl"`
	Risk     RiskPolicyConfig     `yaml:"risk"`
	Sampling SamplingPolicyConfig `yaml:"sampling"`
}

// SetDefaults fills unset fields with the host's defaults, matching each
// subsystem's own DefaultPolicy().
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "mcphost"
	}
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "openai"
	}
	if c.HITL.TimeoutSeconds == 0 {
		c.HITL.TimeoutSeconds = int(hitl.DefaultPolicy().Timeout.Seconds())
	}
	if c.HITL.AuditLogCapacity == 0 {
		c.HITL.AuditLogCapacity = hitl.DefaultPolicy().AuditLogCapacity
	}
	if len(c.Risk.NeedsConfirmation) == 0 {
		c.Risk.NeedsConfirmation = []string{"high", "critical"}
	}
	if c.Sampling.GlobalRatePerMinute == 0 {
		c.Sampling.GlobalRatePerMinute = sampling.DefaultPolicy().GlobalRatePerMinute
	}
	if c.Sampling.ServerRatePerMinute == 0 {
		c.Sampling.ServerRatePerMinute = sampling.DefaultPolicy().ServerRatePerMinute
	}
	if c.Sampling.MaxTokensLimit == 0 {
		c.Sampling.MaxTokensLimit = sampling.DefaultPolicy().MaxTokensLimit
	}
	if c.Sampling.DefaultMaxTokens == 0 {
		c.Sampling.DefaultMaxTokens = sampling.DefaultPolicy().DefaultMaxTokens
	}
	if c.Sampling.AutoApproveThreshold == 0 {
		c.Sampling.AutoApproveThreshold = sampling.DefaultPolicy().AutoApproveThreshold
	}
	if c.Sampling.ApprovalTimeoutSecs == 0 {
		c.Sampling.ApprovalTimeoutSecs = int(sampling.DefaultPolicy().ApprovalTimeout.Seconds())
	}
}

// Validate reports the first structural problem found, if any.
func (c *Config) Validate() error {
	for key, s := range c.Servers.Stdio {
		if s.Command == "" {
			return fmt.Errorf("config: stdio server %q has no command", key)
		}
	}
	for key, s := range c.Servers.SSE {
		if s.URL == "" {
			return fmt.Errorf("config: sse server %q has no url", key)
		}
	}
	for _, level := range c.Risk.NeedsConfirmation {
		switch level {
		case "low", "medium", "high", "critical":
		default:
			return fmt.Errorf("config: risk.needs_confirmation has unknown level %q", level)
		}
	}
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("config: llm.default_provider must be set")
	}
	return nil
}

// Load reads and parses a YAML config file, applying ${VAR} expansion
// against the process environment (after loading .env/.env.local) and
// filling defaults.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var node map[string]any
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	expanded := ExpandEnvVarsInData(node)

	// Round-trip through YAML again so the expanded-and-retyped generic map
	// decodes cleanly into the typed Config struct via yaml's map[string]any
	// remarshal, rather than hand-rolling a second decoder.
	remarshaled, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: remarshal expanded config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(remarshaled, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RiskPolicy builds a risk.Policy from the config section.
func (c *Config) RiskPolicy() risk.Policy {
	policy := risk.DefaultPolicy()
	needs := make(map[risk.Level]bool)
	for _, level := range c.Risk.NeedsConfirmation {
		needs[parseRiskLevel(level)] = true
	}
	if len(needs) > 0 {
		policy.NeedsConfirmation = needs
	}
	for _, name := range c.Risk.AllowList {
		policy.AllowList[name] = true
	}
	for _, name := range c.Risk.DenyList {
		policy.DenyList[name] = true
	}
	return policy
}

func parseRiskLevel(s string) risk.Level {
	switch s {
	case "medium":
		return risk.Medium
	case "high":
		return risk.High
	case "critical":
		return risk.Critical
	default:
		return risk.Low
	}
}

// HITLPolicy builds a hitl.Policy from the config section.
func (c *Config) HITLPolicy() hitl.Policy {
	return hitl.Policy{
		Timeout:               time.Duration(c.HITL.TimeoutSeconds) * time.Second,
		AllowModification:     c.HITL.AllowModification,
		DoubleConfirmCritical: c.HITL.DoubleConfirmCritical,
		AuditLogCapacity:      c.HITL.AuditLogCapacity,
	}
}

// SamplingPolicy builds a sampling.Policy from the config section.
func (c *Config) SamplingPolicy() sampling.Policy {
	blocked := make(map[string]bool)
	for _, s := range c.Sampling.BlockedServers {
		blocked[s] = true
	}
	allowed := make(map[string]bool)
	for _, s := range c.Sampling.AllowedServers {
		allowed[s] = true
	}
	return sampling.Policy{
		BlockedServers:       blocked,
		AllowedServers:       allowed,
		GlobalRatePerMinute:  c.Sampling.GlobalRatePerMinute,
		ServerRatePerMinute:  c.Sampling.ServerRatePerMinute,
		MaxTokensLimit:       c.Sampling.MaxTokensLimit,
		DefaultMaxTokens:     c.Sampling.DefaultMaxTokens,
		ContentFilterEnabled: c.Sampling.ContentFilterEnabled,
		BlockedKeywords:      c.Sampling.BlockedKeywords,
		RequireApproval:      c.Sampling.RequireApproval,
		AutoApproveThreshold: c.Sampling.AutoApproveThreshold,
		ApprovalTimeout:      time.Duration(c.Sampling.ApprovalTimeoutSecs) * time.Second,
		DefaultModel:         c.Sampling.DefaultModel,
		DefaultProvider:      c.Sampling.DefaultProvider,
	}
}
