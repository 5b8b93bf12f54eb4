package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcphost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_FillsDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, "/metrics", cfg.HTTP.MetricsPath)
	assert.Equal(t, "mcphost", cfg.Tracing.ServiceName)
	assert.ElementsMatch(t, []string{"high", "critical"}, cfg.Risk.NeedsConfirmation)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_MCPHOST_KEY", "sk-test-123")
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: "${TEST_MCPHOST_KEY}"
      model: gpt-4o
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.LLM.Providers["openai"].APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsStdioServerWithoutCommand(t *testing.T) {
	cfg := &Config{
		LLM:     LLMConfig{DefaultProvider: "openai"},
		Servers: ServersConfig{Stdio: map[string]StdioServerConfig{"broken": {}}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestValidate_RejectsSSEServerWithoutURL(t *testing.T) {
	cfg := &Config{
		LLM:     LLMConfig{DefaultProvider: "openai"},
		Servers: ServersConfig{SSE: map[string]SSEServerConfig{"broken": {}}},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsUnknownRiskLevel(t *testing.T) {
	cfg := &Config{
		LLM:  LLMConfig{DefaultProvider: "openai"},
		Risk: RiskPolicyConfig{NeedsConfirmation: []string{"extreme"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RequiresDefaultProvider(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestRiskPolicy_BuildsFromConfig(t *testing.T) {
	cfg := &Config{Risk: RiskPolicyConfig{
		NeedsConfirmation: []string{"critical"},
		AllowList:         []string{"read_file"},
		DenyList:          []string{"exec_shell"},
	}}
	policy := cfg.RiskPolicy()
	assert.True(t, policy.AllowList["read_file"])
	assert.True(t, policy.DenyList["exec_shell"])
}

func TestHITLPolicy_ConvertsSecondsToDuration(t *testing.T) {
	cfg := &Config{HITL: HITLPolicyConfig{TimeoutSeconds: 45, AuditLogCapacity: 200}}
	policy := cfg.HITLPolicy()
	assert.Equal(t, int64(45), int64(policy.Timeout.Seconds()))
	assert.Equal(t, 200, policy.AuditLogCapacity)
}

func TestSamplingPolicy_BuildsServerSets(t *testing.T) {
	cfg := &Config{Sampling: SamplingPolicyConfig{
		BlockedServers: []string{"untrusted"},
		AllowedServers: []string{"trusted"},
	}}
	policy := cfg.SamplingPolicy()
	assert.True(t, policy.BlockedServers["untrusted"])
	assert.True(t, policy.AllowedServers["trusted"])
}
