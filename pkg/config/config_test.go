package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_ENDPOINT", "https://gateway.example.com/mcp")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RouterModeSemanticEnforce, cfg.Router.Mode)
	assert.InDelta(t, 0.70, cfg.Router.IntentConfMin, 1e-9)
	assert.InDelta(t, 0.15, cfg.Router.Top2GapMin, 1e-9)
	assert.InDelta(t, 0.75, cfg.Router.ScenarioConfMin, 1e-9)
	assert.Equal(t, 2, cfg.Router.MaxClarifyQuestions)

	assert.Equal(t, ResponseModeLLMEnforce, cfg.Response.Mode)
	assert.Equal(t, "answer_synth_v2", cfg.Response.PromptVersion)
	assert.Equal(t, "answer_plan_v2", cfg.Response.SchemaVersion)
	assert.Equal(t, 1, cfg.Response.MaxRetries)

	assert.InDelta(t, 0.12, cfg.Encoding.RepairScoreMin, 1e-9)
	assert.InDelta(t, 0.45, cfg.Encoding.FailFastScoreMin, 1e-9)
	assert.Equal(t, "NFC", cfg.Encoding.NormalizationForm)

	assert.Equal(t, 25*time.Second, cfg.Transport.GatewayTimeout)
	assert.Equal(t, 120*time.Second, cfg.Transport.ToolExecutionTimeout)
	assert.Equal(t, 10, cfg.Transport.PoolConnections)
	assert.Equal(t, 20, cfg.Transport.PoolMaxSize)

	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ENDPOINT", "https://gateway.example.com/mcp")
	t.Setenv("ROUTER_INTENT_CONF_MIN", "0.9")
	t.Setenv("ROUTER_MAX_CLARIFY_QUESTIONS", "1")
	t.Setenv("TOOL_EXECUTION_TIMEOUT", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.9, cfg.Router.IntentConfMin, 1e-9)
	assert.Equal(t, 1, cfg.Router.MaxClarifyQuestions)
	assert.Equal(t, 30*time.Second, cfg.Transport.ToolExecutionTimeout)
}

func TestInvalidModesCoerce(t *testing.T) {
	t.Setenv("GATEWAY_ENDPOINT", "https://gateway.example.com/mcp")
	t.Setenv("ROUTER_MODE", "full_llm")
	t.Setenv("RESPONSE_MODE", "nope")
	t.Setenv("GATEWAY_TRANSPORT", "carrier-pigeon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RouterModeSemanticEnforce, cfg.Router.Mode)
	assert.Equal(t, ResponseModeLLMEnforce, cfg.Response.Mode)
	assert.Equal(t, TransportHTTP, cfg.GatewayTransport)
}

func TestValidateRejectsMissingEndpoint(t *testing.T) {
	cfg := &Config{GatewayTransport: TransportHTTP}
	cfg.Transport.ToolExecutionTimeout = time.Second
	cfg.Transport.AgentTimeout = time.Second
	cfg.Router.MaxClarifyQuestions = 2

	assert.Error(t, cfg.Validate())

	cfg.GatewayEndpoint = "https://gateway.example.com/mcp"
	assert.NoError(t, cfg.Validate())
}

func TestValidateStdioRequiresCommand(t *testing.T) {
	cfg := &Config{GatewayTransport: TransportStdio}
	cfg.Transport.ToolExecutionTimeout = time.Second
	cfg.Transport.AgentTimeout = time.Second
	cfg.Router.MaxClarifyQuestions = 2

	assert.Error(t, cfg.Validate())

	cfg.GatewayCommand = "finance-tools"
	assert.NoError(t, cfg.Validate())
}
