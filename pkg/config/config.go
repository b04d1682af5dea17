// Copyright 2025 The Finagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the process configuration from the environment.
//
// Configuration is read once at startup and treated as immutable afterwards.
// Invalid enum values coerce to safe defaults with a warning instead of
// failing the process.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// RouterMode selects how the intent router classifies prompts.
type RouterMode string

const (
	RouterModeRule            RouterMode = "rule"
	RouterModeSemanticShadow  RouterMode = "semantic_shadow"
	RouterModeSemanticEnforce RouterMode = "semantic_enforce"
)

// ResponseMode selects how the final answer is produced.
type ResponseMode string

const (
	ResponseModeTemplate   ResponseMode = "template"
	ResponseModeLLMShadow  ResponseMode = "llm_shadow"
	ResponseModeLLMEnforce ResponseMode = "llm_enforce"
)

// GatewayTransport selects how the tool plane is reached.
type GatewayTransport string

const (
	TransportHTTP  GatewayTransport = "http"
	TransportStdio GatewayTransport = "stdio"
)

// Router holds intent-router thresholds.
type Router struct {
	Mode                RouterMode
	IntentConfMin       float64
	Top2GapMin          float64
	ScenarioConfMin     float64
	MaxClarifyQuestions int
}

// Response holds answer-synthesis settings.
type Response struct {
	Mode          ResponseMode
	PromptVersion string
	SchemaVersion string
	MaxRetries    int
}

// Encoding holds mojibake-gate thresholds.
type Encoding struct {
	RepairScoreMin    float64
	FailFastScoreMin  float64
	RepairMinDelta    float64
	NormalizationForm string
}

// Transport holds per-upstream timeouts and pool sizing.
type Transport struct {
	GatewayTimeout       time.Duration
	BackendTimeout       time.Duration
	BedrockConnect       time.Duration
	BedrockRead          time.Duration
	ToolExecutionTimeout time.Duration
	AgentTimeout         time.Duration
	PoolConnections      int
	PoolMaxSize          int
}

// Signals holds advisory-signal thresholds.
type Signals struct {
	OverspendHigh         float64
	RunwayLowMonths       float64
	VolatilityHigh        float64
	AnomalyRecentMinFlags int
}

// Config is the full process configuration.
type Config struct {
	Router    Router
	Response  Response
	Encoding  Encoding
	Transport Transport
	Signals   Signals

	GatewayEndpoint  string
	GatewayTransport GatewayTransport
	GatewayCommand   string
	BackendEndpoint  string
	DefaultUserToken string

	BedrockRegion  string
	BedrockModelID string

	ListenAddr     string
	MetricsEnabled bool
}

// Load reads .env files and the process environment into a Config.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Router: Router{
			Mode:                routerMode(envString("ROUTER_MODE", string(RouterModeSemanticEnforce))),
			IntentConfMin:       envFloat("ROUTER_INTENT_CONF_MIN", 0.70),
			Top2GapMin:          envFloat("ROUTER_TOP2_GAP_MIN", 0.15),
			ScenarioConfMin:     envFloat("ROUTER_SCENARIO_CONF_MIN", 0.75),
			MaxClarifyQuestions: envInt("ROUTER_MAX_CLARIFY_QUESTIONS", 2),
		},
		Response: Response{
			Mode:          responseMode(envString("RESPONSE_MODE", string(ResponseModeLLMEnforce))),
			PromptVersion: envString("RESPONSE_PROMPT_VERSION", "answer_synth_v2"),
			SchemaVersion: envString("RESPONSE_SCHEMA_VERSION", "answer_plan_v2"),
			MaxRetries:    envInt("RESPONSE_MAX_RETRIES", 1),
		},
		Encoding: Encoding{
			RepairScoreMin:    envFloat("ENCODING_REPAIR_SCORE_MIN", 0.12),
			FailFastScoreMin:  envFloat("ENCODING_FAILFAST_SCORE_MIN", 0.45),
			RepairMinDelta:    envFloat("ENCODING_REPAIR_MIN_DELTA", 0.10),
			NormalizationForm: envString("ENCODING_NORMALIZATION_FORM", "NFC"),
		},
		Transport: Transport{
			GatewayTimeout:       envSeconds("GATEWAY_TIMEOUT_SECONDS", 25),
			BackendTimeout:       envSeconds("BACKEND_TIMEOUT_SECONDS", 20),
			BedrockConnect:       envSeconds("BEDROCK_CONNECT_TIMEOUT", 10),
			BedrockRead:          envSeconds("BEDROCK_READ_TIMEOUT", 120),
			ToolExecutionTimeout: envSeconds("TOOL_EXECUTION_TIMEOUT", 120),
			AgentTimeout:         envSeconds("AGENT_TIMEOUT_SECONDS", 120),
			PoolConnections:      envInt("HTTP_POOL_CONNECTIONS", 10),
			PoolMaxSize:          envInt("HTTP_POOL_MAXSIZE", 20),
		},
		Signals: Signals{
			OverspendHigh:         envFloat("SIGNAL_OVERSPEND_HIGH", 0.35),
			RunwayLowMonths:       envFloat("SIGNAL_RUNWAY_LOW_MONTHS", 3.0),
			VolatilityHigh:        envFloat("SIGNAL_VOLATILITY_HIGH", 0.35),
			AnomalyRecentMinFlags: envInt("SIGNAL_ANOMALY_RECENT_MIN_FLAGS", 1),
		},

		GatewayEndpoint:  envString("GATEWAY_ENDPOINT", ""),
		GatewayTransport: gatewayTransport(envString("GATEWAY_TRANSPORT", string(TransportHTTP))),
		GatewayCommand:   envString("GATEWAY_COMMAND", ""),
		BackendEndpoint:  envString("BACKEND_ENDPOINT", ""),
		DefaultUserToken: envString("DEFAULT_USER_TOKEN", ""),

		BedrockRegion:  envString("BEDROCK_REGION", "us-east-1"),
		BedrockModelID: envString("BEDROCK_MODEL_ID", "anthropic.claude-3-5-sonnet-20240620-v1:0"),

		ListenAddr:     envString("LISTEN_ADDR", ":8080"),
		MetricsEnabled: envBool("METRICS_ENABLED", true),
	}

	return cfg, nil
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.GatewayTransport == TransportHTTP && c.GatewayEndpoint == "" {
		return fmt.Errorf("GATEWAY_ENDPOINT is required with http transport")
	}
	if c.GatewayTransport == TransportStdio && c.GatewayCommand == "" {
		return fmt.Errorf("GATEWAY_COMMAND is required with stdio transport")
	}
	if c.Transport.ToolExecutionTimeout <= 0 || c.Transport.AgentTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Router.MaxClarifyQuestions < 1 {
		return fmt.Errorf("ROUTER_MAX_CLARIFY_QUESTIONS must be at least 1")
	}
	return nil
}

func routerMode(s string) RouterMode {
	switch RouterMode(s) {
	case RouterModeRule, RouterModeSemanticShadow, RouterModeSemanticEnforce:
		return RouterMode(s)
	default:
		slog.Warn("Unknown ROUTER_MODE, using semantic_enforce", "value", s)
		return RouterModeSemanticEnforce
	}
}

func responseMode(s string) ResponseMode {
	switch ResponseMode(s) {
	case ResponseModeTemplate, ResponseModeLLMShadow, ResponseModeLLMEnforce:
		return ResponseMode(s)
	default:
		slog.Warn("Unknown RESPONSE_MODE, using llm_enforce", "value", s)
		return ResponseModeLLMEnforce
	}
}

func gatewayTransport(s string) GatewayTransport {
	switch GatewayTransport(s) {
	case TransportHTTP, TransportStdio:
		return GatewayTransport(s)
	default:
		slog.Warn("Unknown GATEWAY_TRANSPORT, using http", "value", s)
		return TransportHTTP
	}
}
