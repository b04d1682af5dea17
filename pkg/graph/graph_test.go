package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thphuc06/finagent/pkg/audit"
	"github.com/thphuc06/finagent/pkg/config"
	"github.com/thphuc06/finagent/pkg/encoding"
	"github.com/thphuc06/finagent/pkg/gateway"
	"github.com/thphuc06/finagent/pkg/llm"
	"github.com/thphuc06/finagent/pkg/router"
	"github.com/thphuc06/finagent/pkg/synth"
)

type fakePlane struct {
	mu      sync.Mutex
	tools   []gateway.ToolInfo
	replies map[string]string
	calls   []string
	metas   []gateway.CallMeta
}

func (f *fakePlane) Initialize(ctx context.Context) error { return nil }

func (f *fakePlane) ListTools(ctx context.Context) ([]gateway.ToolInfo, error) {
	return f.tools, nil
}

func (f *fakePlane) CallTool(ctx context.Context, name string, args map[string]any, meta gateway.CallMeta) (*gateway.ToolReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.metas = append(f.metas, meta)
	f.mu.Unlock()
	text, ok := f.replies[name]
	if !ok {
		return nil, fmt.Errorf("no reply scripted for %s", name)
	}
	return &gateway.ToolReply{Text: text}, nil
}

type scriptedLLM struct {
	byVersion map[string][]string
	counts    map[string]int
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	if s.counts == nil {
		s.counts = map[string]int{}
	}
	replies := s.byVersion[req.PromptVersion]
	i := s.counts[req.PromptVersion]
	if i >= len(replies) {
		i = len(replies) - 1
	}
	s.counts[req.PromptVersion]++
	return replies[i], nil
}

func envelope(fields string) string {
	return `{"trace_id":"t-1","version":"v1","params_hash":"h","sql_snapshot_ts":"2026-08-22T00:00:00Z",` + fields + `}`
}

func summaryExtraction() string {
	return `{"intent":"summary","confidence":0.92,"domain_relevance":0.95,` +
		`"top2":[{"intent":"summary","confidence":0.92},{"intent":"risk","confidence":0.03}],` +
		`"slots":{},"scenario_confidence":0,"reason":""}`
}

func summaryPlan(t *testing.T) string {
	t.Helper()
	plan := synth.Plan{
		SchemaVersion: synth.SchemaVersion,
		Language:      "vi",
		SummaryLines: []string{
			"Tổng chi tiêu 30 ngày qua là [F:spend.total.30d].",
			"Dòng tiền ròng là [F:spend.net_cashflow.30d].",
			"Bạn còn trụ được [F:forecast.runway.months].",
		},
		KeyMetrics: []synth.KeyMetric{{FactID: "spend.net_cashflow.30d", Label: "Dòng tiền ròng"}},
		Actions: []synth.PlanAction{
			{ActionID: "stabilize_cashflow", Title: "Ổn định dòng tiền", Detail: "Rà soát các khoản chi lớn."},
			{ActionID: "buffer_build", Title: "Xây quỹ dự phòng", Detail: "Trích thu nhập hàng tháng."},
		},
		Assumptions: []string{"Thu nhập không đổi."},
		Limitations: []string{},
		Disclaimer:  "Thông tin chỉ mang tính giáo dục.",
		UsedFactIDs: []string{"spend.total.30d", "spend.net_cashflow.30d", "forecast.runway.months"},
		InsightIDs:  []string{"cashflow_pressure"},
		ActionIDs:   []string{"stabilize_cashflow", "buffer_build"},
	}
	raw, err := json.Marshal(plan)
	require.NoError(t, err)
	return string(raw)
}

func summaryPlane() *fakePlane {
	return &fakePlane{
		tools: []gateway.ToolInfo{
			{Name: "fin___spend_analytics_v1"},
			{Name: "fin___cashflow_forecast_v1"},
			{Name: "fin___jar_allocation_suggest_v1"},
			{Name: "fin___suitability_guard_v1"},
		},
		replies: map[string]string{
			"fin___spend_analytics_v1":      envelope(`"total_spend":12500000,"net_cashflow":-1200000`),
			"fin___cashflow_forecast_v1":    envelope(`"avg_net_p50":-350000,"runway_months":2.5`),
			"fin___jar_allocation_suggest_v1": envelope(`"jars":[{"name":"essentials","ratio":0.55,"amount":6875000}]`),
			"fin___suitability_guard_v1":    envelope(`"allow":false,"decision":"out_of_scope_refusal"`),
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Router: config.Router{
			Mode:                config.RouterModeRule,
			IntentConfMin:       0.70,
			Top2GapMin:          0.15,
			ScenarioConfMin:     0.75,
			MaxClarifyQuestions: 2,
		},
		Response: config.Response{
			Mode:       config.ResponseModeLLMEnforce,
			MaxRetries: 1,
		},
		Transport: config.Transport{
			AgentTimeout:         30 * time.Second,
			ToolExecutionTimeout: 5 * time.Second,
		},
		Signals: config.Signals{
			OverspendHigh:         0.35,
			RunwayLowMonths:       3.0,
			VolatilityHigh:        0.35,
			AnomalyRecentMinFlags: 1,
		},
	}
}

func newEngine(t *testing.T, plane *fakePlane, llmReplies map[string][]string) *Engine {
	t.Helper()
	cfg := testConfig()
	provider := &scriptedLLM{byVersion: llmReplies}

	registry := gateway.NewRegistry(plane)
	_, err := registry.Initialize(context.Background())
	require.NoError(t, err)

	return NewEngine(
		cfg,
		encoding.New(encoding.Config{}),
		router.New(router.NewExtractor(provider), cfg.Router),
		NewScheduler(registry, 4, cfg.Transport.ToolExecutionTimeout),
		synth.NewSynthesizer(provider, cfg.Response.MaxRetries),
		audit.NewRecorder("", nil),
	)
}

func TestRunSummaryHappyPath(t *testing.T) {
	plane := summaryPlane()
	eng := newEngine(t, plane, map[string][]string{
		"intent_extraction_v1": {summaryExtraction()},
		"answer_synth_v2":      {summaryPlan(t)},
	})

	out, err := eng.Run(context.Background(), Request{
		TraceID: "t-1",
		UserID:  "u-1",
		Turn:    "Tóm tắt chi tiêu tháng này giúp mình",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswer, out.Kind)
	assert.Equal(t, router.IntentSummary, out.Intent)
	require.NotNil(t, out.Body)
	assert.False(t, out.Body.Fallback)
	assert.Contains(t, out.Body.Body, "12.500.000 VND")
	assert.Contains(t, out.Body.Body, "**Tổng Quan Chính**")
	assert.Contains(t, out.Citations(), "spend.total.30d")

	// All three bundle tools were called with their prefixed names, each
	// carrying the caller's identity.
	assert.Len(t, plane.calls, 3)
	assert.Contains(t, plane.calls, "fin___spend_analytics_v1")
	for _, meta := range plane.metas {
		assert.Equal(t, "u-1", meta.UserID)
	}

	// cashflow_pressure fired: net < 0 and runway 2.5 < 3.
	var ids []string
	for _, ins := range out.Insights {
		ids = append(ids, ins.InsightID)
	}
	assert.Contains(t, ids, "cashflow_pressure")
}

func TestRunMojibakeRetryPrompt(t *testing.T) {
	eng := newEngine(t, summaryPlane(), nil)

	out, err := eng.Run(context.Background(), Request{
		TraceID: "t-2",
		Turn:    "T�\x01m t�\x01t chi ti�\x01u �\x01�\x01�\x01�\x01",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeRetryPrompt, out.Kind)
	assert.Contains(t, out.Body.ReasonCodes, "mojibake_failfast")
	assert.Contains(t, out.Body.Body, "gửi lại")
}

func TestRunClarify(t *testing.T) {
	extraction := `{"intent":"summary","confidence":0.4,"domain_relevance":0.9,` +
		`"top2":[{"intent":"summary","confidence":0.4},{"intent":"planning","confidence":0.35}],` +
		`"slots":{},"scenario_confidence":0,"reason":"generic_intent"}`
	eng := newEngine(t, summaryPlane(), map[string][]string{
		"intent_extraction_v1": {extraction},
	})

	out, err := eng.Run(context.Background(), Request{TraceID: "t-3", Turn: "giúp tôi với"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeClarify, out.Kind)
	assert.NotEmpty(t, out.Question)
	assert.Nil(t, out.Body)
}

func TestRunOutOfScopeRefusal(t *testing.T) {
	extraction := `{"intent":"out_of_scope","confidence":0.95,"domain_relevance":0.05,` +
		`"top2":[{"intent":"out_of_scope","confidence":0.95},{"intent":"summary","confidence":0.02}],` +
		`"slots":{},"scenario_confidence":0,"reason":""}`
	plane := summaryPlane()
	eng := newEngine(t, plane, map[string][]string{
		"intent_extraction_v1": {extraction},
	})

	out, err := eng.Run(context.Background(), Request{TraceID: "t-4", Turn: "thời tiết hôm nay thế nào"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeRefusal, out.Kind)
	assert.Equal(t, router.IntentOutOfScope, out.Intent)
	assert.Contains(t, out.Body.Body, "tài chính cá nhân")
	assert.Contains(t, plane.calls, "fin___suitability_guard_v1")
}

func TestRunSynthesisFallsBackToFactsOnly(t *testing.T) {
	eng := newEngine(t, summaryPlane(), map[string][]string{
		"intent_extraction_v1": {summaryExtraction()},
		"answer_synth_v2":      {"this is not json at all"},
	})

	out, err := eng.Run(context.Background(), Request{TraceID: "t-5", Turn: "Tóm tắt chi tiêu"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswer, out.Kind)
	assert.True(t, out.Body.Fallback)
	assert.Equal(t, "facts_only_compact", out.Body.Mode)
	// Facts still rendered verbatim.
	assert.Contains(t, out.Body.Body, "12.500.000 VND")
}

func TestSchedulerUnsetLimitRunsWholeBundle(t *testing.T) {
	plane := summaryPlane()
	registry := gateway.NewRegistry(plane)
	_, err := registry.Initialize(context.Background())
	require.NoError(t, err)

	s := NewScheduler(registry, 0, time.Second)
	bundle := []string{"spend_analytics_v1", "cashflow_forecast_v1", "jar_allocation_suggest_v1"}
	results := s.Run(context.Background(), bundle, router.IntentSummary, "tóm tắt chi tiêu", router.Slots{}, gateway.CallMeta{})

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "ok", r.Status)
	}
}

func TestRunTemplateModeSkipsLLM(t *testing.T) {
	plane := summaryPlane()
	cfg := testConfig()
	cfg.Response.Mode = config.ResponseModeTemplate
	provider := &scriptedLLM{byVersion: map[string][]string{
		"intent_extraction_v1": {summaryExtraction()},
	}}

	registry := gateway.NewRegistry(plane)
	_, err := registry.Initialize(context.Background())
	require.NoError(t, err)

	eng := NewEngine(
		cfg,
		encoding.New(encoding.Config{}),
		router.New(router.NewExtractor(provider), cfg.Router),
		NewScheduler(registry, 4, cfg.Transport.ToolExecutionTimeout),
		synth.NewSynthesizer(provider, 1),
		audit.NewRecorder("", nil),
	)

	out, err := eng.Run(context.Background(), Request{TraceID: "t-6", Turn: "Tóm tắt chi tiêu"})
	require.NoError(t, err)

	assert.Equal(t, "facts_only_compact", out.Body.Mode)
	assert.False(t, out.Body.Fallback)
	// The synthesis contract was never invoked.
	assert.Zero(t, provider.counts["answer_synth_v2"])
}
