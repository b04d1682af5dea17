package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thphuc06/finagent/pkg/config"
	"github.com/thphuc06/finagent/pkg/llm"
)

type scriptedProvider struct {
	replies []string
	calls   int
	lastReq llm.Request
}

func (s *scriptedProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.lastReq = req
	reply := s.replies[s.calls%len(s.replies)]
	s.calls++
	return reply, nil
}

func routerCfg() config.Router {
	return config.Router{
		Mode:                config.RouterModeRule,
		IntentConfMin:       0.70,
		Top2GapMin:          0.15,
		ScenarioConfMin:     0.75,
		MaxClarifyQuestions: 2,
	}
}

func extraction(intent string, conf float64) *IntentExtraction {
	return &IntentExtraction{
		Intent:          intent,
		Confidence:      conf,
		DomainRelevance: 0.9,
		Top2: []IntentScore{
			{Intent: intent, Confidence: conf},
			{Intent: IntentOutOfScope, Confidence: 0.05},
		},
	}
}

func TestExtractSalvagesFencedJSON(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Here is the classification:\n```json\n" +
			`{"intent":"summary","confidence":0.92,"domain_relevance":0.95,` +
			`"top2":[{"intent":"summary","confidence":0.92},{"intent":"risk","confidence":0.05}],` +
			`"slots":{"timeframe":"30 ngày"},"scenario_confidence":0.0,"reason":""}` +
			"\n```",
	}}

	ext, err := NewExtractor(provider).Extract(context.Background(), "Tóm tắt chi tiêu 30 ngày")
	require.NoError(t, err)
	assert.Equal(t, IntentSummary, ext.Intent)
	assert.Equal(t, "30 ngày", ext.Slots.Timeframe)
	assert.Equal(t, "intent_extraction_v1", provider.lastReq.PromptVersion)
}

func TestExtractRejectsContractViolations(t *testing.T) {
	// top2 must have exactly two entries.
	provider := &scriptedProvider{replies: []string{
		`{"intent":"summary","confidence":0.9,"domain_relevance":0.9,` +
			`"top2":[{"intent":"summary","confidence":0.9}],` +
			`"slots":{},"scenario_confidence":0,"reason":""}`,
	}}

	_, err := NewExtractor(provider).Extract(context.Background(), "x")
	assert.ErrorContains(t, err, "contract violation")
}

func TestDecideRoutesSummaryBundle(t *testing.T) {
	r := New(nil, routerCfg())

	d := r.Decide("tóm tắt chi tiêu tháng này", "vi", extraction(IntentSummary, 0.92), 0)
	assert.Equal(t, DecisionTools, d.Kind)
	assert.Equal(t, IntentSummary, d.Intent)
	assert.Equal(t, []string{"spend_analytics_v1", "cashflow_forecast_v1", "jar_allocation_suggest_v1"}, d.Bundle)
}

func TestDecideAnomalyTermsOverrideToRisk(t *testing.T) {
	r := New(nil, routerCfg())

	d := r.Decide("có khoản nào bất thường trong chi tiêu không", "vi", extraction(IntentSummary, 0.9), 0)
	assert.Equal(t, IntentRisk, d.Intent)
	assert.Contains(t, d.Overrides, "anomaly_terms")
	assert.Contains(t, d.Bundle, "anomaly_signals_v1")
}

func TestDecideOverridesApplyInSemanticEnforce(t *testing.T) {
	cfg := routerCfg()
	cfg.Mode = config.RouterModeSemanticEnforce
	r := New(nil, cfg)

	d := r.Decide("Tháng này bạn kiểm tra giúp có giao dịch lạ không?", "vi", extraction(IntentInvest, 0.9), 0)
	assert.Equal(t, IntentRisk, d.Intent)
	assert.Contains(t, d.Overrides, "anomaly_terms")
	assert.Contains(t, d.Bundle, "anomaly_signals_v1")
}

func TestDecideAnomalyTermMatchesAccentedSpelling(t *testing.T) {
	r := New(nil, routerCfg())

	// "giao dịch lạ" hits the stripped term "giao dich la".
	d := r.Decide("có giao dịch lạ nào trong tài khoản không", "vi", extraction(IntentSummary, 0.9), 0)
	assert.Equal(t, IntentRisk, d.Intent)
	assert.Contains(t, d.Overrides, "anomaly_terms")
}

func TestDecideHomeGoalDemotesInvest(t *testing.T) {
	r := New(nil, routerCfg())

	d := r.Decide("Muốn mua nhà 1.5 tỷ trong 5 năm", "vi", extraction(IntentInvest, 0.9), 0)
	assert.Equal(t, IntentPlanning, d.Intent)
	assert.Contains(t, d.Overrides, "home_goal_terms")
	assert.Contains(t, d.Bundle, "goal_feasibility_v1")
}

func TestDecideOptimizeWordingDemotesInvest(t *testing.T) {
	r := New(nil, routerCfg())

	d := r.Decide("giúp tôi tối ưu tài chính cá nhân", "vi", extraction(IntentInvest, 0.85), 0)
	assert.Equal(t, IntentPlanning, d.Intent)
	assert.Contains(t, d.Overrides, "optimize_terms")
}

func TestDecideSavingsDepositDemotesInvest(t *testing.T) {
	r := New(nil, routerCfg())

	d := r.Decide("tôi muốn gửi tiết kiệm kỳ hạn 6 tháng", "vi", extraction(IntentInvest, 0.85), 0)
	assert.Equal(t, IntentPlanning, d.Intent)
	assert.Contains(t, d.Overrides, "savings_deposit_terms")
}

func TestDecideExecutionTermsRouteToInvest(t *testing.T) {
	r := New(nil, routerCfg())

	d := r.Decide("tôi nên mua cổ phiếu nào", "vi", extraction(IntentPlanning, 0.85), 0)
	assert.Equal(t, IntentInvest, d.Intent)
	assert.Equal(t, []string{"suitability_guard_v1", "risk_profile_non_investment_v1"}, d.Bundle)
}

func TestDecideLowDomainRelevanceIsOutOfScope(t *testing.T) {
	r := New(nil, routerCfg())

	ext := extraction(IntentSummary, 0.9)
	ext.DomainRelevance = 0.1
	d := r.Decide("thời tiết hôm nay thế nào", "vi", ext, 0)
	assert.Equal(t, IntentOutOfScope, d.Intent)
	assert.Equal(t, []string{"suitability_guard_v1"}, d.Bundle)
}

func TestDecideLowConfidenceAsksClarify(t *testing.T) {
	r := New(nil, routerCfg())

	ext := extraction(IntentSummary, 0.5)
	ext.Reason = "generic_intent"
	d := r.Decide("giúp tôi với", "vi", ext, 0)
	require.Equal(t, DecisionClarify, d.Kind)
	assert.Equal(t, "generic_intent", d.ClarifyCode)
	assert.NotEmpty(t, d.Question)
}

func TestDecideClarifyBudgetSpent(t *testing.T) {
	r := New(nil, routerCfg())

	ext := extraction(IntentSummary, 0.5)
	d := r.Decide("giúp tôi với", "vi", ext, 2)
	assert.Equal(t, DecisionTools, d.Kind)
}

func TestDecideScenarioMissingSlots(t *testing.T) {
	r := New(nil, routerCfg())

	ext := extraction(IntentScenario, 0.9)
	ext.ScenarioConfidence = 0.9
	d := r.Decide("nếu tôi cắt giảm chi tiêu thì sao", "vi", ext, 0)
	require.Equal(t, DecisionClarify, d.Kind)
	assert.Equal(t, "scenario_horizon", d.ClarifyCode)

	ext.Slots.Horizon = 6
	d = r.Decide("nếu tôi cắt giảm chi tiêu trong 6 tháng thì sao", "vi", ext, 0)
	require.Equal(t, DecisionClarify, d.Kind)
	assert.Equal(t, "scenario_delta_dimension", d.ClarifyCode)

	ext.Slots.Delta = "dining -20%"
	d = r.Decide("nếu tôi giảm ăn uống 20% trong 6 tháng thì sao", "vi", ext, 0)
	assert.Equal(t, DecisionTools, d.Kind)
	assert.Equal(t, []string{"what_if_scenario_v1"}, d.Bundle)
}

func TestDecideTop2GapClarifyCode(t *testing.T) {
	r := New(nil, routerCfg())

	ext := extraction(IntentSummary, 0.8)
	ext.Top2 = []IntentScore{
		{Intent: IntentSummary, Confidence: 0.48},
		{Intent: IntentRisk, Confidence: 0.42},
	}
	d := r.Decide("chi tiêu của tôi ổn không", "vi", ext, 0)
	require.Equal(t, DecisionClarify, d.Kind)
	assert.Equal(t, "summary_vs_risk", d.ClarifyCode)
}

func TestDecideRecurringTermInjectsTool(t *testing.T) {
	r := New(nil, routerCfg())

	d := r.Decide("tóm tắt chi tiêu, kể cả các khoản định kỳ", "vi", extraction(IntentSummary, 0.9), 0)
	assert.Equal(t, DecisionTools, d.Kind)
	assert.Contains(t, d.Bundle, "recurring_cashflow_detect_v1")
	assert.Contains(t, d.Overrides, "recurring_tool_injected")
}

func TestClarifyBankLanguages(t *testing.T) {
	bank := DefaultClarifyBank()
	assert.Contains(t, bank.Question("scenario_horizon", "vi"), "bao lâu")
	assert.Contains(t, bank.Question("scenario_horizon", "en"), "simulation")
	// Unknown codes fall back to the generic question.
	assert.NotEmpty(t, bank.Question("nonexistent", "vi"))
}

func TestTimeframeCalendarPhrases(t *testing.T) {
	restore := now
	now = func() time.Time { return time.Date(2026, time.August, 24, 10, 0, 0, 0, time.UTC) }
	defer func() { now = restore }()

	days, ok := parseTimeframeDays("tháng này")
	require.True(t, ok)
	assert.Equal(t, 24, days)

	days, ok = parseTimeframeDays("last month")
	require.True(t, ok)
	assert.Equal(t, 31, days)

	// Elapsed days of any month still snap to the smallest spend range.
	assert.Equal(t, "30d", SpendRange("this month"))
}

func TestTimeframeParsing(t *testing.T) {
	assert.Equal(t, "30d", SpendRange(""))
	assert.Equal(t, "60d", SpendRange("2 tháng"))
	assert.Equal(t, "90d", SpendRange("3 months"))
	assert.Equal(t, "90d", SpendRange("1 năm"))
	assert.Equal(t, "30d", SpendRange("tháng này"))

	assert.Equal(t, 90, AnomalyLookbackDays(""))
	assert.Equal(t, 365, AnomalyLookbackDays("2 năm"))
	assert.Equal(t, 30, AnomalyLookbackDays("7 ngày"))

	assert.Equal(t, 180, RiskLookbackDays(""))
	assert.Equal(t, 720, RiskLookbackDays("3 năm"))

	assert.Equal(t, 6, RecurringLookbackMonths(""))
	assert.Equal(t, 12, RecurringLookbackMonths("12 tháng"))
	assert.Equal(t, 24, RecurringLookbackMonths("5 năm"))

	assert.Equal(t, "daily_30", ForecastHorizon(0))
	assert.Equal(t, "daily_30", ForecastHorizon(1))
	assert.Equal(t, "weekly_12", ForecastHorizon(6))

	assert.Equal(t, 12, GoalHorizonMonths(0))
	assert.Equal(t, 24, GoalHorizonMonths(36))
}

func TestArgsForSuitability(t *testing.T) {
	args := ArgsFor("suitability_guard_v1", IntentInvest, "tôi nên mua cổ phiếu nào", Slots{RequestedAction: "buy_stock"})
	assert.Equal(t, IntentInvest, args["intent"])
	assert.Equal(t, "buy_stock", args["requested_action"])
	assert.Equal(t, "tôi nên mua cổ phiếu nào", args["prompt"])
}
