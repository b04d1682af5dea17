package advisory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thphuc06/finagent/pkg/config"
	"github.com/thphuc06/finagent/pkg/evidence"
	"github.com/thphuc06/finagent/pkg/gateway"
)

func defaultSignals() config.Signals {
	return config.Signals{
		OverspendHigh:         0.35,
		RunwayLowMonths:       3.0,
		VolatilityHigh:        0.35,
		AnomalyRecentMinFlags: 1,
	}
}

func packFrom(results []evidence.ToolResult) *evidence.Pack {
	return evidence.Build(results, nil, "vi", nil)
}

func spendResult(net, volatility, overspend float64) evidence.ToolResult {
	return evidence.ToolResult{
		Tool: "spend_analytics_v1",
		Args: map[string]any{"range": "30d"},
		Env: &gateway.Envelope{
			SQLSnapshotTS: "2026-08-22T00:00:00Z",
			Payload: map[string]any{
				"net_cashflow":          net,
				"volatility":            volatility,
				"overspend_vs_baseline": overspend,
			},
		},
	}
}

func TestCashflowPressureInsight(t *testing.T) {
	pack := packFrom([]evidence.ToolResult{
		spendResult(-2000000, 0.1, 0.05),
		{
			Tool: "cashflow_forecast_v1",
			Args: map[string]any{"horizon": "daily_30"},
			Env: &gateway.Envelope{
				SQLSnapshotTS: "2026-08-22T00:00:00Z",
				Payload:       map[string]any{"runway_months": 2.0},
			},
		},
	})

	insights := DeriveInsights(pack, "summary", defaultSignals())
	require.Len(t, insights, 1)
	assert.Equal(t, "cashflow_pressure", insights[0].InsightID)
	assert.Equal(t, "critical", insights[0].Severity)
	assert.Contains(t, insights[0].SupportingFacts, "spend.net_cashflow.30d")
	assert.Contains(t, insights[0].SupportingFacts, "forecast.runway.months")
}

func TestNoPressureWhenRunwayHealthy(t *testing.T) {
	pack := packFrom([]evidence.ToolResult{
		spendResult(-2000000, 0.1, 0.05),
		{
			Tool: "cashflow_forecast_v1",
			Args: map[string]any{"horizon": "daily_30"},
			Env: &gateway.Envelope{
				SQLSnapshotTS: "2026-08-22T00:00:00Z",
				Payload:       map[string]any{"runway_months": 6.0},
			},
		},
	})

	insights := DeriveInsights(pack, "summary", defaultSignals())
	assert.Empty(t, insights)
}

func TestSpendAnomalyThresholds(t *testing.T) {
	// Volatility crosses the bar on its own.
	pack := packFrom([]evidence.ToolResult{spendResult(100, 0.4, 0.1)})
	insights := DeriveInsights(pack, "risk", defaultSignals())
	require.Len(t, insights, 1)
	assert.Equal(t, "spend_anomaly", insights[0].InsightID)
	assert.Equal(t, []string{"spend.volatility.30d"}, insights[0].SupportingFacts)

	// Below every bar: nothing fires.
	pack = packFrom([]evidence.ToolResult{spendResult(100, 0.1, 0.1)})
	assert.Empty(t, DeriveInsights(pack, "summary", defaultSignals()))
}

func TestEducationOnlyFromSuitability(t *testing.T) {
	pack := packFrom([]evidence.ToolResult{{
		Tool: "suitability_guard_v1",
		Env: &gateway.Envelope{
			SQLSnapshotTS: "2026-08-22T00:00:00Z",
			Payload:       map[string]any{"allow": false, "decision": "refuse_execution"},
		},
	}})

	insights := DeriveInsights(pack, "invest", defaultSignals())
	var ids []string
	for _, ins := range insights {
		ids = append(ids, ins.InsightID)
	}
	assert.Contains(t, ids, "education_only")
}

func TestDataGapFromToolStatuses(t *testing.T) {
	pack := packFrom([]evidence.ToolResult{
		{Tool: "goal_feasibility_v1", Status: "timeout"},
		spendResult(100, 0.1, 0.1),
	})

	insights := DeriveInsights(pack, "planning", defaultSignals())
	require.Len(t, insights, 1)
	assert.Equal(t, "data_gap", insights[0].InsightID)
	assert.Equal(t, []string{"tool_status.goal_feasibility_v1"}, insights[0].SupportingFacts)
}

func TestDeriveActionsOrderingAndDedup(t *testing.T) {
	insights := []Insight{
		{InsightID: "jar_focus"},
		{InsightID: "cashflow_pressure"},
		{InsightID: "spend_anomaly"},
	}

	actions := DeriveActions(insights, "summary")

	var ids []string
	for _, a := range actions {
		ids = append(ids, a.ActionID)
	}
	assert.Equal(t, []string{
		"stabilize_cashflow",  // 10 confirm
		"buffer_build",        // 20 auto
		"review_anomaly",      // 20 confirm, ties broken by id
		"jar_optimize",        // 30
		"review_budget_weekly", // 60 baseline
	}, ids)

	assert.Equal(t, HITLConfirm, actions[0].HITL)
	assert.Equal(t, HITLAuto, actions[1].HITL)
}

func TestDeriveActionsRiskAppetiteCapture(t *testing.T) {
	actions := DeriveActions(nil, "risk")

	require.NotEmpty(t, actions)
	assert.Equal(t, "capture_risk_appetite", actions[0].ActionID)
	assert.Equal(t, 8, actions[0].Priority)

	// With a known band the capture action is skipped.
	actions = DeriveActions([]Insight{{InsightID: "risk_preference_medium"}}, "risk")
	for _, a := range actions {
		assert.NotEqual(t, "capture_risk_appetite", a.ActionID)
	}
}

func TestEducationOnlyGuardRanksFirst(t *testing.T) {
	actions := DeriveActions([]Insight{
		{InsightID: "education_only"},
		{InsightID: "cashflow_pressure"},
	}, "invest")

	require.NotEmpty(t, actions)
	assert.Equal(t, "education_only_guard", actions[0].ActionID)
	assert.Equal(t, HITLBlock, actions[0].HITL)
}
