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

package evidence

import (
	"fmt"
	"sort"
	"time"

	"github.com/thphuc06/finagent/pkg/gateway"
)

// ToolResult is the outcome of one tool call as seen by the pack builder.
// Exactly one of Env or Err is set for completed calls; Status carries the
// scheduler verdict ("ok", "timeout", "error") or the envelope status.
type ToolResult struct {
	Tool   string
	Args   map[string]any
	Env    *gateway.Envelope
	Err    error
	Status string
}

// flagPriority orders anomaly flag reasons so flag_reason.0 is always the
// most material one regardless of tool output order.
var flagPriority = map[string]int{
	"change_point":     0,
	"overspend":        1,
	"volatility_shift": 2,
	"recurring_break":  3,
	"forecast_deficit": 4,
	"goal_risk":        5,
	"low_balance_risk": 6,
}

// Build projects tool results and router slots into an evidence pack.
// requiredPrefixes lists the fact-id prefixes the current intent cannot
// answer without; when any is missing the pack is marked insufficient.
func Build(results []ToolResult, slots map[string]any, lang string, requiredPrefixes []string) *Pack {
	f := NewFormatter(lang)
	p := &Pack{ToolStatuses: make(map[string]string, len(results))}
	p.byID = make(map[string]*Fact)

	for _, res := range results {
		status := res.Status
		if status == "" {
			status = "ok"
		}
		p.ToolStatuses[res.Tool] = status

		if res.Env == nil {
			continue
		}
		p.observeFreshness(res.Env.SQLSnapshotTS)
		if res.Env.Insufficient() {
			p.ToolStatuses[res.Tool] = res.Env.Status
			continue
		}

		switch res.Tool {
		case "spend_analytics_v1":
			p.addSpendFacts(f, res)
		case "cashflow_forecast_v1":
			p.addForecastFacts(f, res)
		case "anomaly_signals_v1":
			p.addAnomalyFacts(f, res)
		case "risk_profile_non_investment_v1":
			p.addRiskFacts(f, res)
		case "jar_allocation_suggest_v1":
			p.addJarFacts(f, res)
		case "recurring_cashflow_detect_v1":
			p.addRecurringFacts(f, res)
		case "goal_feasibility_v1":
			p.addGoalFacts(f, res)
		case "what_if_scenario_v1":
			p.addScenarioFacts(f, res)
		case "suitability_guard_v1":
			p.addSuitabilityFacts(f, res)
		}
	}

	p.addSlotFacts(f, slots)

	for _, prefix := range requiredPrefixes {
		if !p.Has(prefix) {
			p.InsufficientFacts = true
			break
		}
	}
	p.reindex()
	return p
}

func (p *Pack) observeFreshness(ts string) {
	if ts == "" {
		return
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return
	}
	if p.FreshnessMin == "" || ts < p.FreshnessMin {
		p.FreshnessMin = ts
	}
	if p.FreshnessMax == "" || ts > p.FreshnessMax {
		p.FreshnessMax = ts
	}
}

func (p *Pack) addSpendFacts(f *Formatter, res ToolResult) {
	tf := argString(res.Args, "range")
	pay := res.Env.Payload

	if v, ok := num(pay, "total_spend"); ok {
		p.add(Fact{
			FactID: FactID("spend", "total", tf), Label: label(f.lang, "spend.total"),
			Value: v, ValueText: f.Money(v), Unit: "VND", Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "total_spend",
		})
	}
	if v, ok := num(pay, "net_cashflow"); ok {
		p.add(Fact{
			FactID: FactID("spend", "net_cashflow", tf), Label: label(f.lang, "spend.net_cashflow"),
			Value: v, ValueText: f.Money(v), Unit: "VND", Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "net_cashflow",
		})
	}
	if cats, ok := pay["top_categories"].([]any); ok && len(cats) > 0 {
		if top, ok := cats[0].(map[string]any); ok {
			if name, ok := top["name"].(string); ok {
				p.add(Fact{
					FactID: FactID("spend", "top_category.name", tf), Label: label(f.lang, "spend.top_category.name"),
					Value: name, ValueText: name, Timeframe: tf,
					SourceTool: res.Tool, SourcePath: "top_categories.0.name",
				})
			}
			if ratio, ok := num(top, "ratio"); ok {
				p.add(Fact{
					FactID: FactID("spend", "top_category.ratio", tf), Label: label(f.lang, "spend.top_category.ratio"),
					Value: ratio, ValueText: f.Percent(ratio), Unit: "%", Timeframe: tf,
					SourceTool: res.Tool, SourcePath: "top_categories.0.ratio",
				})
			}
		}
	}
	if v, ok := num(pay, "overspend_vs_baseline"); ok {
		p.add(Fact{
			FactID: FactID("spend", "overspend_vs_baseline", tf), Label: label(f.lang, "spend.overspend_vs_baseline"),
			Value: v, ValueText: f.Percent(v), Unit: "%", Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "overspend_vs_baseline",
		})
	}
	if v, ok := num(pay, "volatility"); ok {
		p.add(Fact{
			FactID: FactID("spend", "volatility", tf), Label: label(f.lang, "spend.volatility"),
			Value: v, ValueText: f.Number(v), Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "volatility",
		})
	}
}

func (p *Pack) addForecastFacts(f *Formatter, res ToolResult) {
	h := argString(res.Args, "horizon")
	pay := res.Env.Payload

	if v, ok := num(pay, "avg_net_p50"); ok {
		p.add(Fact{
			FactID: FactID("forecast", "avg_net_p50", h), Label: label(f.lang, "forecast.avg_net_p50"),
			Value: v, ValueText: f.Money(v), Unit: "VND", Timeframe: h,
			SourceTool: res.Tool, SourcePath: "avg_net_p50",
		})
	}
	if v, ok := num(pay, "runway_months"); ok {
		p.add(Fact{
			FactID: "forecast.runway.months", Label: label(f.lang, "forecast.runway"),
			Value: v, ValueText: f.Months(v), Unit: "months", Timeframe: h,
			SourceTool: res.Tool, SourcePath: "runway_months",
		})
	}
}

func (p *Pack) addAnomalyFacts(f *Formatter, res ToolResult) {
	tf := lookbackDays(res.Args, 90)
	pay := res.Env.Payload

	flags := flagReasons(pay)
	p.add(Fact{
		FactID: FactID("anomaly", "flag_count", tf), Label: label(f.lang, "anomaly.flag_count"),
		Value: float64(len(flags)), ValueText: f.Number(float64(len(flags))), Timeframe: tf,
		SourceTool: res.Tool, SourcePath: "flags",
	})
	for i, reason := range flags {
		p.add(Fact{
			FactID: FactID("anomaly", fmt.Sprintf("flag_reason.%d", i), tf), Label: label(f.lang, "anomaly.flag_reason"),
			Value: reason, ValueText: reason, Timeframe: tf,
			SourceTool: res.Tool, SourcePath: fmt.Sprintf("flags.%d.reason", i),
		})
	}
	if cp, ok := pay["latest_change_point"].(string); ok && cp != "" {
		p.add(Fact{
			FactID: FactID("anomaly", "latest_change_point", tf), Label: label(f.lang, "anomaly.latest_change_point"),
			Value: cp, ValueText: cp, Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "latest_change_point",
		})
	}
}

func (p *Pack) addRiskFacts(f *Formatter, res ToolResult) {
	tf := lookbackDays(res.Args, 180)
	pay := res.Env.Payload

	if v, ok := num(pay, "runway_months"); ok {
		p.add(Fact{
			FactID: FactID("risk", "runway_months", tf), Label: label(f.lang, "risk.runway_months"),
			Value: v, ValueText: f.Months(v), Unit: "months", Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "runway_months",
		})
	}
	if band, ok := pay["band"].(string); ok && band != "" {
		p.add(Fact{
			FactID: FactID("risk", "band", tf), Label: label(f.lang, "risk.band"),
			Value: band, ValueText: localizeBand(f.lang, band), Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "band",
		})
	}
}

func (p *Pack) addJarFacts(f *Formatter, res ToolResult) {
	jars, ok := res.Env.Payload["jars"].([]any)
	if !ok || len(jars) == 0 {
		return
	}
	top, ok := jars[0].(map[string]any)
	if !ok {
		return
	}
	if name, ok := top["name"].(string); ok {
		p.add(Fact{
			FactID: "jar.top.name", Label: label(f.lang, "jar.top.name"),
			Value: name, ValueText: name,
			SourceTool: res.Tool, SourcePath: "jars.0.name",
		})
	}
	if ratio, ok := num(top, "ratio"); ok {
		p.add(Fact{
			FactID: "jar.top.ratio", Label: label(f.lang, "jar.top.ratio"),
			Value: ratio, ValueText: f.Percent(ratio), Unit: "%",
			SourceTool: res.Tool, SourcePath: "jars.0.ratio",
		})
	}
	if amount, ok := num(top, "amount"); ok {
		p.add(Fact{
			FactID: "jar.top.amount", Label: label(f.lang, "jar.top.amount"),
			Value: amount, ValueText: f.Money(amount), Unit: "VND",
			SourceTool: res.Tool, SourcePath: "jars.0.amount",
		})
	}
}

func (p *Pack) addRecurringFacts(f *Formatter, res ToolResult) {
	tf := lookbackMonths(res.Args, 6)
	items, ok := res.Env.Payload["recurring"].([]any)
	if !ok || len(items) == 0 {
		return
	}
	top, ok := items[0].(map[string]any)
	if !ok {
		return
	}
	if id, ok := top["category_id"].(string); ok {
		p.add(Fact{
			FactID: FactID("recurring", "top_category.id", tf), Label: label(f.lang, "recurring.top_category.id"),
			Value: id, ValueText: id, Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "recurring.0.category_id",
		})
	}
	if amount, ok := num(top, "monthly_amount"); ok {
		p.add(Fact{
			FactID: FactID("recurring", "top_category.amount", tf), Label: label(f.lang, "recurring.top_category.amount"),
			Value: amount, ValueText: f.Money(amount), Unit: "VND", Timeframe: tf,
			SourceTool: res.Tool, SourcePath: "recurring.0.monthly_amount",
		})
	}
}

func (p *Pack) addGoalFacts(f *Formatter, res ToolResult) {
	pay := res.Env.Payload
	if v, ok := num(pay, "gap_amount"); ok {
		p.add(Fact{
			FactID: "goal.gap_amount", Label: label(f.lang, "goal.gap_amount"),
			Value: v, ValueText: f.Money(v), Unit: "VND",
			SourceTool: res.Tool, SourcePath: "gap_amount",
		})
	}
	if v, ok := pay["feasible"].(bool); ok {
		p.add(Fact{
			FactID: "goal.feasible", Label: label(f.lang, "goal.feasible"),
			Value: v, ValueText: f.Bool(v),
			SourceTool: res.Tool, SourcePath: "feasible",
		})
	}
	if v, ok := num(pay, "required_monthly"); ok {
		p.add(Fact{
			FactID: "goal.required_monthly", Label: label(f.lang, "goal.required_monthly"),
			Value: v, ValueText: f.Money(v), Unit: "VND",
			SourceTool: res.Tool, SourcePath: "required_monthly",
		})
	}
}

func (p *Pack) addScenarioFacts(f *Formatter, res ToolResult) {
	best, ok := res.Env.Payload["best_variant"].(map[string]any)
	if !ok {
		return
	}
	if id, ok := best["id"].(string); ok {
		p.add(Fact{
			FactID: "scenario.best_variant.id", Label: label(f.lang, "scenario.best_variant.id"),
			Value: id, ValueText: id,
			SourceTool: res.Tool, SourcePath: "best_variant.id",
		})
	}
	if delta, ok := num(best, "delta"); ok {
		p.add(Fact{
			FactID: "scenario.best_variant.delta", Label: label(f.lang, "scenario.best_variant.delta"),
			Value: delta, ValueText: f.Money(delta), Unit: "VND",
			SourceTool: res.Tool, SourcePath: "best_variant.delta",
		})
	}
}

func (p *Pack) addSuitabilityFacts(f *Formatter, res ToolResult) {
	pay := res.Env.Payload
	if allow, ok := pay["allow"].(bool); ok {
		p.add(Fact{
			FactID: "policy.suitability.allow", Label: label(f.lang, "policy.suitability.allow"),
			Value: allow, ValueText: f.Bool(allow),
			SourceTool: res.Tool, SourcePath: "allow",
		})
	}
	if decision, ok := pay["decision"].(string); ok && decision != "" {
		p.add(Fact{
			FactID: "policy.suitability.decision", Label: label(f.lang, "policy.suitability.decision"),
			Value: decision, ValueText: decision,
			SourceTool: res.Tool, SourcePath: "decision",
		})
	}
}

// addSlotFacts exposes router slots as citable facts so the answer can
// restate what the user asked for without inventing numbers.
func (p *Pack) addSlotFacts(f *Formatter, slots map[string]any) {
	if len(slots) == 0 {
		return
	}
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := slots[k]
		if v == nil {
			continue
		}
		unit := ""
		switch k {
		case "goal_amount", "delta":
			unit = "VND"
		case "horizon":
			unit = "months"
		}
		text := f.Value(v, unit)
		if text == "" {
			continue
		}
		p.add(Fact{
			FactID: "slot." + k, Label: label(f.lang, "slot"),
			Value: v, ValueText: text, Unit: unit,
			SourceTool: "router", SourcePath: "slots." + k,
		})
	}
}

func flagReasons(pay map[string]any) []string {
	raw, ok := pay["flags"].([]any)
	if !ok {
		return nil
	}
	reasons := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			reasons = append(reasons, v)
		case map[string]any:
			if r, ok := v["reason"].(string); ok {
				reasons = append(reasons, r)
			}
		}
	}
	sort.SliceStable(reasons, func(i, j int) bool {
		return flagRank(reasons[i]) < flagRank(reasons[j])
	})
	return reasons
}

func flagRank(reason string) int {
	if rank, ok := flagPriority[reason]; ok {
		return rank
	}
	return len(flagPriority)
}

func num(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func lookbackDays(args map[string]any, def int) string {
	if v, ok := num(args, "lookback_days"); ok {
		return fmt.Sprintf("%dd", int(v))
	}
	return fmt.Sprintf("%dd", def)
}

func lookbackMonths(args map[string]any, def int) string {
	if v, ok := num(args, "lookback_months"); ok {
		return fmt.Sprintf("%dm", int(v))
	}
	return fmt.Sprintf("%dm", def)
}

func localizeBand(lang, band string) string {
	if lang != "vi" {
		return band
	}
	switch band {
	case "low":
		return "thấp"
	case "medium":
		return "trung bình"
	case "high":
		return "cao"
	}
	return band
}

var labels = map[string][2]string{
	// [vi, en]
	"spend.total":              {"Tổng chi tiêu", "Total spend"},
	"spend.net_cashflow":       {"Dòng tiền ròng", "Net cashflow"},
	"spend.top_category.name":  {"Nhóm chi lớn nhất", "Top spending category"},
	"spend.top_category.ratio": {"Tỷ trọng nhóm chi lớn nhất", "Top category share"},
	"spend.overspend_vs_baseline": {"Chi vượt so với nền", "Overspend vs baseline"},
	"spend.volatility":            {"Biến động chi tiêu", "Spend volatility"},
	"forecast.avg_net_p50":        {"Dòng tiền ròng dự báo (p50)", "Forecast net cashflow (p50)"},
	"forecast.runway":             {"Số tháng trụ được", "Cash runway"},
	"anomaly.flag_count":          {"Số tín hiệu bất thường", "Anomaly flag count"},
	"anomaly.flag_reason":         {"Lý do bất thường", "Anomaly reason"},
	"anomaly.latest_change_point": {"Điểm thay đổi gần nhất", "Latest change point"},
	"risk.runway_months":          {"Số tháng trụ được", "Cash runway"},
	"risk.band":                   {"Mức chịu rủi ro dòng tiền", "Cashflow risk band"},
	"jar.top.name":                {"Hũ ưu tiên", "Priority jar"},
	"jar.top.ratio":               {"Tỷ lệ hũ ưu tiên", "Priority jar ratio"},
	"jar.top.amount":              {"Số tiền hũ ưu tiên", "Priority jar amount"},
	"recurring.top_category.id":   {"Khoản định kỳ lớn nhất", "Top recurring category"},
	"recurring.top_category.amount": {"Số tiền định kỳ hàng tháng", "Monthly recurring amount"},
	"goal.gap_amount":               {"Khoảng cách mục tiêu", "Goal gap"},
	"goal.feasible":                 {"Khả thi", "Feasible"},
	"goal.required_monthly":         {"Cần tiết kiệm mỗi tháng", "Required monthly saving"},
	"scenario.best_variant.id":      {"Phương án tốt nhất", "Best scenario variant"},
	"scenario.best_variant.delta":   {"Chênh lệch phương án tốt nhất", "Best variant delta"},
	"policy.suitability.allow":      {"Được phép tư vấn", "Advice permitted"},
	"policy.suitability.decision":   {"Quyết định phù hợp", "Suitability decision"},
	"slot":                          {"Thông tin yêu cầu", "Requested input"},
}

func label(lang, key string) string {
	pair, ok := labels[key]
	if !ok {
		return key
	}
	if lang == "en" {
		return pair[1]
	}
	return pair[0]
}
