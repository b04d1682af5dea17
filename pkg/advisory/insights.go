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

// Package advisory derives insights and candidate actions from an evidence
// pack. Rules are deterministic; the only tunables come from config.Signals.
package advisory

import (
	"math"
	"sort"
	"strings"

	"github.com/thphuc06/finagent/pkg/config"
	"github.com/thphuc06/finagent/pkg/evidence"
)

// Insight is a derived condition over the evidence pack. SupportingFacts
// holds the fact ids that triggered it, in evaluation order.
type Insight struct {
	InsightID       string   `json:"insight_id"`
	Severity        string   `json:"severity"` // info, warn, critical
	SupportingFacts []string `json:"supporting_facts"`
}

// DeriveInsights evaluates the insight rules against the pack. intent is
// the routed intent; it gates the policy insights.
func DeriveInsights(pack *evidence.Pack, intent string, sig config.Signals) []Insight {
	var out []Insight
	add := func(id, severity string, facts ...string) {
		out = append(out, Insight{InsightID: id, Severity: severity, SupportingFacts: facts})
	}

	if net, runway, ok := cashflowPressure(pack, sig); ok {
		add("cashflow_pressure", "critical", net, runway)
	}
	if facts, ok := spendAnomaly(pack, sig); ok {
		add("spend_anomaly", "warn", facts...)
	}
	if gap, ok := findPrefix(pack, "goal.gap_amount"); ok && factFloat(pack, gap) > 0 {
		add("goal_gap", "warn", gap)
	}
	if id, ok := pack.Get("scenario.best_variant.delta"); ok {
		if asFloat(id.Value) > 0 {
			add("scenario_upside", "info", "scenario.best_variant.id", "scenario.best_variant.delta")
		} else {
			add("scenario_no_upside", "warn", "scenario.best_variant.id", "scenario.best_variant.delta")
		}
	}
	if name, ok := findPrefix(pack, "jar.top.name"); ok {
		add("jar_focus", "info", name)
	}
	if band, ok := findPrefix(pack, "risk.band."); ok {
		if f, found := pack.Get(band); found {
			if s, isStr := f.Value.(string); isStr {
				add("risk_preference_"+s, "info", band)
			}
		}
	}
	if facts, ok := dataGap(pack); ok {
		add("data_gap", "warn", facts...)
	}
	if educationOnly(pack, intent) {
		add("education_only", "critical", "policy.suitability.allow")
	}

	return out
}

func cashflowPressure(pack *evidence.Pack, sig config.Signals) (netID, runwayID string, ok bool) {
	netID, found := findPrefix(pack, "spend.net_cashflow.")
	if !found {
		return "", "", false
	}
	if factFloat(pack, netID) >= 0 {
		return "", "", false
	}
	runwayID = "forecast.runway.months"
	runway, found := pack.Get(runwayID)
	if !found {
		runwayID, found = findPrefix(pack, "risk.runway_months.")
		if !found {
			return "", "", false
		}
		runway, _ = pack.Get(runwayID)
	}
	r := asFloat(runway.Value)
	if r > 0 && r < sig.RunwayLowMonths {
		return netID, runwayID, true
	}
	return "", "", false
}

func spendAnomaly(pack *evidence.Pack, sig config.Signals) ([]string, bool) {
	var facts []string
	if id, ok := findPrefix(pack, "anomaly.flag_count."); ok {
		if int(factFloat(pack, id)) >= sig.AnomalyRecentMinFlags && sig.AnomalyRecentMinFlags > 0 {
			facts = append(facts, id)
		}
	}
	if id, ok := findPrefix(pack, "spend.volatility."); ok {
		if math.Abs(factFloat(pack, id)) >= sig.VolatilityHigh {
			facts = append(facts, id)
		}
	}
	if id, ok := findPrefix(pack, "spend.overspend_vs_baseline."); ok {
		if math.Abs(factFloat(pack, id)) >= sig.OverspendHigh {
			facts = append(facts, id)
		}
	}
	return facts, len(facts) > 0
}

func dataGap(pack *evidence.Pack) ([]string, bool) {
	var tools []string
	for tool, status := range pack.ToolStatuses {
		if status == "ok" {
			continue
		}
		tools = append(tools, tool)
	}
	if len(tools) == 0 && !pack.InsufficientFacts {
		return nil, false
	}
	// Supporting facts reference tool statuses, not pack facts.
	facts := make([]string, 0, len(tools))
	for _, tool := range sortedStrings(tools) {
		facts = append(facts, "tool_status."+tool)
	}
	return facts, true
}

func educationOnly(pack *evidence.Pack, intent string) bool {
	if intent == "invest" || intent == "out_of_scope" {
		return true
	}
	if f, ok := pack.Get("policy.suitability.allow"); ok {
		if allow, isBool := f.Value.(bool); isBool && !allow {
			return true
		}
	}
	return false
}

// findPrefix returns the first fact id (pack order) starting with prefix.
func findPrefix(pack *evidence.Pack, prefix string) (string, bool) {
	for i := range pack.Facts {
		if strings.HasPrefix(pack.Facts[i].FactID, prefix) {
			return pack.Facts[i].FactID, true
		}
	}
	return "", false
}

func factFloat(pack *evidence.Pack, id string) float64 {
	f, ok := pack.Get(id)
	if !ok {
		return 0
	}
	return asFloat(f.Value)
}

func asFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return 0
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
