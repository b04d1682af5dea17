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

package advisory

import "sort"

// HITL is the human-in-the-loop gate for an action.
type HITL string

const (
	// HITLAuto actions may be surfaced without confirmation.
	HITLAuto HITL = "auto"
	// HITLConfirm actions require the user to confirm before any follow-up.
	HITLConfirm HITL = "confirm"
	// HITLBlock actions are informational guards; nothing executes.
	HITLBlock HITL = "block"
)

// Action is a candidate recommendation. Priority orders candidates; lower
// runs first. The synthesizer picks the top slice for the answer plan.
type Action struct {
	ActionID string `json:"action_id"`
	Priority int    `json:"priority"`
	HITL     HITL   `json:"hitl"`
	// TriggeredBy names the insight that produced this action.
	TriggeredBy string `json:"triggered_by"`
}

type actionRule struct {
	insightID string
	actionID  string
	priority  int
	hitl      HITL
}

var actionRules = []actionRule{
	{"education_only", "education_only_guard", 5, HITLBlock},
	{"cashflow_pressure", "stabilize_cashflow", 10, HITLConfirm},
	{"scenario_no_upside", "scenario_downside_guard", 18, HITLConfirm},
	{"cashflow_pressure", "buffer_build", 20, HITLAuto},
	{"spend_anomaly", "review_anomaly", 20, HITLConfirm},
	{"goal_gap", "goal_replan", 25, HITLConfirm},
	{"jar_focus", "jar_optimize", 30, HITLAuto},
	{"scenario_upside", "scenario_monitor", 30, HITLAuto},
	{"data_gap", "refresh_data_2w", 65, HITLAuto},
}

// DeriveActions maps insights to candidate actions, appends the defaults,
// and sorts by (priority, action_id) so output is deterministic.
func DeriveActions(insights []Insight, intent string) []Action {
	seen := make(map[string]bool)
	var out []Action
	add := func(a Action) {
		if seen[a.ActionID] {
			return
		}
		seen[a.ActionID] = true
		out = append(out, a)
	}

	for _, ins := range insights {
		for _, rule := range actionRules {
			if ins.InsightID != rule.insightID {
				continue
			}
			add(Action{
				ActionID:    rule.actionID,
				Priority:    rule.priority,
				HITL:        rule.hitl,
				TriggeredBy: ins.InsightID,
			})
		}
	}

	// A risk conversation with no observed band means the appetite is
	// worth capturing before anything else.
	if intent == "risk" && !hasInsightPrefix(insights, "risk_preference_") {
		add(Action{ActionID: "capture_risk_appetite", Priority: 8, HITL: HITLAuto, TriggeredBy: "risk_preference_unknown"})
	}

	// Baseline habit action so the plan never ends up with fewer than two
	// candidates.
	add(Action{ActionID: "review_budget_weekly", Priority: 60, HITL: HITLAuto, TriggeredBy: "baseline"})

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ActionID < out[j].ActionID
	})
	return out
}

func hasInsightPrefix(insights []Insight, prefix string) bool {
	for _, ins := range insights {
		if len(ins.InsightID) >= len(prefix) && ins.InsightID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
