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

package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/thphuc06/finagent/pkg/config"
)

// Bundles map each intent to its tool fan-out, in deterministic call order.
var Bundles = map[string][]string{
	IntentSummary:    {"spend_analytics_v1", "cashflow_forecast_v1", "jar_allocation_suggest_v1"},
	IntentRisk:       {"spend_analytics_v1", "anomaly_signals_v1", "risk_profile_non_investment_v1"},
	IntentPlanning:   {"spend_analytics_v1", "cashflow_forecast_v1", "recurring_cashflow_detect_v1", "goal_feasibility_v1", "jar_allocation_suggest_v1"},
	IntentScenario:   {"what_if_scenario_v1"},
	IntentInvest:     {"suitability_guard_v1", "risk_profile_non_investment_v1"},
	IntentOutOfScope: {"suitability_guard_v1"},
}

// RequiredFactPrefixes lists the fact-id prefixes an intent cannot answer
// without; the pack builder marks the pack insufficient when one is missing.
var RequiredFactPrefixes = map[string][]string{
	IntentSummary:  {"spend."},
	IntentRisk:     {"spend."},
	IntentPlanning: {"spend."},
	IntentScenario: {"scenario."},
}

// domainRelevanceMin is the floor under which a turn is treated as out of
// scope regardless of the extracted intent.
const domainRelevanceMin = 0.30

// Term lists for the deterministic override rules. Matching is substring
// over the lowercased, diacritic-stripped turn, so accented and unaccented
// Vietnamese spellings both hit.
var (
	investTerms = []string{
		"co phieu", "chung khoan", "crypto", "coin", "etf", "stock",
		"shares", "share", "bond", "trai phieu", "dau tu", "invest",
		"portfolio", "trade",
	}
	optimizeTerms = []string{
		"toi uu tai chinh", "quan ly tai chinh", "toi uu dong tien",
		"optimize personal finance", "financial optimization",
	}
	anomalyTerms = []string{
		"giao dich la", "giao dich bat thuong", "bat thuong", "dot bien",
		"anomaly", "fraud", "lua dao", "suspicious transaction",
		"unrecognized transaction", "unusual charge", "strange transaction",
	}
	homeGoalTerms = []string{
		"mua nha", "mua can ho", "mua xe", "mua o to", "mua oto",
		"muc tieu tiet kiem", "ke hoach tiet kiem", "tiet kiem de",
		"de danh", "saving goal", "saving plan", "save for", "save up",
		"kha thi", "bao lau",
	}
	savingsDepositTerms = []string{
		"gui tiet kiem", "mo so tiet kiem", "lap so tiet kiem",
		"tiet kiem ky han", "goi tiet kiem", "term deposit",
		"fixed deposit", "recurring savings",
	}
	recurringTerms = []string{
		"chi co dinh", "chi dinh ky", "dinh ky", "hang thang",
		"thuong xuyen", "fixed expense", "fixed cost", "recurring",
		"subscription", "auto debit", "tra gop",
	}
)

// tradeRe catches an execution verb directly before an asset, the wording
// that must land on the suitability guard. Plain "ban" is too ambiguous on
// stripped text (it also spells "bạn") to match on its own.
var tradeRe = regexp.MustCompile(`(^|[^a-z])(mua|buy|ban|sell|trade)\s+(co phieu|chung khoan|crypto|coin|etf|stocks?|shares?|portfolio|bonds?|trai phieu|vang|gold|bitcoin)($|[^a-z])`)

// marksStripper removes combining marks after NFD decomposition.
var marksStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeTurn lowercases and strips diacritics. "đ" carries no combining
// mark, so it is folded to "d" explicitly.
func normalizeTurn(s string) string {
	out, _, err := transform.String(marksStripper, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		switch r {
		case 'đ':
			return 'd'
		case 'Đ':
			return 'D'
		}
		return r
	}, out)
	return strings.ToLower(out)
}

// Router applies the extraction contract, the deterministic override
// rules, and the clarify gates.
type Router struct {
	extractor *Extractor
	cfg       config.Router
	clarify   *ClarifyBank
}

func New(extractor *Extractor, cfg config.Router) *Router {
	return &Router{extractor: extractor, cfg: cfg, clarify: DefaultClarifyBank()}
}

// Route classifies one turn. clarifyCount is how many clarify questions
// this conversation has already consumed; once the budget is spent the
// router commits to its best guess instead of asking again.
func (r *Router) Route(ctx context.Context, turn, lang string, clarifyCount int) (*RouteDecision, error) {
	ext, err := r.extractor.Extract(ctx, turn)
	if err != nil {
		return nil, err
	}
	return r.Decide(turn, lang, ext, clarifyCount), nil
}

// Decide is the deterministic half of Route, separated for testing. The
// term overrides run in every mode; only the clarify gates vary by mode.
func (r *Router) Decide(turn, lang string, ext *IntentExtraction, clarifyCount int) *RouteDecision {
	text := normalizeTurn(turn)

	intent, overrides := applyOverrides(text, ext)
	if intent != ext.Intent {
		slog.Info("Router override applied", "from", ext.Intent, "to", intent, "rules", overrides)
	}

	if code := r.clarifyCode(intent, ext); code != "" {
		if r.cfg.Mode == config.RouterModeSemanticShadow {
			slog.Info("Clarify gate fired in shadow mode", "code", code, "intent", intent)
		} else if clarifyCount < r.cfg.MaxClarifyQuestions {
			return &RouteDecision{
				Kind:        DecisionClarify,
				Intent:      intent,
				Extraction:  ext,
				ClarifyCode: code,
				Question:    r.clarify.Question(code, lang),
				Overrides:   overrides,
			}
		} else {
			slog.Info("Clarify budget spent, committing to best guess", "intent", intent, "code", code)
		}
	}

	bundle := append([]string(nil), Bundles[intent]...)
	if containsAny(text, recurringTerms) && !contains(bundle, "recurring_cashflow_detect_v1") && intent != IntentInvest && intent != IntentOutOfScope {
		bundle = append(bundle, "recurring_cashflow_detect_v1")
		overrides = append(overrides, "recurring_tool_injected")
	}

	return &RouteDecision{
		Kind:       DecisionTools,
		Intent:     intent,
		Bundle:     bundle,
		Extraction: ext,
		Overrides:  overrides,
	}
}

// applyOverrides runs the term rules on the normalized turn. Order
// matters: wording that names investable assets blocks the demotion rules,
// goal and deposit wording demotes invest to planning, and the relevance
// floor runs last. First match wins.
func applyOverrides(text string, ext *IntentExtraction) (string, []string) {
	hasInvest := containsAny(text, investTerms) || tradeRe.MatchString(text)

	if ext.Intent == IntentInvest && containsAny(text, optimizeTerms) && !hasInvest {
		return IntentPlanning, []string{"optimize_terms"}
	}
	if containsAny(text, anomalyTerms) && !hasInvest && ext.Intent != IntentRisk {
		return IntentRisk, []string{"anomaly_terms"}
	}
	if containsAny(text, savingsDepositTerms) && !hasInvest && ext.Intent != IntentPlanning {
		return IntentPlanning, []string{"savings_deposit_terms"}
	}
	if containsAny(text, homeGoalTerms) && ext.Intent != IntentPlanning {
		return IntentPlanning, []string{"home_goal_terms"}
	}
	if ext.Intent != IntentInvest && (tradeRe.MatchString(text) || (hasInvest && strings.Contains(text, "dat lenh"))) {
		return IntentInvest, []string{"execution_asset_terms"}
	}
	if ext.Intent != IntentOutOfScope && ext.DomainRelevance < domainRelevanceMin {
		return IntentOutOfScope, []string{"low_domain_relevance"}
	}
	return ext.Intent, nil
}

// clarifyCode decides whether the extraction is too ambiguous to act on
// and which question bank entry addresses the gap.
func (r *Router) clarifyCode(intent string, ext *IntentExtraction) string {
	if intent == IntentScenario {
		if ext.Slots.Horizon == 0 {
			return "scenario_horizon"
		}
		if ext.Slots.Delta == "" {
			return "scenario_delta_dimension"
		}
		if ext.ScenarioConfidence < r.cfg.ScenarioConfMin {
			return "planning_vs_scenario"
		}
	}

	if ext.Confidence < r.cfg.IntentConfMin {
		if code := knownReason(ext.Reason); code != "" {
			return code
		}
		return "generic_intent"
	}

	if ext.Top2Gap() < r.cfg.Top2GapMin {
		return gapCode(ext.Top2)
	}
	return ""
}

func knownReason(reason string) string {
	switch reason {
	case "scenario_horizon", "scenario_delta_dimension", "planning_vs_scenario", "summary_vs_risk", "generic_intent":
		return reason
	}
	return ""
}

func gapCode(top2 []IntentScore) string {
	if len(top2) < 2 {
		return "generic_intent"
	}
	pair := map[string]bool{top2[0].Intent: true, top2[1].Intent: true}
	switch {
	case pair[IntentPlanning] && pair[IntentScenario]:
		return "planning_vs_scenario"
	case pair[IntentSummary] && pair[IntentRisk]:
		return "summary_vs_risk"
	}
	return "generic_intent"
}

// containsAny expects text already passed through normalizeTurn.
func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
