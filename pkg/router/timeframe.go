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
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Tool argument bounds. Out-of-range requests clamp rather than error so a
// user asking for "2 years of spending" still gets the closest answer the
// tool can give.
const (
	anomalyLookbackMin, anomalyLookbackMax, anomalyLookbackDef = 30, 365, 90
	riskLookbackMin, riskLookbackMax, riskLookbackDef          = 60, 720, 180
	recurringMonthsMin, recurringMonthsMax, recurringMonthsDef = 3, 24, 6
	goalHorizonMin, goalHorizonMax                             = 1, 24
)

var spendRanges = []int{30, 60, 90}

var numberUnitRe = regexp.MustCompile(`(\d+)\s*(ngày|ngay|day|days|d|tháng|thang|month|months|m|tuần|tuan|week|weeks|w|năm|nam|year|years|y)`)

// now is swapped out in tests.
var now = time.Now

// parseTimeframeDays turns a free-form timeframe slot into a day count.
// Calendar phrases resolve against the clock: "this month" is the elapsed
// days of the current month, "last month" its actual length.
func parseTimeframeDays(slot string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(slot))
	if s == "" {
		return 0, false
	}

	switch s {
	case "tháng này", "thang nay", "this month":
		return now().Day(), true
	case "tháng trước", "thang truoc", "last month":
		t := now()
		firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		return firstOfMonth.AddDate(0, 0, -1).Day(), true
	case "gần đây", "gan day", "recent", "recently":
		return 90, true
	}

	m := numberUnitRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch m[2] {
	case "ngày", "ngay", "day", "days", "d":
		return n, true
	case "tuần", "tuan", "week", "weeks", "w":
		return n * 7, true
	case "tháng", "thang", "month", "months", "m":
		return n * 30, true
	case "năm", "nam", "year", "years", "y":
		return n * 365, true
	}
	return 0, false
}

// SpendRange snaps a timeframe to the nearest allowed range value.
func SpendRange(slot string) string {
	days, ok := parseTimeframeDays(slot)
	if !ok {
		return "30d"
	}
	best := spendRanges[0]
	for _, r := range spendRanges {
		if abs(days-r) < abs(days-best) {
			best = r
		}
	}
	return strconv.Itoa(best) + "d"
}

// AnomalyLookbackDays clamps a timeframe into the anomaly window.
func AnomalyLookbackDays(slot string) int {
	return clampDays(slot, anomalyLookbackMin, anomalyLookbackMax, anomalyLookbackDef)
}

// RiskLookbackDays clamps a timeframe into the risk-profile window.
func RiskLookbackDays(slot string) int {
	return clampDays(slot, riskLookbackMin, riskLookbackMax, riskLookbackDef)
}

// RecurringLookbackMonths clamps a timeframe into the recurring-detect
// window, in months.
func RecurringLookbackMonths(slot string) int {
	days, ok := parseTimeframeDays(slot)
	if !ok {
		return recurringMonthsDef
	}
	months := (days + 15) / 30
	return clamp(months, recurringMonthsMin, recurringMonthsMax)
}

// ForecastHorizon picks daily_30 for short horizons, weekly_12 beyond one
// month.
func ForecastHorizon(horizonMonths int) string {
	if horizonMonths > 1 {
		return "weekly_12"
	}
	return "daily_30"
}

// GoalHorizonMonths clamps the goal horizon slot.
func GoalHorizonMonths(horizonMonths int) int {
	if horizonMonths == 0 {
		return 12
	}
	return clamp(horizonMonths, goalHorizonMin, goalHorizonMax)
}

// ArgsFor builds the arguments for one tool call from the routed intent,
// the raw turn, and the extracted slots. Unknown tools get no arguments.
func ArgsFor(tool, intent, turn string, slots Slots) map[string]any {
	switch tool {
	case "spend_analytics_v1":
		return map[string]any{"range": SpendRange(slots.Timeframe)}
	case "anomaly_signals_v1":
		return map[string]any{"lookback_days": AnomalyLookbackDays(slots.Timeframe)}
	case "risk_profile_non_investment_v1":
		return map[string]any{"lookback_days": RiskLookbackDays(slots.Timeframe)}
	case "recurring_cashflow_detect_v1":
		return map[string]any{"lookback_months": RecurringLookbackMonths(slots.Timeframe)}
	case "cashflow_forecast_v1":
		return map[string]any{"horizon": ForecastHorizon(slots.Horizon)}
	case "goal_feasibility_v1":
		args := map[string]any{"horizon_months": GoalHorizonMonths(slots.Horizon)}
		if slots.GoalAmount > 0 {
			args["target_amount"] = slots.GoalAmount
		}
		return args
	case "what_if_scenario_v1":
		args := map[string]any{}
		if slots.Horizon > 0 {
			args["horizon_months"] = GoalHorizonMonths(slots.Horizon)
		}
		if slots.Delta != "" {
			args["delta"] = slots.Delta
		}
		return args
	case "suitability_guard_v1":
		return map[string]any{
			"intent":           intent,
			"requested_action": slots.RequestedAction,
			"prompt":           turn,
		}
	}
	return map[string]any{}
}

func clampDays(slot string, min, max, def int) int {
	days, ok := parseTimeframeDays(slot)
	if !ok {
		return def
	}
	return clamp(days, min, max)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
