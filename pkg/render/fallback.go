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

package render

import (
	"fmt"
	"strings"

	"github.com/thphuc06/finagent/pkg/advisory"
	"github.com/thphuc06/finagent/pkg/evidence"
)

// Canned action copy for the facts-only path, where no LLM wrote titles.
var actionCopy = map[string][2]string{
	// [vi, en]
	"education_only_guard":    {"Chỉ cung cấp thông tin giáo dục, không khuyến nghị giao dịch", "Educational information only, no transaction guidance"},
	"capture_risk_appetite":   {"Chia sẻ thêm về mức độ chấp nhận rủi ro của bạn", "Tell us more about your risk appetite"},
	"stabilize_cashflow":      {"Ổn định dòng tiền trước khi làm gì khác", "Stabilize your cashflow first"},
	"scenario_downside_guard": {"Cân nhắc lại phương án vì chưa thấy lợi ích rõ ràng", "Reconsider the scenario, no clear upside yet"},
	"buffer_build":            {"Xây quỹ dự phòng cho các tháng tới", "Build a buffer for the coming months"},
	"review_anomaly":          {"Rà soát các giao dịch bất thường", "Review the flagged transactions"},
	"goal_replan":             {"Điều chỉnh lại kế hoạch cho mục tiêu", "Replan the path to your goal"},
	"jar_optimize":            {"Cân đối lại tỷ lệ các hũ chi tiêu", "Rebalance your jar allocation"},
	"scenario_monitor":        {"Theo dõi kết quả sau khi áp dụng thay đổi", "Monitor results after applying the change"},
	"review_budget_weekly":    {"Xem lại ngân sách hàng tuần", "Review your budget weekly"},
	"refresh_data_2w":         {"Cập nhật lại dữ liệu sau hai tuần", "Refresh your data in two weeks"},
}

// Canned insight copy for the same path.
var insightCopy = map[string][2]string{
	// [vi, en]
	"cashflow_pressure":   {"Dòng tiền đang âm và quỹ dự phòng còn mỏng", "Cashflow is negative and the buffer is thin"},
	"spend_anomaly":       {"Chi tiêu có dấu hiệu bất thường", "Spending shows unusual activity"},
	"goal_gap":            {"Mục tiêu hiện chưa khả thi với mức tiết kiệm này", "The goal is not on track at the current saving rate"},
	"scenario_upside":     {"Kịch bản mô phỏng cho kết quả tích cực", "The simulated scenario shows an upside"},
	"scenario_no_upside":  {"Kịch bản mô phỏng chưa cho thấy lợi ích rõ ràng", "The simulated scenario shows no clear upside"},
	"jar_focus":           {"Một hũ chi tiêu đang chiếm tỷ trọng lớn", "One jar dominates your allocation"},
	"data_gap":            {"Một số nguồn dữ liệu chưa sẵn sàng", "Some data sources were unavailable"},
	"education_only":      {"Nội dung chỉ mang tính giáo dục", "Educational content only"},
	"risk_preference":     {"Khẩu vị rủi ro của bạn đã được ghi nhận", "Your risk preference is noted"},
}

var fallbackDisclaimer = map[string]string{
	"vi": "Thông tin chỉ mang tính giáo dục, không phải khuyến nghị đầu tư.",
	"en": "This information is educational only and is not investment advice.",
}

var synthUnavailableNote = map[string]string{
	"vi": "Phần phân tích tự động tạm thời không khả dụng, dưới đây là các số liệu chính.",
	"en": "Automatic analysis was unavailable for this answer, so the key figures are listed instead.",
}

// maxFallbackFacts caps the compact fact list.
const maxFallbackFacts = 8

// FactsOnly renders the compact facts-only body used when synthesis could
// not produce a valid plan. It lists the facts verbatim, the derived
// insights with canned copy, and the top candidate actions.
func FactsOnly(pack *evidence.Pack, insights []advisory.Insight, actions []advisory.Action, lang, reason string) *Result {
	res := &Result{
		Mode:     "facts_only_compact",
		Fallback: true,
	}
	res.addReason(reason)
	h := headingsFor(lang)

	var b strings.Builder
	// Template mode renders this body as its normal output; the
	// unavailability notice belongs to the degraded paths only.
	if reason != "template_mode" {
		b.WriteString(synthUnavailableNote[langKey(lang)])
		b.WriteString("\n\n")
	}

	b.WriteString(h[0])
	b.WriteString("\n")
	if len(pack.Facts) == 0 {
		b.WriteString(noDataLine(lang))
		b.WriteString("\n")
	}
	for i, f := range pack.Facts {
		if i >= maxFallbackFacts {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Label, f.ValueText)
	}
	for _, ins := range insights {
		if line := insightLine(ins.InsightID, lang); line != "" {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	if len(actions) > 0 {
		b.WriteString("\n")
		b.WriteString(h[1])
		b.WriteString("\n")
		n := 0
		for _, a := range actions {
			title, ok := actionCopy[a.ActionID]
			if !ok {
				continue
			}
			n++
			if lang == "en" {
				fmt.Fprintf(&b, "%d. %s\n", n, title[1])
			} else {
				fmt.Fprintf(&b, "%d. %s\n", n, title[0])
			}
			if n == 3 {
				break
			}
		}
	}

	if pack.InsufficientFacts {
		b.WriteString("\n")
		b.WriteString(h[2])
		b.WriteString("\n- ")
		b.WriteString(dataGapNote(lang))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(h[3])
	b.WriteString("\n")
	d := fallbackDisclaimer[lang]
	if d == "" {
		d = fallbackDisclaimer["vi"]
	}
	b.WriteString(d)
	b.WriteString("\n")

	res.Body = b.String()
	return res
}

func noDataLine(lang string) string {
	if lang == "en" {
		return "No account data was available for this request."
	}
	return "Chưa có dữ liệu tài khoản cho yêu cầu này."
}

func langKey(lang string) string {
	if lang == "en" {
		return "en"
	}
	return "vi"
}

func insightLine(id, lang string) string {
	key := id
	if strings.HasPrefix(id, "risk_preference_") {
		key = "risk_preference"
	}
	pair, ok := insightCopy[key]
	if !ok {
		return ""
	}
	if lang == "en" {
		return pair[1]
	}
	return pair[0]
}
