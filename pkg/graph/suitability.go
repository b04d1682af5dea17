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

package graph

import (
	"github.com/thphuc06/finagent/pkg/evidence"
	"github.com/thphuc06/finagent/pkg/router"
)

// suitabilityVerdict summarizes the guard's answer for one turn.
type suitabilityVerdict struct {
	// Checked is false when the guard did not run or did not reply.
	Checked  bool
	Allow    bool
	Decision string
}

// evaluateSuitability reads the guard's envelope out of the tool results.
// A missing or failed guard on a gated intent counts as a refusal: the
// default is closed.
func evaluateSuitability(intent string, results []evidence.ToolResult) suitabilityVerdict {
	v := suitabilityVerdict{}
	for _, res := range results {
		if res.Tool != "suitability_guard_v1" || res.Env == nil {
			continue
		}
		v.Checked = true
		v.Allow, _ = res.Env.Payload["allow"].(bool)
		v.Decision, _ = res.Env.Payload["decision"].(string)
		return v
	}
	if intent == router.IntentInvest || intent == router.IntentOutOfScope {
		return suitabilityVerdict{Checked: true, Allow: false, Decision: "guard_unavailable"}
	}
	return v
}

var refusalCopy = map[string][2]string{
	// [vi, en]
	"out_of_scope": {
		"Mình chỉ hỗ trợ các câu hỏi về tài chính cá nhân như chi tiêu, tiết kiệm và dòng tiền. Bạn thử hỏi về chi tiêu hoặc kế hoạch tiết kiệm nhé.",
		"I can only help with personal-finance questions like spending, saving and cashflow. Try asking about your spending or a savings plan.",
	},
	"execution": {
		"Mình không thể khuyến nghị mua bán tài sản cụ thể. Mình có thể chia sẻ kiến thức chung về quản lý rủi ro và phân bổ dòng tiền.",
		"I can't recommend buying or selling specific assets. I can share general guidance on risk management and cashflow allocation.",
	},
}

// refusalMessage picks the localized refusal body for a blocked turn.
func refusalMessage(intent, lang string) string {
	key := "execution"
	if intent == router.IntentOutOfScope {
		key = "out_of_scope"
	}
	pair := refusalCopy[key]
	if lang == "en" {
		return pair[1]
	}
	return pair[0]
}
