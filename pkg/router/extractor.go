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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	schemavalidate "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/thphuc06/finagent/pkg/llm"
)

const extractionPromptVersion = "intent_extraction_v1"

const extractionSystem = `You classify one user turn for a personal-finance
advisory assistant serving Vietnamese and English speakers. Reply with a
single JSON object and nothing else. Fields:
- intent: one of summary, risk, planning, scenario, invest, out_of_scope
- confidence: 0..1 for the chosen intent
- domain_relevance: 0..1, how much the turn is about personal finance
- top2: exactly two {intent, confidence} candidates, best first
- slots: {timeframe, goal_amount, horizon, delta, requested_action}; omit
  or leave empty anything not stated by the user
- scenario_confidence: 0..1 that the turn is a what-if simulation
- reason: one short machine-readable token explaining low confidence,
  e.g. generic_intent, planning_vs_scenario, summary_vs_risk
Never invent slot values. Amounts are VND numbers, horizon is months.`

// Extractor runs the intent-extraction contract against the LLM and
// decodes the reply.
type Extractor struct {
	provider llm.Provider
}

func NewExtractor(provider llm.Provider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract classifies one turn. The reply must satisfy the contract schema;
// fenced or prose-wrapped JSON is salvaged before giving up.
func (e *Extractor) Extract(ctx context.Context, turn string) (*IntentExtraction, error) {
	reply, err := e.provider.Complete(ctx, llm.Request{
		PromptVersion: extractionPromptVersion,
		System:        extractionSystem,
		User:          turn,
		MaxTokens:     512,
		Temperature:   0,
	})
	if err != nil {
		return nil, fmt.Errorf("intent extraction: %w", err)
	}

	raw := salvageJSON(reply)
	if raw == "" {
		return nil, fmt.Errorf("intent extraction: no JSON object in reply")
	}

	instance, err := schemavalidate.UnmarshalJSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		return nil, fmt.Errorf("intent extraction: decode reply: %w", err)
	}
	if err := ValidateExtraction(instance); err != nil {
		slog.Warn("Intent extraction contract violation", "error", err)
		return nil, fmt.Errorf("intent extraction: contract violation: %w", err)
	}

	var out IntentExtraction
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("intent extraction: decode reply: %w", err)
	}
	return &out, nil
}

// salvageJSON pulls the JSON object out of a reply that may wrap it in a
// markdown fence or surrounding prose.
func salvageJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}

	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			if candidate := strings.TrimSpace(rest[:j]); strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
