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

package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thphuc06/finagent/pkg/llm"
)

// ErrPlanInvalid signals that every synthesis attempt failed validation;
// the caller falls back to the facts-only rendering.
var ErrPlanInvalid = errors.New("answer plan failed validation")

const synthesisPromptVersion = "answer_synth_v2"

const synthesisSystem = `You write the answer plan for a personal-finance
advisory assistant. Reply with a single JSON object matching the
answer_plan_v2 contract and nothing else.

Hard rules:
- Answer the question asked; do not pad with unrelated facts.
- Cite every number through a [F:fact_id] placeholder. Never write a
  financial figure as a literal.
- Only use fact ids, insight ids and action ids from the lists given.
- summary_lines: 3 to 5 short sentences in the requested language.
- actions: 2 to 4 entries picked from the candidate actions, highest
  priority first. Keep titles imperative and details concrete.
- Educational tone only. Never instruct the user to buy, sell or trade.
- Always fill the disclaimer.`

// Synthesizer drives plan generation with validation-gated retries.
type Synthesizer struct {
	provider   llm.Provider
	maxRetries int
}

func NewSynthesizer(provider llm.Provider, maxRetries int) *Synthesizer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Synthesizer{provider: provider, maxRetries: maxRetries}
}

// Synthesize produces a validated plan. One retry (by default) gets the
// validator report appended to the prompt; after that the caller falls
// back rather than loop.
func (s *Synthesizer) Synthesize(ctx context.Context, vc ValidationContext) (*Plan, error) {
	user := buildUserPrompt(vc)

	var lastProblems []string
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		prompt := user
		if attempt > 0 {
			prompt = user + "\n\nYour previous plan was rejected:\n- " +
				strings.Join(lastProblems, "\n- ") +
				"\nProduce a corrected plan."
		}

		reply, err := s.provider.Complete(ctx, llm.Request{
			PromptVersion: synthesisPromptVersion,
			System:        synthesisSystem,
			User:          prompt,
			MaxTokens:     2048,
			Temperature:   0.2,
		})
		if err != nil {
			return nil, fmt.Errorf("answer synthesis: %w", err)
		}

		raw := salvageJSON(reply)
		if raw == "" {
			lastProblems = []string{"reply contained no JSON object"}
			slog.Warn("Plan synthesis produced no JSON", "attempt", attempt)
			continue
		}

		var plan Plan
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			lastProblems = []string{fmt.Sprintf("plan is not valid JSON: %v", err)}
			slog.Warn("Plan synthesis produced invalid JSON", "attempt", attempt, "error", err)
			continue
		}

		if problems := Validate(&plan, []byte(raw), vc); len(problems) > 0 {
			lastProblems = problems
			slog.Warn("Plan rejected by validator", "attempt", attempt, "problems", len(problems))
			continue
		}
		return &plan, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrPlanInvalid, strings.Join(lastProblems, "; "))
}

// buildUserPrompt lays out the question and the evidence the plan may
// draw on.
func buildUserPrompt(vc ValidationContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "question: %s\nlanguage: %s\n\nfacts:\n", vc.Turn, vc.Language)
	for _, f := range vc.Pack.Facts {
		fmt.Fprintf(&b, "- %s = %s (%s)\n", f.FactID, f.ValueText, f.Label)
	}

	b.WriteString("\ninsights:\n")
	if len(vc.Insights) == 0 {
		b.WriteString("- none\n")
	}
	for _, ins := range vc.Insights {
		fmt.Fprintf(&b, "- %s (severity %s, facts %s)\n",
			ins.InsightID, ins.Severity, strings.Join(ins.SupportingFacts, ", "))
	}

	b.WriteString("\ncandidate_actions:\n")
	for _, a := range vc.Actions {
		fmt.Fprintf(&b, "- %s (priority %d, hitl %s)\n", a.ActionID, a.Priority, a.HITL)
	}

	if vc.Pack.InsufficientFacts {
		b.WriteString("\nnote: required data is missing; say so in limitations.\n")
	}
	if vc.BanExecutionVerbs {
		b.WriteString("\nnote: this turn is education-only; no transaction guidance.\n")
	}
	return b.String()
}

// salvageJSON pulls the JSON object out of a reply that may wrap it in a
// markdown fence or surrounding prose.
func salvageJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := strings.TrimPrefix(s[i+3:], "json")
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
