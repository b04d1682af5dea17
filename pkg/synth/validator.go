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
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/thphuc06/finagent/pkg/advisory"
	"github.com/thphuc06/finagent/pkg/evidence"
)

var (
	placeholderRe = regexp.MustCompile(`\[F:([a-z0-9_.%-]+)\]`)
	numericRe     = regexp.MustCompile(`[-+]?\d[\d,\.]*%?`)
	// executionRe matches trade-execution verbs with letter-aware
	// boundaries so Vietnamese forms are caught too.
	executionRe = regexp.MustCompile(`(?i)(^|[^\p{L}])(buy|sell|trade|execute|short|long|mua|bán|đặt lệnh)([^\p{L}]|$)`)
)

// Numeric tolerance: small bare integers read as dates, counts or list
// positions, not as invented financial figures.
const (
	tolerableInt     = 31
	tolerablePercent = 25
)

// ValidationContext carries what the plan is allowed to reference.
type ValidationContext struct {
	Pack     *evidence.Pack
	Insights []advisory.Insight
	Actions  []advisory.Action
	// Turn is the user's normalized question. The synthesizer quotes it
	// in the prompt, and numbers the user wrote are allowed back in the
	// plan.
	Turn     string
	Language string
	// BanExecutionVerbs is set for invest and out_of_scope turns and
	// whenever the education_only insight fired.
	BanExecutionVerbs bool
}

// Validate checks a plan against the contract schema and the grounding
// rules. The returned slice is empty for a valid plan; otherwise each
// entry is one violation, phrased for the retry prompt.
func Validate(plan *Plan, raw []byte, vc ValidationContext) []string {
	var problems []string

	if errs := validateSchema(raw); len(errs) > 0 {
		return errs
	}
	problems = append(problems, validateReferences(plan, vc)...)
	problems = append(problems, validatePlaceholders(plan, vc.Pack)...)
	problems = append(problems, validateNumericTokens(plan, vc)...)

	if vc.BanExecutionVerbs {
		for _, line := range planTextLines(plan) {
			if executionRe.MatchString(line) {
				problems = append(problems, fmt.Sprintf("execution verb in %q: advice must stay educational", line))
			}
		}
	}

	if strings.TrimSpace(plan.Disclaimer) == "" {
		problems = append(problems, "disclaimer is empty")
	}
	return problems
}

func validateSchema(raw []byte) []string {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []string{fmt.Sprintf("plan is not valid JSON: %v", err)}
	}
	if err := planSchema.Validate(instance); err != nil {
		return []string{fmt.Sprintf("plan violates answer_plan_v2: %v", err)}
	}
	return nil
}

// validateReferences checks that every id the plan claims to use exists.
func validateReferences(plan *Plan, vc ValidationContext) []string {
	var problems []string

	for _, id := range plan.UsedFactIDs {
		if _, ok := vc.Pack.Get(id); !ok {
			problems = append(problems, fmt.Sprintf("used_fact_ids references unknown fact %q", id))
		}
	}
	for _, km := range plan.KeyMetrics {
		if _, ok := vc.Pack.Get(km.FactID); !ok {
			problems = append(problems, fmt.Sprintf("key_metrics references unknown fact %q", km.FactID))
		}
	}

	known := make(map[string]bool, len(vc.Insights))
	for _, ins := range vc.Insights {
		known[ins.InsightID] = true
	}
	for _, id := range plan.InsightIDs {
		if !known[id] {
			problems = append(problems, fmt.Sprintf("insight_ids references underived insight %q", id))
		}
	}

	candidates := make(map[string]bool, len(vc.Actions))
	for _, a := range vc.Actions {
		candidates[a.ActionID] = true
	}
	for _, a := range plan.Actions {
		if !candidates[a.ActionID] {
			problems = append(problems, fmt.Sprintf("action %q is not among the candidates", a.ActionID))
		}
	}
	return problems
}

// validatePlaceholders requires every [F:id] to resolve and to be declared
// in used_fact_ids.
func validatePlaceholders(plan *Plan, pack *evidence.Pack) []string {
	used := make(map[string]bool, len(plan.UsedFactIDs))
	for _, id := range plan.UsedFactIDs {
		used[id] = true
	}

	var problems []string
	for _, line := range planTextLines(plan) {
		for _, m := range placeholderRe.FindAllStringSubmatch(line, -1) {
			id := m[1]
			if _, ok := pack.Get(id); !ok {
				problems = append(problems, fmt.Sprintf("placeholder [F:%s] has no matching fact", id))
				continue
			}
			if !used[id] {
				problems = append(problems, fmt.Sprintf("placeholder [F:%s] missing from used_fact_ids", id))
			}
		}
	}
	return problems
}

// validateNumericTokens rejects any literal number the facts cannot vouch
// for. The plan should cite numbers via placeholders; literals are only
// tolerated when the user wrote them in the question, or when they are
// small enough to be dates or counts.
func validateNumericTokens(plan *Plan, vc ValidationContext) []string {
	allowed := allowedTokens(vc.Pack, vc.Turn)

	var problems []string
	for _, line := range planTextLines(plan) {
		// Placeholders are resolved later; their ids may contain digits.
		stripped := placeholderRe.ReplaceAllString(line, "")
		for _, token := range numericRe.FindAllString(stripped, -1) {
			if allowed[token] || tolerable(token) {
				continue
			}
			problems = append(problems, fmt.Sprintf("ungrounded number %q in %q", token, line))
		}
	}
	return problems
}

func allowedTokens(pack *evidence.Pack, turn string) map[string]bool {
	allowed := make(map[string]bool)
	for _, f := range pack.Facts {
		for _, token := range numericRe.FindAllString(f.ValueText, -1) {
			allowed[token] = true
			allowed[strings.TrimPrefix(token, "-")] = true
		}
	}
	for _, token := range numericRe.FindAllString(turn, -1) {
		allowed[token] = true
	}
	return allowed
}

func tolerable(token string) bool {
	if strings.HasSuffix(token, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(token, "+"), "%"), 64)
		return err == nil && v >= 0 && v <= tolerablePercent
	}
	if strings.ContainsAny(token, ",.") {
		return false
	}
	v, err := strconv.Atoi(strings.TrimPrefix(token, "+"))
	return err == nil && v >= 0 && v <= tolerableInt
}

func planTextLines(plan *Plan) []string {
	lines := append([]string(nil), plan.SummaryLines...)
	for _, a := range plan.Actions {
		lines = append(lines, a.Title, a.Detail)
	}
	lines = append(lines, plan.Assumptions...)
	lines = append(lines, plan.Limitations...)
	return lines
}
