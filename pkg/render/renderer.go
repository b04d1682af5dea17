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

// Package render binds a validated answer plan to its facts and lays out
// the final markdown body. Placeholder binding is the last step before the
// wire; nothing downstream rewrites numbers.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/thphuc06/finagent/pkg/evidence"
	"github.com/thphuc06/finagent/pkg/synth"
)

var placeholderRe = regexp.MustCompile(`\[F:([a-z0-9_.%-]+)\]`)

// Section headings by language.
var headings = map[string][4]string{
	"vi": {"**Tổng Quan Chính**", "**Khuyến Nghị Tư Vấn**", "**Giả Định Và Giới Hạn Dữ Liệu**", "**Disclaimer**"},
	"en": {"**Main Overview**", "**Advisory Actions**", "**Assumptions & Data Limits**", "**Disclaimer**"},
}

// Result is the rendered body plus the degradation flags the transport
// reports in its trailing metadata.
type Result struct {
	Body        string
	Mode        string
	Fallback    bool
	ReasonCodes []string
}

// Render binds the plan against the pack. A placeholder with no matching
// fact binds to "n/a" and flags the result degraded instead of failing the
// whole response.
func Render(plan *synth.Plan, pack *evidence.Pack) *Result {
	res := &Result{Mode: "plan"}
	h := headingsFor(plan.Language)

	var b strings.Builder
	b.WriteString(h[0])
	b.WriteString("\n")
	for _, line := range dedupe(plan.SummaryLines) {
		b.WriteString(res.bind(line, pack))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(h[1])
	b.WriteString("\n")
	for i, action := range plan.Actions {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, res.bind(action.Title, pack), res.bind(action.Detail, pack))
	}

	notes := append(dedupe(plan.Assumptions), dedupe(plan.Limitations)...)
	if pack.InsufficientFacts {
		notes = append(notes, dataGapNote(plan.Language))
	}
	if len(notes) > 0 {
		b.WriteString("\n")
		b.WriteString(h[2])
		b.WriteString("\n")
		for _, note := range dedupe(notes) {
			b.WriteString("- ")
			b.WriteString(res.bind(note, pack))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(h[3])
	b.WriteString("\n")
	b.WriteString(plan.Disclaimer)
	b.WriteString("\n")

	res.Body = b.String()
	return res
}

// bind replaces [F:id] placeholders with the fact's formatted value.
func (r *Result) bind(line string, pack *evidence.Pack) string {
	return placeholderRe.ReplaceAllStringFunc(line, func(m string) string {
		id := placeholderRe.FindStringSubmatch(m)[1]
		if f, ok := pack.Get(id); ok {
			return f.ValueText
		}
		r.Fallback = true
		r.addReason("unbound_fact")
		return "n/a"
	})
}

func (r *Result) addReason(code string) {
	for _, existing := range r.ReasonCodes {
		if existing == code {
			return
		}
	}
	r.ReasonCodes = append(r.ReasonCodes, code)
}

func headingsFor(lang string) [4]string {
	if h, ok := headings[lang]; ok {
		return h
	}
	return headings["vi"]
}

func dataGapNote(lang string) string {
	if lang == "en" {
		return "Some data sources were unavailable; parts of this answer may be incomplete."
	}
	return "Một số nguồn dữ liệu chưa đủ; câu trả lời có thể chưa đầy đủ."
}

func dedupe(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	var out []string
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
	}
	return out
}
