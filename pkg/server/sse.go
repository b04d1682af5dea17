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

package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/thphuc06/finagent/pkg/graph"
)

// writeSSE streams the outcome: every body line as one data frame, then
// the fixed trailing metadata frames.
func writeSSE(w http.ResponseWriter, r *http.Request, out *graph.Outcome) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	send := func(line string) {
		fmt.Fprintf(w, "data: %s\n\n", line)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for _, line := range bodyLines(out) {
		send(line)
	}

	send("Trace: " + out.TraceID)
	send("Citations: " + strings.Join(out.Citations(), ", "))
	send("Tools: " + toolLine(out))
	send("Disclaimer: " + disclaimerLine(out))
	send("ResponseMode: " + modeLine(out))
	send("ResponseFallback: " + fallbackLine(out))
	send("ResponseReasonCodes: " + reasonLine(out))
}

func bodyLines(out *graph.Outcome) []string {
	if out.Kind == graph.OutcomeClarify {
		return []string{out.Question}
	}
	if out.Body == nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(out.Body.Body, "\n"), "\n") {
		lines = append(lines, line)
	}
	return lines
}

func toolLine(out *graph.Outcome) string {
	statuses := out.ToolSummary()
	if len(statuses) == 0 {
		return "none"
	}
	tools := make([]string, 0, len(statuses))
	for tool := range statuses {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	parts := make([]string, 0, len(tools))
	for _, tool := range tools {
		parts = append(parts, tool+"="+statuses[tool])
	}
	return strings.Join(parts, ", ")
}

func disclaimerLine(out *graph.Outcome) string {
	if out.Plan != nil {
		return out.Plan.Disclaimer
	}
	return "Thông tin chỉ mang tính giáo dục, không phải khuyến nghị đầu tư."
}

func modeLine(out *graph.Outcome) string {
	if out.Body != nil {
		return out.Body.Mode
	}
	return out.Kind
}

func fallbackLine(out *graph.Outcome) string {
	if out.Body != nil && out.Body.Fallback {
		return "true"
	}
	return "false"
}

func reasonLine(out *graph.Outcome) string {
	if out.Body == nil || len(out.Body.ReasonCodes) == 0 {
		return "none"
	}
	return strings.Join(out.Body.ReasonCodes, ", ")
}
