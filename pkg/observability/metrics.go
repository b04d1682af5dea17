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

// Package observability holds the Prometheus metrics and the tracer setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts invoke turns by outcome kind.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finagent",
		Name:      "requests_total",
		Help:      "Invoke requests by outcome kind and intent.",
	}, []string{"kind", "intent"})

	// RequestDuration observes end-to-end turn latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finagent",
		Name:      "request_duration_seconds",
		Help:      "End-to-end invoke latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	// ToolCallsTotal counts tool-plane calls by tool and status.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finagent",
		Name:      "tool_calls_total",
		Help:      "Tool plane calls by base tool name and status.",
	}, []string{"tool", "status"})

	// FallbacksTotal counts degraded responses by reason code.
	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finagent",
		Name:      "fallbacks_total",
		Help:      "Degraded responses by reason code.",
	}, []string{"reason"})

	// LLMCallsTotal counts model invocations by prompt version.
	LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finagent",
		Name:      "llm_calls_total",
		Help:      "LLM invocations by prompt version.",
	}, []string{"prompt_version"})
)

// ObserveOutcome records the per-turn metrics in one place.
func ObserveOutcome(kind, intent string, seconds float64, toolStatuses map[string]string, reasonCodes []string) {
	if intent == "" {
		intent = "unknown"
	}
	RequestsTotal.WithLabelValues(kind, intent).Inc()
	RequestDuration.WithLabelValues(kind).Observe(seconds)
	for tool, status := range toolStatuses {
		ToolCallsTotal.WithLabelValues(tool, status).Inc()
	}
	for _, reason := range reasonCodes {
		FallbacksTotal.WithLabelValues(reason).Inc()
	}
}
