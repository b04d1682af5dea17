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

// Package graph drives one advisory turn end to end: encoding gate, intent
// routing, bounded tool fan-out, evidence, synthesis and rendering.
package graph

import (
	"errors"

	"github.com/thphuc06/finagent/pkg/advisory"
	"github.com/thphuc06/finagent/pkg/encoding"
	"github.com/thphuc06/finagent/pkg/evidence"
	"github.com/thphuc06/finagent/pkg/render"
	"github.com/thphuc06/finagent/pkg/router"
	"github.com/thphuc06/finagent/pkg/synth"
)

// ErrClientCanceled is returned when the caller dropped the connection
// mid-turn. Nothing is sent; the audit trail still records the turn.
var ErrClientCanceled = errors.New("client canceled request")

// Outcome kinds.
const (
	OutcomeAnswer      = "answer"
	OutcomeClarify     = "clarify"
	OutcomeRetryPrompt = "retry_prompt"
	OutcomeRefusal     = "refusal"
)

// Request is one user turn entering the graph.
type Request struct {
	TraceID      string
	UserID       string
	Turn         string
	Language     string
	UserToken    string
	ClarifyCount int
}

// Outcome is what the transport renders back to the client.
type Outcome struct {
	Kind     string
	TraceID  string
	Intent   string
	Body     *render.Result
	Question string

	Encoding *encoding.Report
	Decision *router.RouteDecision
	Pack     *evidence.Pack
	Plan     *synth.Plan
	Insights []advisory.Insight
	Actions  []advisory.Action

	ElapsedMillis int64
}

// Citations lists the fact ids the answer actually used.
func (o *Outcome) Citations() []string {
	if o.Plan != nil {
		return o.Plan.UsedFactIDs
	}
	if o.Pack == nil {
		return nil
	}
	ids := make([]string, 0, len(o.Pack.Facts))
	for _, f := range o.Pack.Facts {
		ids = append(ids, f.FactID)
	}
	return ids
}

// ToolSummary flattens tool statuses for the trailing metadata.
func (o *Outcome) ToolSummary() map[string]string {
	if o.Pack == nil {
		return nil
	}
	return o.Pack.ToolStatuses
}
