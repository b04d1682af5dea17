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

// Package router classifies the user turn into an advisory intent and
// decides the tool bundle, clarify question, or refusal that follows.
package router

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v6"
)

// Intent values. The extraction contract and the policy layer share them.
const (
	IntentSummary    = "summary"
	IntentRisk       = "risk"
	IntentPlanning   = "planning"
	IntentScenario   = "scenario"
	IntentInvest     = "invest"
	IntentOutOfScope = "out_of_scope"
)

// IntentScore is one entry of the top-2 candidate list.
type IntentScore struct {
	Intent     string  `json:"intent" jsonschema:"enum=summary,enum=risk,enum=planning,enum=scenario,enum=invest,enum=out_of_scope"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

// Slots are the structured values the extractor pulls from the turn. All
// fields are optional; empty means not present in the utterance.
type Slots struct {
	Timeframe       string  `json:"timeframe,omitempty"`
	GoalAmount      float64 `json:"goal_amount,omitempty" jsonschema:"minimum=0"`
	Horizon         int     `json:"horizon,omitempty" jsonschema:"minimum=0"`
	Delta           string  `json:"delta,omitempty"`
	RequestedAction string  `json:"requested_action,omitempty"`
}

// IntentExtraction is the contract the LLM must return for
// intent_extraction_v1. The reflected JSON schema validates the raw reply.
type IntentExtraction struct {
	Intent             string        `json:"intent" jsonschema:"enum=summary,enum=risk,enum=planning,enum=scenario,enum=invest,enum=out_of_scope"`
	Confidence         float64       `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	DomainRelevance    float64       `json:"domain_relevance" jsonschema:"minimum=0,maximum=1"`
	Top2               []IntentScore `json:"top2" jsonschema:"minItems=2,maxItems=2"`
	Slots              Slots         `json:"slots"`
	ScenarioConfidence float64       `json:"scenario_confidence" jsonschema:"minimum=0,maximum=1"`
	Reason             string        `json:"reason"`
}

// Top2Gap is the confidence distance between the two leading candidates.
func (e *IntentExtraction) Top2Gap() float64 {
	if len(e.Top2) < 2 {
		return 1
	}
	gap := e.Top2[0].Confidence - e.Top2[1].Confidence
	if gap < 0 {
		return -gap
	}
	return gap
}

// SlotMap flattens the slots for the evidence pack.
func (e *IntentExtraction) SlotMap() map[string]any {
	m := map[string]any{}
	if e.Slots.Timeframe != "" {
		m["timeframe"] = e.Slots.Timeframe
	}
	if e.Slots.GoalAmount > 0 {
		m["goal_amount"] = e.Slots.GoalAmount
	}
	if e.Slots.Horizon > 0 {
		m["horizon"] = float64(e.Slots.Horizon)
	}
	if e.Slots.Delta != "" {
		m["delta"] = e.Slots.Delta
	}
	if e.Slots.RequestedAction != "" {
		m["requested_action"] = e.Slots.RequestedAction
	}
	return m
}

// Decision kinds.
const (
	DecisionTools   = "tools"
	DecisionClarify = "clarify"
	DecisionRefuse  = "refuse"
)

// RouteDecision is the router verdict for one turn.
type RouteDecision struct {
	Kind        string           `json:"kind"`
	Intent      string           `json:"intent"`
	Bundle      []string         `json:"bundle,omitempty"`
	Extraction  *IntentExtraction `json:"extraction,omitempty"`
	ClarifyCode string           `json:"clarify_code,omitempty"`
	Question    string           `json:"question,omitempty"`
	// Overrides lists the deterministic term rules that fired, for audit.
	Overrides []string `json:"overrides,omitempty"`
}

// extractionSchema compiles the reflected contract once at init.
var extractionSchema = mustCompileExtractionSchema()

func mustCompileExtractionSchema() *schemavalidate.Schema {
	reflector := invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	reflected := reflector.Reflect(&IntentExtraction{})
	raw, err := json.Marshal(reflected)
	if err != nil {
		panic(fmt.Sprintf("reflect intent contract: %v", err))
	}

	doc, err := schemavalidate.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse intent contract: %v", err))
	}
	compiler := schemavalidate.NewCompiler()
	if err := compiler.AddResource("inline://intent_extraction_v1.json", doc); err != nil {
		panic(fmt.Sprintf("register intent contract: %v", err))
	}
	compiled, err := compiler.Compile("inline://intent_extraction_v1.json")
	if err != nil {
		panic(fmt.Sprintf("compile intent contract: %v", err))
	}
	return compiled
}

// ValidateExtraction checks a decoded reply against the contract schema.
func ValidateExtraction(instance any) error {
	return extractionSchema.Validate(instance)
}
