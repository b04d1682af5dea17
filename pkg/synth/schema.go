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

// Package synth turns an evidence pack plus advisory output into a
// validated answer plan. The LLM writes the plan; every number it cites
// must trace back to a fact.
package synth

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaVersion identifies the plan contract.
const SchemaVersion = "answer_plan_v2"

// KeyMetric points at one fact the renderer surfaces prominently.
type KeyMetric struct {
	FactID string `json:"fact_id"`
	Label  string `json:"label"`
}

// PlanAction is one recommendation in the plan. Detail may cite facts via
// [F:fact_id] placeholders.
type PlanAction struct {
	ActionID string `json:"action_id"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
}

// Plan is the answer_plan_v2 document.
type Plan struct {
	SchemaVersion string       `json:"schema_version"`
	Language      string       `json:"language"`
	SummaryLines  []string     `json:"summary_lines"`
	KeyMetrics    []KeyMetric  `json:"key_metrics"`
	Actions       []PlanAction `json:"actions"`
	Assumptions   []string     `json:"assumptions"`
	Limitations   []string     `json:"limitations"`
	Disclaimer    string       `json:"disclaimer"`
	UsedFactIDs   []string     `json:"used_fact_ids"`
	InsightIDs    []string     `json:"insight_ids"`
	ActionIDs     []string     `json:"action_ids"`
}

const planSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": [
    "schema_version", "language", "summary_lines", "key_metrics",
    "actions", "assumptions", "limitations", "disclaimer",
    "used_fact_ids", "insight_ids", "action_ids"
  ],
  "properties": {
    "schema_version": {"const": "answer_plan_v2"},
    "language": {"enum": ["vi", "en"]},
    "summary_lines": {
      "type": "array", "minItems": 3, "maxItems": 5,
      "items": {"type": "string", "minLength": 1}
    },
    "key_metrics": {
      "type": "array", "minItems": 1, "maxItems": 6,
      "items": {
        "type": "object", "additionalProperties": false,
        "required": ["fact_id", "label"],
        "properties": {
          "fact_id": {"type": "string", "minLength": 1},
          "label": {"type": "string", "minLength": 1}
        }
      }
    },
    "actions": {
      "type": "array", "minItems": 2, "maxItems": 4,
      "items": {
        "type": "object", "additionalProperties": false,
        "required": ["action_id", "title", "detail"],
        "properties": {
          "action_id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "detail": {"type": "string", "minLength": 1}
        }
      }
    },
    "assumptions": {"type": "array", "items": {"type": "string"}},
    "limitations": {"type": "array", "items": {"type": "string"}},
    "disclaimer": {"type": "string", "minLength": 1},
    "used_fact_ids": {"type": "array", "items": {"type": "string"}},
    "insight_ids": {"type": "array", "items": {"type": "string"}},
    "action_ids": {"type": "array", "items": {"type": "string"}}
  }
}`

var planSchema = mustCompilePlanSchema()

func mustCompilePlanSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(planSchemaJSON)))
	if err != nil {
		panic(fmt.Sprintf("parse plan schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline://answer_plan_v2.json", doc); err != nil {
		panic(fmt.Sprintf("register plan schema: %v", err))
	}
	compiled, err := compiler.Compile("inline://answer_plan_v2.json")
	if err != nil {
		panic(fmt.Sprintf("compile plan schema: %v", err))
	}
	return compiled
}
