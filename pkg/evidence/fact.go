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

// Package evidence builds the evidence pack: the dictionary of facts
// extracted from tool outputs that is the sole source of numeric truth for
// a response. Fact ids are stable slugs of the form tool.metric.timeframe.
package evidence

import "fmt"

// Fact is a single evidence item. ValueText is the locale-formatted
// authority string the renderer binds into the body; the raw Value is kept
// for the validator and audit.
type Fact struct {
	FactID     string `json:"fact_id"`
	Label      string `json:"label"`
	Value      any    `json:"value"`
	ValueText  string `json:"value_text"`
	Unit       string `json:"unit,omitempty"`
	Timeframe  string `json:"timeframe,omitempty"`
	SourceTool string `json:"source_tool"`
	SourcePath string `json:"source_path"`
}

// FactID derives the stable slug for a tool metric. Identical inputs yield
// identical ids across processes.
func FactID(tool, metric, timeframe string) string {
	if timeframe == "" {
		return fmt.Sprintf("%s.%s", tool, metric)
	}
	return fmt.Sprintf("%s.%s.%s", tool, metric, timeframe)
}

// Pack is the per-request evidence pack.
type Pack struct {
	Facts []Fact `json:"facts"`

	// FreshnessMin/Max bracket the sql_snapshot_ts values of the
	// contributing tools.
	FreshnessMin string `json:"freshness_min,omitempty"`
	FreshnessMax string `json:"freshness_max,omitempty"`

	// ToolStatuses records the outcome per base tool name (ok, timeout,
	// insufficient_history, ...).
	ToolStatuses map[string]string `json:"tool_statuses"`

	// InsufficientFacts is set when the intent's required fact prefixes
	// are missing from the pack.
	InsufficientFacts bool `json:"insufficient_facts"`

	byID map[string]*Fact
}

// Get returns the fact with the given id.
func (p *Pack) Get(id string) (*Fact, bool) {
	f, ok := p.byID[id]
	return f, ok
}

// Has reports whether any fact id starts with the given prefix.
func (p *Pack) Has(prefix string) bool {
	for i := range p.Facts {
		if len(p.Facts[i].FactID) >= len(prefix) && p.Facts[i].FactID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (p *Pack) add(f Fact) {
	p.Facts = append(p.Facts, f)
	p.byID[f.FactID] = &p.Facts[len(p.Facts)-1]
}

func (p *Pack) reindex() {
	p.byID = make(map[string]*Fact, len(p.Facts))
	for i := range p.Facts {
		p.byID[p.Facts[i].FactID] = &p.Facts[i]
	}
}
