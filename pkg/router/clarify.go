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
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed clarify.yaml
var clarifyYAML []byte

type clarifyEntry struct {
	VI string `yaml:"vi"`
	EN string `yaml:"en"`
}

// ClarifyBank holds the fixed clarify questions keyed by reason code.
// Questions are curated copy, never LLM output.
type ClarifyBank struct {
	questions map[string]clarifyEntry
}

var defaultBank = mustLoadClarifyBank()

func DefaultClarifyBank() *ClarifyBank { return defaultBank }

func mustLoadClarifyBank() *ClarifyBank {
	var doc struct {
		Questions map[string]clarifyEntry `yaml:"questions"`
	}
	if err := yaml.Unmarshal(clarifyYAML, &doc); err != nil {
		panic(fmt.Sprintf("parse clarify bank: %v", err))
	}
	if len(doc.Questions) == 0 {
		panic("clarify bank is empty")
	}
	return &ClarifyBank{questions: doc.Questions}
}

// Question returns the question for a reason code in the given language,
// falling back to generic_intent for unknown codes.
func (b *ClarifyBank) Question(code, lang string) string {
	entry, ok := b.questions[code]
	if !ok {
		entry = b.questions["generic_intent"]
	}
	if lang == "en" {
		return entry.EN
	}
	return entry.VI
}
