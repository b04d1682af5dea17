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

// Package llm provides the structured-output LLM provider used for intent
// extraction and answer synthesis. Both calls are request/response with a
// system prompt, a user prompt, and a JSON-only reply contract; the provider
// never interprets the JSON.
package llm

import "context"

// Request is one structured-output call.
type Request struct {
	// PromptVersion tags the call for audit (e.g. intent_extraction_v1).
	PromptVersion string

	System string
	User   string

	MaxTokens   int
	Temperature float32
}

// Provider issues a completion and returns the raw model text.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}
