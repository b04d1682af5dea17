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

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrToolNotFound is returned by Resolve for unknown base names.
var ErrToolNotFound = errors.New("tool not found")

type registryEntry struct {
	resolved string
	schema   map[string]any
	compiled *jsonschema.Schema
}

// Registry maps base tool names to their resolved (possibly prefixed)
// remote names and caches input schemas for client-side validation.
//
// It is populated once at startup; when discovery failed, the first caller
// that finds it empty repopulates it lazily.
type Registry struct {
	caller Caller

	mu      sync.RWMutex
	entries map[string]registryEntry
	// discovered keeps tools/list order for suffix tie-breaks.
	discovered []string
}

func NewRegistry(caller Caller) *Registry {
	return &Registry{
		caller:  caller,
		entries: make(map[string]registryEntry),
	}
}

// Initialize handshakes with the plane and builds the name and schema maps.
// Returns the number of discovered tools.
func (r *Registry) Initialize(ctx context.Context) (int, error) {
	if err := r.caller.Initialize(ctx); err != nil {
		return 0, err
	}

	tools, err := r.caller.ListTools(ctx)
	if err != nil {
		return 0, err
	}

	entries := make(map[string]registryEntry, len(tools))
	discovered := make([]string, 0, len(tools))
	for _, tool := range tools {
		discovered = append(discovered, tool.Name)
		base := baseName(tool.Name)
		if prev, ok := entries[base]; ok {
			// Longest exact suffix match wins; on equal length keep
			// discovery order.
			if len(prev.resolved) >= len(tool.Name) {
				continue
			}
		}
		entries[base] = registryEntry{
			resolved: tool.Name,
			schema:   tool.InputSchema,
			compiled: compileSchema(base, tool.InputSchema),
		}
	}

	r.mu.Lock()
	r.entries = entries
	r.discovered = discovered
	r.mu.Unlock()

	names := make([]string, 0, len(entries))
	for base := range entries {
		names = append(names, base)
	}
	slog.Info("Tool registry initialized", "tools", len(tools), "bases", len(names))

	return len(tools), nil
}

// Caller exposes the underlying transport for direct tool calls.
func (r *Registry) Caller() Caller { return r.caller }

// Empty reports whether discovery has not produced any tools yet.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) == 0
}

// EnsureReady repopulates an empty registry. Errors are reported but leave
// the registry usable in pass-through mode.
func (r *Registry) EnsureReady(ctx context.Context) error {
	if !r.Empty() {
		return nil
	}
	_, err := r.Initialize(ctx)
	return err
}

// Resolve maps a base name to the remote tool name.
func (r *Registry) Resolve(base string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[base]; ok {
		return e.resolved, nil
	}

	// Fall back to a suffix scan for names the base map missed (aliases,
	// multi-prefix planes).
	for _, name := range r.discovered {
		if name == base || strings.HasSuffix(name, "___"+base) {
			return name, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrToolNotFound, base)
}

// Schema returns the cached input schema for a base name, or nil.
func (r *Registry) Schema(base string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[base].schema
}

// Validate checks args against the cached schema. A missing schema passes
// with a warning; the plane revalidates server-side anyway.
func (r *Registry) Validate(base string, args map[string]any) []string {
	r.mu.RLock()
	e, ok := r.entries[base]
	r.mu.RUnlock()

	if !ok || e.compiled == nil {
		slog.Warn("No cached schema for tool, passing through", "tool", base)
		return nil
	}

	instance, err := toJSONValue(args)
	if err != nil {
		return []string{fmt.Sprintf("encode arguments: %v", err)}
	}
	if err := e.compiled.Validate(instance); err != nil {
		return collectValidationErrors(err)
	}
	return nil
}

// SanitizeArgs drops nil values and empty strings so absence crosses the
// JSON-RPC boundary as absence, never as null. Idempotent.
func SanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	clean := make(map[string]any, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
			clean[k] = val
		case map[string]any:
			clean[k] = SanitizeArgs(val)
		default:
			clean[k] = v
		}
	}
	return clean
}

// baseName strips the plane's toolset prefix.
func baseName(name string) string {
	if i := strings.LastIndex(name, "___"); i >= 0 {
		return name[i+3:]
	}
	return name
}

func compileSchema(base string, schema map[string]any) *jsonschema.Schema {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		slog.Warn("Unusable tool schema", "tool", base, "error", err)
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("Unusable tool schema", "tool", base, "error", err)
		return nil
	}

	compiler := jsonschema.NewCompiler()
	url := "inline://" + base + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		slog.Warn("Unusable tool schema", "tool", base, "error", err)
		return nil
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		slog.Warn("Unusable tool schema", "tool", base, "error", err)
		return nil
	}
	return compiled
}

// toJSONValue round-trips a Go value through JSON so the validator sees
// canonical JSON types.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

func collectValidationErrors(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, e.Error())
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}
