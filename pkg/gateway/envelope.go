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
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the inner JSON every tool returns inside its text content
// block. Tool-specific fields stay in Payload; the pack builder projects
// them into facts via per-tool path maps.
type Envelope struct {
	TraceID       string         `json:"trace_id"`
	Version       string         `json:"version"`
	ParamsHash    string         `json:"params_hash"`
	SQLSnapshotTS string         `json:"sql_snapshot_ts"`
	Status        string         `json:"status"`
	Payload       map[string]any `json:"-"`
}

// Insufficient reports whether the tool ran but had too little data to
// produce its full payload.
func (e *Envelope) Insufficient() bool {
	return strings.HasPrefix(e.Status, "insufficient_")
}

// DecodeEnvelope parses the text reply of a tool call.
func DecodeEnvelope(reply *ToolReply) (*Envelope, error) {
	if reply == nil || reply.Text == "" {
		return nil, fmt.Errorf("empty tool reply")
	}
	if reply.IsError {
		return nil, fmt.Errorf("tool error: %s", truncate(reply.Text, 300))
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(reply.Text), &payload); err != nil {
		return nil, fmt.Errorf("decode tool envelope: %w", err)
	}

	env := &Envelope{Payload: payload}
	env.TraceID, _ = payload["trace_id"].(string)
	env.Version, _ = payload["version"].(string)
	env.ParamsHash, _ = payload["params_hash"].(string)
	env.SQLSnapshotTS, _ = payload["sql_snapshot_ts"].(string)
	env.Status, _ = payload["status"].(string)

	if errMsg, ok := payload["error"].(string); ok && errMsg != "" {
		return nil, fmt.Errorf("tool error: %s", truncate(errMsg, 300))
	}
	return env, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
