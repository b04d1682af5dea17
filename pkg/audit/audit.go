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

// Package audit persists a structured record of every answered turn. The
// record always lands in the process log; delivery to the backend is best
// effort and never blocks the response.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thphuc06/finagent/pkg/httpclient"
)

// Record is the audit row for one turn.
type Record struct {
	TraceID       string            `json:"trace_id"`
	UserID        string            `json:"user_id,omitempty"`
	Timestamp     string            `json:"timestamp"`
	Intent        string            `json:"intent"`
	OutcomeKind   string            `json:"outcome_kind"`
	ResponseMode  string            `json:"response_mode"`
	PromptVersion string            `json:"prompt_version,omitempty"`
	SchemaVersion string            `json:"schema_version,omitempty"`
	Fallback      bool              `json:"fallback"`
	ReasonCodes   []string          `json:"reason_codes,omitempty"`
	Overrides     []string          `json:"overrides,omitempty"`
	ToolStatuses  map[string]string `json:"tool_statuses,omitempty"`
	UsedFactIDs   []string          `json:"used_fact_ids,omitempty"`
	InsightIDs    []string          `json:"insight_ids,omitempty"`
	ActionIDs     []string          `json:"action_ids,omitempty"`
	FreshnessMin  string            `json:"freshness_min,omitempty"`
	FreshnessMax  string            `json:"freshness_max,omitempty"`
	ResponseHash  string            `json:"response_hash"`
	ElapsedMillis int64             `json:"elapsed_ms"`
}

// HashResponse fingerprints the rendered body for tamper evidence.
func HashResponse(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Recorder writes audit records. A nil backend endpoint disables delivery
// but keeps the structured log line.
type Recorder struct {
	endpoint string
	client   *httpclient.Client
}

func NewRecorder(backendEndpoint string, client *httpclient.Client) *Recorder {
	return &Recorder{endpoint: strings.TrimSuffix(backendEndpoint, "/"), client: client}
}

// Write logs the record and, when a backend is configured, posts it to
// <backend>/audit on a short detached deadline.
func (r *Recorder) Write(rec *Record) {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	slog.Info("Audit record",
		"trace_id", rec.TraceID,
		"intent", rec.Intent,
		"outcome", rec.OutcomeKind,
		"mode", rec.ResponseMode,
		"fallback", rec.Fallback,
		"reasons", strings.Join(rec.ReasonCodes, ","),
		"response_hash", rec.ResponseHash,
		"elapsed_ms", rec.ElapsedMillis,
	)

	if r == nil || r.endpoint == "" || r.client == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		raw, err := json.Marshal(rec)
		if err != nil {
			slog.Warn("Audit record not serializable", "trace_id", rec.TraceID, "error", err)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/audit", bytes.NewReader(raw))
		if err != nil {
			slog.Warn("Audit delivery failed", "trace_id", rec.TraceID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			slog.Warn("Audit delivery failed", "trace_id", rec.TraceID, "error", err)
			return
		}
		resp.Body.Close()
	}()
}
