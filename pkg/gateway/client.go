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

// Package gateway talks to the remote tool plane.
//
// The plane is a JSON-RPC 2.0 endpoint exposing `initialize`, `tools/list`
// and `tools/call`. Tool replies wrap their JSON payload in a text content
// block; Envelope unwraps it. Two transports exist: HTTP for the deployed
// plane and stdio (MCP subprocess) for local development.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/thphuc06/finagent/pkg/httpclient"
)

// ToolInfo is one discovered tool.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CallMeta carries per-call identity and correlation headers.
type CallMeta struct {
	TraceID string
	CallID  string
	UserID  string
	Token   string
}

// ToolReply is the raw outcome of a tools/call.
type ToolReply struct {
	// Text is the concatenated text content of the reply.
	Text string
	// IsError mirrors the protocol-level isError flag.
	IsError bool
}

// Caller is the transport-independent tool plane client.
type Caller interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any, meta CallMeta) (*ToolReply, error)
}

const protocolVersion = "2024-11-05"

// JSON-RPC wire types.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// HTTPClient is the HTTP transport for the tool plane.
type HTTPClient struct {
	endpoint string
	http     *httpclient.Client
	nextID   atomic.Int64

	sessionMu sync.RWMutex
	sessionID string
}

// NewHTTPClient builds a tool plane client over a shared retrying client.
func NewHTTPClient(endpoint string, hc *httpclient.Client) *HTTPClient {
	return &HTTPClient{endpoint: endpoint, http: hc}
}

// Initialize performs the protocol handshake.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	resp, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    "finagent",
			"version": "1.0.0",
		},
		"capabilities": map[string]any{},
	}, CallMeta{})
	if err != nil {
		return fmt.Errorf("initialize tool plane: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize tool plane: %w", resp.Error)
	}
	return nil
}

// ListTools returns the plane's published tools.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := c.call(ctx, "tools/list", nil, CallMeta{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list: %w", resp.Error)
	}

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &httpclient.Error{Kind: httpclient.KindDecode, Message: "tools/list result", Err: err}
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return tools, nil
}

// CallTool invokes one tool and returns its text reply.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any, meta CallMeta) (*ToolReply, error) {
	resp, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, meta)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return parseCallResult(resp.Result)
}

// parseCallResult extracts the text content blocks from a tools/call result.
func parseCallResult(raw json.RawMessage) (*ToolReply, error) {
	var result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &httpclient.Error{Kind: httpclient.KindDecode, Message: "tools/call result", Err: err}
	}

	var buf bytes.Buffer
	for _, block := range result.Content {
		if block.Type == "text" {
			buf.WriteString(block.Text)
		}
	}
	return &ToolReply{Text: buf.String(), IsError: result.IsError}, nil
}

func (c *HTTPClient) call(ctx context.Context, method string, params any, meta CallMeta) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if meta.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+meta.Token)
	}
	if meta.TraceID != "" {
		httpReq.Header.Set("X-Trace-Id", meta.TraceID)
	}
	if meta.CallID != "" {
		httpReq.Header.Set("X-Call-Id", meta.CallID)
	}
	if meta.UserID != "" {
		httpReq.Header.Set("X-User-Id", meta.UserID)
	}

	c.sessionMu.RLock()
	if c.sessionID != "" {
		httpReq.Header.Set("mcp-session-id", c.sessionID)
	}
	c.sessionMu.RUnlock()

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Debug("tool plane request failed",
			"method", method,
			"trace_id", meta.TraceID,
			"error", err.Error())
		return nil, err
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get("mcp-session-id"); sid != "" {
		c.sessionMu.Lock()
		c.sessionID = sid
		c.sessionMu.Unlock()
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &httpclient.Error{Kind: httpclient.KindNetwork, Message: "read response", Err: err}
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &httpclient.Error{Kind: httpclient.KindDecode, Message: "parse json-rpc response", Err: err}
	}
	return &resp, nil
}
