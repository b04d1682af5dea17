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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// StdioClient runs the tool plane as a subprocess over MCP stdio. Used for
// local development; correlation headers do not apply on this transport, so
// trace ids only appear in the tool envelope.
type StdioClient struct {
	command string
	args    []string

	mu        sync.Mutex
	client    *client.Client
	connected bool
}

// NewStdioClient builds a stdio tool plane client from a command line.
func NewStdioClient(command string, args ...string) *StdioClient {
	return &StdioClient{command: command, args: args}
}

func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *StdioClient) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	mcpClient, err := client.NewStdioMCPClient(c.command, nil, c.args...)
	if err != nil {
		return fmt.Errorf("start tool plane subprocess: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start tool plane subprocess: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "finagent", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize tool plane: %w", err)
	}

	c.client = mcpClient
	c.connected = true
	return nil
}

func (c *StdioClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	mcpClient := c.client
	c.mu.Unlock()

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	tools := make([]ToolInfo, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return tools, nil
}

func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any, meta CallMeta) (*ToolReply, error) {
	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	mcpClient := c.client
	c.mu.Unlock()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return &ToolReply{Text: sb.String(), IsError: resp.IsError}, nil
}

// Close terminates the subprocess.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var (
	_ Caller = (*HTTPClient)(nil)
	_ Caller = (*StdioClient)(nil)
)
