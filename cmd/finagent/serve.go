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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thphuc06/finagent/pkg/audit"
	"github.com/thphuc06/finagent/pkg/config"
	"github.com/thphuc06/finagent/pkg/encoding"
	"github.com/thphuc06/finagent/pkg/gateway"
	"github.com/thphuc06/finagent/pkg/graph"
	"github.com/thphuc06/finagent/pkg/httpclient"
	"github.com/thphuc06/finagent/pkg/llm"
	"github.com/thphuc06/finagent/pkg/observability"
	"github.com/thphuc06/finagent/pkg/router"
	"github.com/thphuc06/finagent/pkg/server"
	"github.com/thphuc06/finagent/pkg/synth"
)

// ServeCmd starts the advisory HTTP server.
type ServeCmd struct {
	Listen      string `help:"Listen address (overrides LISTEN_ADDR)."`
	MaxParallel int    `name:"max-parallel" help:"Max parallel tool calls (0 = one per bundle tool)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if c.Listen != "" {
		cfg.ListenAddr = c.Listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	shutdownTracing, err := observability.InitTracing("finagent", "1.0.0")
	if err != nil {
		return fmt.Errorf("tracing setup failed: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	caller, closeCaller, err := buildCaller(cfg)
	if err != nil {
		return err
	}
	defer closeCaller()

	registry := gateway.NewRegistry(caller)
	if n, err := registry.Initialize(ctx); err != nil {
		slog.Warn("Tool discovery failed at startup, will retry lazily", "error", err)
	} else {
		slog.Info("Tool plane connected", "tools", n)
	}

	runtime, err := llm.NewBedrockRuntime(ctx, cfg.BedrockRegion, cfg.Transport.BedrockConnect, cfg.Transport.BedrockRead)
	if err != nil {
		return fmt.Errorf("bedrock setup failed: %w", err)
	}
	provider, err := llm.NewBedrock(llm.BedrockOptions{
		Runtime: runtime,
		ModelID: cfg.BedrockModelID,
	})
	if err != nil {
		return fmt.Errorf("bedrock setup failed: %w", err)
	}

	auditClient := httpclient.New(
		httpclient.WithTimeout(cfg.Transport.BackendTimeout),
		httpclient.WithPool(httpclient.PoolConfig{
			Connections: cfg.Transport.PoolConnections,
			MaxSize:     cfg.Transport.PoolMaxSize,
		}),
	)

	engine := graph.NewEngine(
		cfg,
		encoding.New(encoding.Config{
			RepairScoreMin:    cfg.Encoding.RepairScoreMin,
			FailFastScoreMin:  cfg.Encoding.FailFastScoreMin,
			RepairMinDelta:    cfg.Encoding.RepairMinDelta,
			NormalizationForm: cfg.Encoding.NormalizationForm,
		}),
		router.New(router.NewExtractor(provider), cfg.Router),
		graph.NewScheduler(registry, c.MaxParallel, cfg.Transport.ToolExecutionTimeout),
		synth.NewSynthesizer(provider, cfg.Response.MaxRetries),
		audit.NewRecorder(cfg.BackendEndpoint, auditClient),
	)

	srv := server.New(cfg, engine)
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	fmt.Printf("finagent ready on %s\n", cfg.ListenAddr)
	return srv.ListenAndServe()
}

// buildCaller picks the tool-plane transport.
func buildCaller(cfg *config.Config) (gateway.Caller, func(), error) {
	if cfg.GatewayTransport == config.TransportStdio {
		parts := strings.Fields(cfg.GatewayCommand)
		if len(parts) == 0 {
			return nil, nil, fmt.Errorf("stdio tool plane: empty GATEWAY_COMMAND")
		}
		client := gateway.NewStdioClient(parts[0], parts[1:]...)
		return client, func() { client.Close() }, nil
	}

	hc := httpclient.New(
		httpclient.WithTimeout(cfg.Transport.GatewayTimeout),
		httpclient.WithPool(httpclient.PoolConfig{
			Connections: cfg.Transport.PoolConnections,
			MaxSize:     cfg.Transport.PoolMaxSize,
		}),
	)
	return gateway.NewHTTPClient(cfg.GatewayEndpoint, hc), func() {}, nil
}
