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

package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thphuc06/finagent/pkg/evidence"
	"github.com/thphuc06/finagent/pkg/gateway"
	"github.com/thphuc06/finagent/pkg/httpclient"
	"github.com/thphuc06/finagent/pkg/router"
)

// Scheduler runs a tool bundle with bounded parallelism. Result order
// always matches bundle order regardless of completion order.
type Scheduler struct {
	registry    *gateway.Registry
	maxParallel int
	callTimeout time.Duration
}

// NewScheduler builds a scheduler. maxParallel <= 0 means one slot per
// bundle tool, so an unconfigured scheduler never throttles a bundle.
func NewScheduler(registry *gateway.Registry, maxParallel int, callTimeout time.Duration) *Scheduler {
	return &Scheduler{registry: registry, maxParallel: maxParallel, callTimeout: callTimeout}
}

// Run fans the bundle out over the tool plane. Individual tool failures
// degrade to a status on the result slot; they never abort the batch.
func (s *Scheduler) Run(ctx context.Context, bundle []string, intent, turn string, slots router.Slots, meta gateway.CallMeta) []evidence.ToolResult {
	if err := s.registry.EnsureReady(ctx); err != nil {
		slog.Warn("Tool registry unavailable", "error", err)
	}

	limit := s.maxParallel
	if limit <= 0 || limit > len(bundle) {
		limit = len(bundle)
	}
	if limit < 1 {
		limit = 1
	}

	results := make([]evidence.ToolResult, len(bundle))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, tool := range bundle {
		g.Go(func() error {
			results[i] = s.callOne(gctx, tool, intent, turn, slots, meta)
			return nil
		})
	}
	g.Wait()
	return results
}

func (s *Scheduler) callOne(ctx context.Context, tool, intent, turn string, slots router.Slots, meta gateway.CallMeta) evidence.ToolResult {
	res := evidence.ToolResult{Tool: tool}
	res.Args = gateway.SanitizeArgs(router.ArgsFor(tool, intent, turn, slots))

	if errs := s.registry.Validate(tool, res.Args); len(errs) > 0 {
		slog.Warn("Tool arguments rejected", "tool", tool, "errors", errs)
		res.Status = "invalid_args"
		return res
	}

	resolved, err := s.registry.Resolve(tool)
	if err != nil {
		slog.Warn("Tool not on plane", "tool", tool)
		res.Status = "not_found"
		return res
	}

	callMeta := meta
	callMeta.CallID = uuid.NewString()

	callCtx := ctx
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.registry.Caller().CallTool(callCtx, resolved, res.Args, callMeta)
	elapsed := time.Since(start)
	if err != nil {
		res.Err = err
		res.Status = statusForError(err)
		slog.Warn("Tool call failed", "tool", tool, "status", res.Status, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return res
	}

	env, err := gateway.DecodeEnvelope(reply)
	if err != nil {
		res.Err = err
		res.Status = "decode_error"
		slog.Warn("Tool reply undecodable", "tool", tool, "error", err)
		return res
	}

	res.Env = env
	res.Status = "ok"
	if env.Insufficient() {
		res.Status = env.Status
	}
	slog.Debug("Tool call completed", "tool", tool, "status", res.Status, "elapsed_ms", elapsed.Milliseconds())
	return res
}

func statusForError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || httpclient.KindOf(err) == httpclient.KindTimeout {
		return "timeout"
	}
	return "error"
}
