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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/thphuc06/finagent/pkg/advisory"
	"github.com/thphuc06/finagent/pkg/audit"
	"github.com/thphuc06/finagent/pkg/config"
	"github.com/thphuc06/finagent/pkg/encoding"
	"github.com/thphuc06/finagent/pkg/evidence"
	"github.com/thphuc06/finagent/pkg/gateway"
	"github.com/thphuc06/finagent/pkg/render"
	"github.com/thphuc06/finagent/pkg/router"
	"github.com/thphuc06/finagent/pkg/synth"
)

var retryPromptCopy = map[string]string{
	"vi": "Tin nhắn của bạn có vẻ bị lỗi mã hóa ký tự. Bạn gửi lại giúp mình nhé.",
	"en": "Your message looks garbled by an encoding problem. Please resend it.",
}

// Engine wires the pipeline stages together. One Engine serves all turns.
type Engine struct {
	cfg         *config.Config
	gate        *encoding.Gate
	rtr         *router.Router
	scheduler   *Scheduler
	synthesizer *synth.Synthesizer
	recorder    *audit.Recorder
	tracer      trace.Tracer
}

func NewEngine(cfg *config.Config, gate *encoding.Gate, rtr *router.Router, scheduler *Scheduler, synthesizer *synth.Synthesizer, recorder *audit.Recorder) *Engine {
	return &Engine{
		cfg:         cfg,
		gate:        gate,
		rtr:         rtr,
		scheduler:   scheduler,
		synthesizer: synthesizer,
		recorder:    recorder,
		tracer:      otel.Tracer("finagent/graph"),
	}
}

// Run executes one turn under the agent deadline. A blown deadline
// degrades to the facts-only rendering; a dropped client aborts with
// ErrClientCanceled.
func (e *Engine) Run(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Transport.AgentTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "graph.run",
		trace.WithAttributes(attribute.String("trace_id", req.TraceID)))
	defer span.End()

	lang := req.Language
	if lang != "en" {
		lang = "vi"
	}

	out := &Outcome{TraceID: req.TraceID}
	defer func() {
		out.ElapsedMillis = time.Since(start).Milliseconds()
	}()

	// Encoding gate.
	report := e.gate.Check(req.Turn)
	out.Encoding = &report
	if report.Decision == encoding.DecisionFailFast {
		slog.Info("Encoding gate fail-fast", "trace_id", req.TraceID, "score", report.Score, "fingerprint", report.Fingerprint)
		out.Kind = OutcomeRetryPrompt
		out.Body = retryPromptBody(lang)
		e.record(req, out, start)
		return out, nil
	}
	turn := report.Normalized

	// Intent routing.
	decision, err := e.route(ctx, turn, lang, req.ClarifyCount)
	if err != nil {
		if canceled, cerr := e.clientGone(ctx, err); canceled {
			return nil, cerr
		}
		slog.Warn("Routing failed, degrading to facts-only", "trace_id", req.TraceID, "error", err)
		out.Kind = OutcomeAnswer
		out.Pack = evidence.Build(nil, nil, lang, nil)
		out.Body = render.FactsOnly(out.Pack, nil, nil, lang, routeFailureReason(ctx))
		e.record(req, out, start)
		return out, nil
	}
	out.Decision = decision
	out.Intent = decision.Intent
	span.SetAttributes(attribute.String("intent", decision.Intent))

	if decision.Kind == router.DecisionClarify {
		out.Kind = OutcomeClarify
		out.Question = decision.Question
		e.record(req, out, start)
		return out, nil
	}

	// Tool fan-out.
	results := e.fanOut(ctx, decision, turn, req)

	// Suitability short-circuit.
	banVerbs := false
	if decision.Intent == router.IntentInvest || decision.Intent == router.IntentOutOfScope {
		verdict := evaluateSuitability(decision.Intent, results)
		if !verdict.Allow {
			slog.Info("Suitability guard refused turn", "trace_id", req.TraceID, "intent", decision.Intent, "decision", verdict.Decision)
			out.Kind = OutcomeRefusal
			out.Pack = evidence.Build(results, decision.Extraction.SlotMap(), lang, nil)
			out.Body = refusalBody(decision.Intent, lang, verdict.Decision)
			e.record(req, out, start)
			return out, nil
		}
		banVerbs = true
	}

	// Evidence and advisory.
	out.Pack = evidence.Build(results, decision.Extraction.SlotMap(), lang, router.RequiredFactPrefixes[decision.Intent])
	out.Insights = advisory.DeriveInsights(out.Pack, decision.Intent, e.cfg.Signals)
	out.Actions = advisory.DeriveActions(out.Insights, decision.Intent)
	if hasInsight(out.Insights, "education_only") {
		banVerbs = true
	}

	vc := synth.ValidationContext{
		Pack:              out.Pack,
		Insights:          out.Insights,
		Actions:           out.Actions,
		Turn:              turn,
		Language:          lang,
		BanExecutionVerbs: banVerbs,
	}

	out.Kind = OutcomeAnswer
	out.Body = e.respond(ctx, vc, out, lang)
	if out.Body == nil {
		// Client dropped during synthesis.
		return nil, ErrClientCanceled
	}
	e.record(req, out, start)
	return out, nil
}

func (e *Engine) route(ctx context.Context, turn, lang string, clarifyCount int) (*router.RouteDecision, error) {
	ctx, span := e.tracer.Start(ctx, "graph.route")
	defer span.End()
	return e.rtr.Route(ctx, turn, lang, clarifyCount)
}

func (e *Engine) fanOut(ctx context.Context, decision *router.RouteDecision, turn string, req Request) []evidence.ToolResult {
	ctx, span := e.tracer.Start(ctx, "graph.tools",
		trace.WithAttributes(attribute.Int("bundle_size", len(decision.Bundle))))
	defer span.End()

	meta := gateway.CallMeta{TraceID: req.TraceID, UserID: req.UserID, Token: req.UserToken}
	return e.scheduler.Run(ctx, decision.Bundle, decision.Intent, turn, decision.Extraction.Slots, meta)
}

// respond produces the final body: synthesized plan when the mode allows
// it, facts-only otherwise or on any synthesis failure. Returns nil only
// when the client is gone.
func (e *Engine) respond(ctx context.Context, vc synth.ValidationContext, out *Outcome, lang string) *render.Result {
	if e.cfg.Response.Mode == config.ResponseModeTemplate {
		res := render.FactsOnly(vc.Pack, vc.Insights, vc.Actions, lang, "template_mode")
		res.Fallback = false
		return res
	}

	sctx, span := e.tracer.Start(ctx, "graph.synthesize")
	plan, err := e.synthesizer.Synthesize(sctx, vc)
	span.End()

	if err == nil {
		out.Plan = plan
		return render.Render(plan, vc.Pack)
	}

	if canceled, _ := e.clientGone(ctx, err); canceled {
		return nil
	}

	reason := "synthesis_error"
	switch {
	case errors.Is(err, synth.ErrPlanInvalid):
		reason = "plan_invalid"
	case ctx.Err() == context.DeadlineExceeded:
		reason = "deadline_exceeded"
	}
	slog.Warn("Falling back to facts-only rendering", "trace_id", out.TraceID, "reason", reason, "error", err)
	return render.FactsOnly(vc.Pack, vc.Insights, vc.Actions, lang, reason)
}

// clientGone distinguishes the caller hanging up from our own deadline.
func (e *Engine) clientGone(ctx context.Context, err error) (bool, error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != context.DeadlineExceeded {
		return true, ErrClientCanceled
	}
	return false, nil
}

func routeFailureReason(ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "deadline_exceeded"
	}
	return "router_error"
}

func retryPromptBody(lang string) *render.Result {
	copyText := retryPromptCopy[lang]
	if copyText == "" {
		copyText = retryPromptCopy["vi"]
	}
	return &render.Result{
		Body:        copyText + "\n",
		Mode:        "retry_prompt",
		Fallback:    true,
		ReasonCodes: []string{"mojibake_failfast"},
	}
}

func refusalBody(intent, lang, decision string) *render.Result {
	res := &render.Result{
		Body:     refusalMessage(intent, lang) + "\n",
		Mode:     "refusal",
		Fallback: false,
	}
	if decision != "" {
		res.ReasonCodes = []string{decision}
	}
	return res
}

func hasInsight(insights []advisory.Insight, id string) bool {
	for _, ins := range insights {
		if ins.InsightID == id {
			return true
		}
	}
	return false
}

func (e *Engine) record(req Request, out *Outcome, start time.Time) {
	rec := &audit.Record{
		TraceID:       out.TraceID,
		UserID:        req.UserID,
		Intent:        out.Intent,
		OutcomeKind:   out.Kind,
		ElapsedMillis: time.Since(start).Milliseconds(),
	}
	if out.Body != nil {
		rec.ResponseMode = out.Body.Mode
		rec.Fallback = out.Body.Fallback
		rec.ReasonCodes = out.Body.ReasonCodes
		rec.ResponseHash = audit.HashResponse(out.Body.Body)
	}
	if out.Decision != nil {
		rec.Overrides = out.Decision.Overrides
	}
	if out.Pack != nil {
		rec.ToolStatuses = out.Pack.ToolStatuses
		rec.FreshnessMin = out.Pack.FreshnessMin
		rec.FreshnessMax = out.Pack.FreshnessMax
	}
	if out.Plan != nil {
		rec.PromptVersion = e.cfg.Response.PromptVersion
		rec.SchemaVersion = e.cfg.Response.SchemaVersion
		rec.UsedFactIDs = out.Plan.UsedFactIDs
		rec.InsightIDs = out.Plan.InsightIDs
		rec.ActionIDs = out.Plan.ActionIDs
	}
	e.recorder.Write(rec)
}
