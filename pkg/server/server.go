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

// Package server exposes the advisory engine over HTTP: POST /invoke with
// SSE streaming, plus health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thphuc06/finagent/pkg/config"
	"github.com/thphuc06/finagent/pkg/graph"
	"github.com/thphuc06/finagent/pkg/observability"
)

// Runner abstracts the graph engine for the handler.
type Runner interface {
	Run(ctx context.Context, req graph.Request) (*graph.Outcome, error)
}

// InvokeRequest is the POST /invoke body. "language" is accepted as an
// alias for "locale" from older clients.
type InvokeRequest struct {
	UserID       string `json:"user_id,omitempty"`
	Prompt       string `json:"prompt"`
	Locale       string `json:"locale,omitempty"`
	Language     string `json:"language,omitempty"`
	TraceID      string `json:"trace_id,omitempty"`
	ClarifyCount int    `json:"clarify_count,omitempty"`
}

// Server hosts the HTTP surface.
type Server struct {
	cfg    *config.Config
	engine Runner
	http   *http.Server
}

func New(cfg *config.Config, engine Runner) *Server {
	s := &Server{cfg: cfg, engine: engine}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/invoke", s.handleInvoke)
	r.Get("/healthz", s.handleHealth)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusBadRequest)
		return
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	token := bearerToken(r)
	if token == "" {
		token = s.cfg.DefaultUserToken
	}

	locale := req.Locale
	if locale == "" {
		locale = req.Language
	}

	start := time.Now()
	out, err := s.engine.Run(r.Context(), graph.Request{
		TraceID:      traceID,
		UserID:       req.UserID,
		Turn:         req.Prompt,
		Language:     locale,
		UserToken:    token,
		ClarifyCount: req.ClarifyCount,
	})
	if err != nil {
		if errors.Is(err, graph.ErrClientCanceled) {
			slog.Info("Client canceled invoke", "trace_id", traceID)
			observability.RequestsTotal.WithLabelValues("client_canceled", "unknown").Inc()
			return
		}
		slog.Error("Invoke failed", "trace_id", traceID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	var reasons []string
	if out.Body != nil {
		reasons = out.Body.ReasonCodes
	}
	observability.ObserveOutcome(out.Kind, out.Intent, time.Since(start).Seconds(), out.ToolSummary(), reasons)

	writeSSE(w, r, out)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
