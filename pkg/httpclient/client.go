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

// Package httpclient provides a pooled HTTP client with bounded retries.
//
// One Client instance is created per logical upstream (tool plane, backend,
// LLM) and shared across requests so the fan-out path reuses warm
// connections. Failures are classified into an ErrorKind; only
// network-class failures and 5xx responses are retried.
package httpclient

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultMaxAttempts bounds transport attempts per call (1 + 2 retries
	// would be 3 attempts total).
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the first backoff step; subsequent steps double.
	DefaultBaseDelay = 1 * time.Second
)

// RetryStrategy decides whether a failed attempt may be repeated.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	BackoffRetry
)

// RetryStrategyFunc maps an error kind to a retry strategy.
type RetryStrategyFunc func(ErrorKind) RetryStrategy

// DefaultRetryStrategy retries network failures, timeouts and 5xx.
// Client errors, auth failures and decode errors are never retried.
func DefaultRetryStrategy(kind ErrorKind) RetryStrategy {
	switch kind {
	case KindNetwork, KindTimeout, KindServer5xx:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// PoolConfig sizes the shared connection pool for a client.
type PoolConfig struct {
	Connections int // idle connections kept per host
	MaxSize     int // total idle connections
}

type Client struct {
	client       *http.Client
	maxAttempts  int
	baseDelay    time.Duration
	strategyFunc RetryStrategyFunc
	sleep        func(context.Context, time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// WithTimeout sets the per-call timeout on the underlying http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithPool replaces the transport with a pooled one.
func WithPool(cfg PoolConfig) Option {
	return func(c *Client) {
		c.client.Transport = NewPooledTransport(cfg)
	}
}

// NewPooledTransport builds an http.Transport sized from cfg.
func NewPooledTransport(cfg PoolConfig) *http.Transport {
	if cfg.Connections <= 0 {
		cfg.Connections = 10
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 20
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxSize,
		MaxIdleConnsPerHost: cfg.Connections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxAttempts:  DefaultMaxAttempts,
		baseDelay:    DefaultBaseDelay,
		strategyFunc: DefaultRetryStrategy,
		sleep:        sleepCtx,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Do issues the request, retrying per the configured strategy. The returned
// error, when non-nil, is always an *Error carrying the failure kind of the
// last attempt. Responses with status < 400 are returned as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr *Error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, &Error{Kind: KindNetwork, Message: "rewind request body", Err: err}
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}

		lastErr = classify(resp, err)
		if resp != nil {
			resp.Body.Close()
		}

		if c.strategyFunc(lastErr.Kind) == NoRetry || attempt == c.maxAttempts {
			break
		}

		delay := c.baseDelay << (attempt - 1)
		slog.Debug("retrying HTTP request",
			"url", req.URL.String(),
			"kind", lastErr.Kind.String(),
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"delay", delay)
		if err := c.sleep(req.Context(), delay); err != nil {
			lastErr = &Error{Kind: KindTimeout, Message: "canceled during backoff", Err: err}
			break
		}
	}

	return nil, lastErr
}

// classify maps a transport outcome to a tagged error.
func classify(resp *http.Response, err error) *Error {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return &Error{Kind: KindTimeout, Message: "request deadline exceeded", Err: err}
		case errors.Is(err, context.Canceled):
			return &Error{Kind: KindTimeout, Message: "request canceled", Err: err}
		case errors.As(err, &netErr) && netErr.Timeout():
			return &Error{Kind: KindTimeout, Message: "network timeout", Err: err}
		default:
			return &Error{Kind: KindNetwork, Message: "network failure", Err: err}
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, StatusCode: resp.StatusCode, Message: resp.Status}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindServer5xx, StatusCode: resp.StatusCode, Message: resp.Status}
	default:
		return &Error{Kind: KindClient4xx, StatusCode: resp.StatusCode, Message: resp.Status}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

