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

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/thphuc06/finagent/pkg/observability"
)

// RuntimeClient mirrors the subset of the Bedrock runtime client this
// provider needs. It matches *bedrockruntime.Client so tests can pass a
// fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures the Bedrock provider.
type BedrockOptions struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// ModelID is the Converse model identifier. Required.
	ModelID string

	// MaxTokens caps completions when a request does not specify one.
	MaxTokens int

	// Temperature is used when a request does not specify one.
	Temperature float32
}

// Bedrock implements Provider on top of the Converse API.
type Bedrock struct {
	runtime   RuntimeClient
	modelID   string
	maxTokens int
	temp      float32
}

// NewBedrock builds a provider from explicit options.
func NewBedrock(opts BedrockOptions) (*Bedrock, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, errors.New("bedrock model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Bedrock{
		runtime:   opts.Runtime,
		modelID:   opts.ModelID,
		maxTokens: opts.MaxTokens,
		temp:      opts.Temperature,
	}, nil
}

// NewBedrockRuntime constructs the AWS runtime client with split
// connect/read timeouts. The read ceiling accommodates large multilingual
// completions.
func NewBedrockRuntime(ctx context.Context, region string, connectTimeout, readTimeout time.Duration) (*bedrockruntime.Client, error) {
	httpClient := &http.Client{
		Timeout: readTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return bedrockruntime.NewFromConfig(awsCfg), nil
}

// Complete issues a single-turn Converse call and returns the concatenated
// assistant text.
func (b *Bedrock) Complete(ctx context.Context, req Request) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: req.User},
				},
			},
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}
	input.InferenceConfig = b.inferenceConfig(req)

	started := time.Now()
	observability.LLMCallsTotal.WithLabelValues(req.PromptVersion).Inc()
	output, err := b.runtime.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("converse (%s): %w", req.PromptVersion, err)
	}

	text := extractText(output)
	slog.Debug("LLM call completed",
		"prompt_version", req.PromptVersion,
		"model", b.modelID,
		"elapsed_ms", time.Since(started).Milliseconds(),
		"stop_reason", string(output.StopReason))

	if text == "" {
		return "", fmt.Errorf("converse (%s): empty completion", req.PromptVersion)
	}
	return text, nil
}

func (b *Bedrock) inferenceConfig(req Request) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = b.maxTokens
	}
	cfg.MaxTokens = aws.Int32(int32(tokens))
	temp := req.Temperature
	if temp <= 0 {
		temp = b.temp
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	return cfg
}

func extractText(output *bedrockruntime.ConverseOutput) string {
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String()
}
