package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thphuc06/finagent/pkg/observability"
)

type fakeRuntime struct {
	lastInput *bedrockruntime.ConverseInput
	reply     string
	err       error
}

func (f *fakeRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: f.reply},
				},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
	}, nil
}

func TestNewBedrockRequiresRuntimeAndModel(t *testing.T) {
	_, err := NewBedrock(BedrockOptions{ModelID: "m"})
	assert.Error(t, err)

	_, err = NewBedrock(BedrockOptions{Runtime: &fakeRuntime{}})
	assert.Error(t, err)
}

func TestCompleteBuildsConverseInput(t *testing.T) {
	rt := &fakeRuntime{reply: `{"ok":true}`}
	b, err := NewBedrock(BedrockOptions{Runtime: rt, ModelID: "model-x", MaxTokens: 512, Temperature: 0.2})
	require.NoError(t, err)

	before := testutil.ToFloat64(observability.LLMCallsTotal.WithLabelValues("intent_extraction_v1"))

	got, err := b.Complete(context.Background(), Request{
		PromptVersion: "intent_extraction_v1",
		System:        "classify intents",
		User:          "question",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, got)
	assert.Equal(t, before+1, testutil.ToFloat64(observability.LLMCallsTotal.WithLabelValues("intent_extraction_v1")))

	require.NotNil(t, rt.lastInput)
	assert.Equal(t, "model-x", aws.ToString(rt.lastInput.ModelId))
	require.Len(t, rt.lastInput.System, 1)
	require.Len(t, rt.lastInput.Messages, 1)
	require.NotNil(t, rt.lastInput.InferenceConfig)
	assert.Equal(t, int32(512), aws.ToInt32(rt.lastInput.InferenceConfig.MaxTokens))
}

func TestCompletePropagatesErrors(t *testing.T) {
	rt := &fakeRuntime{err: errors.New("throttled")}
	b, err := NewBedrock(BedrockOptions{Runtime: rt, ModelID: "model-x"})
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), Request{PromptVersion: "answer_synth_v2", User: "q"})
	assert.ErrorContains(t, err, "throttled")
}

func TestCompleteRejectsEmptyReply(t *testing.T) {
	rt := &fakeRuntime{reply: ""}
	b, err := NewBedrock(BedrockOptions{Runtime: rt, ModelID: "model-x"})
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), Request{PromptVersion: "answer_synth_v2", User: "q"})
	assert.ErrorContains(t, err, "empty completion")
}
