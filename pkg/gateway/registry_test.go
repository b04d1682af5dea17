package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	tools    []ToolInfo
	initErr  error
	listErr  error
	replies  map[string]*ToolReply
	lastCall struct {
		name string
		args map[string]any
		meta CallMeta
	}
}

func (f *fakeCaller) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return f.tools, f.listErr
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any, meta CallMeta) (*ToolReply, error) {
	f.lastCall.name = name
	f.lastCall.args = args
	f.lastCall.meta = meta
	return f.replies[name], nil
}

func spendSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"range": map[string]any{
				"type": "string",
				"enum": []any{"30d", "60d", "90d"},
			},
		},
	}
}

func TestRegistryResolvesPrefixedNames(t *testing.T) {
	caller := &fakeCaller{tools: []ToolInfo{
		{Name: "fin___spend_analytics_v1", InputSchema: spendSchema()},
		{Name: "kb___retrieve_from_aws_kb"},
		{Name: "retrieve_from_aws_kb"},
	}}

	r := NewRegistry(caller)
	n, err := r.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	resolved, err := r.Resolve("spend_analytics_v1")
	require.NoError(t, err)
	assert.Equal(t, "fin___spend_analytics_v1", resolved)

	// Longest exact suffix match wins over the bare name.
	resolved, err = r.Resolve("retrieve_from_aws_kb")
	require.NoError(t, err)
	assert.Equal(t, "kb___retrieve_from_aws_kb", resolved)

	_, err = r.Resolve("nonexistent_tool")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryValidate(t *testing.T) {
	caller := &fakeCaller{tools: []ToolInfo{
		{Name: "fin___spend_analytics_v1", InputSchema: spendSchema()},
	}}
	r := NewRegistry(caller)
	_, err := r.Initialize(context.Background())
	require.NoError(t, err)

	assert.Empty(t, r.Validate("spend_analytics_v1", map[string]any{"range": "30d"}))

	errs := r.Validate("spend_analytics_v1", map[string]any{"range": "45d"})
	assert.NotEmpty(t, errs)

	// Missing schema passes through.
	assert.Empty(t, r.Validate("unknown_tool", map[string]any{"x": 1}))
}

func TestRegistryEnsureReadyRepopulates(t *testing.T) {
	caller := &fakeCaller{listErr: context.DeadlineExceeded}
	r := NewRegistry(caller)

	_, err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, r.Empty())

	caller.listErr = nil
	caller.tools = []ToolInfo{{Name: "fin___goal_feasibility_v1"}}
	require.NoError(t, r.EnsureReady(context.Background()))
	assert.False(t, r.Empty())

	resolved, err := r.Resolve("goal_feasibility_v1")
	require.NoError(t, err)
	assert.Equal(t, "fin___goal_feasibility_v1", resolved)
}

func TestSanitizeArgs(t *testing.T) {
	in := map[string]any{
		"range":   "30d",
		"user_id": nil,
		"note":    "",
		"nested": map[string]any{
			"keep": 1,
			"drop": nil,
		},
	}

	got := SanitizeArgs(in)
	want := map[string]any{
		"range":  "30d",
		"nested": map[string]any{"keep": 1},
	}
	assert.Equal(t, want, got)

	// Idempotent.
	assert.Equal(t, got, SanitizeArgs(got))
}

func TestDecodeEnvelope(t *testing.T) {
	reply := &ToolReply{Text: `{
		"trace_id": "t-1",
		"version": "v1",
		"params_hash": "abc",
		"sql_snapshot_ts": "2026-08-01T00:00:00Z",
		"net_cashflow": -1200000.5
	}`}

	env, err := DecodeEnvelope(reply)
	require.NoError(t, err)
	assert.Equal(t, "t-1", env.TraceID)
	assert.Equal(t, "2026-08-01T00:00:00Z", env.SQLSnapshotTS)
	assert.False(t, env.Insufficient())
	assert.Equal(t, -1200000.5, env.Payload["net_cashflow"])
}

func TestDecodeEnvelopeInsufficient(t *testing.T) {
	env, err := DecodeEnvelope(&ToolReply{Text: `{"status":"insufficient_history"}`})
	require.NoError(t, err)
	assert.True(t, env.Insufficient())
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	_, err := DecodeEnvelope(&ToolReply{Text: `{"error":"boom"}`})
	assert.ErrorContains(t, err, "boom")

	_, err = DecodeEnvelope(&ToolReply{Text: "oops", IsError: true})
	assert.ErrorContains(t, err, "tool error")

	_, err = DecodeEnvelope(&ToolReply{Text: "not json"})
	assert.Error(t, err)
}
