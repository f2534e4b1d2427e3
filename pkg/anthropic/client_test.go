package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient records the last request and returns a canned response.
type fakeClient struct {
	lastReq MessageRequest
	resp    *MessageResponse
	err     error
}

func (f *fakeClient) CreateMessage(_ context.Context, req MessageRequest) (*MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "first "},
		{Type: "thinking", Text: "ignored"},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first second", resp.Text())

	empty := &MessageResponse{}
	assert.Empty(t, empty.Text())
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, usage.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, usage.EstimateCost("unknown-model"))
}

func TestTokenUsage_EstimateCost_Cache(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// write = 1.25x input rate, read = 0.1x input rate
	assert.InDelta(t, 3.0*1.25+3.0*0.1, usage.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}

func TestGenerator_Generate(t *testing.T) {
	fake := &fakeClient{resp: &MessageResponse{
		Content: []ContentBlock{{Type: "text", Text: `{"personal": "x"}`}},
		Usage:   TokenUsage{InputTokens: 100, OutputTokens: 20},
	}}
	g := NewGenerator(fake, "claude-sonnet-4-5-20250929", 8000, 0.2, "system prompt")

	text, usage, err := g.Generate(context.Background(), "rendered prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"personal": "x"}`, text)
	assert.Equal(t, int64(100), usage.InputTokens)

	assert.Equal(t, "claude-sonnet-4-5-20250929", fake.lastReq.Model)
	assert.Equal(t, int64(8000), fake.lastReq.MaxTokens)
	require.Len(t, fake.lastReq.Messages, 1)
	assert.Equal(t, "rendered prompt", fake.lastReq.Messages[0].Content)
	require.Len(t, fake.lastReq.System, 1)
	assert.Equal(t, "system prompt", fake.lastReq.System[0].Text)
	require.NotNil(t, fake.lastReq.System[0].CacheControl)
	assert.Equal(t, "1h", fake.lastReq.System[0].CacheControl.TTL)
}

func TestGenerator_Generate_NoSystem(t *testing.T) {
	fake := &fakeClient{resp: &MessageResponse{}}
	g := NewGenerator(fake, "m", 100, 0, "")

	_, _, err := g.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, fake.lastReq.System)
}

func TestGenerator_Generate_Error(t *testing.T) {
	fake := &fakeClient{err: errors.New("api down")}
	g := NewGenerator(fake, "m", 100, 0, "")

	_, _, err := g.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate")
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}
