package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageResponse_ToolInput(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "thinking out loud"},
			{Type: "tool_use", Name: "other", Input: json.RawMessage(`{"a":1}`)},
			{Type: "tool_use", Name: "record_protocol", Input: json.RawMessage(`{"steps":[]}`)},
		},
	}

	in, ok := resp.ToolInput("record_protocol")
	require.True(t, ok)
	assert.JSONEq(t, `{"steps":[]}`, string(in))

	_, ok = resp.ToolInput("missing")
	assert.False(t, ok)
}

func TestMessageResponse_ToolInput_EmptyInput(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{{Type: "tool_use", Name: "record_protocol"}},
	}
	_, ok := resp.ToolInput("record_protocol")
	assert.False(t, ok)
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "Hello "},
			{Type: "tool_use", Name: "x"},
			{Type: "text", Text: "world"},
		},
	}
	assert.Equal(t, "Hello world", resp.Text())
	assert.Empty(t, (&MessageResponse{}).Text())
}

func TestEstimateCost_Haiku(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	// input: 1M * $1.00/MTok = $1.00
	// output: 1M * $5.00/MTok = $5.00
	assert.InDelta(t, 6.00, cost, 0.001)
}

func TestEstimateCost_Sonnet(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := usage.EstimateCost("claude-sonnet-4-5-20250929")
	assert.InDelta(t, 18.00, cost, 0.001)
}

func TestEstimateCost_WithCache(t *testing.T) {
	usage := TokenUsage{
		InputTokens:              500_000,
		OutputTokens:             100_000,
		CacheCreationInputTokens: 200_000,
		CacheReadInputTokens:     300_000,
	}
	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	// input: 0.5M * $1.00 = $0.50
	// output: 0.1M * $5.00 = $0.50
	// cacheWrite (1h): 0.2M * $1.00 * 2 = $0.40
	// cacheRead: 0.3M * $1.00 * 0.10 = $0.03
	assert.InDelta(t, 1.43, cost, 0.001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.Equal(t, 0.0, usage.EstimateCost("unknown-model"))
}

func TestEstimateCost_ZeroTokens(t *testing.T) {
	assert.Equal(t, 0.0, TokenUsage{}.EstimateCost("claude-haiku-4-5-20251001"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 100, OutputTokens: 50}.LogCost("claude-haiku-4-5-20251001", "annotate")
	})
	assert.NotPanics(t, func() {
		TokenUsage{}.LogCost("unknown-model", "")
	})
}

func TestStatusCode_NonAPIError(t *testing.T) {
	_, ok := StatusCode(assert.AnError)
	assert.False(t, ok)
}
