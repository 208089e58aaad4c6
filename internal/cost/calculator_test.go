package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name       string
		model      string
		input      int64
		output     int64
		cacheWrite int64
		cacheRead  int64
		want       float64
	}{
		{
			name:  "haiku simple",
			model: "haiku",
			input: 1000000, output: 100000,
			want: 1.00 + 0.50,
		},
		{
			name:  "haiku with cache",
			model: "haiku",
			input: 500000, output: 50000,
			cacheWrite: 200000, cacheRead: 300000,
			// in: 0.5M * 1.00 = 0.50
			// out: 0.05M * 5.00 = 0.25
			// cw: 0.2M * 1.00 * 2.0 = 0.40
			// cr: 0.3M * 1.00 * 0.1 = 0.03
			want: 1.18,
		},
		{
			name:  "sonnet",
			model: "sonnet",
			input: 1000000, output: 1000000,
			want: 18.00,
		},
		{
			name:  "unknown model",
			model: "gpt-x",
			input: 1000000, output: 1000000,
			want: 0,
		},
		{
			name:  "zero tokens",
			model: "haiku",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Claude(tt.model, tt.input, tt.output, tt.cacheWrite, tt.cacheRead)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestKnown(t *testing.T) {
	calc := NewCalculator(testRates())
	assert.True(t, calc.Known("haiku"))
	assert.False(t, calc.Known("gpt-x"))
}

func TestDefaultRates(t *testing.T) {
	rates := DefaultRates()

	haiku, ok := rates.Anthropic["claude-haiku-4-5-20251001"]
	assert.True(t, ok)
	assert.InDelta(t, 1.00, haiku.Input, 0.001)
	assert.InDelta(t, 5.00, haiku.Output, 0.001)
	assert.InDelta(t, 2.0, haiku.CacheWriteMul, 0.001)
	assert.InDelta(t, 0.1, haiku.CacheReadMul, 0.001)

	_, ok = rates.Anthropic["claude-sonnet-4-5-20250929"]
	assert.True(t, ok)
}
