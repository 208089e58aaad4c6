package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTracker_Accumulates(t *testing.T) {
	tr := NewTracker(NewCalculator(testRates()), 0)

	tr.Add("haiku", 1_000_000, 0, 0, 0)
	tr.Add("haiku", 0, 200_000, 100_000, 0)

	u := tr.Total()
	assert.Equal(t, int64(2), u.Calls)
	assert.Equal(t, int64(1_000_000), u.InputTokens)
	assert.Equal(t, int64(200_000), u.OutputTokens)
	assert.Equal(t, int64(100_000), u.CacheWrite)
	assert.InDelta(t, 1.00+1.00+0.20, u.USD, 0.0001)
	assert.False(t, tr.Exceeded(), "no budget never exceeds")
}

func TestTracker_Budget(t *testing.T) {
	tr := NewTracker(NewCalculator(testRates()), 2.0)

	tr.Add("haiku", 1_000_000, 0, 0, 0)
	assert.False(t, tr.Exceeded())

	tr.Add("haiku", 1_000_000, 0, 0, 0)
	assert.True(t, tr.Exceeded())
}

func TestTracker_ConcurrentAdds(t *testing.T) {
	tr := NewTracker(nil, 0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add("claude-haiku-4-5-20251001", 1000, 100, 0, 0)
		}()
	}
	wg.Wait()

	u := tr.Total()
	assert.Equal(t, int64(50), u.Calls)
	assert.Equal(t, int64(50_000), u.InputTokens)
}

func TestTracker_WarnsOnceForUnknownModel(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	tr := NewTracker(NewCalculator(testRates()), 1)
	tr.Add("mystery", 10, 10, 0, 0)
	tr.Add("mystery", 10, 10, 0, 0)

	require.Equal(t, 1, logs.FilterMessageSnippet("no rate for model").Len())
	assert.False(t, tr.Exceeded())
}

func TestTracker_Fields(t *testing.T) {
	tr := NewTracker(NewCalculator(testRates()), 0)
	tr.Add("haiku", 10, 20, 0, 0)

	keys := map[string]bool{}
	for _, f := range tr.Fields() {
		keys[f.Key] = true
	}
	for _, k := range []string{"calls", "input_tokens", "output_tokens", "estimated_usd"} {
		assert.True(t, keys[k], k)
	}
}
