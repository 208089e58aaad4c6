package cost

import (
	"sync"

	"go.uber.org/zap"
)

// Usage is the accumulated consumption of a run.
type Usage struct {
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CacheWrite   int64   `json:"cache_write_tokens"`
	CacheRead    int64   `json:"cache_read_tokens"`
	USD          float64 `json:"estimated_usd"`
}

// Tracker accumulates token usage across concurrent calls and reports when
// a spending budget is used up. It is safe for concurrent use.
type Tracker struct {
	calc   *Calculator
	budget float64

	mu     sync.Mutex
	usage  Usage
	warned map[string]bool
}

// NewTracker returns a Tracker. A budget of zero or less never exceeds.
func NewTracker(calc *Calculator, budgetUSD float64) *Tracker {
	if calc == nil {
		calc = NewCalculator(DefaultRates())
	}
	return &Tracker{calc: calc, budget: budgetUSD, warned: map[string]bool{}}
}

// Add records one completed call.
func (t *Tracker) Add(model string, input, output, cacheWrite, cacheRead int64) {
	usd := t.calc.Claude(model, input, output, cacheWrite, cacheRead)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.calc.Known(model) && !t.warned[model] {
		t.warned[model] = true
		zap.L().Warn("cost: no rate for model, usage counted at $0", zap.String("model", model))
	}

	t.usage.Calls++
	t.usage.InputTokens += input
	t.usage.OutputTokens += output
	t.usage.CacheWrite += cacheWrite
	t.usage.CacheRead += cacheRead
	t.usage.USD += usd
}

// Total returns a snapshot of the accumulated usage.
func (t *Tracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Exceeded reports whether the estimated spend has reached the budget.
func (t *Tracker) Exceeded() bool {
	if t.budget <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage.USD >= t.budget
}

// Fields returns the usage as log fields.
func (t *Tracker) Fields() []zap.Field {
	u := t.Total()
	return []zap.Field{
		zap.Int64("calls", u.Calls),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_usd", u.USD),
	}
}
