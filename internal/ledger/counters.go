package ledger

import (
	"math"
	"sync/atomic"
)

// Counters track process-lifetime totals without locks. Cost is stored
// as float64 bits and updated with a CAS loop.
type Counters struct {
	requests         atomic.Int64
	errors           atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	costBits         atomic.Uint64
}

// CountersSnapshot is a point-in-time copy of the counters.
type CountersSnapshot struct {
	Requests         int64   `json:"requests"`
	Errors           int64   `json:"errors"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Observe folds one record into the counters.
func (c *Counters) Observe(rec Record) {
	c.requests.Add(1)
	if rec.Failed() {
		c.errors.Add(1)
		return
	}
	c.promptTokens.Add(rec.PromptTokens)
	c.completionTokens.Add(rec.CompletionTokens)
	c.addCost(rec.Cost)
}

func (c *Counters) addCost(delta float64) {
	if delta <= 0 {
		return
	}
	for {
		old := c.costBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if c.costBits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Seed primes the counters from persisted history.
func (c *Counters) Seed(requests, promptTokens, completionTokens int64, cost float64) {
	c.requests.Store(requests)
	c.promptTokens.Store(promptTokens)
	c.completionTokens.Store(completionTokens)
	if cost > 0 {
		c.costBits.Store(math.Float64bits(cost))
	}
}

// Snapshot returns the current totals.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Requests:         c.requests.Load(),
		Errors:           c.errors.Load(),
		PromptTokens:     c.promptTokens.Load(),
		CompletionTokens: c.completionTokens.Load(),
		Cost:             math.Float64frombits(c.costBits.Load()),
	}
}
