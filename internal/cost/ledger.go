// Package cost tracks LLM spend during a pipeline run. The ledger feeds two
// consumers: the run summary, which reports the total, and the enrichment
// gate, which stops paying for optional calls once the run budget is gone.
package cost

import (
	"sort"
	"sync"
)

// Stage labels used by the pipeline when charging the ledger.
const (
	StageGeneration = "generation"
	StagePersona    = "persona"
	StageEmbedding  = "embedding"
	StageDiscovery  = "discovery"
	StageEnrichment = "enrichment"
)

// Ledger accumulates USD spend for one run against an optional budget.
// Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	budget  float64
	total   float64
	byStage map[string]float64
}

// NewLedger creates a ledger. A budget of zero or less means unlimited: the
// ledger still counts, it just never reports exceeded.
func NewLedger(budgetUSD float64) *Ledger {
	return &Ledger{budget: budgetUSD, byStage: make(map[string]float64)}
}

// Add charges an amount to a stage. Negative amounts are ignored.
func (l *Ledger) Add(stage string, usd float64) {
	if usd <= 0 {
		return
	}
	l.mu.Lock()
	l.total += usd
	l.byStage[stage] += usd
	l.mu.Unlock()
}

// Total returns the spend so far.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Exceeded reports whether the spend has reached the budget. Always false
// without a budget.
func (l *Ledger) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget > 0 && l.total >= l.budget
}

// Remaining returns the budget left, zero-floored. Without a budget it
// returns 0.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget <= 0 {
		return 0
	}
	if l.total >= l.budget {
		return 0
	}
	return l.budget - l.total
}

// StageEntry is one line of the per-stage breakdown.
type StageEntry struct {
	Stage string  `json:"stage"`
	USD   float64 `json:"usd"`
}

// Breakdown returns the per-stage spend, ordered by stage name for stable
// output.
func (l *Ledger) Breakdown() []StageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StageEntry, 0, len(l.byStage))
	for stage, usd := range l.byStage {
		out = append(out, StageEntry{Stage: stage, USD: usd})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
