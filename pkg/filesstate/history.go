package filesstate

import (
	"sort"
	"time"
)

const (
	// MaxHistoryEntries caps each class's cost-achievement history (spec §3).
	MaxHistoryEntries = 2000

	// CostThresholdPercentile is the weighted percentile the threshold is
	// drawn from (spec §4.3).
	CostThresholdPercentile = 50.0

	// MinExpectedBenefit scales the raw percentile value up so a file must
	// promise at least this much improvement to be worth queueing.
	MinExpectedBenefit = 1.05

	// CostComputeDelay bounds how often the threshold is recomputed.
	CostComputeDelay = 60 * time.Second
)

// HistoryEntry is one post-defrag re-measurement outcome (spec §3).
type HistoryEntry struct {
	InitialCost float64
	FinalCost   float64
	SizeBytes   int64
}

// history is the per-class cost-achievement history plus its derived,
// periodically-recomputed threshold.
type history struct {
	entries []HistoryEntry

	threshold    float64
	avgInitial   float64
	avgFinal     float64
	lastComputed time.Time
}

// coldStartSeed returns the single seed entry used before any real
// measurement exists (spec §4.3: "seeds costs of 2.65 (compressed) and
// 1.02 (uncompressed) for one million-byte files").
func coldStartSeed(c Class) HistoryEntry {
	cost := 1.02
	if c == ClassCompressed {
		cost = 2.65
	}
	return HistoryEntry{InitialCost: cost, FinalCost: cost, SizeBytes: 1_000_000}
}

func newHistory(c Class) *history {
	h := &history{entries: []HistoryEntry{coldStartSeed(c)}}
	h.recompute(time.Time{})
	return h
}

// append adds an entry, dropping the oldest beyond MaxHistoryEntries.
func (h *history) append(e HistoryEntry) {
	h.entries = append(h.entries, e)
	if len(h.entries) > MaxHistoryEntries {
		h.entries = h.entries[len(h.entries)-MaxHistoryEntries:]
	}
}

// load replaces the cold-start seed with persisted entries, oldest first.
// Called once at startup when prior history exists on disk; a nil or empty
// slice leaves the cold-start seed in place.
func (h *history) load(entries []HistoryEntry) {
	if len(entries) == 0 {
		return
	}
	if len(entries) > MaxHistoryEntries {
		entries = entries[len(entries)-MaxHistoryEntries:]
	}
	h.entries = entries
	h.recompute(time.Time{})
}

// recompute derives the threshold and weighted average costs from the
// current history, unless less than CostComputeDelay has elapsed since the
// last recompute (pass a zero now to force recomputation, e.g. on cold
// start or in tests).
func (h *history) recompute(now time.Time) {
	if !h.lastComputed.IsZero() && !now.IsZero() && now.Sub(h.lastComputed) < CostComputeDelay {
		return
	}

	sorted := make([]HistoryEntry, len(h.entries))
	copy(sorted, h.entries)
	// Ascending final_cost; ties broken by lowest size first (documented
	// resolution of spec §9's weighted-quantile tie-break).
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FinalCost != sorted[j].FinalCost {
			return sorted[i].FinalCost < sorted[j].FinalCost
		}
		return sorted[i].SizeBytes < sorted[j].SizeBytes
	})

	// Weight of the entry at sorted position i (1-based) is size_i * i,
	// per spec §4.3/§9 — traversal order here is the ascending-final-cost
	// walk itself (Open Question (b): preserved verbatim, documented).
	var totalWeight float64
	weights := make([]float64, len(sorted))
	for i, e := range sorted {
		w := float64(e.SizeBytes) * float64(i+1)
		weights[i] = w
		totalWeight += w
	}

	if totalWeight == 0 {
		h.lastComputed = now
		return
	}

	target := totalWeight * (CostThresholdPercentile / 100.0)
	var acc float64
	var rawThreshold float64
	var weightedInitialSum, weightedFinalSum, weightSumSoFar float64
	reachedTarget := false

	for i, e := range sorted {
		acc += weights[i]
		weightedInitialSum += e.InitialCost * weights[i]
		weightedFinalSum += e.FinalCost * weights[i]
		weightSumSoFar += weights[i]
		if !reachedTarget && acc >= target {
			rawThreshold = e.FinalCost
			reachedTarget = true
		}
	}
	if !reachedTarget {
		rawThreshold = sorted[len(sorted)-1].FinalCost
	}

	h.threshold = rawThreshold * MinExpectedBenefit
	if weightSumSoFar > 0 {
		h.avgInitial = weightedInitialSum / weightSumSoFar
		h.avgFinal = weightedFinalSum / weightSumSoFar
	}
	h.lastComputed = now
}

// Threshold returns the class's current threshold (already scaled by
// MinExpectedBenefit).
func (h *history) Threshold() float64 { return h.threshold }

// AverageFinalCost is average_cost(class), fed to costmodel.DefragTime.
func (h *history) AverageFinalCost() float64 { return h.avgFinal }
