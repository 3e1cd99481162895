package usagepolicy

import (
	"testing"
	"time"
)

func TestAvailableEmptyQueueLowBudget(t *testing.T) {
	c := New(1.0)
	// At queue_fill=0, use_factor=0.2: only 20% of a 5s window (0.5 limit)
	// is usable, i.e. ~0.5s of "real" budget. A long expected time should
	// be denied.
	if c.Available(0, 3*time.Second) {
		t.Errorf("expected denial at empty queue with large expected time")
	}
}

func TestAvailableFullQueueHigherBudget(t *testing.T) {
	c := New(1.0)
	if !c.Available(1.0, 100*time.Millisecond) {
		t.Errorf("expected admission at full queue with small expected time")
	}
}

// Property 5 (usage-governor monotonicity): if Available(q, t) is true and
// then an interval of duration t is recorded, a second Available(q, 0) with
// the same inputs still respects the window sums.
func TestMonotonicityAfterRecording(t *testing.T) {
	c := New(1.0)
	expected := 200 * time.Millisecond

	if !c.Available(1.0, expected) {
		t.Fatalf("expected initial admission")
	}
	start := time.Now()
	c.RecordUsage(start, expected, expected)

	// Immediately after recording, a zero-expected-time check must still
	// find every window sum within its limit.
	if !c.Available(1.0, 0) {
		t.Errorf("expected zero-time check to stay within limits after recording an admitted interval")
	}
}

func TestRecordUsageCapsCreditAtTwiceEstimate(t *testing.T) {
	c := New(1.0)
	start := time.Now()
	// Actual duration is wildly longer than estimated; credited interval
	// must be capped at 2x estimated, so a subsequent full-queue, tiny
	// expected-time check at the same instant is not perpetually denied
	// by an unbounded interval.
	c.RecordUsage(start, 10*time.Second, 100*time.Millisecond)

	c.mu.Lock()
	if len(c.intervals) != 1 {
		t.Fatalf("expected 1 recorded interval, got %d", len(c.intervals))
	}
	got := c.intervals[0].duration
	c.mu.Unlock()

	if got != 200*time.Millisecond {
		t.Errorf("credited duration = %v, want %v (2x estimate)", got, 200*time.Millisecond)
	}
}

func TestPruneDropsOldIntervals(t *testing.T) {
	c := New(1.0)
	old := time.Now().Add(-10 * time.Minute)
	c.RecordUsage(old, time.Second, time.Second)

	c.mu.Lock()
	c.pruneLocked(time.Now())
	n := len(c.intervals)
	c.mu.Unlock()

	if n != 0 {
		t.Errorf("expected old interval pruned, got %d remaining", n)
	}
}

func TestSpeedMultiplierWidensBudget(t *testing.T) {
	slow := New(0.1)
	fast := New(10.0)

	// Same queue fill and expected time; the faster multiplier should be
	// at least as permissive.
	if slow.Available(0.1, time.Second) && !fast.Available(0.1, time.Second) {
		t.Errorf("expected higher speed multiplier to be at least as permissive")
	}
}
