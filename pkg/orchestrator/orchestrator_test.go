package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/extentmap"
	"github.com/hoonetorg/btrfs-defrag-core/pkg/filesstate"
)

// newTestState builds a state whose queue fill is at least minFill by
// flooding it with high-cost records (cost comfortably clears any
// cold-start threshold).
func newTestState(t *testing.T, minFill float64) *filesstate.State {
	t.Helper()
	s := filesstate.New()
	want := int(minFill * float64(filesstate.MaxQueueLength))
	var records []extentmap.Record
	for i := 0; i < want+1; i++ {
		records = append(records, extentmap.Record{
			ShortPath: fmt.Sprintf("file-%d", i),
			Size:      1 << 20,
			Cost:      100,
		})
	}
	s.UpdateFiles(records, 1.0)
	return s
}

func TestToShortPath(t *testing.T) {
	cases := []struct {
		mountpoint, abs, want string
	}{
		{"/mnt/data", "/mnt/data/a/b.txt", "a/b.txt"},
		{"/mnt/data/", "/mnt/data/a/b.txt", "a/b.txt"},
		{"/mnt/data", "/mnt/data/file", "file"},
	}
	for _, c := range cases {
		if got := toShortPath(c.mountpoint, c.abs); got != c.want {
			t.Errorf("toShortPath(%q, %q) = %q, want %q", c.mountpoint, c.abs, got, c.want)
		}
	}
}

func TestBatchArgLenGrowsWithPaths(t *testing.T) {
	small := batchArgLen([]string{"/a"})
	big := batchArgLen([]string{"/a", "/much/longer/path/name"})
	if big <= small {
		t.Errorf("expected batch arg length to grow, got small=%d big=%d", small, big)
	}
}

func TestInterDefragDelayFullSpeedAtHighQueueFill(t *testing.T) {
	o := &Orchestrator{}
	o.state = newTestState(t, 0.5) // 50% fill, far above the 1% full-speed point
	d := o.interDefragDelay()
	if d != minDelayBetweenDefrags {
		t.Errorf("expected full-speed delay at high queue fill, got %v", d)
	}
}

func TestIsSettledAtCostOne(t *testing.T) {
	o := &Orchestrator{}
	pr := &pendingRecord{lastCost: 1.0, queuedAt: time.Now()}
	if !o.isSettled(pr, time.Now()) {
		t.Error("expected settlement at cost 1.0")
	}
}

func TestIsSettledAfterQuietImprovement(t *testing.T) {
	o := &Orchestrator{}
	now := time.Now()
	pr := &pendingRecord{lastCost: 1.8, improved: true, lastChange: now.Add(-7 * time.Second), queuedAt: now.Add(-10 * time.Second)}
	if !o.isSettled(pr, now) {
		t.Error("expected settlement after quiet period following an improvement")
	}
}

func TestIsSettledAfterMaxWait(t *testing.T) {
	o := &Orchestrator{}
	now := time.Now()
	pr := &pendingRecord{lastCost: 3.0, queuedAt: now.Add(-36 * time.Second)}
	if !o.isSettled(pr, now) {
		t.Error("expected settlement after max pending wait regardless of cost")
	}
}

func TestIsSettledNotYet(t *testing.T) {
	o := &Orchestrator{}
	now := time.Now()
	pr := &pendingRecord{lastCost: 2.0, queuedAt: now.Add(-1 * time.Second)}
	if o.isSettled(pr, now) {
		t.Error("expected record to remain pending")
	}
}
