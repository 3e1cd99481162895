package filesstate

import (
	"testing"
	"time"
)

func TestUpdateFilesDropsBelowThreshold(t *testing.T) {
	s := New()
	// Cold-start uncompressed threshold is 1.02*1.05 ≈ 1.071.
	n := s.UpdateFiles([]Record{{ShortPath: "/a", Size: 1000, Cost: 1.0}}, 1.0)
	if n != 0 {
		t.Errorf("expected record below threshold to be dropped, got n=%d", n)
	}
	if s.QueueLen(ClassUncompressed) != 0 {
		t.Errorf("expected empty queue, got %d", s.QueueLen(ClassUncompressed))
	}
}

func TestUpdateFilesQueuesAboveThreshold(t *testing.T) {
	s := New()
	n := s.UpdateFiles([]Record{{ShortPath: "/a", Size: 1000, Cost: 5.0}}, 1.0)
	if n != 1 {
		t.Errorf("expected 1 newly queued, got %d", n)
	}
	if s.QueueLen(ClassUncompressed) != 1 {
		t.Errorf("expected queue len 1, got %d", s.QueueLen(ClassUncompressed))
	}
}

// Invariant: a record is never simultaneously in both class queues
// (supersession on re-measurement with a different class).
func TestSupersessionAcrossClasses(t *testing.T) {
	s := New()
	s.UpdateFiles([]Record{{ShortPath: "/a", Size: 1000, Cost: 5.0, Compressed: false}}, 1.0)
	s.UpdateFiles([]Record{{ShortPath: "/a", Size: 1000, Cost: 5.0, Compressed: true}}, 1.0)

	if s.QueueLen(ClassUncompressed) != 0 {
		t.Errorf("expected /a removed from uncompressed queue after re-measure, got len %d", s.QueueLen(ClassUncompressed))
	}
	if s.QueueLen(ClassCompressed) != 1 {
		t.Errorf("expected /a present in compressed queue, got len %d", s.QueueLen(ClassCompressed))
	}
}

// Invariant 1 (ordering part): pop order is non-increasing cost within a
// class.
func TestPopOrderNonIncreasing(t *testing.T) {
	s := New()
	records := []Record{
		{ShortPath: "/a", Size: 1000, Cost: 3.0},
		{ShortPath: "/b", Size: 1000, Cost: 9.0},
		{ShortPath: "/c", Size: 1000, Cost: 5.0},
	}
	s.UpdateFiles(records, 1.0)

	var last float64 = 1e9
	for {
		r, ok := s.PopMostInteresting()
		if !ok {
			break
		}
		if r.Cost > last {
			t.Errorf("pop order increased: got %v after %v", r.Cost, last)
		}
		last = r.Cost
	}
}

// E4: queue filled to 2000 with cost 50 entries (1000 compressed, 1000
// uncompressed; 50 clears both cold-start thresholds), type tracker share
// 1:3 (compressed:uncompressed). Afterwards total <= 2000 and each class
// keeps at least its floor of 2 entries.
func TestE4QueueCleanupProportional(t *testing.T) {
	s := New()

	var recs []Record
	for i := 0; i < 1000; i++ {
		recs = append(recs, Record{ShortPath: pathN("c", i), Size: 1_000_000, Cost: 50.0, Compressed: true})
	}
	for i := 0; i < 1000; i++ {
		recs = append(recs, Record{ShortPath: pathN("u", i), Size: 1_000_000, Cost: 50.0, Compressed: false})
	}
	// Force a 1:3 type-tracker share by observing uncompressed 3x as often
	// as compressed before the batch insert (queue insert also calls
	// observe once per record, so pre-bias here to get close to 1:3 after
	// 1000/1000 inserts add equally).
	for i := 0; i < 2000; i++ {
		s.types.observe(ClassUncompressed)
	}

	s.UpdateFiles(recs, 1.0)

	total := s.QueueLen(ClassCompressed) + s.QueueLen(ClassUncompressed)
	if total > MaxQueueLength {
		t.Fatalf("E4: total queue length %d exceeds cap %d", total, MaxQueueLength)
	}
	if s.QueueLen(ClassCompressed) < 2 {
		t.Errorf("E4: compressed queue target floor violated: %d", s.QueueLen(ClassCompressed))
	}
	if s.QueueLen(ClassUncompressed) < 2 {
		t.Errorf("E4: uncompressed queue target floor violated: %d", s.QueueLen(ClassUncompressed))
	}
}

func pathN(prefix string, i int) string {
	return prefix + "/" + string(rune('a'+i%26)) + string(rune(i))
}

// E5: one file defragmented (3.0 -> 1.0, 10MiB); history now contains that
// entry and feeds the next threshold computation.
func TestE5HistorizeFeedsThreshold(t *testing.T) {
	s := New()
	before := s.Threshold(ClassUncompressed)

	s.HistorizeCostAchievement(Record{ShortPath: "/big", Compressed: false}, 3.0, 1.0, 10*1024*1024)
	// recompute is rate-limited to once per CostComputeDelay; force it by
	// calling with a far-future time via the exported historize path,
	// which already calls recompute(s.now()) — simulate elapsed time by
	// directly manipulating the history's lastComputed.
	s.fragMu.Lock()
	s.hist[ClassUncompressed].lastComputed = time.Time{}
	s.hist[ClassUncompressed].recompute(time.Now())
	after := s.hist[ClassUncompressed].Threshold()
	s.fragMu.Unlock()

	if after == before {
		t.Errorf("expected threshold to change after historize, stayed at %v", after)
	}
}

// Property 3: defragmented! is idempotent; event() never decreases size.
func TestDefragmentedIdempotent(t *testing.T) {
	s := New()
	s.Defragmented("/x")
	sizeAfterFirst := s.RecentSetSize()
	s.Defragmented("/x")
	sizeAfterSecond := s.RecentSetSize()

	if sizeAfterSecond != sizeAfterFirst {
		t.Errorf("expected stable size after duplicate mark: %d vs %d", sizeAfterFirst, sizeAfterSecond)
	}
	if !s.RecentlyDefragmented("/x") {
		t.Errorf("expected /x to be recently defragmented")
	}
}

// Property 4: after >= IgnoreAfterDefragDelay of decay, recent?(x) is
// false for all marked x, and size returns to 0.
func TestRecentSetDecaysToZero(t *testing.T) {
	s := New()
	s.Defragmented("/x")
	s.Defragmented("/y")

	s.TickRecentSet(time.Now().Add(IgnoreAfterDefragDelay + time.Hour))

	if s.RecentlyDefragmented("/x") || s.RecentlyDefragmented("/y") {
		t.Errorf("expected all marks decayed after IgnoreAfterDefragDelay")
	}
	if s.RecentSetSize() != 0 {
		t.Errorf("expected size 0 after full decay, got %d", s.RecentSetSize())
	}
}

func TestFileWrittenToIgnoresRecentlyDefragmented(t *testing.T) {
	s := New()
	s.Defragmented("/x")
	s.FileWrittenTo("/x")

	if s.WriteTrackerLen() != 0 {
		t.Errorf("expected write to recently-defragmented file to be ignored")
	}
}

func TestWriteConsolidationReady(t *testing.T) {
	s := New()
	s.FileWrittenTo("/a")

	now := time.Now().Add(time.Hour) // comfortably past commitDelay+5s+fuzz
	paths := s.ConsolidateWrites(now, 30*time.Second)
	if len(paths) != 1 || paths[0] != "/a" {
		t.Errorf("expected /a to be ready for consolidation, got %v", paths)
	}
	if s.WriteTrackerLen() != 0 {
		t.Errorf("expected write tracker emptied after consolidation")
	}
}
