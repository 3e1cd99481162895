package filesstate

import (
	"sync"
	"time"
)

// State is one filesystem's Files-State (C3): two class queues, the
// recently-defragmented set, the cost-achievement history, the
// write-tracker and the thresholds derived from history.
//
// Two independent mutexes guard disjoint state (spec §5): fragMu covers
// the queues, history, type tracker and recently-defragmented set;
// writeMu covers the write-tracker. The type tracker has no mutex of its
// own. A goroutine never holds both at once.
type State struct {
	fragMu sync.Mutex
	queues [2]classQueue
	paths  map[string]Class // short path -> class, for O(1) supersession lookup
	hist   [2]*history
	types  typeTracker
	recent *recentSet
	accum  [2]float64 // per-class weighted-round-robin fetch accumulators

	writeMu sync.Mutex
	writes  *writeTracker

	now func() time.Time
}

// New constructs an empty State, seeding each class's history with the
// cold-start values (spec §4.3).
func New() *State {
	return &State{
		paths:  make(map[string]Class),
		hist:   [2]*history{ClassUncompressed: newHistory(ClassUncompressed), ClassCompressed: newHistory(ClassCompressed)},
		recent: newRecentSet(time.Now()),
		writes: newWriteTracker(),
		now:    time.Now,
	}
}

// UpdateFiles is update_files(records, threshold_multiplier?) (spec §4.3).
// It drops records below their class threshold (scaled by
// thresholdMultiplier, used for write-origin batches — pass 1.0 for
// slow-scan batches), supersedes any existing queue entry with the same
// short path, inserts survivors, and enforces MaxQueueLength by trimming
// proportional to each class's Type-Tracker share. It returns the number
// of short paths newly present in a queue.
func (s *State) UpdateFiles(records []Record, thresholdMultiplier float64) int {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()

	newlyQueued := 0
	for _, r := range records {
		c := classOf(r.Compressed)
		if !s.belowThresholdLocked(r, c, thresholdMultiplier) {
			continue
		}
		existed := s.removeFromQueuesLocked(r.ShortPath)
		s.queues[c].insert(r)
		s.paths[r.ShortPath] = c
		s.types.observe(c)
		if !existed {
			newlyQueued++
		}
	}

	s.enforceCapLocked()
	return newlyQueued
}

// belowThresholdLocked is the *negation* of BelowThresholdCost: a record
// survives into the queue only when its cost exceeds the class threshold.
func (s *State) belowThresholdLocked(r Record, c Class, mult float64) bool {
	return !s.belowThresholdCostLocked(r, c, mult)
}

func (s *State) belowThresholdCostLocked(r Record, c Class, mult float64) bool {
	th := s.hist[c].Threshold()
	return r.Cost <= 1+mult*(th-1)
}

// BelowThresholdCost is below_threshold_cost(record, mult?) (spec §4.3).
func (s *State) BelowThresholdCost(r Record, mult float64) bool {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	return s.belowThresholdCostLocked(r, classOf(r.Compressed), mult)
}

func (s *State) removeFromQueuesLocked(shortPath string) bool {
	c, ok := s.paths[shortPath]
	if !ok {
		return false
	}
	s.queues[c].removeByPath(shortPath)
	delete(s.paths, shortPath)
	return true
}

// enforceCapLocked trims entries proportional to Type-Tracker share when
// total queue length exceeds MaxQueueLength (spec §3's "Queue cleanup").
func (s *State) enforceCapLocked() {
	total := s.queues[ClassCompressed].len() + s.queues[ClassUncompressed].len()
	if total <= MaxQueueLength {
		return
	}

	shareCompressed := s.types.share(ClassCompressed)
	targetCompressed := int(shareCompressed * MaxQueueLength)
	targetUncompressed := MaxQueueLength - targetCompressed
	if targetCompressed < 2 {
		targetCompressed = 2
	}
	if targetUncompressed < 2 {
		targetUncompressed = 2
	}

	// If one class doesn't need its whole reserve, give the slack to the
	// other (spec §4.3).
	if s.queues[ClassCompressed].len() < targetCompressed {
		targetUncompressed += targetCompressed - s.queues[ClassCompressed].len()
	}
	if s.queues[ClassUncompressed].len() < targetUncompressed {
		targetCompressed += targetUncompressed - s.queues[ClassUncompressed].len()
	}

	s.trimClassLocked(ClassCompressed, targetCompressed)
	s.trimClassLocked(ClassUncompressed, targetUncompressed)
}

func (s *State) trimClassLocked(c Class, target int) {
	q := &s.queues[c]
	for _, e := range q.entries[:max0(len(q.entries)-target)] {
		delete(s.paths, e.ShortPath)
	}
	q.trimToLowEnd(target)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// PopMostInteresting is pop_most_interesting() (spec §4.3): weighted
// round-robin between the two classes, falling back to whichever class is
// non-empty if the chosen one has nothing queued.
func (s *State) PopMostInteresting() (Record, bool) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()

	if s.queues[ClassCompressed].len() == 0 && s.queues[ClassUncompressed].len() == 0 {
		return Record{}, false
	}

	s.accum[ClassCompressed] += s.types.share(ClassCompressed)
	s.accum[ClassUncompressed] += s.types.share(ClassUncompressed)

	winner := ClassUncompressed
	switch {
	case s.accum[ClassCompressed] >= 1.0 && s.accum[ClassUncompressed] >= 1.0:
		if s.accum[ClassCompressed] >= s.accum[ClassUncompressed] {
			winner = ClassCompressed
		}
	case s.accum[ClassCompressed] >= 1.0:
		winner = ClassCompressed
	case s.accum[ClassUncompressed] >= 1.0:
		winner = ClassUncompressed
	default:
		// Neither accumulator has crossed 1.0 yet; pop from whichever is
		// currently ahead so a non-empty queue still makes progress.
		if s.accum[ClassCompressed] > s.accum[ClassUncompressed] {
			winner = ClassCompressed
		}
	}

	other := ClassUncompressed
	if winner == ClassUncompressed {
		other = ClassCompressed
	}

	if s.queues[winner].len() == 0 {
		winner = other
	}

	r, ok := s.queues[winner].popHighest()
	if !ok {
		return Record{}, false
	}
	if s.accum[winner] >= 1.0 {
		s.accum[winner] -= 1.0
	}
	delete(s.paths, r.ShortPath)
	return r, true
}

// FileWrittenTo is file_written_to(path) (spec §4.3): ignored if path is
// currently marked recently-defragmented, otherwise upserts a write event.
func (s *State) FileWrittenTo(shortPath string) {
	s.fragMu.Lock()
	recent := s.recent.recent(shortPath)
	s.fragMu.Unlock()
	if recent {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.writes.upsert(shortPath, s.now())
}

// HistorizeCostAchievement is historize_cost_achievement(record, initial,
// final, size) (spec §4.3): appends to the class's history and recomputes
// thresholds (subject to CostComputeDelay).
func (s *State) HistorizeCostAchievement(r Record, initial, final float64, size int64) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	c := classOf(r.Compressed)
	s.hist[c].append(HistoryEntry{InitialCost: initial, FinalCost: final, SizeBytes: size})
	s.hist[c].recompute(s.now())
}

// Threshold returns class c's current threshold, for callers (the
// orchestrator's defrag loop) that need it without a full record.
func (s *State) Threshold(c Class) float64 {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	return s.hist[c].Threshold()
}

// AverageCost is average_cost(class) (spec §4.1), used by the cost model's
// DefragTime.
func (s *State) AverageCost(c Class) float64 {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	return s.hist[c].AverageFinalCost()
}

// RecentlyDefragmented is recently_defragmented?(shortname) (spec §4.3).
func (s *State) RecentlyDefragmented(shortPath string) bool {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	return s.recent.recent(shortPath)
}

// Defragmented marks shortPath as recently defragmented (spec §4.3).
// Idempotent: calling it twice leaves Recent true exactly as once, and
// never decreases the set's Size (property 3).
func (s *State) Defragmented(shortPath string) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	s.recent.event(shortPath)
}

// TickRecentSet applies recently-defragmented decay for elapsed time;
// the orchestrator's write-consolidation loop invokes this on each of its
// scheduled ticks rather than running a dedicated decay goroutine.
func (s *State) TickRecentSet(now time.Time) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	s.recent.tick(now)
}

// RecentSetSize exposes the decaying set's current membership count, for
// the status HTTP surface.
func (s *State) RecentSetSize() int {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	return s.recent.Size()
}

// QueueLen returns the current length of class c's queue, for the status
// surface and for the orchestrator's queue_fill computation.
func (s *State) QueueLen(c Class) int {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	return s.queues[c].len()
}

// QueueFill is the combined queue occupancy fraction in [0, 1], fed to the
// usage policy's use_factor and to the orchestrator's inter-defrag sleep.
func (s *State) QueueFill() float64 {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	total := s.queues[ClassCompressed].len() + s.queues[ClassUncompressed].len()
	return float64(total) / float64(MaxQueueLength)
}

// ConsolidateWrites is the write-consolidation sweep (spec §4.3): it
// removes ready write events, evicts overflow, and returns the short paths
// that should be re-measured and fed back into UpdateFiles with
// WriteOriginThresholdMultiplier.
func (s *State) ConsolidateWrites(now time.Time, commitDelay time.Duration) []string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ready := s.writes.collectReady(now, commitDelay)
	evicted := s.writes.evictOldest()
	return append(ready, evicted...)
}

// WriteTrackerLen exposes the write-tracker's current size, for the
// status surface.
func (s *State) WriteTrackerLen() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writes.len()
}

// SnapshotRecentSet serializes the recently-defragmented set for
// persistence (pkg/store's "recent" key, spec §6).
func (s *State) SnapshotRecentSet() []byte {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	return s.recent.bytes()
}

// LoadRecentSet replaces the recently-defragmented set with one
// deserialized from a prior SnapshotRecentSet, called once at startup
// before the orchestrator begins scanning.
func (s *State) LoadRecentSet(data []byte, now time.Time) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	s.recent = loadRecentSet(data, now)
}

// LoadHistory seeds class c's cost-achievement history from persisted rows
// (oldest first), replacing the cold-start seed and recomputing the
// class's threshold immediately. Called once at startup, before the
// orchestrator begins scanning, so thresholds reflect accumulated history
// across a restart instead of resetting to the cold-start seed.
func (s *State) LoadHistory(c Class, entries []HistoryEntry) {
	s.fragMu.Lock()
	defer s.fragMu.Unlock()
	s.hist[c].load(entries)
}
