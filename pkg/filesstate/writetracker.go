package filesstate

import "time"

const (
	// TrackedWrittenFilesConsolidationPeriod is how often the orchestrator
	// sweeps the write-tracker for ready records (spec §4.3).
	TrackedWrittenFilesConsolidationPeriod = 5 * time.Second

	// MaxWritesDelay forces consolidation of a record regardless of quiet
	// time, so a file under continuous write pressure is still eventually
	// considered.
	MaxWritesDelay = 2 * time.Hour

	// DefragCheckDistributionPeriod is the modulus (seconds) used to
	// derive each record's fuzz, spreading bursts of simultaneously
	// modified files across time.
	DefragCheckDistributionPeriod = 120 * time.Second

	// MaxTrackedWrittenFiles bounds write-tracker memory.
	MaxTrackedWrittenFiles = 10_000
)

// writeEvent is the Write-Event Record (spec §3).
type writeEvent struct {
	firstWrite time.Time
	lastWrite  time.Time
}

// writeTracker holds in-flight write events, keyed by short path, guarded
// by its own mutex in the owning State (never held together with the
// fragmentation mutex, per spec §5).
type writeTracker struct {
	events map[string]writeEvent
}

func newWriteTracker() *writeTracker {
	return &writeTracker{events: make(map[string]writeEvent)}
}

// upsert records a write to shortPath at now, creating the entry if absent.
func (wt *writeTracker) upsert(shortPath string, now time.Time) {
	e, ok := wt.events[shortPath]
	if !ok {
		wt.events[shortPath] = writeEvent{firstWrite: now, lastWrite: now}
		return
	}
	e.lastWrite = now
	wt.events[shortPath] = e
}

func (wt *writeTracker) remove(shortPath string) {
	delete(wt.events, shortPath)
}

func (wt *writeTracker) len() int { return len(wt.events) }

// fuzz derives the per-record jitter that spreads bursts of simultaneous
// writes across DefragCheckDistributionPeriod: the first write's
// microsecond component modulo the period.
func fuzz(firstWrite time.Time) time.Duration {
	micros := firstWrite.Nanosecond() / 1000
	return time.Duration(micros%int(DefragCheckDistributionPeriod.Seconds())) * time.Second
}

// ready reports whether e is due for consolidation at now, given the
// mount's commit delay: either it has been quiet for commitDelay+5s+fuzz,
// or it has been tracked for longer than MaxWritesDelay regardless of
// recent activity.
func ready(e writeEvent, now time.Time, commitDelay time.Duration) bool {
	quietFor := commitDelay + 5*time.Second + fuzz(e.firstWrite)
	if now.Sub(e.lastWrite) >= quietFor {
		return true
	}
	return now.Sub(e.firstWrite) >= MaxWritesDelay
}

// collectReady removes and returns all entries in wt that are ready at
// now, as a path-sorted-by-insertion-irrelevant slice of short paths.
func (wt *writeTracker) collectReady(now time.Time, commitDelay time.Duration) []string {
	var out []string
	for path, e := range wt.events {
		if ready(e, now, commitDelay) {
			out = append(out, path)
			delete(wt.events, path)
		}
	}
	return out
}

// evictOldest removes the oldest-last-write entries down to
// MaxTrackedWrittenFiles, returning the evicted paths so the caller can
// opportunistically queue them (spec §4.3).
func (wt *writeTracker) evictOldest() []string {
	if len(wt.events) <= MaxTrackedWrittenFiles {
		return nil
	}
	type kv struct {
		path string
		last time.Time
	}
	all := make([]kv, 0, len(wt.events))
	for p, e := range wt.events {
		all = append(all, kv{p, e.lastWrite})
	}
	// Simple selection: sort ascending by lastWrite, evict the front.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].last.Before(all[j-1].last); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	excess := len(all) - MaxTrackedWrittenFiles
	evicted := make([]string, 0, excess)
	for i := 0; i < excess; i++ {
		evicted = append(evicted, all[i].path)
		delete(wt.events, all[i].path)
	}
	return evicted
}

// WriteOriginThresholdMultiplier is the threshold_multiplier applied to
// write-origin records passed to update_files (spec §4.3): it lowers the
// bar for write-origin detection only enough that it contributes no more
// than an equal share with the slow scan over the long run.
func WriteOriginThresholdMultiplier(slowScanPeriod time.Duration) float64 {
	m := slowScanPeriod.Seconds() / IgnoreAfterDefragDelay.Seconds()
	if m > 1 {
		m = 1
	}
	return m
}
