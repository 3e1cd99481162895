package filesstate

import "sort"

// MaxQueueLength is the shared total cap across both class queues (spec §3).
const MaxQueueLength = 2000

// classQueue holds Records for one compression class, kept sorted ascending
// by cost so the highest-cost entry is always at the end ("Ordered by
// ascending cost; the highest-cost item is popped", spec §3).
type classQueue struct {
	entries []Record
}

func (q *classQueue) len() int { return len(q.entries) }

// insert places r in ascending-cost order. Callers must have already
// removed any existing entry with the same ShortPath (supersession).
func (q *classQueue) insert(r Record) {
	i := sort.Search(len(q.entries), func(i int) bool { return q.entries[i].Cost >= r.Cost })
	q.entries = append(q.entries, Record{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = r
}

// removeByPath removes the entry with the given short path, if present,
// and reports whether one was removed.
func (q *classQueue) removeByPath(shortPath string) bool {
	for i, e := range q.entries {
		if e.ShortPath == shortPath {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// popHighest removes and returns the highest-cost entry, or false if empty.
func (q *classQueue) popHighest() (Record, bool) {
	if len(q.entries) == 0 {
		return Record{}, false
	}
	last := len(q.entries) - 1
	r := q.entries[last]
	q.entries = q.entries[:last]
	return r, true
}

// trimToLowEnd drops entries from the low-cost end down to target size.
func (q *classQueue) trimToLowEnd(target int) {
	if target < 0 {
		target = 0
	}
	if len(q.entries) <= target {
		return
	}
	drop := len(q.entries) - target
	q.entries = q.entries[drop:]
}
