package filesstate

// typeTrackerAgeThreshold is the memory constant beyond which the type
// tracker's accumulated weight is aged down multiplicatively (spec §3).
const typeTrackerAgeThreshold = 10_000

// typeTracker holds a running per-class weight, used both to drive the
// weighted round-robin in pop_most_interesting and to proportion queue
// cleanup targets between the two classes.
type typeTracker struct {
	weight [2]float64
}

// observe records one unit of activity for class c (called whenever a
// record of that class is inserted into a queue, including when it
// supersedes an existing entry), aging both weights down
// multiplicatively if their sum exceeds typeTrackerAgeThreshold so old
// activity does not dominate forever.
func (t *typeTracker) observe(c Class) {
	t.weight[c]++
	total := t.weight[ClassCompressed] + t.weight[ClassUncompressed]
	if total > typeTrackerAgeThreshold {
		scale := typeTrackerAgeThreshold / total
		t.weight[ClassCompressed] *= scale
		t.weight[ClassUncompressed] *= scale
	}
}

// share returns class c's fraction of total tracked weight, defaulting to
// an even 0.5/0.5 split when nothing has been observed yet.
func (t *typeTracker) share(c Class) float64 {
	total := t.weight[ClassCompressed] + t.weight[ClassUncompressed]
	if total == 0 {
		return 0.5
	}
	return t.weight[c] / total
}
