package filesstate

import (
	"time"

	"github.com/zeebo/xxh3"
)

const (
	// recentSetBits is the number of addressable entries in the bit array
	// (2^18, spec §4.3).
	recentSetBits = 1 << 18

	// bitsPerEntry is the decay resolution per entry (4 bits, 0..15).
	bitsPerEntry = 4

	// IgnoreAfterDefragDelay is how long a "recently defragmented" mark
	// is honored before it fully decays (spec §4.3).
	IgnoreAfterDefragDelay = 12 * time.Hour

	// recentSetTicks is how many decay ticks it takes a fresh mark (0xF)
	// to reach zero: one tick decrements by 1, and 0xF = 15.
	recentSetTicks = 15

	// recentSetTickPeriod = IgnoreAfterDefragDelay / 15 ≈ 48 minutes.
	recentSetTickPeriod = IgnoreAfterDefragDelay / recentSetTicks
)

// recentSet is the Recently-Defragmented Set (FuzzyEventTracker, spec
// §4.3): a fixed-size, time-decaying membership structure over short
// paths. Memory footprint is constant regardless of item count.
type recentSet struct {
	bits     []uint8 // one nibble per entry, packed two entries per byte
	size     int     // count of currently-nonzero entries
	lastTick time.Time
}

func newRecentSet(now time.Time) *recentSet {
	return &recentSet{
		bits:     make([]uint8, recentSetBits/2),
		lastTick: now,
	}
}

func hashIndex(shortPath string) uint32 {
	return uint32(xxh3.HashString(shortPath) % recentSetBits)
}

func (r *recentSet) get(idx uint32) uint8 {
	b := r.bits[idx/2]
	if idx%2 == 0 {
		return b & 0x0F
	}
	return (b >> 4) & 0x0F
}

func (r *recentSet) set(idx uint32, v uint8) {
	bi := idx / 2
	if idx%2 == 0 {
		r.bits[bi] = (r.bits[bi] & 0xF0) | (v & 0x0F)
	} else {
		r.bits[bi] = (r.bits[bi] & 0x0F) | ((v & 0x0F) << 4)
	}
}

// event marks shortPath as freshly defragmented, setting its entry to
// maximum decay level (0xF). Idempotent: calling it twice never decreases
// size (property 3).
func (r *recentSet) event(shortPath string) {
	idx := hashIndex(shortPath)
	if r.get(idx) == 0 {
		r.size++
	}
	r.set(idx, 0xF)
}

// recent reports whether shortPath's entry is currently nonzero.
func (r *recentSet) recent(shortPath string) bool {
	return r.get(hashIndex(shortPath)) != 0
}

// tick advances time, applying one decay step for every recentSetTickPeriod
// elapsed since the last tick. Call this periodically (e.g. once a minute)
// rather than relying on a dedicated goroutine to fire exactly on period.
func (r *recentSet) tick(now time.Time) {
	elapsed := now.Sub(r.lastTick)
	ticks := int(elapsed / recentSetTickPeriod)
	if ticks <= 0 {
		return
	}
	for i := 0; i < ticks; i++ {
		r.decayOnce()
	}
	r.lastTick = r.lastTick.Add(time.Duration(ticks) * recentSetTickPeriod)
}

func (r *recentSet) decayOnce() {
	for idx := uint32(0); idx < recentSetBits; idx++ {
		v := r.get(idx)
		if v == 0 {
			continue
		}
		v--
		r.set(idx, v)
		if v == 0 {
			r.size--
		}
	}
}

// Size returns the count of currently-nonzero entries.
func (r *recentSet) Size() int { return r.size }

// bytes serializes the packed nibble array for persistence (pkg/store).
// lastTick is not included: on load the caller supplies the current time,
// so decay restarts from the load time and time that passed between the
// snapshot and the load is not applied.
func (r *recentSet) bytes() []byte {
	out := make([]byte, len(r.bits))
	copy(out, r.bits)
	return out
}

// loadRecentSet reconstructs a recentSet from bytes previously returned by
// bytes(). A length mismatch (e.g. after a binary upgrade changes
// recentSetBits) is treated as no prior state.
func loadRecentSet(data []byte, now time.Time) *recentSet {
	r := newRecentSet(now)
	if len(data) != len(r.bits) {
		return r
	}
	copy(r.bits, data)
	r.size = 0
	for idx := uint32(0); idx < recentSetBits; idx++ {
		if r.get(idx) != 0 {
			r.size++
		}
	}
	return r
}
