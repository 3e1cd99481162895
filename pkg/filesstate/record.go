// Package filesstate implements the Files-State component (C3): the
// central per-filesystem structure holding the two class queues, the
// recently-defragmented set, the cost-achievement history, the
// write-tracker and the thresholds derived from them.
package filesstate

import "github.com/hoonetorg/btrfs-defrag-core/pkg/extentmap"

// Class identifies one of the two compression classes Files-State tracks
// separately (spec §3's "Type Tracker").
type Class int

const (
	ClassUncompressed Class = iota
	ClassCompressed
)

func (c Class) String() string {
	if c == ClassCompressed {
		return "compressed"
	}
	return "uncompressed"
}

func classOf(compressed bool) Class {
	if compressed {
		return ClassCompressed
	}
	return ClassUncompressed
}

// Record is the File Fragmentation Record (spec §3): immutable once
// queued, replaced rather than mutated on re-measurement. It is the same
// shape C2 (pkg/extentmap) emits.
type Record = extentmap.Record
