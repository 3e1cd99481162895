package extentmap

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/costmodel"
)

func newTestParser() *Parser {
	return New(costmodel.New(1), nil)
}

// E1: single file, 1MiB, one extent starting at block 1000: cost exactly 1.0, not queued (queueing is C3's job, out of scope here).
func TestE1SingleExtent(t *testing.T) {
	input := `File size of /data/a.txt is 1048576
   0:        0..     255:       1000..    1255:    256:             last,eof
/data/a.txt: 1 extent found
`
	recs, err := newTestParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.ShortPath != "/data/a.txt" || r.Size != 1048576 {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.Cost != 1.0 {
		t.Errorf("E1: cost = %v, want 1.0", r.Cost)
	}
	if r.Compressed {
		t.Errorf("E1: expected uncompressed")
	}
}

// E2: 10MiB file, 100 extents scattered across ~2GiB: cost must exceed 2.0.
func TestE2ScatteredExtents(t *testing.T) {
	const numExtents = 100
	const totalSize = 10 * 1024 * 1024
	const spanBlocks = (2 * 1024 * 1024 * 1024) / costmodel.BlockSize
	blocksPerExtent := uint64(totalSize / numExtents / costmodel.BlockSize)
	stride := uint64(spanBlocks / numExtents)

	var sb strings.Builder
	fmt.Fprintf(&sb, "File size of /data/b.bin is %d\n", totalSize)
	for i := 0; i < numExtents; i++ {
		start := uint64(i) * stride
		end := start + blocksPerExtent
		fmt.Fprintf(&sb, "  %3d: %10d..%10d: %10d..%10d: %6d: \n", i, 0, 0, start, end, blocksPerExtent)
	}
	fmt.Fprintf(&sb, "/data/b.bin: %d extents found\n", numExtents)

	recs, err := newTestParser().Parse(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Cost <= 2.0 {
		t.Errorf("E2: cost = %v, want > 2.0", recs[0].Cost)
	}
}

// E3-adjacent: batch mode is just repeated single-file blocks; confirm the
// parser correctly separates 3 files with no cross-contamination.
func TestBatchModeMultipleFiles(t *testing.T) {
	input := `File size of /a is 4096
   0:        0..       0:       100..     100:      1:             last,eof
/a: 1 extent found
File size of /b is 8192
   0:        0..       1:       200..     201:      2:             last,eof
/b: 1 extent found
File size of /c is 4096
   0:        0..       0:       300..     300:      1:             last,eof
/c: 1 extent found
`
	recs, err := newTestParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"/a", "/b", "/c"} {
		if recs[i].ShortPath != want {
			t.Errorf("record %d: path = %q, want %q", i, recs[i].ShortPath, want)
		}
	}
}

func TestCompressedClassification(t *testing.T) {
	input := `File size of /c.bin is 8192
   0:        0..       0:       100..     100:      1:             encoded
   1:        1..       1:       101..     101:      1:             encoded,last,eof
/c.bin: 2 extents found
`
	recs, err := newTestParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if !recs[0].Compressed {
		t.Errorf("expected record classified compressed")
	}
}

// Unrecognized lines mid-block are logged and discard that file's block,
// but parsing resumes cleanly at the next header.
func TestUnrecognizedLineResetsBlock(t *testing.T) {
	input := `File size of /bad is 4096
this line matches nothing we recognize
File size of /good is 4096
   0:        0..       0:       100..     100:      1:             last,eof
/good: 1 extent found
`
	recs, err := newTestParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record (bad file dropped), got %d", len(recs))
	}
	if recs[0].ShortPath != "/good" {
		t.Errorf("expected surviving record to be /good, got %q", recs[0].ShortPath)
	}
}

// Property 7 (parser round-trip): a synthesized extent listing with known
// geometry must match the cost model's own analytically-computed cost.
func TestParserRoundTripMatchesCostModel(t *testing.T) {
	model := costmodel.New(1)
	extents := []costmodel.Extent{
		{PhysicalStart: 0, PhysicalEnd: 100, LengthBlocks: 100},
		{PhysicalStart: 5000, PhysicalEnd: 5100, LengthBlocks: 100},
	}
	wantSeek := model.TotalSeekTime(extents)
	wantCost := model.FragmentationCost(200*costmodel.BlockSize, wantSeek)

	var sb strings.Builder
	fmt.Fprintf(&sb, "File size of /r is %d\n", 200*costmodel.BlockSize)
	fmt.Fprintf(&sb, "   0:        0..      99:          0..      99:    100: \n")
	fmt.Fprintf(&sb, "   1:      100..     199:       5000..    5099:    100:    last,eof\n")
	fmt.Fprintf(&sb, "/r: 2 extents found\n")

	recs, err := New(model, nil).Parse(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Cost != wantCost {
		t.Errorf("parser cost = %v, want analytically-computed %v", recs[0].Cost, wantCost)
	}
}
