// Package extentmap implements the extent-map parser (component C2): the
// only consumer of the external extent-listing tool's textual output. It
// knows nothing about how that tool was invoked (see pkg/extcmd) — it only
// turns a stream of lines into per-file fragmentation records.
package extentmap

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/costmodel"
)

// Record is a File Fragmentation Record (spec §3): an immutable snapshot of
// one file's size, majority compression class, and fragmentation cost.
type Record struct {
	ShortPath  string
	Size       int64
	Compressed bool
	Cost       float64
}

var (
	// "File size of <path> is <bytes>"
	fileHeaderRE = regexp.MustCompile(`^File size of (\S+) is (\d+)`)

	// "  <n>:  <lstart>..<lend>:  <pstart>..<pend>:  <length>:  <flags>"
	// lstart/lend/pstart/pend/length are block counts; flags is a
	// comma-separated list that may be empty.
	extentLineRE = regexp.MustCompile(`^\s*\d+:\s+\d+\.\.\s*\d+:\s+(\d+)\.\.\s*(\d+):\s*(\d+):\s*([a-z_,]*)\s*$`)

	// "<path>: <n> extent(s) found"
	eofRE = regexp.MustCompile(`^(\S+):\s+(\d+)\s+extents?\s+found$`)
)

// Parser consumes line-oriented extent-listing output, in either
// single-file or batch mode (the two are textually indistinguishable — a
// batch is just several single-file blocks back to back), and emits one
// Record per completed file block.
//
// Parser is the sole owner of transient per-extent state (§3: "Extent...
// Transient: lives only inside the parser") — nothing outside this package
// ever sees a raw extent.
type Parser struct {
	model  *costmodel.Model
	logger *slog.Logger
}

// New returns a Parser that derives fragmentation costs using model and
// logs unrecognized lines to logger.
func New(model *costmodel.Model, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{model: model, logger: logger}
}

// fileBlock accumulates one file's state between its header and EOF lines.
type fileBlock struct {
	path             string
	size             int64
	extents          []costmodel.Extent
	compressedBlocks uint64
	plainBlocks      uint64
	havePrevPhysical bool
	prevPhysicalEnd  uint64
	lineNo           int
}

// Parse reads r to completion and returns one Record per file block the
// tool reported. A line that matches none of the three recognized shapes
// while a block is open is logged with its buffered context and that
// block's accumulator is discarded; parsing resumes at the next header
// line (§4.2, §7 "Parser protocol").
func (p *Parser) Parse(r io.Reader) ([]Record, error) {
	var records []Record
	var cur *fileBlock

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		switch {
		case fileHeaderRE.MatchString(line):
			if cur != nil {
				p.logUnrecognized(cur, "new file header seen before previous file's EOF line", line)
			}
			m := fileHeaderRE.FindStringSubmatch(line)
			size, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				p.logger.Error("extentmap: unparsable size in header", "line", line, "line_no", lineNo)
				cur = nil
				continue
			}
			cur = &fileBlock{path: m[1], size: size, lineNo: lineNo}

		case extentLineRE.MatchString(line):
			if cur == nil {
				p.logUnrecognizedNoBlock(line, lineNo)
				continue
			}
			m := extentLineRE.FindStringSubmatch(line)
			pStart, _ := strconv.ParseUint(m[1], 10, 64)
			pEnd, _ := strconv.ParseUint(m[2], 10, 64)
			length, _ := strconv.ParseUint(m[3], 10, 64)
			flags := m[4]
			encoded := strings.Contains(flags, "encoded")

			cur.extents = append(cur.extents, costmodel.Extent{
				PhysicalStart: pStart,
				PhysicalEnd:   pEnd,
				LengthBlocks:  length,
				Encoded:       encoded,
			})
			if encoded {
				cur.compressedBlocks += length
			} else {
				cur.plainBlocks += length
			}
			cur.havePrevPhysical = true
			cur.prevPhysicalEnd = pEnd

		case eofRE.MatchString(line):
			if cur == nil {
				p.logUnrecognizedNoBlock(line, lineNo)
				continue
			}
			m := eofRE.FindStringSubmatch(line)
			if m[1] != cur.path {
				p.logUnrecognized(cur, "EOF line path does not match open header", line)
				cur = nil
				continue
			}
			records = append(records, p.finish(cur))
			cur = nil

		default:
			if cur != nil {
				p.logUnrecognized(cur, "unrecognized line", line)
				cur = nil
			} else {
				p.logUnrecognizedNoBlock(line, lineNo)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("extentmap: scan: %w", err)
	}
	if cur != nil {
		p.logUnrecognized(cur, "stream ended before EOF line", "<eof>")
	}
	return records, nil
}

// finish converts a completed fileBlock into a Record, per §4.2: total seek
// time is accumulated from consecutive extents' physical ranges, cost is
// fragmentation_cost(size, total_seek_time), and class is whichever block
// total (compressed vs plain) is larger.
func (p *Parser) finish(b *fileBlock) Record {
	seek := p.model.TotalSeekTime(b.extents)
	cost := p.model.FragmentationCost(b.size, seek)
	return Record{
		ShortPath:  b.path,
		Size:       b.size,
		Compressed: b.compressedBlocks > b.plainBlocks,
		Cost:       cost,
	}
}

func (p *Parser) logUnrecognized(b *fileBlock, reason, line string) {
	p.logger.Error("extentmap: unrecognized line, discarding file block",
		"path", b.path,
		"reason", reason,
		"line", line,
		"header_line_no", b.lineNo,
		"extents_seen", len(b.extents),
	)
}

func (p *Parser) logUnrecognizedNoBlock(line string, lineNo int) {
	p.logger.Error("extentmap: unrecognized line outside any file block",
		"line", line,
		"line_no", lineNo,
	)
}
