package mount

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Entry is one parsed line of the kernel mount table for a Btrfs mount
// (spec §6: "a file whose reverse-order lines match `<dev> <mountpoint>
// btrfs <options>`").
type Entry struct {
	Device      string
	Mountpoint  string
	Options     []string
	CompressAlg string // "" if not compressed
	CompressForce bool
	CommitDelay time.Duration
	Autodefrag  bool
}

const defaultCommitDelay = 30 * time.Second

// ReadMountTable reads and parses the kernel mount table at path (normally
// /proc/mounts), returning only btrfs entries, in reverse line order so
// that the most recently established mount of a given device wins when a
// caller builds a path->mount map (the kernel appends later mounts at the
// end of the table).
func ReadMountTable(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mount: open %q: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mount: scan %q: %w", path, err)
	}

	var entries []Entry
	for i := len(lines) - 1; i >= 0; i-- {
		e, ok := parseMountLine(lines[i])
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func parseMountLine(line string) (Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Entry{}, false
	}
	dev, mountpoint, fstype, opts := fields[0], fields[1], fields[2], fields[3]
	if fstype != "btrfs" {
		return Entry{}, false
	}

	e := Entry{
		Device:      dev,
		Mountpoint:  mountpoint,
		CommitDelay: defaultCommitDelay,
	}
	e.Options = strings.Split(opts, ",")
	for _, opt := range e.Options {
		switch {
		case strings.HasPrefix(opt, "compress-force="):
			e.CompressAlg = strings.TrimPrefix(opt, "compress-force=")
			e.CompressForce = true
		case strings.HasPrefix(opt, "compress="):
			e.CompressAlg = strings.TrimPrefix(opt, "compress=")
		case strings.HasPrefix(opt, "commit="):
			if n, err := strconv.Atoi(strings.TrimPrefix(opt, "commit=")); err == nil {
				e.CommitDelay = time.Duration(n) * time.Second
			}
		case opt == "autodefrag":
			e.Autodefrag = true
		}
	}
	return e, true
}

// Compressed reports whether the mount uses btrfs-level compression.
func (e Entry) Compressed() bool { return e.CompressAlg != "" }
