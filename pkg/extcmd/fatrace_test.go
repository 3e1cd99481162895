package extcmd

import (
	"strings"
	"testing"
)

func TestParseFatraceLineWrite(t *testing.T) {
	ev, ok := parseFatraceLine("rsync(1234): W /mnt/data/file.bin")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if ev.Process != "rsync" || ev.Pid != 1234 || ev.Flags != "W" || ev.Path != "/mnt/data/file.bin" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseFatraceLineIgnoresMalformed(t *testing.T) {
	cases := []string{
		"",
		"no colon here",
		"missingparens: W /mnt/data/file.bin",
		"proc(notanumber): W /mnt/data/file.bin",
	}
	for _, c := range cases {
		if _, ok := parseFatraceLine(c); ok {
			t.Errorf("expected parse failure for %q", c)
		}
	}
}

func TestScanEventStreamFiltersSelfAndReadOnly(t *testing.T) {
	input := strings.Join([]string{
		"rsync(1): W /a",
		"btrfs-defrag-core(2): W /b",
		"cp(3): R /c",
		"cp(4): WO /d",
	}, "\n") + "\n"

	var got []WriteEvent
	scanEventStream(strings.NewReader(input), "btrfs-defrag-core", func(ev WriteEvent) {
		got = append(got, ev)
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 events after filtering, got %d: %+v", len(got), got)
	}
	if got[0].Path != "/a" || got[1].Path != "/d" {
		t.Errorf("unexpected events: %+v", got)
	}
}
