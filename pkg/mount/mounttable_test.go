package mount

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadMountTableParsesBtrfsOptions(t *testing.T) {
	content := `/dev/sda1 / ext4 rw,relatime 0 0
/dev/sdb1 /mnt/data btrfs rw,relatime,compress-force=zstd:3,commit=60,space_cache=v2 0 0
/dev/sdc1 /mnt/other btrfs rw,relatime,compress=lzo 0 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mounts")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	entries, err := ReadMountTable(path)
	if err != nil {
		t.Fatalf("ReadMountTable: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 btrfs entries, got %d", len(entries))
	}

	// Reverse order: last line in the file comes first.
	if entries[0].Mountpoint != "/mnt/other" {
		t.Errorf("expected reverse order, got first entry %q", entries[0].Mountpoint)
	}

	dataEntry := entries[1]
	if dataEntry.CompressAlg != "zstd:3" || !dataEntry.CompressForce {
		t.Errorf("unexpected compress parsing: %+v", dataEntry)
	}
	if dataEntry.CommitDelay != 60*time.Second {
		t.Errorf("expected commit delay 60s, got %v", dataEntry.CommitDelay)
	}

	otherEntry := entries[0]
	if otherEntry.CompressAlg != "lzo" || otherEntry.CompressForce {
		t.Errorf("unexpected compress parsing for lzo mount: %+v", otherEntry)
	}
	if otherEntry.CommitDelay != defaultCommitDelay {
		t.Errorf("expected default commit delay, got %v", otherEntry.CommitDelay)
	}
}

func TestReadMountTableIgnoresNonBtrfs(t *testing.T) {
	content := "/dev/sda1 / ext4 rw 0 0\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "mounts")
	os.WriteFile(path, []byte(content), 0o644)

	entries, err := ReadMountTable(path)
	if err != nil {
		t.Fatalf("ReadMountTable: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no btrfs entries, got %d", len(entries))
	}
}
