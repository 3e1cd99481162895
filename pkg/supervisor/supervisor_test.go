package supervisor

import "testing"

func TestIsUnderMount(t *testing.T) {
	cases := []struct {
		mountpoint, path string
		want             bool
	}{
		{"/mnt/data", "/mnt/data/a/b", true},
		{"/mnt/data", "/mnt/data", true},
		{"/mnt/data", "/mnt/database/x", false},
		{"/", "/anything/at/all", true},
	}
	for _, c := range cases {
		if got := isUnderMount(c.mountpoint, c.path); got != c.want {
			t.Errorf("isUnderMount(%q, %q) = %v, want %v", c.mountpoint, c.path, got, c.want)
		}
	}
}

func TestToRoutedShortPath(t *testing.T) {
	got := toRoutedShortPath("/mnt/data", "/mnt/data/a/b.txt")
	if got != "a/b.txt" {
		t.Errorf("toRoutedShortPath = %q, want %q", got, "a/b.txt")
	}
}

func TestRebuildRoutesLockedOrdersLongestPrefixFirst(t *testing.T) {
	s := &Supervisor{
		byUUID: map[string]*managed{
			"a": {mountpoint: "/mnt"},
			"b": {mountpoint: "/mnt/data/sub"},
			"c": {mountpoint: "/mnt/data"},
		},
	}
	s.rebuildRoutesLocked()
	if len(s.routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(s.routes))
	}
	for i := 1; i < len(s.routes); i++ {
		if len(s.routes[i].prefix) > len(s.routes[i-1].prefix) {
			t.Errorf("routes not sorted longest-prefix-first: %v", s.routes)
		}
	}
	if s.routes[0].prefix != "/mnt/data/sub" {
		t.Errorf("expected longest prefix first, got %q", s.routes[0].prefix)
	}
}

func TestForeignMountCheckerExcludesOwnMountpoint(t *testing.T) {
	s := &Supervisor{
		mounted: map[string]bool{"/mnt/data": true, "/mnt/data/backups": true},
		byUUID:  map[string]*managed{"fs1": {mountpoint: "/mnt/data"}},
	}
	check := s.foreignMountChecker("fs1")
	if check("/mnt/data") {
		t.Error("own mountpoint must not be reported foreign")
	}
	if !check("/mnt/data/backups") {
		t.Error("a distinct mounted path should be reported foreign")
	}
	if check("/mnt/data/not-mounted") {
		t.Error("a path that isn't itself a mountpoint is never foreign")
	}
}
