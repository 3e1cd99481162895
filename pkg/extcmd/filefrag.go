// Package extcmd wraps the external tools the core shells out to:
// filefrag (extent listing), btrfs filesystem defragment, and fatrace
// (write-event stream). Each wrapper knows only how to invoke its tool and
// hand back raw output or a timed result; parsing extent-listing output is
// pkg/extentmap's job, not this package's.
package extcmd

import (
	"bytes"
	"context"
	"os/exec"
)

// FilefragArgMax is the default platform argument-byte-limit budget for a
// single filefrag invocation (spec §6): 128KiB minus headroom for argv0,
// the environment, and the `-v` flag itself.
const FilefragArgMax = 131072 - 100 - 4096

// FilefragLister invokes `filefrag -v` on one or many paths and returns its
// raw stdout for pkg/extentmap.Parser to consume.
type FilefragLister struct {
	// Bin is the filefrag binary name or path; overridable for tests.
	Bin string
}

// NewFilefragLister returns a lister invoking the system `filefrag`.
func NewFilefragLister() *FilefragLister {
	return &FilefragLister{Bin: "filefrag"}
}

// List runs `filefrag -v <paths...>` and returns its stdout. Batches must
// already respect FilefragArgMax; List does not split them.
func (l *FilefragLister) List(ctx context.Context, paths []string) ([]byte, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	args := append([]string{"-v"}, paths...)
	cmd := exec.CommandContext(ctx, l.Bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Exit code is ignored (spec §7: "external command nonzero exit:
	// treat as noop, continue") — filefrag exits nonzero if even one of a
	// batch of paths vanished mid-listing, but still emits usable output
	// for the files it could read.
	_ = cmd.Run()
	return stdout.Bytes(), nil
}

// BatchPaths splits paths into groups whose filefrag argv (binary name,
// "-v" flag, and the paths themselves, each separated and null-terminated
// the way exec.Cmd constructs argv) stays within argMax bytes.
func BatchPaths(paths []string, argMax int) [][]string {
	var batches [][]string
	var cur []string
	curLen := 0
	const overhead = len("filefrag") + len("-v") + 2

	for _, p := range paths {
		add := len(p) + 1
		if curLen+add > argMax-overhead && len(cur) > 0 {
			batches = append(batches, cur)
			cur = nil
			curLen = 0
		}
		cur = append(cur, p)
		curLen += add
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// Defragmenter invokes the external defrag tool (spec §6).
type Defragmenter struct {
	Bin string
}

// NewDefragmenter returns a Defragmenter invoking the system `btrfs` binary.
func NewDefragmenter() *Defragmenter {
	return &Defragmenter{Bin: "btrfs"}
}

// Defrag runs `btrfs filesystem defragment [-czlib] [-t targetExtentSize]
// path`. Exit code is ignored per spec §6/§7; the caller is responsible for
// timing the call for the usage policy checker.
func (d *Defragmenter) Defrag(ctx context.Context, path string, compressed bool, targetExtentSize string) error {
	args := []string{"filesystem", "defragment"}
	if compressed {
		args = append(args, "-czlib")
	}
	if targetExtentSize != "" {
		args = append(args, "-t", targetExtentSize)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, d.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()
	return nil
}
