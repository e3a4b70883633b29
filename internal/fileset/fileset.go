// Package fileset implements capsules' Input Collector and Output
// Collector: glob expansion, deduplication, ordering, and per-file content
// hashing. Glob expansion combines doublestar pattern matching with
// filepath.Abs normalization, generalized to dedup across patterns and to
// be reusable for both inputs (pre-execution) and outputs (post-execution).
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/FollowTheProcess/capsules/internal/contenthash"
)

// Entry is one resolved file: its normalized path and the content hash of
// its bytes.
type Entry struct {
	Path string
	Hash contenthash.Sum
	Mode os.FileMode // POSIX permission bits, low-order 9 bits
}

// Expand expands a single glob pattern, relative to dir, into a sorted,
// deduplicated set of absolute regular-file paths.
//
// A pattern matching zero files is not an error: capsules is deliberately
// tolerant here, since CI paths are frequently conditional.
// Symlinks are dereferenced, matching doublestar.FilepathGlob's default
// behaviour: this is the documented resolution of the symlink-dereferencing
// question for glob-expanded inputs and outputs.
func Expand(dir, pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("could not expand glob pattern %q: %w", pattern, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("could not resolve %q to an absolute path: %w", m, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			// Vanished between glob and stat (race with a concurrent writer);
			// treat like any other non-match rather than failing the build.
			continue
		}
		if info.IsDir() {
			continue
		}
		out = append(out, abs)
	}
	sort.Strings(out)
	return out, nil
}

// ExpandAll expands every pattern relative to dir, deduplicating by
// canonical path across patterns, and returns the result in lexicographic
// order over normalized paths. This is the ordering the Inputs-Hash
// Aggregator depends on for determinism.
func ExpandAll(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var all []string

	for _, pattern := range patterns {
		matches, err := Expand(dir, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			all = append(all, m)
		}
	}

	sort.Strings(all)
	return all, nil
}

// Collect expands every input pattern and hashes each resolved file,
// implementing the Input Collector. Hashing is spread
// across a worker pool (see internal/contenthash) but the returned slice
// is always in lexicographic path order, independent of hashing order.
func Collect(dir string, patterns []string) ([]Entry, error) {
	paths, err := ExpandAll(dir, patterns)
	if err != nil {
		return nil, err
	}

	results, err := contenthash.Files(paths)
	if err != nil {
		return nil, fmt.Errorf("could not hash declared inputs: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		info, err := os.Stat(r.Path)
		if err != nil {
			return nil, fmt.Errorf("could not stat %s: %w", r.Path, err)
		}
		entries = append(entries, Entry{Path: r.Path, Hash: r.Sum, Mode: info.Mode().Perm()})
	}
	return entries, nil
}

// CollectOutputs expands every declared output pattern post-execution and
// hashes whatever resolved. A pattern that resolves to nothing is recorded
// as absent, not an error: the manifest simply omits it.
// Unlike Collect, a hash failure here is recoverable — the
// offending output is dropped from the manifest rather than aborting
// publish, since a transient read failure on one artifact shouldn't nuke
// the whole build's cache entry.
func CollectOutputs(dir string, patterns []string) ([]Entry, []error) {
	paths, err := ExpandAll(dir, patterns)
	if err != nil {
		return nil, []error{err}
	}

	var entries []Entry
	var errs []error
	for _, p := range paths {
		sum, err := contenthash.File(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("could not hash output %s, omitting from manifest: %w", p, err))
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("could not stat output %s, omitting from manifest: %w", p, err))
			continue
		}
		entries = append(entries, Entry{Path: p, Hash: sum, Mode: info.Mode().Perm()})
	}
	return entries, errs
}
