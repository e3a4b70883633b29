// Package manifest implements the Output Manifest / Cache Entry data type
// and its wire serialization. Manifests are serialized with
// gopkg.in/yaml.v3 — a self-describing, deterministic-on-write structured
// text format — rather than a bespoke binary format.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FollowTheProcess/capsules/internal/fileset"
)

// Output is one recorded output file: its declared/expanded path, content
// hash, and POSIX mode bits.
type Output struct {
	Path       string      `yaml:"path"`
	ContentHash string     `yaml:"content_hash"`
	FileMode   os.FileMode `yaml:"file_mode"`
}

// Manifest is the Cache Entry: the structured record
// associated with one inputs hash.
type Manifest struct {
	InputsHash string    `yaml:"inputs_hash"`
	Outputs    []Output  `yaml:"outputs"`
	ExitCode   int       `yaml:"exit_code"`
	SourceJob  string    `yaml:"source_job,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// FromEntries builds the Outputs list of a Manifest from resolved fileset
// entries, keeping them in the order given rather than re-sorting. Entries
// from fileset.CollectOutputs arrive in lexicographic path order.
func FromEntries(entries []fileset.Entry) []Output {
	outputs := make([]Output, 0, len(entries))
	for _, e := range entries {
		outputs = append(outputs, Output{Path: e.Path, ContentHash: e.Hash, FileMode: e.Mode})
	}
	return outputs
}

// Marshal serializes a Manifest to YAML bytes for storage in the entry
// store.
func Marshal(m Manifest) ([]byte, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("could not marshal manifest for %s: %w", m.InputsHash, err)
	}
	return b, nil
}

// Unmarshal parses YAML bytes fetched from the entry store back into a
// Manifest.
func Unmarshal(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("could not unmarshal manifest: %w", err)
	}
	return m, nil
}

// Set is the (path, content_hash) view of a Manifest's outputs used for
// placebo comparison, independent of field order.
type Set map[string]string

// OutputSet reduces a Manifest's outputs to a comparable (path -> hash)
// set.
func OutputSet(outputs []Output) Set {
	s := make(Set, len(outputs))
	for _, o := range outputs {
		s[o.Path] = o.ContentHash
	}
	return s
}

// Diff describes one divergence found between a cached and a fresh output
// set during placebo comparison.
type Diff struct {
	Path   string
	Cached string // empty if the path is new in the fresh set
	Fresh  string // empty if the path disappeared from the fresh set
}

// Compare returns the structured differences between a cached and a fresh
// output set, plus whether the exit codes also diverged. An empty Diff
// slice and matching exit codes means placebo-match; anything else means
// placebo-mismatch.
func Compare(cached, fresh Manifest) (diffs []Diff, exitDiverged bool) {
	cachedSet := OutputSet(cached.Outputs)
	freshSet := OutputSet(fresh.Outputs)

	seen := make(map[string]struct{}, len(cachedSet)+len(freshSet))
	for path := range cachedSet {
		seen[path] = struct{}{}
	}
	for path := range freshSet {
		seen[path] = struct{}{}
	}

	for path := range seen {
		c, inCached := cachedSet[path]
		f, inFresh := freshSet[path]
		if !inCached {
			diffs = append(diffs, Diff{Path: path, Fresh: f})
			continue
		}
		if !inFresh {
			diffs = append(diffs, Diff{Path: path, Cached: c})
			continue
		}
		if c != f {
			diffs = append(diffs, Diff{Path: path, Cached: c, Fresh: f})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })

	return diffs, cached.ExitCode != fresh.ExitCode
}
