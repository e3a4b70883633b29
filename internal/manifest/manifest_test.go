package manifest_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/FollowTheProcess/capsules/internal/fileset"
	"github.com/FollowTheProcess/capsules/internal/manifest"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()
	want := manifest.Manifest{
		InputsHash: "deadbeef",
		Outputs: []manifest.Output{
			{Path: "bin/app", ContentHash: "abc123", FileMode: 0o755},
		},
		ExitCode:  0,
		SourceJob: "ci-42",
		CreatedAt: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
	}

	b, err := manifest.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal returned an error: %v", err)
	}

	got, err := manifest.Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal returned an error: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromEntriesPreservesDeclarationOrder(t *testing.T) {
	t.Parallel()
	entries := []fileset.Entry{
		{Path: "z.txt", Hash: "1"},
		{Path: "a.txt", Hash: "2"},
	}

	outputs := manifest.FromEntries(entries)
	if len(outputs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outputs))
	}
	if outputs[0].Path != "z.txt" || outputs[1].Path != "a.txt" {
		t.Errorf("FromEntries reordered outputs: %v", outputs)
	}
}

func TestCompareNoDivergence(t *testing.T) {
	t.Parallel()
	m := manifest.Manifest{
		ExitCode: 0,
		Outputs:  []manifest.Output{{Path: "bin/app", ContentHash: "abc"}},
	}

	diffs, exitDiverged := manifest.Compare(m, m)
	if len(diffs) != 0 {
		t.Errorf("expected no diffs, got %v", diffs)
	}
	if exitDiverged {
		t.Error("expected exit codes to match")
	}
}

func TestCompareDetectsContentDrift(t *testing.T) {
	t.Parallel()
	cached := manifest.Manifest{Outputs: []manifest.Output{{Path: "bin/app", ContentHash: "abc"}}}
	fresh := manifest.Manifest{Outputs: []manifest.Output{{Path: "bin/app", ContentHash: "xyz"}}}

	diffs, _ := manifest.Compare(cached, fresh)
	if len(diffs) != 1 {
		t.Fatalf("got %d diffs, want 1", len(diffs))
	}
	if diffs[0].Cached != "abc" || diffs[0].Fresh != "xyz" {
		t.Errorf("diff content wrong: %+v", diffs[0])
	}
}

func TestCompareDetectsAddedAndRemovedOutputs(t *testing.T) {
	t.Parallel()
	cached := manifest.Manifest{Outputs: []manifest.Output{{Path: "bin/old", ContentHash: "abc"}}}
	fresh := manifest.Manifest{Outputs: []manifest.Output{{Path: "bin/new", ContentHash: "def"}}}

	diffs, _ := manifest.Compare(cached, fresh)
	if len(diffs) != 2 {
		t.Fatalf("got %d diffs, want 2 (one removed, one added): %v", len(diffs), diffs)
	}
}

func TestCompareDetectsExitCodeDivergence(t *testing.T) {
	t.Parallel()
	cached := manifest.Manifest{ExitCode: 0}
	fresh := manifest.Manifest{ExitCode: 1}

	_, exitDiverged := manifest.Compare(cached, fresh)
	if !exitDiverged {
		t.Error("expected exit code divergence to be detected")
	}
}
