package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/FollowTheProcess/capsules/internal/config"
)

// chdir changes to dir for the duration of the test and restores the
// previous working directory on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("could not get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("could not chdir to %s: %v", dir, err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(old)
	})
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fl := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fl)
	if err := fl.Parse(args); err != nil {
		t.Fatalf("could not parse flags: %v", err)
	}
	return fl
}

func TestLoadAppliesCapsuleTomlSection(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	toml := []byte("[capsule.build]\ninputs = [\"src/**/*.go\"]\noutputs = [\"bin/app\"]\nbackend = \"s3\"\n")
	if err := os.WriteFile(filepath.Join(dir, "Capsule.toml"), toml, 0o644); err != nil {
		t.Fatalf("could not write Capsule.toml: %v", err)
	}

	fl := newFlags(t, "--capsule_id", "build")
	opts, err := config.Load(fl, "")
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}

	if opts.CapsuleID != "build" {
		t.Errorf("CapsuleID = %q, want %q", opts.CapsuleID, "build")
	}
	if opts.Backend != "s3" {
		t.Errorf("Backend = %q, want %q", opts.Backend, "s3")
	}
	if len(opts.Inputs) != 1 || opts.Inputs[0] != "src/**/*.go" {
		t.Errorf("Inputs = %v, want [src/**/*.go]", opts.Inputs)
	}
}

func TestLoadFlagsOverrideCapsuleToml(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	toml := []byte("[capsule.build]\nbackend = \"s3\"\n")
	if err := os.WriteFile(filepath.Join(dir, "Capsule.toml"), toml, 0o644); err != nil {
		t.Fatalf("could not write Capsule.toml: %v", err)
	}

	fl := newFlags(t, "--capsule_id", "build", "--backend", "dummy")
	opts, err := config.Load(fl, "")
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}
	if opts.Backend != "dummy" {
		t.Errorf("Backend = %q, want %q (flags must win over Capsule.toml)", opts.Backend, "dummy")
	}
}

func TestLoadCapsuleArgsAppliedBelowFlags(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	fl := newFlags(t, "--capsule_id", "build")
	opts, err := config.Load(fl, "--backend s3 --placebo")
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}
	if opts.Backend != "s3" {
		t.Errorf("Backend = %q, want %q (from CAPSULE_ARGS)", opts.Backend, "s3")
	}
	if !opts.Placebo {
		t.Error("expected Placebo to be true from CAPSULE_ARGS")
	}
}

func TestLoadCapsuleArgsOverriddenByExplicitFlags(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	fl := newFlags(t, "--capsule_id", "build", "--backend", "dummy")
	opts, err := config.Load(fl, "--backend s3")
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}
	if opts.Backend != "dummy" {
		t.Errorf("Backend = %q, want %q (CLI flags must win over CAPSULE_ARGS)", opts.Backend, "dummy")
	}
}

func TestLoadUnknownCapsuleIDSuggestsClosestMatch(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	toml := []byte("[capsule.build]\nbackend = \"dummy\"\n")
	if err := os.WriteFile(filepath.Join(dir, "Capsule.toml"), toml, 0o644); err != nil {
		t.Fatalf("could not write Capsule.toml: %v", err)
	}

	fl := newFlags(t, "--capsule_id", "biuld")
	_, err := config.Load(fl, "")
	if err == nil {
		t.Fatal("expected an error for an unknown capsule id")
	}
	if got := err.Error(); !contains(got, "build") {
		t.Errorf("error %q did not suggest the closest capsule id %q", got, "build")
	}
}

func TestLoadRejectsCaptureFlags(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	fl := newFlags(t, "--capsule_id", "build", "--capture_stdout")
	if _, err := config.Load(fl, ""); err == nil {
		t.Error("expected --capture_stdout to be rejected as reserved/unimplemented")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
