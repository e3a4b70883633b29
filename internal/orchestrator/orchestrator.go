// Package orchestrator implements the decision state machine that drives
// every invocation: it composes the Input Collector, Inputs-Hash Aggregator, Cache
// Backend, Executor, and Output Collector into capsules' four modes
// (passive, inputs-hash-only, normal, placebo), with conservative
// failure-degradation throughout.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/FollowTheProcess/capsules/internal/backend"
	"github.com/FollowTheProcess/capsules/internal/capsuleerr"
	"github.com/FollowTheProcess/capsules/internal/executor"
	"github.com/FollowTheProcess/capsules/internal/fileset"
	"github.com/FollowTheProcess/capsules/internal/fingerprint"
	"github.com/FollowTheProcess/capsules/internal/manifest"
	"github.com/FollowTheProcess/capsules/internal/observability"
)

// Mode selects which of capsules' four top-level behaviours to run.
type Mode int

const (
	Normal Mode = iota
	Passive
	InputsHashOnly
	Placebo
)

// Logger is the minimal logging surface the orchestrator needs, satisfied
// by *logger.ZapLogger.
type Logger interface {
	Debug(format string, args ...any)
}

// nullLogger discards everything; used when the caller doesn't supply one.
type nullLogger struct{}

func (nullLogger) Debug(string, ...any) {}

// blobConcurrency bounds parallel blob uploads/downloads:
// small by default to avoid overloading the backend.
const blobConcurrency = 6

// Request is everything one invocation needs.
type Request struct {
	CapsuleID     string
	Mode          Mode
	Argv          []string // The wrapped command and its arguments
	WorkDir       string   // Defaults to os.Getwd()
	Inputs        []string // Glob patterns
	Outputs       []string // Glob patterns
	ToolTags      []string
	CacheFailures bool
	SourceJob     string
	InputsHashVar string            // Env var name injected into the child, default CAPSULE_INPUTS_HASH
	Fields        map[string]string // Caller-supplied key/value pairs (--honeycomb_kv), attached to every emitted event
	Backend       backend.Backend
	Emitter       observability.Emitter
	Logger        Logger
	Stdout        io.Writer // Where --inputs_hash mode prints the digest
}

// Outcome is the result of one Run call: the exit code the wrapper process
// itself should use, and whether the command was actually executed.
type Outcome struct {
	ExitCode int
	Executed bool
	Skipped  bool
}

func (r *Request) normalize() {
	if r.InputsHashVar == "" {
		r.InputsHashVar = "CAPSULE_INPUTS_HASH"
	}
	if r.Logger == nil {
		r.Logger = nullLogger{}
	}
	if r.Emitter == nil {
		r.Emitter = observability.Noop{}
	}
	if r.Stdout == nil {
		r.Stdout = os.Stdout
	}
}

// Run executes the full state machine for one invocation.
func Run(ctx context.Context, req Request) (Outcome, error) {
	req.normalize()

	if req.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Outcome{}, capsuleerr.New(capsuleerr.Configuration, "getwd", err)
		}
		req.WorkDir = wd
	}

	switch req.Mode {
	case Passive:
		return runPassive(ctx, req)
	case InputsHashOnly:
		return runInputsHashOnly(req)
	case Placebo:
		return runCaching(ctx, req, true)
	default:
		return runCaching(ctx, req, false)
	}
}

// runPassive skips all cache logic entirely: exec and exit with the
// child's status.
func runPassive(ctx context.Context, req Request) (Outcome, error) {
	if len(req.Argv) == 0 {
		return Outcome{}, capsuleerr.New(capsuleerr.Configuration, "passive", fmt.Errorf("no command given after --"))
	}
	res, err := executor.Run(ctx, executor.Request{Argv: req.Argv, Env: os.Environ(), Dir: req.WorkDir})
	if err != nil {
		return Outcome{}, capsuleerr.New(capsuleerr.Execution, "spawn", err)
	}
	return Outcome{ExitCode: res.ExitCode, Executed: true}, nil
}

// runInputsHashOnly computes and prints the inputs hash, then exits 0.
func runInputsHashOnly(req Request) (Outcome, error) {
	if req.CapsuleID == "" {
		return Outcome{}, capsuleerr.New(capsuleerr.Configuration, "inputs_hash", fmt.Errorf("capsule_id is required"))
	}

	inputs, err := fileset.Collect(req.WorkDir, req.Inputs)
	if err != nil {
		return Outcome{}, capsuleerr.New(capsuleerr.Hash, "collect_inputs", err)
	}

	hash := fingerprint.InputsHash(req.CapsuleID, inputs, req.ToolTags)
	fmt.Fprintln(req.Stdout, hash)
	return Outcome{ExitCode: 0}, nil
}

// runCaching implements normal and placebo mode, sharing everything except
// the LOOKUP->RESTORE-or-EXECUTE branch and the always-publish/always-
// compare behaviour of placebo.
func runCaching(ctx context.Context, req Request, placebo bool) (Outcome, error) {
	if req.CapsuleID == "" {
		return Outcome{}, capsuleerr.New(capsuleerr.Configuration, "caching", fmt.Errorf("capsule_id is required"))
	}
	if len(req.Argv) == 0 {
		return Outcome{}, capsuleerr.New(capsuleerr.Configuration, "caching", fmt.Errorf("no command given after --"))
	}

	start := time.Now()
	event := observability.Event{CapsuleID: req.CapsuleID, SourceJob: req.SourceJob}
	emit := func(decision observability.Decision, extra map[string]string) {
		event.Decision = decision
		event.Duration = time.Since(start)
		event.Fields = mergeFields(req.Fields, extra)
		req.Emitter.Emit(event)
	}

	// COMPUTE_INPUTS_HASH
	inputs, err := fileset.Collect(req.WorkDir, req.Inputs)
	if err != nil {
		return Outcome{}, capsuleerr.New(capsuleerr.Hash, "collect_inputs", err)
	}
	inputsHash := fingerprint.InputsHash(req.CapsuleID, inputs, req.ToolTags)
	event.InputsHash = inputsHash
	req.Logger.Debug("computed inputs hash %s for capsule %s", inputsHash, req.CapsuleID)

	// LOOKUP
	cached, lookupErr := req.Backend.LookupEntry(ctx, inputsHash)
	hit := lookupErr == nil
	if lookupErr != nil && lookupErr != backend.ErrAbsent {
		// Backend transport error: degrade, do not let it block EXECUTE.
		req.Logger.Debug("lookup_entry failed, degrading to execution: %v", lookupErr)
		emit(observability.DecisionError, map[string]string{"kind": capsuleerr.BackendTransport.String(), "error": lookupErr.Error()})
		hit = false
	}

	// Cache-failures policy: in normal mode only, a hit with a non-zero
	// exit code is treated as a miss unless --cache_failures is set.
	// Placebo always remembers and compares against any hit regardless of
	// its cached exit code, so this reclassification must not run there —
	// otherwise a cached failing entry would short-circuit straight to a
	// plain miss event instead of the placebo execute-and-compare path.
	if !placebo && hit && cached.ExitCode != 0 && !req.CacheFailures {
		req.Logger.Debug("cached exit code %d treated as miss (cache_failures not set)", cached.ExitCode)
		hit = false
	}

	if hit && !placebo {
		outcome, restored := restore(ctx, req, cached)
		if restored {
			emit(observability.DecisionHit, nil)
			return outcome, nil
		}
		// RESTORE failure: conservative fallback to EXECUTE.
		req.Logger.Debug("restore failed, falling back to execute")
	}

	// EXECUTE
	env := append(os.Environ(), req.InputsHashVar+"="+inputsHash)
	res, err := executor.Run(ctx, executor.Request{Argv: req.Argv, Env: env, Dir: req.WorkDir})
	if err != nil {
		return Outcome{}, capsuleerr.New(capsuleerr.Execution, "spawn", err)
	}
	if res.Signaled {
		// Cancellation: a SIGINT/SIGTERM was forwarded to the child during
		// EXECUTE. Skip COLLECT_OUTPUTS and PUBLISH entirely and exit with
		// the child's own status; any blobs from an earlier, unrelated
		// publish remain untouched.
		req.Logger.Debug("execution cancelled by forwarded signal, skipping publish")
		return Outcome{ExitCode: res.ExitCode, Executed: true}, nil
	}

	// COLLECT_OUTPUTS
	outEntries, hashErrs := fileset.CollectOutputs(req.WorkDir, req.Outputs)
	for _, e := range hashErrs {
		req.Logger.Debug("output collection: %v", e)
	}

	fresh := manifest.Manifest{
		InputsHash: inputsHash,
		Outputs:    manifest.FromEntries(outEntries),
		ExitCode:   res.ExitCode,
		SourceJob:  req.SourceJob,
		CreatedAt:  time.Now(),
	}

	if placebo && hit {
		diffs, exitDiverged := manifest.Compare(cached, fresh)
		if len(diffs) == 0 && !exitDiverged {
			emit(observability.DecisionPlaceboMatch, nil)
		} else {
			fields := map[string]string{"diff_count": fmt.Sprintf("%d", len(diffs))}
			if len(diffs) > 0 {
				fields["first_diff_path"] = diffs[0].Path
				fields["first_diff_cached"] = diffs[0].Cached
				fields["first_diff_fresh"] = diffs[0].Fresh
			}
			emit(observability.DecisionPlaceboMismatch, fields)
		}
	} else if !hit {
		emit(observability.DecisionMiss, nil)
	}

	// PUBLISH_BLOBS then PUBLISH_ENTRY: blobs-before-
	// entry guarantees a published entry only ever references blobs that
	// exist.
	if err := publishBlobs(ctx, req, outEntries); err != nil {
		req.Logger.Debug("publish_blobs failed, continuing (conservative degradation): %v", err)
		emit(observability.DecisionError, map[string]string{"kind": capsuleerr.BackendTransport.String(), "op": "put_blob", "error": err.Error()})
	} else if err := req.Backend.PutEntry(ctx, inputsHash, fresh); err != nil {
		req.Logger.Debug("publish_entry failed, continuing (conservative degradation): %v", err)
		emit(observability.DecisionError, map[string]string{"kind": capsuleerr.BackendTransport.String(), "op": "put_entry", "error": err.Error()})
	}

	return Outcome{ExitCode: res.ExitCode, Executed: true}, nil
}

// restore writes every cached output to its declared path, creating
// parent directories and applying recorded mode bits. It
// is best-effort: on any failure it returns false so the caller falls
// back to EXECUTE, leaving whatever files were already written in place.
func restore(ctx context.Context, req Request, m manifest.Manifest) (Outcome, bool) {
	for _, out := range m.Outputs {
		if err := restoreOne(ctx, req.Backend, out); err != nil {
			req.Logger.Debug("restore of %s failed: %v", out.Path, err)
			return Outcome{}, false
		}
	}
	return Outcome{ExitCode: m.ExitCode, Skipped: true}, true
}

func restoreOne(ctx context.Context, b backend.Backend, out manifest.Output) error {
	data, err := b.FetchBlob(ctx, out.ContentHash)
	if err != nil {
		return fmt.Errorf("fetch_blob %s for %s: %w", out.ContentHash, out.Path, err)
	}
	if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", out.Path, err)
	}
	if err := os.WriteFile(out.Path, data, out.FileMode); err != nil {
		return fmt.Errorf("write %s: %w", out.Path, err)
	}
	return nil
}

// publishBlobs uploads every output's content bytes, bounded to
// blobConcurrency concurrent uploads. The first error aborts
// remaining uploads and is returned so the caller can skip PUBLISH_ENTRY,
// preserving blobs-before-entry.
func publishBlobs(ctx context.Context, req Request, entries []fileset.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan fileset.Entry)
	errs := make(chan error, len(entries))
	var wg sync.WaitGroup

	workers := min(blobConcurrency, len(entries))
	workers = min(workers, max(1, runtime.NumCPU()))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				if ctx.Err() != nil {
					continue
				}
				data, err := os.ReadFile(e.Path)
				if err != nil {
					errs <- fmt.Errorf("reading %s for publish: %w", e.Path, err)
					cancel()
					continue
				}
				if err := req.Backend.PutBlob(ctx, e.Hash, data); err != nil {
					errs <- fmt.Errorf("put_blob %s: %w", e.Hash, err)
					cancel()
				}
			}
		}()
	}

	go func() {
		for _, e := range entries {
			jobs <- e
		}
		close(jobs)
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeFields combines the caller-supplied --honeycomb_kv fields with the
// decision-specific fields for one emission, the latter taking precedence
// on key collision since they describe this specific event.
func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 {
		return extra
	}
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
