package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/FollowTheProcess/capsules/internal/executor"
)

func trueCmd() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", "exit 0"}
	}
	return []string{"true"}
}

func falseCmd() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", "exit 1"}
	}
	return []string{"false"}
}

func TestRunSuccessExitsZero(t *testing.T) {
	t.Parallel()
	res, err := executor.Run(context.Background(), executor.Request{Argv: trueCmd(), Env: os.Environ()})
	if err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	t.Parallel()
	res, err := executor.Run(context.Background(), executor.Request{Argv: falseCmd(), Env: os.Environ()})
	if err != nil {
		t.Fatalf("Run returned an error for a non-zero exit: %v", err)
	}
	if res.ExitCode == 0 {
		t.Error("ExitCode = 0, want non-zero")
	}
}

func TestRunEmptyArgvIsAnError(t *testing.T) {
	t.Parallel()
	if _, err := executor.Run(context.Background(), executor.Request{}); err == nil {
		t.Error("expected an error for an empty argv")
	}
}

func TestRunHonoursWorkingDirectory(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("pwd-based check is POSIX-specific")
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("could not write marker file: %v", err)
	}

	res, err := executor.Run(context.Background(), executor.Request{
		Argv: []string{"test", "-f", "marker"},
		Env:  os.Environ(),
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0 (marker file should be visible relative to Dir)", res.ExitCode)
	}
}

func TestRunForwardsSignalAndReportsSignaled(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("SIGINT forwarding is POSIX-specific")
	}

	done := make(chan struct {
		res executor.Result
		err error
	}, 1)

	go func() {
		res, err := executor.Run(context.Background(), executor.Request{
			Argv: []string{"sh", "-c", "trap 'exit 130' INT; sleep 5"},
			Env:  os.Environ(),
		})
		done <- struct {
			res executor.Result
			err error
		}{res, err}
	}()

	// Give the child a moment to install its trap before signalling our own
	// process; Run forwards whatever SIGINT/SIGTERM it receives.
	time.Sleep(200 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("could not signal self: %v", err)
	}

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("Run returned an error: %v", got.err)
		}
		if !got.res.Signaled {
			t.Error("Signaled = false, want true after a forwarded SIGINT")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the child was signalled")
	}
}
