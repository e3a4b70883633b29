// Package app implements capsules' CLI functionality. The CLI command tree
// in cli/cmd defers all real work to the exported methods here, keeping
// cobra wiring separate from behaviour.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/FollowTheProcess/capsules/internal/backend"
	"github.com/FollowTheProcess/capsules/internal/config"
	"github.com/FollowTheProcess/capsules/internal/observability"
	"github.com/FollowTheProcess/capsules/internal/orchestrator"
	"github.com/FollowTheProcess/capsules/logger"
)

// App represents the capsule program.
type App struct {
	Stdout io.Writer // Where --inputs_hash mode prints the digest
	Stderr io.Writer // Where errors are written

	// ImpliedPlacebo is set by the front-end binary when its own basename
	// is "placebo": "If the wrapper binary's basename is
	// placebo, placebo mode is implied."
	ImpliedPlacebo bool

	Flags *pflag.FlagSet

	// ExitCode is set once Run returns with a nil error; it is the status
	// code the calling binary should actually exit with,
	// distinct from Run's own error return which only signals a
	// wrapper-internal fatal failure.
	ExitCode int
}

// New creates and returns a new App with its flags registered.
func New(stdout, stderr io.Writer) *App {
	fl := pflag.NewFlagSet("capsule", pflag.ContinueOnError)
	config.RegisterFlags(fl)
	return &App{Stdout: stdout, Stderr: stderr, Flags: fl}
}

// Run is capsules' entry point. argv is everything after the capsule
// binary name; a double dash separates capsule's own flags from the
// wrapped command.
func (a *App) Run(ctx context.Context, argv []string) error {
	ownArgs, command := splitCommand(argv)

	if err := a.Flags.Parse(ownArgs); err != nil {
		return err
	}

	opts, err := config.Load(a.Flags, envOrEmpty("CAPSULE_ARGS"))
	if err != nil {
		return err
	}
	if a.ImpliedPlacebo {
		opts.Placebo = true
	}

	log, err := logger.NewZapLogger(opts.Verbose)
	if err != nil {
		return fmt.Errorf("could not build logger: %w", err)
	}
	log = log.Named(opts.CapsuleID)
	defer log.Sync() //nolint: errcheck

	mode := resolveMode(opts)
	if mode != orchestrator.Passive && mode != orchestrator.InputsHashOnly && len(command) == 0 {
		return fmt.Errorf("no command given after --")
	}

	b, err := a.buildBackend(ctx, opts)
	if err != nil {
		return err
	}

	emitter := a.buildEmitter(opts)
	if closer, ok := emitter.(interface{ Close() }); ok {
		defer closer.Close()
	}

	outcome, err := orchestrator.Run(ctx, orchestrator.Request{
		CapsuleID:     opts.CapsuleID,
		Mode:          mode,
		Argv:          command,
		Inputs:        opts.Inputs,
		Outputs:       opts.Outputs,
		ToolTags:      opts.ToolTags,
		CacheFailures: opts.CacheFailures,
		SourceJob:     opts.CapsuleJob,
		InputsHashVar: opts.InputsHashVar,
		Fields:        opts.HoneycombKV,
		Backend:       b,
		Emitter:       emitter,
		Logger:        log,
		Stdout:        a.Stdout,
	})
	if err != nil {
		return err
	}

	a.ExitCode = outcome.ExitCode
	return nil
}

// resolveMode maps the resolved Options onto an orchestrator.Mode,
// honouring the precedence passive > inputs_hash > placebo > normal.
func resolveMode(opts config.Options) orchestrator.Mode {
	switch {
	case opts.Passive:
		return orchestrator.Passive
	case opts.InputsHash:
		return orchestrator.InputsHashOnly
	case opts.Placebo:
		return orchestrator.Placebo
	default:
		return orchestrator.Normal
	}
}

func (a *App) buildBackend(ctx context.Context, opts config.Options) (backend.Backend, error) {
	switch opts.Backend {
	case "", "dummy":
		return backend.NewDummy(), nil
	case "s3":
		return backend.NewS3(ctx, backend.S3Config{
			Bucket:        opts.S3Bucket,
			BucketObjects: opts.S3BucketObjects,
			Region:        opts.S3Region,
			Endpoint:      opts.S3Endpoint,
			Timeout:       config.DefaultTimeout,
			Shard:         true,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q, expected s3 or dummy", opts.Backend)
	}
}

func (a *App) buildEmitter(opts config.Options) observability.Emitter {
	if opts.HoneycombDataset == "" || opts.HoneycombToken == "" {
		return observability.Noop{}
	}
	hc, err := observability.NewHoneycomb(observability.HoneycombConfig{
		Dataset:  opts.HoneycombDataset,
		Token:    opts.HoneycombToken,
		TraceID:  opts.HoneycombTraceID,
		ParentID: opts.HoneycombParentID,
	})
	if err != nil {
		// Observability must never fail the build: fall
		// back to discarding events rather than propagating this error.
		return observability.Noop{}
	}
	return hc
}

// envOrEmpty returns os.Getenv(key), used so App.Run reads $CAPSULE_ARGS
// without importing os directly into every call site.
func envOrEmpty(key string) string {
	return os.Getenv(key)
}

// splitCommand separates capsule's own flags from the wrapped command,
// which follows the first bare "--".
func splitCommand(argv []string) (ownArgs, command []string) {
	for i, a := range argv {
		if a == "--" {
			return argv[:i], argv[i+1:]
		}
	}
	return argv, nil
}
