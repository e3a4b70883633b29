// Package cmd implements the capsule CLI.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/FollowTheProcess/capsules/cli/app"
)

var (
	version = "dev" // capsules version, set at compile time by ldflags
	commit  = ""    // capsules version's commit hash, set at compile time by ldflags
)

// BuildRootCmd builds and returns the root capsule CLI command. Unlike a
// typical cobra tree, capsule's own options and the wrapped command share
// one argv separated by "--", so cobra's own flag parsing is
// disabled here and delegated entirely to app.App.Run, which knows how to
// find the "--" terminator and parse only what precedes it.
func BuildRootCmd(impliedPlacebo bool) *cobra.Command {
	a := app.New(os.Stdout, os.Stderr)
	a.ImpliedPlacebo = impliedPlacebo

	rootCmd := &cobra.Command{
		Use:                "capsule [OPTIONS] -- COMMAND [ARGS...]",
		Version:            version,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Short:              "A build-step caching wrapper that degrades to plain execution on any failure",
		Long: heredoc.Doc(`

		Capsules wraps an arbitrary build command, fingerprints its declared
		inputs, and either restores previously cached outputs or runs the
		command and publishes its outputs to a shared cache.

		On any cache infrastructure failure, capsules degrades to plain
		command execution so that build pipelines never fail because of the
		cache layer.
		`),
		Example: heredoc.Doc(`

		# Cache a compile step keyed on its sources, restoring the binary on a hit
		$ capsule -c compile -i 'src/**/*.go' -o bin/app -- go build -o bin/app ./...

		# Always run, compare against the cache, and report drift
		$ capsule -c compile --placebo -i 'src/**/*.go' -o bin/app -- go build -o bin/app ./...

		# Just print the inputs hash for this invocation
		$ capsule -c compile --inputs_hash -i 'src/**/*.go'
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
				return cmd.Help()
			}
			if len(args) > 0 && args[0] == "--version" {
				fmt.Fprintf(os.Stdout, "%s %s\n%s %s\n", headerStyle.Sprint("Version:"), version, headerStyle.Sprint("Commit:"), commit)
				return nil
			}

			if err := a.Run(context.Background(), args); err != nil {
				return err
			}

			cmd.Root().Annotations = map[string]string{"exitCode": fmt.Sprintf("%d", a.ExitCode)}
			return nil
		},
	}

	rootCmd.SetUsageTemplate(usageTemplate)

	return rootCmd
}

// ExitCode extracts the exit code BuildRootCmd's RunE stashed on the
// command after a successful Run, defaulting to 0.
func ExitCode(cmd *cobra.Command) int {
	if cmd.Annotations == nil {
		return 0
	}
	var code int
	fmt.Sscanf(cmd.Annotations["exitCode"], "%d", &code) //nolint: errcheck
	return code
}
