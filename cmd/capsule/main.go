// Command capsule is the generic capsules front-end: it materializes no
// default options of its own, deferring entirely to flags, Capsule.toml,
// and $CAPSULE_ARGS.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/FollowTheProcess/capsules/cli/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := cmd.BuildRootCmd(filepath.Base(os.Args[0]) == "placebo")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return cmd.ExitCode(rootCmd)
}
