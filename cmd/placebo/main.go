// Command placebo is a thin front-end identical to cmd/capsule except
// that placebo mode is implied by its own basename.
package main

import (
	"fmt"
	"os"

	"github.com/FollowTheProcess/capsules/cli/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := cmd.BuildRootCmd(true)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return cmd.ExitCode(rootCmd)
}
