// Package main provides the sdbridge service.
//
// sdbridge serves signal detections and their hypotheses from the staged legacy arrival
// tables over an HTTP query API. The same bridge is reachable from the command line for
// ad hoc queries against a configured database.
package main

import (
	"fmt"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/spf13/cobra"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "sdbridge"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          name,
		Short:        "Signal detection bridge over staged legacy arrival tables",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildTime),
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newStagesCmd(),
		newQueryCmd(),
	)

	return root
}
