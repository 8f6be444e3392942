// Package main is the sdbridge database migrator.
//
// It applies the embedded schema migrations (identity reverse index, legacy account
// provisioning function) and provisions legacy account schemas for development and
// integration environments.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var errDropNotConfirmed = errors.New("drop requires --yes")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sdbridge-migrate",
		Short:        "Database migrations and legacy account provisioning for sdbridge",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildTime),
		SilenceUsage: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return withRunner(func(r *Runner) error { return r.Up() })
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return withRunner(func(r *Runner) error { return r.Down() })
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(func(r *Runner) error {
					status, err := r.Status()
					if err != nil {
						return err
					}

					return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
				})
			},
		},
		&cobra.Command{
			Use:   "provision ACCOUNT...",
			Short: "Create the legacy tables of one or more account schemas",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *Runner) error { return r.Provision(cmd.Context(), args...) })
			},
		},
		newDropCmd(),
	)

	return root
}

func newDropCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every database object",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !confirmed {
				return errDropNotConfirmed
			}

			return withRunner(func(r *Runner) error { return r.Drop() })
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the destructive drop")

	return cmd
}

func withRunner(fn func(*Runner) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	runner, err := NewMigrationRunner(cfg)
	if err != nil {
		return err
	}

	defer func() {
		_ = runner.Close()
	}()

	return fn(runner)
}
