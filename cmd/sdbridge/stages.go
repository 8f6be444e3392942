package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/correlator-io/sdbridge/internal/legacy"
	"github.com/correlator-io/sdbridge/internal/stage"
)

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "Print the stage order and the account behind each legacy table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topology, err := loadTopology()
			if err != nil {
				return err
			}

			return printStages(cmd.OutOrStdout(), topology)
		},
	}
}

func printStages(w io.Writer, topology *stage.Topology) error {
	for i, s := range topology.Stages() {
		prev := "-"
		if p, ok := topology.Predecessor(s); ok {
			prev = p.Name
		}

		var kinds []string

		for _, kind := range legacy.Kinds() {
			if account, ok := topology.Account(s, kind, stage.Current); ok {
				kinds = append(kinds, kind.String()+"="+account)
			}
		}

		if _, err := fmt.Fprintf(w, "%d\t%s\tprevious=%s\t%s\n", i, s.Name, prev, strings.Join(kinds, " ")); err != nil {
			return err
		}
	}

	return nil
}
