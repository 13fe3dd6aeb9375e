package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and scoring algorithm versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "correlator %s (commit %s, %s)\n", version, commit, runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "default algorithm version %d\n", models.DefaultScoringProfile().Version)
		},
	}
}
