// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/traces"
)

func newExtractTracesCmd(a *app) *cobra.Command {
	var (
		db      storeFlags
		outDir  string
		perFile int
	)
	cmd := &cobra.Command{
		Use:   "extract-traces <experiment>",
		Short: "Write every agent's LLM conversations as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exp, err := db.open(ctx, a, args[0])
			if err != nil {
				return err
			}
			defer exp.Close()

			dir, err := traces.Prepare(outDir, exp.name)
			if err != nil {
				return err
			}
			sum, err := traces.Extract(ctx, exp, dir, traces.Options{CallsPerFile: perFile, Logger: a.logger})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d LLM calls into %d files (%d customers, %d business threads) under %s\n",
				color.GreenString("Extracted"), sum.Calls, sum.Files, sum.Customers, sum.Threads, color.CyanString(sum.Dir))
			return nil
		},
	}
	db.register(cmd, a.cfg.DatabaseURL)
	cmd.Flags().StringVarP(&outDir, "output-dir", "o", ".", "parent directory of the trace folder")
	cmd.Flags().IntVar(&perFile, "calls-per-file", 0, "split traces into parts of this many calls, 0 for one file per trace")
	return cmd
}
