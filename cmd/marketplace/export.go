// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/export"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		pg   postgresFlags
		dir  string
		file string
	)
	cmd := &cobra.Command{
		Use:   "export <experiment>",
		Short: "Copy a postgres experiment into a standalone sqlite file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := pg.open(ctx, a, args[0], false, true)
			if err != nil {
				return err
			}
			defer src.Close()

			sum, err := export.Run(ctx, src, export.Path(dir, file, args[0]), export.Options{Logger: a.logger})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d agents, %d actions, %d logs to %s in %s\n",
				color.GreenString("Exported"), sum.Agents, sum.Actions, sum.Logs,
				color.CyanString(sum.Path), sum.Duration.Round(time.Millisecond))
			return nil
		},
	}
	pg.register(cmd, a.cfg.DatabaseURL)
	cmd.Flags().StringVarP(&dir, "output-dir", "o", ".", "directory of the sqlite file")
	cmd.Flags().StringVarP(&file, "output-filename", "f", "", "sqlite file name (default <experiment>.db)")
	return cmd
}
