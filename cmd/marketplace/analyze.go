// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/analytics"
	"github.com/adiadia/agent-marketplace/internal/audit"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		db        storeFlags
		noSave    bool
		fuzzyDist int
	)
	cmd := &cobra.Command{
		Use:   "analyze <experiment>",
		Short: "Report customer utility, market welfare and proposal validity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exp, err := db.open(ctx, a, args[0])
			if err != nil {
				return err
			}
			defer exp.Close()

			an, err := analytics.Run(ctx, exp, analytics.Options{FuzzyMatchDistance: fuzzyDist, Logger: a.logger})
			if err != nil {
				return err
			}
			res := an.Results()
			an.WriteReport(cmd.OutOrStdout(), res)
			if noSave {
				return nil
			}
			return save(cmd, analytics.ResultsPath(exp.name), res)
		},
	}
	db.register(cmd, a.cfg.DatabaseURL)
	cmd.Flags().BoolVar(&noSave, "no-save-json", false, "skip writing the results JSON file")
	cmd.Flags().IntVar(&fuzzyDist, "fuzzy-match-distance", 0, "largest edit distance at which a proposed item matches a requested one")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		db     storeFlags
		noSave bool
	)
	cmd := &cobra.Command{
		Use:   "audit <experiment>",
		Short: "Check that every proposal reached its customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exp, err := db.open(ctx, a, args[0])
			if err != nil {
				return err
			}
			defer exp.Close()

			au, err := audit.Run(ctx, exp, audit.Options{DBName: exp.name, Logger: a.logger})
			if err != nil {
				return err
			}
			res := au.Results()
			au.WriteReport(cmd.OutOrStdout(), res)
			if noSave {
				return nil
			}
			return save(cmd, audit.ResultsPath(exp.name), res)
		},
	}
	db.register(cmd, a.cfg.DatabaseURL)
	cmd.Flags().BoolVar(&noSave, "no-save-json", false, "skip writing the results JSON file")
	return cmd
}

func save(cmd *cobra.Command, path string, v any) error {
	if err := analytics.SaveJSON(path, v); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nResults saved to %s\n", color.CyanString(path))
	return nil
}
