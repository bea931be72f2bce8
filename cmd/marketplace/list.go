// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/persistence/postgres"
	"github.com/adiadia/agent-marketplace/internal/repository"
)

func newListCmd(a *app) *cobra.Command {
	var (
		pg    postgresFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments stored in postgres, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := pg.connString()
			if err != nil {
				return err
			}
			pool, err := postgres.NewPool(ctx, conn, postgres.PoolOptions{
				MinConns: int32(pg.poolMin),
				MaxConns: int32(pg.poolMax),
			})
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			experiments, err := repository.NewExperimentRepository(pool, a.logger).List(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(experiments) == 0 {
				fmt.Fprintln(out, color.YellowString("No experiments found."))
				return nil
			}
			for _, e := range experiments {
				fmt.Fprintln(out, color.New(color.Bold, color.FgHiCyan).Sprint(e.Schema))
				fmt.Fprintf(out, "  started:  %s\n", formatTime(e.FirstActivity))
				fmt.Fprintf(out, "  last:     %s\n", formatTime(e.LastActivity))
				fmt.Fprintf(out, "  agents: %d  actions: %d  logs: %d\n", e.Agents, e.Actions, e.Logs)
				if len(e.LLMProviders) > 0 {
					fmt.Fprintf(out, "  llm:      %s\n", strings.Join(e.LLMProviders, ", "))
				}
			}
			return nil
		},
	}
	pg.register(cmd, a.cfg.DatabaseURL)
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many experiments, 0 for all")
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
