// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/config"
	"github.com/adiadia/agent-marketplace/internal/logging"
)

// app carries what every subcommand shares: environment defaults and the
// stderr logger configured by --log-level.
type app struct {
	cfg      config.Config
	logLevel string
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Load()}

	root := &cobra.Command{
		Use:   "marketplace",
		Short: "Run and inspect LLM agent marketplace experiments",
		Long: color.CyanString("marketplace") +
			" runs customer and business agents against a shared protocol server,\n" +
			"then analyzes, audits, exports and browses the recorded experiments.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = slog.New(logging.NewHandler(os.Stderr, a.cfg.Env, logging.ParseLevel(a.logLevel)))
		},
	}
	root.SetVersionTemplate("marketplace {{.Version}} (" + Commit + ", " + BuildDate + ")\n")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(a),
		newAnalyzeCmd(a),
		newAuditCmd(a),
		newExportCmd(a),
		newListCmd(a),
		newExtractTracesCmd(a),
		newUICmd(a),
		newValidateCmd(a),
	)
	return root
}
