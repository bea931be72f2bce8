// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/experiment"
	"github.com/adiadia/agent-marketplace/internal/logging"
	"github.com/adiadia/agent-marketplace/internal/persistence/postgres"
	"github.com/adiadia/agent-marketplace/internal/profiles"
)

type runOptions struct {
	searchAlgorithm string
	searchBandwidth int
	maxSteps        int
	name            string
	pg              postgresFlags
	serverHost      string
	serverPort      int
	override        bool
	export          bool
	exportDir       string
	exportFile      string
	strictPayments  bool
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <data_dir>",
		Short: "Run an experiment over the profiles in data_dir",
		Long: "Loads businesses/*.yaml and customers/*.yaml from data_dir, starts a protocol\n" +
			"server over a fresh postgres schema and runs every agent until the customers finish.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, a, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.searchAlgorithm, "search-algorithm", string(a.cfg.SearchAlgorithm), "search algorithm: simple, filtered or lexical")
	f.IntVar(&o.searchBandwidth, "search-bandwidth", a.cfg.SearchBandwidth, "businesses returned per search page")
	f.IntVar(&o.maxSteps, "customer-max-steps", a.cfg.CustomerMaxStep, "decision steps per customer before it gives up")
	f.StringVar(&o.name, "experiment-name", "", "experiment schema name (default marketplace_<businesses>_<customers>_<unix time>)")
	o.pg.register(cmd, a.cfg.DatabaseURL)
	f.StringVar(&o.serverHost, "server-host", "127.0.0.1", "protocol server host")
	f.IntVar(&o.serverPort, "server-port", 0, "protocol server port, 0 picks a free one")
	f.BoolVar(&o.override, "override-db", false, "drop an existing experiment with the same name")
	f.BoolVar(&o.export, "export", false, "export the finished experiment to sqlite")
	f.StringVar(&o.exportDir, "export-dir", ".", "directory of the sqlite export")
	f.StringVar(&o.exportFile, "export-filename", "", "file name of the sqlite export (default <experiment>.db)")
	f.BoolVar(&o.strictPayments, "strict-payments", a.cfg.StrictPayments, "reject payments that do not match a received proposal")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, a *app, dataDir string) error {
	ctx := cmd.Context()

	algorithm := domain.SearchAlgorithm(o.searchAlgorithm)
	switch algorithm {
	case domain.SearchSimple, domain.SearchFiltered, domain.SearchLexical:
	default:
		return fmt.Errorf("unsupported --search-algorithm %q: use simple, filtered or lexical", o.searchAlgorithm)
	}

	set, err := profiles.Load(dataDir)
	if err != nil {
		return err
	}
	name := o.name
	if name == "" {
		name = fmt.Sprintf("marketplace_%d_%d_%d", len(set.Businesses), len(set.Customers), time.Now().Unix())
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s: %d businesses, %d customers\n",
		color.CyanString("Experiment"), color.New(color.Bold).Sprint(name), len(set.Businesses), len(set.Customers))

	db, err := o.pg.open(ctx, a, name, o.override, false)
	if err != nil {
		return err
	}
	defer db.Close()

	sum, err := experiment.Run(ctx, db, set, experiment.Config{
		Name: name,
		Host: o.serverHost,
		Port: o.serverPort,
		Server: experiment.ServerConfig{
			StrictPayments:  o.strictPayments,
			AdminToken:      a.cfg.AdminToken,
			RateLimitPerMin: a.cfg.AgentRateLimitPerMin,
			Health:          postgres.NewSchemaHealthChecker(db.pool, name),
			Version:         Version,
			Commit:          Commit,
			BuildDate:       BuildDate,
		},
		Launch: experiment.LaunchConfig{
			SearchAlgorithm:  algorithm,
			SearchBandwidth:  o.searchBandwidth,
			CustomerMaxSteps: o.maxSteps,
			PollInterval:     a.cfg.PollInterval,
			LLM:              a.cfg.LLM,
			LogLevel:         logging.ParseLevel(a.logLevel),
		},
		Export:     o.export,
		ExportDir:  o.exportDir,
		ExportFile: o.exportFile,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	failed := sum.Report.Failed()
	status := color.GreenString("finished")
	if len(failed) > 0 {
		status = color.YellowString("finished with %d failed agents", len(failed))
	}
	fmt.Fprintf(out, "%s %s in %s\n", name, status, sum.Report.Finished.Sub(sum.Report.Started).Round(time.Millisecond))
	if sum.Export != nil {
		fmt.Fprintf(out, "Exported %d agents, %d actions, %d logs to %s\n",
			sum.Export.Agents, sum.Export.Actions, sum.Export.Logs, sum.Export.Path)
	}
	fmt.Fprintf(out, "Analyze with: %s\n", color.CyanString("marketplace analyze %s", name))
	if len(failed) > 0 {
		return fmt.Errorf("%d agents failed", len(failed))
	}
	return nil
}
