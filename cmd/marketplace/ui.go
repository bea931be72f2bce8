// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/ui"
)

func newUICmd(a *app) *cobra.Command {
	var (
		db   storeFlags
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "ui <experiment>",
		Short: "Browse an experiment's agents, conversations and traces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exp, err := db.open(ctx, a, args[0])
			if err != nil {
				return err
			}
			defer exp.Close()

			addr := net.JoinHostPort(host, strconv.Itoa(port))
			srv := &http.Server{
				Addr:              addr,
				Handler:           ui.NewHandler(exp, ui.Options{Title: exp.name, Logger: a.logger}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at %s (Ctrl+C to stop)\n",
				exp.name, color.CyanString("http://%s", addr))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	db.register(cmd, a.cfg.DatabaseURL)
	cmd.Flags().StringVar(&host, "ui-host", "127.0.0.1", "address the viewer binds to")
	cmd.Flags().IntVar(&port, "ui-port", 5000, "port the viewer listens on")
	return cmd
}
