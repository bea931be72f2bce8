// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/adiadia/agent-marketplace/internal/experiment"
	"github.com/adiadia/agent-marketplace/internal/persistence/sqlite"
	"github.com/adiadia/agent-marketplace/internal/store"
)

const (
	dbTypePostgres = "postgres"
	dbTypeSQLite   = "sqlite"
)

// postgresFlags override parts of the DATABASE_URL connection string.
type postgresFlags struct {
	url      string
	host     string
	port     int
	user     string
	password string
	database string
	poolMin  int
	poolMax  int
}

func (p *postgresFlags) register(cmd *cobra.Command, defaultURL string) {
	f := cmd.Flags()
	f.StringVar(&p.url, "postgres-url", defaultURL, "postgres connection URL")
	f.StringVar(&p.host, "postgres-host", "", "postgres host, overrides the URL")
	f.IntVar(&p.port, "postgres-port", 0, "postgres port, overrides the URL")
	f.StringVar(&p.user, "postgres-user", "", "postgres user, overrides the URL")
	f.StringVar(&p.password, "postgres-password", os.Getenv("POSTGRES_PASSWORD"), "postgres password, overrides the URL")
	f.StringVar(&p.database, "postgres-database", "", "postgres database, overrides the URL")
	f.IntVar(&p.poolMin, "db-pool-min-size", 2, "minimum postgres pool connections")
	f.IntVar(&p.poolMax, "db-pool-max-size", 10, "maximum postgres pool connections")
}

// connString applies the individual overrides to the base URL.
func (p *postgresFlags) connString() (string, error) {
	u, err := url.Parse(p.url)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	if p.host != "" || p.port != 0 {
		host, port := u.Hostname(), u.Port()
		if p.host != "" {
			host = p.host
		}
		if p.port != 0 {
			port = strconv.Itoa(p.port)
		}
		if port == "" {
			u.Host = host
		} else {
			u.Host = net.JoinHostPort(host, port)
		}
	}
	if p.user != "" || p.password != "" {
		user := u.User.Username()
		if p.user != "" {
			user = p.user
		}
		password, _ := u.User.Password()
		if p.password != "" {
			password = p.password
		}
		if password == "" {
			u.User = url.User(user)
		} else {
			u.User = url.UserPassword(user, password)
		}
	}
	if p.database != "" {
		u.Path = "/" + p.database
	}
	return u.String(), nil
}

func (p *postgresFlags) open(ctx context.Context, a *app, schema string, override, readOnly bool) (*experimentDB, error) {
	conn, err := p.connString()
	if err != nil {
		return nil, err
	}
	db, pool, err := experiment.OpenPostgres(ctx, experiment.PostgresConfig{
		URL:      conn,
		Schema:   schema,
		MinConns: int32(p.poolMin),
		MaxConns: int32(p.poolMax),
		Override: override,
		ReadOnly: readOnly,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}
	return &experimentDB{Database: db, name: schema, pool: pool}, nil
}

// storeFlags select the backend holding a finished experiment.
type storeFlags struct {
	dbType string
	pg     postgresFlags
}

func (s *storeFlags) register(cmd *cobra.Command, defaultURL string) {
	cmd.Flags().StringVar(&s.dbType, "db-type", dbTypePostgres, "experiment backend: postgres or sqlite")
	s.pg.register(cmd, defaultURL)
}

// experimentDB is an opened experiment and the name its output files use.
type experimentDB struct {
	store.Database
	name string
	// pool is set for postgres experiments.
	pool *pgxpool.Pool
}

// open resolves target as a postgres schema or a sqlite file. Existing
// experiments are never modified.
func (s *storeFlags) open(ctx context.Context, a *app, target string) (*experimentDB, error) {
	switch strings.ToLower(s.dbType) {
	case dbTypePostgres:
		return s.pg.open(ctx, a, target, false, true)
	case dbTypeSQLite:
		if _, err := os.Stat(target); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("sqlite database %s not found", target)
			}
			return nil, err
		}
		db, err := sqlite.Open(ctx, target, a.logger)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
		return &experimentDB{Database: db, name: name}, nil
	default:
		return nil, fmt.Errorf("unknown --db-type %q: use %s or %s", s.dbType, dbTypePostgres, dbTypeSQLite)
	}
}
