// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

// acquireTimeout bounds the wait for a pooled connection. Exceeding it is
// reported as domain.ErrTooBusy.
const acquireTimeout = 10 * time.Second

func acquire(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	conn, err := pool.Acquire(acquireCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connection pool exhausted", domain.ErrTooBusy)
		}
		return nil, classify(err)
	}
	return conn, nil
}

// classify maps driver errors onto domain sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %v", domain.ErrDuplicateID, err)
		case strings.HasPrefix(pgErr.Code, "53"), pgErr.Code == "57P03":
			return fmt.Errorf("%w: %v", domain.ErrTooBusy, err)
		}
	}
	return err
}
