// SPDX-License-Identifier: Apache-2.0

// Package export copies an experiment from the durable backend into a
// portable SQLite file and verifies the copy row by row.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/persistence/sqlite"
	"github.com/adiadia/agent-marketplace/internal/store"
)

// ErrFileExists is returned when the target file is already present.
var ErrFileExists = errors.New("export target already exists")

// ErrMismatch is returned when the copy differs from the source.
var ErrMismatch = errors.New("export verification failed")

type Options struct {
	BatchSize int
	Logger    *slog.Logger
}

// Summary reports the rows copied per table.
type Summary struct {
	Path     string
	Agents   int64
	Actions  int64
	Logs     int64
	Duration time.Duration
}

// Path resolves the target file. An empty file name defaults to
// "<experiment>.db".
func Path(dir, file, experiment string) string {
	if file == "" {
		file = experiment + ".db"
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, file)
}

// Run copies src into a new SQLite file at path. The file must not exist.
// A failed export removes the partial file.
func Run(ctx context.Context, src store.Database, path string, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = store.DefaultBatchSize
	}
	if _, err := os.Stat(path); err == nil {
		return Summary{}, fmt.Errorf("%s: %w", path, ErrFileExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Summary{}, fmt.Errorf("inspect %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Summary{}, fmt.Errorf("create export dir: %w", err)
	}

	start := time.Now()
	dst, err := sqlite.Open(ctx, path, logger)
	if err != nil {
		return Summary{}, err
	}
	sum, err := copyAll(ctx, src, dst, opts.BatchSize)
	dst.Close()
	if err != nil {
		removeFile(path, logger)
		return Summary{}, err
	}
	sum.Path = path
	sum.Duration = time.Since(start)
	logger.Info("experiment exported", "path", path, "agents", sum.Agents, "actions", sum.Actions, "logs", sum.Logs)
	return sum, nil
}

func copyAll(ctx context.Context, src, dst store.Database, batch int) (Summary, error) {
	var sum Summary
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := copyTable(ctx, "agents", src.Agents().GetAll, dst.Agents().CreateMany, batch)
		sum.Agents = n
		return err
	})
	g.Go(func() error {
		n, err := copyTable(ctx, "actions", src.Actions().GetAll, dst.Actions().CreateMany, batch)
		sum.Actions = n
		return err
	})
	g.Go(func() error {
		n, err := copyTable(ctx, "logs", src.Logs().GetAll, dst.Logs().CreateMany, batch)
		sum.Logs = n
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	if err := Verify(ctx, src, dst, batch); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// copyTable pages through the source in index order. Rows keep their id
// and index in the target.
func copyTable[T any](ctx context.Context, name string, get func(context.Context, store.RangeParams) ([]T, error), put func(context.Context, []T, int) error, batch int) (int64, error) {
	var n int64
	for offset := 0; ; offset += batch {
		rows, err := get(ctx, store.RangeParams{Limit: batch, Offset: offset})
		if err != nil {
			return n, fmt.Errorf("read %s: %w", name, err)
		}
		if len(rows) == 0 {
			return n, nil
		}
		if err := put(ctx, rows, batch); err != nil {
			return n, fmt.Errorf("write %s: %w", name, err)
		}
		n += int64(len(rows))
		if len(rows) < batch {
			return n, nil
		}
	}
}

// Verify checks that dst holds the same rows as src: equal counts, then
// the same index and id at every position.
func Verify(ctx context.Context, src, dst store.Database, batch int) error {
	if batch <= 0 {
		batch = store.DefaultBatchSize
	}
	if err := verifyTable(ctx, "agents", src.Agents().Count, dst.Agents().Count, src.Agents().GetAll, dst.Agents().GetAll, agentKey, batch); err != nil {
		return err
	}
	if err := verifyTable(ctx, "actions", src.Actions().Count, dst.Actions().Count, src.Actions().GetAll, dst.Actions().GetAll, actionKey, batch); err != nil {
		return err
	}
	return verifyTable(ctx, "logs", src.Logs().Count, dst.Logs().Count, src.Logs().GetAll, dst.Logs().GetAll, logKey, batch)
}

type rowKey struct {
	index int64
	id    string
}

func agentKey(r domain.AgentRow) rowKey   { return rowKey{r.Index, r.ID} }
func actionKey(r domain.ActionRow) rowKey { return rowKey{r.Index, r.ID} }
func logKey(r domain.LogRow) rowKey       { return rowKey{r.Index, r.ID} }

func verifyTable[T any](
	ctx context.Context,
	name string,
	srcCount, dstCount func(context.Context) (int64, error),
	srcGet, dstGet func(context.Context, store.RangeParams) ([]T, error),
	key func(T) rowKey,
	batch int,
) error {
	want, err := srcCount(ctx)
	if err != nil {
		return fmt.Errorf("count source %s: %w", name, err)
	}
	got, err := dstCount(ctx)
	if err != nil {
		return fmt.Errorf("count exported %s: %w", name, err)
	}
	if want != got {
		return fmt.Errorf("%s: %d rows in source, %d exported: %w", name, want, got, ErrMismatch)
	}

	for offset := 0; int64(offset) < want; offset += batch {
		params := store.RangeParams{Limit: batch, Offset: offset}
		a, err := srcGet(ctx, params)
		if err != nil {
			return fmt.Errorf("read source %s: %w", name, err)
		}
		b, err := dstGet(ctx, params)
		if err != nil {
			return fmt.Errorf("read exported %s: %w", name, err)
		}
		if len(a) != len(b) {
			return fmt.Errorf("%s at offset %d: %d rows in source, %d exported: %w", name, offset, len(a), len(b), ErrMismatch)
		}
		for i := range a {
			ka, kb := key(a[i]), key(b[i])
			if ka.index != kb.index {
				return fmt.Errorf("%s row %d: index %d exported as %d: %w", name, offset+i, ka.index, kb.index, ErrMismatch)
			}
			if ka.id != kb.id {
				return fmt.Errorf("%s row %d: id %s exported as %s: %w", name, offset+i, ka.id, kb.id, ErrMismatch)
			}
		}
	}
	return nil
}

func removeFile(path string, logger *slog.Logger) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove partial export failed", "path", p, "error", err)
		}
	}
}
