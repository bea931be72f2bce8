// SPDX-License-Identifier: Apache-2.0

// Package migrations holds the SQL applied inside every experiment schema.
// Files are named NNN_description.sql and numbered from 001 without gaps.
// They never name a schema themselves: the pool's search_path selects the
// experiment they run in.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed *.sql
var embeddedFiles embed.FS

var (
	fileNamePattern = regexp.MustCompile(`^(\d{3})_[a-z0-9_]+\.sql$`)
	// schemaBound statements would escape the experiment schema.
	schemaBound = regexp.MustCompile(`(?i)\b(set\s+search_path|create\s+schema|drop\s+schema|public\.)`)
)

type File struct {
	Version int
	Name    string
	SQL     string
}

// Ordered returns the embedded migrations by version.
func Ordered() ([]File, error) {
	return load(embeddedFiles)
}

func load(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("migration %s: name must look like 001_description.sql", entry.Name())
		}
		version, _ := strconv.Atoi(m[1])

		body, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, err
		}
		sql := string(body)
		if strings.TrimSpace(sql) == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}
		if stmt := schemaBound.FindString(sql); stmt != "" {
			return nil, fmt.Errorf("migration %s: %q binds a schema, experiment migrations must stay schema-relative", entry.Name(), stmt)
		}

		files = append(files, File{Version: version, Name: entry.Name(), SQL: sql})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Version < files[j].Version
	})
	for i, f := range files {
		if f.Version != i+1 {
			return nil, fmt.Errorf("migration %s: expected version %03d", f.Name, i+1)
		}
	}

	return files, nil
}
