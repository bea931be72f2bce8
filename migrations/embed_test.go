// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedEmbeddedMigrations(t *testing.T) {
	files, err := Ordered()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, 1, files[0].Version)
	assert.Equal(t, "001_marketplace.sql", files[0].Name)
	assert.Contains(t, files[0].SQL, "CREATE TABLE IF NOT EXISTS actions")
}

func TestLoadOrdersByVersion(t *testing.T) {
	files, err := load(fstest.MapFS{
		"002_indexes.sql": {Data: []byte("CREATE INDEX i ON logs (row_index);")},
		"001_tables.sql":  {Data: []byte("CREATE TABLE logs (row_index BIGINT);")},
		"README.md":       {Data: []byte("notes")},
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_tables.sql", files[0].Name)
	assert.Equal(t, 2, files[1].Version)
}

func TestLoadRejectsBadMigrations(t *testing.T) {
	cases := []struct {
		name  string
		files fstest.MapFS
		want  string
	}{
		{
			name:  "unnumbered",
			files: fstest.MapFS{"tables.sql": {Data: []byte("SELECT 1;")}},
			want:  "001_description.sql",
		},
		{
			name: "gap",
			files: fstest.MapFS{
				"001_tables.sql":  {Data: []byte("SELECT 1;")},
				"003_indexes.sql": {Data: []byte("SELECT 1;")},
			},
			want: "expected version 002",
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"001_tables.sql": {Data: []byte("SELECT 1;")},
				"001_again.sql":  {Data: []byte("SELECT 1;")},
			},
			want: "expected version 002",
		},
		{
			name:  "empty",
			files: fstest.MapFS{"001_tables.sql": {Data: []byte("  \n")}},
			want:  "is empty",
		},
		{
			name:  "schema qualified",
			files: fstest.MapFS{"001_tables.sql": {Data: []byte("CREATE TABLE public.logs (id TEXT);")}},
			want:  "binds a schema",
		},
		{
			name:  "search path",
			files: fstest.MapFS{"001_tables.sql": {Data: []byte("SET search_path TO other;")}},
			want:  "binds a schema",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(tc.files)
			require.ErrorContains(t, err, tc.want)
		})
	}
}
