package database

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrations_OnlyUpFilesInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"002_index.up.sql":   {Data: []byte("CREATE INDEX x ON users (email);")},
		"001_users.up.sql":   {Data: []byte("CREATE TABLE users (id TEXT);")},
		"001_users.down.sql": {Data: []byte("DROP TABLE users;")},
		"README.md":          {Data: []byte("docs")},
		"archive/003.up.sql": {Data: []byte("SELECT 1;")},
	}

	names, err := ListMigrations(fsys, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_users.up.sql", "002_index.up.sql"}, names)
}

func TestListMigrations_RepositoryMigrations(t *testing.T) {
	names, err := ListMigrations(os.DirFS("../../migrations"), ".")
	require.NoError(t, err)
	assert.Contains(t, names, "001_users.up.sql")
}
