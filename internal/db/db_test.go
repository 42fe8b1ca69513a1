package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrate(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "nested", "firehouse.db"))
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn), "migrations must be idempotent")

	for _, table := range []string{"documents", "accounts", "sessions"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
}
