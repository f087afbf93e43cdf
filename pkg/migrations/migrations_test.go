package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestStatusAndRollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	report, err := Status(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Contains(t, report.Unapplied, "20260301120000")
	assert.Equal(t, int64(0), report.LastGroup)

	group, err := BringUpToDate(ctx, db)
	require.NoError(t, err)
	require.NotZero(t, group.ID)

	again, err := BringUpToDate(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, again.ID, "nothing left to apply")

	report, err = Status(ctx, db)
	require.NoError(t, err)
	assert.Contains(t, report.Applied, "20260301120000")
	assert.Empty(t, report.Unapplied)
	assert.Equal(t, group.ID, report.LastGroup)

	rolledBack, err := RollbackLast(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, group.ID, rolledBack.ID)

	report, err = Status(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, report.Applied)

	none, err := RollbackLast(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, none.ID)
}
