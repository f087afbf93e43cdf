package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/photoshelf/photoshelf/pkg/config"
	"github.com/photoshelf/photoshelf/pkg/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileDatabaseRunsMigrations(t *testing.T) {
	cfg := config.NewForTest()
	cfg.DatabaseFilePath = filepath.Join(t.TempDir(), "photoshelf.db")

	db, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = migrations.BringUpToDate(ctx, db)
	require.NoError(t, err)

	var count int
	err = db.NewSelect().Table("media").ColumnExpr("COUNT(*)").Scan(ctx, &count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNew_ConcurrentWritesAreSerialized(t *testing.T) {
	cfg := config.NewForTest()
	cfg.DatabaseFilePath = filepath.Join(t.TempDir(), "concurrency.db")
	cfg.DatabaseMaxRetries = 0

	db, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE writes (id INTEGER PRIMARY KEY AUTOINCREMENT, worker INTEGER NOT NULL)`)
	require.NoError(t, err)

	const workers = 10
	const writesPerWorker = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers*writesPerWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < writesPerWorker; i++ {
				if _, err := db.Exec(`INSERT INTO writes (worker) VALUES (?)`, worker); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected write error: %v", err)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM writes`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, workers*writesPerWorker, count)
}
