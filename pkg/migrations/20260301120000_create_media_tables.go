package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE media (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				original_name TEXT NOT NULL,
				mimetype TEXT NOT NULL,
				filepath TEXT NOT NULL,
				preview TEXT NOT NULL DEFAULT '',
				full_size_jpg TEXT NOT NULL DEFAULT '',
				full_size_jpg_path TEXT NOT NULL DEFAULT '',
				original_date TEXT NOT NULL DEFAULT '-',
				change_date INTEGER NOT NULL,
				keywords TEXT,
				rating INTEGER NOT NULL DEFAULT 0,
				description TEXT NOT NULL DEFAULT '',
				filesize_bytes INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Uniqueness of filepath is enforced by the update coordinator, the
		// index only backs the duplicate-target lookups.
		_, err = db.Exec(`CREATE INDEX ix_media_filepath ON media (filepath)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE folders (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				path TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_folders_path ON folders (path)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`DROP TABLE IF EXISTS folders`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`DROP TABLE IF EXISTS media`)
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
