package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// NewMigrator returns a migrator over the registered photoshelf migrations.
func NewMigrator(db *bun.DB) *migrate.Migrator {
	return migrate.NewMigrator(db, Migrations)
}

// BringUpToDate creates the migration tables when needed and applies every
// pending migration as one group.
func BringUpToDate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := NewMigrator(db)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return group, nil
}

type Report struct {
	Applied   []string `json:"applied"`
	Unapplied []string `json:"unapplied"`
	LastGroup int64    `json:"last_group"`
}

// Status lists applied and pending migrations by name.
func Status(ctx context.Context, db *bun.DB) (*Report, error) {
	migrator := NewMigrator(db)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	report := &Report{Applied: []string{}, Unapplied: []string{}, LastGroup: ms.LastGroupID()}
	for _, m := range ms {
		if m.IsApplied() {
			report.Applied = append(report.Applied, m.Name)
		} else {
			report.Unapplied = append(report.Unapplied, m.Name)
		}
	}
	return report, nil
}

// RollbackLast undoes the most recent migration group. A zero group ID means
// there was nothing to roll back.
func RollbackLast(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := NewMigrator(db)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	group, err := migrator.Rollback(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return group, nil
}
