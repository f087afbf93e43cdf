package main

import (
	"os"
	"strings"

	"github.com/photoshelf/photoshelf/pkg/config"
	"github.com/photoshelf/photoshelf/pkg/database"
	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/photoshelf/photoshelf/pkg/migrations"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

// withDB opens the database without migrating it.
func withDB(fn func(c *cli.Context, db *bun.DB) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		log := logger.New()
		c.Context = log.WithContext(c.Context)

		cfg, err := config.New()
		if err != nil {
			return err
		}
		db, err := database.New(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to open database")
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Err(err).Error("database close error")
			}
		}()
		return fn(c, db)
	}
}

func groupResult(group *migrate.MigrationGroup) map[string]interface{} {
	names := make([]string, 0, len(group.Migrations))
	for _, m := range group.Migrations {
		names = append(names, m.Name)
	}
	return map[string]interface{}{"group_id": group.ID, "migrations": names}
}

var dbCommand = &cli.Command{
	Name:  "db",
	Usage: "manage the database schema",
	Subcommands: []*cli.Command{
		{
			Name:  "migrate",
			Usage: "apply pending migrations",
			Action: withDB(func(c *cli.Context, db *bun.DB) error {
				group, err := migrations.BringUpToDate(c.Context, db)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, groupResult(group))
			}),
		},
		{
			Name:  "rollback",
			Usage: "roll back the last migration group",
			Action: withDB(func(c *cli.Context, db *bun.DB) error {
				group, err := migrations.RollbackLast(c.Context, db)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, groupResult(group))
			}),
		},
		{
			Name:  "status",
			Usage: "list applied and pending migrations",
			Action: withDB(func(c *cli.Context, db *bun.DB) error {
				report, err := migrations.Status(c.Context, db)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, report)
			}),
		},
		{
			Name:      "create",
			Usage:     "create a Go migration in pkg/migrations",
			ArgsUsage: "NAME...",
			Action: withDB(func(c *cli.Context, db *bun.DB) error {
				name := strings.Join(c.Args().Slice(), "_")
				if name == "" {
					return errcodes.ValidationError("a migration name is required")
				}
				mf, err := migrations.NewMigrator(db).CreateGoMigration(c.Context, name, migrate.WithGoTemplate(migrationTemplate))
				if err != nil {
					return errors.WithStack(err)
				}
				return printJSON(os.Stdout, map[string]string{"name": mf.Name, "path": mf.Path})
			}),
		},
	},
}

const migrationTemplate = `package %s

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
`
