package main

import (
	"github.com/photoshelf/photoshelf/pkg/artifacts"
	"github.com/photoshelf/photoshelf/pkg/config"
	"github.com/photoshelf/photoshelf/pkg/database"
	"github.com/photoshelf/photoshelf/pkg/fileutils"
	"github.com/photoshelf/photoshelf/pkg/folders"
	"github.com/photoshelf/photoshelf/pkg/imageproc"
	"github.com/photoshelf/photoshelf/pkg/lifecycle"
	"github.com/photoshelf/photoshelf/pkg/media"
	"github.com/photoshelf/photoshelf/pkg/metadata"
	"github.com/photoshelf/photoshelf/pkg/metrics"
	"github.com/photoshelf/photoshelf/pkg/migrations"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/photoshelf/photoshelf/pkg/relocator"
	"github.com/photoshelf/photoshelf/pkg/videothumb"
	"github.com/photoshelf/photoshelf/pkg/worker"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

type env struct {
	cfg     *config.Config
	db      *bun.DB
	coord   *lifecycle.Coordinator
	media   *media.Service
	folders *folders.Service
	worker  *worker.Worker
}

func newEnv(cfg *config.Config, db *bun.DB) (*env, error) {
	scheme, err := pathscheme.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	store := fileutils.NewStore()
	mediaService := media.NewService(db)
	exiftool := metadata.NewExiftool(cfg.ExiftoolPath, cfg.ExternalCallTimeout)
	builder := artifacts.NewBuilder(
		scheme,
		imageproc.New(cfg.FFmpegPath, cfg.ExternalCallTimeout),
		videothumb.New(cfg.FFmpegPath, cfg.ExternalCallTimeout),
		store,
		artifacts.SettingsFromConfig(cfg),
	)

	coord := lifecycle.NewCoordinator(lifecycle.Deps{
		Scheme:    scheme,
		Records:   mediaService,
		Store:     store,
		Relocator: relocator.New(store, cfg.Concurrency),
		Builder:   builder,
		Rewriter:  exiftool,
		Reader:    exiftool,
	}, lifecycle.Settings{
		BackupRoot:  cfg.BackupRoot,
		Concurrency: cfg.Concurrency,
	})

	skip := []string{cfg.TempRoot, cfg.PreviewsRoot, cfg.BackupRoot}
	return &env{
		cfg:     cfg,
		db:      db,
		coord:   coord,
		media:   mediaService,
		folders: folders.NewService(db),
		worker:  worker.New(cfg.LibraryRoot, skip, coord, mediaService, cfg.Concurrency),
	}, nil
}

// withEnv loads the config, opens and migrates the database, and runs fn with
// everything wired. Metrics are written out afterwards when configured.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
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

		group, err := migrations.BringUpToDate(c.Context, db)
		if err != nil {
			return errors.Wrap(err, "failed to migrate database")
		}
		if group.ID != 0 {
			log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
		}

		e, err := newEnv(cfg, db)
		if err != nil {
			return err
		}

		err = fn(c, e)

		if cfg.MetricsTextfile != "" {
			if werr := metrics.WriteTextfile(cfg.MetricsTextfile); werr != nil {
				log.Err(werr).Warn("failed to write metrics textfile", logger.Data{"path": cfg.MetricsTextfile})
			}
		}
		return err
	}
}
