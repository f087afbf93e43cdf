package media

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/photoshelf/photoshelf/pkg/folders"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveMediaOptions struct {
	ID       *string
	Filepath *string
}

type ListMediaOptions struct {
	IDs            []string
	FilepathPrefix *string
	Limit          *int
	Offset         *int

	includeTotal bool
}

type UpdateMediaOptions struct {
	Columns []string
}

// RecordUpdate is one record to write with the columns that changed.
type RecordUpdate struct {
	Media   *models.Media
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateMedia(ctx context.Context, media *models.Media) error {
	if media.ID == "" {
		media.ID = uuid.NewString()
	}
	now := time.Now()
	if media.CreatedAt.IsZero() {
		media.CreatedAt = now
	}
	media.UpdatedAt = media.CreatedAt
	if media.OriginalDate == "" {
		media.OriginalDate = models.DateUnknown
	}

	_, err := svc.db.
		NewInsert().
		Model(media).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveMedia(ctx context.Context, opts RetrieveMediaOptions) (*models.Media, error) {
	media := &models.Media{}

	q := svc.db.
		NewSelect().
		Model(media)

	if opts.ID != nil {
		q = q.Where("m.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("m.filepath = ?", *opts.Filepath)
	}

	err := q.Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Media")
		}
		return nil, errors.WithStack(err)
	}

	return media, nil
}

func (svc *Service) ListMedia(ctx context.Context, opts ListMediaOptions) ([]*models.Media, error) {
	m, _, err := svc.listMediaWithTotal(ctx, opts)
	return m, errors.WithStack(err)
}

func (svc *Service) ListMediaWithTotal(ctx context.Context, opts ListMediaOptions) ([]*models.Media, int, error) {
	opts.includeTotal = true
	return svc.listMediaWithTotal(ctx, opts)
}

func (svc *Service) listMediaWithTotal(ctx context.Context, opts ListMediaOptions) ([]*models.Media, int, error) {
	var media []*models.Media
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&media).
		Order("m.filepath ASC")

	if len(opts.IDs) > 0 {
		q = q.Where("m.id IN (?)", bun.In(opts.IDs))
	}
	if opts.FilepathPrefix != nil && *opts.FilepathPrefix != "" {
		prefix := folders.Normalize(*opts.FilepathPrefix)
		q = q.Where("m.filepath LIKE ?", prefix+"/%")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return media, total, nil
}

// FindByFilepaths returns every record whose filepath is one of paths.
func (svc *Service) FindByFilepaths(ctx context.Context, paths []string) ([]*models.Media, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var media []*models.Media
	err := svc.db.
		NewSelect().
		Model(&media).
		Where("m.filepath IN (?)", bun.In(paths)).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return media, nil
}

func (svc *Service) UpdateMedia(ctx context.Context, media *models.Media, opts UpdateMediaOptions) error {
	return updateMedia(ctx, svc.db, media, opts.Columns)
}

// ApplyUpdates writes every update and registers newFolders in a single
// transaction. It returns the folders that were not registered before.
func (svc *Service) ApplyUpdates(ctx context.Context, updates []RecordUpdate, newFolders []string) ([]string, error) {
	var added []string
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, u := range updates {
			if err := updateMedia(ctx, tx, u.Media, u.Columns); err != nil {
				return err
			}
		}
		var err error
		added, err = folders.AddPathsTx(ctx, tx, newFolders)
		return err
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func updateMedia(ctx context.Context, db bun.IDB, media *models.Media, columns []string) error {
	if len(columns) == 0 {
		return nil
	}

	media.UpdatedAt = time.Now()
	columns = append(append([]string(nil), columns...), "updated_at")

	res, err := db.
		NewUpdate().
		Model(media).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errcodes.NotFound("Media")
	}
	return nil
}
