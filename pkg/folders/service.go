package folders

import (
	"context"
	"database/sql"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type ListFoldersOptions struct {
	Prefix *string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) ListFolders(ctx context.Context, opts ListFoldersOptions) ([]*models.Folder, error) {
	return listFolders(ctx, svc.db, opts)
}

// AddPaths registers every path not yet known and returns the full list.
func (svc *Service) AddPaths(ctx context.Context, paths []string) ([]*models.Folder, error) {
	var folders []*models.Folder
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := AddPathsTx(ctx, tx, paths); err != nil {
			return err
		}
		var err error
		folders, err = listFolders(ctx, tx, ListFoldersOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// AddPathsTx registers paths using db, which is usually a transaction owned by
// the caller. It returns only the paths that were not registered before.
func AddPathsTx(ctx context.Context, db bun.IDB, paths []string) ([]string, error) {
	wanted := map[string]struct{}{}
	for _, p := range paths {
		if n := Normalize(p); n != "" {
			wanted[n] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	list := make([]string, 0, len(wanted))
	for p := range wanted {
		list = append(list, p)
	}
	sort.Strings(list)

	var existing []string
	err := db.NewSelect().
		Model((*models.Folder)(nil)).
		Column("path").
		Where("fo.path IN (?)", bun.In(list)).
		Scan(ctx, &existing)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, p := range existing {
		delete(wanted, p)
	}

	var added []string
	now := time.Now()
	for _, p := range list {
		if _, ok := wanted[p]; !ok {
			continue
		}
		folder := &models.Folder{CreatedAt: now, Path: p}
		_, err := db.NewInsert().
			Model(folder).
			On("CONFLICT (path) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		added = append(added, p)
	}

	return added, nil
}

// Normalize trims slashes and cleans p. The library root normalizes to "".
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	cleaned := strings.Trim(path.Clean("/"+p), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

func listFolders(ctx context.Context, db bun.IDB, opts ListFoldersOptions) ([]*models.Folder, error) {
	var folders []*models.Folder

	q := db.NewSelect().
		Model(&folders).
		Order("fo.path ASC")

	if opts.Prefix != nil && *opts.Prefix != "" {
		prefix := Normalize(*opts.Prefix)
		q = q.Where("fo.path = ? OR fo.path LIKE ?", prefix, prefix+"/%")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return folders, nil
}
