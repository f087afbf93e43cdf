// Package worker scans the library for originals without a record and imports
// them.
package worker

import (
	"context"
	"path/filepath"

	"github.com/photoshelf/photoshelf/pkg/lifecycle"
	"github.com/photoshelf/photoshelf/pkg/models"
)

type Importer interface {
	Import(ctx context.Context, opts lifecycle.ImportOptions) (*models.Media, error)
}

type RecordLookup interface {
	FindByFilepaths(ctx context.Context, paths []string) ([]*models.Media, error)
}

type Worker struct {
	library     string
	skipDirs    map[string]struct{}
	importer    Importer
	records     RecordLookup
	concurrency int
}

// New returns a worker scanning library. Directories in skipDirs (usually the
// temp, previews and backup roots when they live inside the library) are not
// descended into.
func New(library string, skipDirs []string, importer Importer, records RecordLookup, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	skip := map[string]struct{}{}
	for _, d := range skipDirs {
		if d != "" {
			skip[filepath.Clean(d)] = struct{}{}
		}
	}
	return &Worker{
		library:     filepath.Clean(library),
		skipDirs:    skip,
		importer:    importer,
		records:     records,
		concurrency: concurrency,
	}
}
