package worker

import (
	"context"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/photoshelf/photoshelf/pkg/lifecycle"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/sync/errgroup"
)

var extensionsToScan = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {},
	".tif": {}, ".tiff": {}, ".heic": {}, ".heif": {},
	".mp4": {}, ".m4v": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".webm": {}, ".3gp": {},
}

// Artifacts stored under the library sit in "<type>-<subtype>/<sizeClass>/".
var artifactDirRE = regexp.MustCompile(`(^|/)(image|video)-[^/]+/(preview|fullSize)(/|$)`)

const lookupChunk = 500

type ScanOptions struct {
	SkipArtifacts bool
}

type ScanResult struct {
	Found    int               `json:"found"`
	Known    int               `json:"known"`
	Imported []string          `json:"imported"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Scan imports every original under the library that has no record yet.
// A file that fails to import is reported in the result and does not stop
// the scan.
func (w *Worker) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	log := logger.FromContext(ctx)
	log.Info("scanning library", logger.Data{"library": w.library})

	found, err := w.walk(ctx)
	if err != nil {
		return nil, err
	}

	fresh, err := w.untracked(ctx, found)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		Found:    len(found),
		Known:    len(found) - len(fresh),
		Imported: []string{},
		Failed:   map[string]string{},
	}
	log.Info("found files to import", logger.Data{"found": result.Found, "new": len(fresh)})

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, rel := range fresh {
		g.Go(func() error {
			m, err := w.importer.Import(ctx, lifecycle.ImportOptions{Path: rel, SkipArtifacts: opts.SkipArtifacts})
			mu.Lock()
			defer mu.Unlock()
			if m != nil {
				result.Imported = append(result.Imported, m.ID)
			}
			if err != nil {
				log.Err(err).Warn("import failed", logger.Data{"path": rel})
				result.Failed[rel] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Imported)
	log.Info("finished scan", logger.Data{"imported": len(result.Imported), "failed": len(result.Failed)})
	return result, nil
}

// walk returns the library-relative paths of every candidate original.
func (w *Worker) walk(ctx context.Context) ([]string, error) {
	log := logger.FromContext(ctx)
	var found []string

	err := filepath.WalkDir(w.library, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.WithStack(err)
		}
		if d.IsDir() {
			if path == w.library {
				return nil
			}
			if _, ok := w.skipDirs[filepath.Clean(path)]; ok || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := extensionsToScan[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		rel, err := filepath.Rel(w.library, path)
		if err != nil {
			return errors.WithStack(err)
		}
		rel = filepath.ToSlash(rel)
		if artifactDirRE.MatchString(rel) {
			log.Debug("skipping artifact", logger.Data{"path": rel})
			return nil
		}
		found = append(found, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (w *Worker) untracked(ctx context.Context, paths []string) ([]string, error) {
	known := map[string]struct{}{}
	for start := 0; start < len(paths); start += lookupChunk {
		end := min(start+lookupChunk, len(paths))
		existing, err := w.records.FindByFilepaths(ctx, paths[start:end])
		if err != nil {
			return nil, err
		}
		for _, m := range existing {
			known[m.Filepath] = struct{}{}
		}
	}

	var fresh []string
	for _, p := range paths {
		if _, ok := known[p]; !ok {
			fresh = append(fresh, p)
		}
	}
	return fresh, nil
}
