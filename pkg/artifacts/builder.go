// Package artifacts builds the derived files of a media item: the preview, the
// full-size JPEG of formats that need one, and video still frames. It never
// touches the database; callers persist the returned paths.
package artifacts

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/photoshelf/photoshelf/pkg/config"
	"github.com/photoshelf/photoshelf/pkg/imageproc"
	"github.com/photoshelf/photoshelf/pkg/metrics"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/photoshelf/photoshelf/pkg/relocator"
	"github.com/photoshelf/photoshelf/pkg/videothumb"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	kindPreview        = "preview"
	kindFullSize       = "full_size"
	kindVideoThumbnail = "video_thumbnail"
)

type Resizer interface {
	Resize(ctx context.Context, src, dst string, dims imageproc.Dimensions, quality int) error
}

type FrameExtractor interface {
	ExtractFrame(ctx context.Context, src, targetDir string, opts videothumb.FrameOptions) (string, error)
}

type FileStore interface {
	Exists(path string) (bool, error)
	Remove(path string) error
}

type Settings struct {
	PreviewDimensions imageproc.Dimensions
	PreviewQuality    int
	FullSizeQuality   int
	VideoTimestamp    time.Duration
	VideoSize         int
	// Timeout bounds each backend call.
	Timeout time.Duration
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PreviewDimensions: imageproc.Dimensions{MaxWidth: cfg.PreviewMaxWidth, MaxHeight: cfg.PreviewMaxHeight},
		PreviewQuality:    cfg.PreviewQuality,
		FullSizeQuality:   cfg.FullSizeQuality,
		VideoTimestamp:    cfg.VideoThumbnailTimestamp,
		VideoSize:         cfg.VideoThumbnailSize,
		Timeout:           cfg.ExternalCallTimeout,
	}
}

type Options struct {
	// Recreate regenerates artifacts even when the record already has a
	// preview, replacing files at the target paths.
	Recreate bool
	// DontPersist marks a transient upload; every path resolves against the
	// temp root.
	DontPersist bool
}

type Result struct {
	Preview         string
	FullSizeJpg     string
	FullSizeJpgPath string
	// Skipped is set when nothing was generated because a preview existed.
	Skipped bool
	// Created lists the absolute paths written by this call.
	Created []string
}

// Apply copies the generated paths onto m.
func (r *Result) Apply(m *models.Media) {
	m.Preview = r.Preview
	m.FullSizeJpg = r.FullSizeJpg
	m.FullSizeJpgPath = r.FullSizeJpgPath
}

type Builder struct {
	scheme    *pathscheme.Scheme
	resizer   Resizer
	extractor FrameExtractor
	store     FileStore
	settings  Settings
}

func NewBuilder(scheme *pathscheme.Scheme, resizer Resizer, extractor FrameExtractor, store FileStore, settings Settings) *Builder {
	return &Builder{
		scheme:    scheme,
		resizer:   resizer,
		extractor: extractor,
		store:     store,
		settings:  settings,
	}
}

// Generate builds whatever artifacts m is missing. A record with a preview is
// skipped without any I/O unless opts.Recreate is set.
func (b *Builder) Generate(ctx context.Context, m *models.Media, opts Options) (*Result, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"media_id": m.ID})

	if m.Preview != "" && !opts.Recreate {
		metrics.ArtifactsSkipped.Inc()
		return &Result{
			Preview:         m.Preview,
			FullSizeJpg:     m.FullSizeJpg,
			FullSizeJpgPath: m.FullSizeJpgPath,
			Skipped:         true,
		}, nil
	}

	scheme := b.scheme
	if opts.DontPersist {
		scheme = scheme.Scratch()
	}

	in := pathscheme.InputFromMedia(m)
	// Fresh frames get a scheme-chosen name.
	in.ThumbnailName = ""
	paths, err := scheme.Compute(in)
	if err != nil {
		return nil, &ArtifactGenerationError{ItemID: m.ID, Err: err}
	}

	targets := []string{paths.Preview.FullPath}
	if !paths.FullSize.IsZero() {
		targets = append(targets, paths.FullSize.FullPath)
	}
	if err := b.prepareTargets(m.ID, targets, opts.Recreate); err != nil {
		return nil, err
	}

	g := &generation{builder: b, itemID: m.ID}
	result, err := g.run(ctx, m, paths)
	if err != nil {
		g.cleanup(ctx)
		return nil, err
	}

	log.Info("generated artifacts", logger.Data{"preview": result.Preview, "full_size": result.FullSizeJpg})
	return result, nil
}

// prepareTargets fails if a target is occupied, or clears it when recreating.
func (b *Builder) prepareTargets(itemID string, targets []string, recreate bool) error {
	for _, target := range targets {
		exists, err := b.store.Exists(target)
		if err != nil {
			return &ArtifactGenerationError{ItemID: itemID, TargetPath: target, Err: err}
		}
		if !exists {
			continue
		}
		if !recreate {
			return &ArtifactGenerationError{
				ItemID:     itemID,
				TargetPath: target,
				Err:        &relocator.TargetExistsError{Members: []string{itemID}, Paths: []string{target}},
			}
		}
		if err := b.store.Remove(target); err != nil {
			return &ArtifactGenerationError{ItemID: itemID, TargetPath: target, Err: err}
		}
	}
	return nil
}

// generation tracks the files written for one item so a failure can remove
// them.
type generation struct {
	builder *Builder
	itemID  string
	created []string
}

func (g *generation) run(ctx context.Context, m *models.Media, paths *pathscheme.Paths) (*Result, error) {
	b := g.builder
	original := paths.Original.FullPath
	result := &Result{}

	switch {
	case m.IsVideo():
		name, err := g.call(ctx, kindVideoThumbnail, paths.Preview.FullPath, func(ctx context.Context) (string, error) {
			return b.extractor.ExtractFrame(ctx, original, filepath.Dir(paths.Preview.FullPath), videothumb.FrameOptions{
				Timestamp: b.settings.VideoTimestamp,
				Size:      b.settings.VideoSize,
				Name:      filepath.Base(paths.Preview.FullPath),
			})
		})
		if err != nil {
			return nil, err
		}
		g.created = append(g.created, filepath.Join(filepath.Dir(paths.Preview.FullPath), name))
		result.Preview = path.Join(path.Dir(paths.Preview.Path), name)

	case !paths.FullSize.IsZero():
		fullSize := paths.FullSize.FullPath
		_, err := g.call(ctx, kindFullSize, fullSize, func(ctx context.Context) (string, error) {
			return "", b.resizer.Resize(ctx, original, fullSize, imageproc.Dimensions{}, b.settings.FullSizeQuality)
		})
		if err != nil {
			return nil, err
		}
		g.created = append(g.created, fullSize)

		// The preview is cut from the full-size JPEG, which every decoder reads.
		_, err = g.call(ctx, kindPreview, paths.Preview.FullPath, func(ctx context.Context) (string, error) {
			return "", b.resizer.Resize(ctx, fullSize, paths.Preview.FullPath, b.settings.PreviewDimensions, b.settings.PreviewQuality)
		})
		if err != nil {
			return nil, err
		}
		g.created = append(g.created, paths.Preview.FullPath)

		result.Preview = paths.Preview.Path
		result.FullSizeJpg = paths.FullSize.Path
		result.FullSizeJpgPath = fullSize

	default:
		_, err := g.call(ctx, kindPreview, paths.Preview.FullPath, func(ctx context.Context) (string, error) {
			return "", b.resizer.Resize(ctx, original, paths.Preview.FullPath, b.settings.PreviewDimensions, b.settings.PreviewQuality)
		})
		if err != nil {
			return nil, err
		}
		g.created = append(g.created, paths.Preview.FullPath)
		result.Preview = paths.Preview.Path
	}

	result.Created = g.created
	return result, nil
}

// call runs one backend operation under the configured timeout and records
// its metrics.
func (g *generation) call(ctx context.Context, kind, target string, fn func(context.Context) (string, error)) (string, error) {
	if t := g.builder.settings.Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	start := time.Now()
	out, err := fn(ctx)
	metrics.ArtifactDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ArtifactErrors.WithLabelValues(kind).Inc()
		if ctx.Err() != nil {
			err = errors.Wrapf(err, "%s %s", kind, ctx.Err())
		}
		return "", &ArtifactGenerationError{ItemID: g.itemID, TargetPath: target, Err: err}
	}
	metrics.ArtifactsGenerated.WithLabelValues(kind).Inc()
	return out, nil
}

func (g *generation) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)
	for _, p := range g.created {
		if err := g.builder.store.Remove(p); err != nil {
			log.Err(err).Warn("failed to remove partial artifact", logger.Data{"path": p})
		}
	}
	g.created = nil
}
