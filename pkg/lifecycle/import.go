package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/photoshelf/photoshelf/pkg/artifacts"
	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

type ImportOptions struct {
	// Path is absolute or relative to the library root. It must lie inside
	// the library.
	Path          string
	SkipArtifacts bool
}

// Import creates the record of a file already in the library and builds its
// artifacts. When artifact generation fails the created record is returned
// together with the error.
func (c *Coordinator) Import(ctx context.Context, opts ImportOptions) (*models.Media, error) {
	rel, full, err := c.libraryPath(opts.Path)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).Data(logger.Data{"filepath": rel})
	ctx = log.WithContext(ctx)

	existing, err := c.Records.FindByFilepaths(ctx, []string{rel})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, errcodes.Conflict(rel + " is already imported as " + existing[0].ID)
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcodes.NotFound("File")
		}
		return nil, errors.WithStack(err)
	}
	if info.IsDir() {
		return nil, errcodes.ValidationError(rel + " is a directory")
	}

	mt, err := mimetype.DetectFile(full)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	mime, _, _ := strings.Cut(mt.String(), ";")
	if !strings.HasPrefix(mime, models.MediaTypeImage+"/") && !strings.HasPrefix(mime, models.MediaTypeVideo+"/") {
		return nil, errcodes.UnsupportedMediaType()
	}

	m := &models.Media{
		OriginalName:  filepath.Base(rel),
		Mimetype:      mime,
		Filepath:      rel,
		OriginalDate:  models.DateUnknown,
		ChangeDate:    info.ModTime().UnixMilli(),
		FilesizeBytes: info.Size(),
	}
	c.readEmbedded(ctx, full, m)

	if err := c.Records.CreateMedia(ctx, m); err != nil {
		return nil, err
	}
	if _, err := c.Records.ApplyUpdates(ctx, nil, []string{m.Folder()}); err != nil {
		return m, err
	}
	log.Info("imported media", logger.Data{"media_id": m.ID, "mimetype": m.Mimetype})

	if opts.SkipArtifacts {
		return m, nil
	}
	updated, err := c.generateFor(ctx, m, artifacts.Options{})
	if err != nil {
		log.Err(err).Warn("artifact generation failed for imported media", logger.Data{"media_id": m.ID})
		return m, err
	}
	return updated, nil
}

// readEmbedded fills m from the file's embedded metadata. Unreadable metadata
// leaves the defaults in place.
func (c *Coordinator) readEmbedded(ctx context.Context, full string, m *models.Media) {
	if c.Reader == nil {
		return
	}
	log := logger.FromContext(ctx)

	info, err := c.Reader.Read(ctx, full)
	if err != nil {
		log.Err(err).Warn("failed to read embedded metadata")
		return
	}
	if info.OriginalDate != "" && info.OriginalDate != models.DateUnknown {
		if _, err := pathscheme.ParseOriginalDate(info.OriginalDate); err == nil {
			m.OriginalDate = info.OriginalDate
		} else {
			log.Debug("ignoring unparseable capture date", logger.Data{"original_date": info.OriginalDate})
		}
	}
	m.Keywords = info.Keywords
	m.Rating = info.Rating
	m.Description = info.Description
}

// libraryPath returns p relative to the library root along with its absolute
// form.
func (c *Coordinator) libraryPath(p string) (string, string, error) {
	root := filepath.Clean(c.Scheme.Roots().Library)
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, p)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errcodes.ValidationError(p + " is not inside the library")
	}
	return filepath.ToSlash(rel), full, nil
}
