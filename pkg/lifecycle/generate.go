package lifecycle

import (
	"context"
	"slices"

	"github.com/photoshelf/photoshelf/pkg/artifacts"
	"github.com/photoshelf/photoshelf/pkg/media"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/robinjoseph08/golib/logger"
)

var artifactColumns = []string{"preview", "full_size_jpg", "full_size_jpg_path"}

// GenerateArtifacts builds the artifacts of one stored record and saves their
// paths. Without opts.Recreate a record that already has a preview is
// returned unchanged.
func (c *Coordinator) GenerateArtifacts(ctx context.Context, id string, opts artifacts.Options) (*models.Media, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"media_id": id})

	m, err := c.Records.RetrieveMedia(ctx, media.RetrieveMediaOptions{ID: &id})
	if err != nil {
		return nil, err
	}
	return c.generateFor(log.WithContext(ctx), m, opts)
}

func (c *Coordinator) generateFor(ctx context.Context, m *models.Media, opts artifacts.Options) (*models.Media, error) {
	log := logger.FromContext(ctx)

	old := []string{
		c.Scheme.Resolve(pathscheme.CategoryPreview, m.Preview),
		c.Scheme.Resolve(pathscheme.CategoryFullSize, m.FullSizeJpg),
	}

	res, err := c.Builder.Generate(ctx, m, opts)
	if err != nil {
		return nil, err
	}
	updated := m.Clone()
	res.Apply(updated)
	if res.Skipped || opts.DontPersist {
		return updated, nil
	}

	_, err = c.Records.ApplyUpdates(ctx, []media.RecordUpdate{{Media: updated, Columns: artifactColumns}}, nil)
	if err != nil {
		// The record still points at the old artifacts.
		for _, p := range res.Created {
			if slices.Contains(old, p) {
				continue
			}
			if rmErr := c.Store.Remove(p); rmErr != nil {
				log.Err(rmErr).Warn("failed to remove unreferenced artifact", logger.Data{"path": p})
			}
		}
		return nil, err
	}

	current := []string{
		c.Scheme.Resolve(pathscheme.CategoryPreview, updated.Preview),
		c.Scheme.Resolve(pathscheme.CategoryFullSize, updated.FullSizeJpg),
	}
	for _, p := range old {
		if p == "" || slices.Contains(current, p) {
			continue
		}
		if err := c.Store.Remove(p); err != nil {
			log.Err(err).Warn("failed to remove superseded artifact", logger.Data{"path": p})
		}
	}
	return updated, nil
}
