package lifecycle

import (
	"context"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/photoshelf/photoshelf/pkg/folders"
	"github.com/photoshelf/photoshelf/pkg/metadata"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/photoshelf/photoshelf/pkg/relocator"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	memberOriginal = "original"
	memberPreview  = "preview"
	memberFullSize = "fullSize"

	maxRating = 5
)

// Fields are the record fields an update may change. Nil leaves a field as
// it is.
type Fields struct {
	OriginalName *string
	// Folder is relative to the library root; "" is the root itself.
	Folder       *string
	Keywords     *[]string
	Rating       *int
	Description  *string
	OriginalDate *string
}

type Update struct {
	ID                string
	Fields            Fields
	RecreateArtifacts bool
}

// itemPlan is everything the batch will do to one item, decided before any
// file is touched.
type itemPlan struct {
	before *models.Media
	after  *models.Media

	columns       []string
	folderChanged bool
	moves         relocator.Group
	metadata      metadata.Fields
	regenerate    bool

	oldOriginal string
	newOriginal string
	// oldArtifacts are the stored artifact files of a regenerated item.
	oldArtifacts []string
	// regenTargets are where regenerated artifacts will be written.
	regenTargets []string
	// superseded are deleted on commit.
	superseded []string
}

func (p *itemPlan) addColumns(cols ...string) {
	for _, c := range cols {
		if !slices.Contains(p.columns, c) {
			p.columns = append(p.columns, c)
		}
	}
}

func (p *itemPlan) originalMoves() bool {
	return p.oldOriginal != p.newOriginal
}

type backupSource struct {
	category string
	path     string
	// optional sources may be absent; a regenerated artifact that is missing
	// on disk has nothing to restore.
	optional bool
}

// backupSources lists the files that must be copied before the item is
// mutated.
func (p *itemPlan) backupSources() []backupSource {
	var sources []backupSource
	if p.originalMoves() || !p.metadata.IsEmpty() {
		sources = append(sources, backupSource{category: memberOriginal, path: p.oldOriginal})
	}
	for _, m := range p.moves {
		if m.Member != memberOriginal && m.Source != "" {
			sources = append(sources, backupSource{category: m.Member, path: m.Source})
		}
	}
	if p.regenerate {
		for i, a := range p.oldArtifacts {
			sources = append(sources, backupSource{category: "artifact-" + strconv.Itoa(i), path: a, optional: true})
		}
	}
	return sources
}

func (c *Coordinator) planItem(before *models.Media, u Update) (*itemPlan, error) {
	after := before.Clone()
	p := &itemPlan{before: before, after: after}
	f := u.Fields

	name := path.Base(before.Filepath)
	folder := before.Folder()

	if f.OriginalName != nil {
		n := strings.TrimSpace(*f.OriginalName)
		if n == "" || n == "." || n == ".." || strings.ContainsAny(n, `/\`) {
			return nil, errcodes.ValidationError("invalid file name " + *f.OriginalName)
		}
		if n != before.OriginalName {
			after.OriginalName = n
			p.addColumns("original_name")
		}
		name = n
	}
	if f.Folder != nil {
		folder = folders.Normalize(*f.Folder)
	}
	if fp := path.Join(folder, name); fp != before.Filepath {
		after.Filepath = fp
		p.addColumns("filepath")
		p.folderChanged = folder != before.Folder()
	}

	if f.Keywords != nil && !slices.Equal(*f.Keywords, before.Keywords) {
		after.Keywords = append([]string{}, *f.Keywords...)
		p.addColumns("keywords")
		p.metadata.Keywords = &after.Keywords
	}
	if f.Rating != nil && *f.Rating != before.Rating {
		if *f.Rating < 0 || *f.Rating > maxRating {
			return nil, errcodes.ValidationError("rating must be between 0 and 5")
		}
		after.Rating = *f.Rating
		p.addColumns("rating")
		p.metadata.Rating = &after.Rating
	}
	if f.Description != nil && *f.Description != before.Description {
		after.Description = *f.Description
		p.addColumns("description")
		p.metadata.Description = &after.Description
	}
	if f.OriginalDate != nil {
		d := strings.TrimSpace(*f.OriginalDate)
		if d == "" {
			d = models.DateUnknown
		}
		if d != models.DateUnknown {
			if _, err := pathscheme.ParseOriginalDate(d); err != nil {
				return nil, errcodes.ValidationError(err.Error())
			}
		}
		if d != before.OriginalDate {
			after.OriginalDate = d
			p.addColumns("original_date")
			p.metadata.OriginalDate = &after.OriginalDate
			p.regenerate = true
		}
	}
	if u.RecreateArtifacts {
		p.regenerate = true
	}

	oldPaths, err := c.Scheme.Compute(pathscheme.InputFromMedia(before))
	if err != nil {
		return nil, err
	}
	newPaths, err := c.Scheme.Compute(pathscheme.InputFromMedia(after))
	if err != nil {
		return nil, err
	}

	p.oldOriginal = oldPaths.Original.FullPath
	p.newOriginal = newPaths.Original.FullPath
	if p.originalMoves() {
		mode := relocator.ModeRename
		if p.folderChanged {
			mode = relocator.ModeCopyDelete
		}
		p.moves = append(p.moves, relocator.Move{
			Member:      memberOriginal,
			Source:      p.oldOriginal,
			Destination: p.newOriginal,
			Mode:        mode,
		})
	}

	if p.regenerate {
		if err := c.planRegeneration(p); err != nil {
			return nil, err
		}
		return p, nil
	}

	if before.Preview != "" && newPaths.Preview.Path != before.Preview {
		p.moves = append(p.moves, relocator.Move{
			Member:      memberPreview,
			Source:      c.Scheme.Resolve(pathscheme.CategoryPreview, before.Preview),
			Destination: newPaths.Preview.FullPath,
		})
		after.Preview = newPaths.Preview.Path
		p.addColumns("preview")
	}
	if before.FullSizeJpg != "" && !newPaths.FullSize.IsZero() && newPaths.FullSize.Path != before.FullSizeJpg {
		p.moves = append(p.moves, relocator.Move{
			Member:      memberFullSize,
			Source:      c.Scheme.Resolve(pathscheme.CategoryFullSize, before.FullSizeJpg),
			Destination: newPaths.FullSize.FullPath,
		})
		after.FullSizeJpg = newPaths.FullSize.Path
		after.FullSizeJpgPath = newPaths.FullSize.FullPath
		p.addColumns("full_size_jpg", "full_size_jpg_path")
	}

	return p, nil
}

// planRegeneration records the artifacts a regenerated item replaces and
// where the new ones will go.
func (c *Coordinator) planRegeneration(p *itemPlan) error {
	if p.before.Preview != "" {
		p.oldArtifacts = append(p.oldArtifacts, c.Scheme.Resolve(pathscheme.CategoryPreview, p.before.Preview))
	}
	if p.before.FullSizeJpg != "" {
		p.oldArtifacts = append(p.oldArtifacts, c.Scheme.Resolve(pathscheme.CategoryFullSize, p.before.FullSizeJpg))
	}

	in := pathscheme.InputFromMedia(p.after)
	in.ThumbnailName = ""
	paths, err := c.Scheme.Compute(in)
	if err != nil {
		return err
	}
	p.regenTargets = append(p.regenTargets, paths.Preview.FullPath)
	if !paths.FullSize.IsZero() {
		p.regenTargets = append(p.regenTargets, paths.FullSize.FullPath)
	}
	p.addColumns("preview", "full_size_jpg", "full_size_jpg_path")
	return nil
}

// guard collects every target of the batch that is already taken by another
// record, by another item of the batch, or by a file on disk.
func (c *Coordinator) guard(ctx context.Context, plans []*itemPlan) error {
	var conflicts []Conflict

	owners := map[string]string{}
	var moving []string
	for _, p := range plans {
		if p.after.Filepath == p.before.Filepath {
			continue
		}
		if other, ok := owners[p.after.Filepath]; ok {
			conflicts = append(conflicts, Conflict{ItemID: p.before.ID, Path: p.after.Filepath, Reason: ConflictBatch, OtherID: other})
			continue
		}
		owners[p.after.Filepath] = p.before.ID
		moving = append(moving, p.after.Filepath)
	}

	existing, err := c.Records.FindByFilepaths(ctx, moving)
	if err != nil {
		return &StageError{Stage: StageGuard, Err: err}
	}
	for _, e := range existing {
		if owner := owners[e.Filepath]; owner != e.ID {
			conflicts = append(conflicts, Conflict{ItemID: owner, Path: e.Filepath, Reason: ConflictDatabase, OtherID: e.ID})
		}
	}

	type target struct {
		itemID, path string
	}
	var targets []target
	for _, p := range plans {
		for _, m := range p.moves {
			targets = append(targets, target{p.before.ID, m.Destination})
		}
		for _, t := range p.regenTargets {
			if !slices.Contains(p.oldArtifacts, t) {
				targets = append(targets, target{p.before.ID, t})
			}
		}
	}

	exists := make([]bool, len(targets))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.settings.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			ok, err := c.Store.Exists(t.path)
			if err != nil {
				return errors.Wrapf(err, "checking %s", t.path)
			}
			exists[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &StageError{Stage: StageGuard, Err: err}
	}
	for i, t := range targets {
		if exists[i] {
			conflicts = append(conflicts, Conflict{ItemID: t.itemID, Path: t.path, Reason: ConflictDisk})
		}
	}

	if len(conflicts) > 0 {
		return &DuplicateTargetError{Conflicts: conflicts}
	}
	return nil
}
