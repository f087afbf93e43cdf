// Package lifecycle applies batches of record updates to the media library.
// A batch either commits completely, on disk and in the database, or is
// rolled back from the backups taken before anything changed.
package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/photoshelf/photoshelf/pkg/artifacts"
	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/photoshelf/photoshelf/pkg/media"
	"github.com/photoshelf/photoshelf/pkg/metadata"
	"github.com/photoshelf/photoshelf/pkg/metrics"
	"github.com/photoshelf/photoshelf/pkg/models"
	"github.com/photoshelf/photoshelf/pkg/pathscheme"
	"github.com/photoshelf/photoshelf/pkg/relocator"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/sync/errgroup"
)

// RecordStore is the document store the coordinator reads and writes.
// *media.Service implements it.
type RecordStore interface {
	CreateMedia(ctx context.Context, m *models.Media) error
	RetrieveMedia(ctx context.Context, opts media.RetrieveMediaOptions) (*models.Media, error)
	ListMedia(ctx context.Context, opts media.ListMediaOptions) ([]*models.Media, error)
	FindByFilepaths(ctx context.Context, paths []string) ([]*models.Media, error)
	ApplyUpdates(ctx context.Context, updates []media.RecordUpdate, newFolders []string) ([]string, error)
}

type FileStore interface {
	Exists(path string) (bool, error)
	Copy(src, dst string) error
	Remove(path string) error
	RemoveAll(dir string) error
}

type Relocator interface {
	Relocate(ctx context.Context, group relocator.Group) (relocator.Results, error)
}

type ArtifactGenerator interface {
	Generate(ctx context.Context, m *models.Media, opts artifacts.Options) (*artifacts.Result, error)
}

type Settings struct {
	BackupRoot  string
	Concurrency int
}

type Deps struct {
	Scheme    *pathscheme.Scheme
	Records   RecordStore
	Store     FileStore
	Relocator Relocator
	Builder   ArtifactGenerator
	Rewriter  metadata.Rewriter
	// Reader is optional; imports without it record an unknown date.
	Reader metadata.Reader
}

type Coordinator struct {
	Deps
	settings Settings
}

func NewCoordinator(deps Deps, settings Settings) *Coordinator {
	if settings.Concurrency < 1 {
		settings.Concurrency = 1
	}
	return &Coordinator{Deps: deps, settings: settings}
}

type BatchResult struct {
	BatchID string          `json:"batch_id"`
	Records []*models.Media `json:"records"`
	// NewFolders were registered in the path registry by this batch.
	NewFolders []string `json:"new_folders"`
}

// ApplyBatchUpdate applies every update or none of them. Validation and
// collisions are reported before any file is touched. Once backups start the
// batch ignores cancellation of ctx and runs to commit or rollback.
func (c *Coordinator) ApplyBatchUpdate(ctx context.Context, updates []Update) (*BatchResult, error) {
	batchID := uuid.NewString()
	log := logger.FromContext(ctx).ID(batchID)
	ctx = log.WithContext(ctx)

	result := &BatchResult{BatchID: batchID}
	if len(updates) == 0 {
		return result, nil
	}
	metrics.BatchItems.Observe(float64(len(updates)))

	ids := make([]string, 0, len(updates))
	seen := map[string]struct{}{}
	for _, u := range updates {
		if _, ok := seen[u.ID]; ok {
			metrics.BatchesTotal.WithLabelValues("rejected").Inc()
			return nil, errcodes.ValidationError("media " + u.ID + " appears more than once in the batch")
		}
		seen[u.ID] = struct{}{}
		ids = append(ids, u.ID)
	}

	log.Info("applying batch update", logger.Data{"items": len(updates)})

	plans, err := c.load(ctx, ids, updates)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	start := time.Now()
	err = c.guard(ctx, plans)
	observeStage(StageGuard, start)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("rejected").Inc()
		log.Warn("batch rejected", logger.Data{"error": err.Error()})
		return nil, err
	}

	// From here on the batch always ends in commit or rollback.
	ctx = context.WithoutCancel(ctx)

	start = time.Now()
	set, err := c.backup(ctx, batchID, plans)
	observeStage(StageBackup, start)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("rejected").Inc()
		log.Err(err).Error("backup failed")
		return nil, &StageError{Stage: StageBackup, ItemIDs: ids, Err: err}
	}

	j := &journal{}

	start = time.Now()
	err = c.mutate(ctx, plans, j)
	observeStage(StageMutate, start)
	if err != nil {
		return nil, c.rollback(ctx, set, j, err)
	}

	start = time.Now()
	err = c.refresh(ctx, plans, j)
	observeStage(StageRefresh, start)
	if err != nil {
		return nil, c.rollback(ctx, set, j, err)
	}

	start = time.Now()
	added, err := c.persist(ctx, plans)
	observeStage(StagePersist, start)
	if err != nil {
		return nil, c.rollback(ctx, set, j, &StageError{Stage: StagePersist, ItemIDs: ids, Err: err})
	}

	c.commit(ctx, set, plans)

	for _, p := range plans {
		result.Records = append(result.Records, p.after)
	}
	result.NewFolders = added

	metrics.BatchesTotal.WithLabelValues("committed").Inc()
	log.Info("batch committed", logger.Data{"items": len(plans), "new_folders": added})
	return result, nil
}

func (c *Coordinator) load(ctx context.Context, ids []string, updates []Update) ([]*itemPlan, error) {
	start := time.Now()
	defer observeStage(StageLoad, start)

	records, err := c.Records.ListMedia(ctx, media.ListMediaOptions{IDs: ids})
	if err != nil {
		return nil, &StageError{Stage: StageLoad, ItemIDs: ids, Err: err}
	}
	byID := make(map[string]*models.Media, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &RecordsNotFoundError{IDs: missing}
	}

	plans := make([]*itemPlan, 0, len(updates))
	for _, u := range updates {
		p, err := c.planItem(byID[u.ID], u)
		if err != nil {
			return nil, &StageError{Stage: StageGuard, ItemIDs: []string{u.ID}, Err: err}
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// mutate relocates every item's files and then rewrites embedded metadata at
// the new locations.
func (c *Coordinator) mutate(ctx context.Context, plans []*itemPlan, j *journal) error {
	log := logger.FromContext(ctx)

	failures := make([]error, len(plans))
	g := new(errgroup.Group)
	g.SetLimit(c.settings.Concurrency)
	for i, p := range plans {
		if len(p.moves) == 0 {
			continue
		}
		g.Go(func() error {
			results, err := c.Relocator.Relocate(ctx, p.moves)
			if err != nil {
				var partial *relocator.PartialMoveError
				if errors.As(err, &partial) {
					results = partial.Results
				}
			}
			for _, m := range p.moves {
				if r := results[m.Member]; r.Moved || r.StrayCopy {
					j.add(m.Destination)
				}
			}
			failures[i] = err
			return nil
		})
	}
	_ = g.Wait()

	if err := collectFailures(StageMutate, plans, failures); err != nil {
		return err
	}

	var entries []metadata.Entry
	owners := map[string]string{}
	for _, p := range plans {
		if p.metadata.IsEmpty() {
			continue
		}
		entries = append(entries, metadata.Entry{Path: p.newOriginal, Fields: p.metadata})
		owners[p.newOriginal] = p.before.ID
	}
	if len(entries) == 0 {
		return nil
	}

	if err := c.Rewriter.Rewrite(ctx, entries); err != nil {
		var ids []string
		var rewriteErr *metadata.MetadataRewriteError
		if errors.As(err, &rewriteErr) {
			for path := range rewriteErr.Failures {
				ids = append(ids, owners[path])
			}
			sort.Strings(ids)
		}
		log.Err(err).Error("metadata rewrite failed")
		return &StageError{Stage: StageMutate, ItemIDs: ids, Err: err}
	}
	return nil
}

// refresh regenerates the artifacts of items whose date changed or that asked
// for it.
func (c *Coordinator) refresh(ctx context.Context, plans []*itemPlan, j *journal) error {
	failures := make([]error, len(plans))
	g := new(errgroup.Group)
	g.SetLimit(c.settings.Concurrency)
	for i, p := range plans {
		if !p.regenerate {
			continue
		}
		g.Go(func() error {
			res, err := c.Builder.Generate(ctx, p.after, artifacts.Options{Recreate: true})
			if err != nil {
				failures[i] = err
				return nil
			}
			j.add(res.Created...)
			res.Apply(p.after)

			current := []string{
				c.Scheme.Resolve(pathscheme.CategoryPreview, p.after.Preview),
				c.Scheme.Resolve(pathscheme.CategoryFullSize, p.after.FullSizeJpg),
			}
			for _, old := range p.oldArtifacts {
				if old != current[0] && old != current[1] {
					p.superseded = append(p.superseded, old)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return collectFailures(StageRefresh, plans, failures)
}

func (c *Coordinator) persist(ctx context.Context, plans []*itemPlan) ([]string, error) {
	var updates []media.RecordUpdate
	var newFolders []string
	for _, p := range plans {
		if len(p.columns) > 0 {
			updates = append(updates, media.RecordUpdate{Media: p.after, Columns: p.columns})
		}
		if p.folderChanged {
			newFolders = append(newFolders, p.after.Folder())
		}
	}
	return c.Records.ApplyUpdates(ctx, updates, newFolders)
}

// commit drops the backups and the artifacts replaced by regeneration.
// Failures here only leave extra files behind, so they are logged.
func (c *Coordinator) commit(ctx context.Context, set *backupSet, plans []*itemPlan) {
	log := logger.FromContext(ctx)
	start := time.Now()
	defer observeStage(StageCommit, start)

	if err := c.Store.RemoveAll(set.dir); err != nil {
		log.Err(err).Warn("failed to remove batch backups", logger.Data{"dir": set.dir})
	}
	for _, p := range plans {
		for _, old := range p.superseded {
			if err := c.Store.Remove(old); err != nil {
				log.Err(err).Warn("failed to remove superseded artifact", logger.Data{"path": old, "media_id": p.before.ID})
			}
		}
	}
}

// rollback removes every file the batch created and restores every backup.
// It returns cause when the batch was fully undone, and a
// *RollbackFailedError otherwise.
func (c *Coordinator) rollback(ctx context.Context, set *backupSet, j *journal, cause error) error {
	log := logger.FromContext(ctx)
	log.Err(cause).Error("batch failed, rolling back")

	var failed []error
	created := j.list()
	for i := len(created) - 1; i >= 0; i-- {
		if err := c.Store.Remove(created[i]); err != nil {
			failed = append(failed, err)
			log.Err(err).Error("rollback could not remove file", logger.Data{"path": created[i]})
		}
	}
	for _, e := range set.list() {
		if e.Backup == "" {
			if err := c.Store.Remove(e.Original); err != nil {
				failed = append(failed, err)
				log.Err(err).Error("rollback could not remove file", logger.Data{"path": e.Original})
			}
			continue
		}
		if err := c.Store.Copy(e.Backup, e.Original); err != nil {
			failed = append(failed, err)
			log.Err(err).Error("rollback could not restore file", logger.Data{"path": e.Original, "backup": e.Backup})
		}
	}

	if len(failed) > 0 {
		metrics.BatchesTotal.WithLabelValues("rollback_failed").Inc()
		return &RollbackFailedError{
			Cause:       cause,
			RollbackErr: errors.Wrapf(failed[0], "%d rollback steps failed", len(failed)),
			BackupDir:   set.dir,
		}
	}

	if err := c.Store.RemoveAll(set.dir); err != nil {
		log.Err(err).Warn("failed to remove batch backups after rollback", logger.Data{"dir": set.dir})
	}
	metrics.BatchesTotal.WithLabelValues("rolled_back").Inc()
	log.Info("batch rolled back")
	return cause
}

func collectFailures(stage Stage, plans []*itemPlan, failures []error) error {
	var ids []string
	var first error
	for i, err := range failures {
		if err == nil {
			continue
		}
		ids = append(ids, plans[i].before.ID)
		if first == nil {
			first = err
		}
	}
	if first == nil {
		return nil
	}
	return &StageError{Stage: stage, ItemIDs: ids, Err: first}
}

func observeStage(stage Stage, start time.Time) {
	metrics.BatchStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}
