package lifecycle

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/sync/errgroup"
)

type backupEntry struct {
	ItemID   string
	Original string
	// Backup is empty when Original did not exist. Rollback then removes
	// whatever the batch left at Original.
	Backup string
}

// backupSet holds the copies taken before a batch mutates anything. It lives
// for one batch only.
type backupSet struct {
	dir string

	mu      sync.Mutex
	entries []backupEntry
}

func (b *backupSet) add(e backupEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
}

func (b *backupSet) list() []backupEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backupEntry(nil), b.entries...)
}

// journal records every file the batch created so rollback can remove them.
type journal struct {
	mu      sync.Mutex
	created []string
}

func (j *journal) add(paths ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, p := range paths {
		if p != "" {
			j.created = append(j.created, p)
		}
	}
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.created...)
}

// backup copies every file the plans are about to change. On failure the
// partial backups are removed.
func (c *Coordinator) backup(ctx context.Context, batchID string, plans []*itemPlan) (*backupSet, error) {
	set := &backupSet{dir: filepath.Join(c.settings.BackupRoot, batchID)}

	type job struct {
		itemID string
		backupSource
	}
	var jobs []job
	seen := map[string]struct{}{}
	for _, p := range plans {
		for _, src := range p.backupSources() {
			if _, ok := seen[src.path]; ok {
				continue
			}
			seen[src.path] = struct{}{}
			jobs = append(jobs, job{p.before.ID, src})
		}
	}

	log := logger.FromContext(ctx)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(c.settings.Concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			exists, err := c.Store.Exists(j.path)
			if err != nil {
				return err
			}
			if !exists {
				if !j.optional {
					return errors.Errorf("%s of %s is missing: %s", j.category, j.itemID, j.path)
				}
				log.Warn("artifact to regenerate is missing", logger.Data{"media_id": j.itemID, "path": j.path})
				set.add(backupEntry{ItemID: j.itemID, Original: j.path})
				return nil
			}
			dst := filepath.Join(set.dir, j.itemID, j.category, filepath.Base(j.path))
			if err := c.Store.Copy(j.path, dst); err != nil {
				return errors.Wrapf(err, "backing up %s", j.path)
			}
			set.add(backupEntry{ItemID: j.itemID, Original: j.path, Backup: dst})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = c.Store.RemoveAll(set.dir)
		return nil, err
	}
	return set, nil
}
