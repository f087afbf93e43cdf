// Package relocator moves groups of related files as a unit. Every
// destination of a group is checked before anything moves, so a collision on
// one member leaves all of them where they were.
package relocator

import (
	"context"

	"github.com/photoshelf/photoshelf/pkg/fileutils"
	"github.com/photoshelf/photoshelf/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/sync/errgroup"
)

type Mode int

const (
	// ModeRename renames within a volume and falls back to copy then delete
	// across devices.
	ModeRename Mode = iota
	// ModeCopyDelete copies to the destination and deletes the source.
	ModeCopyDelete
)

func (m Mode) String() string {
	if m == ModeCopyDelete {
		return "copy_delete"
	}
	return "rename"
}

// Move is one member of a group. A Move with an empty Source or Destination,
// or with both equal, has nothing to do.
type Move struct {
	Member      string
	Source      string
	Destination string
	Mode        Mode
}

func (m Move) noop() bool {
	return m.Source == "" || m.Destination == "" || m.Source == m.Destination
}

type Group []Move

type Result struct {
	Moved bool
	// StrayCopy is set when the store reports a complete copy at the
	// destination whose source could not be removed. The copy is left in
	// place for the caller.
	StrayCopy bool
	Err       error
}

// Results are keyed by Move.Member.
type Results map[string]Result

// Moved returns the moves of the group that completed.
func (r Results) Moved(group Group) []Move {
	var moved []Move
	for _, m := range group {
		if r[m.Member].Moved {
			moved = append(moved, m)
		}
	}
	return moved
}

// FileStore is the subset of fileutils.Store the relocator needs.
type FileStore interface {
	Exists(path string) (bool, error)
	Move(src, dst string) error
	CopyThenDelete(src, dst string) error
}

type Relocator struct {
	store       FileStore
	concurrency int
}

func New(store FileStore, concurrency int) *Relocator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Relocator{store: store, concurrency: concurrency}
}

// Relocate checks every destination of the group and, only if none of them is
// occupied, moves every member. A collision returns *TargetExistsError and
// moves nothing. Failed members make it return *PartialMoveError alongside
// the per-member results.
func (r *Relocator) Relocate(ctx context.Context, group Group) (Results, error) {
	log := logger.FromContext(ctx)

	if err := r.checkTargets(ctx, group); err != nil {
		var existsErr *TargetExistsError
		if errors.As(err, &existsErr) {
			metrics.RelocationsTotal.WithLabelValues("collision").Add(float64(len(existsErr.Members)))
			log.Warn("relocation target exists", logger.Data{"members": existsErr.Members, "paths": existsErr.Paths})
		}
		return nil, err
	}

	results := make(Results, len(group))
	outcomes := make([]Result, len(group))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, m := range group {
		if m.noop() {
			continue
		}
		g.Go(func() error {
			outcomes[i] = r.move(m)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, m := range group {
		results[m.Member] = outcomes[i]
		if m.noop() {
			continue
		}
		if outcomes[i].Err != nil {
			failed = append(failed, m.Member)
			metrics.RelocationsTotal.WithLabelValues("failed").Inc()
			log.Err(outcomes[i].Err).Error("relocation failed", logger.Data{
				"member":      m.Member,
				"source":      m.Source,
				"destination": m.Destination,
				"mode":        m.Mode.String(),
			})
			continue
		}
		metrics.RelocationsTotal.WithLabelValues("moved").Inc()
	}

	if len(failed) > 0 {
		return results, &PartialMoveError{Members: failed, Results: results}
	}
	return results, nil
}

func (r *Relocator) checkTargets(ctx context.Context, group Group) error {
	seen := map[string]string{}
	var members, paths []string
	for _, m := range group {
		if m.noop() {
			continue
		}
		// Two members of one group can't land on the same file.
		if other, ok := seen[m.Destination]; ok {
			members = append(members, other, m.Member)
			paths = append(paths, m.Destination, m.Destination)
			continue
		}
		seen[m.Destination] = m.Member
	}
	if len(members) > 0 {
		return &TargetExistsError{Members: members, Paths: paths}
	}

	exists := make([]bool, len(group))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, m := range group {
		if m.noop() {
			continue
		}
		g.Go(func() error {
			ok, err := r.store.Exists(m.Destination)
			if err != nil {
				return errors.Wrapf(err, "checking %s", m.Destination)
			}
			exists[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, m := range group {
		if exists[i] {
			members = append(members, m.Member)
			paths = append(paths, m.Destination)
		}
	}
	if len(members) > 0 {
		return &TargetExistsError{Members: members, Paths: paths}
	}
	return nil
}

func (r *Relocator) move(m Move) Result {
	var err error
	switch m.Mode {
	case ModeCopyDelete:
		err = r.store.CopyThenDelete(m.Source, m.Destination)
	default:
		err = r.store.Move(m.Source, m.Destination)
	}
	if err == nil {
		return Result{Moved: true}
	}

	res := Result{Err: err}
	var removeErr *fileutils.SourceRemoveError
	if errors.As(err, &removeErr) && removeErr.Destination == m.Destination {
		res.StrayCopy = true
	}
	return res
}
