package lifecycle

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/photoshelf/photoshelf/pkg/errcodes"
)

type Stage string

const (
	StageLoad    Stage = "load"
	StageGuard   Stage = "guard"
	StageBackup  Stage = "backup"
	StageMutate  Stage = "mutate"
	StageRefresh Stage = "refresh"
	StagePersist Stage = "persist"
	StageCommit  Stage = "commit"
)

// RecordsNotFoundError lists requested ids with no stored record. Nothing was
// touched.
type RecordsNotFoundError struct {
	IDs []string
}

func (e *RecordsNotFoundError) Error() string {
	return "media not found: " + strings.Join(e.IDs, ", ")
}

func (e *RecordsNotFoundError) ErrorCode() *errcodes.Error {
	return &errcodes.Error{HTTPCode: http.StatusNotFound, Message: e.Error(), Code: "not_found"}
}

const (
	ConflictDatabase = "database"
	ConflictBatch    = "batch"
	ConflictDisk     = "disk"
)

// Conflict is one target an item can't take. OtherID is set when another
// record holds the target.
type Conflict struct {
	ItemID  string
	Path    string
	Reason  string
	OtherID string
}

// DuplicateTargetError is returned before any file is touched when new paths
// collide with stored records, other items of the batch, or files on disk.
type DuplicateTargetError struct {
	Conflicts []Conflict
}

func (e *DuplicateTargetError) Error() string {
	msgs := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		msgs = append(msgs, fmt.Sprintf("%s -> %s (%s)", c.ItemID, c.Path, c.Reason))
	}
	return "duplicate target: " + strings.Join(msgs, "; ")
}

func (e *DuplicateTargetError) ErrorCode() *errcodes.Error {
	return errcodes.Conflict(e.Error())
}

// StageError reports the stage and items of a failed batch. When it is
// returned every change of the batch has been undone.
type StageError struct {
	Stage   Stage
	ItemIDs []string
	Err     error
}

func (e *StageError) Error() string {
	if len(e.ItemIDs) == 0 {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Stage, strings.Join(e.ItemIDs, ", "), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) ErrorCode() *errcodes.Error {
	return errcodes.FromError(e.Err)
}

// RollbackFailedError means the batch failed and could not be fully undone.
// The backups in BackupDir were kept for manual recovery.
type RollbackFailedError struct {
	Cause       error
	RollbackErr error
	BackupDir   string
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback failed (backups kept in %s): %v; caused by: %v", e.BackupDir, e.RollbackErr, e.Cause)
}

func (e *RollbackFailedError) Unwrap() error {
	return e.Cause
}

func (e *RollbackFailedError) ErrorCode() *errcodes.Error {
	return errcodes.Failed("rollback_failed", e.Error())
}
