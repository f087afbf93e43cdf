package relocator

import (
	"fmt"
	"strings"

	"github.com/photoshelf/photoshelf/pkg/errcodes"
)

// TargetExistsError is returned when a destination is already occupied.
// Nothing was moved.
type TargetExistsError struct {
	Members []string
	Paths   []string
}

func (e *TargetExistsError) Error() string {
	return fmt.Sprintf("relocation target already exists: %s", strings.Join(e.Paths, ", "))
}

// PartialMoveError is returned when at least one member of a group failed to
// move after the target check passed. Results tells which members moved.
type PartialMoveError struct {
	Members []string
	Results Results
}

func (e *PartialMoveError) Error() string {
	msgs := make([]string, 0, len(e.Members))
	for _, m := range e.Members {
		if err := e.Results[m].Err; err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", m, err))
		}
	}
	return "relocation failed for " + strings.Join(msgs, "; ")
}

func (e *TargetExistsError) ErrorCode() *errcodes.Error {
	return errcodes.Conflict(e.Error())
}

func (e *PartialMoveError) ErrorCode() *errcodes.Error {
	return errcodes.Failed("partial_move", e.Error())
}
