package artifacts

import (
	"fmt"

	"github.com/photoshelf/photoshelf/pkg/errcodes"
)

// ArtifactGenerationError is returned when a derived file could not be
// produced. Err wraps a *relocator.TargetExistsError when the target was
// occupied.
type ArtifactGenerationError struct {
	ItemID     string
	TargetPath string
	Err        error
}

func (e *ArtifactGenerationError) Error() string {
	if e.TargetPath == "" {
		return fmt.Sprintf("artifact generation failed for %s: %v", e.ItemID, e.Err)
	}
	return fmt.Sprintf("artifact generation failed for %s at %s: %v", e.ItemID, e.TargetPath, e.Err)
}

func (e *ArtifactGenerationError) Unwrap() error {
	return e.Err
}

func (e *ArtifactGenerationError) ErrorCode() *errcodes.Error {
	return errcodes.Failed("artifact_generation_failed", e.Error())
}
