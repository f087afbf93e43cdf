// Package metadata reads and rewrites the embedded metadata (keywords, rating,
// description, capture date) of media files.
package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/photoshelf/photoshelf/pkg/errcodes"
)

// Fields holds the embedded fields to change. Nil means "leave alone".
type Fields struct {
	Keywords     *[]string
	Rating       *int
	Description  *string
	OriginalDate *string
}

func (f Fields) IsEmpty() bool {
	return f.Keywords == nil && f.Rating == nil && f.Description == nil && f.OriginalDate == nil
}

type Entry struct {
	Path   string
	Fields Fields
}

// Info is what Read extracts from a file. OriginalDate is models.DateUnknown
// when the file carries no capture date.
type Info struct {
	OriginalDate string
	Keywords     []string
	Rating       int
	Description  string
}

type Rewriter interface {
	Rewrite(ctx context.Context, entries []Entry) error
}

type Reader interface {
	Read(ctx context.Context, path string) (*Info, error)
}

// MetadataRewriteError collects per-file failures of one Rewrite call.
type MetadataRewriteError struct {
	Failures map[string]error
}

func (e *MetadataRewriteError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for p := range e.Failures {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	msgs := make([]string, 0, len(paths))
	for _, p := range paths {
		msgs = append(msgs, fmt.Sprintf("%s: %v", p, e.Failures[p]))
	}
	return "metadata rewrite failed: " + strings.Join(msgs, "; ")
}

func (e *MetadataRewriteError) ErrorCode() *errcodes.Error {
	return errcodes.Failed("metadata_rewrite_failed", e.Error())
}
