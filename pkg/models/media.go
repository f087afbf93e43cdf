package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// DateUnknown is stored in OriginalDate when the capture date could not be
// read from the file.
const DateUnknown = "-"

const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

type Media struct {
	bun.BaseModel `bun:"table:media,alias:m" tstype:"-"`

	ID              string    `bun:",pk,nullzero" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	OriginalName    string    `bun:",nullzero" json:"original_name"`
	Mimetype        string    `bun:",nullzero" json:"mimetype"`
	Filepath        string    `bun:",nullzero" json:"filepath"`
	Preview         string    `bun:",notnull" json:"preview"`
	FullSizeJpg     string    `bun:",notnull" json:"full_size_jpg"`
	FullSizeJpgPath string    `bun:",notnull" json:"full_size_jpg_path"`
	OriginalDate    string    `bun:",notnull" json:"original_date"`
	ChangeDate      int64     `bun:",notnull" json:"change_date"`
	Keywords        []string  `json:"keywords"`
	Rating          int       `bun:",notnull" json:"rating"`
	Description     string    `bun:",notnull" json:"description"`
	FilesizeBytes   int64     `bun:",notnull" json:"filesize_bytes"`
}

// PrimaryType returns the part of the mimetype before the slash ("image" for
// "image/heic").
func (m *Media) PrimaryType() string {
	primary, _, _ := strings.Cut(m.Mimetype, "/")
	return primary
}

// Subtype returns the part of the mimetype after the slash ("heic" for
// "image/heic").
func (m *Media) Subtype() string {
	_, sub, _ := strings.Cut(m.Mimetype, "/")
	return sub
}

func (m *Media) IsVideo() bool {
	return m.PrimaryType() == MediaTypeVideo
}

// Folder returns the directory of the original relative to the library root,
// or the empty string for items stored at the root itself.
func (m *Media) Folder() string {
	dir := filepath.Dir(filepath.ToSlash(m.Filepath))
	if dir == "." || dir == "/" {
		return ""
	}
	return strings.TrimPrefix(dir, "/")
}

// Clone returns a copy that can be mutated without affecting the receiver.
func (m *Media) Clone() *Media {
	c := *m
	if m.Keywords != nil {
		c.Keywords = append([]string(nil), m.Keywords...)
	}
	return &c
}
