package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Folder struct {
	bun.BaseModel `bun:"table:folders,alias:fo" tstype:"-"`

	ID        int       `bun:",pk,autoincrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `bun:",notnull" json:"path"`
}
