package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/photoshelf/photoshelf/pkg/lifecycle"
	"github.com/segmentio/encoding/json"
)

// batchItem is one entry of an update batch file. Absent fields are left
// unchanged.
type batchItem struct {
	ID                string    `json:"id"`
	OriginalName      *string   `json:"original_name"`
	Folder            *string   `json:"folder"`
	Keywords          *[]string `json:"keywords"`
	Rating            *int      `json:"rating"`
	Description       *string   `json:"description"`
	OriginalDate      *string   `json:"original_date"`
	RecreateArtifacts bool      `json:"recreate_artifacts"`
}

func parseBatch(r io.Reader) ([]lifecycle.Update, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var items []batchItem
	if err := dec.Decode(&items); err != nil {
		return nil, errcodes.ValidationError("invalid batch file: " + err.Error())
	}

	updates := make([]lifecycle.Update, 0, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, errcodes.ValidationError("batch entry " + strconv.Itoa(i) + " has no id")
		}
		updates = append(updates, lifecycle.Update{
			ID: id,
			Fields: lifecycle.Fields{
				OriginalName: item.OriginalName,
				Folder:       item.Folder,
				Keywords:     item.Keywords,
				Rating:       item.Rating,
				Description:  item.Description,
				OriginalDate: item.OriginalDate,
			},
			RecreateArtifacts: item.RecreateArtifacts,
		})
	}
	return updates, nil
}
