package main

import (
	"strings"
	"testing"

	"github.com/photoshelf/photoshelf/pkg/errcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatch(t *testing.T) {
	updates, err := parseBatch(strings.NewReader(`[
		{"id": "a", "original_name": "b.jpg", "keywords": ["x", "y"], "rating": 3},
		{"id": "c", "folder": "", "recreate_artifacts": true}
	]`))
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, "a", updates[0].ID)
	require.NotNil(t, updates[0].Fields.OriginalName)
	assert.Equal(t, "b.jpg", *updates[0].Fields.OriginalName)
	require.NotNil(t, updates[0].Fields.Keywords)
	assert.Equal(t, []string{"x", "y"}, *updates[0].Fields.Keywords)
	assert.Equal(t, 3, *updates[0].Fields.Rating)
	assert.Nil(t, updates[0].Fields.Folder)
	assert.Nil(t, updates[0].Fields.Description)

	require.NotNil(t, updates[1].Fields.Folder, "an explicit empty folder moves the item to the root")
	assert.Equal(t, "", *updates[1].Fields.Folder)
	assert.True(t, updates[1].RecreateArtifacts)
}

func TestParseBatch_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `nope`},
		{"unknown field", `[{"id": "a", "title": "x"}]`},
		{"missing id", `[{"rating": 1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBatch(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Equal(t, "validation_error", errcodes.FromError(err).Code)
		})
	}
}
