package validator

import (
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestValidate_Normalizes(t *testing.T) {
	rec := catalog.Record{
		ID:        42,
		Title:     "  Moby   Dick;\n Or, The Whale ",
		Languages: []string{"EN", " en", "", "fr"},
		Authors: []catalog.Person{
			{Name: " Melville,  Herman "},
			{Name: "Melville, Herman"},
			{Name: "  "},
		},
	}
	require.NoError(t, Validate(&rec))
	assert.Equal(t, "Moby Dick; Or, The Whale", rec.Title)
	assert.Equal(t, []string{"en", "fr"}, rec.Languages)
	require.Len(t, rec.Authors, 1)
	assert.Equal(t, "Melville, Herman", rec.Authors[0].Name)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		rec   catalog.Record
		field string
	}{
		{"zero id", catalog.Record{Title: "T"}, "id"},
		{"blank title", catalog.Record{ID: 1, Title: "   "}, "title"},
		{"long title", catalog.Record{ID: 1, Title: strings.Repeat("x", 2000)}, "title"},
		{"death before birth", catalog.Record{ID: 1, Title: "T", Authors: []catalog.Person{
			{Name: "A", BirthYear: intp(1900), DeathYear: intp(1800)},
		}}, "authors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidRecord)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}
