// Package validator normalises catalog records and rejects ones that cannot
// be stored. It returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
)

const (
	maxTitleLength  = 1024
	maxAuthorLength = 255
)

// ValidationError holds per-field failure messages. It matches
// errors.ErrInvalidRecord.
type ValidationError struct {
	BookID int64
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("book %d: %s", e.BookID, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidRecord
}

// Normalize trims text fields, lower-cases language codes and drops
// duplicate or blank languages and authors, in place.
func Normalize(rec *catalog.Record) {
	rec.Title = strings.Join(strings.Fields(rec.Title), " ")

	langs := rec.Languages[:0]
	seen := map[string]struct{}{}
	for _, l := range rec.Languages {
		l = strings.ToLower(strings.TrimSpace(l))
		if _, dup := seen[l]; l == "" || dup {
			continue
		}
		seen[l] = struct{}{}
		langs = append(langs, l)
	}
	rec.Languages = langs

	authors := rec.Authors[:0]
	names := map[string]struct{}{}
	for _, a := range rec.Authors {
		a.Name = strings.Join(strings.Fields(a.Name), " ")
		if _, dup := names[a.Name]; a.Name == "" || dup {
			continue
		}
		names[a.Name] = struct{}{}
		authors = append(authors, a)
	}
	rec.Authors = authors
}

// Validate normalises rec and checks that it can be stored.
func Validate(rec *catalog.Record) error {
	Normalize(rec)
	errs := make(map[string]string)

	if rec.ID <= 0 {
		errs["id"] = "id must be positive"
	}
	if rec.Title == "" {
		errs["title"] = "title is required"
	} else if len(rec.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d bytes", maxTitleLength)
	}
	for _, a := range rec.Authors {
		if len(a.Name) > maxAuthorLength {
			errs["authors"] = fmt.Sprintf("author name must be at most %d bytes", maxAuthorLength)
		}
		if a.BirthYear != nil && a.DeathYear != nil && *a.DeathYear < *a.BirthYear {
			errs["authors"] = fmt.Sprintf("author %q dies before birth", a.Name)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{BookID: rec.ID, Fields: errs}
	}
	return nil
}
