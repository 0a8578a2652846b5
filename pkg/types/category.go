package types

import (
	"fmt"
	"strings"
)

// Category is a user-selectable stream. The set is closed.
type Category string

const (
	CategoryUG        Category = "UG"
	CategoryPGMedical Category = "PG_MEDICAL"
	CategoryPGDental  Category = "PG_DENTAL"
)

// Categories returns the closed category set in a stable order.
func Categories() []Category {
	return []Category{CategoryUG, CategoryPGMedical, CategoryPGDental}
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryUG, CategoryPGMedical, CategoryPGDental:
		return true
	}
	return false
}

// Slug is the lowercase form used in chunk filenames.
func (c Category) Slug() string {
	return strings.ToLower(string(c))
}

// ParseCategory accepts either the canonical or the slug form.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Level is the admission level of a course or cutoff record.
type Level string

const (
	// LevelAny marks records that are not tied to a level (colleges).
	LevelAny Level = ""

	// LevelUG is entry level.
	LevelUG Level = "UG"

	// LevelPG is advanced level.
	LevelPG Level = "PG"
)

// PriorityClass decides when a partition is fetched.
type PriorityClass string

const (
	// PriorityImmediate partitions are fetched eagerly on first load.
	PriorityImmediate PriorityClass = "immediate"

	// PriorityOnDemand partitions are fetched only when explicitly requested.
	PriorityOnDemand PriorityClass = "on-demand"
)

// Valid reports whether p is a known priority class.
func (p PriorityClass) Valid() bool {
	return p == PriorityImmediate || p == PriorityOnDemand
}
