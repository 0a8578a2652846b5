package partition

import (
	"fmt"
	"strings"

	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/pkg/types"
)

// ValidationError represents one problem with a stats entry.
type ValidationError struct {
	Entry   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("entry %d, field %q: %s", e.Entry, e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// ValidateEntry validates a single count entry.
func ValidateEntry(e CountEntry, index int) []*ValidationError {
	var errors []*ValidationError

	if !e.Kind.Valid() {
		errors = append(errors, &ValidationError{
			Entry:   index,
			Field:   "kind",
			Message: fmt.Sprintf("unknown record kind %q", e.Kind),
		})
	}

	if !e.Category.Valid() {
		errors = append(errors, &ValidationError{
			Entry:   index,
			Field:   "category",
			Message: fmt.Sprintf("unknown category %q", e.Category),
		})
	}

	if e.Records < 0 {
		errors = append(errors, &ValidationError{
			Entry:   index,
			Field:   "records",
			Message: fmt.Sprintf("record count must not be negative, got %d", e.Records),
		})
	}

	if e.Kind.Valid() {
		if e.Kind.RoundScoped() {
			if e.Year <= 0 {
				errors = append(errors, &ValidationError{Entry: index, Field: "year", Message: "round-scoped entries need a positive year"})
			}
			if e.Round <= 0 {
				errors = append(errors, &ValidationError{Entry: index, Field: "round", Message: "round-scoped entries need a positive round"})
			}
		} else if e.Year != types.NoRound || e.Round != types.NoRound {
			errors = append(errors, &ValidationError{
				Entry:   index,
				Field:   "round",
				Message: fmt.Sprintf("%s entries carry neither year nor round", e.Kind),
			})
		}
	}

	return errors
}

// ValidateEntries validates every entry plus the cost table.
func (s DatasetStats) ValidateEntries() ValidationErrors {
	var all ValidationErrors

	used := make(map[types.RecordKind]bool)
	for i, e := range s.Entries {
		all = append(all, ValidateEntry(e, i)...)
		if e.Records > 0 {
			used[e.Kind] = true
		}
	}

	for _, kind := range types.RecordKinds() {
		if used[kind] && s.Cost(kind) <= 0 {
			all = append(all, &ValidationError{
				Entry:   -1,
				Field:   "recordCost",
				Message: fmt.Sprintf("per-record cost for %s must be positive", kind),
			})
		}
	}
	for i, y := range s.Years {
		if y <= 0 {
			all = append(all, &ValidationError{Entry: -1, Field: "years", Message: fmt.Sprintf("year %d at index %d must be positive", y, i)})
		}
	}

	return all
}

// Validate returns an INVALID_STATS error when any entry is malformed.
func (s DatasetStats) Validate() error {
	if errs := s.ValidateEntries(); len(errs) > 0 {
		return dperrors.Wrap(dperrors.ErrCategoryPlanning, dperrors.CodeInvalidStats, "invalid dataset stats", errs)
	}
	return nil
}
