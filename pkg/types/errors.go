package types

import "errors"

var (
	// ErrUnknownCategory is returned when a category is outside the closed set.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnknownRecordKind is returned when a record kind is not recognized.
	ErrUnknownRecordKind = errors.New("unknown record kind")
)
