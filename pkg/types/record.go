// Package types provides the core domain types for datapack.
package types

// RecordKind identifies a dataset. It is the first segment of every chunk filename.
type RecordKind string

const (
	// KindCollege is the college reference dataset.
	KindCollege RecordKind = "colleges"

	// KindCourse is the course reference dataset.
	KindCourse RecordKind = "courses"

	// KindCutoff is the multi-year, multi-round admission cutoff dataset.
	KindCutoff RecordKind = "cutoffs"
)

// RecordKinds returns every known record kind in planning order.
func RecordKinds() []RecordKind {
	return []RecordKind{KindCollege, KindCourse, KindCutoff}
}

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	switch k {
	case KindCollege, KindCourse, KindCutoff:
		return true
	}
	return false
}

// RoundScoped reports whether records of this kind carry a year and round.
// Reference kinds are delivered as a single immediate chunk per category.
func (k RecordKind) RoundScoped() bool {
	return k == KindCutoff
}

// NoRound is the round (and year) assigned to records that are not round-scoped.
const NoRound = 0

// Record is a read-only domain value reconstructed from a chunk.
// Two records are equal when their RecordID values are equal.
type Record interface {
	// RecordID returns the stable identity of the record.
	RecordID() string

	// Kind returns the dataset the record belongs to.
	Kind() RecordKind

	// SubTag returns the stream tag (e.g. "MEDICAL", "DNB") used by the category policy.
	SubTag() string

	// RecordLevel returns the admission level, or LevelAny for records without one.
	RecordLevel() Level
}

// College is a college reference record.
type College struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	City       string `json:"city,omitempty"`
	Stream     string `json:"stream"`
	Management string `json:"management,omitempty"`
	Seats      int    `json:"seats,omitempty"`
}

func (c College) RecordID() string   { return c.ID }
func (c College) Kind() RecordKind   { return KindCollege }
func (c College) SubTag() string     { return c.Stream }
func (c College) RecordLevel() Level { return LevelAny }

// Course is a course reference record.
type Course struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Stream        string `json:"stream"`
	Level         Level  `json:"level"`
	DurationYears int    `json:"duration_years,omitempty"`
}

func (c Course) RecordID() string   { return c.ID }
func (c Course) Kind() RecordKind   { return KindCourse }
func (c Course) SubTag() string     { return c.Stream }
func (c Course) RecordLevel() Level { return c.Level }

// CutoffRecord is the opening/closing rank of one seat bucket in one counselling round.
type CutoffRecord struct {
	ID           string `json:"id"`
	CollegeID    string `json:"college_id"`
	CourseID     string `json:"course_id"`
	Stream       string `json:"stream"`
	Level        Level  `json:"level"`
	Year         int    `json:"year"`
	Round        int    `json:"round"`
	Quota        string `json:"quota"`
	SeatCategory string `json:"seat_category"`
	OpeningRank  int    `json:"opening_rank"`
	ClosingRank  int    `json:"closing_rank"`
}

func (c CutoffRecord) RecordID() string   { return c.ID }
func (c CutoffRecord) Kind() RecordKind   { return KindCutoff }
func (c CutoffRecord) SubTag() string     { return c.Stream }
func (c CutoffRecord) RecordLevel() Level { return c.Level }

// YearRound returns the year and round of a record, or NoRound for reference kinds.
func YearRound(r Record) (year, round int) {
	if c, ok := r.(CutoffRecord); ok {
		return c.Year, c.Round
	}
	return NoRound, NoRound
}
